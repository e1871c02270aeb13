package dispatch

import "sync"

// attendeeSerializer grants exclusive processing per attendee so two
// messages from the same phone are handled one at a time while different
// attendees proceed in parallel. Entries are reference counted and removed
// once the last holder unlocks.
type attendeeSerializer struct {
	mu    sync.Mutex
	locks map[string]*attendeeLock
}

type attendeeLock struct {
	mu   sync.Mutex
	refs int
}

func newAttendeeSerializer() *attendeeSerializer {
	return &attendeeSerializer{locks: make(map[string]*attendeeLock)}
}

// lock blocks until the attendee slot is free and returns the unlock func.
func (s *attendeeSerializer) lock(attendeeID string) func() {
	s.mu.Lock()
	l, ok := s.locks[attendeeID]
	if !ok {
		l = &attendeeLock{}
		s.locks[attendeeID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, attendeeID)
		}
		s.mu.Unlock()
	}
}
