package messaging

import (
	"context"
	"sync"
	"time"
)

// SentMessage records one message the simulator "delivered".
type SentMessage struct {
	To   string
	Body string
}

// SimulatorService is an in-process Service implementation for tests and
// local development. Sent messages are recorded; inbound messages are
// injected with InjectResponse.
type SimulatorService struct {
	mu        sync.Mutex
	sent      []SentMessage
	responses chan Inbound
	stopped   bool
	SendErr   error // forced send failure for tests
}

// NewSimulatorService creates an empty simulator.
func NewSimulatorService() *SimulatorService {
	return &SimulatorService{responses: make(chan Inbound, DefaultChannelBufferSize)}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a phone number.
func (s *SimulatorService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(recipient)
}

// Start is a no-op.
func (s *SimulatorService) Start(ctx context.Context) error { return nil }

// Stop closes the responses channel.
func (s *SimulatorService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.responses)
	return nil
}

// SendMessage records the message.
func (s *SimulatorService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrServiceStopped
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	canonicalTo, err := CanonicalizePhone(to)
	if err != nil {
		return err
	}
	s.sent = append(s.sent, SentMessage{To: canonicalTo, Body: body})
	return nil
}

// Responses returns the channel for injected inbound messages.
func (s *SimulatorService) Responses() <-chan Inbound {
	return s.responses
}

// InjectResponse feeds one inbound message into the Responses channel.
func (s *SimulatorService) InjectResponse(from, body string) {
	s.responses <- Inbound{From: from, Body: body, Time: time.Now().Unix()}
}

// Sent returns a copy of all recorded messages.
func (s *SimulatorService) Sent() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SentMessage, len(s.sent))
	copy(out, s.sent)
	return out
}
