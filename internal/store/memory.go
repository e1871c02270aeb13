// Package store provides storage backends for EventPulse.
//
// This file implements an in-memory store used by tests and local
// development. It mirrors the transition semantics of the SQL backends.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ContractorHub/EventPulse/internal/models"
)

type pcrKey struct {
	eventID    string
	attendeeID string
	pcrType    models.PCRType
	entityID   string
}

type entityKey struct {
	pcrType  models.PCRType
	entityID string
}

// InMemoryStore is a mutex-guarded Store implementation.
type InMemoryStore struct {
	mu         sync.Mutex
	attendees  map[string]models.Attendee
	outbound   []models.OutboundRecord
	logs       map[string]models.RoutingLog
	logOrder   []string
	pcr        map[pcrKey]models.PCRScore
	aggregates map[entityKey]models.EntityAggregate
	scheduled  map[string]models.ScheduledMessage
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		attendees:  make(map[string]models.Attendee),
		logs:       make(map[string]models.RoutingLog),
		pcr:        make(map[pcrKey]models.PCRScore),
		aggregates: make(map[entityKey]models.EntityAggregate),
		scheduled:  make(map[string]models.ScheduledMessage),
	}
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) UpsertAttendee(ctx context.Context, a *models.Attendee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attendees[a.ID] = *a
	return nil
}

func (s *InMemoryStore) GetAttendee(ctx context.Context, id string) (*models.Attendee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attendees[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (s *InMemoryStore) GetAttendeeByPhone(ctx context.Context, phone string) (*models.Attendee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attendees {
		if a.Phone == phone {
			attendee := a
			return &attendee, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) RecordOutbound(ctx context.Context, rec *models.OutboundRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbound = append(s.outbound, *rec)
	return nil
}

func (s *InMemoryStore) ListRecentOutbound(ctx context.Context, attendeeID string, since time.Time, limit int) ([]models.OutboundRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.OutboundRecord
	for _, rec := range s.outbound {
		if rec.AttendeeID == attendeeID && !rec.SentAt.Before(since) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.After(out[j].SentAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) InsertRoutingLog(ctx context.Context, l *models.RoutingLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[l.ID] = *l
	s.logOrder = append(s.logOrder, l.ID)
	return nil
}

func (s *InMemoryStore) UpdateRoutingOutcome(ctx context.Context, id string, success bool, handlerErr string, responseSent bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[id]
	if !ok {
		return ErrNotFound
	}
	l.HandlerSuccess = &success
	l.HandlerError = handlerErr
	l.ResponseSent = responseSent
	s.logs[id] = l
	return nil
}

func (s *InMemoryStore) ListRoutingLogs(ctx context.Context, eventID string, limit int) ([]models.RoutingLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RoutingLog
	for i := len(s.logOrder) - 1; i >= 0; i-- {
		l := s.logs[s.logOrder[i]]
		if l.EventID == eventID {
			out = append(out, l)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *InMemoryStore) InsertPCRRequest(ctx context.Context, score *models.PCRScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pcrKey{score.EventID, score.AttendeeID, score.PCRType, score.EntityID}
	if existing, ok := s.pcr[key]; ok {
		existing.QuestionAsked = score.QuestionAsked
		existing.RequestedAt = score.RequestedAt
		s.pcr[key] = existing
		return nil
	}
	s.pcr[key] = *score
	return nil
}

func (s *InMemoryStore) UpsertPCRResponse(ctx context.Context, score *models.PCRScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pcrKey{score.EventID, score.AttendeeID, score.PCRType, score.EntityID}
	if existing, ok := s.pcr[key]; ok {
		existing.ExplicitScore = score.ExplicitScore
		existing.SentimentScore = score.SentimentScore
		existing.FinalScore = score.FinalScore
		existing.ResponseText = score.ResponseText
		existing.SentimentJSON = score.SentimentJSON
		existing.Confidence = score.Confidence
		existing.RespondedAt = score.RespondedAt
		s.pcr[key] = existing
		return nil
	}
	s.pcr[key] = *score
	return nil
}

func (s *InMemoryStore) GetPCRScore(ctx context.Context, eventID, attendeeID string, pcrType models.PCRType, entityID string) (*models.PCRScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	score, ok := s.pcr[pcrKey{eventID, attendeeID, pcrType, entityID}]
	if !ok {
		return nil, ErrNotFound
	}
	return &score, nil
}

func (s *InMemoryStore) ListPCRScores(ctx context.Context, eventID string) ([]models.PCRScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PCRScore
	for _, score := range s.pcr {
		if score.EventID == eventID {
			out = append(out, score)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

func (s *InMemoryStore) ComputeEntityAggregate(ctx context.Context, pcrType models.PCRType, entityID string) (*models.EntityAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg := models.EntityAggregate{PCRType: pcrType, EntityID: entityID}
	var sum float64
	for _, score := range s.pcr {
		if score.PCRType == pcrType && score.EntityID == entityID && score.RespondedAt != nil {
			sum += score.FinalScore
			agg.ResponseCount++
		}
	}
	if agg.ResponseCount > 0 {
		agg.AverageScore = sum / float64(agg.ResponseCount)
	}
	return &agg, nil
}

func (s *InMemoryStore) SaveEntityAggregate(ctx context.Context, agg *models.EntityAggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aggregates[entityKey{agg.PCRType, agg.EntityID}] = *agg
	return nil
}

func (s *InMemoryStore) GetEntityAggregate(ctx context.Context, pcrType models.PCRType, entityID string) (*models.EntityAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg, ok := s.aggregates[entityKey{pcrType, entityID}]
	if !ok {
		return nil, ErrNotFound
	}
	return &agg, nil
}

func (s *InMemoryStore) InsertScheduled(ctx context.Context, m *models.ScheduledMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled[m.ID] = *m
	return nil
}

func (s *InMemoryStore) GetScheduled(ctx context.Context, id string) (*models.ScheduledMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.scheduled[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (s *InMemoryStore) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]models.ScheduledMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []models.ScheduledMessage
	for _, m := range s.scheduled {
		if m.Status == models.ScheduledStatusPending && !m.ScheduledTime.After(now) {
			due = append(due, m)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledTime.Before(due[j].ScheduledTime) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *InMemoryStore) MarkScheduledSent(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.scheduled[id]
	if !ok || m.Status != models.ScheduledStatusPending {
		return false, nil
	}
	m.Status = models.ScheduledStatusSent
	m.SentAt = &at
	m.UpdatedAt = at
	m.ErrorDetail = ""
	s.scheduled[id] = m
	return true, nil
}

func (s *InMemoryStore) MarkScheduledFailed(ctx context.Context, id, errDetail string, attempts int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.scheduled[id]
	if !ok || m.Status != models.ScheduledStatusPending {
		return false, nil
	}
	m.Status = models.ScheduledStatusFailed
	m.ErrorDetail = errDetail
	m.Attempts = attempts
	m.UpdatedAt = time.Now().UTC()
	s.scheduled[id] = m
	return true, nil
}

func (s *InMemoryStore) CancelEventScheduled(ctx context.Context, eventID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, m := range s.scheduled {
		if m.EventID == eventID && m.Status == models.ScheduledStatusPending {
			m.Status = models.ScheduledStatusCancelled
			m.UpdatedAt = time.Now().UTC()
			s.scheduled[id] = m
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) ListScheduled(ctx context.Context, eventID string, status models.ScheduledStatus, limit int) ([]models.ScheduledMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ScheduledMessage
	for _, m := range s.scheduled {
		if m.EventID != eventID {
			continue
		}
		if status != "" && m.Status != status {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledTime.Before(out[j].ScheduledTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
