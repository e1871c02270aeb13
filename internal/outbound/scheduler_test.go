package outbound

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ContractorHub/EventPulse/internal/models"
	"github.com/ContractorHub/EventPulse/internal/store"
)

func TestEnqueue_FillsDefaults(t *testing.T) {
	st := store.NewInMemoryStore()
	s := NewScheduler(st)
	m := &models.ScheduledMessage{
		AttendeeID:    "att_1",
		EventID:       "evt_1",
		Kind:          models.KindPCRRequest,
		ScheduledTime: time.Now().Add(time.Hour),
	}

	if err := s.Enqueue(context.Background(), m); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if m.ID == "" {
		t.Error("expected generated ID")
	}
	if m.Status != models.ScheduledStatusPending {
		t.Errorf("expected pending status, got %q", m.Status)
	}
	if m.CreatedAt.IsZero() || m.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be filled")
	}

	got, err := st.GetScheduled(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("GetScheduled failed: %v", err)
	}
	if got.Kind != models.KindPCRRequest {
		t.Errorf("expected persisted kind, got %q", got.Kind)
	}
}

func TestEnqueue_RejectsInvalidMessage(t *testing.T) {
	s := NewScheduler(store.NewInMemoryStore())

	err := s.Enqueue(context.Background(), &models.ScheduledMessage{
		EventID:       "evt_1",
		Kind:          models.KindPCRRequest,
		ScheduledTime: time.Now(),
	})
	if !errors.Is(err, models.ErrEmptyAttendee) {
		t.Errorf("expected ErrEmptyAttendee, got %v", err)
	}

	err = s.Enqueue(context.Background(), &models.ScheduledMessage{
		AttendeeID: "att_1",
		Kind:       models.KindPCRRequest,
	})
	if !errors.Is(err, models.ErrEmptyScheduleTime) {
		t.Errorf("expected ErrEmptyScheduleTime, got %v", err)
	}
}

func TestEnqueue_RejectsNonPendingStatus(t *testing.T) {
	s := NewScheduler(store.NewInMemoryStore())
	m := &models.ScheduledMessage{
		AttendeeID:    "att_1",
		Kind:          models.KindCampaign,
		ScheduledTime: time.Now(),
		Status:        models.ScheduledStatusSent,
	}
	if err := s.Enqueue(context.Background(), m); !errors.Is(err, models.ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestScheduleAt_ReturnsPersistedMessage(t *testing.T) {
	st := store.NewInMemoryStore()
	s := NewScheduler(st)
	at := time.Now().Add(30 * time.Minute)

	m, err := s.ScheduleAt(context.Background(), "att_1", "evt_1", models.KindSpeakerRecommendation,
		at, "", models.Personalization{RecommendedItems: []models.RecommendedItem{{Number: 1, EntityName: "Dana Li"}}})
	if err != nil {
		t.Fatalf("ScheduleAt failed: %v", err)
	}
	got, err := st.GetScheduled(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("GetScheduled failed: %v", err)
	}
	if len(got.Payload.RecommendedItems) != 1 {
		t.Errorf("expected payload to round-trip, got %+v", got.Payload)
	}
}

func TestCancelEvent_OnlyPendingRows(t *testing.T) {
	st := store.NewInMemoryStore()
	s := NewScheduler(st)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := s.ScheduleAt(ctx, "att_1", "evt_1", models.KindCampaign,
			time.Now().Add(time.Hour), "reminder", models.Personalization{}); err != nil {
			t.Fatalf("ScheduleAt failed: %v", err)
		}
	}
	sentMsg, err := s.ScheduleAt(ctx, "att_2", "evt_1", models.KindCampaign,
		time.Now().Add(-time.Minute), "already out", models.Personalization{})
	if err != nil {
		t.Fatalf("ScheduleAt failed: %v", err)
	}
	if _, err := st.MarkScheduledSent(ctx, sentMsg.ID, time.Now()); err != nil {
		t.Fatalf("MarkScheduledSent failed: %v", err)
	}

	n, err := s.CancelEvent(ctx, "evt_1")
	if err != nil {
		t.Fatalf("CancelEvent failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 cancelled rows, got %d", n)
	}
	got, err := st.GetScheduled(ctx, sentMsg.ID)
	if err != nil {
		t.Fatalf("GetScheduled failed: %v", err)
	}
	if got.Status != models.ScheduledStatusSent {
		t.Errorf("sent row should be untouched, got %q", got.Status)
	}
}
