package classify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ContractorHub/EventPulse/internal/models"
)

// mockContextStore implements contextStore for testing.
type mockContextStore struct {
	attendee    *models.Attendee
	attendeeErr error
	records     []models.OutboundRecord
	recordsErr  error
	gotSince    time.Time
	gotLimit    int
}

func (m *mockContextStore) GetAttendee(ctx context.Context, attendeeID string) (*models.Attendee, error) {
	return m.attendee, m.attendeeErr
}

func (m *mockContextStore) ListRecentOutbound(ctx context.Context, attendeeID string, since time.Time, limit int) ([]models.OutboundRecord, error) {
	m.gotSince = since
	m.gotLimit = limit
	return m.records, m.recordsErr
}

func TestResolve_AnnotatesExpectedShapes(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	store := &mockContextStore{
		attendee: &models.Attendee{ID: "att-1", Name: "Dana", Phone: "+15551234567"},
		records: []models.OutboundRecord{
			{ID: "out-1", EventID: "evt-1", Kind: models.KindPCRRequest, SentAt: now.Add(-30 * time.Minute)},
			{ID: "out-2", EventID: "evt-1", Kind: models.KindGeneralReply, SentAt: now.Add(-2 * time.Hour)},
		},
	}
	r := NewResolver(store)
	r.now = func() time.Time { return now }

	cc := r.Resolve(context.Background(), &models.InboundMessage{AttendeeID: "att-1", Phone: "+15551234567", Body: "4"})
	if cc.Attendee.Name != "Dana" {
		t.Errorf("expected attendee snapshot, got %+v", cc.Attendee)
	}
	if len(cc.Outbound) != 2 {
		t.Fatalf("expected 2 outbound records, got %d", len(cc.Outbound))
	}
	if cc.Outbound[0].Expected == nil || cc.Outbound[0].Expected.Shape != models.ShapeNumeric {
		t.Errorf("expected numeric shape on pcr_request record, got %+v", cc.Outbound[0].Expected)
	}
	if cc.Outbound[1].Expected == nil || cc.Outbound[1].Expected.Shape != models.ShapeFreeText {
		t.Errorf("expected free text shape on general reply, got %+v", cc.Outbound[1].Expected)
	}
	if cc.ContextAge != 30*time.Minute {
		t.Errorf("expected 30m context age, got %v", cc.ContextAge)
	}
	if cc.EventID != "evt-1" {
		t.Errorf("expected event id inferred from history, got %q", cc.EventID)
	}
	if store.gotLimit != models.ConversationHistoryLimit {
		t.Errorf("expected history limit %d, got %d", models.ConversationHistoryLimit, store.gotLimit)
	}
	if want := now.Add(-models.ConversationWindowHours * time.Hour); !store.gotSince.Equal(want) {
		t.Errorf("expected since %v, got %v", want, store.gotSince)
	}
}

func TestResolve_DegradesOnStoreErrors(t *testing.T) {
	store := &mockContextStore{
		attendeeErr: errors.New("attendee missing"),
		recordsErr:  errors.New("db down"),
	}
	r := NewResolver(store)
	cc := r.Resolve(context.Background(), &models.InboundMessage{AttendeeID: "att-9", Phone: "+15550000000", Body: "hi"})
	if cc == nil {
		t.Fatal("expected a context even when the store fails")
	}
	if cc.Attendee.ID != "att-9" || cc.Attendee.Phone != "+15550000000" {
		t.Errorf("expected minimal attendee profile, got %+v", cc.Attendee)
	}
	if len(cc.Outbound) != 0 {
		t.Errorf("expected empty history, got %d records", len(cc.Outbound))
	}
}

func TestResolve_EmptyHistory(t *testing.T) {
	store := &mockContextStore{attendee: &models.Attendee{ID: "att-1", Phone: "+15551234567"}}
	r := NewResolver(store)
	cc := r.Resolve(context.Background(), &models.InboundMessage{AttendeeID: "att-1", Phone: "+15551234567", Body: "hello"})
	if cc.MostRecent() != nil {
		t.Error("expected nil most-recent record on empty history")
	}
	if cc.ContextAge != 0 {
		t.Errorf("expected zero context age, got %v", cc.ContextAge)
	}
}
