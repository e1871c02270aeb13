package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ContractorHub/EventPulse/internal/models"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "eventpulse.db")
	s, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite_AttendeeAndHistory(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	a := &models.Attendee{ID: "att-1", Name: "Dana", Company: "Acme", Phone: "+15551234567", FocusAreas: []string{"ai"}}
	if err := s.UpsertAttendee(ctx, a); err != nil {
		t.Fatalf("upsert attendee failed: %v", err)
	}
	got, err := s.GetAttendee(ctx, "att-1")
	if err != nil {
		t.Fatalf("get attendee failed: %v", err)
	}
	if got.Company != "Acme" || len(got.FocusAreas) != 1 {
		t.Errorf("unexpected attendee %+v", got)
	}
	byPhone, err := s.GetAttendeeByPhone(ctx, "+15551234567")
	if err != nil || byPhone.ID != "att-1" {
		t.Errorf("phone lookup returned %+v (err %v)", byPhone, err)
	}
	if _, err := s.GetAttendeeByPhone(ctx, "+15550001111"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown phone, got %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	rec := &models.OutboundRecord{
		ID: "out-1", AttendeeID: "att-1", EventID: "evt-1",
		Kind: models.KindSpeakerRecommendation, Body: "Top picks for you",
		Payload: models.Personalization{RecommendedItems: []models.RecommendedItem{
			{Number: 1, EntityID: "spk-1", EntityName: "Keynote"},
		}},
		SentAt: now,
	}
	if err := s.RecordOutbound(ctx, rec); err != nil {
		t.Fatalf("record outbound failed: %v", err)
	}
	records, err := s.ListRecentOutbound(ctx, "att-1", now.Add(-time.Hour), 5)
	if err != nil {
		t.Fatalf("list outbound failed: %v", err)
	}
	if len(records) != 1 || len(records[0].Payload.RecommendedItems) != 1 {
		t.Fatalf("unexpected history %+v", records)
	}
}

func TestSQLite_PCRUpsertConflict(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	requestedAt := time.Now().UTC().Truncate(time.Second)

	req := &models.PCRScore{
		ID: "pcr_1", EventID: "evt-1", AttendeeID: "att-1",
		PCRType: models.PCRTypeSponsor, EntityID: "spn-1",
		QuestionAsked: "How was the booth visit?", RequestedAt: requestedAt,
	}
	if err := s.InsertPCRRequest(ctx, req); err != nil {
		t.Fatalf("insert request failed: %v", err)
	}

	explicit := 5
	respondedAt := requestedAt.Add(time.Minute)
	resp := *req
	resp.ID = "pcr_2" // a fresh ID must still land on the existing row
	resp.ExplicitScore = &explicit
	resp.SentimentScore = 0.9
	resp.FinalScore = 4.8
	resp.ResponseText = "Loved it"
	resp.RespondedAt = &respondedAt
	if err := s.UpsertPCRResponse(ctx, &resp); err != nil {
		t.Fatalf("upsert response failed: %v", err)
	}

	scores, err := s.ListPCRScores(ctx, "evt-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(scores) != 1 {
		t.Fatalf("expected upsert to keep one row, got %d", len(scores))
	}
	if scores[0].ExplicitScore == nil || *scores[0].ExplicitScore != 5 || !scores[0].Responded() {
		t.Errorf("unexpected score %+v", scores[0])
	}

	agg, err := s.ComputeEntityAggregate(ctx, models.PCRTypeSponsor, "spn-1")
	if err != nil {
		t.Fatalf("compute aggregate failed: %v", err)
	}
	if agg.ResponseCount != 1 || agg.AverageScore != 4.8 {
		t.Errorf("unexpected aggregate %+v", agg)
	}
	if err := s.SaveEntityAggregate(ctx, agg); err != nil {
		t.Fatalf("save aggregate failed: %v", err)
	}
	saved, err := s.GetEntityAggregate(ctx, models.PCRTypeSponsor, "spn-1")
	if err != nil || saved.AverageScore != 4.8 {
		t.Errorf("unexpected saved aggregate %+v (err %v)", saved, err)
	}
}

func TestSQLite_ScheduledTransitions(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	m := &models.ScheduledMessage{
		ID: "msg_1", AttendeeID: "att-1", EventID: "evt-1",
		Kind: models.KindPCRRequest, ScheduledTime: now.Add(-time.Minute),
		Status: models.ScheduledStatusPending, CreatedAt: now, UpdatedAt: now,
	}
	if err := s.InsertScheduled(ctx, m); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	due, err := s.ListDueScheduled(ctx, now, 10)
	if err != nil || len(due) != 1 {
		t.Fatalf("expected 1 due row, got %d (err %v)", len(due), err)
	}

	updated, err := s.MarkScheduledFailed(ctx, "msg_1", "gateway timeout", 3)
	if err != nil || !updated {
		t.Fatalf("expected failed transition, got updated=%v err=%v", updated, err)
	}
	updated, err = s.MarkScheduledSent(ctx, "msg_1", now)
	if err != nil {
		t.Fatalf("mark sent errored: %v", err)
	}
	if updated {
		t.Error("terminal failed row must not transition to sent")
	}

	got, err := s.GetScheduled(ctx, "msg_1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != models.ScheduledStatusFailed || got.Attempts != 3 || got.ErrorDetail != "gateway timeout" {
		t.Errorf("unexpected row %+v", got)
	}

	if _, err := s.GetScheduled(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
