package classify

import (
	"context"
	"log/slog"
	"time"

	"github.com/ContractorHub/EventPulse/internal/models"
)

// contextStore is the narrow store surface the resolver reads from.
type contextStore interface {
	GetAttendee(ctx context.Context, attendeeID string) (*models.Attendee, error)
	ListRecentOutbound(ctx context.Context, attendeeID string, since time.Time, limit int) ([]models.OutboundRecord, error)
}

// Resolver rebuilds the short-lived conversation context for one inbound
// message: an attendee snapshot plus the most recent outbound messages in
// the trailing window, newest first, each annotated with its expected reply
// shape.
type Resolver struct {
	store contextStore
	now   func() time.Time
}

// NewResolver creates a context resolver backed by the given store.
func NewResolver(store contextStore) *Resolver {
	return &Resolver{store: store, now: time.Now}
}

// Resolve builds the conversation context. Missing history or a missing
// attendee profile degrades to an empty context rather than failing;
// classification must proceed no matter what the store returns.
func (r *Resolver) Resolve(ctx context.Context, msg *models.InboundMessage) *models.ConversationContext {
	now := r.now()
	cc := &models.ConversationContext{
		Attendee: models.Attendee{ID: msg.AttendeeID, Phone: msg.Phone},
		EventID:  msg.EventID,
	}

	attendee, err := r.store.GetAttendee(ctx, msg.AttendeeID)
	if err != nil {
		slog.Warn("Resolver attendee lookup failed, continuing with minimal profile",
			"attendee_id", msg.AttendeeID, "error", err)
	} else if attendee != nil {
		cc.Attendee = *attendee
	}

	since := now.Add(-models.ConversationWindowHours * time.Hour)
	records, err := r.store.ListRecentOutbound(ctx, msg.AttendeeID, since, models.ConversationHistoryLimit)
	if err != nil {
		slog.Warn("Resolver outbound history lookup failed, continuing with empty context",
			"attendee_id", msg.AttendeeID, "error", err)
		return cc
	}

	for i := range records {
		records[i].Expected = ExpectedFor(records[i].Kind, records[i].Payload)
	}
	cc.Outbound = records
	if recent := cc.MostRecent(); recent != nil {
		cc.ContextAge = now.Sub(recent.SentAt)
		if cc.EventID == "" {
			cc.EventID = recent.EventID
		}
	}
	return cc
}
