package outbound

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ContractorHub/EventPulse/internal/models"
	"github.com/ContractorHub/EventPulse/internal/util"
)

// schedulerStore is the storage surface the producer side needs.
type schedulerStore interface {
	InsertScheduled(ctx context.Context, m *models.ScheduledMessage) error
	CancelEventScheduled(ctx context.Context, eventID string) (int64, error)
}

// Scheduler is the producer API for durable outbound messages. It only ever
// inserts pending rows; delivery and terminal transitions belong to the
// worker.
type Scheduler struct {
	store schedulerStore
	now   func() time.Time
}

// NewScheduler creates a message scheduler.
func NewScheduler(st schedulerStore) *Scheduler {
	return &Scheduler{store: st, now: time.Now}
}

// Enqueue validates and persists one scheduled message. Missing ID, status,
// and timestamps are filled in; any status other than pending is rejected.
func (s *Scheduler) Enqueue(ctx context.Context, m *models.ScheduledMessage) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.Status == "" {
		m.Status = models.ScheduledStatusPending
	}
	if m.Status != models.ScheduledStatusPending {
		return models.ErrInvalidStatus
	}
	if m.ID == "" {
		m.ID = util.GenerateMessageID()
	}
	now := s.now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	if err := s.store.InsertScheduled(ctx, m); err != nil {
		return fmt.Errorf("failed to enqueue scheduled message: %w", err)
	}
	slog.Debug("Scheduler enqueued message", "id", m.ID, "kind", m.Kind,
		"attendee_id", m.AttendeeID, "scheduled_time", m.ScheduledTime)
	return nil
}

// ScheduleAt is a convenience producer for one message.
func (s *Scheduler) ScheduleAt(ctx context.Context, attendeeID, eventID string, kind models.MessageKind, at time.Time, content string, payload models.Personalization) (*models.ScheduledMessage, error) {
	m := &models.ScheduledMessage{
		AttendeeID:    attendeeID,
		EventID:       eventID,
		Kind:          kind,
		ScheduledTime: at,
		Content:       content,
		Payload:       payload,
	}
	if err := s.Enqueue(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// CancelEvent cancels every pending message for the event. Rows already in
// a terminal status are untouched.
func (s *Scheduler) CancelEvent(ctx context.Context, eventID string) (int64, error) {
	n, err := s.store.CancelEventScheduled(ctx, eventID)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel event messages: %w", err)
	}
	slog.Info("Scheduler cancelled pending event messages", "event_id", eventID, "count", n)
	return n, nil
}

// CampaignScheduler enqueues recurring campaign messages on cron schedules.
type CampaignScheduler struct {
	cron      *cron.Cron
	scheduler *Scheduler
}

// NewCampaignScheduler creates and starts a cron-backed campaign scheduler.
func NewCampaignScheduler(s *Scheduler) *CampaignScheduler {
	// Standard 5-field cron parser (min, hour, dom, month, dow) with panic recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &CampaignScheduler{cron: c, scheduler: s}
}

// AddCampaign registers a recurring campaign. On every tick the build
// function produces the batch to enqueue; enqueue failures are logged and
// do not stop the schedule.
func (c *CampaignScheduler) AddCampaign(expr string, build func() []*models.ScheduledMessage) error {
	_, err := c.cron.AddFunc(expr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		for _, m := range build() {
			if err := c.scheduler.Enqueue(ctx, m); err != nil {
				slog.Error("Campaign enqueue failed", "error", err, "attendee_id", m.AttendeeID, "kind", m.Kind)
			}
		}
	})
	return err
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (c *CampaignScheduler) Stop() {
	c.cron.Stop()
}
