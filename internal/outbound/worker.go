package outbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ContractorHub/EventPulse/internal/messaging"
	"github.com/ContractorHub/EventPulse/internal/models"
	"github.com/ContractorHub/EventPulse/internal/store"
	"github.com/ContractorHub/EventPulse/internal/util"
)

// Worker pool defaults.
const (
	// DefaultWorkerCount is the number of concurrent delivery workers.
	DefaultWorkerCount = 5
	// DefaultPollInterval is how often the poller scans for due rows.
	DefaultPollInterval = 5 * time.Second
	// DefaultBatchSize caps how many due rows one poll picks up.
	DefaultBatchSize = 20
	// DefaultMaxAttempts bounds delivery retries per message.
	DefaultMaxAttempts = 3
	// DefaultGatewayRatePerMinute gates every gateway call.
	DefaultGatewayRatePerMinute = 20
)

// workerStore is the storage surface the delivery worker needs.
type workerStore interface {
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]models.ScheduledMessage, error)
	GetScheduled(ctx context.Context, id string) (*models.ScheduledMessage, error)
	GetAttendee(ctx context.Context, id string) (*models.Attendee, error)
	MarkScheduledSent(ctx context.Context, id string, at time.Time) (bool, error)
	MarkScheduledFailed(ctx context.Context, id, errDetail string, attempts int) (bool, error)
	RecordOutbound(ctx context.Context, rec *models.OutboundRecord) error
}

// WorkerOpts holds configuration options for the delivery worker.
type WorkerOpts struct {
	Workers       int
	PollInterval  time.Duration
	BatchSize     int
	MaxAttempts   int
	RatePerMinute int
	Backoff       func(attempt int) time.Duration
}

// WorkerOption configures the delivery worker.
type WorkerOption func(*WorkerOpts)

// WithWorkers sets the number of concurrent delivery workers.
func WithWorkers(n int) WorkerOption {
	return func(o *WorkerOpts) { o.Workers = n }
}

// WithPollInterval sets the due-row poll interval.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(o *WorkerOpts) { o.PollInterval = d }
}

// WithBatchSize sets the per-poll row cap.
func WithBatchSize(n int) WorkerOption {
	return func(o *WorkerOpts) { o.BatchSize = n }
}

// WithMaxAttempts bounds delivery retries per message.
func WithMaxAttempts(n int) WorkerOption {
	return func(o *WorkerOpts) { o.MaxAttempts = n }
}

// WithRatePerMinute sets the gateway rate limit.
func WithRatePerMinute(n int) WorkerOption {
	return func(o *WorkerOpts) { o.RatePerMinute = n }
}

// WithBackoff overrides the retry backoff schedule.
func WithBackoff(f func(attempt int) time.Duration) WorkerOption {
	return func(o *WorkerOpts) { o.Backoff = f }
}

// Worker polls the store for due pending messages and delivers them through
// the gateway with a pool of consumers. Every gateway call passes the rate
// limiter; failures retry with exponential backoff up to MaxAttempts, then
// the row goes terminal failed.
type Worker struct {
	store       workerStore
	gateway     messaging.Service
	renderer    *Renderer
	limiter     *rate.Limiter
	workers     int
	poll        time.Duration
	batchSize   int
	maxAttempts int
	backoff     func(attempt int) time.Duration
	now         func() time.Time

	mu       sync.Mutex
	inflight map[string]bool

	jobs chan string
	stop chan struct{}
	wg   sync.WaitGroup
}

// NewWorker creates a delivery worker pool.
func NewWorker(st workerStore, gateway messaging.Service, renderer *Renderer, opts ...WorkerOption) *Worker {
	cfg := WorkerOpts{
		Workers:       DefaultWorkerCount,
		PollInterval:  DefaultPollInterval,
		BatchSize:     DefaultBatchSize,
		MaxAttempts:   DefaultMaxAttempts,
		RatePerMinute: DefaultGatewayRatePerMinute,
		Backoff: func(attempt int) time.Duration {
			return time.Duration(30*(1<<attempt)) * time.Second
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{
		store:       st,
		gateway:     gateway,
		renderer:    renderer,
		limiter:     rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), cfg.RatePerMinute),
		workers:     cfg.Workers,
		poll:        cfg.PollInterval,
		batchSize:   cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		now:         time.Now,
		inflight:    make(map[string]bool),
		jobs:        make(chan string),
		stop:        make(chan struct{}),
	}
}

// Start launches the poller and worker pool. It returns immediately.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.consume(ctx)
	}
	w.wg.Add(1)
	go w.pollLoop(ctx)
	slog.Info("Delivery worker started", "workers", w.workers, "poll_interval", w.poll)
}

// Stop shuts the pool down and waits for in-flight deliveries.
func (w *Worker) Stop() {
	close(w.stop)
	w.wg.Wait()
	slog.Info("Delivery worker stopped")
}

func (w *Worker) pollLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	for {
		w.pollOnce(ctx)
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) pollOnce(ctx context.Context) {
	due, err := w.store.ListDueScheduled(ctx, w.now().UTC(), w.batchSize)
	if err != nil {
		slog.Error("Delivery worker poll failed", "error", err)
		return
	}
	for i := range due {
		id := due[i].ID
		if !w.claim(id) {
			continue
		}
		select {
		case w.jobs <- id:
		case <-w.stop:
			w.release(id)
			return
		case <-ctx.Done():
			w.release(id)
			return
		}
	}
}

func (w *Worker) claim(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.inflight[id] {
		return false
	}
	w.inflight[id] = true
	return true
}

func (w *Worker) release(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inflight, id)
}

func (w *Worker) consume(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case id := <-w.jobs:
			w.process(ctx, id)
			w.release(id)
		}
	}
}

// process delivers one scheduled message end to end.
func (w *Worker) process(ctx context.Context, id string) {
	m, err := w.store.GetScheduled(ctx, id)
	if err != nil {
		slog.Error("Delivery worker reload failed", "error", err, "id", id)
		return
	}
	// Rows that went terminal between poll and processing are done already.
	if m.Status.IsTerminal() {
		slog.Debug("Delivery worker skipping terminal row", "id", id, "status", m.Status)
		return
	}

	attendee, err := w.store.GetAttendee(ctx, m.AttendeeID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		w.failTerminal(ctx, m, "attendee not found")
		return
	case err != nil:
		// Transient lookup failure; leave the row pending for the next poll.
		slog.Error("Delivery worker attendee lookup failed", "error", err, "id", id)
		return
	case attendee.Phone == "":
		// No phone means no amount of retrying will deliver this.
		w.failTerminal(ctx, m, "attendee has no deliverable phone number")
		return
	}

	text, err := w.renderer.Render(ctx, m, attendee)
	if err != nil {
		w.failTerminal(ctx, m, fmt.Sprintf("render failed: %v", err))
		return
	}

	units := Split(text)
	if len(units) == 0 {
		w.failTerminal(ctx, m, "rendered message is empty")
		return
	}

	if err := w.deliver(ctx, m, attendee.Phone, units); err != nil {
		return
	}

	sentAt := w.now().UTC()
	updated, err := w.store.MarkScheduledSent(ctx, m.ID, sentAt)
	if err != nil {
		slog.Error("Delivery worker failed to mark sent", "error", err, "id", m.ID)
		return
	}
	if !updated {
		// Someone else finished the row; do not double-record.
		slog.Warn("Delivery worker suppressed duplicate completion", "id", m.ID)
		return
	}

	rec := &models.OutboundRecord{
		ID:         util.GenerateMessageID(),
		AttendeeID: m.AttendeeID,
		EventID:    m.EventID,
		Kind:       m.Kind,
		Body:       text,
		Payload:    m.Payload,
		SentAt:     sentAt,
	}
	if err := w.store.RecordOutbound(ctx, rec); err != nil {
		slog.Error("Delivery worker failed to record outbound history", "error", err, "id", m.ID)
	}
	slog.Info("Delivery worker sent message", "id", m.ID, "kind", m.Kind,
		"attendee_id", m.AttendeeID, "units", len(units))
}

// deliver sends all units through the gateway with bounded retries. Units
// already delivered are not resent on retry.
func (w *Worker) deliver(ctx context.Context, m *models.ScheduledMessage, phone string, units []string) error {
	next := 0
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		var sendErr error
		for next < len(units) {
			if err := w.limiter.Wait(ctx); err != nil {
				return err
			}
			if err := w.gateway.SendMessage(ctx, phone, units[next]); err != nil {
				sendErr = err
				break
			}
			next++
		}
		if sendErr == nil {
			return nil
		}
		if attempt == w.maxAttempts {
			slog.Error("Delivery worker exhausted retries", "id", m.ID,
				"attendee_id", m.AttendeeID, "attempts", attempt, "error", sendErr)
			if _, err := w.store.MarkScheduledFailed(ctx, m.ID, sendErr.Error(), attempt); err != nil {
				slog.Error("Delivery worker failed to mark failed", "error", err, "id", m.ID)
			}
			return sendErr
		}
		delay := w.backoff(attempt)
		slog.Warn("Delivery worker send failed, backing off", "id", m.ID,
			"attempt", attempt, "delay", delay, "error", sendErr)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return fmt.Errorf("worker stopping")
		}
	}
	return nil
}

func (w *Worker) failTerminal(ctx context.Context, m *models.ScheduledMessage, reason string) {
	slog.Error("Delivery worker terminal failure", "id", m.ID, "attendee_id", m.AttendeeID, "reason", reason)
	if _, err := w.store.MarkScheduledFailed(ctx, m.ID, reason, m.Attempts); err != nil {
		slog.Error("Delivery worker failed to mark failed", "error", err, "id", m.ID)
	}
}
