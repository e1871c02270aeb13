// Package store provides storage backends for EventPulse.
//
// It includes SQLite and PostgreSQL stores behind a shared Store interface,
// plus an in-memory store used in tests. All persistent backends apply their
// embedded migrations on startup.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ContractorHub/EventPulse/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store is the full storage surface the application consumes.
type Store interface {
	// Attendee profiles.
	UpsertAttendee(ctx context.Context, a *models.Attendee) error
	GetAttendee(ctx context.Context, id string) (*models.Attendee, error)
	GetAttendeeByPhone(ctx context.Context, phone string) (*models.Attendee, error)

	// Outbound message history consumed by the context resolver.
	RecordOutbound(ctx context.Context, rec *models.OutboundRecord) error
	ListRecentOutbound(ctx context.Context, attendeeID string, since time.Time, limit int) ([]models.OutboundRecord, error)

	// Routing audit log. Logs are written before dispatch and patched once,
	// best-effort, with the handler outcome.
	InsertRoutingLog(ctx context.Context, l *models.RoutingLog) error
	UpdateRoutingOutcome(ctx context.Context, id string, success bool, handlerErr string, responseSent bool) error
	ListRoutingLogs(ctx context.Context, eventID string, limit int) ([]models.RoutingLog, error)

	// PCR feedback rows. At most one row per
	// (event, attendee, pcr_type, entity); responses land via atomic upsert.
	InsertPCRRequest(ctx context.Context, s *models.PCRScore) error
	UpsertPCRResponse(ctx context.Context, s *models.PCRScore) error
	GetPCRScore(ctx context.Context, eventID, attendeeID string, pcrType models.PCRType, entityID string) (*models.PCRScore, error)
	ListPCRScores(ctx context.Context, eventID string) ([]models.PCRScore, error)
	ComputeEntityAggregate(ctx context.Context, pcrType models.PCRType, entityID string) (*models.EntityAggregate, error)
	SaveEntityAggregate(ctx context.Context, agg *models.EntityAggregate) error
	GetEntityAggregate(ctx context.Context, pcrType models.PCRType, entityID string) (*models.EntityAggregate, error)

	// Scheduled outbound messages. Status transitions only ever leave
	// pending; terminal rows are immutable.
	InsertScheduled(ctx context.Context, m *models.ScheduledMessage) error
	GetScheduled(ctx context.Context, id string) (*models.ScheduledMessage, error)
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]models.ScheduledMessage, error)
	MarkScheduledSent(ctx context.Context, id string, at time.Time) (bool, error)
	MarkScheduledFailed(ctx context.Context, id, errDetail string, attempts int) (bool, error)
	CancelEventScheduled(ctx context.Context, eventID string) (int64, error)
	ListScheduled(ctx context.Context, eventID string, status models.ScheduledStatus, limit int) ([]models.ScheduledMessage, error)

	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option configures a store backend.
type Option func(*Opts)

// WithDSN sets the database DSN.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets a SQLite file path DSN.
func WithSQLiteDSN(path string) Option {
	return func(o *Opts) { o.DSN = path }
}

// WithPostgresDSN sets a PostgreSQL DSN.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType inspects a DSN string and reports the driver it targets:
// "postgres" for URL or key=value PostgreSQL DSNs, "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// Open creates the store matching the DSN type.
func Open(dsn string) (Store, error) {
	if DetectDSNType(dsn) == "postgres" {
		return NewPostgresStore(WithPostgresDSN(dsn))
	}
	return NewSQLiteStore(WithSQLiteDSN(dsn))
}

// New applies the options and opens the store matching the configured DSN.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	return Open(cfg.DSN)
}
