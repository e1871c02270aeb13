// Package store provides storage backends for EventPulse.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/ContractorHub/EventPulse/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants.
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres store ready")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) UpsertAttendee(ctx context.Context, a *models.Attendee) error {
	focusAreas, err := marshalJSON(a.FocusAreas)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO attendees (id, name, company, phone, focus_areas)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name=excluded.name, company=excluded.company,
			phone=excluded.phone, focus_areas=excluded.focus_areas`,
		a.ID, nilIfEmpty(a.Name), nilIfEmpty(a.Company), a.Phone, focusAreas)
	if err != nil {
		slog.Error("PostgresStore UpsertAttendee failed", "error", err, "attendee_id", a.ID)
		return fmt.Errorf("failed to upsert attendee %s: %w", a.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetAttendee(ctx context.Context, id string) (*models.Attendee, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, company, phone, focus_areas FROM attendees WHERE id = $1`, id)
	a, err := scanAttendee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetAttendee failed", "error", err, "attendee_id", id)
		return nil, fmt.Errorf("failed to get attendee %s: %w", id, err)
	}
	return a, nil
}

func (s *PostgresStore) GetAttendeeByPhone(ctx context.Context, phone string) (*models.Attendee, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, company, phone, focus_areas FROM attendees WHERE phone = $1`, phone)
	a, err := scanAttendee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetAttendeeByPhone failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to get attendee by phone: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) RecordOutbound(ctx context.Context, rec *models.OutboundRecord) error {
	payload, err := marshalJSON(rec.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO event_messages (id, attendee_id, event_id, kind, body, payload, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.AttendeeID, nilIfEmpty(rec.EventID), rec.Kind, nilIfEmpty(rec.Body), payload, rec.SentAt)
	if err != nil {
		slog.Error("PostgresStore RecordOutbound failed", "error", err, "id", rec.ID)
		return fmt.Errorf("failed to record outbound message %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListRecentOutbound(ctx context.Context, attendeeID string, since time.Time, limit int) ([]models.OutboundRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, event_id, kind, body, payload, sent_at
		FROM event_messages WHERE attendee_id = $1 AND sent_at >= $2
		ORDER BY sent_at DESC LIMIT $3`, attendeeID, since, limit)
	if err != nil {
		slog.Error("PostgresStore ListRecentOutbound query failed", "error", err, "attendee_id", attendeeID)
		return nil, fmt.Errorf("failed to query outbound history: %w", err)
	}
	defer rows.Close()

	var records []models.OutboundRecord
	for rows.Next() {
		rec, err := scanOutboundRecord(rows)
		if err != nil {
			return nil, err
		}
		rec.AttendeeID = attendeeID
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *PostgresStore) InsertRoutingLog(ctx context.Context, l *models.RoutingLog) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO routing_logs
		(id, attendee_id, event_id, inbound_body, phone, intent, route, confidence, layer, reasoning, processing_ms, response_sent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		l.ID, l.AttendeeID, nilIfEmpty(l.EventID), l.InboundBody, nilIfEmpty(l.Phone),
		nilIfEmpty(l.Intent), l.Route, l.Confidence, l.Layer, nilIfEmpty(l.Reasoning),
		l.ProcessingMs, l.ResponseSent, l.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore InsertRoutingLog failed", "error", err, "id", l.ID)
		return fmt.Errorf("failed to insert routing log %s: %w", l.ID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateRoutingOutcome(ctx context.Context, id string, success bool, handlerErr string, responseSent bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE routing_logs
		SET handler_success = $1, handler_error = $2, response_sent = $3
		WHERE id = $4`, success, nilIfEmpty(handlerErr), responseSent, id)
	if err != nil {
		slog.Error("PostgresStore UpdateRoutingOutcome failed", "error", err, "id", id)
		return fmt.Errorf("failed to update routing outcome %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) ListRoutingLogs(ctx context.Context, eventID string, limit int) ([]models.RoutingLog, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, attendee_id, event_id, inbound_body, phone, intent, route,
			confidence, layer, reasoning, processing_ms, handler_success, handler_error, response_sent, created_at
		FROM routing_logs WHERE event_id = $1 ORDER BY created_at DESC LIMIT $2`, eventID, limit)
	if err != nil {
		slog.Error("PostgresStore ListRoutingLogs query failed", "error", err, "event_id", eventID)
		return nil, fmt.Errorf("failed to query routing logs: %w", err)
	}
	defer rows.Close()

	var logs []models.RoutingLog
	for rows.Next() {
		l, err := scanRoutingLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *PostgresStore) InsertPCRRequest(ctx context.Context, score *models.PCRScore) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO pcr_scores
		(id, event_id, attendee_id, pcr_type, entity_id, entity_name, question_asked, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id, attendee_id, pcr_type, entity_id) DO UPDATE SET
			question_asked = excluded.question_asked,
			requested_at = excluded.requested_at`,
		score.ID, score.EventID, score.AttendeeID, score.PCRType, score.EntityID,
		nilIfEmpty(score.EntityName), nilIfEmpty(score.QuestionAsked), score.RequestedAt)
	if err != nil {
		slog.Error("PostgresStore InsertPCRRequest failed", "error", err, "id", score.ID)
		return fmt.Errorf("failed to insert PCR request %s: %w", score.ID, err)
	}
	return nil
}

func (s *PostgresStore) UpsertPCRResponse(ctx context.Context, score *models.PCRScore) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO pcr_scores
		(id, event_id, attendee_id, pcr_type, entity_id, entity_name, question_asked,
		 explicit_score, sentiment_score, final_score, response_text, sentiment_json, confidence,
		 requested_at, responded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (event_id, attendee_id, pcr_type, entity_id) DO UPDATE SET
			explicit_score = excluded.explicit_score,
			sentiment_score = excluded.sentiment_score,
			final_score = excluded.final_score,
			response_text = excluded.response_text,
			sentiment_json = excluded.sentiment_json,
			confidence = excluded.confidence,
			responded_at = excluded.responded_at`,
		score.ID, score.EventID, score.AttendeeID, score.PCRType, score.EntityID,
		nilIfEmpty(score.EntityName), nilIfEmpty(score.QuestionAsked),
		nullableInt(score.ExplicitScore), score.SentimentScore, score.FinalScore,
		nilIfEmpty(score.ResponseText), nilIfEmpty(score.SentimentJSON), score.Confidence,
		score.RequestedAt, nullableTime(score.RespondedAt))
	if err != nil {
		slog.Error("PostgresStore UpsertPCRResponse failed", "error", err, "id", score.ID)
		return fmt.Errorf("failed to upsert PCR response %s: %w", score.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetPCRScore(ctx context.Context, eventID, attendeeID string, pcrType models.PCRType, entityID string) (*models.PCRScore, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pcrColumns+` FROM pcr_scores
		WHERE event_id = $1 AND attendee_id = $2 AND pcr_type = $3 AND entity_id = $4`,
		eventID, attendeeID, pcrType, entityID)
	score, err := scanPCRScore(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &score, nil
}

func (s *PostgresStore) ListPCRScores(ctx context.Context, eventID string) ([]models.PCRScore, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+pcrColumns+` FROM pcr_scores
		WHERE event_id = $1 ORDER BY requested_at`, eventID)
	if err != nil {
		slog.Error("PostgresStore ListPCRScores query failed", "error", err, "event_id", eventID)
		return nil, fmt.Errorf("failed to query PCR scores: %w", err)
	}
	defer rows.Close()

	var scores []models.PCRScore
	for rows.Next() {
		score, err := scanPCRScore(rows)
		if err != nil {
			return nil, err
		}
		scores = append(scores, score)
	}
	return scores, rows.Err()
}

func (s *PostgresStore) ComputeEntityAggregate(ctx context.Context, pcrType models.PCRType, entityID string) (*models.EntityAggregate, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(AVG(final_score), 0), COUNT(*)
		FROM pcr_scores WHERE pcr_type = $1 AND entity_id = $2 AND responded_at IS NOT NULL`,
		pcrType, entityID)
	agg := models.EntityAggregate{PCRType: pcrType, EntityID: entityID}
	if err := row.Scan(&agg.AverageScore, &agg.ResponseCount); err != nil {
		slog.Error("PostgresStore ComputeEntityAggregate failed", "error", err, "entity_id", entityID)
		return nil, fmt.Errorf("failed to compute aggregate for %s: %w", entityID, err)
	}
	return &agg, nil
}

func (s *PostgresStore) SaveEntityAggregate(ctx context.Context, agg *models.EntityAggregate) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO rated_entities (pcr_type, entity_id, average_score, response_count, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (pcr_type, entity_id) DO UPDATE SET
			average_score = excluded.average_score,
			response_count = excluded.response_count,
			updated_at = excluded.updated_at`,
		agg.PCRType, agg.EntityID, agg.AverageScore, agg.ResponseCount, time.Now().UTC())
	if err != nil {
		slog.Error("PostgresStore SaveEntityAggregate failed", "error", err, "entity_id", agg.EntityID)
		return fmt.Errorf("failed to save aggregate for %s: %w", agg.EntityID, err)
	}
	return nil
}

func (s *PostgresStore) GetEntityAggregate(ctx context.Context, pcrType models.PCRType, entityID string) (*models.EntityAggregate, error) {
	row := s.db.QueryRowContext(ctx, `SELECT pcr_type, entity_id, average_score, response_count
		FROM rated_entities WHERE pcr_type = $1 AND entity_id = $2`, pcrType, entityID)
	var agg models.EntityAggregate
	err := row.Scan(&agg.PCRType, &agg.EntityID, &agg.AverageScore, &agg.ResponseCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get aggregate for %s: %w", entityID, err)
	}
	return &agg, nil
}

func (s *PostgresStore) InsertScheduled(ctx context.Context, m *models.ScheduledMessage) error {
	payload, err := marshalJSON(m.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO scheduled_messages
		(id, attendee_id, event_id, kind, scheduled_time, content, payload, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		m.ID, m.AttendeeID, nilIfEmpty(m.EventID), m.Kind, m.ScheduledTime,
		nilIfEmpty(m.Content), payload, m.Status, m.Attempts, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore InsertScheduled failed", "error", err, "id", m.ID)
		return fmt.Errorf("failed to insert scheduled message %s: %w", m.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetScheduled(ctx context.Context, id string) (*models.ScheduledMessage, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduledColumns+` FROM scheduled_messages WHERE id = $1`, id)
	m, err := scanScheduled(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]models.ScheduledMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scheduledColumns+` FROM scheduled_messages
		WHERE status = $1 AND scheduled_time <= $2
		ORDER BY scheduled_time LIMIT $3`, models.ScheduledStatusPending, now, limit)
	if err != nil {
		slog.Error("PostgresStore ListDueScheduled query failed", "error", err)
		return nil, fmt.Errorf("failed to query due scheduled messages: %w", err)
	}
	defer rows.Close()

	var due []models.ScheduledMessage
	for rows.Next() {
		m, err := scanScheduled(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, m)
	}
	return due, rows.Err()
}

// MarkScheduledSent transitions a pending row to sent. Rows already in a
// terminal status are untouched and the first return is false.
func (s *PostgresStore) MarkScheduledSent(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE scheduled_messages
		SET status = $1, sent_at = $2, updated_at = $2, error_detail = NULL
		WHERE id = $3 AND status = $4`,
		models.ScheduledStatusSent, at, id, models.ScheduledStatusPending)
	if err != nil {
		slog.Error("PostgresStore MarkScheduledSent failed", "error", err, "id", id)
		return false, fmt.Errorf("failed to mark scheduled message %s sent: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresStore) MarkScheduledFailed(ctx context.Context, id, errDetail string, attempts int) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE scheduled_messages
		SET status = $1, error_detail = $2, attempts = $3, updated_at = $4
		WHERE id = $5 AND status = $6`,
		models.ScheduledStatusFailed, nilIfEmpty(errDetail), attempts, time.Now().UTC(),
		id, models.ScheduledStatusPending)
	if err != nil {
		slog.Error("PostgresStore MarkScheduledFailed failed", "error", err, "id", id)
		return false, fmt.Errorf("failed to mark scheduled message %s failed: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresStore) CancelEventScheduled(ctx context.Context, eventID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE scheduled_messages
		SET status = $1, updated_at = $2
		WHERE event_id = $3 AND status = $4`,
		models.ScheduledStatusCancelled, time.Now().UTC(), eventID, models.ScheduledStatusPending)
	if err != nil {
		slog.Error("PostgresStore CancelEventScheduled failed", "error", err, "event_id", eventID)
		return 0, fmt.Errorf("failed to cancel scheduled messages for event %s: %w", eventID, err)
	}
	return res.RowsAffected()
}

func (s *PostgresStore) ListScheduled(ctx context.Context, eventID string, status models.ScheduledStatus, limit int) ([]models.ScheduledMessage, error) {
	query := `SELECT ` + scheduledColumns + ` FROM scheduled_messages WHERE event_id = $1`
	args := []interface{}{eventID}
	if status != "" {
		query += ` AND status = $2 ORDER BY scheduled_time LIMIT $3`
		args = append(args, status, limit)
	} else {
		query += ` ORDER BY scheduled_time LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("PostgresStore ListScheduled query failed", "error", err, "event_id", eventID)
		return nil, fmt.Errorf("failed to query scheduled messages: %w", err)
	}
	defer rows.Close()

	var out []models.ScheduledMessage
	for rows.Next() {
		m, err := scanScheduled(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
