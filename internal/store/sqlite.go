// Package store provides storage backends for EventPulse.
//
// This file implements the SQLite-backed store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/ContractorHub/EventPulse/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite store ready", "dsn", dsn)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertAttendee(ctx context.Context, a *models.Attendee) error {
	focusAreas, err := marshalJSON(a.FocusAreas)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO attendees (id, name, company, phone, focus_areas)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, company=excluded.company,
			phone=excluded.phone, focus_areas=excluded.focus_areas`,
		a.ID, nilIfEmpty(a.Name), nilIfEmpty(a.Company), a.Phone, focusAreas)
	if err != nil {
		slog.Error("SQLiteStore UpsertAttendee failed", "error", err, "attendee_id", a.ID)
		return fmt.Errorf("failed to upsert attendee %s: %w", a.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetAttendee(ctx context.Context, id string) (*models.Attendee, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, company, phone, focus_areas FROM attendees WHERE id = ?`, id)
	a, err := scanAttendee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetAttendee failed", "error", err, "attendee_id", id)
		return nil, fmt.Errorf("failed to get attendee %s: %w", id, err)
	}
	return a, nil
}

func (s *SQLiteStore) GetAttendeeByPhone(ctx context.Context, phone string) (*models.Attendee, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, company, phone, focus_areas FROM attendees WHERE phone = ?`, phone)
	a, err := scanAttendee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetAttendeeByPhone failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to get attendee by phone: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) RecordOutbound(ctx context.Context, rec *models.OutboundRecord) error {
	payload, err := marshalJSON(rec.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO event_messages (id, attendee_id, event_id, kind, body, payload, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.AttendeeID, nilIfEmpty(rec.EventID), rec.Kind, nilIfEmpty(rec.Body), payload, rec.SentAt)
	if err != nil {
		slog.Error("SQLiteStore RecordOutbound failed", "error", err, "id", rec.ID)
		return fmt.Errorf("failed to record outbound message %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ListRecentOutbound(ctx context.Context, attendeeID string, since time.Time, limit int) ([]models.OutboundRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, event_id, kind, body, payload, sent_at
		FROM event_messages WHERE attendee_id = ? AND sent_at >= ?
		ORDER BY sent_at DESC LIMIT ?`, attendeeID, since, limit)
	if err != nil {
		slog.Error("SQLiteStore ListRecentOutbound query failed", "error", err, "attendee_id", attendeeID)
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

func (s *SQLiteStore) InsertRoutingLog(ctx context.Context, l *models.RoutingLog) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO routing_logs
		(id, attendee_id, event_id, inbound_body, phone, intent, route, confidence, layer, reasoning, processing_ms, response_sent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.AttendeeID, nilIfEmpty(l.EventID), l.InboundBody, nilIfEmpty(l.Phone),
		nilIfEmpty(l.Intent), l.Route, l.Confidence, l.Layer, nilIfEmpty(l.Reasoning),
		l.ProcessingMs, l.ResponseSent, l.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore InsertRoutingLog failed", "error", err, "id", l.ID)
		return fmt.Errorf("failed to insert routing log %s: %w", l.ID, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateRoutingOutcome(ctx context.Context, id string, success bool, handlerErr string, responseSent bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE routing_logs
		SET handler_success = ?, handler_error = ?, response_sent = ?
		WHERE id = ?`, success, nilIfEmpty(handlerErr), responseSent, id)
	if err != nil {
		slog.Error("SQLiteStore UpdateRoutingOutcome failed", "error", err, "id", id)
		return fmt.Errorf("failed to update routing outcome %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) ListRoutingLogs(ctx context.Context, eventID string, limit int) ([]models.RoutingLog, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, attendee_id, event_id, inbound_body, phone, intent, route,
			confidence, layer, reasoning, processing_ms, handler_success, handler_error, response_sent, created_at
		FROM routing_logs WHERE event_id = ? ORDER BY created_at DESC LIMIT ?`, eventID, limit)
	if err != nil {
		slog.Error("SQLiteStore ListRoutingLogs query failed", "error", err, "event_id", eventID)
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

const pcrColumns = `id, event_id, attendee_id, pcr_type, entity_id, entity_name, question_asked,
	explicit_score, sentiment_score, final_score, response_text, sentiment_json, confidence,
	requested_at, responded_at`

func (s *SQLiteStore) InsertPCRRequest(ctx context.Context, score *models.PCRScore) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO pcr_scores
		(id, event_id, attendee_id, pcr_type, entity_id, entity_name, question_asked, requested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id, attendee_id, pcr_type, entity_id) DO UPDATE SET
			question_asked = excluded.question_asked,
			requested_at = excluded.requested_at`,
		score.ID, score.EventID, score.AttendeeID, score.PCRType, score.EntityID,
		nilIfEmpty(score.EntityName), nilIfEmpty(score.QuestionAsked), score.RequestedAt)
	if err != nil {
		slog.Error("SQLiteStore InsertPCRRequest failed", "error", err, "id", score.ID)
		return fmt.Errorf("failed to insert PCR request %s: %w", score.ID, err)
	}
	return nil
}

func (s *SQLiteStore) UpsertPCRResponse(ctx context.Context, score *models.PCRScore) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO pcr_scores
		(id, event_id, attendee_id, pcr_type, entity_id, entity_name, question_asked,
		 explicit_score, sentiment_score, final_score, response_text, sentiment_json, confidence,
		 requested_at, responded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id, attendee_id, pcr_type, entity_id) DO UPDATE SET
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
		slog.Error("SQLiteStore UpsertPCRResponse failed", "error", err, "id", score.ID)
		return fmt.Errorf("failed to upsert PCR response %s: %w", score.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetPCRScore(ctx context.Context, eventID, attendeeID string, pcrType models.PCRType, entityID string) (*models.PCRScore, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pcrColumns+` FROM pcr_scores
		WHERE event_id = ? AND attendee_id = ? AND pcr_type = ? AND entity_id = ?`,
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

func (s *SQLiteStore) ListPCRScores(ctx context.Context, eventID string) ([]models.PCRScore, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+pcrColumns+` FROM pcr_scores
		WHERE event_id = ? ORDER BY requested_at`, eventID)
	if err != nil {
		slog.Error("SQLiteStore ListPCRScores query failed", "error", err, "event_id", eventID)
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

func (s *SQLiteStore) ComputeEntityAggregate(ctx context.Context, pcrType models.PCRType, entityID string) (*models.EntityAggregate, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(AVG(final_score), 0), COUNT(*)
		FROM pcr_scores WHERE pcr_type = ? AND entity_id = ? AND responded_at IS NOT NULL`,
		pcrType, entityID)
	agg := models.EntityAggregate{PCRType: pcrType, EntityID: entityID}
	if err := row.Scan(&agg.AverageScore, &agg.ResponseCount); err != nil {
		slog.Error("SQLiteStore ComputeEntityAggregate failed", "error", err, "entity_id", entityID)
		return nil, fmt.Errorf("failed to compute aggregate for %s: %w", entityID, err)
	}
	return &agg, nil
}

func (s *SQLiteStore) SaveEntityAggregate(ctx context.Context, agg *models.EntityAggregate) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO rated_entities (pcr_type, entity_id, average_score, response_count, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(pcr_type, entity_id) DO UPDATE SET
			average_score = excluded.average_score,
			response_count = excluded.response_count,
			updated_at = excluded.updated_at`,
		agg.PCRType, agg.EntityID, agg.AverageScore, agg.ResponseCount, time.Now().UTC())
	if err != nil {
		slog.Error("SQLiteStore SaveEntityAggregate failed", "error", err, "entity_id", agg.EntityID)
		return fmt.Errorf("failed to save aggregate for %s: %w", agg.EntityID, err)
	}
	return nil
}

func (s *SQLiteStore) GetEntityAggregate(ctx context.Context, pcrType models.PCRType, entityID string) (*models.EntityAggregate, error) {
	row := s.db.QueryRowContext(ctx, `SELECT pcr_type, entity_id, average_score, response_count
		FROM rated_entities WHERE pcr_type = ? AND entity_id = ?`, pcrType, entityID)
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

const scheduledColumns = `id, attendee_id, event_id, kind, scheduled_time, content, payload,
	status, error_detail, attempts, sent_at, created_at, updated_at`

func (s *SQLiteStore) InsertScheduled(ctx context.Context, m *models.ScheduledMessage) error {
	payload, err := marshalJSON(m.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO scheduled_messages
		(id, attendee_id, event_id, kind, scheduled_time, content, payload, status, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.AttendeeID, nilIfEmpty(m.EventID), m.Kind, m.ScheduledTime,
		nilIfEmpty(m.Content), payload, m.Status, m.Attempts, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore InsertScheduled failed", "error", err, "id", m.ID)
		return fmt.Errorf("failed to insert scheduled message %s: %w", m.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetScheduled(ctx context.Context, id string) (*models.ScheduledMessage, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduledColumns+` FROM scheduled_messages WHERE id = ?`, id)
	m, err := scanScheduled(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *SQLiteStore) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]models.ScheduledMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scheduledColumns+` FROM scheduled_messages
		WHERE status = ? AND scheduled_time <= ?
		ORDER BY scheduled_time LIMIT ?`, models.ScheduledStatusPending, now, limit)
	if err != nil {
		slog.Error("SQLiteStore ListDueScheduled query failed", "error", err)
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
// terminal status are untouched and the first return is false, which is how
// duplicate delivery is suppressed.
func (s *SQLiteStore) MarkScheduledSent(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE scheduled_messages
		SET status = ?, sent_at = ?, updated_at = ?, error_detail = NULL
		WHERE id = ? AND status = ?`,
		models.ScheduledStatusSent, at, at, id, models.ScheduledStatusPending)
	if err != nil {
		slog.Error("SQLiteStore MarkScheduledSent failed", "error", err, "id", id)
		return false, fmt.Errorf("failed to mark scheduled message %s sent: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) MarkScheduledFailed(ctx context.Context, id, errDetail string, attempts int) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE scheduled_messages
		SET status = ?, error_detail = ?, attempts = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		models.ScheduledStatusFailed, nilIfEmpty(errDetail), attempts, time.Now().UTC(),
		id, models.ScheduledStatusPending)
	if err != nil {
		slog.Error("SQLiteStore MarkScheduledFailed failed", "error", err, "id", id)
		return false, fmt.Errorf("failed to mark scheduled message %s failed: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) CancelEventScheduled(ctx context.Context, eventID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE scheduled_messages
		SET status = ?, updated_at = ?
		WHERE event_id = ? AND status = ?`,
		models.ScheduledStatusCancelled, time.Now().UTC(), eventID, models.ScheduledStatusPending)
	if err != nil {
		slog.Error("SQLiteStore CancelEventScheduled failed", "error", err, "event_id", eventID)
		return 0, fmt.Errorf("failed to cancel scheduled messages for event %s: %w", eventID, err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) ListScheduled(ctx context.Context, eventID string, status models.ScheduledStatus, limit int) ([]models.ScheduledMessage, error) {
	query := `SELECT ` + scheduledColumns + ` FROM scheduled_messages WHERE event_id = ?`
	args := []interface{}{eventID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY scheduled_time LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("SQLiteStore ListScheduled query failed", "error", err, "event_id", eventID)
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
