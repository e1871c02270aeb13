package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ContractorHub/EventPulse/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nullableInt converts an optional int to a driver-compatible value.
func nullableInt(p *int) interface{} {
	if p == nil {
		return nil
	}
	return int64(*p)
}

// nullableTime converts an optional time to a driver-compatible value.
func nullableTime(p *time.Time) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

// rowScanner abstracts *sql.Row and *sql.Rows so scan helpers serve both.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func marshalJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	return string(b), nil
}

func scanAttendee(row rowScanner) (*models.Attendee, error) {
	var a models.Attendee
	var name, company, focusAreas sql.NullString
	if err := row.Scan(&a.ID, &name, &company, &a.Phone, &focusAreas); err != nil {
		return nil, err
	}
	a.Name = name.String
	a.Company = company.String
	if focusAreas.String != "" {
		if err := json.Unmarshal([]byte(focusAreas.String), &a.FocusAreas); err != nil {
			return nil, fmt.Errorf("failed to decode focus areas: %w", err)
		}
	}
	return &a, nil
}

func scanOutboundRecord(row rowScanner) (models.OutboundRecord, error) {
	var rec models.OutboundRecord
	var eventID, body, payload sql.NullString
	if err := row.Scan(&rec.ID, &eventID, &rec.Kind, &body, &payload, &rec.SentAt); err != nil {
		return rec, fmt.Errorf("scan outbound record failed: %w", err)
	}
	rec.EventID = eventID.String
	rec.Body = body.String
	if payload.String != "" {
		if err := json.Unmarshal([]byte(payload.String), &rec.Payload); err != nil {
			return rec, fmt.Errorf("failed to decode outbound payload: %w", err)
		}
	}
	return rec, nil
}

func scanRoutingLog(row rowScanner) (models.RoutingLog, error) {
	var l models.RoutingLog
	var eventID, phone, intent, layer, reasoning, handlerError sql.NullString
	var confidence sql.NullFloat64
	var processingMs sql.NullInt64
	var handlerSuccess sql.NullBool
	err := row.Scan(
		&l.ID, &l.AttendeeID, &eventID, &l.InboundBody, &phone, &intent, &l.Route,
		&confidence, &layer, &reasoning, &processingMs,
		&handlerSuccess, &handlerError, &l.ResponseSent, &l.CreatedAt,
	)
	if err != nil {
		return l, fmt.Errorf("scan routing log failed: %w", err)
	}
	l.EventID = eventID.String
	l.Phone = phone.String
	l.Intent = intent.String
	l.Layer = models.Layer(layer.String)
	l.Reasoning = reasoning.String
	l.Confidence = confidence.Float64
	l.ProcessingMs = processingMs.Int64
	l.HandlerError = handlerError.String
	if handlerSuccess.Valid {
		l.HandlerSuccess = &handlerSuccess.Bool
	}
	return l, nil
}

func scanPCRScore(row rowScanner) (models.PCRScore, error) {
	var s models.PCRScore
	var entityName, questionAsked, responseText, sentimentJSON sql.NullString
	var explicitScore sql.NullInt64
	var respondedAt sql.NullTime
	err := row.Scan(
		&s.ID, &s.EventID, &s.AttendeeID, &s.PCRType, &s.EntityID,
		&entityName, &questionAsked, &explicitScore, &s.SentimentScore,
		&s.FinalScore, &responseText, &sentimentJSON, &s.Confidence,
		&s.RequestedAt, &respondedAt,
	)
	if err != nil {
		return s, fmt.Errorf("scan pcr score failed: %w", err)
	}
	s.EntityName = entityName.String
	s.QuestionAsked = questionAsked.String
	s.ResponseText = responseText.String
	s.SentimentJSON = sentimentJSON.String
	if explicitScore.Valid {
		v := int(explicitScore.Int64)
		s.ExplicitScore = &v
	}
	if respondedAt.Valid {
		s.RespondedAt = &respondedAt.Time
	}
	return s, nil
}

func scanScheduled(row rowScanner) (models.ScheduledMessage, error) {
	var m models.ScheduledMessage
	var eventID, content, payload, errorDetail sql.NullString
	var sentAt sql.NullTime
	err := row.Scan(
		&m.ID, &m.AttendeeID, &eventID, &m.Kind, &m.ScheduledTime,
		&content, &payload, &m.Status, &errorDetail, &m.Attempts,
		&sentAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return m, fmt.Errorf("scan scheduled message failed: %w", err)
	}
	m.EventID = eventID.String
	m.Content = content.String
	m.ErrorDetail = errorDetail.String
	if payload.String != "" {
		if err := json.Unmarshal([]byte(payload.String), &m.Payload); err != nil {
			return m, fmt.Errorf("failed to decode scheduled payload: %w", err)
		}
	}
	if sentAt.Valid {
		m.SentAt = &sentAt.Time
	}
	return m, nil
}
