package models

import "time"

// ScheduledStatus represents the lifecycle state of a scheduled message.
// Transitions are strictly one-way: pending -> {sent | failed | cancelled}.
type ScheduledStatus string

const (
	ScheduledStatusPending   ScheduledStatus = "pending"
	ScheduledStatusSent      ScheduledStatus = "sent"
	ScheduledStatusFailed    ScheduledStatus = "failed"
	ScheduledStatusCancelled ScheduledStatus = "cancelled"
)

// IsTerminal reports whether the status is final.
func (s ScheduledStatus) IsTerminal() bool {
	return s == ScheduledStatusSent || s == ScheduledStatusFailed || s == ScheduledStatusCancelled
}

// IsValidScheduledStatus checks if the given status is supported.
func IsValidScheduledStatus(s ScheduledStatus) bool {
	switch s {
	case ScheduledStatusPending, ScheduledStatusSent, ScheduledStatusFailed, ScheduledStatusCancelled:
		return true
	default:
		return false
	}
}

// ScheduledMessage is a durable outbound message row. Producers insert
// pending rows; only the delivery worker performs terminal transitions,
// except for the admin cancellation path.
type ScheduledMessage struct {
	ID            string          `json:"id"`
	AttendeeID    string          `json:"attendee_id"`
	EventID       string          `json:"event_id,omitempty"`
	Kind          MessageKind     `json:"kind"`
	ScheduledTime time.Time       `json:"scheduled_time"`
	Content       string          `json:"content,omitempty"` // rendered at delivery time
	Status        ScheduledStatus `json:"status"`
	ErrorDetail   string          `json:"error_detail,omitempty"`
	Payload       Personalization `json:"payload"`
	Attempts      int             `json:"attempts"`
	SentAt        *time.Time      `json:"sent_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Validate performs validation on a scheduled message before insertion.
func (m *ScheduledMessage) Validate() error {
	if m.AttendeeID == "" {
		return ErrEmptyAttendee
	}
	if !IsValidMessageKind(m.Kind) {
		return ErrInvalidKind
	}
	if m.ScheduledTime.IsZero() {
		return ErrEmptyScheduleTime
	}
	return nil
}
