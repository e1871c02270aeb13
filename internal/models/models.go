// Package models defines the core data structures for EventPulse.
//
// It includes types for inbound message classification, PCR feedback scoring,
// scheduled outbound messages, and the routing audit log, which are shared
// across modules.
package models

import (
	"errors"
	"time"
)

// Validation constants for input validation
const (
	// MaxInboundBodyLength defines the maximum accepted length for an inbound SMS body
	MaxInboundBodyLength = 4096
	// ConversationWindowHours is the trailing window used when resolving conversation context
	ConversationWindowHours = 24
	// ConversationHistoryLimit is the maximum number of outbound records loaded per context
	ConversationHistoryLimit = 5
)

// Error variables for better error handling and testability
var (
	ErrEmptyAttendee     = errors.New("attendee cannot be empty")
	ErrEmptyBody         = errors.New("message body cannot be empty")
	ErrBodyTooLong       = errors.New("message body exceeds maximum length")
	ErrInvalidKind       = errors.New("invalid message kind")
	ErrInvalidPCRType    = errors.New("invalid PCR type")
	ErrInvalidStatus     = errors.New("invalid scheduled message status")
	ErrEmptyScheduleTime = errors.New("scheduled time is required")
)

// InboundMessage is the transient value describing one received SMS reply.
// It is never persisted verbatim beyond the routing log.
type InboundMessage struct {
	AttendeeID string `json:"attendee_id"`
	EventID    string `json:"event_id,omitempty"`
	Phone      string `json:"phone"`
	Body       string `json:"body"`
	ReceivedAt int64  `json:"received_at"`
	// ContactID and SessionID carry transport metadata for the gateway.
	ContactID string `json:"contact_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Validate performs basic validation on an inbound message.
func (m *InboundMessage) Validate() error {
	if m.AttendeeID == "" {
		return ErrEmptyAttendee
	}
	if m.Body == "" {
		return ErrEmptyBody
	}
	if len(m.Body) > MaxInboundBodyLength {
		return ErrBodyTooLong
	}
	return nil
}

// Attendee is a read-only profile snapshot consumed during classification.
// The authoritative attendee record lives in the external relational store.
type Attendee struct {
	ID         string   `json:"id"`
	Name       string   `json:"name,omitempty"`
	Company    string   `json:"company,omitempty"`
	Phone      string   `json:"phone"`
	FocusAreas []string `json:"focus_areas,omitempty"`
}

// OutboundRecord is one prior outbound message as seen by the context resolver.
type OutboundRecord struct {
	ID         string            `json:"id"`
	AttendeeID string            `json:"attendee_id,omitempty"`
	EventID    string            `json:"event_id,omitempty"`
	Kind       MessageKind       `json:"kind"`
	Body       string            `json:"body,omitempty"`
	Payload    Personalization   `json:"payload"`
	SentAt     time.Time         `json:"sent_at"`
	Expected   *ExpectedResponse `json:"expected,omitempty"`
}

// ConversationContext is the short-lived value the classifier layers consume.
// It is rebuilt on every inbound message and never persisted.
type ConversationContext struct {
	Attendee   Attendee         `json:"attendee"`
	EventID    string           `json:"event_id,omitempty"`
	Outbound   []OutboundRecord `json:"outbound"` // newest first
	ContextAge time.Duration    `json:"context_age"`
}

// MostRecent returns the newest outbound record, or nil when history is empty.
func (c *ConversationContext) MostRecent() *OutboundRecord {
	if len(c.Outbound) == 0 {
		return nil
	}
	return &c.Outbound[0]
}

// FindKind returns the newest outbound record of the given kind, or nil.
func (c *ConversationContext) FindKind(kind MessageKind) *OutboundRecord {
	for i := range c.Outbound {
		if c.Outbound[i].Kind == kind {
			return &c.Outbound[i]
		}
	}
	return nil
}

// ResponseShape describes the rigid reply format a handler expects, if any.
type ResponseShape string

const (
	// ShapeNumeric expects a bare digit within [Min,Max].
	ShapeNumeric ResponseShape = "numeric"
	// ShapeAffirmative expects a leading yes/no style token.
	ShapeAffirmative ResponseShape = "affirmative"
	// ShapeMenuSelection expects a digit selecting one of OptionCount items.
	ShapeMenuSelection ResponseShape = "menu_selection"
	// ShapeFreeText accepts anything.
	ShapeFreeText ResponseShape = "free_text"
)

// ExpectedResponse describes what a reply to a given outbound message should
// look like. Produced by the context resolver from the declarative rule table.
type ExpectedResponse struct {
	Shape       ResponseShape     `json:"shape"`
	Min         int               `json:"min,omitempty"`
	Max         int               `json:"max,omitempty"`
	OptionCount int               `json:"option_count,omitempty"`
	Options     []RecommendedItem `json:"options,omitempty"`
	Description string            `json:"description,omitempty"`
}

// RecommendedItem is one selectable entry in a recommendation outbound message.
type RecommendedItem struct {
	Number     int    `json:"number"`
	EntityID   string `json:"entity_id"`
	EntityName string `json:"entity_name"`
	Detail     string `json:"detail,omitempty"` // session title, booth location, etc.
}

// Personalization is the opaque structured payload attached to outbound
// messages; the renderer and resolver interpret it per message kind.
type Personalization struct {
	RecommendedItems []RecommendedItem `json:"recommended_items,omitempty"`
	EntityID         string            `json:"entity_id,omitempty"`
	EntityName       string            `json:"entity_name,omitempty"`
	PCRType          PCRType           `json:"pcr_type,omitempty"`
	Prompt           string            `json:"prompt,omitempty"`
	Extra            map[string]string `json:"extra,omitempty"`
}

// ClassificationResult is the output of the layered classification pipeline.
type ClassificationResult struct {
	Intent     string  `json:"intent"`
	Route      Route   `json:"route"`
	Confidence float64 `json:"confidence"`
	Layer      Layer   `json:"layer"`
	Reasoning  string  `json:"reasoning"`
	// OverriddenRoute records the original route when a validation override fired.
	OverriddenRoute Route                `json:"overridden_route,omitempty"`
	Context         *ConversationContext `json:"-"`
	ProcessingMs    int64                `json:"processing_ms"`
}

// RoutingLog is the persisted audit row for one classification decision.
// It is immutable once written except for a single best-effort outcome patch.
type RoutingLog struct {
	ID             string    `json:"id"`
	AttendeeID     string    `json:"attendee_id"`
	EventID        string    `json:"event_id,omitempty"`
	InboundBody    string    `json:"inbound_body"`
	Phone          string    `json:"phone"`
	Intent         string    `json:"intent"`
	Route          Route     `json:"route"`
	Confidence     float64   `json:"confidence"`
	Layer          Layer     `json:"layer"`
	Reasoning      string    `json:"reasoning"`
	ProcessingMs   int64     `json:"processing_ms"`
	HandlerSuccess *bool     `json:"handler_success,omitempty"`
	HandlerError   string    `json:"handler_error,omitempty"`
	ResponseSent   bool      `json:"response_sent"`
	CreatedAt      time.Time `json:"created_at"`
}

// HandlerResult is the uniform shape every route handler returns.
type HandlerResult struct {
	Success      bool        `json:"success"`
	Action       string      `json:"action"`
	Messages     []string    `json:"messages,omitempty"`
	MessageKind  MessageKind `json:"message_kind,omitempty"`
	ResponseSent bool        `json:"response_sent"`
	Error        string      `json:"error,omitempty"`
}
