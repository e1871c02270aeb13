// Package messaging provides pluggable SMS gateway implementations behind a
// shared Service interface: Twilio REST, a generic HTTP webhook gateway, and
// an in-process simulator for tests.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Channel configuration constants.
const (
	// DefaultChannelBufferSize defines the default buffer size for response channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines how long an emit waits before dropping
	DefaultChannelTimeout = 5 * time.Second
)

// ErrServiceStopped is returned when operating on a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

// Inbound is one SMS received from the gateway. Attendee resolution happens
// upstream; the gateway only knows the sender's phone number.
type Inbound struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// Service defines a pluggable SMS delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a phone
	// number. Returns the canonical E.164 form or an error.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends one SMS to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing.
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Responses returns a channel of inbound messages.
	Responses() <-chan Inbound
}

var nonDigitRegex = regexp.MustCompile(`[^0-9]`)

// CanonicalizePhone normalizes a phone number to E.164. Ten-digit numbers
// are treated as US national format.
func CanonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	digits := nonDigitRegex.ReplaceAllString(recipient, "")
	if digits == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(digits) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", digits)
	}
	switch {
	case len(digits) == 10:
		return "+1" + digits, nil
	case len(digits) == 11 && digits[0] == '1':
		return "+" + digits, nil
	default:
		return "+" + digits, nil
	}
}
