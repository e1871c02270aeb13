package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// WebhookService implements the Service interface against a generic HTTP
// gateway: outbound messages are POSTed as JSON to the gateway URL, inbound
// messages arrive on the InboundHandler.
type WebhookService struct {
	gatewayURL string
	fromNumber string
	httpClient *http.Client
	responses  chan Inbound
	mu         sync.RWMutex
	stopped    bool
}

// NewWebhookService creates a webhook-backed gateway service.
func NewWebhookService(gatewayURL, fromNumber string) *WebhookService {
	return &WebhookService{
		gatewayURL: gatewayURL,
		fromNumber: fromNumber,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		responses:  make(chan Inbound, DefaultChannelBufferSize),
	}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a phone number.
func (s *WebhookService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(recipient)
}

// Start is a no-op; inbound traffic is webhook-driven.
func (s *WebhookService) Start(ctx context.Context) error {
	return nil
}

// Stop marks the service stopped and closes the responses channel.
func (s *WebhookService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.responses)
	}()
	return nil
}

type outboundPayload struct {
	To   string `json:"to"`
	From string `json:"from"`
	Body string `json:"body"`
}

// SendMessage POSTs the message to the gateway URL as JSON.
func (s *WebhookService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(outboundPayload{To: canonicalTo, From: s.fromNumber, Body: body})
	if err != nil {
		return fmt.Errorf("failed to encode gateway payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.gatewayURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		slog.Error("WebhookService gateway call failed", "error", err, "to", canonicalTo)
		return fmt.Errorf("gateway call failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Error("WebhookService gateway rejected message", "status", resp.StatusCode, "to", canonicalTo)
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	slog.Debug("WebhookService message delivered to gateway", "to", canonicalTo)
	return nil
}

// Responses returns the channel for inbound messages.
func (s *WebhookService) Responses() <-chan Inbound {
	return s.responses
}

// InboundHandler accepts inbound messages POSTed by the gateway as JSON
// {"from": "...", "body": "..."}.
func (s *WebhookService) InboundHandler(w http.ResponseWriter, r *http.Request) {
	var in Inbound
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		slog.Error("WebhookService failed to decode inbound payload", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if in.From == "" || in.Body == "" {
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}
	if in.Time == 0 {
		in.Time = time.Now().Unix()
	}

	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	select {
	case s.responses <- in:
		w.WriteHeader(http.StatusOK)
	case <-time.After(DefaultChannelTimeout):
		http.Error(w, "Queue full", http.StatusServiceUnavailable)
	}
}
