package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestCanonicalizePhone(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+15551234567", "+15551234567", false},
		{"15551234567", "+15551234567", false},
		{"5551234567", "+15551234567", false},
		{"(555) 123-4567", "+15551234567", false},
		{"+44 20 7946 0958", "+442079460958", false},
		{"", "", true},
		{"abc", "", true},
		{"123", "", true},
	}
	for _, tc := range cases {
		got, err := CanonicalizePhone(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("CanonicalizePhone(%q): expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("CanonicalizePhone(%q) = (%q, %v), want %q", tc.in, got, err, tc.want)
		}
	}
}

// mockSMSSender implements SMSSender for testing.
type mockSMSSender struct {
	sent []SentMessage
	err  error
}

func (m *mockSMSSender) SendSMS(ctx context.Context, to string, body string) error {
	m.sent = append(m.sent, SentMessage{To: to, Body: body})
	return m.err
}

func TestTwilioService_SendCanonicalizes(t *testing.T) {
	sender := &mockSMSSender{}
	svc := NewTwilioService(sender)
	if err := svc.SendMessage(context.Background(), "(555) 123-4567", "hello"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].To != "+15551234567" {
		t.Errorf("unexpected sent messages %+v", sender.sent)
	}
}

func TestTwilioService_SendAfterStop(t *testing.T) {
	svc := NewTwilioService(&mockSMSSender{})
	if err := svc.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "+15551234567", "x"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

func TestTwilioService_WebhookEmitsInbound(t *testing.T) {
	svc := NewTwilioService(&mockSMSSender{})
	form := url.Values{"From": {"+15551234567"}, "Body": {"3"}}
	req := httptest.NewRequest(http.MethodPost, "/webhook/sms", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	svc.WebhookHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	select {
	case in := <-svc.Responses():
		if in.From != "+15551234567" || in.Body != "3" {
			t.Errorf("unexpected inbound %+v", in)
		}
	case <-time.After(time.Second):
		t.Fatal("expected inbound message on channel")
	}
}

func TestTwilioService_WebhookRejectsMissingFields(t *testing.T) {
	svc := NewTwilioService(&mockSMSSender{})
	form := url.Values{"From": {"+15551234567"}}
	req := httptest.NewRequest(http.MethodPost, "/webhook/sms", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	svc.WebhookHandler(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestWebhookService_SendPostsJSON(t *testing.T) {
	var got outboundPayload
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode failed: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	svc := NewWebhookService(gateway.URL, "+15550001111")
	if err := svc.SendMessage(context.Background(), "5551234567", "hi there"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if got.To != "+15551234567" || got.From != "+15550001111" || got.Body != "hi there" {
		t.Errorf("unexpected payload %+v", got)
	}
}

func TestWebhookService_SendGatewayError(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer gateway.Close()

	svc := NewWebhookService(gateway.URL, "+15550001111")
	err := svc.SendMessage(context.Background(), "5551234567", "hi")
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("expected gateway status error, got %v", err)
	}
}

func TestWebhookService_InboundHandler(t *testing.T) {
	svc := NewWebhookService("http://unused", "+15550001111")
	payload := `{"from":"+15551234567","body":"yes"}`
	req := httptest.NewRequest(http.MethodPost, "/inbound", strings.NewReader(payload))
	rec := httptest.NewRecorder()

	svc.InboundHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	select {
	case in := <-svc.Responses():
		if in.Body != "yes" || in.Time == 0 {
			t.Errorf("unexpected inbound %+v", in)
		}
	case <-time.After(time.Second):
		t.Fatal("expected inbound message on channel")
	}
}

func TestSimulatorService_RoundTrip(t *testing.T) {
	svc := NewSimulatorService()
	if err := svc.SendMessage(context.Background(), "5551234567", "ping"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	sent := svc.Sent()
	if len(sent) != 1 || sent[0].To != "+15551234567" {
		t.Errorf("unexpected sent %+v", sent)
	}

	svc.InjectResponse("+15551234567", "pong")
	select {
	case in := <-svc.Responses():
		if in.Body != "pong" {
			t.Errorf("unexpected inbound %+v", in)
		}
	case <-time.After(time.Second):
		t.Fatal("expected injected inbound")
	}

	if err := svc.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "5551234567", "x"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}
