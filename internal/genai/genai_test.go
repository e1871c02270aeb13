package genai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   *openai.ChatCompletion
	err    error
	params openai.ChatCompletionNewParams
}

func (m *mockChatService) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	m.params = params
	return m.resp, m.err
}

func newTestClient(chat chatService) *Client {
	return &Client{chat: chat, breaker: newBreaker(), model: openai.ChatModelGPT4oMini}
}

func completionWith(content string) *openai.ChatCompletion {
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func TestGenerateMessage_Success(t *testing.T) {
	client := newTestClient(&mockChatService{resp: completionWith("Hello World")})
	out, err := client.GenerateMessage(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Hello World" {
		t.Errorf("expected 'Hello World', got '%s'", out)
	}
}

func TestGenerateMessage_ServiceError(t *testing.T) {
	client := newTestClient(&mockChatService{err: errors.New("service failure")})
	_, err := client.GenerateMessage(context.Background(), "sys", "usr")
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestGenerateMessage_NoChoices(t *testing.T) {
	client := newTestClient(&mockChatService{resp: &openai.ChatCompletion{}})
	_, err := client.GenerateMessage(context.Background(), "sys", "usr")
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected no choices returned error, got %v", err)
	}
}

func TestClassifyIntent_RequestsJSONMode(t *testing.T) {
	mock := &mockChatService{resp: completionWith(`{"intent":"pcr_request"}`)}
	client := newTestClient(mock)
	raw, err := client.ClassifyIntent(context.Background(), "sys", "usr")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if raw != `{"intent":"pcr_request"}` {
		t.Errorf("unexpected raw response: %s", raw)
	}
	if mock.params.ResponseFormat.OfJSONObject == nil {
		t.Error("expected JSON object response format to be requested")
	}
}

func TestAnalyzeSentiment_Success(t *testing.T) {
	body := `{"sentiment_score":0.9,"confidence":0.8,"sentiment_category":"positive","key_indicators":["amazing"],"emotional_tone":"enthusiastic"}`
	client := newTestClient(&mockChatService{resp: completionWith(body)})
	result, err := client.AnalyzeSentiment(context.Background(), "That talk was amazing!")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.SentimentScore != 0.9 {
		t.Errorf("expected sentiment score 0.9, got %f", result.SentimentScore)
	}
	if result.Category != "positive" {
		t.Errorf("expected positive category, got %s", result.Category)
	}
}

func TestAnalyzeSentiment_ClampsScore(t *testing.T) {
	body := `{"sentiment_score":1.7,"confidence":0.8,"sentiment_category":"positive"}`
	client := newTestClient(&mockChatService{resp: completionWith(body)})
	result, err := client.AnalyzeSentiment(context.Background(), "great")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.SentimentScore != 1.0 {
		t.Errorf("expected clamped score 1.0, got %f", result.SentimentScore)
	}
}

func TestAnalyzeSentiment_MalformedJSON(t *testing.T) {
	client := newTestClient(&mockChatService{resp: completionWith("not json")})
	_, err := client.AnalyzeSentiment(context.Background(), "great")
	if err == nil || !strings.Contains(err.Error(), "decode sentiment") {
		t.Errorf("expected decode error, got %v", err)
	}
}

func TestNewClient_NoKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewClient()
	if err == nil {
		t.Error("expected error when API key not provided, got nil")
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli == nil {
		t.Error("expected client instance, got nil")
	}
}
