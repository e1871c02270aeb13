// Package genai provides GenAI-backed operations using the OpenAI API:
// intent classification, sentiment analysis, and message generation.
package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/sony/gobreaker"

	"github.com/ContractorHub/EventPulse/internal/models"
)

// ErrNoChoicesReturned indicates the model returned an empty choice list.
var ErrNoChoicesReturned = fmt.Errorf("no choices returned")

// chatService defines the minimal interface for chat completions.
type chatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Client wraps the OpenAI ChatCompletion service. All calls go through a
// circuit breaker so a degraded upstream fails fast instead of stalling
// inbound processing.
type Client struct {
	chat    chatService
	breaker *gobreaker.CircuitBreaker
	model   openai.ChatModel
	timeout time.Duration
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey  string
	Model   openai.ChatModel
	Timeout time.Duration
}

// Option configures the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the default chat model.
func WithModel(model openai.ChatModel) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTimeout sets the per-call timeout applied to every completion request.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// NewClient initializes a new GenAI client. The API key falls back to the
// OPENAI_API_KEY environment variable when not provided via options.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:   openai.ChatModelGPT4oMini,
		Timeout: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Client{
		chat:    &cli.Chat.Completions,
		breaker: newBreaker(),
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}, nil
}

func newBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openai-chat",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("GenAI circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})
}

// complete runs one chat completion through the breaker and returns the
// first choice's content.
func (c *Client) complete(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	out, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.chat.New(ctx, params)
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, ErrNoChoicesReturned
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// ClassifyIntent asks the model to classify an inbound message. The system
// prompt must instruct the model to answer with a JSON object; the raw JSON
// text is returned for the caller to decode and validate.
func (c *Client) ClassifyIntent(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature: openai.Float(0.2),
		MaxTokens:   openai.Int(300),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}
	raw, err := c.complete(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to classify intent: %w", err)
	}
	return raw, nil
}

const sentimentSystemPrompt = `You analyze the sentiment of short SMS replies from event attendees.
Respond with a JSON object with these keys:
  "sentiment_score": number between 0.0 (very negative) and 1.0 (very positive)
  "confidence": number between 0.0 and 1.0
  "sentiment_category": one of "positive", "neutral", "negative"
  "key_indicators": array of short strings quoting the words that drove the score
  "emotional_tone": one short descriptive word
Score only the attendee's attitude toward the subject they were asked about.`

// AnalyzeSentiment runs sentiment analysis over an attendee reply and decodes
// the structured result. Callers decide how to degrade when an error is
// returned; this method never fabricates a score.
func (c *Client) AnalyzeSentiment(ctx context.Context, text string) (models.SentimentResult, error) {
	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(sentimentSystemPrompt),
			openai.UserMessage(text),
		},
		Temperature: openai.Float(0.2),
		MaxTokens:   openai.Int(300),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}
	raw, err := c.complete(ctx, params)
	if err != nil {
		return models.SentimentResult{}, fmt.Errorf("failed to analyze sentiment: %w", err)
	}
	var result models.SentimentResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return models.SentimentResult{}, fmt.Errorf("failed to decode sentiment response: %w", err)
	}
	if result.SentimentScore < 0 {
		result.SentimentScore = 0
	}
	if result.SentimentScore > 1 {
		result.SentimentScore = 1
	}
	return result, nil
}

// GenerateMessage generates free-form message text from the provided prompts.
func (c *Client) GenerateMessage(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
	}
	text, err := c.complete(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to generate message: %w", err)
	}
	return text, nil
}
