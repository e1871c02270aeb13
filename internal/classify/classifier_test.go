package classify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ContractorHub/EventPulse/internal/models"
)

// mockIntentService implements intentService for testing.
type mockIntentService struct {
	raw    string
	err    error
	called bool
}

func (m *mockIntentService) ClassifyIntent(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m.called = true
	return m.raw, m.err
}

func contextWith(kinds ...models.MessageKind) *models.ConversationContext {
	cc := &models.ConversationContext{
		Attendee: models.Attendee{ID: "att-1", Name: "Dana", Phone: "+15551234567"},
		EventID:  "evt-1",
	}
	sentAt := time.Now().Add(-10 * time.Minute)
	for _, kind := range kinds {
		rec := models.OutboundRecord{
			ID:     "out-" + string(kind),
			Kind:   kind,
			SentAt: sentAt,
		}
		if kind == models.KindSpeakerRecommendation || kind == models.KindSponsorRecommendation {
			rec.Payload.RecommendedItems = []models.RecommendedItem{
				{Number: 1, EntityID: "e1", EntityName: "One"},
				{Number: 2, EntityID: "e2", EntityName: "Two"},
				{Number: 3, EntityID: "e3", EntityName: "Three"},
			}
		}
		rec.Expected = ExpectedFor(kind, rec.Payload)
		cc.Outbound = append(cc.Outbound, rec)
		sentAt = sentAt.Add(-time.Hour)
	}
	return cc
}

func classifyBody(t *testing.T, body string, cc *models.ConversationContext) *models.ClassificationResult {
	t.Helper()
	c := NewClassifier(nil)
	msg := &models.InboundMessage{AttendeeID: "att-1", Phone: "+15551234567", Body: body}
	return c.Classify(context.Background(), msg, cc)
}

func TestClassify_ContextRules(t *testing.T) {
	cases := []struct {
		name      string
		body      string
		kinds     []models.MessageKind
		wantRoute models.Route
		wantConf  float64
	}{
		{"speaker menu pick", "2", []models.MessageKind{models.KindSpeakerRecommendation}, models.RouteSpeakerDetails, 0.95},
		{"speaker rating above menu", "8", []models.MessageKind{models.KindSpeakerRecommendation}, models.RouteSpeakerFeedback, 0.90},
		{"feedback request rating", "9", []models.MessageKind{models.KindSpeakerFeedbackRequest}, models.RouteSpeakerFeedback, 0.90},
		{"sponsor menu pick", "1", []models.MessageKind{models.KindSponsorRecommendation}, models.RouteSponsorDetails, 0.95},
		{"connection rating", "4", []models.MessageKind{models.KindPCRRequest}, models.RoutePCRResponse, 0.95},
		{"peer match yes", "yes please!", []models.MessageKind{models.KindPeerMatchIntro}, models.RoutePeerMatchResponse, 0.90},
		{"peer match no", "nope", []models.MessageKind{models.KindPeerMatchIntro}, models.RoutePeerMatchResponse, 0.90},
		{"follow-up after details", "3", []models.MessageKind{models.KindSpeakerDetails, models.KindSpeakerRecommendation}, models.RouteSpeakerDetails, 0.95},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := classifyBody(t, tc.body, contextWith(tc.kinds...))
			if result.Route != tc.wantRoute {
				t.Errorf("expected route %s, got %s", tc.wantRoute, result.Route)
			}
			if result.Confidence != tc.wantConf {
				t.Errorf("expected confidence %v, got %v", tc.wantConf, result.Confidence)
			}
			if result.Layer != models.LayerContextRule {
				t.Errorf("expected context-rule layer, got %s", result.Layer)
			}
		})
	}
}

func TestClassify_NewestRecordWins(t *testing.T) {
	// PCR request is newer than the speaker recommendation, so "3" is a
	// connection rating, not a menu pick.
	cc := contextWith(models.KindPCRRequest, models.KindSpeakerRecommendation)
	result := classifyBody(t, "3", cc)
	if result.Route != models.RoutePCRResponse {
		t.Errorf("expected pcr_response, got %s", result.Route)
	}
}

func TestClassify_AILayerAccepted(t *testing.T) {
	mock := &mockIntentService{raw: `{"intent":"speaker_inquiry","route":"speaker_details","confidence":0.85,"reasoning":"asks about the keynote"}`}
	c := NewClassifier(mock)
	msg := &models.InboundMessage{AttendeeID: "att-1", Body: "who is giving the keynote tomorrow?"}
	result := c.Classify(context.Background(), msg, contextWith())
	if !mock.called {
		t.Fatal("expected AI layer to be called")
	}
	if result.Route != models.RouteSpeakerDetails || result.Layer != models.LayerAI {
		t.Errorf("expected AI speaker_details, got %s via %s", result.Route, result.Layer)
	}
}

func TestClassify_AILowConfidenceFallsThrough(t *testing.T) {
	mock := &mockIntentService{raw: `{"intent":"unsure","route":"general_question","confidence":0.4,"reasoning":"ambiguous"}`}
	c := NewClassifier(mock)
	msg := &models.InboundMessage{AttendeeID: "att-1", Body: "where is the sponsor hall?"}
	result := c.Classify(context.Background(), msg, contextWith())
	if result.Layer != models.LayerKeyword {
		t.Errorf("expected keyword layer, got %s", result.Layer)
	}
	if result.Route != models.RouteSponsorDetails {
		t.Errorf("expected sponsor_details, got %s", result.Route)
	}
}

func TestClassify_AIErrorFallsThrough(t *testing.T) {
	mock := &mockIntentService{err: errors.New("context deadline exceeded")}
	c := NewClassifier(mock)
	msg := &models.InboundMessage{AttendeeID: "att-1", Body: "something unrelated"}
	result := c.Classify(context.Background(), msg, contextWith())
	if result.Route != models.RouteClarification || result.Layer != models.LayerFallback {
		t.Errorf("expected clarification fallback, got %s via %s", result.Route, result.Layer)
	}
	// The AI failure must be visible in the terminal result, not just the log.
	if !strings.Contains(result.Reasoning, "context deadline exceeded") {
		t.Errorf("expected reasoning to carry the AI error, got %q", result.Reasoning)
	}
}

func TestClassify_AIMalformedJSONFallsThrough(t *testing.T) {
	mock := &mockIntentService{raw: "not json at all"}
	c := NewClassifier(mock)
	msg := &models.InboundMessage{AttendeeID: "att-1", Body: "hmm"}
	result := c.Classify(context.Background(), msg, contextWith())
	if result.Layer != models.LayerFallback {
		t.Errorf("expected fallback layer, got %s", result.Layer)
	}
	if !strings.Contains(result.Reasoning, "malformed JSON") {
		t.Errorf("expected reasoning to note the parse failure, got %q", result.Reasoning)
	}
}

func TestTryAI_UnknownRouteDowngraded(t *testing.T) {
	mock := &mockIntentService{raw: `{"intent":"x","route":"made_up_route","confidence":0.95,"reasoning":"invented"}`}
	c := NewClassifier(mock)
	result, _ := c.tryAI(context.Background(), "hello", contextWith())
	if result.Route != models.RouteGeneralQuestion {
		t.Errorf("expected general_question, got %s", result.Route)
	}
	if result.Confidence != models.FallbackConfidence {
		t.Errorf("expected downgraded confidence, got %v", result.Confidence)
	}
	if !strings.Contains(result.Reasoning, "made_up_route") {
		t.Errorf("expected reasoning to name the unknown route, got %q", result.Reasoning)
	}
}

func TestClassify_KeywordLayer(t *testing.T) {
	cases := []struct {
		body      string
		wantRoute models.Route
	}{
		{"3", models.RoutePCRResponse},
		{"when does the next talk start", models.RouteSpeakerDetails},
		{"which vendors are worth visiting", models.RouteSponsorDetails},
		{"just arrived at the venue", models.RouteEventCheckin},
	}
	for _, tc := range cases {
		result := classifyBody(t, tc.body, contextWith())
		if result.Route != tc.wantRoute {
			t.Errorf("body %q: expected %s, got %s", tc.body, tc.wantRoute, result.Route)
		}
		if result.Layer != models.LayerKeyword {
			t.Errorf("body %q: expected keyword layer, got %s", tc.body, result.Layer)
		}
	}
}

func TestClassify_TerminalFallback(t *testing.T) {
	result := classifyBody(t, "qwerty asdf", contextWith())
	if result.Route != models.RouteClarification {
		t.Errorf("expected clarification_needed, got %s", result.Route)
	}
	if result.Confidence != models.FallbackConfidence {
		t.Errorf("expected fallback confidence, got %v", result.Confidence)
	}
}

func TestMatchNumber(t *testing.T) {
	cases := []struct {
		body  string
		min   int
		max   int
		want  int
		match bool
	}{
		{"3", 1, 5, 3, true},
		{" 2! ", 1, 3, 2, true},
		{"option 2 please", 1, 3, 2, true},
		{"7", 1, 5, 0, false},
		{"I met about 2 dozen people at the networking mixer last night", 1, 5, 0, false},
		{"no numbers here", 1, 5, 0, false},
	}
	for _, tc := range cases {
		got, ok := MatchNumber(tc.body, tc.min, tc.max)
		if ok != tc.match || got != tc.want {
			t.Errorf("MatchNumber(%q, %d, %d) = (%d, %v), want (%d, %v)",
				tc.body, tc.min, tc.max, got, ok, tc.want, tc.match)
		}
	}
}

func TestApplyShapeOverride(t *testing.T) {
	original := &models.ClassificationResult{
		Intent:     "connection_rating",
		Route:      models.RoutePCRResponse,
		Confidence: 0.75,
		Layer:      models.LayerAI,
	}
	overridden := ApplyShapeOverride(original, "it was honestly a mixed experience")
	if overridden.Route != models.RouteGeneralQuestion {
		t.Errorf("expected override to general_question, got %s", overridden.Route)
	}
	if overridden.Layer != models.LayerValidationOverride {
		t.Errorf("expected validation-override layer, got %s", overridden.Layer)
	}
	if overridden.Confidence != models.ValidationOverrideConfidence {
		t.Errorf("expected override confidence, got %v", overridden.Confidence)
	}
	if overridden.OverriddenRoute != models.RoutePCRResponse {
		t.Errorf("expected original route preserved, got %s", overridden.OverriddenRoute)
	}

	kept := ApplyShapeOverride(original, "4")
	if kept != original {
		t.Error("expected conforming body to keep the original result")
	}
}

func TestValidateForRoute(t *testing.T) {
	if !ValidateForRoute(models.RouteGeneralQuestion, "anything goes") {
		t.Error("shapeless route should always pass")
	}
	if ValidateForRoute(models.RouteSpeakerFeedback, "fantastic session") {
		t.Error("numeric route should reject free text")
	}
	if !ValidateForRoute(models.RouteSpeakerFeedback, "10") {
		t.Error("numeric route should accept an in-range number")
	}
	if !ValidateForRoute(models.RoutePeerMatchResponse, "sure, connect us") {
		t.Error("affirmative route should accept a yes opener")
	}
}
