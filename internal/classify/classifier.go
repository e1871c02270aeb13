package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/ContractorHub/EventPulse/internal/models"
)

// intentService is the GenAI surface the AI layer calls.
type intentService interface {
	ClassifyIntent(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Classifier runs the layered classification pipeline. Layers are tried in
// order and the first confident result wins: context rules, AI, keywords,
// then the terminal clarification fallback. Classify never returns an
// error; every failure mode degrades to a lower layer.
type Classifier struct {
	ai intentService // nil disables the AI layer
}

// NewClassifier creates a classifier. Pass nil to run without the AI layer.
func NewClassifier(ai intentService) *Classifier {
	return &Classifier{ai: ai}
}

// Classify determines the route for one inbound message against its
// conversation context.
func (c *Classifier) Classify(ctx context.Context, msg *models.InboundMessage, cc *models.ConversationContext) *models.ClassificationResult {
	start := time.Now()
	result := c.classify(ctx, msg.Body, cc)
	result.Context = cc
	result.ProcessingMs = time.Since(start).Milliseconds()
	slog.Debug("Classifier decision", "attendee_id", msg.AttendeeID,
		"route", result.Route, "layer", result.Layer, "confidence", result.Confidence)
	return result
}

func (c *Classifier) classify(ctx context.Context, body string, cc *models.ConversationContext) *models.ClassificationResult {
	if r := tryContextRules(body, cc); r != nil {
		return r
	}
	var aiNote string
	if c.ai != nil {
		r, note := c.tryAI(ctx, body, cc)
		if r != nil && r.Confidence >= models.DecisionThreshold {
			return r
		}
		aiNote = note
	}
	if r := tryKeywords(body); r != nil {
		return r
	}
	reasoning := "no classification layer produced a confident route"
	if aiNote != "" {
		reasoning = reasoning + "; " + aiNote
	}
	return &models.ClassificationResult{
		Intent:     "unclear",
		Route:      models.RouteClarification,
		Confidence: models.FallbackConfidence,
		Layer:      models.LayerFallback,
		Reasoning:  reasoning,
	}
}

// tryContextRules scans the windowed outbound history newest first and
// applies per-kind reply rules. A hit wins outright.
func tryContextRules(body string, cc *models.ConversationContext) *models.ClassificationResult {
	if cc == nil {
		return nil
	}
	for i := range cc.Outbound {
		rec := &cc.Outbound[i]
		if r := ruleForRecord(body, rec, cc); r != nil {
			return r
		}
	}
	return nil
}

func ruleForRecord(body string, rec *models.OutboundRecord, cc *models.ConversationContext) *models.ClassificationResult {
	exp := rec.Expected
	if exp == nil {
		exp = ExpectedFor(rec.Kind, rec.Payload)
	}
	switch rec.Kind {
	case models.KindSpeakerRecommendation:
		if n, ok := MatchNumber(body, exp.Min, exp.Max); ok {
			return ruleResult("speaker_selection", models.RouteSpeakerDetails, 0.95,
				fmt.Sprintf("selected option %d from a speaker recommendation", n))
		}
		if n, ok := MatchNumber(body, exp.Max+1, 10); ok {
			return ruleResult("speaker_rating", models.RouteSpeakerFeedback, 0.90,
				fmt.Sprintf("number %d outside the menu range reads as a session rating", n))
		}
	case models.KindSpeakerFeedbackRequest:
		if n, ok := MatchNumber(body, 1, 10); ok {
			return ruleResult("speaker_rating", models.RouteSpeakerFeedback, 0.90,
				fmt.Sprintf("rating %d replies to a session feedback request", n))
		}
	case models.KindSponsorRecommendation:
		if n, ok := MatchNumber(body, exp.Min, exp.Max); ok {
			return ruleResult("sponsor_selection", models.RouteSponsorDetails, 0.95,
				fmt.Sprintf("selected option %d from a sponsor recommendation", n))
		}
	case models.KindPCRRequest:
		if n, ok := MatchNumber(body, 1, models.PCRScaleMax); ok {
			return ruleResult("connection_rating", models.RoutePCRResponse, 0.95,
				fmt.Sprintf("rating %d replies to a connection rating request", n))
		}
	case models.KindPeerMatchIntro:
		if matched, _ := MatchAffirmative(body); matched {
			return ruleResult("peer_match_decision", models.RoutePeerMatchResponse, 0.90,
				"yes/no reply to a peer introduction")
		}
	case models.KindSpeakerDetails:
		// A digit after a details reply is a follow-up pick as long as the
		// original recommendation is still inside the window.
		if cc.FindKind(models.KindSpeakerRecommendation) != nil {
			if n, ok := MatchNumber(body, 1, 3); ok {
				return ruleResult("speaker_selection", models.RouteSpeakerDetails, 0.95,
					fmt.Sprintf("follow-up selection %d after speaker details", n))
			}
		}
	}
	return nil
}

func ruleResult(intent string, route models.Route, confidence float64, reasoning string) *models.ClassificationResult {
	return &models.ClassificationResult{
		Intent:     intent,
		Route:      route,
		Confidence: confidence,
		Layer:      models.LayerContextRule,
		Reasoning:  reasoning,
	}
}

// aiDecision is the JSON shape the classification model is instructed to emit.
type aiDecision struct {
	Intent     string  `json:"intent"`
	Route      string  `json:"route"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// tryAI returns the AI layer's result, or nil with a failure note when the
// call or its JSON could not be used. The note surfaces in the terminal
// fallback's reasoning.
func (c *Classifier) tryAI(ctx context.Context, body string, cc *models.ConversationContext) (*models.ClassificationResult, string) {
	raw, err := c.ai.ClassifyIntent(ctx, classificationSystemPrompt(), classificationUserPrompt(body, cc))
	if err != nil {
		slog.Warn("Classifier AI layer failed, falling through", "error", err)
		return nil, fmt.Sprintf("AI layer failed: %v", err)
	}
	var decision aiDecision
	if err := json.Unmarshal([]byte(raw), &decision); err != nil {
		slog.Warn("Classifier AI layer returned malformed JSON, falling through", "error", err)
		return nil, fmt.Sprintf("AI layer returned malformed JSON: %v", err)
	}
	if decision.Confidence < 0 {
		decision.Confidence = 0
	}
	if decision.Confidence > 1 {
		decision.Confidence = 1
	}
	result := &models.ClassificationResult{
		Intent:     decision.Intent,
		Route:      models.Route(decision.Route),
		Confidence: decision.Confidence,
		Layer:      models.LayerAI,
		Reasoning:  decision.Reasoning,
	}
	if _, known := models.RouteCatalog[result.Route]; !known {
		result.Reasoning = fmt.Sprintf("%s (unrecognized route %q downgraded)", decision.Reasoning, decision.Route)
		result.Route = models.RouteGeneralQuestion
		result.Confidence = models.FallbackConfidence
	}
	return result, ""
}

func classificationSystemPrompt() string {
	var b strings.Builder
	b.WriteString("You route inbound SMS replies from event attendees to the correct handler.\n")
	b.WriteString("Available routes:\n")
	for _, route := range []models.Route{
		models.RouteSpeakerDetails, models.RouteSpeakerFeedback,
		models.RouteSponsorDetails, models.RoutePCRResponse,
		models.RoutePeerMatchResponse, models.RouteEventCheckin,
		models.RouteGeneralQuestion,
	} {
		fmt.Fprintf(&b, "  %s: %s\n", route, models.RouteCatalog[route])
	}
	b.WriteString(`Rules:
- A bare number replying to a recent rating request is a rating, not a question.
- Consider the most recent outbound messages first.
- Respond with a JSON object: {"intent": string, "route": string, "confidence": number 0-1, "reasoning": string}.
- Use a low confidence when the message is ambiguous.`)
	return b.String()
}

func classificationUserPrompt(body string, cc *models.ConversationContext) string {
	var b strings.Builder
	if cc != nil {
		if cc.Attendee.Name != "" {
			fmt.Fprintf(&b, "Attendee: %s", cc.Attendee.Name)
			if cc.Attendee.Company != "" {
				fmt.Fprintf(&b, " (%s)", cc.Attendee.Company)
			}
			b.WriteString("\n")
		}
		if len(cc.Outbound) > 0 {
			b.WriteString("Recent outbound messages, newest first:\n")
			for i := range cc.Outbound {
				rec := &cc.Outbound[i]
				fmt.Fprintf(&b, "  - %s (%s ago)\n", rec.Kind, rec.SentAt.UTC().Format("15:04 Jan 2"))
			}
		} else {
			b.WriteString("No recent outbound messages.\n")
		}
	}
	fmt.Fprintf(&b, "Inbound message: %q", body)
	return b.String()
}

// Keyword patterns for the third layer.
var (
	speakerKeywordRe = regexp.MustCompile(`(?i)\b(speaker|session|talk)s?\b`)
	sponsorKeywordRe = regexp.MustCompile(`(?i)\b(sponsor|booth|vendor)s?\b`)
	checkinKeywordRe = regexp.MustCompile(`(?i)\b(check(ed)?([ -])?in|here|arrived)\b`)
)

func tryKeywords(body string) *models.ClassificationResult {
	if n, ok := MatchNumber(body, 1, models.PCRScaleMax); ok {
		if bareNumberRe.MatchString(strings.TrimSpace(body)) {
			return keywordResult("bare_rating", models.RoutePCRResponse, 0.60,
				fmt.Sprintf("bare number %d without matching context reads as a connection rating", n))
		}
	}
	if speakerKeywordRe.MatchString(body) {
		return keywordResult("speaker_inquiry", models.RouteSpeakerDetails, 0.65,
			"mentions a speaker, session, or talk")
	}
	if sponsorKeywordRe.MatchString(body) {
		return keywordResult("sponsor_inquiry", models.RouteSponsorDetails, 0.65,
			"mentions a sponsor, booth, or vendor")
	}
	if checkinKeywordRe.MatchString(body) {
		return keywordResult("checkin", models.RouteEventCheckin, 0.60,
			"mentions arrival or checking in")
	}
	return nil
}

func keywordResult(intent string, route models.Route, confidence float64, reasoning string) *models.ClassificationResult {
	return &models.ClassificationResult{
		Intent:     intent,
		Route:      route,
		Confidence: confidence,
		Layer:      models.LayerKeyword,
		Reasoning:  reasoning,
	}
}
