// Package classify implements the layered inbound-message classification
// pipeline: context rules, AI classification, keyword matching, and a
// terminal clarification fallback.
package classify

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ContractorHub/EventPulse/internal/models"
)

// Compiled reply-shape patterns shared by the resolver, the rule layer,
// and the validator.
var (
	// bareNumberRe matches a reply that is nothing but a one or two digit
	// number, with optional trailing punctuation.
	bareNumberRe = regexp.MustCompile(`^\s*(\d{1,2})\s*[.!)]?\s*$`)
	// embeddedNumberRe matches a standalone number inside a short reply
	// such as "option 2 please".
	embeddedNumberRe = regexp.MustCompile(`\b(\d{1,2})\b`)
	// affirmativeRe matches a reply that opens with a yes-style token.
	affirmativeRe = regexp.MustCompile(`(?i)^\s*(yes|yeah|yep|yea|sure|ok|okay|y|interested|definitely|absolutely|sounds\s+good)\b`)
	// negativeRe matches a reply that opens with a no-style token.
	negativeRe = regexp.MustCompile(`(?i)^\s*(no|nope|nah|n|pass|not\s+interested)\b`)
)

// embeddedNumberMaxLen bounds how long a reply may be before an embedded
// number stops counting as a selection. Long sentences that happen to
// contain a digit are not menu picks.
const embeddedNumberMaxLen = 40

// MatchNumber extracts a number in [min,max] from a short reply. A bare
// number always matches; an embedded number matches only in short replies.
func MatchNumber(body string, min, max int) (int, bool) {
	trimmed := strings.TrimSpace(body)
	if m := bareNumberRe.FindStringSubmatch(trimmed); m != nil {
		return numberInRange(m[1], min, max)
	}
	if len(trimmed) <= embeddedNumberMaxLen {
		if m := embeddedNumberRe.FindStringSubmatch(trimmed); m != nil {
			return numberInRange(m[1], min, max)
		}
	}
	return 0, false
}

func numberInRange(s string, min, max int) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n < min || n > max {
		return 0, false
	}
	return n, true
}

// MatchAffirmative reports whether the reply opens with a yes/no token.
// The second return distinguishes yes (true) from no (false).
func MatchAffirmative(body string) (matched bool, affirmative bool) {
	if affirmativeRe.MatchString(body) {
		return true, true
	}
	if negativeRe.MatchString(body) {
		return true, false
	}
	return false, false
}

// ExpectedFor derives the reply shape an outbound message of the given kind
// solicits. This is the single source of truth consumed by the context
// resolver, the rule layer, and the validator.
func ExpectedFor(kind models.MessageKind, payload models.Personalization) *models.ExpectedResponse {
	switch kind {
	case models.KindSpeakerRecommendation:
		return &models.ExpectedResponse{
			Shape:       models.ShapeMenuSelection,
			Min:         1,
			Max:         menuMax(payload.RecommendedItems),
			OptionCount: len(payload.RecommendedItems),
			Options:     payload.RecommendedItems,
			Description: "reply with the number of a recommended speaker",
		}
	case models.KindSponsorRecommendation:
		return &models.ExpectedResponse{
			Shape:       models.ShapeMenuSelection,
			Min:         1,
			Max:         menuMax(payload.RecommendedItems),
			OptionCount: len(payload.RecommendedItems),
			Options:     payload.RecommendedItems,
			Description: "reply with the number of a recommended sponsor",
		}
	case models.KindSpeakerFeedbackRequest:
		return &models.ExpectedResponse{
			Shape:       models.ShapeNumeric,
			Min:         1,
			Max:         10,
			Description: "rate the session from 1 to 10",
		}
	case models.KindPCRRequest:
		return &models.ExpectedResponse{
			Shape:       models.ShapeNumeric,
			Min:         1,
			Max:         models.PCRScaleMax,
			Description: "rate the connection from 1 to 5",
		}
	case models.KindPeerMatchIntro:
		return &models.ExpectedResponse{
			Shape:       models.ShapeAffirmative,
			Description: "reply yes or no to the introduction",
		}
	default:
		return &models.ExpectedResponse{Shape: models.ShapeFreeText}
	}
}

func menuMax(items []models.RecommendedItem) int {
	if len(items) == 0 {
		return 3
	}
	if len(items) > 3 {
		return 3
	}
	return len(items)
}

// routeShapes maps routes that demand a rigid reply shape to the expected
// shape the validator enforces. Routes absent from this table accept any
// text.
var routeShapes = map[models.Route]models.ExpectedResponse{
	models.RouteSpeakerDetails:    {Shape: models.ShapeMenuSelection, Min: 1, Max: 3},
	models.RouteSponsorDetails:    {Shape: models.ShapeMenuSelection, Min: 1, Max: 3},
	models.RouteSpeakerFeedback:   {Shape: models.ShapeNumeric, Min: 1, Max: 10},
	models.RoutePCRResponse:       {Shape: models.ShapeNumeric, Min: 1, Max: models.PCRScaleMax},
	models.RoutePeerMatchResponse: {Shape: models.ShapeAffirmative},
}
