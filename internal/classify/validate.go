package classify

import (
	"fmt"

	"github.com/ContractorHub/EventPulse/internal/models"
)

// ValidateForRoute reports whether the message body conforms to the reply
// shape the route's handler requires. Routes without a rigid shape always
// pass.
func ValidateForRoute(route models.Route, body string) bool {
	shape, ok := routeShapes[route]
	if !ok {
		return true
	}
	switch shape.Shape {
	case models.ShapeNumeric, models.ShapeMenuSelection:
		_, ok := MatchNumber(body, shape.Min, shape.Max)
		return ok
	case models.ShapeAffirmative:
		matched, _ := MatchAffirmative(body)
		return matched
	default:
		return true
	}
}

// ApplyShapeOverride checks the classified route against its required reply
// shape. A mismatch overrides the classification to general_question so the
// conversational handler can untangle the message instead of a rigid handler
// choking on it. The original decision is preserved on the result.
func ApplyShapeOverride(result *models.ClassificationResult, body string) *models.ClassificationResult {
	if ValidateForRoute(result.Route, body) {
		return result
	}
	return &models.ClassificationResult{
		Intent:          result.Intent,
		Route:           models.RouteGeneralQuestion,
		Confidence:      models.ValidationOverrideConfidence,
		Layer:           models.LayerValidationOverride,
		Reasoning:       fmt.Sprintf("message does not match the reply shape required by %s", result.Route),
		OverriddenRoute: result.Route,
		Context:         result.Context,
		ProcessingMs:    result.ProcessingMs,
	}
}
