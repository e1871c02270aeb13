package models

// Route names the conversation handler responsible for continuing a workflow.
type Route string

const (
	// RouteSpeakerDetails handles requests for details about a recommended speaker.
	RouteSpeakerDetails Route = "speaker_details"
	// RouteSpeakerFeedback handles speaker session ratings (1-10 scale).
	RouteSpeakerFeedback Route = "speaker_feedback"
	// RouteSponsorDetails handles requests for sponsor booth information.
	RouteSponsorDetails Route = "sponsor_details"
	// RoutePCRResponse handles Personal Connection Rating replies (1-5 scale).
	RoutePCRResponse Route = "pcr_response"
	// RoutePeerMatchResponse handles replies to peer introduction offers.
	RoutePeerMatchResponse Route = "peer_match_response"
	// RouteEventCheckin handles check-in and event logistics replies.
	RouteEventCheckin Route = "event_checkin"
	// RouteGeneralQuestion is the generic conversational fallback.
	RouteGeneralQuestion Route = "general_question"
	// RouteClarification terminates classification when no layer produced a candidate.
	RouteClarification Route = "clarification_needed"
)

// RouteCatalog is the fixed set of dispatchable routes with the descriptions
// the AI classifier is shown. Routes outside this catalog are never dispatched.
var RouteCatalog = map[Route]string{
	RouteSpeakerDetails:    "User wants details about a specific speaker session",
	RouteSpeakerFeedback:   "User providing rating/feedback for a speaker (1-10 scale)",
	RouteSponsorDetails:    "User wants information about a specific sponsor booth",
	RoutePCRResponse:       "User providing Personal Connection Rating (1-5 scale)",
	RoutePeerMatchResponse: "User responding to peer introduction/networking opportunity",
	RouteEventCheckin:      "User checking in or asking about event logistics",
	RouteGeneralQuestion:   "General event question - route to conversational assistant",
}

// IsKnownRoute reports whether the route is a member of the dispatchable catalog.
func IsKnownRoute(r Route) bool {
	_, ok := RouteCatalog[r]
	return ok || r == RouteClarification
}

// Layer identifies which classification layer produced a result.
type Layer string

const (
	LayerContextRule        Layer = "context-rule"
	LayerAI                 Layer = "ai"
	LayerKeyword            Layer = "keyword"
	LayerFallback           Layer = "fallback"
	LayerValidationOverride Layer = "validation-override"
)

// Classification confidence constants shared across the pipeline.
const (
	// DecisionThreshold is the minimum confidence for the AI layer to win.
	DecisionThreshold = 0.7
	// FallbackConfidence is assigned to downgraded or unclassified results.
	FallbackConfidence = 0.3
	// ValidationOverrideConfidence is assigned when a shape check overrides a route.
	ValidationOverrideConfidence = 0.85
)

// MessageKind declares the semantic type of an outbound message. The kind
// drives both expected-response inference and outbound rendering.
type MessageKind string

const (
	// KindSpeakerRecommendation offers up to 3 recommended speakers.
	KindSpeakerRecommendation MessageKind = "speaker_recommendation"
	// KindSpeakerDetails is the reply carrying one speaker's session details.
	KindSpeakerDetails MessageKind = "speaker_details_response"
	// KindSpeakerFeedbackRequest asks for a 1-10 session rating.
	KindSpeakerFeedbackRequest MessageKind = "speaker_feedback_request"
	// KindSponsorRecommendation offers up to 3 recommended sponsor booths.
	KindSponsorRecommendation MessageKind = "sponsor_recommendation"
	// KindSponsorDetails is the reply carrying one sponsor's booth details.
	KindSponsorDetails MessageKind = "sponsor_details_response"
	// KindPCRRequest asks for a 1-5 Personal Connection Rating.
	KindPCRRequest MessageKind = "pcr_request"
	// KindPeerMatchIntro introduces a matched peer and asks yes/no.
	KindPeerMatchIntro MessageKind = "peer_matching_introduction"
	// KindEventCheckin confirms arrival or shares logistics.
	KindEventCheckin MessageKind = "event_checkin"
	// KindGeneralReply is free-form conversational output.
	KindGeneralReply MessageKind = "general_reply"
	// KindCampaign is a pre-scheduled bulk campaign message.
	KindCampaign MessageKind = "campaign"
)

// IsValidMessageKind checks if the given message kind is supported.
func IsValidMessageKind(k MessageKind) bool {
	switch k {
	case KindSpeakerRecommendation, KindSpeakerDetails, KindSpeakerFeedbackRequest,
		KindSponsorRecommendation, KindSponsorDetails, KindPCRRequest,
		KindPeerMatchIntro, KindEventCheckin, KindGeneralReply, KindCampaign:
		return true
	default:
		return false
	}
}

// RelationshipKinds are outbound kinds whose final text is produced by the
// external text-generation capability rather than a static template.
var RelationshipKinds = map[MessageKind]bool{
	KindPeerMatchIntro: true,
	KindGeneralReply:   true,
	KindCampaign:       true,
}
