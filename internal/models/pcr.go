package models

import "time"

// PCRType identifies what kind of entity a Personal Connection Rating targets.
type PCRType string

const (
	PCRTypeSpeaker      PCRType = "speaker"
	PCRTypeSponsor      PCRType = "sponsor"
	PCRTypeSession      PCRType = "session"
	PCRTypePeerMatch    PCRType = "peer_match"
	PCRTypeOverallEvent PCRType = "overall_event"
)

// IsValidPCRType checks if the given PCR type is supported.
func IsValidPCRType(t PCRType) bool {
	switch t {
	case PCRTypeSpeaker, PCRTypeSponsor, PCRTypeSession, PCRTypePeerMatch, PCRTypeOverallEvent:
		return true
	default:
		return false
	}
}

// PCR scoring constants.
const (
	// PCRScaleMax is the explicit rating scale ceiling (1-5).
	PCRScaleMax = 5
	// PCRExplicitWeight is the blend weight given to the stated rating.
	PCRExplicitWeight = 0.7
	// PCRSentimentWeight is the blend weight given to the free-text tone.
	PCRSentimentWeight = 0.3
)

// SentimentResult is the normalized output of the external sentiment analysis.
type SentimentResult struct {
	SentimentScore float64  `json:"sentiment_score"` // 0.0 (very negative) .. 1.0 (very positive)
	Confidence     float64  `json:"confidence"`
	Category       string   `json:"sentiment_category"`
	KeyIndicators  []string `json:"key_indicators,omitempty"`
	EmotionalTone  string   `json:"emotional_tone,omitempty"`
}

// NeutralSentiment is the degraded result used when sentiment analysis fails.
// Feedback capture must never be lost because analysis failed.
func NeutralSentiment() SentimentResult {
	return SentimentResult{SentimentScore: 0.5, Confidence: 0.0, Category: "neutral"}
}

// PCRScore is the durable feedback row. At most one row exists per
// (EventID, AttendeeID, PCRType, EntityID); responses land via atomic upsert.
type PCRScore struct {
	ID             string     `json:"id"`
	EventID        string     `json:"event_id"`
	AttendeeID     string     `json:"attendee_id"`
	PCRType        PCRType    `json:"pcr_type"`
	EntityID       string     `json:"entity_id"`
	EntityName     string     `json:"entity_name,omitempty"`
	QuestionAsked  string     `json:"question_asked,omitempty"`
	ExplicitScore  *int       `json:"explicit_score,omitempty"` // 1-5, nil when only sentiment
	SentimentScore float64    `json:"sentiment_score"`
	FinalScore     float64    `json:"final_score"` // 0-5 blended
	ResponseText   string     `json:"response_text,omitempty"`
	SentimentJSON  string     `json:"sentiment_json,omitempty"`
	Confidence     float64    `json:"confidence"`
	RequestedAt    time.Time  `json:"requested_at"`
	RespondedAt    *time.Time `json:"responded_at,omitempty"`
}

// Responded reports whether this row has received a response.
func (p *PCRScore) Responded() bool {
	return p.RespondedAt != nil
}

// EntityAggregate is the recomputed average rating for one rated entity.
type EntityAggregate struct {
	PCRType       PCRType `json:"pcr_type"`
	EntityID      string  `json:"entity_id"`
	AverageScore  float64 `json:"average_score"`
	ResponseCount int     `json:"response_count"`
}

// EventPCRSummary aggregates all responded PCR rows for one event.
type EventPCRSummary struct {
	EventID            string  `json:"event_id"`
	TotalScores        int     `json:"total_scores"`
	AverageScore       float64 `json:"average_pcr"`
	LowestScore        float64 `json:"lowest_pcr"`
	HighestScore       float64 `json:"highest_pcr"`
	ExplicitCount      int     `json:"explicit_count"`
	SentimentOnlyCount int     `json:"sentiment_only_count"`
}
