// Package pcr implements the Personal Connection Rating scoring engine:
// rating requests, response capture with sentiment blending, and aggregate
// recomputation for rated entities.
package pcr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/ContractorHub/EventPulse/internal/models"
	"github.com/ContractorHub/EventPulse/internal/store"
	"github.com/ContractorHub/EventPulse/internal/util"
)

// explicitScoreRe extracts a standalone 1-5 rating from a reply.
var explicitScoreRe = regexp.MustCompile(`\b([1-5])\b`)

// scoreStore is the storage surface the scoring engine needs.
type scoreStore interface {
	InsertPCRRequest(ctx context.Context, s *models.PCRScore) error
	UpsertPCRResponse(ctx context.Context, s *models.PCRScore) error
	GetPCRScore(ctx context.Context, eventID, attendeeID string, pcrType models.PCRType, entityID string) (*models.PCRScore, error)
	ListPCRScores(ctx context.Context, eventID string) ([]models.PCRScore, error)
	ComputeEntityAggregate(ctx context.Context, pcrType models.PCRType, entityID string) (*models.EntityAggregate, error)
	SaveEntityAggregate(ctx context.Context, agg *models.EntityAggregate) error
}

// sentimentService analyzes free-text tone.
type sentimentService interface {
	AnalyzeSentiment(ctx context.Context, text string) (models.SentimentResult, error)
}

// enqueuer schedules the outbound rating question.
type enqueuer interface {
	Enqueue(ctx context.Context, m *models.ScheduledMessage) error
}

// Service is the PCR scoring engine.
type Service struct {
	store     scoreStore
	sentiment sentimentService // nil degrades every response to neutral
	scheduler enqueuer         // nil skips question delivery
	now       func() time.Time
}

// NewService creates a scoring engine. The sentiment service and scheduler
// are optional; passing nil disables the corresponding behavior.
func NewService(st scoreStore, sentiment sentimentService, scheduler enqueuer) *Service {
	return &Service{store: st, sentiment: sentiment, scheduler: scheduler, now: time.Now}
}

// RequestScore records that a rating was solicited and schedules the
// question for immediate delivery. Re-requesting the same
// (event, attendee, type, entity) refreshes the existing row instead of
// creating a second one.
func (s *Service) RequestScore(ctx context.Context, eventID, attendeeID string, pcrType models.PCRType, entityID, entityName string) (*models.PCRScore, error) {
	if !models.IsValidPCRType(pcrType) {
		return nil, models.ErrInvalidPCRType
	}
	now := s.now().UTC()
	question := QuestionFor(pcrType, entityName)
	score := &models.PCRScore{
		ID:            util.GeneratePCRScoreID(),
		EventID:       eventID,
		AttendeeID:    attendeeID,
		PCRType:       pcrType,
		EntityID:      entityID,
		EntityName:    entityName,
		QuestionAsked: question,
		RequestedAt:   now,
	}
	if err := s.store.InsertPCRRequest(ctx, score); err != nil {
		return nil, fmt.Errorf("failed to record PCR request: %w", err)
	}
	if s.scheduler != nil {
		msg := &models.ScheduledMessage{
			ID:            util.GenerateMessageID(),
			AttendeeID:    attendeeID,
			EventID:       eventID,
			Kind:          models.KindPCRRequest,
			ScheduledTime: now,
			Content:       question,
			Status:        models.ScheduledStatusPending,
			Payload: models.Personalization{
				EntityID:   entityID,
				EntityName: entityName,
				PCRType:    pcrType,
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.scheduler.Enqueue(ctx, msg); err != nil {
			return nil, fmt.Errorf("failed to schedule PCR question: %w", err)
		}
	}
	slog.Info("PCR request recorded", "event_id", eventID, "attendee_id", attendeeID,
		"pcr_type", pcrType, "entity_id", entityID)
	return score, nil
}

// RecordResponse captures a rating reply. The explicit 1-5 score, when
// present, is blended with sentiment 70/30 on the 5-point scale;
// sentiment-only replies score sentiment alone. A failed sentiment analysis
// degrades to neutral rather than dropping the feedback. The entity
// aggregate is recomputed after the upsert.
func (s *Service) RecordResponse(ctx context.Context, eventID, attendeeID string, pcrType models.PCRType, entityID, entityName, responseText string) (*models.PCRScore, error) {
	if !models.IsValidPCRType(pcrType) {
		return nil, models.ErrInvalidPCRType
	}
	return s.record(ctx, eventID, attendeeID, pcrType, entityID, entityName, extractExplicitScore(responseText), responseText)
}

// RecordSessionRating captures a session rating asked on the 10-point scale.
// The rating is normalized onto the PCR scale before the blend so session
// aggregates stay comparable with the other PCR types.
func (s *Service) RecordSessionRating(ctx context.Context, eventID, attendeeID, entityID, entityName string, rating int, responseText string) (*models.PCRScore, error) {
	if rating < 1 || rating > SessionScaleMax {
		return nil, fmt.Errorf("session rating %d outside 1-%d", rating, SessionScaleMax)
	}
	normalized := normalizeSessionRating(rating)
	return s.record(ctx, eventID, attendeeID, models.PCRTypeSession, entityID, entityName, &normalized, responseText)
}

func (s *Service) record(ctx context.Context, eventID, attendeeID string, pcrType models.PCRType, entityID, entityName string, explicit *int, responseText string) (*models.PCRScore, error) {
	now := s.now().UTC()
	sentiment := s.analyzeSentiment(ctx, responseText)
	final := blendScore(explicit, sentiment.SentimentScore)

	sentimentJSON, err := json.Marshal(sentiment)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sentiment result: %w", err)
	}

	score := &models.PCRScore{
		ID:             util.GeneratePCRScoreID(),
		EventID:        eventID,
		AttendeeID:     attendeeID,
		PCRType:        pcrType,
		EntityID:       entityID,
		EntityName:     entityName,
		ExplicitScore:  explicit,
		SentimentScore: sentiment.SentimentScore,
		FinalScore:     final,
		ResponseText:   responseText,
		SentimentJSON:  string(sentimentJSON),
		Confidence:     sentiment.Confidence,
		RequestedAt:    now,
		RespondedAt:    &now,
	}
	// Unsolicited feedback creates a fresh row; a reply to a tracked request
	// lands on the existing one.
	if existing, err := s.store.GetPCRScore(ctx, eventID, attendeeID, pcrType, entityID); err == nil {
		score.ID = existing.ID
		score.QuestionAsked = existing.QuestionAsked
		score.RequestedAt = existing.RequestedAt
		if score.EntityName == "" {
			score.EntityName = existing.EntityName
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		slog.Warn("PCR response lookup failed, writing a fresh row", "error", err,
			"attendee_id", attendeeID, "entity_id", entityID)
	}

	if err := s.store.UpsertPCRResponse(ctx, score); err != nil {
		return nil, fmt.Errorf("failed to record PCR response: %w", err)
	}
	if _, err := s.RecomputeEntityAggregate(ctx, pcrType, entityID); err != nil {
		slog.Warn("PCR aggregate recompute failed", "error", err,
			"pcr_type", pcrType, "entity_id", entityID)
	}
	slog.Info("PCR response recorded", "event_id", eventID, "attendee_id", attendeeID,
		"pcr_type", pcrType, "entity_id", entityID, "final_score", score.FinalScore,
		"explicit", explicit != nil)
	return score, nil
}

func (s *Service) analyzeSentiment(ctx context.Context, text string) models.SentimentResult {
	if s.sentiment == nil {
		return models.NeutralSentiment()
	}
	result, err := s.sentiment.AnalyzeSentiment(ctx, text)
	if err != nil {
		slog.Warn("Sentiment analysis failed, degrading to neutral", "error", err)
		return models.NeutralSentiment()
	}
	return result
}

// SessionScaleMax is the top of the 10-point session rating scale.
const SessionScaleMax = 10

// normalizeSessionRating maps a 1-10 session rating onto the 1-5 PCR scale.
func normalizeSessionRating(rating int) int {
	return int(math.Round(float64(rating-1)*float64(models.PCRScaleMax-1)/float64(SessionScaleMax-1))) + 1
}

// extractExplicitScore pulls a standalone 1-5 from the reply, or nil.
func extractExplicitScore(text string) *int {
	m := explicitScoreRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &n
}

// blendScore computes the 0-5 final score: explicit*0.7 + sentiment5*0.3
// when an explicit rating exists, sentiment alone on the 5-point scale
// otherwise.
func blendScore(explicit *int, sentimentScore float64) float64 {
	sentiment5 := sentimentScore * models.PCRScaleMax
	var final float64
	if explicit != nil {
		final = float64(*explicit)*models.PCRExplicitWeight + sentiment5*models.PCRSentimentWeight
	} else {
		final = sentiment5
	}
	return math.Round(final*100) / 100
}

// RecomputeEntityAggregate recalculates the average over all responded rows
// for the entity and persists it.
func (s *Service) RecomputeEntityAggregate(ctx context.Context, pcrType models.PCRType, entityID string) (*models.EntityAggregate, error) {
	agg, err := s.store.ComputeEntityAggregate(ctx, pcrType, entityID)
	if err != nil {
		return nil, err
	}
	agg.AverageScore = math.Round(agg.AverageScore*100) / 100
	if err := s.store.SaveEntityAggregate(ctx, agg); err != nil {
		return nil, err
	}
	return agg, nil
}

// EventSummary rolls up all responded rows for one event.
func (s *Service) EventSummary(ctx context.Context, eventID string) (*models.EventPCRSummary, error) {
	scores, err := s.store.ListPCRScores(ctx, eventID)
	if err != nil {
		return nil, err
	}
	summary := &models.EventPCRSummary{EventID: eventID}
	var sum float64
	for i := range scores {
		score := &scores[i]
		if !score.Responded() {
			continue
		}
		if summary.TotalScores == 0 {
			summary.LowestScore = score.FinalScore
			summary.HighestScore = score.FinalScore
		}
		summary.TotalScores++
		sum += score.FinalScore
		if score.FinalScore < summary.LowestScore {
			summary.LowestScore = score.FinalScore
		}
		if score.FinalScore > summary.HighestScore {
			summary.HighestScore = score.FinalScore
		}
		if score.ExplicitScore != nil {
			summary.ExplicitCount++
		} else {
			summary.SentimentOnlyCount++
		}
	}
	if summary.TotalScores > 0 {
		summary.AverageScore = math.Round(sum/float64(summary.TotalScores)*100) / 100
	}
	return summary, nil
}

// TypeBreakdown is the per-PCR-type slice of an event rollup.
type TypeBreakdown struct {
	PCRType      models.PCRType `json:"pcr_type"`
	Count        int            `json:"count"`
	AverageScore float64        `json:"average_score"`
}

// EventBreakdown groups responded rows by PCR type.
func (s *Service) EventBreakdown(ctx context.Context, eventID string) ([]TypeBreakdown, error) {
	scores, err := s.store.ListPCRScores(ctx, eventID)
	if err != nil {
		return nil, err
	}
	sums := make(map[models.PCRType]float64)
	counts := make(map[models.PCRType]int)
	for i := range scores {
		if !scores[i].Responded() {
			continue
		}
		sums[scores[i].PCRType] += scores[i].FinalScore
		counts[scores[i].PCRType]++
	}
	out := make([]TypeBreakdown, 0, len(counts))
	for pcrType, count := range counts {
		out = append(out, TypeBreakdown{
			PCRType:      pcrType,
			Count:        count,
			AverageScore: math.Round(sums[pcrType]/float64(count)*100) / 100,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PCRType < out[j].PCRType })
	return out, nil
}
