package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ContractorHub/EventPulse/internal/classify"
	"github.com/ContractorHub/EventPulse/internal/models"
)

// replyScheduler is the outbound producer surface handlers use.
type replyScheduler interface {
	ScheduleAt(ctx context.Context, attendeeID, eventID string, kind models.MessageKind, at time.Time, content string, payload models.Personalization) (*models.ScheduledMessage, error)
}

// scorer records rating responses.
type scorer interface {
	RecordResponse(ctx context.Context, eventID, attendeeID string, pcrType models.PCRType, entityID, entityName, responseText string) (*models.PCRScore, error)
	RecordSessionRating(ctx context.Context, eventID, attendeeID, entityID, entityName string, rating int, responseText string) (*models.PCRScore, error)
}

// answerGenerator produces free-form answers for general questions.
type answerGenerator interface {
	GenerateMessage(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Handlers implements every built-in route. Replies are never sent inline:
// they are enqueued as immediate scheduled messages so the delivery worker
// applies the same splitting, rate limiting, and retry policy everywhere.
type Handlers struct {
	scheduler replyScheduler
	scores    scorer
	gen       answerGenerator // nil disables generated answers
	now       func() time.Time
}

// NewHandlers creates the built-in handler set.
func NewHandlers(scheduler replyScheduler, scores scorer, gen answerGenerator) *Handlers {
	return &Handlers{scheduler: scheduler, scores: scores, gen: gen, now: time.Now}
}

// RegisterAll binds every built-in handler to its route.
func (h *Handlers) RegisterAll(reg *Registry) {
	reg.Register(models.RouteSpeakerDetails, h.SpeakerDetails)
	reg.Register(models.RouteSpeakerFeedback, h.SpeakerFeedback)
	reg.Register(models.RouteSponsorDetails, h.SponsorDetails)
	reg.Register(models.RoutePCRResponse, h.PCRResponse)
	reg.Register(models.RoutePeerMatchResponse, h.PeerMatchResponse)
	reg.Register(models.RouteEventCheckin, h.EventCheckin)
	reg.Register(models.RouteGeneralQuestion, h.GeneralQuestion)
	reg.Register(models.RouteClarification, h.Clarification)
}

// reply enqueues an immediate outbound message for the attendee.
func (h *Handlers) reply(ctx context.Context, req *Request, kind models.MessageKind, content string, payload models.Personalization) error {
	eventID := req.Message.EventID
	if eventID == "" && req.Context != nil {
		eventID = req.Context.EventID
	}
	_, err := h.scheduler.ScheduleAt(ctx, req.Message.AttendeeID, eventID, kind, h.now().UTC(), content, payload)
	return err
}

func (h *Handlers) replied(action string, kind models.MessageKind, messages ...string) *models.HandlerResult {
	return &models.HandlerResult{
		Success:      true,
		Action:       action,
		Messages:     messages,
		MessageKind:  kind,
		ResponseSent: true,
	}
}

func handlerFailure(action string, err error) *models.HandlerResult {
	return &models.HandlerResult{Success: false, Action: action, Error: err.Error()}
}

// SpeakerDetails answers a menu selection against the most recent session
// recommendation.
func (h *Handlers) SpeakerDetails(ctx context.Context, req *Request) *models.HandlerResult {
	return h.recommendationDetails(ctx, req, models.KindSpeakerRecommendation,
		models.KindSpeakerDetails, "speaker_details", "session")
}

// SponsorDetails answers a menu selection against the most recent booth
// recommendation.
func (h *Handlers) SponsorDetails(ctx context.Context, req *Request) *models.HandlerResult {
	return h.recommendationDetails(ctx, req, models.KindSponsorRecommendation,
		models.KindSponsorDetails, "sponsor_details", "booth")
}

func (h *Handlers) recommendationDetails(ctx context.Context, req *Request, sourceKind, replyKind models.MessageKind, action, noun string) *models.HandlerResult {
	rec := req.Context.FindKind(sourceKind)
	if rec == nil || len(rec.Payload.RecommendedItems) == 0 {
		content := fmt.Sprintf("I don't have a recent %s list for you. I'll send fresh recommendations soon!", noun)
		if err := h.reply(ctx, req, models.KindGeneralReply, content, models.Personalization{}); err != nil {
			return handlerFailure(action, err)
		}
		return h.replied(action+"_no_context", models.KindGeneralReply, content)
	}

	items := rec.Payload.RecommendedItems
	n, ok := classify.MatchNumber(req.Message.Body, 1, len(items))
	if !ok {
		content := fmt.Sprintf("Reply with a number 1-%d and I'll send the details.", len(items))
		if err := h.reply(ctx, req, models.KindGeneralReply, content, models.Personalization{}); err != nil {
			return handlerFailure(action, err)
		}
		return h.replied(action+"_reprompt", models.KindGeneralReply, content)
	}

	item := items[n-1]
	content := item.EntityName
	if item.Detail != "" {
		content = fmt.Sprintf("%s: %s", item.EntityName, item.Detail)
	}
	payload := models.Personalization{EntityID: item.EntityID, EntityName: item.EntityName}
	if err := h.reply(ctx, req, replyKind, content, payload); err != nil {
		return handlerFailure(action, err)
	}
	slog.Info("Handler sent recommendation details", "action", action,
		"attendee_id", req.Message.AttendeeID, "entity_id", item.EntityID, "selection", n)
	return h.replied(action, replyKind, content)
}

// SpeakerFeedback records a 1-10 session rating against the recommended
// session the attendee last interacted with.
func (h *Handlers) SpeakerFeedback(ctx context.Context, req *Request) *models.HandlerResult {
	const action = "speaker_feedback"
	entityID, entityName := feedbackEntity(req.Context)

	rating, ok := classify.MatchNumber(req.Message.Body, 1, 10)
	if !ok {
		content := "Rate the session 1-10, with 10 being the best."
		if err := h.reply(ctx, req, models.KindGeneralReply, content, models.Personalization{}); err != nil {
			return handlerFailure(action, err)
		}
		return h.replied(action+"_reprompt", models.KindGeneralReply, content)
	}

	if h.scores != nil {
		if _, err := h.scores.RecordSessionRating(ctx, eventIDFor(req), req.Message.AttendeeID,
			entityID, entityName, rating, req.Message.Body); err != nil {
			slog.Error("Handler failed to record session feedback", "error", err,
				"attendee_id", req.Message.AttendeeID, "rating", rating)
			return handlerFailure(action, err)
		}
	}

	content := "Thanks for the feedback!"
	if rating >= 8 {
		content = "Thanks! Glad you enjoyed it - more sessions like that coming your way."
	}
	if err := h.reply(ctx, req, models.KindGeneralReply, content, models.Personalization{}); err != nil {
		return handlerFailure(action, err)
	}
	return h.replied(action, models.KindGeneralReply, content)
}

// feedbackEntity picks the session the feedback refers to: the explicit
// feedback request first, then the last detail reply, then the newest
// recommendation's first item.
func feedbackEntity(cc *models.ConversationContext) (string, string) {
	if rec := cc.FindKind(models.KindSpeakerFeedbackRequest); rec != nil && rec.Payload.EntityID != "" {
		return rec.Payload.EntityID, rec.Payload.EntityName
	}
	if rec := cc.FindKind(models.KindSpeakerDetails); rec != nil && rec.Payload.EntityID != "" {
		return rec.Payload.EntityID, rec.Payload.EntityName
	}
	if rec := cc.FindKind(models.KindSpeakerRecommendation); rec != nil && len(rec.Payload.RecommendedItems) > 0 {
		item := rec.Payload.RecommendedItems[0]
		return item.EntityID, item.EntityName
	}
	return "", ""
}

// PCRResponse records a connection rating against the open rating request.
func (h *Handlers) PCRResponse(ctx context.Context, req *Request) *models.HandlerResult {
	const action = "pcr_response"
	pcrType := models.PCRTypeOverallEvent
	entityID := eventIDFor(req)
	entityName := ""
	if rec := req.Context.FindKind(models.KindPCRRequest); rec != nil {
		if rec.Payload.PCRType != "" {
			pcrType = rec.Payload.PCRType
		}
		if rec.Payload.EntityID != "" {
			entityID = rec.Payload.EntityID
			entityName = rec.Payload.EntityName
		}
	}

	if h.scores == nil {
		return handlerFailure(action, fmt.Errorf("scoring service unavailable"))
	}
	score, err := h.scores.RecordResponse(ctx, eventIDFor(req), req.Message.AttendeeID,
		pcrType, entityID, entityName, req.Message.Body)
	if err != nil {
		slog.Error("Handler failed to record rating", "error", err,
			"attendee_id", req.Message.AttendeeID, "pcr_type", pcrType, "entity_id", entityID)
		return handlerFailure(action, err)
	}

	content := "Thanks for the rating!"
	if score.FinalScore <= 2 {
		content = "Thanks for being honest - we'll work on making the rest of the event better for you."
	}
	if err := h.reply(ctx, req, models.KindGeneralReply, content, models.Personalization{}); err != nil {
		return handlerFailure(action, err)
	}
	return h.replied(action, models.KindGeneralReply, content)
}

// PeerMatchResponse handles the yes/no answer to a networking introduction.
func (h *Handlers) PeerMatchResponse(ctx context.Context, req *Request) *models.HandlerResult {
	const action = "peer_match_response"
	rec := req.Context.FindKind(models.KindPeerMatchIntro)

	matched, affirmative := classify.MatchAffirmative(req.Message.Body)
	if !matched {
		content := "Reply yes if you'd like the introduction, or no to skip it."
		if err := h.reply(ctx, req, models.KindGeneralReply, content, models.Personalization{}); err != nil {
			return handlerFailure(action, err)
		}
		return h.replied(action+"_reprompt", models.KindGeneralReply, content)
	}

	if !affirmative {
		content := "No problem - I'll keep an eye out for other good matches."
		if err := h.reply(ctx, req, models.KindGeneralReply, content, models.Personalization{}); err != nil {
			return handlerFailure(action, err)
		}
		return h.replied(action+"_declined", models.KindGeneralReply, content)
	}

	matchName := "your match"
	var payload models.Personalization
	if rec != nil && rec.Payload.EntityName != "" {
		matchName = rec.Payload.EntityName
		payload = models.Personalization{
			EntityID:   rec.Payload.EntityID,
			EntityName: rec.Payload.EntityName,
			Prompt: fmt.Sprintf("Write a short SMS connecting the recipient with %s. Mention they both agreed to meet and suggest the networking lounge.",
				rec.Payload.EntityName),
		}
	}
	content := fmt.Sprintf("Great! I'll send you and %s an introduction shortly.", matchName)
	if err := h.reply(ctx, req, models.KindGeneralReply, content, payload); err != nil {
		return handlerFailure(action, err)
	}
	slog.Info("Handler accepted peer match", "attendee_id", req.Message.AttendeeID, "match", matchName)
	return h.replied(action+"_accepted", models.KindGeneralReply, content)
}

// EventCheckin confirms arrival. The welcome template fills in the name.
func (h *Handlers) EventCheckin(ctx context.Context, req *Request) *models.HandlerResult {
	const action = "event_checkin"
	if err := h.reply(ctx, req, models.KindEventCheckin, "", models.Personalization{}); err != nil {
		return handlerFailure(action, err)
	}
	slog.Info("Handler checked attendee in", "attendee_id", req.Message.AttendeeID)
	return h.replied(action, models.KindEventCheckin)
}

const generalAnswerPrompt = `You answer live-event attendee questions over SMS on behalf of the event team.
Be helpful and concise, under 300 characters. If you don't know, say the event team will follow up.`

// GeneralQuestion answers free-form questions, generated when possible.
func (h *Handlers) GeneralQuestion(ctx context.Context, req *Request) *models.HandlerResult {
	const action = "general_question"
	content := "Thanks for reaching out! An event team member will get back to you shortly."
	if h.gen != nil {
		answer, err := h.gen.GenerateMessage(ctx, generalAnswerPrompt, generalQuestionContext(req))
		if err != nil {
			slog.Warn("Handler answer generation failed, using fallback", "error", err,
				"attendee_id", req.Message.AttendeeID)
		} else if answer != "" {
			content = answer
		}
	}
	if err := h.reply(ctx, req, models.KindGeneralReply, content, models.Personalization{}); err != nil {
		return handlerFailure(action, err)
	}
	return h.replied(action, models.KindGeneralReply, content)
}

func generalQuestionContext(req *Request) string {
	attendee := req.Context.Attendee
	prompt := fmt.Sprintf("Attendee question: %s", req.Message.Body)
	if attendee.Name != "" {
		prompt = fmt.Sprintf("Attendee: %s\n%s", attendee.Name, prompt)
	}
	if req.Classification.OverriddenRoute != "" {
		prompt += fmt.Sprintf("\nNote: the reply did not match the expected format for %s, so treat it as a new question.",
			req.Classification.OverriddenRoute)
	}
	return prompt
}

// Clarification is the terminal fallback reply.
func (h *Handlers) Clarification(ctx context.Context, req *Request) *models.HandlerResult {
	const action = "clarification"
	content := "I didn't quite catch that. You can reply with a number from a recent list, a rating, or ask me anything about the event."
	if err := h.reply(ctx, req, models.KindGeneralReply, content, models.Personalization{}); err != nil {
		return handlerFailure(action, err)
	}
	return h.replied(action, models.KindGeneralReply, content)
}

func eventIDFor(req *Request) string {
	if req.Message.EventID != "" {
		return req.Message.EventID
	}
	if req.Context != nil {
		return req.Context.EventID
	}
	return ""
}
