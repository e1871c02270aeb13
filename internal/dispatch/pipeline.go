package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/ContractorHub/EventPulse/internal/classify"
	"github.com/ContractorHub/EventPulse/internal/models"
	"github.com/ContractorHub/EventPulse/internal/util"
)

// fallbackReply goes out when a handler fails without sending anything.
const fallbackReply = "Sorry, we hit a technical hiccup on our end. Please try again in a moment."

// pipelineStore is the audit surface the pipeline writes to.
type pipelineStore interface {
	InsertRoutingLog(ctx context.Context, l *models.RoutingLog) error
	UpdateRoutingOutcome(ctx context.Context, id string, success bool, handlerErr string, responseSent bool) error
}

// contextResolver rebuilds conversation context for an inbound message.
type contextResolver interface {
	Resolve(ctx context.Context, msg *models.InboundMessage) *models.ConversationContext
}

// messageClassifier runs the layered classification.
type messageClassifier interface {
	Classify(ctx context.Context, msg *models.InboundMessage, cc *models.ConversationContext) *models.ClassificationResult
}

// Processor runs the full inbound pipeline: resolve context, classify,
// validate the reply shape, log the decision, dispatch the handler, and
// patch the outcome. Messages from the same attendee are processed one at
// a time; different attendees proceed concurrently.
type Processor struct {
	resolver   contextResolver
	classifier messageClassifier
	registry   *Registry
	store      pipelineStore
	scheduler  replyScheduler // fallback reply on handler failure, may be nil
	serializer *attendeeSerializer
	now        func() time.Time
}

// NewProcessor wires the inbound pipeline.
func NewProcessor(resolver contextResolver, classifier messageClassifier, registry *Registry, st pipelineStore, scheduler replyScheduler) *Processor {
	return &Processor{
		resolver:   resolver,
		classifier: classifier,
		registry:   registry,
		store:      st,
		scheduler:  scheduler,
		serializer: newAttendeeSerializer(),
		now:        time.Now,
	}
}

// Process handles one inbound message end to end. The returned
// classification and handler result describe what happened; the error is
// non-nil only for invalid input.
func (p *Processor) Process(ctx context.Context, msg *models.InboundMessage) (*models.ClassificationResult, *models.HandlerResult, error) {
	if err := msg.Validate(); err != nil {
		return nil, nil, err
	}

	unlock := p.serializer.lock(msg.AttendeeID)
	defer unlock()

	cc := p.resolver.Resolve(ctx, msg)
	result := p.classifier.Classify(ctx, msg, cc)
	result = classify.ApplyShapeOverride(result, msg.Body)

	logID := p.writeRoutingLog(ctx, msg, result)

	req := &Request{Message: msg, Classification: result, Context: cc}
	res := p.registry.Dispatch(ctx, req)

	if !res.Success && !res.ResponseSent {
		p.sendFallback(ctx, req, res)
	}

	if logID != "" {
		if err := p.store.UpdateRoutingOutcome(ctx, logID, res.Success, res.Error, res.ResponseSent); err != nil {
			slog.Warn("Pipeline failed to patch routing outcome", "error", err, "log_id", logID)
		}
	}

	slog.Info("Pipeline processed inbound message",
		"attendee_id", msg.AttendeeID,
		"route", result.Route,
		"layer", result.Layer,
		"confidence", result.Confidence,
		"handler_success", res.Success,
		"response_sent", res.ResponseSent,
		"processing_ms", result.ProcessingMs)
	return result, res, nil
}

// writeRoutingLog inserts the audit row. Audit failures never block
// handling; an empty ID means there is no row to patch later.
func (p *Processor) writeRoutingLog(ctx context.Context, msg *models.InboundMessage, result *models.ClassificationResult) string {
	eventID := msg.EventID
	if eventID == "" && result.Context != nil {
		eventID = result.Context.EventID
	}
	row := &models.RoutingLog{
		ID:           util.GenerateRoutingLogID(),
		AttendeeID:   msg.AttendeeID,
		EventID:      eventID,
		InboundBody:  msg.Body,
		Phone:        msg.Phone,
		Intent:       result.Intent,
		Route:        result.Route,
		Confidence:   result.Confidence,
		Layer:        result.Layer,
		Reasoning:    result.Reasoning,
		ProcessingMs: result.ProcessingMs,
		CreatedAt:    p.now().UTC(),
	}
	if err := p.store.InsertRoutingLog(ctx, row); err != nil {
		slog.Error("Pipeline failed to insert routing log", "error", err, "attendee_id", msg.AttendeeID)
		return ""
	}
	return row.ID
}

// sendFallback enqueues the generic failure reply so the attendee is never
// left without any response.
func (p *Processor) sendFallback(ctx context.Context, req *Request, res *models.HandlerResult) {
	if p.scheduler == nil {
		return
	}
	eventID := eventIDFor(req)
	_, err := p.scheduler.ScheduleAt(ctx, req.Message.AttendeeID, eventID,
		models.KindGeneralReply, p.now().UTC(), fallbackReply, models.Personalization{})
	if err != nil {
		slog.Error("Pipeline failed to enqueue fallback reply", "error", err,
			"attendee_id", req.Message.AttendeeID)
		return
	}
	res.ResponseSent = true
	res.Messages = append(res.Messages, fallbackReply)
}
