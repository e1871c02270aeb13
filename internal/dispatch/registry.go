// Package dispatch connects classification decisions to route handlers and
// owns the end-to-end inbound processing pipeline.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ContractorHub/EventPulse/internal/models"
)

// Request carries everything a route handler needs for one inbound message.
type Request struct {
	Message        *models.InboundMessage
	Classification *models.ClassificationResult
	Context        *models.ConversationContext
}

// Handler processes one routed inbound message. Handlers never panic the
// pipeline; failures come back in the result.
type Handler func(ctx context.Context, req *Request) *models.HandlerResult

// Registry maps routes to handlers. Registration happens at startup;
// dispatch is concurrent.
type Registry struct {
	mu       sync.RWMutex
	handlers map[models.Route]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[models.Route]Handler)}
}

// Register binds a handler to a route, replacing any previous binding.
func (r *Registry) Register(route models.Route, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[route] = h
}

// Routes returns the registered routes.
func (r *Registry) Routes() []models.Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Route, 0, len(r.handlers))
	for route := range r.handlers {
		out = append(out, route)
	}
	return out
}

// Dispatch invokes the handler for the classified route. A missing handler
// is a structured failure, not an error: the pipeline still logs the
// outcome and can fall back to a generic reply.
func (r *Registry) Dispatch(ctx context.Context, req *Request) *models.HandlerResult {
	route := req.Classification.Route
	r.mu.RLock()
	h, ok := r.handlers[route]
	r.mu.RUnlock()
	if !ok {
		slog.Error("Dispatch found no handler for route", "route", route,
			"attendee_id", req.Message.AttendeeID, "layer", req.Classification.Layer)
		return &models.HandlerResult{
			Success: false,
			Action:  "no_handler",
			Error:   fmt.Sprintf("no handler registered for route %q", route),
		}
	}
	res := h(ctx, req)
	if res == nil {
		res = &models.HandlerResult{
			Success: false,
			Action:  "nil_result",
			Error:   fmt.Sprintf("handler for route %q returned no result", route),
		}
	}
	return res
}
