package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ContractorHub/EventPulse/internal/models"
	"github.com/ContractorHub/EventPulse/internal/store"
)

// inboundWebhookHandler receives inbound SMS. It accepts Twilio's
// form-encoded callback (From/Body) and a JSON body ({"from","body"}).
// The response is always 200 for recognized payloads so the gateway does
// not retry; unknown senders are dropped after logging.
func (s *Server) inboundWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var from, body string
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		var payload struct {
			From string `json:"from"`
			Body string `json:"body"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			slog.Warn("Server.inboundWebhookHandler: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		from, body = payload.From, payload.Body
	} else {
		if err := r.ParseForm(); err != nil {
			slog.Warn("Server.inboundWebhookHandler: failed to parse form", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid form payload"))
			return
		}
		from, body = r.FormValue("From"), r.FormValue("Body")
	}

	if from == "" || body == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing sender or body"))
		return
	}

	s.handleInbound(r.Context(), from, body)
	w.WriteHeader(http.StatusOK)
}

// attendeesHandler upserts (POST) or fetches (GET ?id=) attendee profiles.
func (s *Server) attendeesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	switch r.Method {
	case http.MethodPost:
		var a models.Attendee
		if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
			slog.Warn("Server.attendeesHandler: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		if a.ID == "" || a.Phone == "" {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Attendee id and phone are required"))
			return
		}
		canonical, err := s.msgService.ValidateAndCanonicalizeRecipient(a.Phone)
		if err != nil {
			slog.Warn("Server.attendeesHandler: phone validation failed", "error", err, "phone", a.Phone)
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		a.Phone = canonical
		if err := s.store.UpsertAttendee(r.Context(), &a); err != nil {
			slog.Error("Server.attendeesHandler: upsert failed", "error", err, "attendee_id", a.ID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save attendee"))
			return
		}
		slog.Info("Server.attendeesHandler: attendee saved", "attendee_id", a.ID)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Attendee saved", a))

	case http.MethodGet:
		id := r.URL.Query().Get("id")
		if id == "" {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing id parameter"))
			return
		}
		a, err := s.store.GetAttendee(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Attendee not found"))
			return
		}
		if err != nil {
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load attendee"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(a))

	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// scheduleHandler enqueues one outbound message (POST) or lists scheduled
// messages for an event (GET ?event_id=&status=).
func (s *Server) scheduleHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method == http.MethodGet {
		s.listScheduled(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var m models.ScheduledMessage
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		slog.Warn("Server.scheduleHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if m.ScheduledTime.IsZero() {
		m.ScheduledTime = time.Now().UTC()
	}
	if err := s.scheduler.Enqueue(r.Context(), &m); err != nil {
		slog.Warn("Server.scheduleHandler: enqueue rejected", "error", err, "attendee_id", m.AttendeeID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	slog.Info("Server.scheduleHandler: message scheduled", "id", m.ID, "kind", m.Kind, "scheduled_time", m.ScheduledTime)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Message scheduled", m))
}

// listScheduled serves GET /schedule: scheduled messages for an event,
// optionally filtered by status (default pending).
func (s *Server) listScheduled(w http.ResponseWriter, r *http.Request) {
	eventID := r.URL.Query().Get("event_id")
	if eventID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("event_id query parameter is required"))
		return
	}
	status := models.ScheduledStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = models.ScheduledStatusPending
	}
	if !models.IsValidScheduledStatus(status) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid status filter"))
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid limit"))
			return
		}
		limit = n
	}
	messages, err := s.store.ListScheduled(r.Context(), eventID, status, limit)
	if err != nil {
		slog.Error("Server.listScheduled: query failed", "error", err, "event_id", eventID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list scheduled messages"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(messages))
}

// cancelHandler cancels every pending message for an event.
func (s *Server) cancelHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	eventID := r.URL.Query().Get("event_id")
	if eventID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing event_id parameter"))
		return
	}
	n, err := s.scheduler.CancelEvent(r.Context(), eventID)
	if err != nil {
		slog.Error("Server.cancelHandler: cancellation failed", "error", err, "event_id", eventID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to cancel messages"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Pending messages cancelled", map[string]int64{"cancelled": n}))
}

// campaignsHandler registers a recurring campaign: on every cron tick one
// message per attendee is enqueued for immediate delivery.
func (s *Server) campaignsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.campaigns == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Campaign scheduling is not enabled"))
		return
	}
	var payload struct {
		Cron        string                 `json:"cron"`
		EventID     string                 `json:"event_id"`
		Kind        models.MessageKind     `json:"kind"`
		Content     string                 `json:"content"`
		AttendeeIDs []string               `json:"attendee_ids"`
		Payload     models.Personalization `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		slog.Warn("Server.campaignsHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if payload.Cron == "" || len(payload.AttendeeIDs) == 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("cron and attendee_ids are required"))
		return
	}
	if payload.Kind == "" {
		payload.Kind = models.KindCampaign
	}
	if !models.IsValidMessageKind(payload.Kind) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Unknown message kind"))
		return
	}

	err := s.campaigns.AddCampaign(payload.Cron, func() []*models.ScheduledMessage {
		batch := make([]*models.ScheduledMessage, 0, len(payload.AttendeeIDs))
		for _, attendeeID := range payload.AttendeeIDs {
			batch = append(batch, &models.ScheduledMessage{
				AttendeeID:    attendeeID,
				EventID:       payload.EventID,
				Kind:          payload.Kind,
				ScheduledTime: time.Now().UTC(),
				Content:       payload.Content,
				Payload:       payload.Payload,
			})
		}
		return batch
	})
	if err != nil {
		slog.Warn("Server.campaignsHandler: invalid cron expression", "error", err, "cron", payload.Cron)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid cron expression"))
		return
	}
	slog.Info("Server.campaignsHandler: campaign registered", "cron", payload.Cron,
		"kind", payload.Kind, "attendees", len(payload.AttendeeIDs))
	writeJSONResponse(w, http.StatusOK, models.Scheduled("Campaign registered"))
}

// pcrRequestHandler opens a rating request and schedules the question.
func (s *Server) pcrRequestHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		EventID    string         `json:"event_id"`
		AttendeeID string         `json:"attendee_id"`
		PCRType    models.PCRType `json:"pcr_type"`
		EntityID   string         `json:"entity_id"`
		EntityName string         `json:"entity_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		slog.Warn("Server.pcrRequestHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if payload.AttendeeID == "" || payload.EntityID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("attendee_id and entity_id are required"))
		return
	}
	score, err := s.scores.RequestScore(r.Context(), payload.EventID, payload.AttendeeID,
		payload.PCRType, payload.EntityID, payload.EntityName)
	if err != nil {
		if errors.Is(err, models.ErrInvalidPCRType) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		slog.Error("Server.pcrRequestHandler: request failed", "error", err, "attendee_id", payload.AttendeeID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to open rating request"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Recorded(score))
}

// pcrSummaryHandler returns the event-level rating rollup.
func (s *Server) pcrSummaryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	eventID := r.URL.Query().Get("event_id")
	if eventID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing event_id parameter"))
		return
	}
	summary, err := s.scores.EventSummary(r.Context(), eventID)
	if err != nil {
		slog.Error("Server.pcrSummaryHandler: summary failed", "error", err, "event_id", eventID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to compute summary"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(summary))
}

// pcrBreakdownHandler returns per-type rating averages.
func (s *Server) pcrBreakdownHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	eventID := r.URL.Query().Get("event_id")
	if eventID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing event_id parameter"))
		return
	}
	breakdown, err := s.scores.EventBreakdown(r.Context(), eventID)
	if err != nil {
		slog.Error("Server.pcrBreakdownHandler: breakdown failed", "error", err, "event_id", eventID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to compute breakdown"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(breakdown))
}

// routingLogsHandler exposes the classification audit trail.
func (s *Server) routingLogsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	eventID := r.URL.Query().Get("event_id")
	if eventID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing event_id parameter"))
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid limit parameter"))
			return
		}
		limit = n
	}
	logs, err := s.store.ListRoutingLogs(r.Context(), eventID, limit)
	if err != nil {
		slog.Error("Server.routingLogsHandler: list failed", "error", err, "event_id", eventID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load routing logs"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(logs))
}

// healthHandler reports liveness.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "ok"}))
}
