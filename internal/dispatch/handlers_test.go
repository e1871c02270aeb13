package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ContractorHub/EventPulse/internal/models"
)

type scheduledCall struct {
	attendeeID string
	eventID    string
	kind       models.MessageKind
	content    string
	payload    models.Personalization
}

type mockReplyScheduler struct {
	calls []scheduledCall
	err   error
}

func (m *mockReplyScheduler) ScheduleAt(ctx context.Context, attendeeID, eventID string, kind models.MessageKind, at time.Time, content string, payload models.Personalization) (*models.ScheduledMessage, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.calls = append(m.calls, scheduledCall{attendeeID, eventID, kind, content, payload})
	return &models.ScheduledMessage{ID: "msg_test", AttendeeID: attendeeID}, nil
}

type scoreCall struct {
	eventID    string
	attendeeID string
	pcrType    models.PCRType
	entityID   string
	entityName string
	text       string
	rating     int
}

type mockScorer struct {
	calls      []scoreCall
	finalScore float64
	err        error
}

func (m *mockScorer) RecordResponse(ctx context.Context, eventID, attendeeID string, pcrType models.PCRType, entityID, entityName, responseText string) (*models.PCRScore, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.calls = append(m.calls, scoreCall{eventID, attendeeID, pcrType, entityID, entityName, responseText, 0})
	return &models.PCRScore{FinalScore: m.finalScore}, nil
}

func (m *mockScorer) RecordSessionRating(ctx context.Context, eventID, attendeeID, entityID, entityName string, rating int, responseText string) (*models.PCRScore, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.calls = append(m.calls, scoreCall{eventID, attendeeID, models.PCRTypeSession, entityID, entityName, responseText, rating})
	return &models.PCRScore{FinalScore: m.finalScore}, nil
}

type mockAnswerGen struct {
	text string
	err  error
}

func (m *mockAnswerGen) GenerateMessage(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return m.text, m.err
}

func requestWith(body string, outbound ...models.OutboundRecord) *Request {
	return &Request{
		Message: &models.InboundMessage{
			AttendeeID: "att_1",
			EventID:    "evt_1",
			Phone:      "+15550001111",
			Body:       body,
		},
		Classification: &models.ClassificationResult{Route: models.RouteGeneralQuestion},
		Context: &models.ConversationContext{
			Attendee: models.Attendee{ID: "att_1", Name: "Sam Reed"},
			EventID:  "evt_1",
			Outbound: outbound,
		},
	}
}

func speakerMenu() models.OutboundRecord {
	return models.OutboundRecord{
		ID:   "out_1",
		Kind: models.KindSpeakerRecommendation,
		Payload: models.Personalization{RecommendedItems: []models.RecommendedItem{
			{Number: 1, EntityID: "spk_1", EntityName: "Dana Li", Detail: "Scaling APIs, 2pm, Hall B"},
			{Number: 2, EntityID: "spk_2", EntityName: "Ray Ortiz", Detail: "Edge caching, 4pm"},
		}},
		SentAt: time.Now().Add(-10 * time.Minute),
	}
}

func TestSpeakerDetails_SelectsMenuItem(t *testing.T) {
	sched := &mockReplyScheduler{}
	h := NewHandlers(sched, nil, nil)

	res := h.SpeakerDetails(context.Background(), requestWith("2", speakerMenu()))

	if !res.Success || !res.ResponseSent {
		t.Fatalf("expected successful response, got %+v", res)
	}
	if len(sched.calls) != 1 {
		t.Fatalf("expected 1 scheduled reply, got %d", len(sched.calls))
	}
	call := sched.calls[0]
	if call.kind != models.KindSpeakerDetails {
		t.Errorf("expected speaker details kind, got %q", call.kind)
	}
	if !strings.Contains(call.content, "Ray Ortiz") || !strings.Contains(call.content, "Edge caching") {
		t.Errorf("unexpected detail content %q", call.content)
	}
	if call.payload.EntityID != "spk_2" {
		t.Errorf("expected selected entity in payload, got %q", call.payload.EntityID)
	}
}

func TestSpeakerDetails_NoRecentMenu(t *testing.T) {
	sched := &mockReplyScheduler{}
	h := NewHandlers(sched, nil, nil)

	res := h.SpeakerDetails(context.Background(), requestWith("1"))

	if !res.Success {
		t.Fatalf("expected graceful success, got %+v", res)
	}
	if res.Action != "speaker_details_no_context" {
		t.Errorf("unexpected action %q", res.Action)
	}
	if len(sched.calls) != 1 || sched.calls[0].kind != models.KindGeneralReply {
		t.Errorf("expected a general reply, got %+v", sched.calls)
	}
}

func TestSpeakerDetails_OutOfRangeReprompts(t *testing.T) {
	sched := &mockReplyScheduler{}
	h := NewHandlers(sched, nil, nil)

	res := h.SpeakerDetails(context.Background(), requestWith("9", speakerMenu()))

	if res.Action != "speaker_details_reprompt" {
		t.Errorf("unexpected action %q", res.Action)
	}
	if !strings.Contains(sched.calls[0].content, "1-2") {
		t.Errorf("expected range reprompt, got %q", sched.calls[0].content)
	}
}

func TestSpeakerDetails_SchedulerFailure(t *testing.T) {
	sched := &mockReplyScheduler{err: errors.New("store down")}
	h := NewHandlers(sched, nil, nil)

	res := h.SpeakerDetails(context.Background(), requestWith("1", speakerMenu()))

	if res.Success || res.ResponseSent {
		t.Errorf("expected failure when reply cannot be enqueued, got %+v", res)
	}
	if res.Error == "" {
		t.Error("expected error detail")
	}
}

func TestSponsorDetails_SelectsBooth(t *testing.T) {
	sched := &mockReplyScheduler{}
	h := NewHandlers(sched, nil, nil)
	menu := models.OutboundRecord{
		ID:   "out_2",
		Kind: models.KindSponsorRecommendation,
		Payload: models.Personalization{RecommendedItems: []models.RecommendedItem{
			{Number: 1, EntityID: "spn_1", EntityName: "Acme Cloud", Detail: "Booth 14"},
		}},
		SentAt: time.Now().Add(-5 * time.Minute),
	}

	res := h.SponsorDetails(context.Background(), requestWith("1", menu))

	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if sched.calls[0].kind != models.KindSponsorDetails {
		t.Errorf("expected sponsor details kind, got %q", sched.calls[0].kind)
	}
	if !strings.Contains(sched.calls[0].content, "Booth 14") {
		t.Errorf("unexpected content %q", sched.calls[0].content)
	}
}

func TestSpeakerFeedback_RecordsRating(t *testing.T) {
	sched := &mockReplyScheduler{}
	scores := &mockScorer{finalScore: 4.5}
	h := NewHandlers(sched, scores, nil)
	ask := models.OutboundRecord{
		ID:      "out_3",
		Kind:    models.KindSpeakerFeedbackRequest,
		Payload: models.Personalization{EntityID: "spk_1", EntityName: "Dana Li"},
		SentAt:  time.Now().Add(-5 * time.Minute),
	}

	res := h.SpeakerFeedback(context.Background(), requestWith("9 - great talk!", ask))

	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if len(scores.calls) != 1 {
		t.Fatalf("expected 1 recorded score, got %d", len(scores.calls))
	}
	call := scores.calls[0]
	if call.pcrType != models.PCRTypeSession || call.entityID != "spk_1" {
		t.Errorf("unexpected score call %+v", call)
	}
	if call.rating != 9 {
		t.Errorf("expected the raw 10-scale rating to reach the scorer, got %d", call.rating)
	}
	if !strings.Contains(sched.calls[0].content, "Glad you enjoyed it") {
		t.Errorf("expected high-rating reply, got %q", sched.calls[0].content)
	}
}

func TestSpeakerFeedback_NoRatingReprompts(t *testing.T) {
	sched := &mockReplyScheduler{}
	scores := &mockScorer{}
	h := NewHandlers(sched, scores, nil)

	res := h.SpeakerFeedback(context.Background(), requestWith("it was fine"))

	if res.Action != "speaker_feedback_reprompt" {
		t.Errorf("unexpected action %q", res.Action)
	}
	if len(scores.calls) != 0 {
		t.Errorf("no score should be recorded without a rating, got %d", len(scores.calls))
	}
}

func TestPCRResponse_UsesOpenRequestEntity(t *testing.T) {
	sched := &mockReplyScheduler{}
	scores := &mockScorer{finalScore: 4.15}
	h := NewHandlers(sched, scores, nil)
	ask := models.OutboundRecord{
		ID:   "out_4",
		Kind: models.KindPCRRequest,
		Payload: models.Personalization{
			PCRType:    models.PCRTypePeerMatch,
			EntityID:   "att_9",
			EntityName: "Dana Li",
		},
		SentAt: time.Now().Add(-5 * time.Minute),
	}

	res := h.PCRResponse(context.Background(), requestWith("4", ask))

	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	call := scores.calls[0]
	if call.pcrType != models.PCRTypePeerMatch || call.entityID != "att_9" || call.entityName != "Dana Li" {
		t.Errorf("unexpected score call %+v", call)
	}
	if call.text != "4" {
		t.Errorf("expected raw response text, got %q", call.text)
	}
}

func TestPCRResponse_DefaultsToOverallEvent(t *testing.T) {
	sched := &mockReplyScheduler{}
	scores := &mockScorer{finalScore: 3.0}
	h := NewHandlers(sched, scores, nil)

	res := h.PCRResponse(context.Background(), requestWith("3"))

	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	call := scores.calls[0]
	if call.pcrType != models.PCRTypeOverallEvent || call.entityID != "evt_1" {
		t.Errorf("unexpected default score call %+v", call)
	}
}

func TestPCRResponse_LowScoreGetsEmpathyReply(t *testing.T) {
	sched := &mockReplyScheduler{}
	scores := &mockScorer{finalScore: 1.5}
	h := NewHandlers(sched, scores, nil)

	h.PCRResponse(context.Background(), requestWith("1"))

	if !strings.Contains(sched.calls[0].content, "honest") {
		t.Errorf("expected empathy reply for low score, got %q", sched.calls[0].content)
	}
}

func TestPCRResponse_ScorerFailure(t *testing.T) {
	sched := &mockReplyScheduler{}
	scores := &mockScorer{err: errors.New("db down")}
	h := NewHandlers(sched, scores, nil)

	res := h.PCRResponse(context.Background(), requestWith("4"))

	if res.Success {
		t.Errorf("expected failure when recording fails, got %+v", res)
	}
}

func TestPeerMatchResponse_Accepted(t *testing.T) {
	sched := &mockReplyScheduler{}
	h := NewHandlers(sched, nil, nil)
	intro := models.OutboundRecord{
		ID:      "out_5",
		Kind:    models.KindPeerMatchIntro,
		Payload: models.Personalization{EntityID: "att_9", EntityName: "Dana Li"},
		SentAt:  time.Now().Add(-5 * time.Minute),
	}

	res := h.PeerMatchResponse(context.Background(), requestWith("yes please!", intro))

	if res.Action != "peer_match_response_accepted" {
		t.Errorf("unexpected action %q", res.Action)
	}
	call := sched.calls[0]
	if !strings.Contains(call.content, "Dana Li") {
		t.Errorf("expected match name in confirmation, got %q", call.content)
	}
	if !strings.Contains(call.payload.Prompt, "Dana Li") {
		t.Errorf("expected intro prompt in payload, got %q", call.payload.Prompt)
	}
}

func TestPeerMatchResponse_Declined(t *testing.T) {
	sched := &mockReplyScheduler{}
	h := NewHandlers(sched, nil, nil)

	res := h.PeerMatchResponse(context.Background(), requestWith("no thanks"))

	if res.Action != "peer_match_response_declined" {
		t.Errorf("unexpected action %q", res.Action)
	}
}

func TestPeerMatchResponse_AmbiguousReprompts(t *testing.T) {
	sched := &mockReplyScheduler{}
	h := NewHandlers(sched, nil, nil)

	res := h.PeerMatchResponse(context.Background(), requestWith("who is this person?"))

	if res.Action != "peer_match_response_reprompt" {
		t.Errorf("unexpected action %q", res.Action)
	}
	if !strings.Contains(sched.calls[0].content, "yes") {
		t.Errorf("expected yes/no reprompt, got %q", sched.calls[0].content)
	}
}

func TestEventCheckin_SchedulesWelcome(t *testing.T) {
	sched := &mockReplyScheduler{}
	h := NewHandlers(sched, nil, nil)

	res := h.EventCheckin(context.Background(), requestWith("I'm here!"))

	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if sched.calls[0].kind != models.KindEventCheckin {
		t.Errorf("expected checkin kind, got %q", sched.calls[0].kind)
	}
}

func TestGeneralQuestion_GeneratedAnswer(t *testing.T) {
	sched := &mockReplyScheduler{}
	gen := &mockAnswerGen{text: "Lunch opens at noon in Hall C."}
	h := NewHandlers(sched, nil, gen)

	res := h.GeneralQuestion(context.Background(), requestWith("when is lunch?"))

	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if sched.calls[0].content != gen.text {
		t.Errorf("expected generated answer, got %q", sched.calls[0].content)
	}
}

func TestGeneralQuestion_GeneratorFailureFallsBack(t *testing.T) {
	sched := &mockReplyScheduler{}
	gen := &mockAnswerGen{err: errors.New("model unavailable")}
	h := NewHandlers(sched, nil, gen)

	res := h.GeneralQuestion(context.Background(), requestWith("when is lunch?"))

	if !res.Success {
		t.Fatalf("expected success despite generator failure, got %+v", res)
	}
	if !strings.Contains(sched.calls[0].content, "event team member") {
		t.Errorf("expected static fallback, got %q", sched.calls[0].content)
	}
}

func TestClarification_SendsHelp(t *testing.T) {
	sched := &mockReplyScheduler{}
	h := NewHandlers(sched, nil, nil)

	res := h.Clarification(context.Background(), requestWith("asdfgh"))

	if !res.Success || len(sched.calls) != 1 {
		t.Fatalf("expected one help reply, got %+v", res)
	}
	if !strings.Contains(sched.calls[0].content, "didn't quite catch") {
		t.Errorf("unexpected help text %q", sched.calls[0].content)
	}
}
