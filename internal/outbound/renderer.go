package outbound

import (
	"context"
	"fmt"
	"strings"

	"github.com/ContractorHub/EventPulse/internal/models"
)

// textGenerator produces free-form message text for relationship kinds.
type textGenerator interface {
	GenerateMessage(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Renderer turns a scheduled message into final SMS text. Time-critical
// kinds render from static templates so delivery never waits on an LLM;
// relationship kinds go through the text generator with the pre-rendered
// content as fallback.
type Renderer struct {
	gen textGenerator // nil forces template/content rendering for all kinds
}

// NewRenderer creates a renderer. Pass nil to disable generated text.
func NewRenderer(gen textGenerator) *Renderer {
	return &Renderer{gen: gen}
}

// Render produces the outgoing message text.
func (r *Renderer) Render(ctx context.Context, m *models.ScheduledMessage, attendee *models.Attendee) (string, error) {
	if models.RelationshipKinds[m.Kind] && r.gen != nil {
		text, err := r.renderGenerated(ctx, m, attendee)
		if err == nil && text != "" {
			return text, nil
		}
		// fall back to whatever was pre-rendered
	}
	if m.Content != "" {
		return m.Content, nil
	}
	return renderTemplate(m, attendee)
}

const messageWriterPrompt = `You write short, friendly SMS messages to live-event attendees.
Keep it under 300 characters, one message, no emojis unless the prompt asks, no markdown.`

func (r *Renderer) renderGenerated(ctx context.Context, m *models.ScheduledMessage, attendee *models.Attendee) (string, error) {
	var b strings.Builder
	if attendee != nil && attendee.Name != "" {
		fmt.Fprintf(&b, "Recipient: %s", attendee.Name)
		if attendee.Company != "" {
			fmt.Fprintf(&b, " (%s)", attendee.Company)
		}
		b.WriteString("\n")
	}
	switch {
	case m.Payload.Prompt != "":
		b.WriteString(m.Payload.Prompt)
	case m.Kind == models.KindPeerMatchIntro:
		fmt.Fprintf(&b, "Introduce %s as a networking match and ask if they want an introduction (yes/no).", m.Payload.EntityName)
	default:
		b.WriteString(m.Content)
	}
	return r.gen.GenerateMessage(ctx, messageWriterPrompt, b.String())
}

func renderTemplate(m *models.ScheduledMessage, attendee *models.Attendee) (string, error) {
	switch m.Kind {
	case models.KindSpeakerRecommendation:
		return renderRecommendationList("Sessions picked for you:", m.Payload.RecommendedItems,
			"Reply with a number for details."), nil
	case models.KindSponsorRecommendation:
		return renderRecommendationList("Booths worth a visit:", m.Payload.RecommendedItems,
			"Reply with a number for booth info."), nil
	case models.KindPCRRequest:
		if m.Payload.EntityName != "" {
			return fmt.Sprintf("Quick question: how was your connection with %s? Reply 1-5.", m.Payload.EntityName), nil
		}
		return "Quick question: how is the event going? Reply 1-5.", nil
	case models.KindSpeakerFeedbackRequest:
		if m.Payload.EntityName != "" {
			return fmt.Sprintf("How was %s's session? Reply with a rating 1-10.", m.Payload.EntityName), nil
		}
		return "How was the session? Reply with a rating 1-10.", nil
	case models.KindEventCheckin:
		if attendee != nil && attendee.Name != "" {
			return fmt.Sprintf("Welcome, %s! You're checked in. Reply with any question about the event.", firstName(attendee.Name)), nil
		}
		return "Welcome! You're checked in. Reply with any question about the event.", nil
	default:
		return "", fmt.Errorf("no template for message kind %q and no content provided", m.Kind)
	}
}

func renderRecommendationList(header string, items []models.RecommendedItem, footer string) string {
	var b strings.Builder
	b.WriteString(header)
	for _, item := range items {
		fmt.Fprintf(&b, "\n%d. %s", item.Number, item.EntityName)
		if item.Detail != "" {
			fmt.Fprintf(&b, " - %s", item.Detail)
		}
	}
	b.WriteString("\n")
	b.WriteString(footer)
	return b.String()
}

func firstName(full string) string {
	if idx := strings.IndexByte(full, ' '); idx > 0 {
		return full[:idx]
	}
	return full
}
