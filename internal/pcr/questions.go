package pcr

import (
	"fmt"

	"github.com/ContractorHub/EventPulse/internal/models"
)

// QuestionFor renders the rating question asked for a PCR type. Every
// question names the 1-5 scale so the reply parses as an explicit score.
func QuestionFor(pcrType models.PCRType, entityName string) string {
	switch pcrType {
	case models.PCRTypeSpeaker:
		return fmt.Sprintf("How valuable was %s's session for you? Reply 1-5 (5 = extremely valuable).", entityName)
	case models.PCRTypeSponsor:
		return fmt.Sprintf("How useful was your visit with %s? Reply 1-5 (5 = extremely useful).", entityName)
	case models.PCRTypeSession:
		return fmt.Sprintf("How would you rate the %s session? Reply 1-5 (5 = excellent).", entityName)
	case models.PCRTypePeerMatch:
		return fmt.Sprintf("How was your connection with %s? Reply 1-5 (5 = great match).", entityName)
	case models.PCRTypeOverallEvent:
		return "How has the event been for you so far? Reply 1-5 (5 = outstanding)."
	default:
		return "How would you rate your experience? Reply 1-5."
	}
}
