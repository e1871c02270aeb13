// Package outbound implements the delivery side of EventPulse: scheduling
// of durable outbound messages, rendering, SMS-aware splitting, and the
// worker pool that drives delivery through a gateway.
package outbound

import (
	"strings"
)

// SMS sizing constants.
const (
	// SingleMessageIdeal is the length under which a message ships as one unit.
	SingleMessageIdeal = 320
	// UnitSafetyLimit is the per-unit ceiling the splitter packs toward.
	UnitSafetyLimit = 1300
	// UnitHardLimit is the absolute per-unit maximum.
	UnitHardLimit = 1600
	// MaxUnits caps how many units one logical message may occupy.
	MaxUnits = 3
	// ellipsis marks truncated content.
	ellipsis = "..."
)

// Split breaks message text into at most MaxUnits SMS units. Short messages
// ship as a single unit; longer ones split on word boundaries packed toward
// UnitSafetyLimit. Content beyond the unit budget is dropped and the last
// unit ends with an ellipsis.
func Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= SingleMessageIdeal {
		return []string{text}
	}

	var units []string
	remaining := text
	for len(remaining) > 0 && len(units) < MaxUnits {
		if len(remaining) <= UnitSafetyLimit {
			units = append(units, remaining)
			remaining = ""
			break
		}
		cut := breakPoint(remaining, UnitSafetyLimit)
		units = append(units, strings.TrimSpace(remaining[:cut]))
		remaining = strings.TrimSpace(remaining[cut:])
	}

	if len(remaining) > 0 {
		last := units[len(units)-1]
		if len(last)+len(ellipsis) > UnitSafetyLimit {
			last = strings.TrimSpace(last[:UnitSafetyLimit-len(ellipsis)])
		}
		units[len(units)-1] = last + ellipsis
	}
	return units
}

// breakPoint finds the last word boundary at or before limit. A single word
// longer than the limit is hard-cut.
func breakPoint(text string, limit int) int {
	if idx := strings.LastIndexByte(text[:limit], ' '); idx > 0 {
		return idx
	}
	return limit
}
