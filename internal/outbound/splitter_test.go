package outbound

import (
	"strings"
	"testing"
)

func TestSplit_ShortMessageSingleUnit(t *testing.T) {
	units := Split("Welcome! You're checked in.")
	if len(units) != 1 {
		t.Fatalf("expected 1 unit, got %d", len(units))
	}
	if units[0] != "Welcome! You're checked in." {
		t.Errorf("unexpected unit text %q", units[0])
	}
}

func TestSplit_EmptyAndWhitespace(t *testing.T) {
	if units := Split(""); units != nil {
		t.Errorf("expected nil for empty text, got %v", units)
	}
	if units := Split("   \n\t "); units != nil {
		t.Errorf("expected nil for whitespace text, got %v", units)
	}
}

func TestSplit_ExactlyAtSingleLimit(t *testing.T) {
	text := strings.Repeat("a", SingleMessageIdeal)
	units := Split(text)
	if len(units) != 1 {
		t.Fatalf("expected 1 unit at the single-message limit, got %d", len(units))
	}
}

func TestSplit_MultiUnitBreaksOnWordBoundary(t *testing.T) {
	// ~2000 chars of words: should need two units, split between words.
	word := "conference "
	text := strings.TrimSpace(strings.Repeat(word, 185))
	units := Split(text)
	if len(units) != 2 {
		t.Fatalf("expected 2 units, got %d", len(units))
	}
	for i, u := range units {
		if len(u) > UnitSafetyLimit {
			t.Errorf("unit %d exceeds safety limit: %d chars", i, len(u))
		}
		if strings.HasPrefix(u, " ") || strings.HasSuffix(u, " ") {
			t.Errorf("unit %d has untrimmed whitespace", i)
		}
	}
	// No word may be cut in half across the boundary.
	for i, u := range units {
		for _, w := range strings.Fields(u) {
			if w != "conference" {
				t.Errorf("unit %d contains split word %q", i, w)
			}
		}
	}
}

func TestSplit_TruncatesBeyondMaxUnits(t *testing.T) {
	word := "networking "
	text := strings.TrimSpace(strings.Repeat(word, 500)) // ~5500 chars, > 3 units
	units := Split(text)
	if len(units) != MaxUnits {
		t.Fatalf("expected %d units, got %d", MaxUnits, len(units))
	}
	last := units[len(units)-1]
	if !strings.HasSuffix(last, "...") {
		t.Errorf("expected truncated last unit to end with ellipsis, got %q", last[len(last)-10:])
	}
	for i, u := range units {
		if len(u) > UnitSafetyLimit {
			t.Errorf("unit %d exceeds safety limit: %d chars", i, len(u))
		}
	}
}

func TestSplit_HardCutsSingleLongWord(t *testing.T) {
	text := strings.Repeat("x", 2*UnitSafetyLimit)
	units := Split(text)
	if len(units) != 2 {
		t.Fatalf("expected 2 units for an unbroken word, got %d", len(units))
	}
	if len(units[0]) != UnitSafetyLimit {
		t.Errorf("expected hard cut at %d, got %d", UnitSafetyLimit, len(units[0]))
	}
}
