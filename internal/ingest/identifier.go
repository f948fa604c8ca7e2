package ingest

import (
	"strings"

	"github.com/nerrad567/gray-logic-access/internal/credential"
)

// CleanPlate upper-cases s and drops every character outside [A-Z0-9].
// It is idempotent.
func CleanPlate(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CleanIdentifier normalises a detected identifier for debouncing and
// credential lookup. Plates are reduced to [A-Z0-9]; card numbers and person
// keys are only trimmed because leading zeros and case are significant.
func CleanIdentifier(t credential.Type, s string) string {
	if t == credential.TypePlate {
		return CleanPlate(s)
	}
	return strings.TrimSpace(s)
}
