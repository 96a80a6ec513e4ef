package analytics

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// UnknownCity labels transactions whose buyer has no city on record.
const UnknownCity = "Unknown"

// CanonicalCity folds spelling variants such as "  new   DELHI" and "New Delhi"
// onto one label.
func CanonicalCity(raw string) string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return UnknownCity
	}
	// Casers keep internal state and are not safe for concurrent use.
	return cases.Title(language.Und).String(strings.Join(fields, " "))
}

func canonicalType(raw string) string {
	t := strings.ToLower(strings.TrimSpace(raw))
	if t == "" {
		return "unknown"
	}
	return t
}
