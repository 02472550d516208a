package logging

import (
	"log/slog"
	"strings"
)

const RedactedValue = "[REDACTED]"

// MaskValue keeps the last four characters of identifiers long enough to
// carry them, so operators can still correlate an account.
func MaskValue(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	if len(value) <= 8 {
		return RedactedValue
	}
	return RedactedValue + value[len(value)-4:]
}

func MaskField(key, value string) slog.Attr {
	return slog.String(key, MaskValue(value))
}
