package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces credential material in log output.
const RedactedValue = "[REDACTED]"

// Keys bountyd emits that are safe to log verbatim. Anything else routed
// through MaskField is assumed to be a secret: rail auth tokens, wallet
// material, callback credentials.
var allowlist = map[string]struct{}{
	"service":    {},
	"env":        {},
	"timestamp":  {},
	"severity":   {},
	"message":    {},
	"error":      {},
	"reason":     {},
	"bounty_id":  {},
	"repository": {},
	"issue_id":   {},
	"rail":       {},
	"kind":       {},
}

// IsAllowlisted reports whether the key may be logged unmasked.
func IsAllowlisted(key string) bool {
	_, ok := allowlist[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskField builds a slog attribute whose value is redacted unless the key
// is allowlisted. Empty values pass through unchanged so missing
// configuration stays visible in the startup log.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}
