// Package redact strips credentials from strings before they reach a log line.
//
// Redaction is best-effort and operates on string representations; callers
// must pass the right set of sensitive values.
package redact

import "strings"

const placeholder = "[REDACTED]"

// String replaces every occurrence of each sensitive value in s with
// [REDACTED]. Values shorter than 4 characters are skipped to avoid
// spurious redaction of common substrings.
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Token returns a loggable fingerprint of a bearer token: its first four
// characters followed by an ellipsis. Tokens of 8 characters or fewer are
// fully masked.
func Token(tok string) string {
	if len(tok) <= 8 {
		return placeholder
	}
	return tok[:4] + "…"
}
