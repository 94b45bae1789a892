// Package textx provides small text utilities used across the project.
package textx

import (
	"strings"
	"unicode/utf8"
)

// SanitizeText removes control characters except tab/newline/CR and trims spaces.
func SanitizeText(s string) string {
	// strip control chars outside tab/newline/carriage return
	var b strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// Clip truncates s to at most max runes, appending an ellipsis when cut.
// Chat transports cap message length (Telegram: 4096).
func Clip(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	if max <= 1 {
		return string(runes[:max])
	}
	return string(runes[:max-1]) + "…"
}

// MaskTail hides all but the last n characters of s behind "***".
// Account numbers render as ***1234 wherever credentials are echoed.
func MaskTail(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return "***" + s
	}
	return "***" + string(runes[len(runes)-n:])
}
