// Package sanitize converts arbitrary item titles into filesystem-safe,
// length-bounded names.
package sanitize

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"unicode"
)

// DefaultMaxLength bounds sanitized titles so deeply nested working
// directories stay under platform path limits.
const DefaultMaxLength = 60

// Title sanitizes s with the default length bound.
func Title(s string) string {
	return TitleN(s, DefaultMaxLength)
}

// TitleN removes characters that are illegal in filesystem paths
// (< > : " / \ | ? * #), replaces spaces with underscores, drops
// non-printable runes, trims surrounding whitespace and truncates to max
// runes. A title that sanitizes to the empty string falls back to a
// deterministic hash-derived name ("item_<sha1[:8]>", or "item_untitled"
// for blank input) so path construction downstream never sees "".
func TitleN(s string, max int) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch r {
		case '<', '>', ':', '"', '/', '\\', '|', '?', '*', '#':
			continue
		case ' ':
			b.WriteRune('_')
		default:
			if unicode.IsPrint(r) {
				b.WriteRune(r)
			}
		}
	}
	out := strings.TrimSpace(b.String())
	if runes := []rune(out); len(runes) > max {
		out = string(runes[:max])
	}
	if out == "" {
		return fallback(s)
	}
	return out
}

func fallback(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "item_untitled"
	}
	sum := sha1.Sum([]byte(raw))
	return "item_" + hex.EncodeToString(sum[:4])
}
