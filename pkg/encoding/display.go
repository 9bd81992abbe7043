// Package encoding cleans user-supplied display text before it is stored or replicated.
package encoding

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ToUTF8 returns b as UTF-8. Bytes that are not valid UTF-8 are read as Windows-1252,
// which is what legacy clients send for accented names
func ToUTF8(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if utf8.Valid(b) {
		return string(b)
	}

	decoded, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), string(utf8.RuneError))
	}
	return string(decoded)
}

// NormalizeDisplay produces the canonical form of a display field: UTF-8, NFC,
// without control characters and surrounding whitespace
func NormalizeDisplay(s string) string {
	if s == "" {
		return ""
	}

	t := transform.Chain(runes.Remove(runes.In(unicode.Cc)), norm.NFC)
	out, _, err := transform.String(t, ToUTF8([]byte(s)))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(out)
}

// NormalizeEmail lower-cases and trims an address; addresses are compared in this form
func NormalizeEmail(s string) string {
	return strings.ToLower(NormalizeDisplay(s))
}
