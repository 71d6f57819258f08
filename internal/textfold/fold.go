// Package textfold normalizes free text for comparison and for fonts limited to the ASCII range.
package textfold

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ligatures are not decomposed by NFD and need an explicit expansion.
var ligatures = strings.NewReplacer(
	"œ", "oe", "Œ", "OE",
	"æ", "ae", "Æ", "AE",
	"ß", "ss",
)

var punctuation = strings.NewReplacer(
	"—", "-", // em dash
	"–", "-", // en dash
	"\u2212", "-",
	"‘", "'", "’", "'", "‚", "'",
	"“", "\"", "”", "\"", "„", "\"",
	"«", "\"", "»", "\"",
	"…", "...",
	"\u00a0", " ", "\u202f", " ",
)

// StripDiacritics removes combining marks after canonical decomposition ("Vérificateur" -> "Verificateur").
func StripDiacritics(value string) string {
	chain := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(chain, ligatures.Replace(value))
	if err != nil {
		return value
	}
	return folded
}

// Fold lowercases and strips diacritics.
func Fold(value string) string {
	return strings.ToLower(StripDiacritics(value))
}

// ASCII maps typographic punctuation to plain equivalents, strips diacritics and
// silently drops anything still outside printable ASCII.
func ASCII(value string) string {
	folded := StripDiacritics(punctuation.Replace(value))
	var builder strings.Builder
	builder.Grow(len(folded))
	for _, r := range folded {
		switch {
		case r == '\t' || r == '\n':
			builder.WriteRune(' ')
		case r >= 0x20 && r < 0x7f:
			builder.WriteRune(r)
		}
	}
	return builder.String()
}
