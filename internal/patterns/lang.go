package patterns

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Language partitions the rule table.
type Language string

const (
	// Any holds language-neutral patterns, matched against the raw text.
	Any     Language = "*"
	Turkish Language = "tr"
	English Language = "en"
)

// MatchOrder is the order partitions are tried in.
var MatchOrder = []Language{Any, Turkish, English}

// ParseLanguage maps a BCP 47 tag ("tr-TR", "en_US", "EN") to a partition.
// Unknown or empty tags map to Turkish, the platform default.
func ParseLanguage(tag string) Language {
	t, err := language.Parse(strings.ReplaceAll(strings.TrimSpace(tag), "_", "-"))
	if err != nil {
		return Turkish
	}
	base, _ := t.Base()
	switch base.String() {
	case "en":
		return English
	default:
		return Turkish
	}
}

// Fold lower-cases text with the case rules of lang. Turkish folding maps
// "İ" to "i" and "I" to "ı", which plain strings.ToLower gets wrong.
// Any returns text unchanged.
func Fold(text string, lang Language) string {
	switch lang {
	case Turkish:
		// A Caser is stateful; build one per call.
		return cases.Lower(language.Turkish).String(text)
	case English:
		return cases.Lower(language.English).String(text)
	}
	return text
}
