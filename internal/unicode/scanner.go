// Package unicode removes characters a model reply has no business
// carrying (zero-width, bidi overrides, tag characters, control bytes) and
// builds the Latin skeleton detectors match against.
package unicode

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Threat categories.
const (
	CategoryInvalidUTF8 = "invalid-utf8"
	CategoryZeroWidth   = "zero-width"
	CategoryBidi        = "bidi-override"
	CategoryTag         = "tag-char"
	CategoryControl     = "control-char"
	CategoryHomoglyph   = "homoglyph"
)

// Threat severities. Strip threats are removed from Sanitized; audit
// threats are kept in the reply and only folded in Skeleton.
const (
	SeverityStrip = "strip"
	SeverityAudit = "audit"
)

// Threat is one suspicious character.
type Threat struct {
	Category  string
	Position  int // byte offset in the input
	Codepoint string
	Severity  string
}

// ScanResult holds the output of a scan.
type ScanResult struct {
	Clean   bool
	Threats []Threat
	// Sanitized is the input with strip-severity characters removed.
	Sanitized string
}

// Stripped reports whether Sanitized differs from the input.
func (r ScanResult) Stripped() bool {
	for _, t := range r.Threats {
		if t.Severity == SeverityStrip {
			return true
		}
	}
	return false
}

// Categories returns the distinct threat categories.
func (r ScanResult) Categories() []string {
	var out []string
	seen := map[string]bool{}
	for _, t := range r.Threats {
		if !seen[t.Category] {
			seen[t.Category] = true
			out = append(out, t.Category)
		}
	}
	return out
}

// Scan inspects a reply for invisible and confusable characters.
func Scan(input string) ScanResult {
	result := ScanResult{Clean: true}
	var sanitized strings.Builder
	sanitized.Grow(len(input))

	for i := 0; i < len(input); {
		r, size := utf8.DecodeRuneInString(input[i:])

		if r == utf8.RuneError && size == 1 {
			result.Clean = false
			result.Threats = append(result.Threats, Threat{
				Category:  CategoryInvalidUTF8,
				Position:  i,
				Codepoint: fmt.Sprintf("0x%02X", input[i]),
				Severity:  SeverityStrip,
			})
			i++
			continue
		}

		if category, severity, found := classifyRune(r); found {
			result.Clean = false
			result.Threats = append(result.Threats, Threat{
				Category:  category,
				Position:  i,
				Codepoint: fmt.Sprintf("U+%04X", r),
				Severity:  severity,
			})
			if severity == SeverityStrip {
				i += size
				continue
			}
		}

		sanitized.WriteRune(r)
		i += size
	}

	result.Sanitized = sanitized.String()
	return result
}

// Skeleton maps Cyrillic and Greek look-alikes to their Latin letters so
// "\u0455\u0443\u0455tem prompt" matches the same patterns as "system prompt".
func Skeleton(s string) string {
	return strings.Map(func(r rune) rune {
		if l, ok := cyrillicHomoglyphs[r]; ok {
			return l
		}
		if l, ok := greekHomoglyphs[r]; ok {
			return l
		}
		return r
	}, s)
}

func classifyRune(r rune) (category, severity string, found bool) {
	switch {
	case isZeroWidth(r):
		return CategoryZeroWidth, SeverityStrip, true
	case isBidiOverride(r):
		return CategoryBidi, SeverityStrip, true
	case isTagCharacter(r):
		return CategoryTag, SeverityStrip, true
	case isUnsafeControl(r):
		return CategoryControl, SeverityStrip, true
	case isHomoglyph(r):
		return CategoryHomoglyph, SeverityAudit, true
	}
	return "", "", false
}

func isZeroWidth(r rune) bool {
	switch r {
	case '\u200B', // ZERO WIDTH SPACE
		'\u200C', // ZERO WIDTH NON-JOINER
		'\u200D', // ZERO WIDTH JOINER
		'\uFEFF', // BOM
		'\u2060', // WORD JOINER
		'\u180E', // MONGOLIAN VOWEL SEPARATOR
		'\u200E', // LRM
		'\u200F', // RLM
		'\u00AD': // SOFT HYPHEN
		return true
	}
	return false
}

func isBidiOverride(r rune) bool {
	return (r >= '\u202A' && r <= '\u202E') || (r >= '\u2066' && r <= '\u2069')
}

func isTagCharacter(r rune) bool {
	return r >= 0xE0001 && r <= 0xE007F
}

func isUnsafeControl(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return r <= 0x1F || r == 0x7F || (r >= 0x80 && r <= 0x9F)
}

func isHomoglyph(r rune) bool {
	if unicode.Is(unicode.Cyrillic, r) {
		_, ok := cyrillicHomoglyphs[r]
		return ok
	}
	if unicode.Is(unicode.Greek, r) {
		_, ok := greekHomoglyphs[r]
		return ok
	}
	return false
}

var cyrillicHomoglyphs = map[rune]rune{
	'\u0430': 'a', '\u0410': 'A',
	'\u0412': 'B',
	'\u0441': 'c', '\u0421': 'C',
	'\u0435': 'e', '\u0415': 'E',
	'\u041D': 'H',
	'\u0456': 'i', '\u0406': 'I',
	'\u041A': 'K',
	'\u041C': 'M',
	'\u043E': 'o', '\u041E': 'O',
	'\u0440': 'p', '\u0420': 'P',
	'\u0455': 's', '\u0405': 'S',
	'\u0422': 'T',
	'\u0445': 'x', '\u0425': 'X',
	'\u0443': 'y', '\u0423': 'Y',
}

var greekHomoglyphs = map[rune]rune{
	'\u0391': 'A',
	'\u0392': 'B',
	'\u0395': 'E',
	'\u0397': 'H',
	'\u0399': 'I',
	'\u039A': 'K',
	'\u039C': 'M',
	'\u039D': 'N',
	'\u039F': 'O', '\u03BF': 'o',
	'\u03A1': 'P',
	'\u03A4': 'T',
	'\u03A7': 'X',
	'\u03A5': 'Y',
	'\u0396': 'Z',
}
