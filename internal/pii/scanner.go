// Package pii finds personal data in a reply and classifies it as critical
// (must never reach an unverified requester) or high (logged only).
package pii

import (
	"regexp"
	"sort"
	"strings"

	"github.com/gzhole/replyshield/internal/patterns"
	"github.com/gzhole/replyshield/internal/redact"
)

// Type is a PII category.
type Type string

const (
	TypePhone          Type = "PHONE"
	TypeEmail          Type = "EMAIL"
	TypeNationalID     Type = "NATIONAL_ID"
	TypeAddress        Type = "ADDRESS"
	TypeAccountBalance Type = "ACCOUNT_BALANCE"
	TypeCardNumber     Type = "CARD_NUMBER"
	TypeIBAN           Type = "IBAN"
	TypeBirthDate      Type = "BIRTH_DATE"
	TypeLongDigits     Type = "LONG_DIGIT_SEQUENCE"
)

// Severity of a finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
)

// Finding is one detected value.
type Finding struct {
	Type     Type
	Severity Severity
	Value    string
	// Start and End are byte offsets into the scanned text. Findings from
	// language patterns have no offsets (-1).
	Start, End int
	// Maskable findings can be replaced in place by Mask.
	Maskable bool
}

// Report is the result of a scan.
type Report struct {
	HasCritical bool
	HasHigh     bool
	Findings    []Finding
}

// Critical returns the critical findings.
func (r Report) Critical() []Finding {
	return r.filter(func(f Finding) bool { return f.Severity == SeverityCritical })
}

// Maskable returns the findings Mask can replace.
func (r Report) Maskable() []Finding {
	return r.filter(func(f Finding) bool { return f.Maskable })
}

// Types returns the distinct finding types in scan order.
func (r Report) Types() []string {
	var out []string
	seen := map[Type]bool{}
	for _, f := range r.Findings {
		if !seen[f.Type] {
			seen[f.Type] = true
			out = append(out, string(f.Type))
		}
	}
	return out
}

func (r Report) filter(keep func(Finding) bool) []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if keep(f) {
			out = append(out, f)
		}
	}
	return out
}

// detector finds one PII type in raw text. Lower priority wins overlaps.
type detector struct {
	typ      Type
	severity Severity
	priority int
	re       *regexp.Regexp
	validate func(digits string) bool
}

var detectors = []detector{
	{
		typ: TypeCardNumber, severity: SeverityCritical, priority: 0,
		re:       regexp.MustCompile(`\d(?:[ \-]?\d){12,18}`),
		validate: func(d string) bool { return len(d) >= 13 && len(d) <= 19 && luhnValid(d) },
	},
	{
		typ: TypeIBAN, severity: SeverityHigh, priority: 1,
		re: regexp.MustCompile(`\b[A-Z]{2}\d{2}(?: ?[0-9A-Z]{4}){3,7}(?: ?[0-9A-Z]{1,3})?\b`),
	},
	{
		typ: TypeNationalID, severity: SeverityCritical, priority: 2,
		re:       regexp.MustCompile(`\d{11}`),
		validate: validTCKN,
	},
	{
		typ: TypePhone, severity: SeverityCritical, priority: 3,
		re: regexp.MustCompile(`(?:\+90[\s\-]?|90[\s\-]?|0)?\(?[2-5]\d{2}\)?[\s\-]?\d{3}[\s\-]?\d{2}[\s\-]?\d{2}`),
	},
	{
		typ: TypePhone, severity: SeverityCritical, priority: 3,
		re:       regexp.MustCompile(`\+[1-9]\d{0,2}[\s\-]?\d(?:[\s\-]?\d){6,12}`),
		validate: func(d string) bool { return len(d) >= 9 },
	},
	{
		typ: TypeEmail, severity: SeverityCritical, priority: 4,
		re: regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
	},
	{
		typ: TypeLongDigits, severity: SeverityHigh, priority: 6,
		re: regexp.MustCompile(`\d{10,}`),
	},
}

// Scanner scans text with the PII detectors and the library's address,
// balance and birth-date patterns.
type Scanner struct {
	lib *patterns.Library
}

// NewScanner creates a scanner over lib.
func NewScanner(lib *patterns.Library) *Scanner {
	return &Scanner{lib: lib}
}

var defaultScanner = NewScanner(patterns.Default())

// Scan scans text with the built-in library.
func Scan(text string) Report {
	return defaultScanner.Scan(text)
}

// Scan returns every finding. Overlapping raw-text findings are resolved by
// detector priority, so a card number is not also reported as a phone.
func (s *Scanner) Scan(text string) Report {
	type candidate struct {
		Finding
		priority int
	}
	var candidates []candidate

	for _, d := range detectors {
		for _, loc := range d.re.FindAllStringIndex(text, -1) {
			start, end := loc[0], loc[1]
			if !isolated(text, start, end) {
				continue
			}
			value := text[start:end]
			if d.validate != nil && !d.validate(redact.Digits(value)) {
				continue
			}
			candidates = append(candidates, candidate{
				Finding: Finding{
					Type:     d.typ,
					Severity: d.severity,
					Value:    value,
					Start:    start,
					End:      end,
					Maskable: true,
				},
				priority: d.priority,
			})
		}
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].priority != candidates[b].priority {
			return candidates[a].priority < candidates[b].priority
		}
		return candidates[a].Start < candidates[b].Start
	})

	var accepted []Finding
	for _, c := range candidates {
		if overlapsAny(accepted, c.Finding) {
			continue
		}
		accepted = append(accepted, c.Finding)
	}
	sort.SliceStable(accepted, func(a, b int) bool { return accepted[a].Start < accepted[b].Start })

	for _, lp := range []struct {
		key      string
		typ      Type
		severity Severity
	}{
		{patterns.KeyPIIAddress, TypeAddress, SeverityCritical},
		{patterns.KeyPIIBalance, TypeAccountBalance, SeverityCritical},
		{patterns.KeyPIIBirthLabel, TypeBirthDate, SeverityHigh},
	} {
		for _, m := range s.lib.Set(lp.key).FindAll(text) {
			accepted = append(accepted, Finding{
				Type:     lp.typ,
				Severity: lp.severity,
				Value:    strings.TrimSpace(m.Evidence),
				Start:    -1,
				End:      -1,
			})
		}
	}

	rep := Report{Findings: accepted}
	for _, f := range accepted {
		switch f.Severity {
		case SeverityCritical:
			rep.HasCritical = true
		case SeverityHigh:
			rep.HasHigh = true
		}
	}
	return rep
}

// Mask replaces every maskable finding in text.
func Mask(text string, findings []Finding) string {
	masked := make([]Finding, 0, len(findings))
	for _, f := range findings {
		if f.Maskable && f.Start >= 0 && f.End <= len(text) {
			masked = append(masked, f)
		}
	}
	sort.Slice(masked, func(a, b int) bool { return masked[a].Start > masked[b].Start })

	for _, f := range masked {
		text = text[:f.Start] + maskValue(f) + text[f.End:]
	}
	return text
}

func maskValue(f Finding) string {
	switch f.Type {
	case TypePhone:
		return redact.MaskPhone(f.Value)
	case TypeEmail:
		return redact.MaskEmail(f.Value)
	case TypeCardNumber:
		return redact.MaskCard(f.Value)
	case TypeIBAN:
		v := strings.ReplaceAll(f.Value, " ", "")
		return v[:2] + strings.Repeat("*", len(v)-6) + v[len(v)-4:]
	}
	return redact.MaskDigits(f.Value)
}

func overlapsAny(accepted []Finding, c Finding) bool {
	for _, a := range accepted {
		if c.Start < a.End && a.Start < c.End {
			return true
		}
	}
	return false
}

// isolated reports whether text[start:end] is not glued to further digits
// or word characters, which RE2 cannot express without lookaround.
func isolated(text string, start, end int) bool {
	if start > 0 && isWordByte(text[start-1]) {
		return false
	}
	if end < len(text) && isWordByte(text[end]) {
		return false
	}
	return true
}

func isWordByte(b byte) bool {
	return b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b == '_'
}

// validTCKN checks the Turkish national ID checksum.
func validTCKN(d string) bool {
	if len(d) != 11 || d[0] == '0' {
		return false
	}
	var n [11]int
	for i := range d {
		n[i] = int(d[i] - '0')
	}
	odd := n[0] + n[2] + n[4] + n[6] + n[8]
	even := n[1] + n[3] + n[5] + n[7]
	d10 := ((odd*7-even)%10 + 10) % 10
	if d10 != n[9] {
		return false
	}
	sum := 0
	for i := 0; i < 10; i++ {
		sum += n[i]
	}
	return sum%10 == n[10]
}

func luhnValid(d string) bool {
	sum := 0
	double := false
	for i := len(d) - 1; i >= 0; i-- {
		v := int(d[i] - '0')
		if double {
			v *= 2
			if v > 9 {
				v -= 9
			}
		}
		sum += v
		double = !double
	}
	return sum%10 == 0
}
