package patterns

import (
	"fmt"
	"regexp"
)

// Set is a language-partitioned list of compiled patterns. Patterns of a
// language partition are matched against text folded with that language's
// case rules; Any patterns see the raw text.
type Set map[Language][]*regexp.Regexp

// Match is one pattern hit.
type Match struct {
	Language Language
	Pattern  string
	Evidence string
	// Groups holds submatches; Groups[0] is the whole match.
	Groups []string
	// Start and End are byte offsets into the text as folded for Language.
	Start, End int
}

// Find returns the first hit in MatchOrder.
func (s Set) Find(text string) (Match, bool) {
	for _, lang := range MatchOrder {
		res := s[lang]
		if len(res) == 0 {
			continue
		}
		folded := Fold(text, lang)
		for _, re := range res {
			if idx := re.FindStringSubmatchIndex(folded); idx != nil {
				return newMatch(lang, re, folded, idx), true
			}
		}
	}
	return Match{}, false
}

// FindAll returns every hit of every pattern.
func (s Set) FindAll(text string) []Match {
	var out []Match
	for _, lang := range MatchOrder {
		res := s[lang]
		if len(res) == 0 {
			continue
		}
		folded := Fold(text, lang)
		for _, re := range res {
			for _, idx := range re.FindAllStringSubmatchIndex(folded, -1) {
				out = append(out, newMatch(lang, re, folded, idx))
			}
		}
	}
	return out
}

func newMatch(lang Language, re *regexp.Regexp, folded string, idx []int) Match {
	groups := make([]string, len(idx)/2)
	for i := range groups {
		if idx[2*i] >= 0 {
			groups[i] = folded[idx[2*i]:idx[2*i+1]]
		}
	}
	return Match{
		Language: lang,
		Pattern:  re.String(),
		Evidence: groups[0],
		Groups:   groups,
		Start:    idx[0],
		End:      idx[1],
	}
}

// Within reports whether m lies inside other in the same folded text.
func (m Match) Within(other Match) bool {
	return m.Language == other.Language && other.Start <= m.Start && m.End <= other.End &&
		(other.End-other.Start) > (m.End-m.Start)
}

// MatchString reports whether any pattern matches.
func (s Set) MatchString(text string) bool {
	_, ok := s.Find(text)
	return ok
}

// ReplaceAll replaces every hit with repl in the folded form of text, per
// language partition. The result is folded text; callers use it only for
// further matching.
func (s Set) ReplaceAll(text string, lang Language, repl string) string {
	out := Fold(text, lang)
	for _, re := range s[lang] {
		out = re.ReplaceAllString(out, repl)
	}
	for _, re := range s[Any] {
		out = re.ReplaceAllString(out, repl)
	}
	return out
}

// Len returns the total number of patterns.
func (s Set) Len() int {
	n := 0
	for _, res := range s {
		n += len(res)
	}
	return n
}

func (s Set) clone() Set {
	out := make(Set, len(s))
	for lang, res := range s {
		out[lang] = append([]*regexp.Regexp(nil), res...)
	}
	return out
}

func mustSet(raw map[Language][]string) Set {
	s, err := compileSet(raw)
	if err != nil {
		panic(err)
	}
	return s
}

func compileSet(raw map[Language][]string) (Set, error) {
	s := make(Set, len(raw))
	for lang, patterns := range raw {
		compiled := make([]*regexp.Regexp, 0, len(patterns))
		for _, p := range patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("invalid %s pattern %q: %w", lang, p, err)
			}
			compiled = append(compiled, re)
		}
		s[lang] = compiled
	}
	return s, nil
}
