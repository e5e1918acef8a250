// Package firewall is the first guardrail: it refuses replies that dump raw
// structures or disclose the prompt and implementation, and hands a reply
// whose only problem is unmasked PII to a recoverer for masking.
package firewall

import (
	"strings"

	"github.com/gzhole/replyshield/internal/guardrail"
	"github.com/gzhole/replyshield/internal/messages"
	"github.com/gzhole/replyshield/internal/patterns"
	"github.com/gzhole/replyshield/internal/pii"
	"github.com/gzhole/replyshield/internal/redact"
	"github.com/gzhole/replyshield/internal/unicode"
)

// Violation types.
const (
	ViolationJSONDump         = "JSON_DUMP"
	ViolationHTMLDump         = "HTML_DUMP"
	ViolationPromptDisclosure = "PROMPT_DISCLOSURE"
	ViolationInternalMetadata = "INTERNAL_METADATA"
	ViolationUnredactedPII    = "UNREDACTED_PII"
)

const (
	// jsonKeyThreshold is the number of "key": fragments above which a
	// reply counts as a JSON dump.
	jsonKeyThreshold = 2
	// htmlTagThreshold is the number of tag tokens above which a reply
	// counts as an HTML dump.
	htmlTagThreshold = 3
)

// Meta carries per-call detector inputs.
type Meta struct {
	// ToolNames are registered tool names beyond the library's.
	ToolNames []string
}

// Result is the outcome of Sanitize.
type Result struct {
	Safe bool
	// Sanitized is the reply without invisible characters when Safe, and the
	// fallback message otherwise.
	Sanitized  string
	Violations []guardrail.Violation
	// Cleaned is the reply without invisible characters, whatever Safe says.
	Cleaned string
	// PIIOnly is set when every violation is UNREDACTED_PII.
	PIIOnly     bool
	PIIFindings []pii.Finding
	// Unicode lists the stripped or folded character categories.
	Unicode []string
}

// Firewall runs the structural and disclosure detectors.
type Firewall struct {
	lib     *patterns.Library
	scanner *pii.Scanner
	catalog messages.Catalog
}

// New creates a firewall. Nil arguments use the built-in library and catalog.
func New(lib *patterns.Library, catalog messages.Catalog) *Firewall {
	if lib == nil {
		lib = patterns.Default()
	}
	if catalog == nil {
		catalog = messages.Default()
	}
	return &Firewall{lib: lib, scanner: pii.NewScanner(lib), catalog: catalog}
}

// Sanitize inspects text. Any violation makes the reply unsafe.
func (f *Firewall) Sanitize(text, lang string, meta Meta) Result {
	uni := unicode.Scan(text)
	cleaned := uni.Sanitized
	folded := unicode.Skeleton(cleaned)

	res := Result{Cleaned: cleaned, Unicode: uni.Categories()}
	res.Violations = append(res.Violations, f.structural(folded)...)
	res.Violations = append(res.Violations, f.disclosure(folded, meta)...)

	for _, finding := range f.scanner.Scan(cleaned).Maskable() {
		res.PIIFindings = append(res.PIIFindings, finding)
		res.Violations = append(res.Violations, guardrail.Violation{
			Type:     ViolationUnredactedPII,
			Category: string(finding.Type),
			Evidence: finding.Value,
			Severity: guardrail.SeverityHigh,
		})
	}

	if len(res.Violations) == 0 {
		res.Safe = true
		res.Sanitized = cleaned
		return res
	}

	res.PIIOnly = true
	for _, v := range res.Violations {
		if v.Type != ViolationUnredactedPII {
			res.PIIOnly = false
			break
		}
	}
	res.Sanitized = f.catalog.Render(messages.KeyFirewallFallback, lang, 0)
	return res
}

func (f *Firewall) structural(folded string) []guardrail.Violation {
	var out []guardrail.Violation

	keys := f.lib.Set(patterns.KeyJSONKey).FindAll(folded)
	if len(keys) > jsonKeyThreshold {
		out = append(out, violation(ViolationJSONDump, keys[0].Evidence))
	} else if m, ok := f.lib.Set(patterns.KeyJSONArray).Find(folded); ok {
		out = append(out, violation(ViolationJSONDump, m.Evidence))
	} else if m, ok := f.lib.Set(patterns.KeyJSONFence).Find(folded); ok {
		out = append(out, violation(ViolationJSONDump, m.Evidence))
	}

	tags := f.lib.Set(patterns.KeyHTMLTag).FindAll(folded)
	if len(tags) > htmlTagThreshold {
		out = append(out, violation(ViolationHTMLDump, tags[0].Evidence))
	} else if m, ok := f.lib.Set(patterns.KeyHTMLDocument).Find(folded); ok {
		out = append(out, violation(ViolationHTMLDump, m.Evidence))
	}
	return out
}

func (f *Firewall) disclosure(folded string, meta Meta) []guardrail.Violation {
	var out []guardrail.Violation

	if m, ok := f.lib.Set(patterns.KeyPromptDisclosure).Find(folded); ok {
		out = append(out, violation(ViolationPromptDisclosure, m.Evidence))
	} else if m, ok := f.lib.Set(patterns.KeySectionHeader).Find(folded); ok {
		out = append(out, violation(ViolationPromptDisclosure, m.Evidence))
	}

	if name, ok := mentionsTool(folded, f.lib.ToolNames(), meta.ToolNames); ok {
		out = append(out, violation(ViolationInternalMetadata, name))
		return out
	}
	for _, key := range []string{patterns.KeyToolIdentifier, patterns.KeyToolInvocation, patterns.KeyVendorTerms} {
		if m, ok := f.lib.Set(key).Find(folded); ok {
			out = append(out, violation(ViolationInternalMetadata, m.Evidence))
			return out
		}
	}
	if secret, ok := redact.FindSecret(folded); ok {
		out = append(out, violation(ViolationInternalMetadata, secret))
	}
	return out
}

func mentionsTool(folded string, lists ...[]string) (string, bool) {
	lower := strings.ToLower(folded)
	for _, names := range lists {
		for _, name := range names {
			if name != "" && strings.Contains(lower, strings.ToLower(name)) {
				return name, true
			}
		}
	}
	return "", false
}

func violation(typ, evidence string) guardrail.Violation {
	return guardrail.Violation{Type: typ, Evidence: evidence, Severity: guardrail.SeverityHigh}
}
