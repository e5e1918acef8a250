// Package grounding compares the values a reply claims (order status,
// tracking number, address, amount) against what the turn's successful
// tools actually returned.
package grounding

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/gzhole/replyshield/internal/guardrail"
	"github.com/gzhole/replyshield/internal/messages"
	"github.com/gzhole/replyshield/internal/patterns"
)

// StageName is recorded in guardrailsApplied.
const StageName = "field_grounding_checker"

// Fields named in violations.
const (
	FieldStatus   = "order.status"
	FieldTracking = "trackingNumber"
	FieldAddress  = "address"
	FieldAmount   = "amount"
)

// Checker is the field-grounding stage.
type Checker struct {
	lib *patterns.Library
}

// New creates the stage. A nil library uses the built-in one.
func New(lib *patterns.Library) *Checker {
	if lib == nil {
		lib = patterns.Default()
	}
	return &Checker{lib: lib}
}

func (c *Checker) Name() string { return StageName }

func (c *Checker) Check(text string, gctx *guardrail.Context) guardrail.StageOutcome {
	outputs := groundable(gctx)
	if len(outputs) == 0 {
		return guardrail.Pass()
	}

	violations := c.Ground(text, outputs)
	out := guardrail.Pass().WithTelemetry("outputs", len(outputs))
	if len(violations) == 0 {
		return out
	}

	fields := make([]string, 0, len(violations))
	for _, v := range violations {
		fields = append(fields, v.Field)
	}
	if gctx.Flags.FieldGroundingMonitorOnly {
		for i := range violations {
			violations[i].LogOnly = true
		}
		return out.WithViolations(violations...).
			WithTelemetry("fields", fields).
			WithTelemetry("monitor_only", true)
	}
	return guardrail.Block(guardrail.ReasonFieldGrounding, messages.KeyCorrectionBarrier).
		WithViolations(violations...).
		WithCorrection(Constraint(violations, gctx.Language)).
		WithTelemetryMap(out.Telemetry).
		WithTelemetry("fields", fields)
}

// Ground runs the four checks against outputs.
func (c *Checker) Ground(text string, outputs []guardrail.ToolOutput) []guardrail.Violation {
	var out []guardrail.Violation
	out = append(out, c.status(text, outputs)...)
	out = append(out, c.tracking(text, outputs)...)
	out = append(out, c.address(text, outputs)...)
	out = append(out, c.amount(text, outputs)...)
	return out
}

func violation(field, expected, claimed, evidence string) guardrail.Violation {
	return guardrail.Violation{
		Type:     string(guardrail.ReasonFieldGrounding),
		Field:    field,
		Expected: expected,
		Claimed:  claimed,
		Evidence: evidence,
		Severity: guardrail.SeverityHigh,
	}
}

type statusHit struct {
	status string
	match  patterns.Match
}

// ClaimedStatuses returns the canonical statuses text asserts. A hit that
// lies inside a longer hit of another status is dropped, so "kargoya teslim
// edildi" counts as shipped only.
func (c *Checker) ClaimedStatuses(text string) []string {
	var hits []statusHit
	for _, s := range c.lib.Statuses() {
		for _, m := range c.lib.Set(patterns.StatusKey(s)).FindAll(text) {
			hits = append(hits, statusHit{status: s, match: m})
		}
	}
	var out []string
	for i, h := range hits {
		inner := false
		for j, other := range hits {
			if i != j && other.status != h.status && h.match.Within(other.match) {
				inner = true
				break
			}
		}
		if !inner && !slices.Contains(out, h.status) {
			out = append(out, h.status)
		}
	}
	return out
}

func (c *Checker) status(text string, outputs []guardrail.ToolOutput) []guardrail.Violation {
	var expected []string
	for _, raw := range collect(outputs, isStatusKey) {
		if s, ok := patterns.NormalizeStatus(raw); ok && !slices.Contains(expected, s) {
			expected = append(expected, s)
		}
	}
	if len(expected) == 0 {
		return nil
	}

	var out []guardrail.Violation
	for _, claimed := range c.ClaimedStatuses(text) {
		if slices.Contains(expected, claimed) {
			continue
		}
		for _, exp := range expected {
			if c.lib.Contradicts(exp, claimed) {
				out = append(out, violation(FieldStatus, exp, claimed, claimed))
				break
			}
		}
	}
	return out
}

func (c *Checker) tracking(text string, outputs []guardrail.ToolOutput) []guardrail.Violation {
	known := collect(outputs, isTrackingKey)
	var out []guardrail.Violation
	seen := map[string]bool{}
	for _, m := range c.lib.Set(patterns.KeyTrackingClaim).FindAll(text) {
		if len(m.Groups) < 2 || m.Groups[1] == "" {
			continue
		}
		claimed := m.Groups[1]
		// "tracking number is available" is not a claim.
		if !strings.ContainsAny(claimed, "0123456789") {
			continue
		}
		if seen[claimed] || matchesAny(claimed, known) {
			continue
		}
		seen[claimed] = true
		out = append(out, violation(FieldTracking, strings.Join(known, ", "), claimed, m.Evidence))
	}
	return out
}

func matchesAny(claimed string, known []string) bool {
	cn := alnumUpper(claimed)
	for _, k := range known {
		if alnumUpper(k) == cn {
			return true
		}
	}
	return false
}

func alnumUpper(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// address flags an address claim only when no output has an address field:
// tools never return full addresses, so an address in the reply was made up.
func (c *Checker) address(text string, outputs []guardrail.ToolOutput) []guardrail.Violation {
	if hasKey(outputs, isAddressKey) {
		return nil
	}
	m, ok := c.lib.Set(patterns.KeyAddressClaim).Find(text)
	if !ok {
		return nil
	}
	return []guardrail.Violation{violation(FieldAddress, "", m.Evidence, m.Evidence)}
}

// ClaimedAmounts returns the amounts text mentions, in cents, keyed to the
// matched fragment.
func (c *Checker) ClaimedAmounts(text string) map[int64]string {
	out := map[int64]string{}
	add := func(key string, group int) {
		for _, m := range c.lib.Set(key).FindAll(text) {
			if len(m.Groups) <= group {
				continue
			}
			if cents, ok := ParseAmount(m.Groups[group]); ok {
				if _, dup := out[cents]; !dup {
					out[cents] = strings.TrimSpace(m.Evidence)
				}
			}
		}
	}
	add(patterns.KeyAmountPrefix, 2)
	add(patterns.KeyAmountSuffix, 1)
	return out
}

func (c *Checker) amount(text string, outputs []guardrail.ToolOutput) []guardrail.Violation {
	known := amountsOf(outputs)
	if len(known) == 0 {
		return nil
	}
	claimed := c.ClaimedAmounts(text)
	if len(claimed) == 0 {
		return nil
	}

	expected := make([]int64, 0, len(known))
	for k := range known {
		expected = append(expected, k)
	}
	sort.Slice(expected, func(i, j int) bool { return expected[i] < expected[j] })
	exp := make([]string, len(expected))
	for i, e := range expected {
		exp[i] = formatCents(e)
	}

	cents := make([]int64, 0, len(claimed))
	for k := range claimed {
		cents = append(cents, k)
	}
	sort.Slice(cents, func(i, j int) bool { return cents[i] < cents[j] })

	var out []guardrail.Violation
	for _, cl := range cents {
		if known[cl] {
			continue
		}
		out = append(out, violation(FieldAmount, strings.Join(exp, ", "), formatCents(cl), claimed[cl]))
	}
	return out
}

// Constraint names every contradicted field and value so the next attempt
// can fix exactly those.
func Constraint(violations []guardrail.Violation, lang string) string {
	en := patterns.ParseLanguage(lang) == patterns.English
	parts := make([]string, 0, len(violations)+1)
	for _, v := range violations {
		switch {
		case en && v.Expected == "":
			parts = append(parts, fmt.Sprintf("The reply states %s %q, but the tool output has no such value. Remove it.", v.Field, v.Claimed))
		case en:
			parts = append(parts, fmt.Sprintf("The reply states %s %q, but the tool returned %q. Use the tool value.", v.Field, v.Claimed, v.Expected))
		case v.Expected == "":
			parts = append(parts, fmt.Sprintf("Yanıtta %s için %q yazıyor ama araç çıktısında böyle bir değer yok. Bu bilgiyi çıkar.", v.Field, v.Claimed))
		default:
			parts = append(parts, fmt.Sprintf("Yanıtta %s için %q yazıyor ama araç %q döndürdü. Araçtaki değeri kullan.", v.Field, v.Claimed, v.Expected))
		}
	}
	return strings.Join(parts, " ")
}
