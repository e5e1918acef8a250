// Package leakfilter gates sensitive fields (phone, address, balance,
// tracking number) on the requester's verification state. Disclosure has to
// be earned by verification, except where a documented bypass applies.
package leakfilter

import (
	"slices"
	"strings"
	"time"

	"github.com/gzhole/replyshield/internal/clarify"
	"github.com/gzhole/replyshield/internal/guardrail"
	"github.com/gzhole/replyshield/internal/messages"
	"github.com/gzhole/replyshield/internal/patterns"
	"github.com/gzhole/replyshield/internal/pii"
)

// StageName is recorded in guardrailsApplied.
const StageName = "security_gateway_leak_filter"

// BypassWindow is how long after a NOT_FOUND terminal the filter stays off,
// so a legitimate "not found" does not start a re-verification loop.
const BypassWindow = 5 * time.Minute

// Leak types.
const (
	LeakPhone          = "phone"
	LeakAddress        = "address"
	LeakBalance        = "balance"
	LeakTrackingNumber = "tracking_number"
	// LeakPII covers other maskable PII handed over by the firewall.
	LeakPII = "pii"
)

// Bypass reasons recorded in telemetry.
const (
	BypassNotFound       = "tool_outcome_not_found"
	BypassNeedMoreInfo   = "tool_outcome_need_more_info"
	BypassNoDigitsNoTool = "no_digits_no_tool"
	BypassRecentNotFound = "recent_not_found"
	BypassCallbackPhone  = "callback_own_phone"
)

// bypassOutcomes are tool outcomes that returned no real record.
var bypassOutcomes = map[guardrail.ToolOutcome]string{
	guardrail.OutcomeNotFound:     BypassNotFound,
	guardrail.OutcomeNeedMoreInfo: BypassNeedMoreInfo,
}

// Leak is one sensitive value found in a reply.
type Leak struct {
	Type  string
	Value string
	// finding is set for values that can be masked in place.
	finding *pii.Finding
}

// Filter is the leak filter. It is both a pipeline stage and the firewall's
// recoverer for PII-only replies.
type Filter struct {
	lib     *patterns.Library
	scanner *pii.Scanner
}

// New creates a filter. A nil library uses the built-in one.
func New(lib *patterns.Library) *Filter {
	if lib == nil {
		lib = patterns.Default()
	}
	return &Filter{lib: lib, scanner: pii.NewScanner(lib)}
}

func (f *Filter) Name() string { return StageName }

// Detect returns every sensitive field in text.
func (f *Filter) Detect(text string) []Leak {
	var leaks []Leak
	for _, finding := range f.scanner.Scan(text).Findings {
		if finding.Type == pii.TypePhone {
			finding := finding
			leaks = append(leaks, Leak{Type: LeakPhone, Value: finding.Value, finding: &finding})
		}
	}
	for _, m := range f.lib.Set(patterns.KeyLeakAddress).FindAll(text) {
		leaks = append(leaks, Leak{Type: LeakAddress, Value: strings.TrimSpace(m.Evidence)})
	}
	for _, m := range f.lib.Set(patterns.KeyLeakBalance).FindAll(text) {
		leaks = append(leaks, Leak{Type: LeakBalance, Value: strings.TrimSpace(m.Evidence)})
	}
	for _, m := range f.lib.Set(patterns.KeyTrackingClaim).FindAll(text) {
		if len(m.Groups) > 1 && strings.ContainsAny(m.Groups[1], "0123456789") {
			leaks = append(leaks, Leak{Type: LeakTrackingNumber, Value: m.Groups[1]})
		}
	}
	return leaks
}

// Bypass reports whether the filter is off for this turn, and why.
func Bypass(text string, gctx *guardrail.Context) (string, bool) {
	if outcome, ok := gctx.LastToolOutcome(); ok {
		if reason, ok := bypassOutcomes[outcome]; ok {
			return reason, true
		}
	}
	if !hasDigits(text) && !gctx.ToolCalled() {
		return BypassNoDigitsNoTool, true
	}
	if !gctx.LastNotFoundAt.IsZero() && gctx.Clock().Sub(gctx.LastNotFoundAt) <= BypassWindow {
		return BypassRecentNotFound, true
	}
	return "", false
}

// Check runs the filter as a pipeline stage.
func (f *Filter) Check(text string, gctx *guardrail.Context) guardrail.StageOutcome {
	return f.evaluate(text, gctx, f.Detect(text), false)
}

// Recover handles a reply the firewall flagged only for unmasked PII. Every
// maskable PII finding counts as a leak here, not just phones.
func (f *Filter) Recover(text string, gctx *guardrail.Context) guardrail.StageOutcome {
	leaks := f.Detect(text)
	for _, finding := range f.scanner.Scan(text).Maskable() {
		if finding.Type == pii.TypePhone {
			continue
		}
		finding := finding
		leaks = append(leaks, Leak{Type: LeakPII, Value: finding.Value, finding: &finding})
	}
	out := f.evaluate(text, gctx, leaks, true)
	if out.Decision == guardrail.Continue {
		// A bypass does not license raw PII: mask what the customer did not
		// type themselves.
		if masked := mask(text, ownLeaksRemoved(leaks, gctx)); masked != text {
			return guardrail.Sanitize(masked).WithTelemetryMap(out.Telemetry)
		}
	}
	return out
}

// evaluate decides on the leaks of text. In recovery every maskable leak is
// masked, otherwise only phones.
func (f *Filter) evaluate(text string, gctx *guardrail.Context, leaks []Leak, recovering bool) guardrail.StageOutcome {
	out := guardrail.Pass().
		WithTelemetry("leak_types", leakTypes(leaks)).
		WithTelemetry("has_digits", hasDigits(text)).
		WithTelemetry("verification_mode", gctx.Verification.String())

	if reason, ok := Bypass(text, gctx); ok {
		return out.WithTelemetry("bypass", reason)
	}

	foreign := ownLeaksRemoved(leaks, gctx)
	if len(foreign) == 0 {
		if gctx.CallbackPending && len(leaks) > 0 {
			out = out.WithTelemetry("bypass", BypassCallbackPhone)
		}
		return out
	}

	if gctx.Verification != guardrail.VerificationVerified {
		// A tracking number that disagrees with an anchor-verified lookup is
		// a fabrication, not a disclosure; field grounding reports it.
		deferTracking := anchorVerifiedData(gctx)
		var ungrounded []Leak
		for _, l := range foreign {
			if gctx.GroundedInTools(l.Value, true) {
				continue
			}
			if l.Type == LeakTrackingNumber && deferTracking {
				out = out.WithTelemetry("deferred_to_grounding", true)
				continue
			}
			ungrounded = append(ungrounded, l)
		}
		if len(ungrounded) > 0 {
			return f.deny(out, ungrounded, gctx)
		}
	}

	targets := foreign
	if !recovering {
		targets = phonesOf(foreign)
	}
	if masked := mask(text, targets); masked != text {
		return guardrail.Sanitize(masked).WithTelemetryMap(out.Telemetry).WithTelemetry("masked", true)
	}
	return out
}

// deny asks for the highest-precedence missing anchor, or blocks when every
// anchor is already present and the reply still cannot be verified.
func (f *Filter) deny(out guardrail.StageOutcome, leaks []Leak, gctx *guardrail.Context) guardrail.StageOutcome {
	violations := make([]guardrail.Violation, 0, len(leaks))
	for _, l := range leaks {
		violations = append(violations, guardrail.Violation{
			Type:     "SENSITIVE_FIELD_LEAK",
			Category: l.Type,
			Evidence: l.Value,
			Severity: guardrail.SeverityHigh,
			LogOnly:  gctx.Flags.LeakFilterLogOnly,
		})
	}

	if gctx.Flags.LeakFilterLogOnly {
		return out.WithViolations(violations...).WithTelemetry("log_only", true)
	}

	missing := MissingAnchors(gctx)
	if len(missing) == 0 {
		return guardrail.Block(guardrail.ReasonLeakFilter, messages.KeySecurityBarrier).
			WithSubReason(guardrail.SubReasonHardBlock).
			WithViolations(violations...).
			WithTelemetryMap(out.Telemetry)
	}

	field, key := clarify.Question(missing, gctx.AskedFields)
	return guardrail.NeedInfo(guardrail.ReasonLeakFilter, key, missing, field).
		WithSubReason(guardrail.SubReasonNeedMinInfo).
		WithViolations(violations...).
		WithTelemetryMap(out.Telemetry)
}

// MissingAnchors lists the verification anchors the customer has not given
// yet, in question precedence.
func MissingAnchors(gctx *guardrail.Context) []string {
	var missing []string
	if gctx.Collected.AmbiguousIdentifier != "" {
		missing = append(missing, clarify.FieldIdentifierType)
	}
	if gctx.Collected.OrderNumber == "" {
		missing = append(missing, clarify.FieldOrderNumber)
	}
	if gctx.Collected.PhoneLast4 == "" {
		missing = append(missing, clarify.FieldPhoneLast4)
	}
	return clarify.Sort(missing)
}

// anchorVerifiedData reports whether a tool verified the requester itself
// and returned record data.
func anchorVerifiedData(gctx *guardrail.Context) bool {
	for _, o := range gctx.ToolOutputs {
		if o.AnchorVerified() && len(o.Data) > 0 {
			return true
		}
	}
	return false
}

func ownLeaksRemoved(leaks []Leak, gctx *guardrail.Context) []Leak {
	var out []Leak
	for _, l := range leaks {
		if !gctx.CustomerSupplied(l.Value) {
			out = append(out, l)
		}
	}
	return out
}

func phonesOf(leaks []Leak) []Leak {
	var out []Leak
	for _, l := range leaks {
		if l.Type == LeakPhone {
			out = append(out, l)
		}
	}
	return out
}

func mask(text string, leaks []Leak) string {
	var findings []pii.Finding
	for _, l := range leaks {
		if l.finding != nil {
			findings = append(findings, *l.finding)
		}
	}
	if len(findings) == 0 {
		return text
	}
	return pii.Mask(text, findings)
}

func leakTypes(leaks []Leak) []string {
	out := []string{}
	for _, l := range leaks {
		if !slices.Contains(out, l.Type) {
			out = append(out, l.Type)
		}
	}
	return out
}

func hasDigits(s string) bool {
	return strings.ContainsAny(s, "0123456789")
}
