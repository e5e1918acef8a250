package firewall

import (
	"github.com/gzhole/replyshield/internal/guardrail"
	"github.com/gzhole/replyshield/internal/messages"
)

// StageName is recorded in guardrailsApplied.
const StageName = "response_firewall"

// EnumerationMode tags firewall blocks in the session store.
const EnumerationMode = "firewall"

// Recoverer gets a second look at a reply whose only violation is
// unmasked PII. The leak filter implements it.
type Recoverer interface {
	Recover(text string, gctx *guardrail.Context) guardrail.StageOutcome
}

// Stage runs the firewall inside the pipeline.
type Stage struct {
	fw        *Firewall
	recoverer Recoverer
}

// NewStage creates the stage. With a nil recoverer a PII-only reply is
// blocked like any other violation.
func NewStage(fw *Firewall, r Recoverer) *Stage {
	if fw == nil {
		fw = New(nil, nil)
	}
	return &Stage{fw: fw, recoverer: r}
}

func (s *Stage) Name() string { return StageName }

func (s *Stage) Check(text string, gctx *guardrail.Context) guardrail.StageOutcome {
	res := s.fw.Sanitize(text, gctx.Language, Meta{})

	if res.Safe {
		return cleaned(text, res)
	}

	if gctx.Flags.FirewallLogOnly {
		return cleaned(text, res).
			WithViolations(logOnly(res.Violations)...).
			WithTelemetry("log_only", true)
	}

	if res.PIIOnly && s.recoverer != nil {
		out := s.recoverer.Recover(res.Cleaned, gctx)
		if out.Decision == guardrail.Terminate && out.Action == guardrail.ActionBlock {
			return s.block(res).WithTelemetry("recovery", "failed")
		}
		label := recoveryLabel(out)
		if out.Decision == guardrail.Continue && res.Cleaned != text {
			out.Decision, out.Text = guardrail.Mutate, res.Cleaned
		}
		return out.
			WithViolations(res.Violations...).
			WithTelemetry("recovery", label)
	}

	return s.block(res)
}

func (s *Stage) block(res Result) guardrail.StageOutcome {
	signal := res.Violations[0].Type
	out := guardrail.Block(guardrail.ReasonFirewallBlock, messages.KeyFirewallFallback).
		WithViolations(res.Violations...).
		WithEscalation(guardrail.Escalation{
			Reason:        string(guardrail.ReasonFirewallBlock),
			Enumeration:   &guardrail.EnumerationSignal{Mode: EnumerationMode, Signal: signal},
			SecurityEvent: true,
		})
	if res.PIIOnly {
		out = out.WithSubReason(guardrail.SubReasonFirewallPIIOnly)
	}
	return out
}

// cleaned passes the reply on, minus any invisible characters.
func cleaned(text string, res Result) guardrail.StageOutcome {
	out := guardrail.Pass()
	if res.Cleaned != text {
		out = guardrail.Sanitize(res.Cleaned)
	}
	if len(res.Unicode) > 0 {
		out = out.WithTelemetry("unicode", res.Unicode)
	}
	return out
}

func logOnly(vs []guardrail.Violation) []guardrail.Violation {
	out := make([]guardrail.Violation, len(vs))
	for i, v := range vs {
		v.LogOnly = true
		out[i] = v
	}
	return out
}

func recoveryLabel(out guardrail.StageOutcome) string {
	switch out.Decision {
	case guardrail.Mutate:
		return "masked"
	case guardrail.Terminate:
		return "need_min_info"
	}
	return "exempt"
}
