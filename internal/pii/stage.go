package pii

import (
	"strings"

	"github.com/gzhole/replyshield/internal/guardrail"
	"github.com/gzhole/replyshield/internal/messages"
	"github.com/gzhole/replyshield/internal/redact"
)

// StageName is recorded in guardrailsApplied.
const StageName = "pii_scanner"

// Stage hard-blocks critical PII the requester is not entitled to see. It
// has no kill switch.
type Stage struct {
	scanner *Scanner
}

// NewStage creates the stage. A nil scanner uses the built-in library.
func NewStage(s *Scanner) *Stage {
	if s == nil {
		s = defaultScanner
	}
	return &Stage{scanner: s}
}

func (s *Stage) Name() string { return StageName }

func (s *Stage) Check(text string, gctx *guardrail.Context) guardrail.StageOutcome {
	rep := s.scanner.Scan(text)
	if len(rep.Findings) == 0 {
		return guardrail.Pass()
	}

	var violations []guardrail.Violation
	exempt := 0
	var high []string
	for _, f := range rep.Findings {
		if f.Severity != SeverityCritical {
			high = append(high, string(f.Type))
			continue
		}
		if Exempt(f, gctx) {
			exempt++
			continue
		}
		violations = append(violations, guardrail.Violation{
			Type:     string(f.Type),
			Evidence: f.Value,
			Severity: guardrail.SeverityCritical,
		})
	}

	if len(violations) == 0 {
		return guardrail.Pass().
			WithTelemetry("finding_types", rep.Types()).
			WithTelemetry("exempt", exempt).
			WithTelemetry("high_types", high)
	}

	return guardrail.Block(guardrail.ReasonPIIRisk, messages.KeySecurityBarrier).
		WithViolations(violations...).
		WithEscalation(guardrail.LockEscalation(guardrail.ReasonPIIRisk)).
		WithTelemetry("finding_types", rep.Types()).
		WithTelemetry("high_types", high)
}

// Exempt reports whether the requester may see a critical finding: values
// the customer typed, values from a tool that verified the requester against
// the record anchors, and a verified requester's own record data.
func Exempt(f Finding, gctx *guardrail.Context) bool {
	if gctx.CustomerSupplied(f.Value) {
		return true
	}
	if gctx.GroundedInTools(f.Value, true) {
		return true
	}
	if gctx.Verification != guardrail.VerificationVerified {
		return false
	}
	if ownedByRequester(f, gctx.VerifiedIdentity) {
		return true
	}
	return gctx.GroundedInTools(f.Value, false)
}

func ownedByRequester(f Finding, id *guardrail.Identity) bool {
	if id == nil {
		return false
	}
	switch f.Type {
	case TypeEmail:
		return id.Email != "" && strings.EqualFold(id.Email, f.Value)
	case TypePhone:
		a, b := lastDigits(f.Value, 10), lastDigits(id.Phone, 10)
		return len(a) == 10 && a == b
	}
	return false
}

func lastDigits(s string, n int) string {
	d := redact.Digits(s)
	if len(d) > n {
		return d[len(d)-n:]
	}
	return d
}
