// Package claimgate holds the informational gates. Each replaces the reply
// with exactly one clarification question when the conversation lacks what
// a truthful answer needs, and never blocks.
package claimgate

import (
	"github.com/gzhole/replyshield/internal/clarify"
	"github.com/gzhole/replyshield/internal/guardrail"
	"github.com/gzhole/replyshield/internal/patterns"
)

// NotFoundStageName is recorded in guardrailsApplied.
const NotFoundStageName = "not_found_clarification"

// NotFoundGate handles a lookup that came back NOT_FOUND. A reply that owns
// up to the miss passes; anything else is replaced by a question for the
// identifier most likely to have been wrong.
type NotFoundGate struct {
	lib *patterns.Library
}

// NewNotFoundGate creates the gate. A nil library uses the built-in one.
func NewNotFoundGate(lib *patterns.Library) *NotFoundGate {
	if lib == nil {
		lib = patterns.Default()
	}
	return &NotFoundGate{lib: lib}
}

func (g *NotFoundGate) Name() string { return NotFoundStageName }

func (g *NotFoundGate) Check(text string, gctx *guardrail.Context) guardrail.StageOutcome {
	outcome, ok := gctx.LastToolOutcome()
	if !ok || outcome != guardrail.OutcomeNotFound {
		return guardrail.Pass()
	}

	if m, ok := g.lib.Set(patterns.KeyNotFoundAck).Find(text); ok {
		out := guardrail.Pass().WithTelemetry("acknowledged", string(m.Language))
		out.NotFoundHandled = true
		return out
	}

	out := ask(guardrail.ReasonNotFoundClarification, notFoundFields(gctx), gctx).
		WithTelemetry("acknowledged", false)
	out.NotFoundHandled = true
	return out
}

// notFoundFields are the identifiers to re-ask after a miss. Values the
// customer already gave are re-asked too: one of them was wrong.
func notFoundFields(gctx *guardrail.Context) []string {
	fields := []string{clarify.FieldOrderNumber, clarify.FieldPhoneLast4}
	if gctx.Collected.AmbiguousIdentifier != "" {
		fields = append(fields, clarify.FieldIdentifierType)
	}
	return fields
}

// ask builds the single-question outcome, or the hand-off once every
// candidate was asked.
func ask(reason guardrail.Reason, missing []string, gctx *guardrail.Context) guardrail.StageOutcome {
	missing = clarify.Sort(missing)
	field, key := clarify.Question(missing, gctx.AskedFields)
	return guardrail.NeedInfo(reason, key, missing, field).
		WithTelemetry("asked_field", field)
}
