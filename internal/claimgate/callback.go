package claimgate

import (
	"github.com/gzhole/replyshield/internal/clarify"
	"github.com/gzhole/replyshield/internal/guardrail"
)

// CallbackStageName is recorded in guardrailsApplied.
const CallbackStageName = "callback_info_gate"

// CallbackGate keeps a pending callback from being confirmed before the
// customer has given a name and a number to call.
type CallbackGate struct{}

// NewCallbackGate creates the gate.
func NewCallbackGate() *CallbackGate { return &CallbackGate{} }

func (g *CallbackGate) Name() string { return CallbackStageName }

func (g *CallbackGate) Check(_ string, gctx *guardrail.Context) guardrail.StageOutcome {
	if !gctx.CallbackPending {
		return guardrail.Pass()
	}

	var missing []string
	if gctx.Collected.Name == "" {
		missing = append(missing, clarify.FieldName)
	}
	if gctx.Collected.Phone == "" {
		missing = append(missing, clarify.FieldPhone)
	}
	if len(missing) == 0 {
		return guardrail.Pass()
	}
	return ask(guardrail.ReasonCallbackInfoRequired, missing, gctx)
}
