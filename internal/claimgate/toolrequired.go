package claimgate

import (
	"slices"
	"sort"

	"github.com/gzhole/replyshield/internal/clarify"
	"github.com/gzhole/replyshield/internal/guardrail"
	"github.com/gzhole/replyshield/internal/messages"
)

// ToolRequiredStageName is recorded in guardrailsApplied.
const ToolRequiredStageName = "tool_required_gate"

// Requirement is what answering an intent needs: one of Tools must have run,
// and Fields are the customer inputs those tools take.
type Requirement struct {
	Tools  []string `yaml:"tools" json:"tools"`
	Fields []string `yaml:"fields" json:"fields"`
	// KBSatisfies lets a knowledge-base match stand in for the tool.
	KBSatisfies bool `yaml:"kb_satisfies" json:"kbSatisfies,omitempty"`
}

// DefaultRequirements is the built-in intent table.
func DefaultRequirements() map[string]Requirement {
	return map[string]Requirement{
		"order_status": {
			Tools:  []string{"order_lookup", "order_status_lookup", "shipment_tracking"},
			Fields: []string{clarify.FieldOrderNumber, clarify.FieldPhoneLast4},
		},
		"shipment_tracking": {
			Tools:  []string{"shipment_tracking", "order_lookup"},
			Fields: []string{clarify.FieldOrderNumber},
		},
		"payment_status": {
			Tools:  []string{"payment_lookup", "order_lookup"},
			Fields: []string{clarify.FieldOrderNumber, clarify.FieldPhoneLast4},
		},
		"complaint_status": {
			Tools:  []string{"ticket_lookup"},
			Fields: []string{clarify.FieldTicketNumber},
		},
		"product_info": {
			Tools:       []string{"product_lookup", "kb_search"},
			Fields:      []string{clarify.FieldProductName},
			KBSatisfies: true,
		},
		"callback_request": {
			Tools:  []string{"callback_request"},
			Fields: []string{clarify.FieldName, clarify.FieldPhone},
		},
	}
}

// ToolRequiredGate asks for the input a required lookup needs when the model
// answered an intent without running any of its tools.
type ToolRequiredGate struct {
	requirements map[string]Requirement
}

// NewToolRequiredGate creates the gate. A nil table uses
// DefaultRequirements.
func NewToolRequiredGate(requirements map[string]Requirement) *ToolRequiredGate {
	if requirements == nil {
		requirements = DefaultRequirements()
	}
	return &ToolRequiredGate{requirements: requirements}
}

func (g *ToolRequiredGate) Name() string { return ToolRequiredStageName }

// Intents returns the intents the gate knows, sorted.
func (g *ToolRequiredGate) Intents() []string {
	out := make([]string, 0, len(g.requirements))
	for intent := range g.requirements {
		out = append(out, intent)
	}
	sort.Strings(out)
	return out
}

func (g *ToolRequiredGate) Check(_ string, gctx *guardrail.Context) guardrail.StageOutcome {
	req, ok := g.requirements[gctx.Intent]
	if !ok || len(req.Tools) == 0 {
		return guardrail.Pass()
	}
	// A running flow owns its own questions.
	if gctx.ActiveFlow != "" {
		return guardrail.Pass().WithTelemetry("skipped", "active_flow")
	}
	if gctx.CalledAny(req.Tools...) {
		return guardrail.Pass()
	}
	if req.KBSatisfies && gctx.HasKBMatch {
		return guardrail.Pass().WithTelemetry("satisfied_by", "kb")
	}

	violation := guardrail.Violation{
		Type:          string(guardrail.ReasonToolRequired),
		Category:      gctx.Intent,
		RequiredTools: req.Tools,
		Severity:      guardrail.SeverityLow,
	}

	missing := missingInputs(req.Fields, gctx.Collected)
	if len(missing) == 0 {
		// Nothing left to ask: hold the reply until the lookup runs.
		return guardrail.NeedInfo(guardrail.ReasonToolRequired, messages.KeyLookupPending, nil, "").
			WithSubReason(guardrail.SubReasonToolNotCalled).
			WithViolations(violation).
			WithTelemetry("tool_skipped_with_inputs", true)
	}

	return ask(guardrail.ReasonToolRequired, missing, gctx).WithViolations(violation)
}

func missingInputs(fields []string, c guardrail.CollectedData) []string {
	var missing []string
	if c.AmbiguousIdentifier != "" &&
		(slices.Contains(fields, clarify.FieldOrderNumber) || slices.Contains(fields, clarify.FieldPhone)) {
		missing = append(missing, clarify.FieldIdentifierType)
	}
	for _, f := range fields {
		if !collected(f, c) {
			missing = append(missing, f)
		}
	}
	return missing
}

func collected(field string, c guardrail.CollectedData) bool {
	switch field {
	case clarify.FieldOrderNumber:
		return c.OrderNumber != ""
	case clarify.FieldPhoneLast4:
		return c.PhoneLast4 != ""
	case clarify.FieldName:
		return c.Name != ""
	case clarify.FieldPhone:
		return c.Phone != ""
	}
	return false
}
