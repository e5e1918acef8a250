package guardrail

import (
	"testing"
)

func TestContext_LastToolOutcome(t *testing.T) {
	g := &Context{ToolOutputs: []ToolOutput{
		{Name: "order_lookup", Outcome: OutcomeOK, Success: true},
		{Name: "legacy", Success: true},
		{Name: "order_lookup", Outcome: OutcomeNotFound},
		{Name: "legacy2", Success: true},
	}}
	got, ok := g.LastToolOutcome()
	if !ok || got != OutcomeNotFound {
		t.Errorf("expected NOT_FOUND, got %q (ok=%v)", got, ok)
	}

	if _, ok := (&Context{}).LastToolOutcome(); ok {
		t.Error("expected no outcome for an empty context")
	}
}

func TestContext_SucceededAny(t *testing.T) {
	g := &Context{ToolsCalled: []ToolCall{
		{Name: "order_lookup", Success: false},
		{Name: "customer_data_lookup", Success: true},
	}}
	if g.SucceededAny("order_lookup") {
		t.Error("failed call must not count as success")
	}
	if !g.SucceededAny("customer_data_lookup") {
		t.Error("expected customer_data_lookup success")
	}
	if !g.SucceededAny() {
		t.Error("expected any-success with no names")
	}
	if !g.CalledAny("order_lookup") {
		t.Error("expected order_lookup to count as called")
	}
}

func TestContext_CustomerSupplied(t *testing.T) {
	g := &Context{Collected: CollectedData{OrderNumber: "1234567890", Phone: "0555 123 45 67"}}

	tests := []struct {
		value string
		want  bool
	}{
		{"1234567890", true},
		{"+90 555 123 45 67", true},
		{"05551234567", true},
		{"05559999999", false},
		{"12", false},
	}
	for _, tt := range tests {
		if got := g.CustomerSupplied(tt.value); got != tt.want {
			t.Errorf("CustomerSupplied(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestContext_GroundedInTools(t *testing.T) {
	g := &Context{ToolOutputs: []ToolOutput{
		{Name: "order_lookup", Outcome: OutcomeOK, Success: true, Data: map[string]any{
			"order": map[string]any{"trackingNumber": "ABC123", "phone": "5551234567"},
		}},
		{Name: "legacy", Success: true, Data: map[string]any{"address": "Atatürk Mah. No: 5"}},
	}}

	if !g.GroundedInTools("abc123", true) {
		t.Error("expected tracking number grounded case-insensitively")
	}
	if !g.GroundedInTools("0555 123 45 67", true) {
		t.Error("expected phone grounded by digits")
	}
	if g.GroundedInTools("Atatürk Mah.", true) {
		t.Error("legacy output is not anchor-verified")
	}
	if !g.GroundedInTools("Atatürk Mah.", false) {
		t.Error("expected address grounded in any successful output")
	}
	if g.GroundedInTools("XYZ999", false) {
		t.Error("unexpected grounding for unknown value")
	}
}
