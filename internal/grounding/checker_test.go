package grounding

import (
	"strings"
	"testing"

	"github.com/gzhole/replyshield/internal/guardrail"
	"github.com/gzhole/replyshield/internal/patterns"
)

func orderOutput(data map[string]any) []guardrail.ToolOutput {
	return []guardrail.ToolOutput{{Name: "order_lookup", Outcome: guardrail.OutcomeOK, Success: true, Data: data}}
}

func TestCheck_StatusRoundTrip(t *testing.T) {
	outputs := orderOutput(map[string]any{"order": map[string]any{"status": "shipped"}})

	tests := []struct {
		name      string
		text      string
		wantBlock bool
	}{
		{"tr contradiction", "Siparişiniz teslim edildi.", true},
		{"en contradiction", "Your order has been delivered.", true},
		{"tr repeat", "Siparişiniz kargoya verildi.", false},
		{"en repeat", "Your order has been shipped.", false},
		{"nested shipped phrase", "Siparişiniz kargoya teslim edildi.", false},
		{"cancelled contradiction", "Siparişiniz iptal edildi.", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gctx := &guardrail.Context{ToolOutputs: outputs}
			out := New(nil).Check(tt.text, gctx)
			if got := out.Decision == guardrail.Terminate; got != tt.wantBlock {
				t.Fatalf("blocked = %v, want %v (%+v)", got, tt.wantBlock, out)
			}
			if tt.wantBlock {
				v := out.Violations[0]
				if v.Field != FieldStatus || v.Expected != patterns.StatusShipped {
					t.Errorf("unexpected violation %+v", v)
				}
			}
		})
	}
}

func TestCheck_StatusAliases(t *testing.T) {
	gctx := &guardrail.Context{ToolOutputs: orderOutput(map[string]any{"order_status": "DELIVERED"})}
	out := New(nil).Check("Siparişiniz hazırlanıyor.", gctx)
	if out.Decision != guardrail.Terminate || out.Violations[0].Claimed != patterns.StatusProcessing {
		t.Errorf("expected processing to contradict DELIVERED, got %+v", out)
	}
}

func TestCheck_TrackingFabrication(t *testing.T) {
	gctx := &guardrail.Context{
		Language:    "tr",
		ToolOutputs: orderOutput(map[string]any{"order": map[string]any{"trackingNumber": "ABC123"}}),
	}
	out := New(nil).Check("Takip no: XYZ999", gctx)

	if out.Decision != guardrail.Terminate || out.Reason != guardrail.ReasonFieldGrounding {
		t.Fatalf("expected field grounding block, got %+v", out)
	}
	v := out.Violations[0]
	if v.Field != FieldTracking || v.Expected != "ABC123" || v.Claimed != "XYZ999" {
		t.Errorf("unexpected violation %+v", v)
	}
	if !out.Correctable || !strings.Contains(out.Correction, "XYZ999") || !strings.Contains(out.Correction, "ABC123") {
		t.Errorf("expected constraint naming both values, got %q", out.Correction)
	}
}

func TestCheck_Tracking(t *testing.T) {
	tests := []struct {
		name      string
		data      map[string]any
		text      string
		wantBlock bool
	}{
		{"matching number", map[string]any{"tracking_number": "abc-123"}, "Tracking number: ABC123", false},
		{"no number in output", map[string]any{"status": "shipped"}, "Takip numaranız: TR55512", true},
		{"no digits is no claim", map[string]any{"status": "shipped"}, "Your tracking code is available online.", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := New(nil).Check(tt.text, &guardrail.Context{ToolOutputs: orderOutput(tt.data)})
			if got := out.Decision == guardrail.Terminate; got != tt.wantBlock {
				t.Errorf("blocked = %v, want %v (%+v)", got, tt.wantBlock, out)
			}
		})
	}
}

func TestCheck_Address(t *testing.T) {
	text := "Teslimat adresiniz: Moda Cad. No 5, Kadıköy"

	out := New(nil).Check(text, &guardrail.Context{ToolOutputs: orderOutput(map[string]any{"status": "shipped"})})
	if out.Decision != guardrail.Terminate || out.Violations[0].Field != FieldAddress {
		t.Errorf("expected address fabrication, got %+v", out)
	}

	withAddress := orderOutput(map[string]any{"status": "shipped", "shipping_address": "***"})
	if out := New(nil).Check(text, &guardrail.Context{ToolOutputs: withAddress}); out.Decision != guardrail.Continue {
		t.Errorf("address field present, expected pass, got %+v", out)
	}
}

func TestCheck_Amount(t *testing.T) {
	outputs := orderOutput(map[string]any{
		"order": map[string]any{
			"total":  1299.9,
			"items":  []any{map[string]any{"price": "149,90 TL"}},
			"status": "processing",
		},
	})

	tests := []struct {
		name      string
		text      string
		wantBlock bool
	}{
		{"total tr format", "Toplam tutar 1.299,90 TL.", false},
		{"item price", "Ürün fiyatı ₺149,90.", false},
		{"en format", "Your total is $1,299.90.", false},
		{"fabricated", "İade tutarınız 250 TL.", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := New(nil).Check(tt.text, &guardrail.Context{ToolOutputs: outputs})
			if got := out.Decision == guardrail.Terminate; got != tt.wantBlock {
				t.Errorf("blocked = %v, want %v (%+v)", got, tt.wantBlock, out)
			}
		})
	}
}

func TestCheck_AmountSkippedWithoutAmounts(t *testing.T) {
	gctx := &guardrail.Context{ToolOutputs: orderOutput(map[string]any{"status": "processing"})}
	if out := New(nil).Check("Kargo ücreti 30 TL.", gctx); out.Decision != guardrail.Continue {
		t.Errorf("expected pass, got %+v", out)
	}
}

func TestCheck_RunsOnlyWithData(t *testing.T) {
	tests := []struct {
		name string
		gctx *guardrail.Context
	}{
		{"no outputs", &guardrail.Context{}},
		{"failed output", &guardrail.Context{ToolOutputs: []guardrail.ToolOutput{{Name: "order_lookup", Data: map[string]any{"status": "shipped"}}}}},
		{"empty data", &guardrail.Context{ToolOutputs: []guardrail.ToolOutput{{Name: "order_lookup", Success: true}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := New(nil).Check("Siparişiniz teslim edildi. Takip no: XYZ999", tt.gctx)
			if out.Decision != guardrail.Continue || len(out.Violations) != 0 {
				t.Errorf("expected skip, got %+v", out)
			}
		})
	}
}

func TestCheck_MonitorOnly(t *testing.T) {
	gctx := &guardrail.Context{ToolOutputs: orderOutput(map[string]any{"status": "shipped"})}
	gctx.Flags.FieldGroundingMonitorOnly = true
	out := New(nil).Check("Siparişiniz teslim edildi.", gctx)
	if out.Decision != guardrail.Continue || len(out.Violations) != 1 || !out.Violations[0].LogOnly {
		t.Errorf("expected monitor-only violation, got %+v", out)
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"1.299,90", 129990},
		{"1,299.90", 129990},
		{"149.9", 14990},
		{"1.299", 129900},
		{"250", 25000},
		{"₺ 49,5", 4950},
	}
	for _, tt := range tests {
		got, ok := ParseAmount(tt.in)
		if !ok || got != tt.want {
			t.Errorf("ParseAmount(%q) = %d, %v; want %d", tt.in, got, ok, tt.want)
		}
	}
	if _, ok := ParseAmount("TL"); ok {
		t.Error("expected no amount")
	}
}

func TestParseAmount_RejectsOverlongDigits(t *testing.T) {
	if got, ok := ParseAmount("999.999.999.999.999"); !ok || got != 99999999999999900 {
		t.Errorf("15 digits: got %d, %v", got, ok)
	}
	for _, in := range []string{
		"1234567890123456",
		"92233720368547758,07",
		"99999999999999999999999",
	} {
		if got, ok := ParseAmount(in); ok {
			t.Errorf("ParseAmount(%q) = %d; want rejected", in, got)
		}
	}
}
