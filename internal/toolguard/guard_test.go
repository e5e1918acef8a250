package toolguard

import (
	"strings"
	"testing"

	"github.com/gzhole/replyshield/internal/guardrail"
	"github.com/gzhole/replyshield/internal/patterns"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		calls    []guardrail.ToolCall
		wantSafe bool
		wantType string
		wantCat  string
	}{
		{
			name:     "no category",
			text:     "Size nasıl yardımcı olabilirim?",
			wantSafe: true,
		},
		{
			name:     "order status without any tool",
			text:     "Siparişiniz kargoya verildi.",
			wantType: guardrail.SubReasonToolOnlyLeak,
			wantCat:  patterns.CategoryOrderStatus,
		},
		{
			name:     "order status with the wrong tool",
			text:     "Your order has been shipped and is on its way.",
			calls:    []guardrail.ToolCall{{Name: "kb_search", Success: true}},
			wantType: guardrail.SubReasonToolMismatch,
			wantCat:  patterns.CategoryOrderStatus,
		},
		{
			name:     "order status with a failed required tool",
			text:     "Siparişiniz kargoya verildi.",
			calls:    []guardrail.ToolCall{{Name: "order_lookup", Success: false}},
			wantType: guardrail.SubReasonToolMismatch,
			wantCat:  patterns.CategoryOrderStatus,
		},
		{
			name:     "order status backed",
			text:     "Siparişiniz kargoya verildi.",
			calls:    []guardrail.ToolCall{{Name: "shipment_tracking", Success: true}},
			wantSafe: true,
		},
		{
			name:     "customer data needs customer lookup",
			text:     "Kayıtlı adresiniz Kadıköy şubesine yakın görünüyor.",
			calls:    []guardrail.ToolCall{{Name: "order_lookup", Success: true}},
			wantType: guardrail.SubReasonToolMismatch,
			wantCat:  patterns.CategoryCustomerPII,
		},
		{
			name:     "payment info",
			text:     "Your refund has been processed.",
			wantType: guardrail.SubReasonToolOnlyLeak,
			wantCat:  patterns.CategoryPaymentInfo,
		},
		{
			name:     "payment info backed by order lookup",
			text:     "Ödemeniz onaylandı.",
			calls:    []guardrail.ToolCall{{Name: "order_lookup", Success: true}},
			wantSafe: true,
		},
	}

	g := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := g.Validate(tt.text, tt.calls, "tr")
			if res.Safe != tt.wantSafe {
				t.Fatalf("Safe = %v, want %v (%+v)", res.Safe, tt.wantSafe, res.Violation)
			}
			if tt.wantSafe {
				return
			}
			if res.Violation.Type != tt.wantType || res.Category != tt.wantCat {
				t.Errorf("got %s/%s, want %s/%s", res.Violation.Type, res.Category, tt.wantType, tt.wantCat)
			}
			if len(res.Violation.RequiredTools) == 0 || res.Constraint == "" {
				t.Errorf("expected required tools and a constraint, got %+v", res)
			}
		})
	}
}

func TestCheck_CorrectableBlock(t *testing.T) {
	gctx := &guardrail.Context{Language: "en"}
	out := New(nil).Check("Your order status: shipped", gctx)

	if out.Decision != guardrail.Terminate || out.Action != guardrail.ActionBlock {
		t.Fatalf("expected BLOCK, got %+v", out)
	}
	if out.Reason != guardrail.ReasonToolOnlyDataLeak || out.SubReason != guardrail.SubReasonToolOnlyLeak {
		t.Errorf("unexpected reason %s/%s", out.Reason, out.SubReason)
	}
	if !out.Correctable || !strings.Contains(out.Correction, "order lookup") {
		t.Errorf("expected English correction constraint, got %q", out.Correction)
	}
}

func TestCheck_ToolOutputsCount(t *testing.T) {
	gctx := &guardrail.Context{
		ToolOutputs: []guardrail.ToolOutput{{Name: "order_lookup", Outcome: guardrail.OutcomeOK, Success: true}},
	}
	if out := New(nil).Check("Siparişiniz yolda.", gctx); out.Decision != guardrail.Continue {
		t.Errorf("expected tool output to back the claim, got %+v", out)
	}
}

func TestCheck_KillSwitches(t *testing.T) {
	text := "Siparişiniz kargoya verildi."

	t.Run("log only", func(t *testing.T) {
		gctx := &guardrail.Context{}
		gctx.Flags.ToolOnlyDataLogOnly = true
		out := New(nil).Check(text, gctx)
		if out.Decision != guardrail.Continue || len(out.Violations) != 1 || !out.Violations[0].LogOnly {
			t.Errorf("expected log-only pass, got %+v", out)
		}
	})

	t.Run("tenant outside the canary set", func(t *testing.T) {
		gctx := &guardrail.Context{TenantID: "tenant-b"}
		gctx.Flags.ToolOnlyHardeningTenants = []string{"tenant-a"}
		out := New(nil).Check(text, gctx)
		if out.Decision != guardrail.Continue || out.Telemetry["hardened_tenant"] != false {
			t.Errorf("expected log-only pass for non-canary tenant, got %+v", out)
		}
	})

	t.Run("tenant inside the canary set", func(t *testing.T) {
		gctx := &guardrail.Context{TenantID: "tenant-a"}
		gctx.Flags.ToolOnlyHardeningTenants = []string{"tenant-a"}
		if out := New(nil).Check(text, gctx); out.Decision != guardrail.Terminate {
			t.Errorf("expected enforcement for canary tenant, got %+v", out)
		}
	})

	t.Run("callback bypass", func(t *testing.T) {
		gctx := &guardrail.Context{CallbackPending: true}
		gctx.Flags.ToolOnlyCallbackBypass = true
		out := New(nil).Check(text, gctx)
		if out.Decision != guardrail.Continue || out.Telemetry["bypass"] != "callback" {
			t.Errorf("expected callback bypass, got %+v", out)
		}
	})

	t.Run("callback bypass off by default", func(t *testing.T) {
		gctx := &guardrail.Context{CallbackPending: true}
		if out := New(nil).Check(text, gctx); out.Decision != guardrail.Terminate {
			t.Errorf("expected enforcement, got %+v", out)
		}
	})
}

func TestConstraint_Languages(t *testing.T) {
	tr := Constraint(patterns.CategoryPaymentInfo, "tr-TR")
	en := Constraint(patterns.CategoryPaymentInfo, "en")
	if tr == en || tr == "" || en == "" {
		t.Errorf("expected distinct TR/EN constraints, got %q / %q", tr, en)
	}
	if Constraint("unknown", "en") != Constraint(patterns.CategoryOrderStatus, "en") {
		t.Error("unknown categories should fall back to the order status constraint")
	}
}
