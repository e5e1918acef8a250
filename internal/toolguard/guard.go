// Package toolguard keeps tool-only data out of replies that no tool backed.
// Order status, customer records and payment details may only be stated
// after a successful call to a tool that returns them.
package toolguard

import (
	"github.com/gzhole/replyshield/internal/guardrail"
	"github.com/gzhole/replyshield/internal/messages"
	"github.com/gzhole/replyshield/internal/patterns"
)

// StageName is recorded in guardrailsApplied.
const StageName = "tool_only_data_guard"

// Result is the outcome of Validate.
type Result struct {
	Safe      bool
	Violation *guardrail.Violation
	// Category is the first unbacked category.
	Category string
	// Constraint is the correction constraint for Category in the reply
	// language.
	Constraint string
}

// Guard is the tool-only-data stage.
type Guard struct {
	lib *patterns.Library
}

// New creates the guard. A nil library uses the built-in one.
func New(lib *patterns.Library) *Guard {
	if lib == nil {
		lib = patterns.Default()
	}
	return &Guard{lib: lib}
}

func (g *Guard) Name() string { return StageName }

// Validate checks every semantic category the text touches against the
// tool calls of the turn. The first category without a successful required
// tool makes the reply unsafe.
func (g *Guard) Validate(text string, calls []guardrail.ToolCall, lang string) Result {
	view := &guardrail.Context{ToolsCalled: calls}
	for _, cat := range g.lib.Categories() {
		m, ok := g.lib.Set(patterns.CategoryKey(cat.Name)).Find(text)
		if !ok {
			continue
		}
		if view.SucceededAny(cat.RequiredTools...) {
			continue
		}
		typ := guardrail.SubReasonToolOnlyLeak
		if view.ToolCalled() {
			typ = guardrail.SubReasonToolMismatch
		}
		return Result{
			Category:   cat.Name,
			Constraint: Constraint(cat.Name, lang),
			Violation: &guardrail.Violation{
				Type:          typ,
				Category:      cat.Name,
				Evidence:      m.Evidence,
				Severity:      guardrail.SeverityHigh,
				RequiredTools: cat.RequiredTools,
			},
		}
	}
	return Result{Safe: true}
}

func (g *Guard) Check(text string, gctx *guardrail.Context) guardrail.StageOutcome {
	if gctx.Flags.ToolOnlyCallbackBypass && gctx.CallbackPending {
		return guardrail.Pass().WithTelemetry("bypass", "callback")
	}

	res := g.Validate(text, callsOf(gctx), gctx.Language)
	if res.Safe {
		return guardrail.Pass()
	}

	v := *res.Violation
	hardened := gctx.Flags.HardensToolOnly(gctx.TenantID)
	if gctx.Flags.ToolOnlyDataLogOnly || !hardened {
		v.LogOnly = true
		return guardrail.Pass().
			WithViolations(v).
			WithTelemetry("log_only", true).
			WithTelemetry("hardened_tenant", hardened)
	}

	return guardrail.Block(guardrail.ReasonToolOnlyDataLeak, messages.KeyCorrectionBarrier).
		WithSubReason(v.Type).
		WithViolations(v).
		WithCorrection(res.Constraint).
		WithTelemetry("category", res.Category)
}

// callsOf merges the turn's calls and outputs; either list may carry the
// success of a tool.
func callsOf(gctx *guardrail.Context) []guardrail.ToolCall {
	calls := append([]guardrail.ToolCall(nil), gctx.ToolsCalled...)
	for _, o := range gctx.ToolOutputs {
		calls = append(calls, guardrail.ToolCall{Name: o.Name, Success: o.Success})
	}
	return calls
}

var constraints = map[string]map[patterns.Language]string{
	patterns.CategoryOrderStatus: {
		patterns.Turkish: "Sipariş veya kargo durumunu yalnızca bu turda sipariş sorgulama aracından gelen veriye dayanarak söyle. Veri yoksa durum bildirme, sipariş numarasını iste.",
		patterns.English: "Only state order or shipment status taken from an order lookup made in this turn. Without that data, do not state a status; ask for the order number.",
	},
	patterns.CategoryCustomerPII: {
		patterns.Turkish: "Müşterinin kayıtlı adres, telefon veya e-posta bilgilerini müşteri verisi sorgulanmadan paylaşma.",
		patterns.English: "Do not share the customer's stored address, phone or email unless a customer data lookup returned it in this turn.",
	},
	patterns.CategoryPaymentInfo: {
		patterns.Turkish: "Ödeme, iade veya bakiye bilgisini yalnızca ödeme sorgulama sonucuna dayanarak ver; aksi halde bilgi verme.",
		patterns.English: "Only state payment, refund or balance details returned by a payment lookup in this turn; otherwise give none.",
	},
}

// Constraint returns the correction constraint for category in lang. Unknown
// categories get the order-status text.
func Constraint(category, lang string) string {
	byLang, ok := constraints[category]
	if !ok {
		byLang = constraints[patterns.CategoryOrderStatus]
	}
	return byLang[patterns.ParseLanguage(lang)]
}
