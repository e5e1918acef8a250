package guardrail

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/gzhole/replyshield/internal/flags"
	"github.com/gzhole/replyshield/internal/messages"
)

func stageOf(name string, fn func(text string, gctx *Context) StageOutcome) Stage {
	return StageFunc{StageName: name, Fn: fn}
}

func newTestPipeline(stages ...Stage) *Pipeline {
	return NewPipeline(flags.Default(), stages, WithTracer(noop.NewTracerProvider().Tracer("test")))
}

func TestPipeline_PassThrough(t *testing.T) {
	p := newTestPipeline(
		stageOf("a", func(string, *Context) StageOutcome { return Pass() }),
		stageOf("b", func(string, *Context) StageOutcome { return Pass() }),
	)

	res := p.Run(context.Background(), Context{ResponseText: "Merhaba"})

	assert.Equal(t, ActionPass, res.Action)
	assert.Equal(t, "Merhaba", res.FinalResponse)
	assert.Equal(t, []string{"a", "b"}, res.GuardrailsApplied)
	assert.False(t, res.Blocked)
	assert.NotEmpty(t, res.TurnID)
}

func TestPipeline_SanitizeThreadsText(t *testing.T) {
	var seen string
	p := newTestPipeline(
		stageOf("mask", func(text string, _ *Context) StageOutcome {
			return Sanitize(strings.ReplaceAll(text, "secret", "***"))
		}),
		stageOf("observe", func(text string, _ *Context) StageOutcome {
			seen = text
			return Pass()
		}),
	)

	res := p.Run(context.Background(), Context{ResponseText: "a secret here"})

	assert.Equal(t, "a *** here", seen)
	assert.Equal(t, ActionSanitize, res.Action)
	assert.Equal(t, "a *** here", res.FinalResponse)
}

func TestPipeline_SanitizeWithoutChangeIsPass(t *testing.T) {
	p := newTestPipeline(stageOf("noop", func(text string, _ *Context) StageOutcome {
		return Sanitize(text)
	}))
	res := p.Run(context.Background(), Context{ResponseText: "same"})
	assert.Equal(t, ActionPass, res.Action)
}

func TestPipeline_FirstTerminalWins(t *testing.T) {
	ranLast := false
	p := newTestPipeline(
		stageOf("first", func(string, *Context) StageOutcome { return Pass() }),
		stageOf("blocker", func(string, *Context) StageOutcome {
			return Block(ReasonFirewallBlock, messages.KeyFirewallFallback).
				WithViolations(Violation{Type: "JSON_DUMP", Evidence: `{"a":1}`})
		}),
		stageOf("never", func(string, *Context) StageOutcome {
			ranLast = true
			return Block(ReasonPIIRisk, messages.KeySecurityBarrier)
		}),
	)

	res := p.Run(context.Background(), Context{ResponseText: `{"a":1,"b":2,"c":3}`, Language: "en"})

	assert.False(t, ranLast, "no stage may run after a terminal outcome")
	assert.Equal(t, ActionBlock, res.Action)
	assert.True(t, res.Blocked)
	assert.Equal(t, ReasonFirewallBlock, res.BlockReason)
	assert.Equal(t, []string{"first", "blocker"}, res.GuardrailsApplied)
	assert.Equal(t, messages.Default().Render(messages.KeyFirewallFallback, "en", 0), res.FinalResponse)
	assert.NotContains(t, res.FinalResponse, `"a"`)
	require.Len(t, res.Violations, 1)
}

func TestPipeline_NeedInfoIsNotBlocked(t *testing.T) {
	p := newTestPipeline(stageOf("gate", func(string, *Context) StageOutcome {
		return NeedInfo(ReasonToolRequired, messages.KeyAskOrderNumber, []string{"order_number"}, "order_number")
	}))

	res := p.Run(context.Background(), Context{ResponseText: "Kargonuz yolda", Language: "tr", TurnIndex: 1})

	assert.Equal(t, ActionNeedMinInfoForTool, res.Action)
	assert.False(t, res.Blocked)
	assert.Equal(t, []string{"order_number"}, res.MissingFields)
	assert.Equal(t, messages.Default().Render(messages.KeyAskOrderNumber, "tr", 1), res.FinalResponse)
}

func TestPipeline_EvidenceIsRedacted(t *testing.T) {
	p := newTestPipeline(stageOf("leaky", func(string, *Context) StageOutcome {
		return Pass().WithViolations(Violation{Type: "X", Evidence: "call 05551234567 or mail ali@example.com"})
	}))

	res := p.Run(context.Background(), Context{ResponseText: "x"})

	require.Len(t, res.Violations, 1)
	assert.NotContains(t, res.Violations[0].Evidence, "05551234567")
	assert.NotContains(t, res.Violations[0].Evidence, "ali@")
}

func TestPipeline_FlagsResolvedPerRun(t *testing.T) {
	var got flags.Flags
	p := newTestPipeline(stageOf("read", func(_ string, gctx *Context) StageOutcome {
		got = gctx.Flags
		return Pass()
	}))

	p.Run(context.Background(), Context{FeatureFlags: map[string]bool{"confabulation_log_only": true}})
	assert.True(t, got.ConfabulationLogOnly)

	p.Run(context.Background(), Context{})
	assert.False(t, got.ConfabulationLogOnly, "overrides must not persist across runs")
}

func TestPipeline_TelemetryAndNotFound(t *testing.T) {
	p := newTestPipeline(stageOf("nf", func(string, *Context) StageOutcome {
		o := Pass().WithTelemetry("bypass", "tool_outcome_not_found")
		o.NotFoundHandled = true
		return o
	}))

	res := p.Run(context.Background(), Context{ResponseText: "x"})

	assert.True(t, res.NotFoundHandled)
	assert.Equal(t, "tool_outcome_not_found", res.Telemetry["nf"]["bypass"])
}

func TestPipeline_ClockDefaults(t *testing.T) {
	var now time.Time
	p := newTestPipeline(stageOf("clock", func(_ string, gctx *Context) StageOutcome {
		now = gctx.Now
		return Pass()
	}))
	p.Run(context.Background(), Context{})
	assert.False(t, now.IsZero())
}

func TestVerificationState_JSON(t *testing.T) {
	var gctx Context
	require.NoError(t, json.Unmarshal([]byte(`{"verificationState":"verified"}`), &gctx))
	assert.Equal(t, VerificationVerified, gctx.Verification)

	err := json.Unmarshal([]byte(`{"verificationState":"half"}`), &gctx)
	assert.Error(t, err, "unknown verification states must be rejected")

	out, err := json.Marshal(Context{Verification: VerificationPending})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"verificationState":"pending"`)
}

func TestClassOf(t *testing.T) {
	assert.Equal(t, ClassIdentityCritical, ClassOf(ReasonIdentityMismatch))
	assert.Equal(t, ClassIdentityCritical, ClassOf(ReasonPIIRisk))
	assert.Equal(t, ClassCorrectable, ClassOf(ReasonConfabulation))
	assert.Equal(t, ClassInformational, ClassOf(ReasonCallbackInfoRequired))
	assert.Equal(t, ClassPolicy, ClassOf(ReasonFirewallBlock))
}
