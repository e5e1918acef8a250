package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/gzhole/replyshield/internal/claimgate"
	"github.com/gzhole/replyshield/internal/confab"
	"github.com/gzhole/replyshield/internal/firewall"
	"github.com/gzhole/replyshield/internal/grounding"
	"github.com/gzhole/replyshield/internal/guardrail"
	"github.com/gzhole/replyshield/internal/identity"
	"github.com/gzhole/replyshield/internal/leakfilter"
	"github.com/gzhole/replyshield/internal/logger"
	"github.com/gzhole/replyshield/internal/messages"
	"github.com/gzhole/replyshield/internal/patterns"
	"github.com/gzhole/replyshield/internal/pii"
	"github.com/gzhole/replyshield/internal/protocol"
	"github.com/gzhole/replyshield/internal/session"
	"github.com/gzhole/replyshield/internal/toolguard"
	"github.com/gzhole/replyshield/internal/urlallow"
)

const jsonDump = `{"order_id": "A1", "status": "ok", "x":1} {"order_id": "A1", "status": "ok", "x":1} {"order_id": "A1", "status": "ok", "x":1}`

type recordingSink struct {
	events []logger.SecurityEvent
}

func (s *recordingSink) Write(_ context.Context, e logger.SecurityEvent) error {
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) Close() error { return nil }

var errStoreDown = errors.New("store down")

// failingStore fails every call.
type failingStore struct{}

func (failingStore) LockSession(context.Context, string, string, time.Duration) error {
	return errStoreDown
}
func (failingStore) IsSessionLocked(context.Context, string) (bool, error) {
	return false, errStoreDown
}
func (failingStore) CheckEnumerationAttempt(context.Context, string, session.Attempt) (session.EnumerationResult, error) {
	return session.EnumerationResult{}, errStoreDown
}
func (failingStore) Recall(context.Context, string) (session.Memory, error) {
	return session.Memory{}, errStoreDown
}
func (failingStore) MarkAsked(context.Context, string, string) error         { return errStoreDown }
func (failingStore) MarkNotFound(context.Context, string, time.Time) error { return errStoreDown }
func (failingStore) Close() error                                          { return nil }

type fixture struct {
	gw    *Gateway
	store *session.MemoryStore
	sink  *recordingSink
}

func newFixture(t *testing.T, c Components, opts ...Option) fixture {
	t.Helper()
	store, err := session.NewMemoryStore(100, session.DefaultOptions())
	require.NoError(t, err)
	sink := &recordingSink{}

	tracer := noop.NewTracerProvider().Tracer("test")
	c.Tracer = tracer
	opts = append([]Option{WithStore(store), WithSink(sink), WithTracer(tracer)}, opts...)
	return fixture{gw: New(BuildPipeline(c), opts...), store: store, sink: sink}
}

func turn(text string) guardrail.Context {
	return guardrail.Context{SessionID: "s-1", TenantID: "t-1", Language: "tr", Channel: "chat", ResponseText: text}
}

func orderLookup(data map[string]any) []guardrail.ToolOutput {
	return []guardrail.ToolOutput{{Name: "order_lookup", Outcome: guardrail.OutcomeOK, Success: true, Data: data}}
}

func TestStages_FixedOrder(t *testing.T) {
	var names []string
	for _, st := range Stages(Components{}) {
		names = append(names, st.Name())
	}
	assert.Equal(t, []string{
		firewall.StageName,
		pii.StageName,
		urlallow.StageName,
		claimgate.NotFoundStageName,
		leakfilter.StageName,
		claimgate.ToolRequiredStageName,
		claimgate.CallbackStageName,
		identity.StageName,
		toolguard.StageName,
		protocol.StageName,
		confab.StageName,
		grounding.StageName,
		ActionClaimStageName,
		PolicyGuidanceStageName,
	}, names)
}

func TestCheck_CleanReplyPasses(t *testing.T) {
	f := newFixture(t, Components{})
	res := f.gw.Check(context.Background(), turn("Başka bir konuda yardımcı olabilir miyim?"))

	assert.Equal(t, guardrail.ActionPass, res.Action)
	assert.Equal(t, "Başka bir konuda yardımcı olabilir miyim?", res.FinalResponse)
	assert.Len(t, res.GuardrailsApplied, len(Stages(Components{})))
	assert.Empty(t, f.sink.events, "passes are not security events")
}

func TestCheck_ConfabulatedDelivery(t *testing.T) {
	f := newFixture(t, Components{})
	res := f.gw.Check(context.Background(), turn("Paketiniz teslim edildi, komşunuza bırakıldı."))

	require.Equal(t, guardrail.ActionBlock, res.Action)
	assert.Equal(t, guardrail.ReasonConfabulation, res.BlockReason)
	require.NotEmpty(t, res.Violations)
	assert.Equal(t, patterns.EventDelivery, res.Violations[0].Category)
	assert.True(t, res.Correctable)
	assert.NotEmpty(t, res.CorrectionConstraint)
	assert.NotContains(t, res.FinalResponse, "teslim edildi")
}

func TestCheck_HedgedClaimsNeverConfabulate(t *testing.T) {
	f := newFixture(t, Components{})
	for _, text := range []string{
		"Muhtemelen paketiniz teslim edildi.",
		"Sanırım siparişiniz yarın elinize ulaşacak.",
		"Galiba ürün stokta var.",
		"Belki yarın teslim edilecek.",
		"Büyük ihtimalle kargoya verildi.",
	} {
		res := f.gw.Check(context.Background(), turn(text))
		assert.NotEqual(t, guardrail.ReasonConfabulation, res.BlockReason, text)
	}
}

func TestCheck_KBMatchDoesNotBackDeliveryTime(t *testing.T) {
	f := newFixture(t, Components{})
	gctx := turn("Your package will arrive tomorrow.")
	gctx.Language = "en"
	gctx.HasKBMatch = true
	gctx.KBConfidence = guardrail.KBHigh

	res := f.gw.Check(context.Background(), gctx)

	require.Equal(t, guardrail.ReasonConfabulation, res.BlockReason)
	assert.Equal(t, patterns.EventTime, res.Violations[0].Category)
	assert.True(t, res.Correctable)
}

func TestCheck_JSONDumpLocksAfterRepeatedAttempts(t *testing.T) {
	f := newFixture(t, Components{})
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res := f.gw.Check(ctx, turn(jsonDump))
		require.Equal(t, guardrail.ReasonFirewallBlock, res.BlockReason, "attempt %d", i)
		assert.Equal(t, firewall.ViolationJSONDump, res.Violations[0].Type)
		assert.Equal(t, messages.Default().Render(messages.KeyFirewallFallback, "tr", 0), res.FinalResponse)
		assert.Equal(t, i == 3, res.SessionLocked, "attempt %d", i)
	}

	require.Len(t, f.sink.events, 3)
	last := f.sink.events[2]
	assert.Equal(t, 3, last.Enumeration)
	assert.Equal(t, "ENUMERATION:"+firewall.EnumerationMode, last.LockReason)
	assert.Equal(t, "ENUMERATION:"+firewall.EnumerationMode, f.store.LockReason("s-1"))

	res := f.gw.Check(ctx, turn("Başka bir konuda yardımcı olabilir miyim?"))
	assert.Equal(t, guardrail.ReasonSessionLocked, res.BlockReason)
	assert.True(t, res.Blocked)
	assert.True(t, res.SessionLocked)
	assert.Empty(t, res.GuardrailsApplied)
	assert.Equal(t, messages.Default().Render(messages.KeySecurityBarrier, "tr", 0), res.FinalResponse)
}

func TestCheck_UnverifiedPhoneAsksForAnchor(t *testing.T) {
	f := newFixture(t, Components{})
	ctx := context.Background()

	res := f.gw.Check(ctx, turn("Telefon numaranız: 05551234567"))
	require.Equal(t, guardrail.ActionNeedMinInfoForTool, res.Action)
	assert.False(t, res.Blocked)
	assert.Contains(t, res.MissingFields, "order_number")
	assert.Equal(t, "order_number", res.AskedField)
	assert.NotContains(t, res.FinalResponse, "05551234567")

	mem, err := f.store.Recall(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"order_number"}, mem.AskedFields)

	res = f.gw.Check(ctx, turn("Telefon numaranız: 05551234567"))
	assert.Equal(t, "phone_last4", res.AskedField, "an asked field is not asked again")

	res = f.gw.Check(ctx, turn("Telefon numaranız: 05551234567"))
	assert.Empty(t, res.AskedField)
	assert.Equal(t, messages.Default().Render(messages.KeyNotFoundHandoff, "tr", 0), res.FinalResponse)
}

func TestCheck_RegionTaggedLanguageGetsEnglishQuestion(t *testing.T) {
	f := newFixture(t, Components{})
	gctx := turn("Telefon numaranız: 05551234567")
	gctx.Language = "en-US"

	res := f.gw.Check(context.Background(), gctx)

	require.Equal(t, guardrail.ActionNeedMinInfoForTool, res.Action)
	assert.Equal(t, messages.Default().Render(messages.KeyAskOrderNumber, "en", 0), res.FinalResponse)
}

func TestCheck_VerifiedPhoneIsMasked(t *testing.T) {
	f := newFixture(t, Components{})
	gctx := turn("Telefon numaranız: 05551234567")
	gctx.Verification = guardrail.VerificationVerified

	res := f.gw.Check(context.Background(), gctx)

	assert.Equal(t, guardrail.ActionSanitize, res.Action)
	assert.Equal(t, "Telefon numaranız: +90******4567", res.FinalResponse)
}

func TestCheck_ToolOnlyDataNeedsTheTool(t *testing.T) {
	f := newFixture(t, Components{})
	ctx := context.Background()
	text := "Kayıtlı adresiniz güncel görünüyor."

	res := f.gw.Check(ctx, turn(text))
	require.Equal(t, guardrail.ActionBlock, res.Action)
	assert.Equal(t, guardrail.ReasonToolOnlyDataLeak, res.BlockReason)
	assert.True(t, res.Correctable)

	gctx := turn(text)
	gctx.ToolsCalled = []guardrail.ToolCall{{Name: "customer_data_lookup", Success: true}}
	res = f.gw.Check(ctx, gctx)
	assert.Equal(t, guardrail.ActionPass, res.Action)
	assert.Equal(t, text, res.FinalResponse)
}

func TestCheck_IdentityMismatchLocksSession(t *testing.T) {
	f := newFixture(t, Components{})
	ctx := context.Background()

	for _, lang := range []string{"tr", "en"} {
		gctx := turn("Bilgileriniz güncellendi.")
		gctx.SessionID = "s-" + lang
		gctx.Language = lang
		gctx.Verification = guardrail.VerificationVerified
		gctx.VerifiedIdentity = &guardrail.Identity{CustomerID: "C-100"}
		gctx.ToolOutputs = []guardrail.ToolOutput{{
			Name:    "customer_data_lookup",
			Success: true,
			Data:    map[string]any{"owner": map[string]any{"customerId": "C-200"}},
		}}

		res := f.gw.Check(ctx, gctx)
		require.Equal(t, guardrail.ReasonIdentityMismatch, res.BlockReason, lang)
		assert.True(t, res.Blocked)
		assert.True(t, res.SessionLocked)
		assert.False(t, res.Correctable)
		assert.Equal(t, messages.Default().Render(messages.KeyIdentityHardDeny, lang, 0), res.FinalResponse)

		locked, err := f.store.IsSessionLocked(ctx, gctx.SessionID)
		require.NoError(t, err)
		assert.True(t, locked)
	}

	require.Len(t, f.sink.events, 2)
	assert.Equal(t, string(guardrail.ReasonIdentityMismatch), f.sink.events[0].LockReason)
	assert.True(t, f.sink.events[0].SessionLocked)
}

func TestCheck_FieldGrounding(t *testing.T) {
	f := newFixture(t, Components{})
	ctx := context.Background()

	t.Run("status round trip", func(t *testing.T) {
		shipped := orderLookup(map[string]any{"order": map[string]any{"status": "shipped"}})

		gctx := turn("Siparişiniz teslim edildi.")
		gctx.ToolOutputs = shipped
		res := f.gw.Check(ctx, gctx)
		require.Equal(t, guardrail.ReasonFieldGrounding, res.BlockReason)
		assert.Equal(t, grounding.FieldStatus, res.Violations[0].Field)

		gctx = turn("Siparişiniz kargoya verildi.")
		gctx.ToolOutputs = shipped
		res = f.gw.Check(ctx, gctx)
		assert.Equal(t, guardrail.ActionPass, res.Action)
	})

	t.Run("fabricated tracking number", func(t *testing.T) {
		gctx := turn("Takip no: XYZ999")
		gctx.ToolOutputs = orderLookup(map[string]any{"order": map[string]any{"trackingNumber": "ABC123"}})

		res := f.gw.Check(ctx, gctx)
		require.Equal(t, guardrail.ReasonFieldGrounding, res.BlockReason)
		v := res.Violations[0]
		assert.Equal(t, grounding.FieldTracking, v.Field)
		assert.Equal(t, "ABC123", v.Expected)
		assert.Equal(t, "XYZ999", v.Claimed)
	})
}

func TestCheck_NotFoundBypassAndMemory(t *testing.T) {
	f := newFixture(t, Components{})
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	gctx := turn("Sipariş numaranız bulunamadı.")
	gctx.Now = now
	gctx.ToolOutputs = []guardrail.ToolOutput{{Name: "order_lookup", Outcome: guardrail.OutcomeNotFound}}

	res := f.gw.Check(ctx, gctx)
	assert.False(t, res.Blocked)
	assert.Equal(t, guardrail.ActionPass, res.Action)
	assert.True(t, res.NotFoundHandled)

	mem, err := f.store.Recall(ctx, "s-1")
	require.NoError(t, err)
	assert.True(t, mem.LastNotFoundAt.Equal(now))
}

func TestCheck_EscalationFailuresDoNotChangeDecision(t *testing.T) {
	sink := &recordingSink{}
	tracer := noop.NewTracerProvider().Tracer("test")
	gw := New(BuildPipeline(Components{Tracer: tracer}),
		WithStore(failingStore{}), WithSink(sink), WithTracer(tracer))

	gctx := turn("Bilgileriniz güncellendi.")
	gctx.Verification = guardrail.VerificationVerified
	gctx.VerifiedIdentity = &guardrail.Identity{CustomerID: "C-100"}
	gctx.ToolOutputs = []guardrail.ToolOutput{{
		Name:    "customer_data_lookup",
		Success: true,
		Data:    map[string]any{"owner": map[string]any{"customerId": "C-200"}},
	}}

	res := gw.Check(context.Background(), gctx)

	assert.Equal(t, guardrail.ReasonIdentityMismatch, res.BlockReason)
	assert.True(t, res.Blocked)
	assert.False(t, res.SessionLocked)
	require.Len(t, sink.events, 1)
	assert.Contains(t, sink.events[0].Error, "store down")
}

func TestCheck_ExternalStages(t *testing.T) {
	const reason guardrail.Reason = "ACTION_CLAIM_UNVERIFIED"
	f := newFixture(t, Components{
		ActionClaim: func(text string, _ *guardrail.Context) guardrail.StageOutcome {
			if strings.Contains(text, "iptal ettim") {
				return guardrail.Block(reason, messages.KeyCorrectionBarrier).
					WithCorrection("İşlemi yapmadıysan yaptığını söyleme.")
			}
			return guardrail.Pass()
		},
	})

	res := f.gw.Check(context.Background(), turn("Talebinizi iptal ettim."))

	assert.Equal(t, reason, res.BlockReason)
	assert.True(t, res.Correctable)
	assert.Equal(t, ActionClaimStageName, res.GuardrailsApplied[len(res.GuardrailsApplied)-1])
}

func TestCheckWithCorrections(t *testing.T) {
	const bad = "Paketiniz teslim edildi, komşunuza bırakıldı."
	const good = "Başka bir konuda yardımcı olabilir miyim?"
	ctx := context.Background()

	t.Run("regenerated reply passes", func(t *testing.T) {
		f := newFixture(t, Components{})
		var constraints []string
		var rejected string
		regen := RegeneratorFunc(func(rctx context.Context, c string) (string, error) {
			constraints = append(constraints, c)
			if prev, ok := TurnFrom(rctx); ok {
				rejected = prev.ResponseText
			}
			return good, nil
		})

		res := f.gw.CheckWithCorrections(ctx, turn(bad), regen, 2)

		assert.Equal(t, bad, rejected)
		assert.Equal(t, guardrail.ActionPass, res.Action)
		assert.Equal(t, good, res.FinalResponse)
		require.Len(t, constraints, 1)
		assert.Equal(t, confab.Constraint(patterns.EventDelivery, "tr"), constraints[0])
		assert.Equal(t, 1, res.Telemetry["gateway"]["correction_attempts"])
	})

	t.Run("budget exhausted returns the barrier", func(t *testing.T) {
		f := newFixture(t, Components{})
		calls := 0
		regen := RegeneratorFunc(func(context.Context, string) (string, error) {
			calls++
			return bad, nil
		})

		res := f.gw.CheckWithCorrections(ctx, turn(bad), regen, 2)

		assert.Equal(t, 2, calls)
		assert.True(t, res.Blocked)
		assert.Equal(t, messages.Default().Render(messages.KeyCorrectionBarrier, "tr", 0), res.FinalResponse)
	})

	t.Run("regeneration error stops the loop", func(t *testing.T) {
		f := newFixture(t, Components{})
		calls := 0
		regen := RegeneratorFunc(func(context.Context, string) (string, error) {
			calls++
			return "", errors.New("model unavailable")
		})

		res := f.gw.CheckWithCorrections(ctx, turn(bad), regen, 3)

		assert.Equal(t, 1, calls)
		assert.Equal(t, guardrail.ReasonConfabulation, res.BlockReason)
	})

	t.Run("hard blocks are never re-prompted", func(t *testing.T) {
		f := newFixture(t, Components{})
		regen := RegeneratorFunc(func(context.Context, string) (string, error) {
			t.Fatal("regenerator called for a hard block")
			return "", nil
		})

		res := f.gw.CheckWithCorrections(ctx, turn(jsonDump), regen, 2)
		assert.Equal(t, guardrail.ReasonFirewallBlock, res.BlockReason)
	})

	t.Run("negative budget uses the gateway default", func(t *testing.T) {
		f := newFixture(t, Components{}, WithMaxCorrections(1))
		calls := 0
		regen := RegeneratorFunc(func(context.Context, string) (string, error) {
			calls++
			return bad, nil
		})

		f.gw.CheckWithCorrections(ctx, turn(bad), regen, -1)
		assert.Equal(t, 1, calls)
	})
}
