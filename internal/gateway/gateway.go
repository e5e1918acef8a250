// Package gateway wraps the guardrail pipeline with the side effects a turn
// may need: session locks, enumeration counting, session memory, the
// security audit trail and bounded model re-prompting.
//
// Side-effect failures are logged and never change a decision.
package gateway

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gzhole/replyshield/internal/guardrail"
	"github.com/gzhole/replyshield/internal/logger"
	"github.com/gzhole/replyshield/internal/messages"
	"github.com/gzhole/replyshield/internal/session"
)

const tracerName = "github.com/gzhole/replyshield/internal/gateway"

// DefaultMaxCorrections is the re-prompt budget unless WithMaxCorrections
// says otherwise.
const DefaultMaxCorrections = 2

// Regenerator produces a new model reply under a correction constraint.
type Regenerator interface {
	Regenerate(ctx context.Context, constraint string) (string, error)
}

// RegeneratorFunc adapts a function to Regenerator.
type RegeneratorFunc func(ctx context.Context, constraint string) (string, error)

func (f RegeneratorFunc) Regenerate(ctx context.Context, constraint string) (string, error) {
	return f(ctx, constraint)
}

type turnKey struct{}

// TurnFrom returns the turn being corrected. It is set on the context
// passed to a Regenerator, with ResponseText holding the rejected reply.
func TurnFrom(ctx context.Context) (guardrail.Context, bool) {
	gctx, ok := ctx.Value(turnKey{}).(guardrail.Context)
	return gctx, ok
}

// Gateway checks model replies before they reach a customer.
type Gateway struct {
	pipeline       *guardrail.Pipeline
	store          session.Store
	sink           logger.Sink
	catalog        messages.Catalog
	log            zerolog.Logger
	tracer         trace.Tracer
	maxCorrections int
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithStore sets the session store. Without one no lock, enumeration or
// session memory is kept.
func WithStore(s session.Store) Option {
	return func(g *Gateway) { g.store = s }
}

// WithSink sets the security event sink.
func WithSink(s logger.Sink) Option {
	return func(g *Gateway) { g.sink = s }
}

// WithCatalog sets the catalog for the locked-session message. Use the
// pipeline's catalog.
func WithCatalog(c messages.Catalog) Option {
	return func(g *Gateway) { g.catalog = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(g *Gateway) { g.tracer = t }
}

// WithMaxCorrections sets the default re-prompt budget.
func WithMaxCorrections(n int) Option {
	return func(g *Gateway) { g.maxCorrections = n }
}

// New creates a gateway around p.
func New(p *guardrail.Pipeline, opts ...Option) *Gateway {
	g := &Gateway{
		pipeline:       p,
		catalog:        messages.Default(),
		log:            zerolog.Nop(),
		tracer:         otel.Tracer(tracerName),
		maxCorrections: DefaultMaxCorrections,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check runs one reply through the pipeline and applies the escalations the
// result asks for.
func (g *Gateway) Check(ctx context.Context, gctx guardrail.Context) guardrail.Result {
	ctx, span := g.tracer.Start(ctx, "gateway.check",
		trace.WithAttributes(
			attribute.String("session.id", gctx.SessionID),
			attribute.String("tenant.id", gctx.TenantID),
		),
	)
	defer span.End()

	if g.locked(ctx, gctx.SessionID) {
		res := g.lockedResult(&gctx)
		span.SetAttributes(attribute.String("guardrail.action", string(res.Action)))
		g.emit(ctx, &gctx, res, nil)
		return res
	}

	g.recall(ctx, &gctx)
	res := g.pipeline.Run(ctx, gctx)

	extra := g.escalate(ctx, &gctx, &res)
	g.remember(ctx, &gctx, res)

	span.SetAttributes(
		attribute.String("guardrail.action", string(res.Action)),
		attribute.String("guardrail.reason", string(res.BlockReason)),
		attribute.Bool("session.locked", res.SessionLocked),
	)
	if err := errors.Join(extra.errs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "escalation failed")
	}

	if res.Action == guardrail.ActionBlock || res.Action == guardrail.ActionNeedMinInfoForTool {
		g.emit(ctx, &gctx, res, extra)
	}
	return res
}

// CheckWithCorrections checks a reply and, while the result is a
// correctable block, asks regen for a new reply under the correction
// constraint, at most maxAttempts times. A negative maxAttempts uses the
// gateway default. When the budget runs out the correction barrier is
// returned.
func (g *Gateway) CheckWithCorrections(ctx context.Context, gctx guardrail.Context, regen Regenerator, maxAttempts int) guardrail.Result {
	if maxAttempts < 0 {
		maxAttempts = g.maxCorrections
	}

	res := g.Check(ctx, gctx)
	attempts := 0
	for res.Blocked && res.Correctable && attempts < maxAttempts && regen != nil {
		attempts++
		text, err := regen.Regenerate(context.WithValue(ctx, turnKey{}, gctx), res.CorrectionConstraint)
		if err != nil {
			g.log.Warn().Err(err).
				Str("session_id", gctx.SessionID).
				Int("attempt", attempts).
				Msg("regeneration failed")
			break
		}
		gctx.ResponseText = text
		res = g.Check(ctx, gctx)
	}

	if res.Telemetry == nil {
		res.Telemetry = map[string]map[string]any{}
	}
	res.Telemetry["gateway"] = map[string]any{
		"correction_attempts": attempts,
		"correction_budget":   maxAttempts,
	}
	if attempts > 0 {
		g.log.Info().
			Str("session_id", gctx.SessionID).
			Int("attempts", attempts).
			Str("action", string(res.Action)).
			Msg("correction loop finished")
	}
	return res
}

func (g *Gateway) locked(ctx context.Context, sessionID string) bool {
	if g.store == nil || sessionID == "" {
		return false
	}
	locked, err := g.store.IsSessionLocked(ctx, sessionID)
	if err != nil {
		g.log.Warn().Err(err).Str("session_id", sessionID).Msg("session lock lookup failed")
		return false
	}
	return locked
}

func (g *Gateway) lockedResult(gctx *guardrail.Context) guardrail.Result {
	g.log.Warn().
		Str("session_id", gctx.SessionID).
		Str("tenant_id", gctx.TenantID).
		Msg("reply refused for locked session")
	return guardrail.Result{
		TurnID:            uuid.NewString(),
		FinalResponse:     g.catalog.Render(messages.KeySecurityBarrier, gctx.Language, gctx.TurnIndex),
		Action:            guardrail.ActionBlock,
		Blocked:           true,
		BlockReason:       guardrail.ReasonSessionLocked,
		GuardrailsApplied: []string{},
		SessionLocked:     true,
	}
}

// recall merges the stored session memory into gctx.
func (g *Gateway) recall(ctx context.Context, gctx *guardrail.Context) {
	if g.store == nil || gctx.SessionID == "" {
		return
	}
	mem, err := g.store.Recall(ctx, gctx.SessionID)
	if err != nil {
		g.log.Warn().Err(err).Str("session_id", gctx.SessionID).Msg("session recall failed")
		return
	}
	gctx.AskedFields = slices.Clone(gctx.AskedFields)
	for _, f := range mem.AskedFields {
		if !slices.Contains(gctx.AskedFields, f) {
			gctx.AskedFields = append(gctx.AskedFields, f)
		}
	}
	if mem.LastNotFoundAt.After(gctx.LastNotFoundAt) {
		gctx.LastNotFoundAt = mem.LastNotFoundAt
	}
}

// remember stores what the next turn must know.
func (g *Gateway) remember(ctx context.Context, gctx *guardrail.Context, res guardrail.Result) {
	if g.store == nil || gctx.SessionID == "" {
		return
	}
	if res.AskedField != "" {
		if err := g.store.MarkAsked(ctx, gctx.SessionID, res.AskedField); err != nil {
			g.log.Warn().Err(err).Str("session_id", gctx.SessionID).Msg("mark asked field failed")
		}
	}
	if outcome, ok := gctx.LastToolOutcome(); ok && outcome == guardrail.OutcomeNotFound {
		at := gctx.Now
		if at.IsZero() {
			at = time.Now()
		}
		if err := g.store.MarkNotFound(ctx, gctx.SessionID, at); err != nil {
			g.log.Warn().Err(err).Str("session_id", gctx.SessionID).Msg("mark not found failed")
		}
	}
}

// escalate performs the lock and enumeration side effects of res and
// returns what the security event records about them.
func (g *Gateway) escalate(ctx context.Context, gctx *guardrail.Context, res *guardrail.Result) *emitExtra {
	extra := &emitExtra{}
	esc := res.Escalation
	if esc == nil || g.store == nil || gctx.SessionID == "" {
		return extra
	}

	if esc.LockSession {
		if err := g.store.LockSession(ctx, gctx.SessionID, esc.Reason, esc.LockDuration); err != nil {
			extra.errs = append(extra.errs, err)
			g.log.Error().Err(err).Str("session_id", gctx.SessionID).Msg("session lock failed")
		} else {
			res.SessionLocked = true
			extra.lockReason = esc.Reason
			g.log.Warn().
				Str("session_id", gctx.SessionID).
				Str("reason", esc.Reason).
				Dur("duration", esc.LockDuration).
				Msg("session locked")
		}
	}

	if esc.Enumeration != nil {
		attempt := session.Attempt{Mode: esc.Enumeration.Mode, Signal: esc.Enumeration.Signal}
		er, err := g.store.CheckEnumerationAttempt(ctx, gctx.SessionID, attempt)
		if err != nil {
			extra.errs = append(extra.errs, err)
			g.log.Error().Err(err).Str("session_id", gctx.SessionID).Msg("enumeration check failed")
		} else {
			extra.enumeration = er.Count
			if er.Locked {
				res.SessionLocked = true
				extra.lockReason = session.EnumerationReason(attempt)
				g.log.Warn().
					Str("session_id", gctx.SessionID).
					Str("mode", esc.Enumeration.Mode).
					Int("attempts", er.Count).
					Msg("session locked for enumeration")
			}
		}
	}
	return extra
}

type emitExtra struct {
	enumeration int
	lockReason  string
	errs        []error
}

func (g *Gateway) emit(ctx context.Context, gctx *guardrail.Context, res guardrail.Result, extra *emitExtra) {
	if g.sink == nil {
		return
	}
	event := logger.SecurityEvent{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		EventID:       uuid.NewString(),
		TurnID:        res.TurnID,
		SessionID:     gctx.SessionID,
		TenantID:      gctx.TenantID,
		Channel:       gctx.Channel,
		Language:      gctx.Language,
		Action:        string(res.Action),
		Reason:        string(res.BlockReason),
		SubReason:     res.SubReason,
		Stages:        res.GuardrailsApplied,
		Violations:    res.Violations,
		SessionLocked: res.SessionLocked,
	}
	if extra != nil {
		event.LockReason = extra.lockReason
		event.Enumeration = extra.enumeration
		if err := errors.Join(extra.errs...); err != nil {
			event.Error = err.Error()
		}
	}
	if err := g.sink.Write(ctx, event); err != nil {
		g.log.Error().Err(err).Str("turn_id", res.TurnID).Msg("security event write failed")
	}
}
