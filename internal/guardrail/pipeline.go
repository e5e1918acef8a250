package guardrail

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gzhole/replyshield/internal/flags"
	"github.com/gzhole/replyshield/internal/messages"
	"github.com/gzhole/replyshield/internal/redact"
)

const tracerName = "github.com/gzhole/replyshield/internal/guardrail"

// Pipeline is an ordered collection of stages run over one reply. Stages run
// in the order provided; the first terminal outcome ends the run.
type Pipeline struct {
	stages  []Stage
	flags   flags.Flags
	catalog messages.Catalog
	tracer  trace.Tracer
	logger  zerolog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithCatalog sets the message catalog used for replacement texts.
func WithCatalog(c messages.Catalog) Option {
	return func(p *Pipeline) { p.catalog = c }
}

// WithTracer sets the OpenTelemetry tracer. Defaults to the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates a pipeline. fl is the baseline flag set; per-request
// FeatureFlags are applied on top of it for each run.
func NewPipeline(fl flags.Flags, stages []Stage, opts ...Option) *Pipeline {
	p := &Pipeline{
		stages:  stages,
		flags:   fl,
		catalog: messages.Default(),
		tracer:  otel.Tracer(tracerName),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stages returns the registered stages (for inspection/testing).
func (p *Pipeline) Stages() []Stage {
	return p.stages
}

// Run executes the stages over gctx.ResponseText.
func (p *Pipeline) Run(ctx context.Context, gctx Context) Result {
	gctx.Flags = p.flags.WithOverrides(gctx.FeatureFlags)
	if gctx.Now.IsZero() {
		gctx.Now = gctx.Clock()
	}

	res := Result{
		TurnID:            uuid.NewString(),
		GuardrailsApplied: make([]string, 0, len(p.stages)),
		Telemetry:         map[string]map[string]any{},
	}
	text := gctx.ResponseText
	mutated := false

	for _, st := range p.stages {
		_, span := p.tracer.Start(ctx, "guardrail.check_output",
			trace.WithAttributes(
				attribute.String("guardrail.name", st.Name()),
				attribute.String("guardrail.session", gctx.SessionID),
			),
		)

		out := st.Check(text, &gctx)
		res.GuardrailsApplied = append(res.GuardrailsApplied, st.Name())

		span.SetAttributes(
			attribute.String("guardrail.action", decisionLabel(out)),
			attribute.String("guardrail.reason", string(out.Reason)),
			attribute.Int("guardrail.violations", len(out.Violations)),
		)
		span.End()

		if len(out.Telemetry) > 0 {
			res.Telemetry[st.Name()] = out.Telemetry
		}
		for _, v := range out.Violations {
			v.Evidence = redact.Evidence(v.Evidence)
			v.Claimed = redact.Evidence(v.Claimed)
			v.Expected = redact.Evidence(v.Expected)
			res.Violations = append(res.Violations, v)
		}
		if out.NotFoundHandled {
			res.NotFoundHandled = true
		}

		switch out.Decision {
		case Mutate:
			if out.Text != text {
				text = out.Text
				mutated = true
				p.logger.Debug().
					Str("guardrail", st.Name()).
					Str("session_id", gctx.SessionID).
					Msg("guardrail sanitized reply")
			}
		case Terminate:
			p.terminate(&res, st.Name(), out, &gctx)
			return res
		}
	}

	res.FinalResponse = text
	res.Action = ActionPass
	if mutated {
		res.Action = ActionSanitize
	}
	return res
}

// terminate fills res from a terminal outcome. The reply is always replaced
// by catalog text; the original never survives a terminal outcome.
func (p *Pipeline) terminate(res *Result, stage string, out StageOutcome, gctx *Context) {
	action := out.Action
	if action != ActionNeedMinInfoForTool {
		action = ActionBlock
	}

	res.Action = action
	res.Blocked = action == ActionBlock
	res.BlockReason = out.Reason
	res.SubReason = out.SubReason
	res.FinalResponse = p.catalog.Render(out.MessageKey, gctx.Language, gctx.TurnIndex)
	res.MissingFields = out.MissingFields
	res.AskedField = out.AskedField
	res.CorrectionConstraint = out.Correction
	res.Correctable = out.Correctable
	res.Escalation = out.Escalation

	evt := p.logger.Info()
	if res.Blocked {
		evt = p.logger.Warn()
	}
	evt.Str("guardrail", stage).
		Str("session_id", gctx.SessionID).
		Str("tenant_id", gctx.TenantID).
		Str("action", string(action)).
		Str("reason", string(out.Reason)).
		Str("sub_reason", out.SubReason).
		Strs("missing_fields", out.MissingFields).
		Msg("guardrail terminated reply")
}

func decisionLabel(out StageOutcome) string {
	switch out.Decision {
	case Mutate:
		return string(ActionSanitize)
	case Terminate:
		return string(out.Action)
	}
	return string(ActionPass)
}
