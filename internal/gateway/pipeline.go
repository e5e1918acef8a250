package gateway

import (
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/gzhole/replyshield/internal/claimgate"
	"github.com/gzhole/replyshield/internal/confab"
	"github.com/gzhole/replyshield/internal/firewall"
	"github.com/gzhole/replyshield/internal/flags"
	"github.com/gzhole/replyshield/internal/grounding"
	"github.com/gzhole/replyshield/internal/guardrail"
	"github.com/gzhole/replyshield/internal/identity"
	"github.com/gzhole/replyshield/internal/leakfilter"
	"github.com/gzhole/replyshield/internal/messages"
	"github.com/gzhole/replyshield/internal/patterns"
	"github.com/gzhole/replyshield/internal/pii"
	"github.com/gzhole/replyshield/internal/protocol"
	"github.com/gzhole/replyshield/internal/toolguard"
	"github.com/gzhole/replyshield/internal/urlallow"
)

// Names of the stages backed by collaborators outside this module.
const (
	ActionClaimStageName    = "action_claim_validation"
	PolicyGuidanceStageName = "policy_guidance"
)

// CheckFunc is an external stage body.
type CheckFunc func(text string, gctx *guardrail.Context) guardrail.StageOutcome

// Components are the building blocks of the pipeline. Zero values fall back
// to the built-in library, catalog, policies and fail-closed flags.
type Components struct {
	Library     *patterns.Library
	Catalog     messages.Catalog
	Flags       *flags.Flags
	Intents     map[string]claimgate.Requirement
	URLPolicies map[string]urlallow.Policy

	// ProtocolProvider replaces the heuristic disclosure detector.
	ProtocolProvider protocol.Provider

	// ActionClaim and PolicyGuidance run last. Nil bodies pass.
	ActionClaim    CheckFunc
	PolicyGuidance CheckFunc

	Logger zerolog.Logger
	Tracer trace.Tracer
}

func (c Components) withDefaults() Components {
	if c.Library == nil {
		c.Library = patterns.Default()
	}
	if c.Catalog == nil {
		c.Catalog = messages.Default()
	}
	if c.Intents == nil {
		c.Intents = claimgate.DefaultRequirements()
	}
	if c.URLPolicies == nil {
		c.URLPolicies = urlallow.DefaultPolicies()
	}
	if c.ProtocolProvider == nil {
		c.ProtocolProvider = protocol.NewHeuristicProvider(c.Library)
	}
	return c
}

// Stages returns the guardrails in their fixed order.
func Stages(c Components) []guardrail.Stage {
	c = c.withDefaults()
	leak := leakfilter.New(c.Library)

	return []guardrail.Stage{
		firewall.NewStage(firewall.New(c.Library, c.Catalog), leak),
		pii.NewStage(pii.NewScanner(c.Library)),
		urlallow.New(c.URLPolicies),
		claimgate.NewNotFoundGate(c.Library),
		leak,
		claimgate.NewToolRequiredGate(c.Intents),
		claimgate.NewCallbackGate(),
		identity.New(),
		toolguard.New(c.Library),
		protocol.NewGuard(c.ProtocolProvider),
		confab.New(c.Library),
		grounding.New(c.Library),
		guardrail.StageFunc{StageName: ActionClaimStageName, Fn: c.ActionClaim},
		guardrail.StageFunc{StageName: PolicyGuidanceStageName, Fn: c.PolicyGuidance},
	}
}

// BuildPipeline assembles the full pipeline.
func BuildPipeline(c Components) *guardrail.Pipeline {
	c = c.withDefaults()

	fl := flags.Default()
	if c.Flags != nil {
		fl = *c.Flags
	}
	opts := []guardrail.Option{
		guardrail.WithCatalog(c.Catalog),
		guardrail.WithLogger(c.Logger),
	}
	if c.Tracer != nil {
		opts = append(opts, guardrail.WithTracer(c.Tracer))
	}
	return guardrail.NewPipeline(fl, Stages(c), opts...)
}
