package protocol

import (
	"strings"

	"github.com/gzhole/replyshield/internal/patterns"
)

// HeuristicProvider detects disclosure signals with the pattern library.
// It runs synchronously and never fails.
type HeuristicProvider struct {
	rules []heuristicRule
}

type heuristicRule struct {
	signal   Signal
	set      patterns.Set
	escalate string
}

// NewHeuristicProvider creates the provider. A nil library uses the built-in
// one.
func NewHeuristicProvider(lib *patterns.Library) *HeuristicProvider {
	if lib == nil {
		lib = patterns.Default()
	}
	return &HeuristicProvider{rules: buildRules(lib)}
}

func (p *HeuristicProvider) Name() string { return "heuristic" }

// Analyze runs every rule against the reply.
func (p *HeuristicProvider) Analyze(req Request) (Response, error) {
	var signals []Signal
	best := DecisionAllow

	for _, r := range p.rules {
		m, ok := r.set.Find(req.Text)
		if !ok {
			continue
		}
		sig := r.signal
		sig.Evidence = m.Evidence
		signals = append(signals, sig)
		best = mostRestrictive(best, r.escalate)
	}

	parts := make([]string, 0, len(signals))
	for _, s := range signals {
		parts = append(parts, s.Description)
	}

	return Response{
		Signals:           signals,
		SuggestedDecision: best,
		Explanation:       strings.Join(parts, "; "),
	}, nil
}

func buildRules(lib *patterns.Library) []heuristicRule {
	return []heuristicRule{
		{
			signal: Signal{
				ID:          patterns.SignalRulesDisclosure,
				Severity:    "high",
				Confidence:  0.85,
				Description: "Reply cites the assistant's own rules or guidelines",
			},
			set:      lib.Set(patterns.ProtocolKey(patterns.SignalRulesDisclosure)),
			escalate: DecisionBlock,
		},
		{
			signal: Signal{
				ID:          patterns.SignalInstructionParaphrase,
				Severity:    "high",
				Confidence:  0.75,
				Description: "Reply paraphrases the instructions the assistant was given",
			},
			set:      lib.Set(patterns.ProtocolKey(patterns.SignalInstructionParaphrase)),
			escalate: DecisionBlock,
		},
		{
			signal: Signal{
				ID:          patterns.SignalPromptReference,
				Severity:    "high",
				Confidence:  0.80,
				Description: "Reply refers to the system prompt",
			},
			set:      lib.Set(patterns.ProtocolKey(patterns.SignalPromptReference)),
			escalate: DecisionBlock,
		},
		{
			signal: Signal{
				ID:          patterns.SignalWorkflowNarration,
				Severity:    "medium",
				Confidence:  0.70,
				Description: "Reply narrates the internal workflow behind the answer",
			},
			set:      lib.Set(patterns.ProtocolKey(patterns.SignalWorkflowNarration)),
			escalate: DecisionBlock,
		},
	}
}

func mostRestrictive(a, b string) string {
	order := map[string]int{DecisionAllow: 0, DecisionAudit: 1, DecisionBlock: 2}
	if order[b] > order[a] {
		return b
	}
	return a
}
