// Package protocol detects replies that talk about how the assistant works:
// its rules, its instructions, its prompt, or the internal workflow behind
// an answer.
//
// Architecture:
//
//	Provider (interface)
//	  └── HeuristicProvider: language-partitioned pattern rules, built in
//
//	Guard: adapts any Provider to a pipeline stage and applies the
//	       strict / rewrite mode and the log-only kill switch.
package protocol

// Signal is one disclosure signal found by a provider.
type Signal struct {
	// ID is a short identifier such as "rules_disclosure".
	ID string

	// Severity is "critical", "high", "medium" or "low".
	Severity string

	// Confidence is 0.0-1.0.
	Confidence float64

	Description string

	// Evidence is the matched fragment.
	Evidence string
}

// Request is the input to a Provider.
type Request struct {
	Text     string
	Language string
}

// Decisions a provider may suggest.
const (
	DecisionAllow = "ALLOW"
	DecisionAudit = "AUDIT"
	DecisionBlock = "BLOCK"
)

// Response is the output of a Provider.
type Response struct {
	Signals []Signal

	// SuggestedDecision is ALLOW, AUDIT or BLOCK.
	SuggestedDecision string

	// Explanation joins the signal descriptions.
	Explanation string
}

// Provider is any protocol-disclosure detector.
type Provider interface {
	// Name returns the provider identifier, e.g. "heuristic".
	Name() string

	Analyze(req Request) (Response, error)
}
