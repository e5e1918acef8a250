package guardrail

import "time"

// Reason is a policy outcome code. Reasons are values, not Go errors.
type Reason string

const (
	ReasonFirewallBlock         Reason = "FIREWALL_BLOCK"
	ReasonPIIRisk               Reason = "PII_RISK"
	ReasonLeakFilter            Reason = "SECURITY_GATEWAY_LEAK_FILTER"
	ReasonIdentityMismatch      Reason = "IDENTITY_MISMATCH"
	ReasonToolOnlyDataLeak      Reason = "TOOL_ONLY_DATA_LEAK_DETECTED"
	ReasonInternalProtocolLeak  Reason = "INTERNAL_PROTOCOL_LEAK"
	ReasonConfabulation         Reason = "CONFABULATION_DETECTED"
	ReasonFieldGrounding        Reason = "FIELD_GROUNDING_VIOLATION"
	ReasonCallbackInfoRequired  Reason = "CALLBACK_INFO_REQUIRED"
	ReasonURLAllowlist          Reason = "KB_ONLY_URL_ALLOWLIST"
	ReasonToolRequired          Reason = "TOOL_REQUIRED"
	ReasonNotFoundClarification Reason = "NOT_FOUND_CLARIFICATION"

	// ReasonSessionLocked is set by the gateway when a locked session asks
	// for another reply. No stage runs.
	ReasonSessionLocked Reason = "SESSION_LOCKED"
)

// Sub-reasons.
const (
	SubReasonNeedMinInfo     = "NEED_MIN_INFO_FOR_TOOL"
	SubReasonHardBlock       = "HARD_BLOCK"
	SubReasonToolOnlyLeak    = "TOOL_ONLY_DATA_LEAK"
	SubReasonToolMismatch    = "TOOL_MISMATCH_DATA_LEAK"
	SubReasonFirewallPIIOnly = "UNREDACTED_PII"
	SubReasonToolNotCalled   = "TOOL_NOT_CALLED"
)

// Class groups reasons by how the caller must react.
type Class string

const (
	// ClassIdentityCritical: hard block plus session lock, never corrected.
	ClassIdentityCritical Class = "identity_critical"
	// ClassCorrectable: the caller may re-prompt the model with the
	// correction constraint a bounded number of times.
	ClassCorrectable Class = "correctable"
	// ClassInformational: exactly one clarification question, never a block.
	ClassInformational Class = "informational"
	// ClassPolicy covers the remaining hard blocks.
	ClassPolicy Class = "policy"
)

// DefaultLockDuration is how long an identity-critical block locks a session.
const DefaultLockDuration = time.Hour

// ClassOf returns the class of a reason.
func ClassOf(r Reason) Class {
	switch r {
	case ReasonPIIRisk, ReasonIdentityMismatch:
		return ClassIdentityCritical
	case ReasonToolOnlyDataLeak, ReasonConfabulation, ReasonFieldGrounding, ReasonInternalProtocolLeak:
		return ClassCorrectable
	case ReasonCallbackInfoRequired, ReasonToolRequired, ReasonNotFoundClarification:
		return ClassInformational
	}
	return ClassPolicy
}
