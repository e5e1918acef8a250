// Package guardrail defines the data model of the outbound guardrail
// pipeline and the Pipeline that runs stages over a model reply.
//
// Architecture:
//
//	Pipeline
//	  ├── Stage (pure: text + Context -> StageOutcome), run in a fixed order
//	  ├── SANITIZE threads the mutated text to the next stage
//	  └── first terminal outcome (BLOCK / NEED_MIN_INFO_FOR_TOOL) wins
package guardrail

import (
	"fmt"
	"strings"
	"time"

	"github.com/gzhole/replyshield/internal/flags"
)

// VerificationState is the requester's identity-verification state. It is a
// closed set; the gateway only reads it.
type VerificationState uint8

const (
	VerificationNone VerificationState = iota
	VerificationPending
	VerificationVerified
)

var verificationNames = [...]string{"none", "pending", "verified"}

func (v VerificationState) String() string {
	if int(v) < len(verificationNames) {
		return verificationNames[v]
	}
	return fmt.Sprintf("VerificationState(%d)", v)
}

// ParseVerificationState accepts none, pending and verified. The empty
// string means none.
func ParseVerificationState(s string) (VerificationState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return VerificationNone, nil
	case "pending":
		return VerificationPending, nil
	case "verified":
		return VerificationVerified, nil
	}
	return VerificationNone, fmt.Errorf("unknown verification state %q", s)
}

func (v VerificationState) MarshalText() ([]byte, error) {
	if int(v) >= len(verificationNames) {
		return nil, fmt.Errorf("invalid verification state %d", v)
	}
	return []byte(v.String()), nil
}

func (v *VerificationState) UnmarshalText(b []byte) error {
	parsed, err := ParseVerificationState(string(b))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ToolOutcome is the outcome a tool reports. Empty means a tool that only
// reports success.
type ToolOutcome string

const (
	OutcomeOK                   ToolOutcome = "OK"
	OutcomeNotFound             ToolOutcome = "NOT_FOUND"
	OutcomeNeedMoreInfo         ToolOutcome = "NEED_MORE_INFO"
	OutcomeVerificationRequired ToolOutcome = "VERIFICATION_REQUIRED"
	OutcomeError                ToolOutcome = "ERROR"
)

// ToolCall references a tool invocation made during the turn.
type ToolCall struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
}

// ToolOutput is the data a tool returned.
type ToolOutput struct {
	Name    string         `json:"name"`
	Outcome ToolOutcome    `json:"outcome,omitempty"`
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
}

// AnchorVerified reports whether the tool itself verified the requester
// against the record anchors before answering.
func (o ToolOutput) AnchorVerified() bool {
	return o.Success && o.Outcome == OutcomeOK
}

// Identity is a person the gateway compares record owners against.
type Identity struct {
	CustomerID string `json:"customerId,omitempty"`
	Name       string `json:"name,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
}

// CollectedData holds what the customer supplied during the conversation.
type CollectedData struct {
	OrderNumber string `json:"orderNumber,omitempty"`
	PhoneLast4  string `json:"phoneLast4,omitempty"`
	Name        string `json:"name,omitempty"`
	// Phone is the callback number the customer typed.
	Phone string `json:"phone,omitempty"`
	// AmbiguousIdentifier is a number the customer sent that could be either
	// an order number or a phone number.
	AmbiguousIdentifier string `json:"ambiguousIdentifier,omitempty"`
}

// KBConfidence is the knowledge-base retrieval confidence for the turn.
type KBConfidence string

const (
	KBLow    KBConfidence = "LOW"
	KBMedium KBConfidence = "MEDIUM"
	KBHigh   KBConfidence = "HIGH"
)

// Context is everything the pipeline knows about one turn. Stages receive a
// pointer for efficiency and must treat it as read-only.
type Context struct {
	SessionID string `json:"sessionId"`
	TenantID  string `json:"tenantId"`
	TurnIndex int    `json:"turnIndex,omitempty"`

	ResponseText string       `json:"responseText"`
	ToolsCalled  []ToolCall   `json:"toolsCalled,omitempty"`
	ToolOutputs  []ToolOutput `json:"toolOutputs,omitempty"`

	Verification     VerificationState `json:"verificationState"`
	VerifiedIdentity *Identity         `json:"verifiedIdentity,omitempty"`
	Collected        CollectedData     `json:"collectedData"`

	Language string `json:"language"`
	Channel  string `json:"channel"`
	Intent   string `json:"intent,omitempty"`

	HasKBMatch   bool         `json:"hasKBMatch"`
	KBConfidence KBConfidence `json:"kbConfidence,omitempty"`
	KBSourceURLs []string     `json:"kbSourceUrls,omitempty"`

	CallbackPending bool   `json:"callbackPending"`
	ActiveFlow      string `json:"activeFlow,omitempty"`

	// LastNotFoundAt and AskedFields come from the session store.
	LastNotFoundAt time.Time `json:"lastNotFoundAt,omitempty"`
	AskedFields    []string  `json:"askedFields,omitempty"`

	FeatureFlags map[string]bool `json:"featureFlags,omitempty"`

	// Flags is resolved by the pipeline from its configured flags and
	// FeatureFlags before any stage runs.
	Flags flags.Flags `json:"-"`
	// Now is the evaluation clock; zero means time.Now.
	Now time.Time `json:"-"`
}

// Severity of a violation.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Violation is a single detector hit. Evidence never holds raw PII: the
// pipeline redacts and truncates it before it leaves.
type Violation struct {
	Type          string   `json:"type"`
	Category      string   `json:"category,omitempty"`
	Evidence      string   `json:"evidence,omitempty"`
	Severity      string   `json:"severity,omitempty"`
	RequiredTools []string `json:"requiredTools,omitempty"`
	Field         string   `json:"field,omitempty"`
	Expected      string   `json:"expected,omitempty"`
	Claimed       string   `json:"claimed,omitempty"`
	// LogOnly marks a violation recorded while the stage's kill switch was on.
	LogOnly bool `json:"logOnly,omitempty"`
}

// Action is the pipeline's final decision.
type Action string

const (
	ActionPass               Action = "PASS"
	ActionSanitize           Action = "SANITIZE"
	ActionBlock              Action = "BLOCK"
	ActionNeedMinInfoForTool Action = "NEED_MIN_INFO_FOR_TOOL"
)

// EnumerationSignal asks the session store to count an attempt.
type EnumerationSignal struct {
	Mode   string `json:"mode"`
	Signal string `json:"signal"`
}

// Escalation lists the side effects a terminal outcome requests.
type Escalation struct {
	LockSession   bool               `json:"lockSession,omitempty"`
	LockDuration  time.Duration      `json:"lockDuration,omitempty"`
	Reason        string             `json:"reason,omitempty"`
	Enumeration   *EnumerationSignal `json:"enumeration,omitempty"`
	SecurityEvent bool               `json:"securityEvent,omitempty"`
}

// Result is the accumulated outcome of one pipeline run.
type Result struct {
	TurnID        string `json:"turnId"`
	FinalResponse string `json:"finalResponse"`
	Action        Action `json:"action"`
	// Blocked is true only for BLOCK. A clarification question replaces the
	// reply but is not a block.
	Blocked     bool   `json:"blocked"`
	BlockReason Reason `json:"blockReason,omitempty"`
	SubReason   string `json:"subReason,omitempty"`

	GuardrailsApplied []string    `json:"guardrailsApplied"`
	MissingFields     []string    `json:"missingFields,omitempty"`
	AskedField        string      `json:"askedField,omitempty"`
	Violations        []Violation `json:"violations,omitempty"`

	CorrectionConstraint string `json:"correctionConstraint,omitempty"`
	Correctable          bool   `json:"correctable,omitempty"`

	NotFoundHandled bool        `json:"notFoundHandled,omitempty"`
	Escalation      *Escalation `json:"escalation,omitempty"`
	SessionLocked   bool        `json:"sessionLocked,omitempty"`

	Telemetry map[string]map[string]any `json:"telemetry,omitempty"`
}
