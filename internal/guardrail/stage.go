package guardrail

// Stage is one guardrail. Check must be a pure function of its inputs: no
// I/O and no state carried between calls. Side effects are requested through
// StageOutcome.Escalation and performed by the caller of the pipeline.
type Stage interface {
	// Name returns the stage identifier recorded in guardrailsApplied.
	Name() string

	// Check inspects text (the reply as mutated by earlier stages).
	Check(text string, gctx *Context) StageOutcome
}

// Decision tells the pipeline how to proceed after a stage.
type Decision int

const (
	// Continue leaves the text unchanged.
	Continue Decision = iota
	// Mutate replaces the text for the following stages.
	Mutate
	// Terminate ends the run with Action.
	Terminate
)

// StageOutcome is what a stage reports back to the pipeline.
type StageOutcome struct {
	Decision Decision
	// Text is the replacement text for Mutate.
	Text string
	// Action is BLOCK or NEED_MIN_INFO_FOR_TOOL for Terminate.
	Action    Action
	Reason    Reason
	SubReason string
	// MessageKey selects the catalog text that replaces the reply.
	MessageKey string

	MissingFields []string
	AskedField    string
	Violations    []Violation

	Correction  string
	Correctable bool

	Escalation      *Escalation
	NotFoundHandled bool
	Telemetry       map[string]any
}

// Pass continues with the text unchanged.
func Pass() StageOutcome {
	return StageOutcome{Decision: Continue}
}

// Sanitize continues with text replacing the reply.
func Sanitize(text string) StageOutcome {
	return StageOutcome{Decision: Mutate, Text: text}
}

// Block terminates with BLOCK and the catalog message key.
func Block(reason Reason, messageKey string) StageOutcome {
	return StageOutcome{
		Decision:   Terminate,
		Action:     ActionBlock,
		Reason:     reason,
		MessageKey: messageKey,
	}
}

// NeedInfo terminates with a single clarification question for asked.
func NeedInfo(reason Reason, messageKey string, missing []string, asked string) StageOutcome {
	return StageOutcome{
		Decision:      Terminate,
		Action:        ActionNeedMinInfoForTool,
		Reason:        reason,
		MessageKey:    messageKey,
		MissingFields: missing,
		AskedField:    asked,
	}
}

// WithViolations appends violations.
func (o StageOutcome) WithViolations(v ...Violation) StageOutcome {
	o.Violations = append(o.Violations, v...)
	return o
}

// WithSubReason sets the sub-reason.
func (o StageOutcome) WithSubReason(s string) StageOutcome {
	o.SubReason = s
	return o
}

// WithCorrection marks the outcome correctable with a constraint for the
// model's next attempt.
func (o StageOutcome) WithCorrection(constraint string) StageOutcome {
	o.Correction = constraint
	o.Correctable = constraint != ""
	return o
}

// WithEscalation attaches side effects.
func (o StageOutcome) WithEscalation(e Escalation) StageOutcome {
	o.Escalation = &e
	return o
}

// WithTelemetry sets one telemetry key.
func (o StageOutcome) WithTelemetry(key string, value any) StageOutcome {
	if o.Telemetry == nil {
		o.Telemetry = map[string]any{}
	}
	o.Telemetry[key] = value
	return o
}

// WithTelemetryMap merges telemetry keys.
func (o StageOutcome) WithTelemetryMap(m map[string]any) StageOutcome {
	for k, v := range m {
		o = o.WithTelemetry(k, v)
	}
	return o
}

// StageFunc adapts a function to Stage. Used for collaborators outside this
// module such as action-claim validation and policy guidance.
type StageFunc struct {
	StageName string
	Fn        func(text string, gctx *Context) StageOutcome
}

func (s StageFunc) Name() string { return s.StageName }

func (s StageFunc) Check(text string, gctx *Context) StageOutcome {
	if s.Fn == nil {
		return Pass()
	}
	return s.Fn(text, gctx)
}

// LockEscalation is the escalation used by identity-critical stages.
func LockEscalation(reason Reason) Escalation {
	return Escalation{
		LockSession:   true,
		LockDuration:  DefaultLockDuration,
		Reason:        string(reason),
		SecurityEvent: true,
	}
}
