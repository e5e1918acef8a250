package api

import (
	"errors"
	"fmt"

	"github.com/gzhole/replyshield/internal/guardrail"
)

var (
	ErrMissingTenant      = errors.New("tenantId is required")
	ErrNegativeTurnIndex  = errors.New("turnIndex must not be negative")
	ErrNegativeCorrection = errors.New("maxCorrections must not be negative")
)

// CheckRequest is the body of POST /api/v1/guardrails/check. The turn
// context is inlined.
type CheckRequest struct {
	guardrail.Context

	// MaxCorrections, when set, lets the gateway re-prompt the model through
	// the configured regenerator. Without a regenerator it is ignored.
	MaxCorrections *int `json:"maxCorrections,omitempty"`
}

// Validate checks the fields the pipeline cannot default.
func (r CheckRequest) Validate() error {
	if r.TenantID == "" {
		return ErrMissingTenant
	}
	if r.TurnIndex < 0 {
		return ErrNegativeTurnIndex
	}
	if r.MaxCorrections != nil && *r.MaxCorrections < 0 {
		return ErrNegativeCorrection
	}
	for i, o := range r.ToolOutputs {
		if o.Name == "" {
			return fmt.Errorf("toolOutputs[%d]: name is required", i)
		}
	}
	return nil
}

// HealthResponse is returned by GET /api/v1/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Session string `json:"session,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
