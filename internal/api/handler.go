package api

import (
	"net/http"

	"github.com/emicklei/go-restful/v3"
	"github.com/rs/zerolog"

	"github.com/gzhole/replyshield/internal/gateway"
	"github.com/gzhole/replyshield/internal/guardrail"
)

type Handler struct {
	gateway     *gateway.Gateway
	regenerator gateway.Regenerator
	version     string
	session     string
	logger      *zerolog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithRegenerator enables the correction loop for requests that ask for it.
func WithRegenerator(r gateway.Regenerator) HandlerOption {
	return func(h *Handler) { h.regenerator = r }
}

// WithVersion sets the version reported by the health endpoint.
func WithVersion(v string) HandlerOption {
	return func(h *Handler) { h.version = v }
}

// WithSessionBackend names the session backend in the health response.
func WithSessionBackend(name string) HandlerOption {
	return func(h *Handler) { h.session = name }
}

func NewHandler(gw *gateway.Gateway, logger *zerolog.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{gateway: gw, version: "dev", logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Check handles POST /api/v1/guardrails/check.
// Body: CheckRequest
// Returns: guardrail.Result
func (h *Handler) Check(req *restful.Request, resp *restful.Response) {
	var body CheckRequest
	if err := req.ReadEntity(&body); err != nil {
		h.logger.Warn().Err(err).Msg("failed to parse check request")
		HandleError(resp, err, http.StatusBadRequest)
		return
	}
	if err := body.Validate(); err != nil {
		HandleError(resp, err, http.StatusBadRequest)
		return
	}

	ctx := req.Request.Context()
	gctx := body.Context

	var res guardrail.Result
	if body.MaxCorrections != nil && h.regenerator != nil {
		res = h.gateway.CheckWithCorrections(ctx, gctx, h.regenerator, *body.MaxCorrections)
	} else {
		res = h.gateway.Check(ctx, gctx)
	}

	h.logger.Debug().
		Str("turn_id", res.TurnID).
		Str("session_id", gctx.SessionID).
		Str("action", string(res.Action)).
		Str("reason", string(res.BlockReason)).
		Msg("check complete")

	_ = resp.WriteHeaderAndEntity(http.StatusOK, res)
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(_ *restful.Request, resp *restful.Response) {
	_ = resp.WriteHeaderAndEntity(http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: h.version,
		Session: h.session,
	})
}
