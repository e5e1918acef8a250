package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gzhole/replyshield/internal/gateway"
)

// ErrEmptyRegeneration is returned when the model service answers without
// a reply.
var ErrEmptyRegeneration = errors.New("regenerator returned an empty reply")

// RegenerateRequest is posted to the model service for each correction.
type RegenerateRequest struct {
	SessionID    string `json:"sessionId,omitempty"`
	TenantID     string `json:"tenantId,omitempty"`
	TurnIndex    int    `json:"turnIndex,omitempty"`
	Language     string `json:"language,omitempty"`
	Channel      string `json:"channel,omitempty"`
	RejectedText string `json:"rejectedText,omitempty"`
	Constraint   string `json:"constraint"`
}

// RegenerateResponse is the model service's answer.
type RegenerateResponse struct {
	ResponseText string `json:"responseText"`
}

// HTTPRegenerator asks an external model service for a corrected reply.
type HTTPRegenerator struct {
	url    string
	client *http.Client
}

var _ gateway.Regenerator = (*HTTPRegenerator)(nil)

// NewHTTPRegenerator posts corrections to url.
func NewHTTPRegenerator(url string, timeout time.Duration) *HTTPRegenerator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPRegenerator{url: url, client: &http.Client{Timeout: timeout}}
}

func (r *HTTPRegenerator) Regenerate(ctx context.Context, constraint string) (string, error) {
	body := RegenerateRequest{Constraint: constraint}
	if turn, ok := gateway.TurnFrom(ctx); ok {
		body.SessionID = turn.SessionID
		body.TenantID = turn.TenantID
		body.TurnIndex = turn.TurnIndex
		body.Language = turn.Language
		body.Channel = turn.Channel
		body.RejectedText = turn.ResponseText
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build regenerate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("regenerate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("regenerate: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out RegenerateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode regenerate response: %w", err)
	}
	if strings.TrimSpace(out.ResponseText) == "" {
		return "", ErrEmptyRegeneration
	}
	return out.ResponseText, nil
}
