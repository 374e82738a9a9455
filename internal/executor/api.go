package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rendis/socialflow/pkg/schema"
)

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultAPITimeout      = 30 * time.Second
)

// APIExecutor performs actions by POSTing the request to an adapter
// service at {base}/{platform}/{action}. A payload "baseUrl" overrides the
// configured base for that request.
type APIExecutor struct {
	baseURL string
	client  *http.Client
	maxBody int64
}

// APIOption configures an APIExecutor.
type APIOption func(*APIExecutor)

// WithHTTPClient replaces the default client (30s timeout).
func WithHTTPClient(c *http.Client) APIOption {
	return func(e *APIExecutor) { e.client = c }
}

// WithMaxResponseBody caps how much of a response is read.
func WithMaxResponseBody(n int64) APIOption {
	return func(e *APIExecutor) { e.maxBody = n }
}

// NewAPIExecutor creates an APIExecutor for baseURL.
func NewAPIExecutor(baseURL string, opts ...APIOption) *APIExecutor {
	e := &APIExecutor{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultAPITimeout},
		maxBody: defaultMaxResponseBody,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// apiResponse accepts either a plain ActionResult or the
// {success, data, message} envelope of bridge services.
type apiResponse struct {
	schema.ActionResult
	Success *bool          `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

func (e *APIExecutor) Execute(ctx context.Context, req *schema.ActionRequest) (*schema.ActionResult, error) {
	base := e.baseURL
	if v, ok := req.Payload["baseUrl"].(string); ok && v != "" {
		base = strings.TrimRight(v, "/")
	}
	if base == "" {
		return nil, &ExecutorError{Type: "config", Message: "no adapter base url configured"}
	}
	endpoint := fmt.Sprintf("%s/%s/%s", base, req.Platform, req.Action)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &ExecutorError{Type: "encode", Message: err.Error(), Cause: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &ExecutorError{Type: "request", Message: err.Error(), Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.RequestID)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, &ExecutorError{
			Type:      "transport",
			Message:   err.Error(),
			Retriable: ctx.Err() == nil,
			Cause:     err,
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBody))
	if err != nil {
		return nil, &ExecutorError{Type: "transport", Message: "read response: " + err.Error(), Retriable: true, Cause: err}
	}
	if resp.StatusCode >= 300 {
		return nil, &ExecutorError{
			Type:      "http_status",
			Message:   fmt.Sprintf("%s returned %d: %s", endpoint, resp.StatusCode, snippet(raw)),
			Retriable: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
			Status:    resp.StatusCode,
		}
	}

	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &ExecutorError{Type: "decode", Message: "decode response: " + err.Error(), Cause: err}
	}
	if out.Success == nil {
		return &out.ActionResult, nil
	}

	var rawAny any
	_ = json.Unmarshal(raw, &rawAny)
	if !*out.Success {
		msg := out.Message
		if msg == "" {
			msg = "API call failed"
		}
		return &schema.ActionResult{
			OK:    false,
			Error: &schema.ActionError{Type: "api_error", Message: msg},
			Raw:   rawAny,
		}, nil
	}
	id, _ := out.Data["id"].(string)
	return &schema.ActionResult{OK: true, PlatformPostID: id, Raw: rawAny}, nil
}

func snippet(b []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
