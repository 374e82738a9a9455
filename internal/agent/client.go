package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rendis/socialflow/internal/dispatch"
	"github.com/rendis/socialflow/internal/store"
	"github.com/rendis/socialflow/pkg/schema"
)

const defaultClientTimeout = 30 * time.Second

// Client talks to a remote socialflow HTTP server. Error responses are
// turned back into *schema.Error with the server's code.
type Client struct {
	baseURL string
	http    *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default client (30s timeout).
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.http = c }
}

// NewClient creates a Client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultClientTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartRun posts graph and input to /runs.
func (c *Client) StartRun(ctx context.Context, graph schema.WorkflowGraph, input any, runID string) (*schema.RunRecord, error) {
	body := map[string]any{"graph": graph, "input": input}
	if runID != "" {
		body["runId"] = runID
	}
	var rec schema.RunRecord
	if err := c.do(ctx, http.MethodPost, "/runs", body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetRunState fetches a run record.
func (c *Client) GetRunState(ctx context.Context, runID string) (*schema.RunRecord, error) {
	var rec schema.RunRecord
	if err := c.do(ctx, http.MethodGet, "/runs/"+url.PathEscape(runID), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Approve records an approval decision.
func (c *Client) Approve(ctx context.Context, runID string, approved bool) (*schema.RunRecord, error) {
	var rec schema.RunRecord
	path := "/runs/" + url.PathEscape(runID) + "/approve"
	if err := c.do(ctx, http.MethodPost, path, map[string]bool{"approved": approved}, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// EnqueueAction queues a direct action and returns its request id.
func (c *Client) EnqueueAction(ctx context.Context, req schema.ActionRequest) (string, error) {
	var out struct {
		RequestID string `json:"requestId"`
	}
	if err := c.do(ctx, http.MethodPost, "/actions", req, &out); err != nil {
		return "", err
	}
	return out.RequestID, nil
}

// PollPendingAction claims the next queued action for userID, or returns
// nil when there is none.
func (c *Client) PollPendingAction(ctx context.Context, userID string) (*schema.ActionRequest, error) {
	var out struct {
		Pending bool                  `json:"pending"`
		Action  *schema.ActionRequest `json:"action,omitempty"`
	}
	if err := c.do(ctx, http.MethodGet, "/actions/poll?userId="+url.QueryEscape(userID), nil, &out); err != nil {
		return nil, err
	}
	if !out.Pending {
		return nil, nil
	}
	return out.Action, nil
}

// ReportActionResult delivers result for requestID.
func (c *Client) ReportActionResult(ctx context.Context, requestID string, result *schema.ActionResult, runIDHint string) (*dispatch.Resolution, error) {
	body := map[string]any{"result": result}
	if runIDHint != "" {
		body["runId"] = runIDHint
	}
	var out struct {
		OK        bool             `json:"ok"`
		RunID     string           `json:"runId,omitempty"`
		Status    schema.RunStatus `json:"status,omitempty"`
		Duplicate bool             `json:"duplicate,omitempty"`
	}
	path := "/actions/" + url.PathEscape(requestID) + "/result"
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	res := &dispatch.Resolution{RequestID: requestID, RunID: out.RunID, Duplicate: out.Duplicate}
	if out.Status != "" {
		res.Run = &schema.RunRecord{ID: out.RunID, Status: out.Status}
	}
	return res, nil
}

// GetActionResult fetches a stored action result.
func (c *Client) GetActionResult(ctx context.Context, requestID string) (*store.StoredResult, error) {
	var out store.StoredResult
	if err := c.do(ctx, http.MethodGet, "/actions/"+url.PathEscape(requestID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// errorBody is the error envelope written by the HTTP API.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var eb errorBody
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if json.Unmarshal(raw, &eb) != nil || eb.Error == "" {
			eb.Error = strings.TrimSpace(string(raw))
		}
		if eb.Code == "" {
			eb.Code = codeForStatus(resp.StatusCode)
		}
		return schema.NewErrorf(eb.Code, "%s %s: %s", method, path, eb.Error).
			WithDetails(map[string]any{"status": resp.StatusCode})
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusNotFound:
		return schema.ErrCodeNotFound
	case http.StatusConflict:
		return schema.ErrCodeConflict
	case http.StatusBadRequest:
		return schema.ErrCodeValidation
	default:
		return schema.ErrCodeStore
	}
}
