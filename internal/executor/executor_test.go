package executor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/socialflow/internal/adapters"
	"github.com/rendis/socialflow/pkg/schema"
)

func likeRequest() *schema.ActionRequest {
	return &schema.ActionRequest{
		RequestID: "req-1",
		UserID:    "u1",
		Platform:  schema.PlatformXiaohongshu,
		Action:    schema.ActionLikePost,
		Mode:      schema.ModeAPI,
		Payload:   map[string]any{"feedId": "f1"},
	}
}

func TestAPIExecutor_PostsToPlatformAction(t *testing.T) {
	var gotPath, gotKey string
	var gotReq schema.ActionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("Idempotency-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(schema.ActionResult{OK: true, PlatformPostID: "p-9"})
	}))
	defer srv.Close()

	res, err := NewAPIExecutor(srv.URL+"/").Execute(context.Background(), likeRequest())
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "p-9", res.PlatformPostID)
	assert.Equal(t, "/xiaohongshu/like_post", gotPath)
	assert.Equal(t, "req-1", gotKey)
	assert.Equal(t, "f1", gotReq.Payload["feedId"])
}

func TestAPIExecutor_BridgeEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/xiaohongshu/like_post" {
			_, _ = w.Write([]byte(`{"success":false,"message":"not logged in"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"id":"note-1"}}`))
	}))
	defer srv.Close()
	ex := NewAPIExecutor(srv.URL)

	res, err := ex.Execute(context.Background(), likeRequest())
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "api_error", res.Error.Type)
	assert.Equal(t, "not logged in", res.Error.Message)

	publish := likeRequest()
	publish.Action = schema.ActionPublishPost
	res, err = ex.Execute(context.Background(), publish)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "note-1", res.PlatformPostID)
	assert.NotNil(t, res.Raw)
}

func TestAPIExecutor_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		retriable bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			_, err := NewAPIExecutor(srv.URL).Execute(context.Background(), likeRequest())
			var ee *ExecutorError
			require.ErrorAs(t, err, &ee)
			assert.Equal(t, tt.status, ee.Status)
			assert.Equal(t, tt.retriable, Retriable(err))
		})
	}
}

func TestAPIExecutor_PayloadBaseURLOverride(t *testing.T) {
	hit := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	req := likeRequest()
	req.Payload["baseUrl"] = srv.URL
	res, err := NewAPIExecutor("").Execute(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.True(t, hit)

	_, err = NewAPIExecutor("").Execute(context.Background(), likeRequest())
	assert.Error(t, err)
}

func TestAPIExecutor_TransportErrorIsRetriable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewAPIExecutor(url).Execute(context.Background(), likeRequest())
	require.Error(t, err)
	assert.True(t, Retriable(err))
}

func TestRetryExecutor_RetriesRetriableErrors(t *testing.T) {
	calls := 0
	flaky := Func(func(context.Context, *schema.ActionRequest) (*schema.ActionResult, error) {
		calls++
		if calls < 3 {
			return nil, &ExecutorError{Type: "transport", Message: "reset", Retriable: true}
		}
		return &schema.ActionResult{OK: true}, nil
	})

	res, err := NewRetryExecutor(flaky, WithMaxAttempts(3), WithBackoff(time.Millisecond, 5*time.Millisecond)).
		Execute(context.Background(), likeRequest())
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 3, calls)
}

func TestRetryExecutor_StopsOnPermanentError(t *testing.T) {
	calls := 0
	bad := Func(func(context.Context, *schema.ActionRequest) (*schema.ActionResult, error) {
		calls++
		return nil, &ExecutorError{Type: "http_status", Message: "400", Status: 400}
	})

	_, err := NewRetryExecutor(bad, WithMaxAttempts(5), WithBackoff(time.Millisecond, time.Millisecond)).
		Execute(context.Background(), likeRequest())
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryExecutor_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	down := Func(func(context.Context, *schema.ActionRequest) (*schema.ActionResult, error) {
		calls++
		return &schema.ActionResult{Error: &schema.ActionError{Type: "api_error", Message: "busy", Retriable: true}}, nil
	})

	res, err := NewRetryExecutor(down, WithMaxAttempts(3), WithBackoff(time.Millisecond, time.Millisecond)).
		Execute(context.Background(), likeRequest())
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "busy", res.Error.Message)
	assert.Equal(t, 3, calls)
}

func TestRouter_ChoosesSupportedMode(t *testing.T) {
	var gotMode schema.ExecutionMode
	record := Func(func(_ context.Context, req *schema.ActionRequest) (*schema.ActionResult, error) {
		gotMode = req.Mode
		return &schema.ActionResult{OK: true}, nil
	})
	r := NewRouter(adapters.NewRegistry()).
		Handle(schema.ModeAPI, record).
		Handle(schema.ModeExtensionBrowser, record)

	req := likeRequest()
	req.Mode = schema.ModeExtensionBrowser
	_, err := r.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, schema.ModeAPI, gotMode, "xiaohongshu only supports api")
	assert.Equal(t, schema.ModeExtensionBrowser, req.Mode, "caller's request is not modified")

	dm := &schema.ActionRequest{Platform: schema.PlatformLinkedIn, Action: schema.ActionSendDM, Mode: schema.ModeAPI}
	_, err = r.Execute(context.Background(), dm)
	require.NoError(t, err)
	assert.Equal(t, schema.ModeExtensionBrowser, gotMode)
}

func TestRouter_MissingExecutor(t *testing.T) {
	r := NewRouter(adapters.NewRegistry())
	_, err := r.Execute(context.Background(), likeRequest())
	var ee *ExecutorError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "unsupported_mode", ee.Type)
}

func TestToActionResult(t *testing.T) {
	res := ToActionResult(&ExecutorError{Type: "transport", Message: "reset", Retriable: true})
	assert.False(t, res.OK)
	assert.Equal(t, &schema.ActionError{Type: "transport", Message: "reset", Retriable: true}, res.Error)

	res = ToActionResult(errors.New("plain"))
	assert.Equal(t, "executor_error", res.Error.Type)
	assert.False(t, res.Error.Retriable)

	assert.True(t, ToActionResult(nil).OK)
}

func TestRetriable(t *testing.T) {
	assert.False(t, Retriable(nil))
	assert.False(t, Retriable(context.Canceled))
	assert.True(t, Retriable(context.DeadlineExceeded))
	assert.False(t, Retriable(errors.New("boom")))

	_, err := Unavailable(schema.ModeCloudBrowser).Execute(context.Background(), likeRequest())
	assert.True(t, Retriable(err))
}
