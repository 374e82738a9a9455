package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/socialflow/internal/engine"
	"github.com/rendis/socialflow/pkg/schema"
)

var _ engine.Observer = (*Metrics)(nil)

func TestRunTransitions(t *testing.T) {
	m := New()

	m.RunStarted()
	m.RunTransition("", schema.RunStatusRunning)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsActive))

	m.RunTransition(schema.RunStatusRunning, schema.RunStatusWaitingApproval)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsActive), "waiting runs stay active")

	m.RunTransition(schema.RunStatusWaitingApproval, schema.RunStatusCompleted)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.runsActive))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runTransitions.WithLabelValues("none", "running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runTransitions.WithLabelValues("waiting_approval", "completed")))
}

func TestNodeFinished(t *testing.T) {
	m := New()
	m.NodeFinished("fetch_feed", 20*time.Millisecond, nil)
	m.NodeFinished("fetch_feed", 30*time.Millisecond, nil)
	m.NodeFinished("fetch_feed", time.Millisecond, errors.New("boom"))

	assert.Equal(t, 2, testutil.CollectAndCount(m.nodeDuration))
}

func TestActionCounters(t *testing.T) {
	m := New()
	req := &schema.ActionRequest{
		Platform: schema.PlatformXiaohongshu,
		Action:   schema.ActionLikePost,
		Mode:     schema.ModeAPI,
	}

	m.ActionDispatched(req)
	m.ActionDispatched(req)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.actionsInFlight))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.actionsDispatch.WithLabelValues("xiaohongshu", "like_post", "api")))

	m.ActionResolved(req, true)
	m.ActionResolved(req, false)
	m.ActionResolved(nil, true)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.actionsInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actionsResolved.WithLabelValues("xiaohongshu", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actionsResolved.WithLabelValues("xiaohongshu", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actionsResolved.WithLabelValues("unknown", "ok")))
}

func TestNotificationSent(t *testing.T) {
	m := New()
	m.NotificationSent(engine.NotifyApprovalRequested, nil)
	m.NotificationSent(engine.NotifyRunFailed, errors.New("telegram down"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("approval_requested", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("run_failed", "failed")))
}

func TestHandlerServesMetrics(t *testing.T) {
	m := New()
	m.RunStarted()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "socialflow_runs_started_total")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestInstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.RunStarted()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.runsStarted))
}
