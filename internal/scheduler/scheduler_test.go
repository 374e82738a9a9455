package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/socialflow/internal/store"
	"github.com/rendis/socialflow/pkg/schema"
)

// mockExpirer keeps runs in a map and applies Expire the way the
// orchestrator does.
type mockExpirer struct {
	mu      sync.Mutex
	runs    map[string]*schema.RunRecord
	expired []string
	listErr error
}

func newMockExpirer() *mockExpirer {
	return &mockExpirer{runs: make(map[string]*schema.RunRecord)}
}

func (m *mockExpirer) add(id string, status schema.RunStatus, since time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[id] = &schema.RunRecord{ID: id, Status: status, WaitingSince: &since}
}

func (m *mockExpirer) ListRuns(_ context.Context, filter store.RunFilter) ([]*schema.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*schema.RunRecord
	for _, r := range m.runs {
		for _, st := range filter.Statuses {
			if r.Status == st {
				cp := *r
				out = append(out, &cp)
			}
		}
	}
	return out, nil
}

func (m *mockExpirer) Expire(_ context.Context, runID, reason string) (*schema.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return nil, schema.NewError(schema.ErrCodeNotFound, "no run")
	}
	if !r.Status.IsWaiting() {
		return nil, schema.NewError(schema.ErrCodeNotWaiting, "not waiting")
	}
	r.Status = schema.RunStatusFailed
	r.Error = "expired: " + reason
	m.expired = append(m.expired, runID)
	return r, nil
}

func (m *mockExpirer) expiredCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.expired)
}

type mockPruner struct {
	before time.Time
	n      int
	err    error
}

func (p *mockPruner) PruneActionResults(_ context.Context, before time.Time) (int, error) {
	p.before = before
	return p.n, p.err
}

var sweepNow = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

func newTestSweeper(runs RunExpirer, pruner ResultPruner, cfg Config) *ExpirySweeper {
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return sweepNow }
	}
	return NewExpirySweeper(runs, pruner, cfg, slog.Default())
}

// --- Tests ---

func TestSweepExpiresOverdueRuns(t *testing.T) {
	runs := newMockExpirer()
	runs.add("approval-old", schema.RunStatusWaitingApproval, sweepNow.Add(-2*time.Hour))
	runs.add("approval-new", schema.RunStatusWaitingApproval, sweepNow.Add(-10*time.Minute))
	runs.add("action-old", schema.RunStatusWaitingAction, sweepNow.Add(-31*time.Minute))
	runs.add("action-new", schema.RunStatusWaitingAction, sweepNow.Add(-time.Minute))

	sweeper := newTestSweeper(runs, nil, Config{ApprovalTTL: time.Hour, ActionTTL: 30 * time.Minute})
	report, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"approval-old", "action-old"}, report.Expired)
	assert.Equal(t, "expired: no approval decision within 1h0m0s", runs.runs["approval-old"].Error)
	assert.Equal(t, "expired: no action result within 30m0s", runs.runs["action-old"].Error)
	assert.Equal(t, schema.RunStatusWaitingApproval, runs.runs["approval-new"].Status)
	assert.Equal(t, schema.RunStatusWaitingAction, runs.runs["action-new"].Status)
}

func TestSweepZeroTTLNeverExpires(t *testing.T) {
	runs := newMockExpirer()
	runs.add("approval", schema.RunStatusWaitingApproval, sweepNow.Add(-24*time.Hour))
	runs.add("action", schema.RunStatusWaitingAction, sweepNow.Add(-24*time.Hour))

	sweeper := newTestSweeper(runs, nil, Config{ActionTTL: time.Hour})
	report, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"action"}, report.Expired)
	assert.Equal(t, schema.RunStatusWaitingApproval, runs.runs["approval"].Status)
}

func TestSweepSkipsRunsWithoutWaitingSince(t *testing.T) {
	runs := newMockExpirer()
	runs.runs["legacy"] = &schema.RunRecord{ID: "legacy", Status: schema.RunStatusWaitingAction}

	sweeper := newTestSweeper(runs, nil, Config{ActionTTL: time.Minute})
	report, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Expired)
}

func TestSweepListError(t *testing.T) {
	runs := newMockExpirer()
	runs.listErr = errors.New("db down")

	sweeper := newTestSweeper(runs, nil, Config{ActionTTL: time.Minute})
	_, err := sweeper.Sweep(context.Background())
	require.Error(t, err)
}

func TestSweepPrunesResults(t *testing.T) {
	pruner := &mockPruner{n: 3}
	sweeper := newTestSweeper(newMockExpirer(), pruner, Config{ResultRetention: 24 * time.Hour})

	report, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Pruned)
	assert.Equal(t, sweepNow.Add(-24*time.Hour), pruner.before)
}

func TestSweepPrunesMemoryStore(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	require.NoError(t, ms.SaveActionResult(ctx, &store.StoredResult{
		RequestID: "old", Result: schema.ActionResult{OK: true}, ReceivedAt: sweepNow.Add(-48 * time.Hour),
	}))
	require.NoError(t, ms.SaveActionResult(ctx, &store.StoredResult{
		RequestID: "fresh", Result: schema.ActionResult{OK: true}, ReceivedAt: sweepNow.Add(-time.Hour),
	}))

	sweeper := newTestSweeper(newMockExpirer(), ms, Config{ResultRetention: 24 * time.Hour})
	report, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pruned)

	_, err = ms.GetActionResult(ctx, "old")
	assert.True(t, schema.IsNotFound(err))
	_, err = ms.GetActionResult(ctx, "fresh")
	assert.NoError(t, err)
}

func TestEnabled(t *testing.T) {
	assert.False(t, newTestSweeper(newMockExpirer(), nil, Config{}).Enabled())
	assert.False(t, newTestSweeper(newMockExpirer(), nil, Config{ResultRetention: time.Hour}).Enabled())
	assert.True(t, newTestSweeper(newMockExpirer(), &mockPruner{}, Config{ResultRetention: time.Hour}).Enabled())
	assert.True(t, newTestSweeper(newMockExpirer(), nil, Config{ApprovalTTL: time.Hour}).Enabled())
}

func TestStartRejectsBadSchedule(t *testing.T) {
	sweeper := newTestSweeper(newMockExpirer(), nil, Config{Schedule: "invalid cron", ActionTTL: time.Minute})
	require.Error(t, sweeper.Start(context.Background()))
}

func TestStartRunsOnSchedule(t *testing.T) {
	runs := newMockExpirer()
	runs.add("stuck", schema.RunStatusWaitingAction, time.Now().Add(-time.Hour))

	sweeper := NewExpirySweeper(runs, nil, Config{Schedule: "@every 1s", ActionTTL: time.Minute}, slog.Default())
	require.NoError(t, sweeper.Start(context.Background()))
	require.Error(t, sweeper.Start(context.Background()), "double start")

	require.Eventually(t, func() bool { return runs.expiredCount() == 1 }, 5*time.Second, 50*time.Millisecond)

	sweeper.Stop()
	sweeper.Stop()
}
