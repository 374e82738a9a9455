package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/socialflow/pkg/schema"
)

type recordingNotifier struct {
	approvals []string
	failures  []string
	err       error
}

func (r *recordingNotifier) NotifyApprovalRequested(_ context.Context, run *schema.RunRecord) error {
	r.approvals = append(r.approvals, run.ID)
	return r.err
}

func (r *recordingNotifier) NotifyRunFailed(_ context.Context, run *schema.RunRecord) error {
	r.failures = append(r.failures, run.ID)
	return r.err
}

func TestCombine(t *testing.T) {
	assert.Nil(t, Combine())
	assert.Nil(t, Combine(nil, nil))

	one := &recordingNotifier{}
	assert.Same(t, one, Combine(nil, one))

	two := &recordingNotifier{}
	combined := Combine(one, two)
	require.IsType(t, Multi{}, combined)
	assert.Len(t, combined.(Multi), 2)
}

func TestMultiCallsEveryNotifier(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("chat down")}
	ok := &recordingNotifier{}
	m := Multi{failing, ok}
	run := &schema.RunRecord{ID: "run-1"}

	err := m.NotifyApprovalRequested(context.Background(), run)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat down")
	assert.Equal(t, []string{"run-1"}, failing.approvals)
	assert.Equal(t, []string{"run-1"}, ok.approvals)

	failing.err = nil
	assert.NoError(t, m.NotifyRunFailed(context.Background(), run))
	assert.Equal(t, []string{"run-1"}, ok.failures)
}
