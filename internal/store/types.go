package store

import (
	"slices"
	"time"

	"github.com/rendis/socialflow/pkg/schema"
)

// PendingState is the lifecycle of a pending action inside the store.
type PendingState string

const (
	// PendingQueued actions are visible to PopPendingAction.
	PendingQueued PendingState = "queued"
	// PendingClaimed actions were handed to an executor and stay retrievable
	// by request id until their result arrives.
	PendingClaimed PendingState = "claimed"
)

// PendingAction is a dispatched ActionRequest awaiting its result.
type PendingAction struct {
	Request    schema.ActionRequest `json:"request"`
	State      PendingState         `json:"state"`
	EnqueuedAt time.Time            `json:"enqueued_at"`
	ClaimedAt  *time.Time           `json:"claimed_at,omitempty"`
}

// StoredResult is an action result kept for later retrieval, whether or not
// it belonged to a run.
type StoredResult struct {
	RequestID  string              `json:"request_id"`
	RunID      string              `json:"run_id,omitempty"`
	Result     schema.ActionResult `json:"result"`
	ReceivedAt time.Time           `json:"received_at"`
}

// RunFilter specifies criteria for listing runs. Results are ordered newest
// first.
type RunFilter struct {
	Statuses []schema.RunStatus `json:"statuses,omitempty"`
	Limit    int                `json:"limit,omitempty"`
}

func (f RunFilter) match(r *schema.RunRecord) bool {
	return len(f.Statuses) == 0 || slices.Contains(f.Statuses, r.Status)
}

func runNotFound(id string) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "run %q not found", id)
}

func pendingNotFound(id string) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "pending action %q not found", id)
}

func resultNotFound(id string) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "action result %q not found", id)
}

// versionConflict reports an out-of-order write. Runs are written with
// Version = stored Version + 1.
func versionConflict(id string, stored, got int64) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeConflict, "run %q: version %d does not follow stored version %d", id, got, stored).
		WithRun(id)
}

func checkVersion(id string, stored, got int64) error {
	if got != stored+1 {
		return versionConflict(id, stored, got)
	}
	return nil
}
