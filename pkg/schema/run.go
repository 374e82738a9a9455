package schema

import (
	"fmt"
	"slices"
	"time"
)

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	RunStatusRunning         RunStatus = "running"
	RunStatusWaitingApproval RunStatus = "waiting_approval"
	RunStatusWaitingAction   RunStatus = "waiting_action"
	RunStatusCompleted       RunStatus = "completed"
	RunStatusFailed          RunStatus = "failed"
)

// IsTerminal reports whether no further transitions are possible.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// IsWaiting reports whether the run is suspended on external input.
func (s RunStatus) IsWaiting() bool {
	return s == RunStatusWaitingApproval || s == RunStatusWaitingAction
}

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusRunning, RunStatusWaitingApproval, RunStatusWaitingAction,
		RunStatusCompleted, RunStatusFailed:
		return true
	}
	return false
}

// RejectedError is the error recorded on a run whose approval was denied.
const RejectedError = "rejected"

// ApprovedPayloadKey is the outputs key holding the approved content.
const ApprovedPayloadKey = "approvedPayload"

// RunRecord is the persisted state of one workflow run.
type RunRecord struct {
	ID                string                   `json:"id"`
	Graph             WorkflowGraph            `json:"graph"`
	Input             any                      `json:"input,omitempty"`
	Status            RunStatus                `json:"status"`
	Outputs           map[string]any           `json:"outputs,omitempty"`
	Trace             []TraceEvent             `json:"trace"`
	PendingApproval   any                      `json:"pendingApproval,omitempty"`
	AwaitingActionIDs []string                 `json:"awaitingActionIds,omitempty"`
	ActionResults     map[string]*ActionResult `json:"actionResults,omitempty"`
	Error             string                   `json:"error,omitempty"`
	Version           int64                    `json:"version"`
	CreatedAt         time.Time                `json:"createdAt"`
	UpdatedAt         time.Time                `json:"updatedAt"`
	WaitingSince      *time.Time               `json:"waitingSince,omitempty"`
}

// Append adds ev to the trace, assigning the next sequence number.
func (r *RunRecord) Append(ev TraceEvent) TraceEvent {
	ev.Seq = int64(len(r.Trace)) + 1
	if ev.RunID == "" {
		ev.RunID = r.ID
	}
	r.Trace = append(r.Trace, ev)
	return ev
}

// IsAwaiting reports whether requestID is still outstanding.
func (r *RunRecord) IsAwaiting(requestID string) bool {
	return slices.Contains(r.AwaitingActionIDs, requestID)
}

// Validate checks the structural invariants tying status to the optional
// fields. It is run before every persisted write.
func (r *RunRecord) Validate() error {
	if r.ID == "" {
		return NewError(ErrCodeValidation, "run id is required")
	}
	if !r.Status.Valid() {
		return NewErrorf(ErrCodeValidation, "run %s: unknown status %q", r.ID, r.Status)
	}
	if (r.Status == RunStatusWaitingApproval) != (r.PendingApproval != nil) {
		return NewErrorf(ErrCodeValidation, "run %s: pendingApproval must be set exactly when waiting_approval (status %s)", r.ID, r.Status)
	}
	if (r.Status == RunStatusWaitingAction) != (len(r.AwaitingActionIDs) > 0) {
		return NewErrorf(ErrCodeValidation, "run %s: awaitingActionIds must be non-empty exactly when waiting_action (status %s)", r.ID, r.Status)
	}
	if (r.Status == RunStatusFailed) != (r.Error != "") {
		return NewErrorf(ErrCodeValidation, "run %s: error must be set exactly when failed (status %s)", r.ID, r.Status)
	}
	if len(r.Trace) == 0 || r.Trace[0].Type != TraceRunStarted {
		return NewErrorf(ErrCodeValidation, "run %s: trace must begin with %s", r.ID, TraceRunStarted)
	}
	for i, ev := range r.Trace {
		if ev.Seq != int64(i)+1 {
			return NewErrorf(ErrCodeValidation, "run %s: trace sequence gap at %d", r.ID, i+1)
		}
	}
	return nil
}

// Summary is a short human-readable description used in notifications.
func (r *RunRecord) Summary() string {
	if r.Error != "" {
		return fmt.Sprintf("run %s %s: %s", r.ID, r.Status, r.Error)
	}
	return fmt.Sprintf("run %s %s", r.ID, r.Status)
}
