package schema

import (
	"encoding/json"
	"time"
)

// TraceEventType tags the variant of a TraceEvent.
type TraceEventType string

const (
	TraceRunStarted           TraceEventType = "RunStarted"
	TraceNodeStarted          TraceEventType = "NodeStarted"
	TraceNodeCompleted        TraceEventType = "NodeCompleted"
	TraceActionRequested      TraceEventType = "ActionRequested"
	TraceActionResultReceived TraceEventType = "ActionResultReceived"
	TraceApprovalDecided      TraceEventType = "ApprovalDecided"
	TraceRunFinished          TraceEventType = "RunFinished"
)

// errorMarker is the OutputRef payload of a NodeCompleted event emitted for
// a node that failed: {"error":"<message>"}.
type errorMarker struct {
	Error string `json:"error"`
}

// OutputRef points a successful NodeCompleted event at the run output.
func OutputRef(nodeID string) string {
	return "outputs." + nodeID
}

// TraceEvent is one entry of a run's append-only trace. Which fields are
// populated depends on Type.
type TraceEvent struct {
	Type      TraceEventType `json:"t"`
	Seq       int64          `json:"seq,omitempty"`
	RunID     string         `json:"runId"`
	At        time.Time      `json:"at"`
	NodeID    string         `json:"nodeId,omitempty"`
	InputRef  string         `json:"inputRef,omitempty"`
	OutputRef string         `json:"outputRef,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
	Platform  Platform       `json:"platform,omitempty"`
	Action    ActionType     `json:"action,omitempty"`
	Mode      ExecutionMode  `json:"mode,omitempty"`
	OK        *bool          `json:"ok,omitempty"`
	Approved  *bool          `json:"approved,omitempty"`
	Status    RunStatus      `json:"status,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// NodeError returns the failure message of a NodeCompleted event carrying an
// error marker.
func (e TraceEvent) NodeError() (string, bool) {
	if e.Type != TraceNodeCompleted || e.OutputRef == "" || e.OutputRef[0] != '{' {
		return "", false
	}
	var m errorMarker
	if err := json.Unmarshal([]byte(e.OutputRef), &m); err != nil || m.Error == "" {
		return "", false
	}
	return m.Error, true
}

func RunStartedEvent(runID string, at time.Time) TraceEvent {
	return TraceEvent{Type: TraceRunStarted, RunID: runID, At: at}
}

func NodeStartedEvent(runID, nodeID, inputRef string, at time.Time) TraceEvent {
	return TraceEvent{Type: TraceNodeStarted, RunID: runID, NodeID: nodeID, InputRef: inputRef, At: at}
}

func NodeCompletedEvent(runID, nodeID, outputRef string, at time.Time) TraceEvent {
	return TraceEvent{Type: TraceNodeCompleted, RunID: runID, NodeID: nodeID, OutputRef: outputRef, At: at}
}

// NodeFailedEvent is a NodeCompleted event whose OutputRef carries the
// serialized error marker.
func NodeFailedEvent(runID, nodeID, message string, at time.Time) TraceEvent {
	marker, _ := json.Marshal(errorMarker{Error: message})
	return TraceEvent{
		Type:      TraceNodeCompleted,
		RunID:     runID,
		NodeID:    nodeID,
		OutputRef: string(marker),
		At:        at,
	}
}

func ActionRequestedEvent(req *ActionRequest, at time.Time) TraceEvent {
	return TraceEvent{
		Type:      TraceActionRequested,
		RunID:     req.TraceContext.RunID,
		NodeID:    req.TraceContext.NodeID,
		RequestID: req.RequestID,
		Platform:  req.Platform,
		Action:    req.Action,
		Mode:      req.Mode,
		At:        at,
	}
}

func ActionResultReceivedEvent(runID, requestID string, res *ActionResult, at time.Time) TraceEvent {
	ok := res.OK
	ev := TraceEvent{
		Type:      TraceActionResultReceived,
		RunID:     runID,
		RequestID: requestID,
		OK:        &ok,
		At:        at,
	}
	if res.Error != nil {
		ev.Error = res.Error.Message
	}
	return ev
}

func ApprovalDecidedEvent(runID string, approved bool, at time.Time) TraceEvent {
	return TraceEvent{Type: TraceApprovalDecided, RunID: runID, Approved: &approved, At: at}
}

func RunFinishedEvent(runID string, status RunStatus, errMsg string, at time.Time) TraceEvent {
	return TraceEvent{Type: TraceRunFinished, RunID: runID, Status: status, Error: errMsg, At: at}
}
