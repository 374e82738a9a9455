package httpapi

import (
	"net/http"
	"strings"

	"github.com/rendis/socialflow/internal/diagram"
	"github.com/rendis/socialflow/internal/store"
	"github.com/rendis/socialflow/pkg/schema"
)

const defaultListLimit = 50

// handleStartRun starts a run from {graph, input, runId?}.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Graph schema.WorkflowGraph `json:"graph"`
		Input any                  `json:"input"`
		RunID string               `json:"runId"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeErr(w, err)
		return
	}

	rec, err := s.deps.Orchestrator.StartRun(r.Context(), body.Graph, body.Input, body.RunID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// handleListRuns lists runs, newest first. ?status= takes a comma-separated
// list of statuses.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil {
		writeErr(w, err)
		return
	}
	filter := store.RunFilter{Limit: limit}
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st := schema.RunStatus(strings.TrimSpace(part))
			if !st.Valid() {
				writeError(w, http.StatusBadRequest, schema.ErrCodeValidation, "unknown status "+string(st))
				return
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}

	runs, err := s.deps.Orchestrator.ListRuns(r.Context(), filter)
	if err != nil {
		writeErr(w, err)
		return
	}
	if runs == nil {
		runs = []*schema.RunRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Orchestrator.GetRunState(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleApprove resolves an approval gate from {approved}.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Approved *bool `json:"approved"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeErr(w, err)
		return
	}
	if body.Approved == nil {
		writeError(w, http.StatusBadRequest, schema.ErrCodeValidation, "approved is required")
		return
	}

	rec, err := s.deps.Orchestrator.Approve(r.Context(), r.PathValue("id"), *body.Approved)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleRunActionResult applies {requestId, result} to the run named in the
// path. Unlike POST /actions/{requestId}/result a mismatched run state is
// reported.
func (s *Server) handleRunActionResult(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RequestID string               `json:"requestId"`
		Result    *schema.ActionResult `json:"result"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeErr(w, err)
		return
	}
	if body.RequestID == "" {
		writeError(w, http.StatusBadRequest, schema.ErrCodeValidation, "requestId is required")
		return
	}

	rec, err := s.deps.Orchestrator.ActionResult(r.Context(), r.PathValue("id"), body.RequestID, body.Result)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleEnqueueAction queues a direct action outside any run.
func (s *Server) handleEnqueueAction(w http.ResponseWriter, r *http.Request) {
	var req schema.ActionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeErr(w, err)
		return
	}

	id, err := s.deps.Orchestrator.EnqueueAction(r.Context(), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"requestId": id})
}

// handlePollAction claims the next queued action of ?userId=.
func (s *Server) handlePollAction(w http.ResponseWriter, r *http.Request) {
	req, err := s.deps.Orchestrator.PollPendingAction(r.Context(), r.URL.Query().Get("userId"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if req == nil {
		writeJSON(w, http.StatusOK, map[string]any{"pending": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": true, "action": req})
}

// handleReportResult is the executor callback: {result, runId?}.
func (s *Server) handleReportResult(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Result *schema.ActionResult `json:"result"`
		RunID  string               `json:"runId"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeErr(w, err)
		return
	}
	if body.Result == nil {
		writeError(w, http.StatusBadRequest, schema.ErrCodeValidation, "result is required")
		return
	}

	res, err := s.deps.Orchestrator.ReportActionResult(r.Context(), r.PathValue("requestId"), body.Result, body.RunID)
	if err != nil {
		writeErr(w, err)
		return
	}
	out := map[string]any{"ok": true}
	if res.RunID != "" {
		out["runId"] = res.RunID
	}
	if res.Run != nil {
		out["status"] = res.Run.Status
	}
	if res.Duplicate {
		out["duplicate"] = true
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetActionResult(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Orchestrator.GetActionResult(r.Context(), r.PathValue("requestId"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleRunDiagram renders the run's graph with per-node status as
// ?format=mermaid (default) or ascii.
func (s *Server) handleRunDiagram(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Orchestrator.GetRunState(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	out, err := diagram.Render(diagram.Build(rec.Graph, rec), r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, schema.ErrCodeValidation, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(out))
}

func (s *Server) handleListNodes(w http.ResponseWriter, _ *http.Request) {
	types := []string{}
	if s.deps.NodeTypes != nil {
		types = s.deps.NodeTypes()
	}
	writeJSON(w, http.StatusOK, map[string]any{"types": types})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
