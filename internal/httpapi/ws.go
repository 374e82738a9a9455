package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rendis/socialflow/internal/streaming"
	"github.com/rendis/socialflow/pkg/schema"
)

const writeWait = 10 * time.Second

// handleTraceWS streams a run's trace over a websocket: the events
// committed so far, then live events as they are committed. The server
// closes the socket after RunFinished.
func (s *Server) handleTraceWS(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribe before reading the record so no event falls between the two.
	events, unsubscribe, err := s.deps.Orchestrator.Events().Subscribe(ctx, streaming.EventFilter{RunID: runID})
	if err != nil {
		s.deps.Logger.ErrorContext(ctx, "trace subscribe failed", "run_id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, schema.ErrCodeStore, "subscribe failed")
		return
	}
	defer unsubscribe()

	rec, err := s.deps.Orchestrator.GetRunState(ctx, runID)
	if err != nil {
		writeErr(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.deps.Logger.WarnContext(ctx, "websocket upgrade failed", "run_id", runID, "error", err)
		return
	}
	defer conn.Close()

	// Drain client frames so control messages are processed; any read
	// error means the client is gone.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var lastSeq int64
	for _, ev := range rec.Trace {
		if err := writeEvent(conn, ev); err != nil {
			return
		}
		lastSeq = ev.Seq
	}
	if rec.Status.IsTerminal() {
		closeNormal(conn, "run "+string(rec.Status))
		return
	}

	ping := time.NewTicker(s.pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				closeNormal(conn, "stream closed")
				return
			}
			if ev.Seq != 0 && ev.Seq <= lastSeq {
				continue
			}
			if err := writeEvent(conn, ev); err != nil {
				return
			}
			lastSeq = ev.Seq
			if ev.Type == schema.TraceRunFinished {
				closeNormal(conn, "run "+string(ev.Status))
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev schema.TraceEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ev)
}

func closeNormal(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
