package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rendis/socialflow/pkg/schema"
)

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// appendTrace stores the events of trace that are newer than the stored
// tail. Sequence numbers must continue the stored log without gaps.
func appendTrace(ctx context.Context, tx *sql.Tx, runID string, trace []schema.TraceEvent) error {
	var last int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM trace_events WHERE run_id = ?`, runID,
	).Scan(&last); err != nil {
		return fmt.Errorf("get trace tail: %w", err)
	}
	if int64(len(trace)) < last {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"run %s: trace has %d events, %d already stored", runID, len(trace), last).WithRun(runID)
	}

	for _, ev := range trace[last:] {
		expected := last + 1
		if ev.Seq != expected {
			return schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, expected, ev.Seq).WithRun(runID)
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal trace event: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO trace_events (run_id, sequence, event_type, node_id, request_id, payload, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID, ev.Seq, string(ev.Type), nullStr(ev.NodeID), nullStr(ev.RequestID), string(payload),
			unixNano(timeOrNow(ev.At)),
		); err != nil {
			return fmt.Errorf("insert trace event: %w", err)
		}
		last = expected
	}
	return nil
}

// loadTrace returns the trace of runID ordered by sequence. Gaps are
// reported as STORE_ERROR.
func loadTrace(ctx context.Context, q queryer, runID string) ([]schema.TraceEvent, error) {
	return traceSince(ctx, q, runID, 0)
}

func traceSince(ctx context.Context, q queryer, runID string, since int64) ([]schema.TraceEvent, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT sequence, payload FROM trace_events WHERE run_id = ? AND sequence > ? ORDER BY sequence ASC`,
		runID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("query trace: %w", err)
	}
	defer rows.Close()

	var events []schema.TraceEvent
	expected := since + 1
	for rows.Next() {
		var (
			seq     int64
			payload string
		)
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, err
		}
		if seq != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, expected, seq).WithRun(runID)
		}
		var ev schema.TraceEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("unmarshal trace event: %w", err)
		}
		events = append(events, ev)
		expected++
	}
	return events, rows.Err()
}

// TraceSince returns the stored trace events of runID with sequence greater
// than since.
func (s *LibSQLStore) TraceSince(ctx context.Context, runID string, since int64) ([]schema.TraceEvent, error) {
	return traceSince(ctx, s.db, runID, since)
}
