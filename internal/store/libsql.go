package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/socialflow/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db, now: time.Now}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Runs ---

// SaveRun writes the run row and appends the trace events not yet stored,
// in one transaction.
func (s *LibSQLStore) SaveRun(ctx context.Context, run *schema.RunRecord) error {
	row := *run
	row.Trace = nil
	record, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save run: %w", err)
	}
	defer tx.Rollback()

	var stored int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM runs WHERE id = ?`, run.ID).Scan(&stored)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read run version: %w", err)
	}
	if err := checkVersion(run.ID, stored, run.Version); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, status, version, record, created_at, updated_at, waiting_since)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status=excluded.status, version=excluded.version,
		   record=excluded.record, updated_at=excluded.updated_at, waiting_since=excluded.waiting_since`,
		run.ID, string(run.Status), run.Version, string(record),
		unixNano(timeOrNow(run.CreatedAt)), unixNano(timeOrNow(run.UpdatedAt)), nullUnix(run.WaitingSince),
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}

	if err := appendTrace(ctx, tx, run.ID, run.Trace); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*schema.RunRecord, error) {
	var record string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM runs WHERE id = ?`, id).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, runNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return s.hydrate(ctx, record)
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*schema.RunRecord, error) {
	query := `SELECT record FROM runs`
	var args []any
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY created_at DESC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var records []string
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			rows.Close()
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Traces are loaded after the cursor is closed: the pool holds a single
	// connection.
	runs := make([]*schema.RunRecord, 0, len(records))
	for _, record := range records {
		r, err := s.hydrate(ctx, record)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, nil
}

func (s *LibSQLStore) hydrate(ctx context.Context, record string) (*schema.RunRecord, error) {
	var r schema.RunRecord
	if err := json.Unmarshal([]byte(record), &r); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	trace, err := loadTrace(ctx, s.db, r.ID)
	if err != nil {
		return nil, err
	}
	r.Trace = trace
	return &r, nil
}

// --- Pending actions ---

func (s *LibSQLStore) SavePendingAction(ctx context.Context, req *schema.ActionRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal action request: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pending_actions (request_id, user_id, run_id, state, request, enqueued_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(request_id) DO UPDATE SET user_id=excluded.user_id, run_id=excluded.run_id, request=excluded.request`,
		req.RequestID, req.UserID, nullStr(req.TraceContext.RunID), string(PendingQueued), string(data),
		unixNano(s.now().UTC()),
	)
	return err
}

// PopPendingAction claims the oldest queued action of userID. It returns
// nil, nil when the queue is empty.
func (s *LibSQLStore) PopPendingAction(ctx context.Context, userID string) (*schema.ActionRequest, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin pop: %w", err)
	}
	defer tx.Rollback()

	if err := lockForWrite(ctx, tx); err != nil {
		return nil, err
	}

	var id, data string
	err = tx.QueryRowContext(ctx,
		`SELECT request_id, request FROM pending_actions
		 WHERE user_id = ? AND state = ? ORDER BY rowid ASC LIMIT 1`,
		userID, string(PendingQueued),
	).Scan(&id, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select pending action: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE pending_actions SET state = ?, claimed_at = ? WHERE request_id = ?`,
		string(PendingClaimed), unixNano(s.now().UTC()), id,
	); err != nil {
		return nil, fmt.Errorf("claim pending action: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit pop: %w", err)
	}

	var req schema.ActionRequest
	if err := json.Unmarshal([]byte(data), &req); err != nil {
		return nil, fmt.Errorf("unmarshal action request: %w", err)
	}
	return &req, nil
}

func (s *LibSQLStore) GetPendingAction(ctx context.Context, requestID string) (*PendingAction, error) {
	var (
		data, state string
		enqueued    int64
		claimed     sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT request, state, enqueued_at, claimed_at FROM pending_actions WHERE request_id = ?`, requestID,
	).Scan(&data, &state, &enqueued, &claimed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pendingNotFound(requestID)
	}
	if err != nil {
		return nil, err
	}
	pa := &PendingAction{State: PendingState(state), EnqueuedAt: fromUnix(enqueued)}
	if err := json.Unmarshal([]byte(data), &pa.Request); err != nil {
		return nil, fmt.Errorf("unmarshal action request: %w", err)
	}
	if claimed.Valid {
		t := fromUnix(claimed.Int64)
		pa.ClaimedAt = &t
	}
	return pa, nil
}

func (s *LibSQLStore) DeletePendingAction(ctx context.Context, requestID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_actions WHERE request_id = ?`, requestID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, pendingNotFound(requestID))
}

// --- Action results ---

func (s *LibSQLStore) SaveActionResult(ctx context.Context, res *StoredResult) error {
	data, err := json.Marshal(res.Result)
	if err != nil {
		return fmt.Errorf("marshal action result: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO action_results (request_id, run_id, result, received_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(request_id) DO UPDATE SET run_id=excluded.run_id, result=excluded.result, received_at=excluded.received_at`,
		res.RequestID, nullStr(res.RunID), string(data), unixNano(timeOrNow(res.ReceivedAt)),
	)
	return err
}

func (s *LibSQLStore) GetActionResult(ctx context.Context, requestID string) (*StoredResult, error) {
	var (
		runID    sql.NullString
		data     string
		received int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, result, received_at FROM action_results WHERE request_id = ?`, requestID,
	).Scan(&runID, &data, &received)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, resultNotFound(requestID)
	}
	if err != nil {
		return nil, err
	}
	res := &StoredResult{RequestID: requestID, RunID: runID.String, ReceivedAt: fromUnix(received)}
	if err := json.Unmarshal([]byte(data), &res.Result); err != nil {
		return nil, fmt.Errorf("unmarshal action result: %w", err)
	}
	return res, nil
}

func (s *LibSQLStore) PruneActionResults(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM action_results WHERE received_at < ?`, unixNano(before))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// --- helpers ---

// lockForWrite forces the transaction to take the write lock up front. In
// WAL mode BeginTx alone may start a deferred transaction.
func lockForWrite(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}
	return nil
}

func checkRowsAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func unixNano(t time.Time) int64 { return t.UnixNano() }

func fromUnix(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
