package store

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/rendis/socialflow/pkg/schema"
)

// MemoryStore is the in-process fallback Store. Records are kept serialized
// so callers never share memory with the store.
type MemoryStore struct {
	mu      sync.Mutex
	runs    map[string][]byte
	pending map[string]*PendingAction
	queues  map[string][]string
	results *gocache.Cache
	now     func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*memoryConfig)

type memoryConfig struct {
	retention time.Duration
	now       func() time.Time
}

// WithResultRetention expires stored action results after d. Zero keeps them
// until the store is discarded.
func WithResultRetention(d time.Duration) MemoryOption {
	return func(c *memoryConfig) { c.retention = d }
}

// WithMemoryClock overrides time.Now.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(c *memoryConfig) { c.now = now }
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	cfg := memoryConfig{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	expiration := gocache.NoExpiration
	cleanup := 10 * time.Minute
	if cfg.retention > 0 {
		expiration = cfg.retention
		cleanup = min(cfg.retention, cleanup)
	}
	return &MemoryStore{
		runs:    make(map[string][]byte),
		pending: make(map[string]*PendingAction),
		queues:  make(map[string][]string),
		results: gocache.New(expiration, cleanup),
		now:     cfg.now,
	}
}

// Migrate is a no-op.
func (s *MemoryStore) Migrate(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// --- Runs ---

func (s *MemoryStore) SaveRun(ctx context.Context, run *schema.RunRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var stored int64
	if prev, ok := s.runs[run.ID]; ok {
		var meta struct {
			Version int64 `json:"version"`
		}
		if err := json.Unmarshal(prev, &meta); err != nil {
			return fmt.Errorf("unmarshal run: %w", err)
		}
		stored = meta.Version
	}
	if err := checkVersion(run.ID, stored, run.Version); err != nil {
		return err
	}
	s.runs[run.ID] = data
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, id string) (*schema.RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	data, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		return nil, runNotFound(id)
	}
	return decodeRun(data)
}

func (s *MemoryStore) ListRuns(ctx context.Context, filter RunFilter) ([]*schema.RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	blobs := make([][]byte, 0, len(s.runs))
	for _, data := range s.runs {
		blobs = append(blobs, data)
	}
	s.mu.Unlock()

	var runs []*schema.RunRecord
	for _, data := range blobs {
		r, err := decodeRun(data)
		if err != nil {
			return nil, err
		}
		if filter.match(r) {
			runs = append(runs, r)
		}
	}
	sortNewestFirst(runs)
	if filter.Limit > 0 && len(runs) > filter.Limit {
		runs = runs[:filter.Limit]
	}
	return runs, nil
}

// --- Pending actions ---

func (s *MemoryStore) SavePendingAction(ctx context.Context, req *schema.ActionRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp, err := schema.Clone(req)
	if err != nil {
		return fmt.Errorf("copy action request: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if pa, ok := s.pending[req.RequestID]; ok {
		pa.Request = *cp
		return nil
	}
	s.pending[req.RequestID] = &PendingAction{
		Request:    *cp,
		State:      PendingQueued,
		EnqueuedAt: s.now().UTC(),
	}
	s.queues[req.UserID] = append(s.queues[req.UserID], req.RequestID)
	return nil
}

func (s *MemoryStore) PopPendingAction(ctx context.Context, userID string) (*schema.ActionRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.queues[userID]
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		pa, ok := s.pending[id]
		if !ok || pa.State != PendingQueued {
			continue
		}
		now := s.now().UTC()
		pa.State = PendingClaimed
		pa.ClaimedAt = &now
		s.setQueue(userID, queue)
		return schema.Clone(&pa.Request)
	}
	s.setQueue(userID, nil)
	return nil, nil
}

func (s *MemoryStore) setQueue(userID string, queue []string) {
	if len(queue) == 0 {
		delete(s.queues, userID)
		return
	}
	s.queues[userID] = queue
}

func (s *MemoryStore) GetPendingAction(ctx context.Context, requestID string) (*PendingAction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	pa, ok := s.pending[requestID]
	s.mu.Unlock()
	if !ok {
		return nil, pendingNotFound(requestID)
	}
	return schema.Clone(pa)
}

func (s *MemoryStore) DeletePendingAction(ctx context.Context, requestID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pa, ok := s.pending[requestID]
	if !ok {
		return pendingNotFound(requestID)
	}
	delete(s.pending, requestID)
	if q := s.queues[pa.Request.UserID]; len(q) > 0 {
		s.setQueue(pa.Request.UserID, slices.DeleteFunc(q, func(id string) bool { return id == requestID }))
	}
	return nil
}

// --- Action results ---

func (s *MemoryStore) SaveActionResult(ctx context.Context, res *StoredResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp, err := schema.Clone(res)
	if err != nil {
		return fmt.Errorf("copy action result: %w", err)
	}
	if cp.ReceivedAt.IsZero() {
		cp.ReceivedAt = s.now().UTC()
	}
	s.results.Set(res.RequestID, cp, gocache.DefaultExpiration)
	return nil
}

func (s *MemoryStore) GetActionResult(ctx context.Context, requestID string) (*StoredResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := s.results.Get(requestID)
	if !ok {
		return nil, resultNotFound(requestID)
	}
	return schema.Clone(v.(*StoredResult))
}

func (s *MemoryStore) PruneActionResults(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.results.DeleteExpired()
	n := 0
	for id, item := range s.results.Items() {
		if res, ok := item.Object.(*StoredResult); ok && res.ReceivedAt.Before(before) {
			s.results.Delete(id)
			n++
		}
	}
	return n, nil
}

func decodeRun(data []byte) (*schema.RunRecord, error) {
	var r schema.RunRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &r, nil
}

func sortNewestFirst(runs []*schema.RunRecord) {
	slices.SortStableFunc(runs, func(a, b *schema.RunRecord) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
}
