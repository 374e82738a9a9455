package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rendis/socialflow/pkg/schema"
)

// RedisStore implements Store on Redis so several orchestrator processes can
// share runs and pending actions. Runs are JSON documents written under
// optimistic locking (WATCH/MULTI); each user's pending queue is a list.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
	now       func() time.Time
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix sets the key prefix for Redis keys.
// Default is "socialflow".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithRetention sets the time-to-live of stored action results.
// Zero keeps them forever.
func WithRetention(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.retention = d }
}

// NewRedisStore creates a Redis-backed store. The store owns the client and
// closes it on Close.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: "socialflow", now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate verifies connectivity; Redis is schemaless.
func (s *RedisStore) Migrate(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) runKey(id string) string { return s.prefix + ":run:" + id }
func (s *RedisStore) runIndexKey() string { return s.prefix + ":runs" }
func (s *RedisStore) actionKey(requestID string) string { return s.prefix + ":action:" + requestID }
func (s *RedisStore) queueKey(userID string) string { return s.prefix + ":queue:" + userID }
func (s *RedisStore) resultKey(requestID string) string { return s.prefix + ":result:" + requestID }
func (s *RedisStore) resultIndexKey() string { return s.prefix + ":results" }

// --- Runs ---

func (s *RedisStore) SaveRun(ctx context.Context, run *schema.RunRecord) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	key := s.runKey(run.ID)

	txf := func(tx *redis.Tx) error {
		var stored int64
		prev, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("redis get run: %w", err)
		default:
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
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, s.runIndexKey(), redis.Z{Score: float64(run.CreatedAt.UnixMilli()), Member: run.ID})
			return nil
		})
		return err
	}

	err = s.client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return schema.NewErrorf(schema.ErrCodeConflict, "run %q modified concurrently", run.ID).WithRun(run.ID).WithCause(err)
	}
	return err
}

func (s *RedisStore) GetRun(ctx context.Context, id string) (*schema.RunRecord, error) {
	data, err := s.client.Get(ctx, s.runKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, runNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get run: %w", err)
	}
	return decodeRun(data)
}

func (s *RedisStore) ListRuns(ctx context.Context, filter RunFilter) ([]*schema.RunRecord, error) {
	ids, err := s.client.ZRevRange(ctx, s.runIndexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list runs: %w", err)
	}
	var runs []*schema.RunRecord
	for _, id := range ids {
		r, err := s.GetRun(ctx, id)
		if schema.IsNotFound(err) {
			continue
		}
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

func (s *RedisStore) SavePendingAction(ctx context.Context, req *schema.ActionRequest) error {
	key := s.actionKey(req.RequestID)

	txf := func(tx *redis.Tx) error {
		pa, err := s.loadPending(ctx, tx, req.RequestID)
		fresh := schema.IsNotFound(err)
		if err != nil && !fresh {
			return err
		}
		if fresh {
			pa = &PendingAction{State: PendingQueued, EnqueuedAt: s.now().UTC()}
		}
		pa.Request = *req
		data, err := json.Marshal(pa)
		if err != nil {
			return fmt.Errorf("marshal pending action: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if fresh {
				pipe.RPush(ctx, s.queueKey(req.UserID), req.RequestID)
			}
			return nil
		})
		return err
	}
	return s.watch(ctx, txf, key, req.RequestID)
}

// PopPendingAction claims the oldest queued action of userID. Stale queue
// entries (deleted or already claimed) are skipped. It returns nil, nil when
// the queue is empty.
func (s *RedisStore) PopPendingAction(ctx context.Context, userID string) (*schema.ActionRequest, error) {
	for {
		id, err := s.client.LPop(ctx, s.queueKey(userID)).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("redis pop queue: %w", err)
		}

		var claimed *schema.ActionRequest
		key := s.actionKey(id)
		txf := func(tx *redis.Tx) error {
			pa, err := s.loadPending(ctx, tx, id)
			if schema.IsNotFound(err) {
				return nil
			}
			if err != nil {
				return err
			}
			if pa.State != PendingQueued {
				return nil
			}
			now := s.now().UTC()
			pa.State = PendingClaimed
			pa.ClaimedAt = &now
			data, err := json.Marshal(pa)
			if err != nil {
				return fmt.Errorf("marshal pending action: %w", err)
			}
			if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				return nil
			}); err != nil {
				return err
			}
			claimed = &pa.Request
			return nil
		}
		if err := s.watch(ctx, txf, key, id); err != nil {
			// Put the entry back so a later poll can claim it.
			if perr := s.client.LPush(ctx, s.queueKey(userID), id).Err(); perr != nil {
				err = errors.Join(err, fmt.Errorf("redis requeue %s: %w", id, perr))
			}
			return nil, err
		}
		if claimed != nil {
			return claimed, nil
		}
	}
}

func (s *RedisStore) GetPendingAction(ctx context.Context, requestID string) (*PendingAction, error) {
	return s.loadPending(ctx, s.client, requestID)
}

func (s *RedisStore) DeletePendingAction(ctx context.Context, requestID string) error {
	pa, err := s.loadPending(ctx, s.client, requestID)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.actionKey(requestID))
	pipe.LRem(ctx, s.queueKey(pa.Request.UserID), 0, requestID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete pending action: %w", err)
	}
	return nil
}

func (s *RedisStore) loadPending(ctx context.Context, c redis.Cmdable, requestID string) (*PendingAction, error) {
	data, err := c.Get(ctx, s.actionKey(requestID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, pendingNotFound(requestID)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get pending action: %w", err)
	}
	var pa PendingAction
	if err := json.Unmarshal(data, &pa); err != nil {
		return nil, fmt.Errorf("unmarshal pending action: %w", err)
	}
	return &pa, nil
}

func (s *RedisStore) watch(ctx context.Context, txf func(*redis.Tx) error, key, id string) error {
	err := s.client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return schema.NewErrorf(schema.ErrCodeConflict, "pending action %q modified concurrently", id).WithCause(err)
	}
	return err
}

// --- Action results ---

func (s *RedisStore) SaveActionResult(ctx context.Context, res *StoredResult) error {
	cp := *res
	if cp.ReceivedAt.IsZero() {
		cp.ReceivedAt = s.now().UTC()
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal action result: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.resultKey(res.RequestID), data, s.retention)
	pipe.ZAdd(ctx, s.resultIndexKey(), redis.Z{Score: float64(cp.ReceivedAt.UnixMilli()), Member: res.RequestID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save action result: %w", err)
	}
	return nil
}

func (s *RedisStore) GetActionResult(ctx context.Context, requestID string) (*StoredResult, error) {
	data, err := s.client.Get(ctx, s.resultKey(requestID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, resultNotFound(requestID)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get action result: %w", err)
	}
	var res StoredResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("unmarshal action result: %w", err)
	}
	return &res, nil
}

// PruneActionResults deletes results received before the cutoff and drops
// index entries whose key already expired.
func (s *RedisStore) PruneActionResults(ctx context.Context, before time.Time) (int, error) {
	upper := fmt.Sprintf("(%d", before.UnixMilli())
	ids, err := s.client.ZRangeByScore(ctx, s.resultIndexKey(), &redis.ZRangeBy{Min: "-inf", Max: upper}).Result()
	if err != nil {
		return 0, fmt.Errorf("redis list results: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, len(ids))
	members := make([]any, len(ids))
	for i, id := range ids {
		keys[i] = s.resultKey(id)
		members[i] = id
	}
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, keys...)
	pipe.ZRem(ctx, s.resultIndexKey(), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis prune results: %w", err)
	}
	return int(del.Val()), nil
}
