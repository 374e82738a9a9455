package store

import (
	"context"
	"time"

	"github.com/rendis/socialflow/pkg/schema"
)

// Store defines the persistence layer contract for runs, pending actions and
// action results. All implementations must be safe for concurrent use and
// provide atomic upsert/get/delete by key.
type Store interface {
	// Runs
	SaveRun(ctx context.Context, run *schema.RunRecord) error
	GetRun(ctx context.Context, id string) (*schema.RunRecord, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*schema.RunRecord, error)

	// Pending actions
	SavePendingAction(ctx context.Context, req *schema.ActionRequest) error
	PopPendingAction(ctx context.Context, userID string) (*schema.ActionRequest, error)
	GetPendingAction(ctx context.Context, requestID string) (*PendingAction, error)
	DeletePendingAction(ctx context.Context, requestID string) error

	// Action results
	SaveActionResult(ctx context.Context, res *StoredResult) error
	GetActionResult(ctx context.Context, requestID string) (*StoredResult, error)
	PruneActionResults(ctx context.Context, before time.Time) (int, error)

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
