// Package scheduler runs periodic maintenance: expiring runs that have
// waited too long for a human or an executor, and pruning old action results.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/socialflow/internal/store"
	"github.com/rendis/socialflow/pkg/schema"
)

// DefaultSchedule is the sweep cadence when none is configured.
const DefaultSchedule = "@every 1m"

// RunExpirer is the slice of the orchestrator the sweeper drives.
// Satisfied by *engine.Orchestrator (avoids import cycle).
type RunExpirer interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]*schema.RunRecord, error)
	Expire(ctx context.Context, runID, reason string) (*schema.RunRecord, error)
}

// ResultPruner drops stored action results older than a cutoff.
type ResultPruner interface {
	PruneActionResults(ctx context.Context, before time.Time) (int, error)
}

// Config holds the sweep policy. A zero TTL disables expiry for that
// waiting state; a zero ResultRetention disables pruning.
type Config struct {
	Schedule        string
	ApprovalTTL     time.Duration
	ActionTTL       time.Duration
	ResultRetention time.Duration
	Now             func() time.Time
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	Expired []string
	Pruned  int
}

// ExpirySweeper periodically fails runs stuck in waiting_approval or
// waiting_action past their TTL and prunes old action results.
type ExpirySweeper struct {
	runs   RunExpirer
	pruner ResultPruner
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewExpirySweeper creates a sweeper. pruner may be nil.
func NewExpirySweeper(runs RunExpirer, pruner ResultPruner, cfg Config, logger *slog.Logger) *ExpirySweeper {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpirySweeper{runs: runs, pruner: pruner, cfg: cfg, logger: logger}
}

// Enabled reports whether the sweeper has anything to do.
func (s *ExpirySweeper) Enabled() bool {
	return s.cfg.ApprovalTTL > 0 || s.cfg.ActionTTL > 0 || (s.pruner != nil && s.cfg.ResultRetention > 0)
}

// Start schedules sweeps on the configured cron spec. Overlapping sweeps
// are skipped. The sweeps use ctx; Stop ends the schedule.
func (s *ExpirySweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.cfg.Schedule, func() { _, _ = s.Sweep(ctx) }); err != nil {
		return fmt.Errorf("parse sweep schedule %q: %w", s.cfg.Schedule, err)
	}
	c.Start()
	s.cron = c

	s.logger.Info("expiry sweeper started",
		slog.String("schedule", s.cfg.Schedule),
		slog.Duration("approval_ttl", s.cfg.ApprovalTTL),
		slog.Duration("action_ttl", s.cfg.ActionTTL),
	)
	return nil
}

// Stop ends the schedule and waits for a running sweep to finish.
func (s *ExpirySweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	s.logger.Info("expiry sweeper stopped")
}

// Sweep runs one pass. Runs that left their waiting state between listing
// and expiry are skipped silently.
func (s *ExpirySweeper) Sweep(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{}
	now := s.cfg.Now().UTC()

	if err := s.expireWaiting(ctx, now, report); err != nil {
		return report, err
	}

	if s.pruner != nil && s.cfg.ResultRetention > 0 {
		n, err := s.pruner.PruneActionResults(ctx, now.Add(-s.cfg.ResultRetention))
		if err != nil {
			s.logger.Error("failed to prune action results", slog.String("error", err.Error()))
			return report, fmt.Errorf("prune action results: %w", err)
		}
		report.Pruned = n
	}

	if len(report.Expired) > 0 || report.Pruned > 0 {
		s.logger.Info("sweep finished",
			slog.Int("expired", len(report.Expired)),
			slog.Int("pruned", report.Pruned),
		)
	}
	return report, nil
}

func (s *ExpirySweeper) expireWaiting(ctx context.Context, now time.Time, report *SweepReport) error {
	var statuses []schema.RunStatus
	if s.cfg.ApprovalTTL > 0 {
		statuses = append(statuses, schema.RunStatusWaitingApproval)
	}
	if s.cfg.ActionTTL > 0 {
		statuses = append(statuses, schema.RunStatusWaitingAction)
	}
	if len(statuses) == 0 {
		return nil
	}

	runs, err := s.runs.ListRuns(ctx, store.RunFilter{Statuses: statuses})
	if err != nil {
		s.logger.Error("failed to list waiting runs", slog.String("error", err.Error()))
		return fmt.Errorf("list waiting runs: %w", err)
	}

	for _, run := range runs {
		ttl, reason := s.ttlFor(run.Status)
		if run.WaitingSince == nil || now.Sub(*run.WaitingSince) < ttl {
			continue
		}
		if _, err := s.runs.Expire(ctx, run.ID, fmt.Sprintf("%s within %s", reason, ttl)); err != nil {
			if schema.IsNotWaiting(err) || schema.IsNotFound(err) {
				continue
			}
			s.logger.Error("failed to expire run",
				slog.String("run_id", run.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		report.Expired = append(report.Expired, run.ID)
	}
	return nil
}

func (s *ExpirySweeper) ttlFor(status schema.RunStatus) (time.Duration, string) {
	if status == schema.RunStatusWaitingApproval {
		return s.cfg.ApprovalTTL, "no approval decision"
	}
	return s.cfg.ActionTTL, "no action result"
}
