package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/rendis/socialflow/internal/adapters"
	"github.com/rendis/socialflow/internal/engine"
	"github.com/rendis/socialflow/internal/executor"
	"github.com/rendis/socialflow/internal/logging"
	"github.com/rendis/socialflow/internal/metrics"
	"github.com/rendis/socialflow/internal/nodes"
	"github.com/rendis/socialflow/internal/notify"
	"github.com/rendis/socialflow/internal/scheduler"
	"github.com/rendis/socialflow/internal/store"
	"github.com/rendis/socialflow/pkg/schema"
)

// app is the wired process: store, node registry and orchestrator, plus
// the optional collaborators serve and mcp attach to.
type app struct {
	cfg      Config
	logger   *slog.Logger
	store    store.Store
	nodes    *nodes.Registry
	metrics  *metrics.Metrics
	telegram *notify.TelegramNotifier
	orch     *engine.Orchestrator
}

// appOptions selects the optional parts of newApp.
type appOptions struct {
	// forceMemory ignores cfg.Store; used by one-shot runs.
	forceMemory bool
	// extraNotifier is combined with Telegram, when configured.
	extraNotifier notify.Notifier
	logOutput     io.Writer
}

func newLogger(cfg Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return logging.NewLogger(w, cfg.LogLevel, cfg.LogFormat)
}

func newApp(ctx context.Context, cfg Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, logger: newLogger(cfg, opts.logOutput)}

	backend := cfg.Store
	if opts.forceMemory {
		backend = storeMemory
	}
	st, err := openStore(ctx, cfg, backend)
	if err != nil {
		return nil, err
	}
	a.store = st

	deps, err := nodes.DefaultBuiltinDeps()
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("node deps: %w", err)
	}
	a.nodes = nodes.NewRegistry()
	if err := nodes.RegisterBuiltins(a.nodes, deps); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("register nodes: %w", err)
	}
	a.nodes.Seal()

	var notifiers []notify.Notifier
	if cfg.TelegramToken != "" {
		tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, notify.WithLogger(a.logger))
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("telegram: %w", err)
		}
		a.telegram = tg
		notifiers = append(notifiers, tg)
	}
	if opts.extraNotifier != nil {
		notifiers = append(notifiers, opts.extraNotifier)
	}

	a.metrics = metrics.New()
	orch, err := engine.NewOrchestrator(engine.OrchestratorConfig{
		Store:       st,
		Nodes:       a.nodes,
		Observer:    a.metrics,
		Notifier:    notify.Combine(notifiers...),
		Logger:      a.logger,
		IdleTimeout: cfg.ActorIdleTimeout,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	a.orch = orch
	if a.telegram != nil {
		a.telegram.SetApprover(orch)
	}

	a.logger.InfoContext(ctx, "socialflow ready",
		"store", backend,
		"node_types", a.nodes.Count(),
		"telegram", a.telegram != nil)
	return a, nil
}

// startSweeper starts the expiry sweeper when any TTL or retention is set.
// The returned func stops it.
func (a *app) startSweeper(ctx context.Context) (func(), error) {
	sweeper := scheduler.NewExpirySweeper(a.orch, a.store, scheduler.Config{
		Schedule:        a.cfg.SweepSchedule,
		ApprovalTTL:     a.cfg.ApprovalTTL,
		ActionTTL:       a.cfg.ActionTTL,
		ResultRetention: a.cfg.ResultRetention,
	}, a.logger)
	if !sweeper.Enabled() {
		return func() {}, nil
	}
	if err := sweeper.Start(ctx); err != nil {
		return nil, err
	}
	return sweeper.Stop, nil
}

// Close drains the orchestrator, then closes the store.
func (a *app) Close() {
	a.orch.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("store close failed", "error", err)
	}
}

func openStore(ctx context.Context, cfg Config, backend string) (store.Store, error) {
	var st store.Store
	switch backend {
	case storeMemory:
		st = store.NewMemoryStore(store.WithResultRetention(cfg.ResultRetention))
	case storeLibSQL:
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		ls, err := store.NewLibSQLStore(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open libsql %s: %w", cfg.DBPath, err)
		}
		st = ls
	case storeRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		st = store.NewRedisStore(client,
			store.WithPrefix(cfg.RedisPrefix),
			store.WithRetention(cfg.ResultRetention))
	default:
		return nil, fmt.Errorf("unknown store %q", backend)
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate %s store: %w", backend, err)
	}
	return st, nil
}

// newExecutor builds the action-execution chain used by in-process and
// remote agents: mode router, then retries of retriable failures, then a
// per-platform breaker in front of the HTTP adapter. Browser modes have no
// local executor and report unsupported_mode.
func newExecutor(cfg Config, logger *slog.Logger) executor.Executor {
	router := executor.NewRouter(adapters.NewRegistry())
	router.Handle(schema.ModeCloudBrowser, executor.Unavailable(schema.ModeCloudBrowser))
	router.Handle(schema.ModeExtensionBrowser, executor.Unavailable(schema.ModeExtensionBrowser))
	if cfg.AdapterBaseURL == "" {
		router.Handle(schema.ModeAPI, executor.Unavailable(schema.ModeAPI))
		return router
	}
	api := executor.NewAPIExecutor(cfg.AdapterBaseURL)
	breakers := executor.NewBreakers(executor.DefaultBreakerConfig())
	router.Handle(schema.ModeAPI, executor.NewRetryExecutor(
		executor.NewBreakerExecutor(api, breakers),
		executor.WithRetryLogger(logger)))
	return router
}
