// Package app wires the grading service from a local configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/felixgeelhaar/stagegrade/internal/attempt"
	"github.com/felixgeelhaar/stagegrade/internal/checker"
	"github.com/felixgeelhaar/stagegrade/internal/config"
	"github.com/felixgeelhaar/stagegrade/internal/domain"
	"github.com/felixgeelhaar/stagegrade/internal/evaluator"
	"github.com/felixgeelhaar/stagegrade/internal/exercise"
	"github.com/felixgeelhaar/stagegrade/internal/grading"
	"github.com/felixgeelhaar/stagegrade/internal/idgen"
	"github.com/felixgeelhaar/stagegrade/internal/metrics"
	"github.com/felixgeelhaar/stagegrade/internal/queue"
	"github.com/felixgeelhaar/stagegrade/internal/storage/local"
	"github.com/felixgeelhaar/stagegrade/internal/storage/postgres"
	"github.com/felixgeelhaar/stagegrade/internal/storage/sqlite"
)

// Store is what the application needs from a storage driver
type Store interface {
	attempt.Store
	idgen.MaxIDSource
	PendingSubmissions(ctx context.Context) ([]int64, error)
}

// App holds all application dependencies
type App struct {
	Config    *config.LocalConfig
	Exercises *exercise.Registry
	Evaluator *evaluator.ResilientClient
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Events    *domain.EventDispatcher
	Store     Store
	Service   *attempt.Service

	results *queue.ResultConsumer
	closers []func() error
}

// AppConfig holds configuration for application initialization
type AppConfig struct {
	Config *config.LocalConfig
	Logger *slog.Logger

	// CheckerName signs ledger entries resolved in process
	CheckerName string

	// DisableQueue keeps a one-off process (the MCP command) off the
	// result queue the daemon consumes
	DisableQueue bool
}

// NewApp creates a new application instance with all dependencies wired.
// Call Close on the result, also when Start was never called.
func NewApp(ctx context.Context, cfg AppConfig) (_ *App, err error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CheckerName == "" {
		cfg.CheckerName = "stagegraded"
	}
	a := &App{Config: cfg.Config}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Exercises = exercise.NewRegistry(exercise.NewLoader(cfg.Config.ExercisesPath))
	if err := a.Exercises.Load(); err != nil {
		return nil, fmt.Errorf("load exercises: %w", err)
	}

	ev := cfg.Config.Evaluator
	a.Evaluator = evaluator.NewResilientClient(
		evaluator.NewHTTPClient(evaluator.HTTPConfig{
			BaseURL: ev.URL,
			APIKey:  ev.APIKey,
			Timeout: time.Duration(ev.TimeoutSeconds) * time.Second,
		}),
		evaluator.ResilientConfig{
			EnableCircuitBreaker: true,
			EnableRetry:          true,
			EnableBulkhead:       true,
			EnableRateLimit:      true,
			MaxConcurrent:        ev.MaxConcurrent,
			RatePerSecond:        ev.RatePerSecond,
			MaxAttempts:          ev.MaxAttempts,
			Logger:               cfg.Logger,
		})
	a.closers = append(a.closers, a.Evaluator.Close)

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.New(a.Registry)
	a.Events = domain.NewEventDispatcher()
	a.Metrics.Subscribe(a.Events)

	if a.Store, err = a.openStore(ctx); err != nil {
		return nil, err
	}
	ids, err := idgen.Seed(ctx, a.Store)
	if err != nil {
		return nil, fmt.Errorf("seed ids: %w", err)
	}

	opts := []grading.Option{grading.WithLogger(cfg.Logger)}
	backend, err := a.checkerBackend()
	if err != nil {
		return nil, err
	}
	if backend != nil {
		a.closers = append(a.closers, backend.Close)
		cc := cfg.Config.Checker
		runner := checker.NewRunner(backend, checker.Config{
			Image:      cc.Image,
			Rscript:    cc.Rscript,
			MemoryMB:   cc.MemoryMB,
			CPULimit:   cc.CPULimit,
			NetworkOff: true,
			Parallel:   cc.Parallel,
			Timeout:    time.Duration(cc.TimeoutSeconds) * time.Second,
		})
		opts = append(opts, grading.WithCaseRunner(cfg.CheckerName, runner))
	}

	a.Service = attempt.NewService(a.Exercises, a.Evaluator, ids, grading.NewGrader(a.Evaluator, opts...))
	a.Service.SetStore(a.Store)
	a.Service.SetEventDispatcher(a.Events)
	a.Service.SetObserver(a.Metrics)
	a.Service.SetLogger(cfg.Logger)

	if cfg.Config.Queue.Enabled && !cfg.DisableQueue {
		conn, err := queue.NewConnection(cfg.Config.Queue.URL)
		if err != nil {
			return nil, fmt.Errorf("connect queue: %w", err)
		}
		a.closers = append(a.closers, conn.Close)
		a.Service.SetDispatcher(queue.NewProducer(conn))
		a.results = queue.NewResultConsumer(conn, queue.RecordResults(a.Service, a.Metrics.ObserveCheckResult))
	}

	if pending, err := a.Store.PendingSubmissions(ctx); err != nil {
		cfg.Logger.Warn("failed to list pending submissions", "error", err)
	} else if len(pending) > 0 {
		cfg.Logger.Info("submissions waiting for checkers", "count", len(pending))
	}

	return a, nil
}

func (a *App) openStore(ctx context.Context) (Store, error) {
	st := a.Config.Storage
	switch st.Driver {
	case "postgres":
		pool, err := postgres.Connect(ctx, st.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		store := postgres.NewStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case "file":
		store, err := local.NewStore(st.Path)
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}
		return store, nil
	default:
		db, err := sqlite.Open(st.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		if err := db.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return sqlite.NewStore(db), nil
	}
}

func (a *App) checkerBackend() (checker.Backend, error) {
	switch a.Config.Checker.Backend {
	case "docker":
		b, err := checker.NewDockerBackend()
		if err != nil {
			return nil, fmt.Errorf("create docker backend: %w", err)
		}
		return b, nil
	case "local":
		return checker.NewLocalBackend(""), nil
	default:
		return nil, nil
	}
}

// Start begins consuming checker results when the queue is enabled
func (a *App) Start(ctx context.Context) error {
	if a.results == nil {
		return nil
	}
	return a.results.Start(ctx)
}

// Close stops the result consumer and releases resources in reverse order
func (a *App) Close() error {
	if a.results != nil {
		a.results.Stop()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
