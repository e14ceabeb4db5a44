// Command stagecheckd runs dynamic R test cases taken from the check queue
// and publishes one verdict per case.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/felixgeelhaar/stagegrade/internal/checker"
	"github.com/felixgeelhaar/stagegrade/internal/config"
	"github.com/felixgeelhaar/stagegrade/internal/queue"
)

func main() {
	if err := run(); err != nil {
		slog.Error("checker error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	signer := cfg.SignerID
	if signer == "" {
		signer = "stagecheckd-" + uuid.NewString()
	}

	var backend checker.Backend
	switch cfg.CheckerBackend {
	case "local":
		slog.Warn("running test cases without a sandbox")
		backend = checker.NewLocalBackend("")
	default:
		b, err := checker.NewDockerBackend()
		if err != nil {
			return fmt.Errorf("create docker backend: %w", err)
		}
		backend = b
	}
	defer backend.Close()

	runner := checker.NewRunner(backend, checker.Config{
		Image:      cfg.CheckerImage,
		Rscript:    cfg.Rscript,
		MemoryMB:   cfg.CheckerMemoryMB,
		CPULimit:   cfg.CheckerCPULimit,
		NetworkOff: true,
		Parallel:   cfg.CheckerParallel,
		Timeout:    time.Duration(cfg.CheckerTimeout) * time.Second,
	})

	conn, err := queue.NewConnection(cfg.RabbitMQURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumer := queue.NewConsumer(conn, runner.HandleJob, queue.ConsumerConfig{
		Workers: cfg.CheckerWorkers,
		Signer:  signer,
	})
	if err := consumer.Start(ctx); err != nil {
		return err
	}

	var metricsSrv *http.Server
	if cfg.MetricsPort > 0 {
		metricsSrv = serveMetrics(cfg.MetricsPort)
	}

	slog.Info("checker started", "signer", signer, "backend", cfg.CheckerBackend, "workers", cfg.CheckerWorkers)
	<-ctx.Done()
	slog.Info("shutting down checker")

	consumer.Stop()
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}

func serveMetrics(port int) *http.Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()
	return srv
}
