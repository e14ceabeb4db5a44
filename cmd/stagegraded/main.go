package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/felixgeelhaar/stagegrade/internal/app"
	"github.com/felixgeelhaar/stagegrade/internal/config"
	"github.com/felixgeelhaar/stagegrade/internal/daemon"
)

// Version is set at build time via ldflags
var Version = "dev"

const pidFileName = "stagegraded.pid"

func main() {
	if err := run(); err != nil {
		slog.Error("daemon error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	dir, err := config.EnsureStagegradeDir()
	if err != nil {
		return fmt.Errorf("ensure stagegrade dir: %w", err)
	}

	cfg, err := config.LoadLocalConfigFrom(dir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, logFile, err := newLogger(dir, logLevel(cfg.Daemon.LogLevel))
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logFile.Close()
	slog.SetDefault(logger)

	pidPath := filepath.Join(dir, pidFileName)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApp(ctx, app.AppConfig{Config: cfg, Logger: slog.Default()})
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}
	defer application.Close()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start result consumer: %w", err)
	}

	server := daemon.NewServer(daemon.ServerConfig{
		Addr:      net.JoinHostPort(cfg.Daemon.Bind, strconv.Itoa(cfg.Daemon.Port)),
		Version:   Version,
		Service:   application.Service,
		Exercises: application.Exercises,
		Gatherer:  application.Registry,
		Checks:    application.Metrics,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.Info("received signal, shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}

	slog.Info("daemon stopped")
	return nil
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}
