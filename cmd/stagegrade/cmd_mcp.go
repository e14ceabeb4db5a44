package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/stagegrade/internal/app"
	"github.com/felixgeelhaar/stagegrade/internal/config"
	mcpserver "github.com/felixgeelhaar/stagegrade/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve attempts as MCP tools (stdio by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadLocalConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			// stdout carries the protocol
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			application, err := app.NewApp(ctx, app.AppConfig{
				Config:       cfg,
				Logger:       logger,
				CheckerName:  "stagegrade-mcp",
				DisableQueue: true,
			})
			if err != nil {
				return err
			}
			defer application.Close()

			srv := mcpserver.NewServer(mcpserver.Config{
				Version:   Version,
				Service:   application.Service,
				Exercises: application.Exercises,
			})
			if addr != "" {
				return srv.ServeHTTP(ctx, addr)
			}
			return srv.ServeStdio(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "http", "", "serve over HTTP on this address instead of stdio")
	return cmd
}
