package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"collab-sync/app"
	"collab-sync/pkg/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func run() error {
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})
	if os.Getenv("LOG_FORMAT") == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := app.NewServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer server.Close()

	return server.Run(ctx)
}
