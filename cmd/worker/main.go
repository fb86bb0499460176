// Package main is the entrypoint for the job worker. It consumes the
// code-review, video-generation and audio-generation queues and runs their
// pipelines.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Root().ExecuteContext(ctx); err != nil {
		slog.Error("worker failed", "error", err)
		stop()
		os.Exit(1)
	}
}
