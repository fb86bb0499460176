// Package main is the entrypoint for the API server. It accepts job
// submissions, serves status and results, and never runs a pipeline itself.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/api"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/api/handler"
	mw "github.com/NPRiteshReddy/DS.2-sub000/internal/api/middleware"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/cache"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/config"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/jobs"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/queue"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/report"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/store"
	"github.com/NPRiteshReddy/DS.2-sub000/pkg/models"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "port", cfg.Server.Port)

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Connect to the queue broker and the cache
	broker, err := queue.NewBroker(ctx, cfg.Redis.Address())
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer broker.Close()
	go broker.Monitor(ctx)

	redisCache, err := cache.NewRedisCache(cfg.Redis.Address())
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()
	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Build services
	pgStore := store.NewPostgresStore(pool)
	redisQueue := queue.NewRedisQueue(broker, cfg.Queue)
	svc := jobs.NewService(pgStore, redisQueue, redisCache, cfg.Queue, cfg.Quota, slog.Default())

	router := api.NewRouter(newDependencies(dependencyParams{
		Keys:      pgStore,
		Jobs:      svc,
		PDF:       report.NewGenerator(redisCache, report.CacheTTL, slog.Default()),
		Cache:     redisCache,
		Secret:    cfg.Server.JWTSecret,
		RateLimit: cfg.Server.RateLimitPerMinute,
		Checks: map[string]handler.Checker{
			"database": pgStore,
			"broker":   broker,
		},
		Stats: redisQueue,
	}))

	// 6. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

type dependencyParams struct {
	Keys      mw.KeyStore
	Jobs      handler.JobService
	PDF       handler.PDFRenderer
	Cache     cache.Cache
	Secret    string
	RateLimit int
	Checks    map[string]handler.Checker
	Stats     handler.QueueStats
}

func newDependencies(p dependencyParams) api.Dependencies {
	return api.Dependencies{
		Auth:      mw.NewAuth(p.Keys, p.Secret),
		RateLimit: mw.NewRateLimit(p.Cache, p.RateLimit),

		HealthHandler: handler.NewHealthHandler(p.Checks, p.Stats,
			[]string{queue.CodeReview, queue.Video, queue.Audio}),

		SubmitReviewHandler:   handler.NewSubmitReviewHandler(p.Jobs),
		ReviewStatusHandler:   handler.NewReviewStatusHandler(p.Jobs),
		ReviewHandler:         handler.NewReviewHandler(p.Jobs),
		MyReviewsHandler:      handler.NewMyReviewsHandler(p.Jobs),
		ReviewDownloadHandler: handler.NewReviewDownloadHandler(p.Jobs, p.PDF),
		CancelReviewHandler:   handler.NewCancelReviewHandler(p.Jobs),

		SubmitVideoHandler: handler.NewSubmitMediaHandler(p.Jobs, models.KindVideo),
		SubmitAudioHandler: handler.NewSubmitMediaHandler(p.Jobs, models.KindAudio),
		MediaStatusHandler: handler.NewMediaStatusHandler(p.Jobs),
		MediaHandler:       handler.NewMediaHandler(p.Jobs),
		CancelMediaHandler: handler.NewCancelMediaHandler(p.Jobs),

		HistoryHandler: handler.NewHistoryHandler(p.Jobs),
	}
}
