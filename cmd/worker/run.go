package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/ai"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/artifacts"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/config"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/events"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/ingest"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/pipeline"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/pipeline/media"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/pipeline/review"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/publish"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/queue"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/runner"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/scrape"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/store"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/worker"
	"github.com/NPRiteshReddy/DS.2-sub000/pkg/models"
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "consume job queues until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadWorkerConfig(cmd.Context())
			if err != nil {
				return err
			}
			return runWorker(cmd.Context(), cfg)
		},
	}
}

func loadWorkerConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateWorker(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func runWorker(ctx context.Context, cfg *config.Config) error {
	logger := slog.Default()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	pgStore := store.NewPostgresStore(pool)

	broker, err := queue.NewBroker(ctx, cfg.Redis.Address())
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer broker.Close()
	redisQueue := queue.NewRedisQueue(broker, cfg.Queue)

	arts, err := artifacts.NewStore(cfg.Worker.TempRoot)
	if err != nil {
		return fmt.Errorf("open artifact root: %w", err)
	}

	provider, err := ai.NewProvider(cfg.AI)
	if err != nil {
		return fmt.Errorf("create AI provider: %w", err)
	}
	aiService := ai.NewService(provider, cfg.AI.Timeout, cfg.AI.MaxTokens)
	logger.Info("AI provider initialized", "provider", aiService.ProviderName())

	var mirror publish.Mirror
	if cfg.Storage.Endpoint != "" {
		m, err := publish.NewMinioMirror(ctx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("connect object storage: %w", err)
		}
		mirror = m
		logger.Info("media mirror enabled", "endpoint", cfg.Storage.Endpoint, "bucket", cfg.Storage.Bucket)
	}
	publisher, err := publish.NewPublisher(cfg.Worker.PublicRoot, mirror)
	if err != nil {
		return err
	}

	emitter, closeEvents := events.New(cfg.Events, logger)
	defer func() {
		if err := closeEvents(); err != nil {
			logger.Warn("close event sink", "error", err)
		}
	}()

	pipelines := buildPipelines(cfg, runner.New(cfg.Tools.MaxOutputBytes), aiService, publisher, pgStore)
	driver := worker.NewDriver(redisQueue, pgStore, arts, pipelines, emitter, cfg.Queue.RenewInterval, logger)
	supervisor := worker.NewSupervisor(redisQueue, broker, driver, pgStore, arts, bindings(cfg.Worker),
		worker.SupervisorConfig{
			PollInterval:         cfg.Queue.PollInterval,
			StalledCheckInterval: cfg.Queue.StalledCheckInterval,
			DrainGrace:           cfg.Worker.DrainGrace,
		}, logger)

	logger.Info("worker started",
		"review_concurrency", cfg.Worker.ReviewConcurrency,
		"video_concurrency", cfg.Worker.VideoConcurrency,
		"audio_concurrency", cfg.Worker.AudioConcurrency,
		"video_rendering", cfg.Features.EnableVideoRendering,
	)
	if err := supervisor.Run(ctx); err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	logger.Info("worker stopped")
	return nil
}

// pipelineStore is what the review and media pipelines persist through.
type pipelineStore interface {
	review.ResultStore
	media.ResultStore
}

func buildPipelines(cfg *config.Config, r runner.Runner, aiService *ai.Service, pub media.Publisher,
	st pipelineStore) map[models.JobKind]pipeline.Pipeline {
	ingester := ingest.NewClient(r, cfg.Tools.IngestCommand, cfg.Tools.IngestArgs, cfg.Tools.IngestTimeout)
	scraper := newScraper(cfg.Scrape)
	tools := media.NewTools(r, cfg.Tools)

	return map[models.JobKind]pipeline.Pipeline{
		models.KindCodeReview: review.New(ingester, aiService, st),
		models.KindVideo: media.New(scraper, aiService, tools, pub, st, media.Options{
			RenderVideo:    cfg.Features.EnableVideoRendering,
			RelatedSources: cfg.Scrape.MaxResults,
		}),
		models.KindAudio: media.New(scraper, aiService, tools, pub, st, media.Options{
			AudioOnly:      true,
			RelatedSources: cfg.Scrape.MaxResults,
		}),
	}
}

// newScraper uses the extraction API when a key is configured and fetches
// pages directly otherwise.
func newScraper(cfg config.ScrapeConfig) scrape.Client {
	if cfg.APIKey != "" {
		return scrape.NewAPIClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout)
	}
	return scrape.NewDirectClient(cfg.Timeout)
}

func bindings(cfg config.WorkerConfig) []worker.Binding {
	return []worker.Binding{
		{Queue: queue.CodeReview, Concurrency: cfg.ReviewConcurrency},
		{Queue: queue.Video, Concurrency: cfg.VideoConcurrency},
		{Queue: queue.Audio, Concurrency: cfg.AudioConcurrency},
	}
}
