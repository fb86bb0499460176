package config

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds all configuration for the API server and the worker.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Worker   WorkerConfig
	Quota    QuotaConfig
	AI       AIConfig
	Scrape   ScrapeConfig
	Tools    ToolsConfig
	Storage  StorageConfig
	Events   EventsConfig
	Features FeatureConfig
}

type ServerConfig struct {
	Port               int    `env:"APP_PORT,default=8080"`
	Env                string `env:"APP_ENV,default=development"`
	JWTSecret          string `env:"AUTH_JWT_SECRET"`
	RateLimitPerMinute int    `env:"RATE_LIMIT_PER_MINUTE,default=60"`
}

type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS,default=25"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME,default=5m"`
	MigrationsDir   string        `env:"DATABASE_MIGRATIONS_DIR,default=migrations"`
}

// RedisConfig accepts either a URL or a host/port pair.
type RedisConfig struct {
	URL      string `env:"REDIS_URL"`
	Host     string `env:"REDIS_HOST"`
	Port     int    `env:"REDIS_PORT,default=6379"`
	Password string `env:"REDIS_PASSWORD"`
}

// Address returns a redis:// URL built from URL or Host/Port.
func (r RedisConfig) Address() string {
	if r.URL != "" {
		return r.URL
	}
	hostPort := net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
	if r.Password != "" {
		return "redis://:" + r.Password + "@" + hostPort
	}
	return "redis://" + hostPort
}

type QueueConfig struct {
	Prefix               string        `env:"QUEUE_PREFIX,default=studyq"`
	LockDuration         time.Duration `env:"QUEUE_LOCK_DURATION,default=5m"`
	RenewInterval        time.Duration `env:"QUEUE_RENEW_INTERVAL,default=150s"`
	MaxStalls            int           `env:"QUEUE_MAX_STALLS,default=2"`
	StalledCheckInterval time.Duration `env:"QUEUE_STALLED_CHECK_INTERVAL,default=30s"`
	PollInterval         time.Duration `env:"QUEUE_POLL_INTERVAL,default=1s"`
	Attempts             int           `env:"QUEUE_ATTEMPTS,default=3"`
	BackoffBase          time.Duration `env:"QUEUE_BACKOFF_BASE,default=5s"`
	BackoffCap           time.Duration `env:"QUEUE_BACKOFF_CAP,default=30s"`
	RemoveOnComplete     int           `env:"QUEUE_REMOVE_ON_COMPLETE,default=100"`
	RemoveOnFail         int           `env:"QUEUE_REMOVE_ON_FAIL,default=500"`
	ReviewTimeout        time.Duration `env:"QUEUE_REVIEW_TIMEOUT,default=5m"`
	VideoTimeout         time.Duration `env:"QUEUE_VIDEO_TIMEOUT,default=15m"`
	AudioTimeout         time.Duration `env:"QUEUE_AUDIO_TIMEOUT,default=10m"`
}

type WorkerConfig struct {
	ReviewConcurrency int           `env:"REVIEW_CONCURRENCY,default=3"`
	VideoConcurrency  int           `env:"VIDEO_CONCURRENCY,default=1"`
	AudioConcurrency  int           `env:"AUDIO_CONCURRENCY,default=1"`
	DrainGrace        time.Duration `env:"DRAIN_GRACE,default=60s"`
	TempRoot          string        `env:"TEMP_ROOT,default=/tmp/studyjobs"`
	PublicRoot        string        `env:"PUBLIC_ROOT,default=./public"`
}

// QuotaConfig holds per-kind daily caps. Zero means unlimited.
type QuotaConfig struct {
	ReviewDailyCap int `env:"REVIEW_DAILY_CAP,default=3"`
	VideoDailyCap  int `env:"VIDEO_DAILY_CAP,default=0"`
	AudioDailyCap  int `env:"AUDIO_DAILY_CAP,default=0"`
}

type AIConfig struct {
	Provider  string        `env:"LLM_PROVIDER,default=openai"`
	APIKey    string        `env:"LLM_API_KEY"`
	BaseURL   string        `env:"LLM_BASE_URL"`
	Model     string        `env:"LLM_MODEL"`
	MaxTokens int           `env:"LLM_MAX_TOKENS,default=4096"`
	Timeout   time.Duration `env:"LLM_TIMEOUT,default=90s"`
}

type ScrapeConfig struct {
	APIKey     string        `env:"SCRAPE_API_KEY"`
	BaseURL    string        `env:"SCRAPE_BASE_URL,default=https://api.tavily.com"`
	Timeout    time.Duration `env:"SCRAPE_TIMEOUT,default=30s"`
	MaxResults int           `env:"SCRAPE_MAX_RESULTS,default=5"`
}

type ToolsConfig struct {
	IngestCommand  string        `env:"INGEST_COMMAND,default=python3"`
	IngestArgs     []string      `env:"INGEST_ARGS,default=scripts/gitingest_wrapper.py"`
	IngestTimeout  time.Duration `env:"INGEST_TIMEOUT,default=2m"`
	RenderCommand  string        `env:"RENDER_COMMAND,default=scene-render"`
	RenderArgs     []string      `env:"RENDER_ARGS"`
	SceneTimeout   time.Duration `env:"RENDER_SCENE_TIMEOUT,default=3m"`
	TTSCommand     string        `env:"TTS_COMMAND,default=edge-tts"`
	TTSVoice       string        `env:"TTS_VOICE"`
	TTSTimeout     time.Duration `env:"TTS_TIMEOUT,default=2m"`
	FFmpegPath     string        `env:"FFMPEG_PATH,default=ffmpeg"`
	FFprobePath    string        `env:"FFPROBE_PATH,default=ffprobe"`
	MuxTimeout     time.Duration `env:"MUX_TIMEOUT,default=5m"`
	MaxOutputBytes int           `env:"PROCESS_MAX_OUTPUT_BYTES,default=8388608"`
}

// StorageConfig enables mirroring of published media to an S3-compatible bucket.
// Leaving Endpoint empty disables the mirror.
type StorageConfig struct {
	Endpoint  string `env:"MINIO_ENDPOINT"`
	AccessKey string `env:"MINIO_ACCESS_KEY"`
	SecretKey string `env:"MINIO_SECRET_KEY"`
	Bucket    string `env:"MINIO_BUCKET,default=study-media"`
	UseSSL    bool   `env:"MINIO_USE_SSL,default=false"`
}

// EventsConfig enables publishing job lifecycle events to Kafka.
type EventsConfig struct {
	KafkaBrokers []string `env:"KAFKA_BROKERS"`
	KafkaTopic   string   `env:"KAFKA_TOPIC,default=job-lifecycle"`
}

type FeatureConfig struct {
	EnableVideoRendering bool `env:"ENABLE_VIDEO_RENDERING,default=true"`
}

var validProviders = map[string]bool{
	"openai":    true,
	"vllm":      true,
	"ollama":    true,
	"groq":      true,
	"anthropic": true,
}

// envProcess is swapped in tests.
var envProcess = envconfig.Process

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envProcess(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" && c.Redis.Host == "" {
		return fmt.Errorf("REDIS_URL or REDIS_HOST is required")
	}
	if c.Redis.URL != "" && !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	if c.Queue.LockDuration <= 0 {
		return fmt.Errorf("QUEUE_LOCK_DURATION must be positive")
	}
	if c.Queue.RenewInterval <= 0 || c.Queue.RenewInterval > c.Queue.LockDuration/2 {
		return fmt.Errorf("QUEUE_RENEW_INTERVAL must be positive and at most half of QUEUE_LOCK_DURATION (%s), got %s",
			c.Queue.LockDuration, c.Queue.RenewInterval)
	}
	if c.Queue.Attempts < 1 || c.Queue.Attempts > 3 {
		return fmt.Errorf("QUEUE_ATTEMPTS must be between 1 and 3, got %d", c.Queue.Attempts)
	}
	if c.Queue.MaxStalls < 0 {
		return fmt.Errorf("QUEUE_MAX_STALLS must be non-negative")
	}

	for name, v := range map[string]int{
		"REVIEW_DAILY_CAP": c.Quota.ReviewDailyCap,
		"VIDEO_DAILY_CAP":  c.Quota.VideoDailyCap,
		"AUDIO_DAILY_CAP":  c.Quota.AudioDailyCap,
	} {
		if v < 0 {
			return fmt.Errorf("%s must be non-negative, got %d", name, v)
		}
	}

	return nil
}

// ValidateWorker checks the settings only the worker tier needs.
func (c *Config) ValidateWorker() error {
	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("LLM_PROVIDER must be one of openai, vllm, ollama, groq, anthropic; got %q", c.AI.Provider)
	}
	if c.AI.APIKey == "" && c.AI.Provider != "ollama" && c.AI.Provider != "vllm" {
		return fmt.Errorf("LLM_API_KEY is required when LLM_PROVIDER is %s", c.AI.Provider)
	}
	if c.Tools.TTSVoice == "" {
		return fmt.Errorf("TTS_VOICE is required")
	}
	if c.Worker.TempRoot == "" {
		return fmt.Errorf("TEMP_ROOT is required")
	}
	if c.Worker.PublicRoot == "" {
		return fmt.Errorf("PUBLIC_ROOT is required")
	}
	for name, v := range map[string]int{
		"REVIEW_CONCURRENCY": c.Worker.ReviewConcurrency,
		"VIDEO_CONCURRENCY":  c.Worker.VideoConcurrency,
		"AUDIO_CONCURRENCY":  c.Worker.AudioConcurrency,
	} {
		if v < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", name, v)
		}
	}
	if c.Storage.Endpoint != "" && (c.Storage.AccessKey == "" || c.Storage.SecretKey == "") {
		return fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when MINIO_ENDPOINT is set")
	}
	return nil
}

// DailyCap returns the configured cap for kind. Zero means unlimited.
func (q QuotaConfig) DailyCap(kind string) int {
	switch kind {
	case "code_review":
		return q.ReviewDailyCap
	case "video":
		return q.VideoDailyCap
	case "audio":
		return q.AudioDailyCap
	}
	return 0
}
