package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/dunamismax/imgopt/internal/domain"
	"github.com/hibiken/asynq"
	"github.com/spf13/viper"
)

// ConfigFileEnv names an optional config file whose keys are the lower case
// forms of the environment variables below. Environment variables win.
const ConfigFileEnv = "IMGOPT_CONFIG_FILE"

type Config struct {
	API       APIConfig
	Edge      EdgeConfig
	Image     ImageConfig
	Security  SecurityConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Webhook   WebhookConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	RateLimit RateLimitConfig
	Tracing   TracingConfig
	Log       LogConfig
}

type APIConfig struct {
	Addr string
}

type EdgeConfig struct {
	Addr      string
	OriginURL string
}

type ImageConfig struct {
	PathPattern        string
	OriginalsPrefix    string
	CacheControl       string
	MaxResponseBytes   int
	DefaultBackground  domain.Color
	AlphaSourceFormats []string
}

type SecurityConfig struct {
	Token         string
	TokenHeader   string
	SigningSecret string
	// RequireSignedPaths makes the origin reject unsigned image paths with
	// 403. cmd/edge reads the same setting and then forwards paths with their
	// signature; an edge that strips signatures in front of such an origin
	// gets 403 for every request.
	RequireSignedPaths bool
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency   int
	MaxActiveJobs int
	MetricsAddr   string
}

type WebhookConfig struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type StorageConfig struct {
	Endpoint        string
	AccessKey       string
	SecretKey       string
	OriginalsBucket string
	ProcessedBucket string
	UseSSL          bool
}

type DatabaseConfig struct {
	// DSN selects the postgres job store. Empty keeps jobs in memory.
	DSN string
}

type RateLimitConfig struct {
	Enabled       bool
	Requests      int
	Window        time.Duration
	SubjectHeader string
}

type TracingConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment and, when ConfigFileEnv is
// set, from that file. The result is validated.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path := strings.TrimSpace(v.GetString(ConfigFileEnv)); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	return fromViper(v)
}

// fromViper expects setDefaults to have run on v.
func fromViper(v *viper.Viper) (Config, error) {
	background, err := domain.ParseHexColor(v.GetString("DEFAULT_BACKGROUND"))
	if err != nil {
		return Config{}, fmt.Errorf("parse DEFAULT_BACKGROUND: %w", err)
	}

	cfg := Config{
		API: APIConfig{
			Addr: v.GetString("API_ADDR"),
		},
		Edge: EdgeConfig{
			Addr:      v.GetString("EDGE_ADDR"),
			OriginURL: v.GetString("ORIGIN_URL"),
		},
		Image: ImageConfig{
			PathPattern:        v.GetString("IMAGE_PATH_PATTERN"),
			OriginalsPrefix:    v.GetString("ORIGINALS_PREFIX"),
			CacheControl:       v.GetString("CACHE_CONTROL"),
			MaxResponseBytes:   v.GetInt("MAX_RESPONSE_BYTES"),
			DefaultBackground:  background,
			AlphaSourceFormats: splitList(v.GetString("ALPHA_SOURCE_FORMATS")),
		},
		Security: SecurityConfig{
			Token:              v.GetString("SECURITY_TOKEN"),
			TokenHeader:        v.GetString("SECURITY_TOKEN_HEADER"),
			SigningSecret:      v.GetString("URL_SIGNING_SECRET"),
			RequireSignedPaths: v.GetBool("REQUIRE_SIGNED_PATHS"),
		},
		Queue: QueueConfig{
			RedisAddr:     v.GetString("REDIS_ADDR"),
			RedisPassword: v.GetString("REDIS_PASSWORD"),
			RedisDB:       v.GetInt("REDIS_DB"),
			Name:          v.GetString("ASYNC_QUEUE"),
		},
		Worker: WorkerConfig{
			Concurrency:   v.GetInt("WORKER_CONCURRENCY"),
			MaxActiveJobs: v.GetInt("WORKER_MAX_ACTIVE_JOBS"),
			MetricsAddr:   v.GetString("WORKER_METRICS_ADDR"),
		},
		Webhook: WebhookConfig{
			SigningSecret:  v.GetString("WEBHOOK_SIGNING_SECRET"),
			Timeout:        v.GetDuration("WEBHOOK_TIMEOUT"),
			MaxAttempts:    v.GetInt("WEBHOOK_MAX_ATTEMPTS"),
			InitialBackoff: v.GetDuration("WEBHOOK_INITIAL_BACKOFF"),
			MaxBackoff:     v.GetDuration("WEBHOOK_MAX_BACKOFF"),
		},
		Storage: StorageConfig{
			Endpoint:        v.GetString("MINIO_ENDPOINT"),
			AccessKey:       v.GetString("MINIO_ACCESS_KEY"),
			SecretKey:       v.GetString("MINIO_SECRET_KEY"),
			OriginalsBucket: v.GetString("MINIO_ORIGINALS_BUCKET"),
			ProcessedBucket: v.GetString("MINIO_PROCESSED_BUCKET"),
			UseSSL:          v.GetBool("MINIO_USE_SSL"),
		},
		Database: DatabaseConfig{
			DSN: v.GetString("POSTGRES_DSN"),
		},
		RateLimit: RateLimitConfig{
			Enabled:       v.GetBool("RATE_LIMIT_ENABLED"),
			Requests:      v.GetInt("RATE_LIMIT_REQUESTS"),
			Window:        v.GetDuration("RATE_LIMIT_WINDOW"),
			SubjectHeader: v.GetString("RATE_LIMIT_SUBJECT_HEADER"),
		},
		Tracing: TracingConfig{
			Exporter:     v.GetString("OTEL_TRACES_EXPORTER"),
			OTLPEndpoint: v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
			OTLPInsecure: v.GetBool("OTEL_EXPORTER_OTLP_INSECURE"),
			SampleRatio:  v.GetFloat64("OTEL_TRACES_SAMPLE_RATIO"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	workers := max(2, runtime.NumCPU())

	v.SetDefault("API_ADDR", ":8080")
	v.SetDefault("EDGE_ADDR", ":8081")
	v.SetDefault("ORIGIN_URL", "http://localhost:8080")

	v.SetDefault("IMAGE_PATH_PATTERN", "^/image/([^/]+)")
	v.SetDefault("ORIGINALS_PREFIX", "originals/")
	v.SetDefault("CACHE_CONTROL", "public, max-age=31536000, immutable")
	v.SetDefault("MAX_RESPONSE_BYTES", 5*1024*1024)
	v.SetDefault("DEFAULT_BACKGROUND", "ffffff")
	v.SetDefault("ALPHA_SOURCE_FORMATS", "png,gif")

	v.SetDefault("SECURITY_TOKEN", "")
	v.SetDefault("SECURITY_TOKEN_HEADER", "X-Security-Token")
	v.SetDefault("URL_SIGNING_SECRET", "")
	v.SetDefault("REQUIRE_SIGNED_PATHS", false)

	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("ASYNC_QUEUE", "default")

	v.SetDefault("WORKER_CONCURRENCY", workers)
	v.SetDefault("WORKER_MAX_ACTIVE_JOBS", max(1, runtime.NumCPU()/2))
	v.SetDefault("WORKER_METRICS_ADDR", ":9091")

	v.SetDefault("WEBHOOK_SIGNING_SECRET", "")
	v.SetDefault("WEBHOOK_TIMEOUT", 10*time.Second)
	v.SetDefault("WEBHOOK_MAX_ATTEMPTS", 3)
	v.SetDefault("WEBHOOK_INITIAL_BACKOFF", time.Second)
	v.SetDefault("WEBHOOK_MAX_BACKOFF", 10*time.Second)

	v.SetDefault("MINIO_ENDPOINT", "localhost:9000")
	v.SetDefault("MINIO_ACCESS_KEY", "minioadmin")
	v.SetDefault("MINIO_SECRET_KEY", "minioadmin")
	v.SetDefault("MINIO_ORIGINALS_BUCKET", "imgopt-originals")
	v.SetDefault("MINIO_PROCESSED_BUCKET", "imgopt-processed")
	v.SetDefault("MINIO_USE_SSL", false)

	v.SetDefault("POSTGRES_DSN", "")

	v.SetDefault("RATE_LIMIT_ENABLED", false)
	v.SetDefault("RATE_LIMIT_REQUESTS", 120)
	v.SetDefault("RATE_LIMIT_WINDOW", time.Minute)
	v.SetDefault("RATE_LIMIT_SUBJECT_HEADER", "X-Client-ID")

	v.SetDefault("OTEL_TRACES_EXPORTER", "none")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_TRACES_SAMPLE_RATIO", 1.0)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Security.Token) == "" {
		errs = append(errs, errors.New("SECURITY_TOKEN is required"))
	}
	if strings.TrimSpace(c.Security.TokenHeader) == "" {
		errs = append(errs, errors.New("SECURITY_TOKEN_HEADER is required"))
	}
	if c.Security.RequireSignedPaths && c.Security.SigningSecret == "" {
		errs = append(errs, errors.New("REQUIRE_SIGNED_PATHS needs URL_SIGNING_SECRET"))
	}

	if re, err := regexp.Compile(c.Image.PathPattern); err != nil {
		errs = append(errs, fmt.Errorf("IMAGE_PATH_PATTERN: %w", err))
	} else if re.NumSubexp() < 1 {
		errs = append(errs, errors.New("IMAGE_PATH_PATTERN must capture the image id"))
	}
	if c.Image.MaxResponseBytes <= 0 {
		errs = append(errs, errors.New("MAX_RESPONSE_BYTES must be positive"))
	}

	if strings.TrimSpace(c.Storage.OriginalsBucket) == "" || strings.TrimSpace(c.Storage.ProcessedBucket) == "" {
		errs = append(errs, errors.New("MINIO_ORIGINALS_BUCKET and MINIO_PROCESSED_BUCKET are required"))
	}

	if c.Edge.OriginURL != "" {
		if u, err := url.Parse(c.Edge.OriginURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("ORIGIN_URL must be an absolute url, got %q", c.Edge.OriginURL))
		}
	}

	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
		errs = append(errs, errors.New("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be positive"))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, errors.New("OTEL_TRACES_SAMPLE_RATIO must be within [0, 1]"))
	}
	if c.Worker.Concurrency < 1 || c.Worker.MaxActiveJobs < 1 {
		errs = append(errs, errors.New("WORKER_CONCURRENCY and WORKER_MAX_ACTIVE_JOBS must be positive"))
	}

	if c.Webhook.MaxAttempts < 1 {
		errs = append(errs, errors.New("WEBHOOK_MAX_ATTEMPTS must be positive"))
	}

	return errors.Join(errs...)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}
