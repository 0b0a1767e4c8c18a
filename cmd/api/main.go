package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/imgopt/internal/api"
	"github.com/dunamismax/imgopt/internal/app"
	"github.com/dunamismax/imgopt/internal/config"
	"github.com/dunamismax/imgopt/internal/pipeline"
	"github.com/dunamismax/imgopt/internal/queue"
	"github.com/dunamismax/imgopt/internal/ratelimit"
	"github.com/dunamismax/imgopt/internal/store"
	"github.com/dunamismax/imgopt/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := telemetry.NewLogger(telemetry.LogConfig{Level: cfg.Log.Level, Format: cfg.Log.Format}, "api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "imgopt-api",
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("tracing setup failed")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("tracing shutdown failed")
		}
	}()

	if err := pipeline.Startup(); err != nil {
		logger.Fatal().Err(err).Msg("image codec startup failed")
	}
	defer pipeline.Shutdown()

	images, err := app.NewImages(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("image pipeline setup failed")
	}

	jobStore, closeJobs, err := app.NewJobStore(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("job store setup failed")
	}
	defer func() {
		if err := closeJobs(); err != nil {
			logger.Error().Err(err).Msg("job store close failed")
		}
	}()

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Error().Err(err).Msg("queue client close failed")
		}
	}()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.RedisAddr,
		Password: cfg.Queue.RedisPassword,
		DB:       cfg.Queue.RedisDB,
	})
	defer func() { _ = redisClient.Close() }()

	readiness := map[string]api.Pinger{
		"originals": images.Originals,
		"processed": images.Processed,
		"redis":     pingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }),
	}
	if pg, ok := jobStore.(*store.PostgresJobStore); ok {
		readiness["postgres"] = pg
	}

	var limiter api.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter, err = ratelimit.NewRedisFixedWindow(redisClient, cfg.RateLimit.Requests, cfg.RateLimit.Window, "imgopt:ratelimit")
		if err != nil {
			logger.Fatal().Err(err).Msg("rate limiter setup failed")
		}
	}

	srv := api.NewServer(logger, images.Optimizer, api.Options{
		Queue:                  queueClient,
		JobStore:               jobStore,
		RateLimiter:            limiter,
		Readiness:              readiness,
		SecurityToken:          cfg.Security.Token,
		TokenHeader:            cfg.Security.TokenHeader,
		RateLimitSubjectHeader: cfg.RateLimit.SubjectHeader,
	})

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("addr", cfg.API.Addr).
			Str("codec", pipeline.CodecName()).
			Bool("signed_paths", cfg.Security.RequireSignedPaths).
			Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server failed")
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info().Msg("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
