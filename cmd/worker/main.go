package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dunamismax/imgopt/internal/app"
	"github.com/dunamismax/imgopt/internal/config"
	"github.com/dunamismax/imgopt/internal/pipeline"
	"github.com/dunamismax/imgopt/internal/telemetry"
	"github.com/dunamismax/imgopt/internal/webhook"
	"github.com/dunamismax/imgopt/internal/worker"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := telemetry.NewLogger(telemetry.LogConfig{Level: cfg.Log.Level, Format: cfg.Log.Format}, "worker")
	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "imgopt-worker",
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

	jobStore, closeJobs, err := app.NewSharedJobStore(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("job store setup failed")
	}
	defer func() {
		if err := closeJobs(); err != nil {
			logger.Error().Err(err).Msg("job store close failed")
		}
	}()

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret:  cfg.Webhook.SigningSecret,
		Timeout:        cfg.Webhook.Timeout,
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		InitialBackoff: cfg.Webhook.InitialBackoff,
		MaxBackoff:     cfg.Webhook.MaxBackoff,
	})

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, images.Optimizer, webhookClient, jobStore)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker setup failed")
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	defer func() { _ = metricsServer.Close() }()

	logger.Info().
		Int("concurrency", cfg.Worker.Concurrency).
		Int("max_active_jobs", cfg.Worker.MaxActiveJobs).
		Str("queue", cfg.Queue.Name).
		Str("redis", cfg.Queue.RedisAddr).
		Str("codec", pipeline.CodecName()).
		Msg("starting worker")

	// Run blocks until SIGTERM or SIGINT and drains in-flight tasks.
	if err := srv.Run(); err != nil {
		logger.Error().Err(err).Msg("worker failed")
	}
}
