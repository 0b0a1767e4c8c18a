package main

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/imgopt/internal/config"
	"github.com/dunamismax/imgopt/internal/edge"
	"github.com/dunamismax/imgopt/internal/storage"
	"github.com/dunamismax/imgopt/internal/telemetry"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := telemetry.NewLogger(telemetry.LogConfig{Level: cfg.Log.Level, Format: cfg.Log.Format}, "edge")

	if cfg.Security.SigningSecret == "" {
		logger.Fatal().Msg("URL_SIGNING_SECRET is required by the edge")
	}
	origin, err := url.Parse(cfg.Edge.OriginURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid ORIGIN_URL")
	}

	processed, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.ProcessedBucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("processed bucket client setup failed")
	}

	filter, err := edge.NewFilter(logger, origin, edge.Config{
		SigningSecret: cfg.Security.SigningSecret,
		SecurityToken: cfg.Security.Token,
		TokenHeader:   cfg.Security.TokenHeader,
		Stored:        processed,
		ForwardSigned: cfg.Security.RequireSignedPaths,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("edge filter setup failed")
	}

	httpServer := &http.Server{
		Addr:         cfg.Edge.Addr,
		Handler:      filter,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Edge.Addr).Str("origin", origin.String()).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server failed")
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info().Msg("shutting down")
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
