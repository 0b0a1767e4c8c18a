// Package app assembles the components shared by the api and worker binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dunamismax/imgopt/internal/config"
	"github.com/dunamismax/imgopt/internal/optimizer"
	"github.com/dunamismax/imgopt/internal/params"
	"github.com/dunamismax/imgopt/internal/pipeline"
	"github.com/dunamismax/imgopt/internal/storage"
	"github.com/dunamismax/imgopt/internal/store"
	"github.com/rs/zerolog"
)

// Images is the image request path: the optimizer and the two buckets it
// reads from and writes to.
type Images struct {
	Optimizer *optimizer.Optimizer
	Originals *storage.Client
	Processed *storage.Client
}

// NewImages expects pipeline.Startup to have been called.
func NewImages(ctx context.Context, cfg config.Config, logger zerolog.Logger) (Images, error) {
	originals, err := newBucket(ctx, cfg.Storage, cfg.Storage.OriginalsBucket)
	if err != nil {
		return Images{}, err
	}
	processed, err := newBucket(ctx, cfg.Storage, cfg.Storage.ProcessedBucket)
	if err != nil {
		return Images{}, err
	}

	parser, err := params.NewParser(cfg.Image.PathPattern)
	if err != nil {
		return Images{}, fmt.Errorf("compile path pattern: %w", err)
	}

	codec, err := pipeline.NewCodec()
	if err != nil {
		return Images{}, fmt.Errorf("create %s codec: %w", pipeline.CodecName(), err)
	}
	selector := pipeline.NewSelector(codec, pipeline.SelectorConfig{
		AlphaSourceFormats: cfg.Image.AlphaSourceFormats,
		DefaultBackground:  cfg.Image.DefaultBackground,
	})

	opt, err := optimizer.New(
		logger.With().Str("codec", pipeline.CodecName()).Logger(),
		parser,
		selector,
		originals,
		processed,
		optimizer.Config{
			OriginalsPrefix:    cfg.Image.OriginalsPrefix,
			CacheControl:       cfg.Image.CacheControl,
			MaxResponseBytes:   cfg.Image.MaxResponseBytes,
			SecurityToken:      cfg.Security.Token,
			TokenHeader:        cfg.Security.TokenHeader,
			SigningSecret:      cfg.Security.SigningSecret,
			RequireSignedPaths: cfg.Security.RequireSignedPaths,
		},
	)
	if err != nil {
		return Images{}, fmt.Errorf("create optimizer: %w", err)
	}

	return Images{Optimizer: opt, Originals: originals, Processed: processed}, nil
}

func newBucket(ctx context.Context, cfg config.StorageConfig, bucket string) (*storage.Client, error) {
	client, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Endpoint,
		Access:   cfg.AccessKey,
		Secret:   cfg.SecretKey,
		Bucket:   bucket,
		UseSSL:   cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create storage client for %s: %w", bucket, err)
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// ErrSharedStoreRequired is returned when a process that shares jobs with
// another process is configured with the in-memory store.
var ErrSharedStoreRequired = errors.New("POSTGRES_DSN is required: the in-memory job store is not shared between processes")

// NewSharedJobStore is NewJobStore for processes that read or write jobs
// created elsewhere, such as the worker.
func NewSharedJobStore(ctx context.Context, cfg config.DatabaseConfig) (store.JobStore, func() error, error) {
	if cfg.DSN == "" {
		return nil, nil, ErrSharedStoreRequired
	}
	return NewJobStore(ctx, cfg)
}

// NewJobStore returns the postgres store when a DSN is configured and the
// in-memory store otherwise. The in-memory store only serves the process that
// created it. The returned close func is never nil.
func NewJobStore(ctx context.Context, cfg config.DatabaseConfig) (store.JobStore, func() error, error) {
	if cfg.DSN == "" {
		return store.NewMemoryJobStore(), func() error { return nil }, nil
	}
	pg, err := store.NewPostgresJobStore(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}
