// Package optimizer turns an image path into an optimized rendition: it
// authorizes the request, parses the path, loads the original, renders it and
// persists the output next to the path it was requested under.
package optimizer

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dunamismax/imgopt/internal/domain"
	"github.com/dunamismax/imgopt/internal/params"
	"github.com/dunamismax/imgopt/internal/pipeline"
	"github.com/dunamismax/imgopt/internal/signature"
	"github.com/dunamismax/imgopt/internal/storage"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var (
	ErrInvalidPath   = errors.New("invalid image path")
	ErrImageNotFound = errors.New("image not found")
)

const DefaultMaxResponseBytes = 5 * 1024 * 1024

type Originals interface {
	Load(ctx context.Context, key string) ([]byte, error)
}

type Outputs interface {
	Save(ctx context.Context, key string, data []byte, contentType, cacheControl string) error
}

type Renderer interface {
	Optimize(ctx context.Context, source []byte, req params.Request) (pipeline.Result, error)
}

type Config struct {
	OriginalsPrefix    string
	CacheControl       string
	MaxResponseBytes   int
	SecurityToken      string
	TokenHeader        string
	SigningSecret      string
	RequireSignedPaths bool
}

type Request struct {
	Method string
	Path   string
	Header http.Header
}

// Rendered describes an output written to the processed bucket.
type Rendered struct {
	Key         string        `json:"key"`
	Format      domain.Format `json:"format"`
	ContentType string        `json:"content_type"`
	Bytes       int           `json:"bytes"`
	Width       int           `json:"width"`
	Height      int           `json:"height"`
}

type Optimizer struct {
	logger    zerolog.Logger
	parser    *params.Parser
	renderer  Renderer
	originals Originals
	outputs   Outputs
	cfg       Config
	tracer    trace.Tracer
}

func New(logger zerolog.Logger, parser *params.Parser, renderer Renderer, originals Originals, outputs Outputs, cfg Config) (*Optimizer, error) {
	switch {
	case parser == nil:
		return nil, errors.New("path parser is required")
	case renderer == nil:
		return nil, errors.New("renderer is required")
	case originals == nil || outputs == nil:
		return nil, errors.New("originals and outputs stores are required")
	case cfg.SecurityToken == "":
		return nil, errors.New("security token is required")
	case cfg.RequireSignedPaths && cfg.SigningSecret == "":
		return nil, errors.New("signed paths require a signing secret")
	}
	if cfg.TokenHeader == "" {
		cfg.TokenHeader = "X-Security-Token"
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = DefaultMaxResponseBytes
	}

	return &Optimizer{
		logger:    logger,
		parser:    parser,
		renderer:  renderer,
		originals: originals,
		outputs:   outputs,
		cfg:       cfg,
		tracer:    otel.Tracer("imgopt/optimizer"),
	}, nil
}

// Handle serves one image request. It never returns an error; every failure
// is mapped to a response.
func (o *Optimizer) Handle(ctx context.Context, req Request) (resp Response) {
	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Error().Interface("panic", rec).Str("path", req.Path).Msg("image request panicked")
			resp = internalServerError()
		}
	}()

	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return methodNotAllowed()
	}
	if !o.authorized(req.Header) {
		o.logger.Warn().Str("path", req.Path).Msg("wrong or missing security token")
		return forbidden()
	}

	path := req.Path
	if o.cfg.RequireSignedPaths {
		stripped, err := signature.Verify(path, o.cfg.SigningSecret)
		if err != nil {
			o.logger.Warn().Str("path", path).Msg("invalid path signature")
			return forbidden()
		}
		path = stripped
	}

	ctx, span := o.tracer.Start(ctx, "optimizer.handle", trace.WithAttributes(
		attribute.String("http.method", req.Method),
		attribute.String("image.path", path),
	))
	defer span.End()

	key, result, err := o.prepare(ctx, path)
	if err != nil {
		return o.failure(span, path, err)
	}

	contentType := result.Format.ContentType()
	headers := map[string]string{
		"content-type":  contentType,
		"cache-control": o.cfg.CacheControl,
	}

	var body string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return o.outputs.Save(gctx, key, result.Data, contentType, o.cfg.CacheControl)
	})
	g.Go(func() error {
		body = base64.StdEncoding.EncodeToString(result.Data)
		return nil
	})
	if err := g.Wait(); err != nil {
		return o.failure(span, path, fmt.Errorf("persist %s: %w", key, err))
	}

	span.SetAttributes(
		attribute.String("image.format", string(result.Format)),
		attribute.Int("image.bytes", len(result.Data)),
	)

	if req.Method == http.MethodHead {
		return Response{StatusCode: http.StatusOK, Headers: headers}
	}
	if len(body) > o.cfg.MaxResponseBytes {
		o.logger.Info().Str("key", key).Int("encoded_bytes", len(body)).Msg("response too large, deferring to stored copy")
		return retryLater()
	}
	return Response{
		StatusCode:      http.StatusOK,
		Headers:         headers,
		Body:            body,
		IsBase64Encoded: true,
	}
}

// Render optimizes the image named by path and persists it without building
// a response.
func (o *Optimizer) Render(ctx context.Context, path string) (Rendered, error) {
	ctx, span := o.tracer.Start(ctx, "optimizer.render", trace.WithAttributes(
		attribute.String("image.path", path),
	))
	defer span.End()

	key, result, err := o.prepare(ctx, path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "render failed")
		return Rendered{}, err
	}

	contentType := result.Format.ContentType()
	if err := o.outputs.Save(ctx, key, result.Data, contentType, o.cfg.CacheControl); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return Rendered{}, fmt.Errorf("persist %s: %w", key, err)
	}

	return Rendered{
		Key:         key,
		Format:      result.Format,
		ContentType: contentType,
		Bytes:       len(result.Data),
		Width:       result.Operation.Resize.Width,
		Height:      result.Operation.Resize.Height,
	}, nil
}

func (o *Optimizer) prepare(ctx context.Context, path string) (string, pipeline.Result, error) {
	req := o.parser.Parse(path)
	if req.Error == params.MsgMissingID {
		return "", pipeline.Result{}, fmt.Errorf("%w: %s", ErrImageNotFound, req.Error)
	}
	if req.Error != "" {
		return "", pipeline.Result{}, fmt.Errorf("%w: %s", ErrInvalidPath, req.Error)
	}

	original, err := o.originals.Load(ctx, o.cfg.OriginalsPrefix+req.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", pipeline.Result{}, fmt.Errorf("%w: %s", ErrImageNotFound, req.ID)
		}
		return "", pipeline.Result{}, fmt.Errorf("load original %s: %w", req.ID, err)
	}

	result, err := o.renderer.Optimize(ctx, original, req)
	if err != nil {
		return "", pipeline.Result{}, fmt.Errorf("optimize %s: %w", req.ID, err)
	}

	return strings.TrimPrefix(path, "/"), result, nil
}

func (o *Optimizer) failure(span trace.Span, path string, err error) Response {
	switch {
	case errors.Is(err, ErrImageNotFound):
		return notFound()
	case errors.Is(err, ErrInvalidPath), errors.Is(err, pipeline.ErrInvalidGeometry):
		o.logger.Debug().Err(err).Str("path", path).Msg("rejected image path")
		return badRequest()
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "image request failed")
		o.logger.Error().Err(err).Str("path", path).Msg("image request failed")
		return internalServerError()
	}
}

func (o *Optimizer) authorized(header http.Header) bool {
	got := header.Get(o.cfg.TokenHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(o.cfg.SecurityToken)) == 1
}
