package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dunamismax/imgopt/internal/config"
	"github.com/dunamismax/imgopt/internal/domain"
	"github.com/dunamismax/imgopt/internal/optimizer"
	"github.com/dunamismax/imgopt/internal/queue"
	"github.com/dunamismax/imgopt/internal/store"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	EventPrerenderCompleted = "prerender.completed"
	EventPrerenderFailed    = "prerender.failed"

	// pathsInFlight bounds concurrent renders inside one job.
	pathsInFlight = 4
)

type renderer interface {
	Render(ctx context.Context, path string) (optimizer.Rendered, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

type Server struct {
	logger        zerolog.Logger
	server        *asynq.Server
	sem           chan struct{}
	renderer      renderer
	webhookClient webhookSender
	jobStore      store.JobStore
	metrics       *metrics
	tracer        trace.Tracer
}

func NewServer(
	logger zerolog.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	renderer renderer,
	webhookClient webhookSender,
	jobStore store.JobStore,
) (*Server, error) {
	if renderer == nil {
		return nil, errors.New("renderer is required")
	}
	if jobStore == nil {
		return nil, errors.New("job store is required")
	}

	s := newServer(logger, workerCfg, renderer, webhookClient, jobStore)
	s.server = asynq.NewServer(
		queueCfg.RedisClientOpt(),
		asynq.Config{
			Concurrency: workerCfg.Concurrency,
			Queues: map[string]int{
				queueCfg.Name: 1,
			},
			LogLevel: asynq.InfoLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Error().
					Err(err).
					Str("type", task.Type()).
					Int("retry", retried).
					Int("max_retry", maxRetry).
					Msg("task failed")
			}),
		},
	)
	return s, nil
}

func newServer(logger zerolog.Logger, workerCfg config.WorkerConfig, renderer renderer, webhookClient webhookSender, jobStore store.JobStore) *Server {
	return &Server{
		logger:        logger,
		sem:           make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		renderer:      renderer,
		webhookClient: webhookClient,
		jobStore:      jobStore,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("imgopt/worker"),
	}
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypePrerender, s.handlePrerender)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handlePrerender(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParsePrerenderPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.prerender", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.Int("job.paths", len(payload.Paths)),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(outcome).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	logger := s.logger.With().Str("job_id", payload.JobID).Logger()
	logger.Info().Int("paths", len(payload.Paths)).Msg("prerendering")

	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	results := s.renderAll(ctx, payload.Paths)
	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}

	status, event := domain.JobStatusSucceeded, EventPrerenderCompleted
	if failed > 0 {
		status, event = domain.JobStatusFailed, EventPrerenderFailed
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d paths failed", failed, len(results)))
	}

	if _, err := s.jobStore.Complete(ctx, payload.JobID, status, results); err != nil {
		logger.Error().Err(err).Msg("job completion update failed")
	}
	logger.Info().Str("status", status).Int("failed", failed).Msg("prerender finished")

	if err := s.dispatchWebhook(ctx, payload, event, map[string]any{
		"job_id":       payload.JobID,
		"status":       status,
		"requested_at": payload.RequestedAt,
		"finished_at":  time.Now().UTC(),
		"results":      results,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return err
	}

	outcome = status
	if failed == 0 {
		span.SetStatus(codes.Ok, "prerendered")
	}
	return nil
}

// renderAll keeps going past failed paths; each failure is recorded on its
// own result.
func (s *Server) renderAll(ctx context.Context, paths []string) []domain.PathResult {
	results := make([]domain.PathResult, len(paths))

	var g errgroup.Group
	g.SetLimit(pathsInFlight)
	for i, path := range paths {
		g.Go(func() error {
			results[i] = s.renderOne(ctx, path)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Server) renderOne(ctx context.Context, path string) domain.PathResult {
	rendered, err := s.renderer.Render(ctx, path)
	if err != nil {
		s.metrics.pathsTotal.WithLabelValues(pathOutcome(err)).Inc()
		s.logger.Warn().Err(err).Str("path", path).Msg("prerender path failed")
		return domain.PathResult{Path: path, Error: err.Error()}
	}

	s.metrics.pathsTotal.WithLabelValues("rendered").Inc()
	s.metrics.outputBytesTotal.Add(float64(rendered.Bytes))
	return domain.PathResult{
		Path:   path,
		Key:    rendered.Key,
		Format: rendered.Format,
		Bytes:  rendered.Bytes,
		Width:  rendered.Width,
		Height: rendered.Height,
	}
}

func pathOutcome(err error) string {
	switch {
	case errors.Is(err, optimizer.ErrImageNotFound):
		return "not_found"
	case errors.Is(err, optimizer.ErrInvalidPath):
		return "invalid"
	default:
		return "error"
	}
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Str("status", status).Msg("job status update failed")
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.PrerenderPayload, event string, body map[string]any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.Error().Err(err).Str("job_id", payload.JobID).Str("event", event).Msg("webhook delivery failed")
		return fmt.Errorf("dispatch webhook: %w", err)
	}
	return nil
}
