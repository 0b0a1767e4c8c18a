package api

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/imgopt/internal/domain"
	"github.com/dunamismax/imgopt/internal/id"
	"github.com/dunamismax/imgopt/internal/optimizer"
	"github.com/dunamismax/imgopt/internal/queue"
	"github.com/dunamismax/imgopt/internal/store"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger        zerolog.Logger
	images        imageHandler
	queueClient   queueEnqueuer
	jobStore      store.JobStore
	readiness     map[string]Pinger
	rateLimiter   RateLimiter
	token         string
	tokenHeader   string
	subjectHeader string
	metrics       *metrics
	tracer        trace.Tracer
	mux           *http.ServeMux
}

type imageHandler interface {
	Handle(ctx context.Context, req optimizer.Request) optimizer.Response
}

type queueEnqueuer interface {
	EnqueuePrerender(ctx context.Context, payload queue.PrerenderPayload) (*asynq.TaskInfo, error)
}

// Pinger is a dependency checked by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Queue       queueEnqueuer
	JobStore    store.JobStore
	RateLimiter RateLimiter
	Readiness   map[string]Pinger

	SecurityToken string
	TokenHeader   string
	// RateLimitSubjectHeader identifies a client for rate limiting.
	RateLimitSubjectHeader string
}

func NewServer(logger zerolog.Logger, images imageHandler, opts Options) *Server {
	if opts.TokenHeader == "" {
		opts.TokenHeader = "X-Security-Token"
	}
	if opts.RateLimitSubjectHeader == "" {
		opts.RateLimitSubjectHeader = "X-Client-ID"
	}
	if opts.JobStore == nil {
		opts.JobStore = store.NewMemoryJobStore()
	}

	s := &Server{
		logger:        logger,
		images:        images,
		queueClient:   opts.Queue,
		jobStore:      opts.JobStore,
		readiness:     opts.Readiness,
		rateLimiter:   opts.RateLimiter,
		token:         opts.SecurityToken,
		tokenHeader:   opts.TokenHeader,
		subjectHeader: opts.RateLimitSubjectHeader,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("imgopt/api"),
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.withRequestLog(s.metrics.withHTTPMetrics(s.withTracing(s.withRateLimit(http.HandlerFunc(s.dispatch)))))
}

// dispatch sends image paths straight to the image handler. ServeMux would
// clean empty segments out of them and answer with a redirect.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	if routeLabel(r.URL.Path) == "image" {
		s.handleImage(w, r)
		return
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /readyz", s.handleReadyz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /v1/prerender", s.handleCreatePrerender)
	s.mux.HandleFunc("GET /v1/prerender/{id}", s.handleGetPrerender)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.readiness))
	ready := true
	for name, p := range s.readiness {
		if err := p.Ping(ctx); err != nil {
			s.logger.Warn().Err(err).Str("dependency", name).Msg("readiness check failed")
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	}
	writeJSON(w, status, map[string]any{"status": state, "checks": checks})
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	resp := s.images.Handle(r.Context(), optimizer.Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Header: r.Header,
	})
	s.metrics.imageResponses.WithLabelValues(statusLabel(resp.StatusCode), resp.Headers["content-type"]).Inc()
	writeImageResponse(w, resp)
}

func (s *Server) handleCreatePrerender(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
		return
	}
	if s.queueClient == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "prerender queue unavailable"})
		return
	}

	var req domain.PrerenderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	job := domain.Job{
		ID:         id.New(),
		Status:     domain.JobStatusCreated,
		Paths:      req.Paths,
		WebhookURL: strings.TrimSpace(req.WebhookURL),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("create prerender job failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create job"})
		return
	}

	taskInfo, err := s.queueClient.EnqueuePrerender(r.Context(), queue.PrerenderPayload{
		JobID:       job.ID,
		Paths:       job.Paths,
		WebhookURL:  job.WebhookURL,
		RequestedAt: now,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("enqueue prerender job failed")
		if _, updateErr := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusFailed); updateErr != nil {
			s.logger.Warn().Err(updateErr).Str("job_id", job.ID).Msg("update status failed")
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue job"})
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("update status failed")
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"paths":       len(job.Paths),
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"status_url":  fmt.Sprintf("/v1/prerender/%s", job.ID),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

func (s *Server) handleGetPrerender(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
		return
	}

	jobID := strings.TrimSpace(r.PathValue("id"))
	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("fetch prerender job failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.token == "" {
		return false
	}
	got := r.Header.Get(s.tokenHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) == 1
}

// writeImageResponse writes an optimizer response, decoding base64 bodies.
func writeImageResponse(w http.ResponseWriter, resp optimizer.Response) {
	for name, value := range resp.Headers {
		w.Header().Set(name, value)
	}

	body := []byte(resp.Body)
	if resp.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(resp.Body)
		if err != nil {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, "internal server error")
			return
		}
		body = decoded
	}

	w.WriteHeader(resp.StatusCode)
	if len(body) > 0 {
		_, _ = w.Write(body)
	}
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
