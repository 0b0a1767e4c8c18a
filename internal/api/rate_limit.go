package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/imgopt/internal/ratelimit"
)

type RateLimiter interface {
	Allow(ctx context.Context, subject string) (ratelimit.Decision, error)
}

// withRateLimit fails open: a limiter error lets the request through.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := routeLabel(r.URL.Path)
		if !shouldRateLimit(r.Method, route) {
			next.ServeHTTP(w, r)
			return
		}

		subject := s.rateLimitSubject(r) + ":" + route
		decision, err := s.rateLimiter.Allow(r.Context(), subject)
		if err != nil {
			s.logger.Warn().Err(err).Str("subject", subject).Msg("rate limiter check failed")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		s.metrics.rateLimitRejected.WithLabelValues(route).Inc()
		rejectRateLimited(w, route, decision.RetryAfter)
	})
}

func (s *Server) rateLimitSubject(r *http.Request) string {
	if subject := strings.TrimSpace(r.Header.Get(s.subjectHeader)); subject != "" {
		return subject
	}
	return "anonymous"
}

// rejectRateLimited answers image clients in the same plain text shape as
// other image errors. A 429 must never be cached by an upstream CDN.
func rejectRateLimited(w http.ResponseWriter, route string, retryAfter time.Duration) {
	seconds := max(1, int(retryAfter.Round(time.Second).Seconds()))
	w.Header().Set("Retry-After", strconv.Itoa(seconds))

	if route != "image" {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error": "rate limit exceeded",
		})
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = io.WriteString(w, "too many requests")
}

// shouldRateLimit covers image renders and prerender submissions.
func shouldRateLimit(method, route string) bool {
	switch route {
	case "image":
		return method == http.MethodGet || method == http.MethodHead
	case "/v1/prerender":
		return method == http.MethodPost
	default:
		return false
	}
}
