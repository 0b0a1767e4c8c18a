package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	MaxPrerenderPaths = 100
)

// PrerenderRequest asks the worker to render and persist a batch of image
// paths ahead of the first client request.
type PrerenderRequest struct {
	Paths      []string `json:"paths"`
	WebhookURL string   `json:"webhook_url,omitempty"`
}

type Job struct {
	ID         string       `json:"id"`
	Status     string       `json:"status"`
	Paths      []string     `json:"paths"`
	WebhookURL string       `json:"webhook_url,omitempty"`
	Results    []PathResult `json:"results,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// PathResult is the outcome of rendering a single path of a job.
type PathResult struct {
	Path   string `json:"path"`
	Key    string `json:"key,omitempty"`
	Format Format `json:"format,omitempty"`
	Bytes  int    `json:"bytes,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (r PrerenderRequest) Validate() error {
	if len(r.Paths) == 0 {
		return errors.New("paths must contain at least one path")
	}
	if len(r.Paths) > MaxPrerenderPaths {
		return fmt.Errorf("paths must not contain more than %d entries", MaxPrerenderPaths)
	}
	for i, p := range r.Paths {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("paths[%d] must start with /", i)
		}
	}
	if u := strings.TrimSpace(r.WebhookURL); u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return fmt.Errorf("unsupported webhook_url scheme: %s", r.WebhookURL)
	}
	return nil
}
