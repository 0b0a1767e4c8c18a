package store

import (
	"context"
	"errors"

	"github.com/dunamismax/imgopt/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
	// Complete records the per path results and the final status of a job.
	Complete(ctx context.Context, id, status string, results []domain.PathResult) (domain.Job, error)
}
