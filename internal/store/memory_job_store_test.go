package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dunamismax/imgopt/internal/domain"
)

func TestMemoryJobStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	job := domain.Job{
		ID:        "job-1",
		Status:    domain.JobStatusCreated,
		Paths:     []string{"/image/a/webp", "/image/b"},
		CreatedAt: fixed.Add(-time.Hour),
		UpdatedAt: fixed.Add(-time.Hour),
	}
	if err := s.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}

	job.Paths[0] = "mutated"
	got, ok, err := s.Get(ctx, "job-1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Paths[0] != "/image/a/webp" {
		t.Fatalf("stored job shares caller slice: %v", got.Paths)
	}

	updated, err := s.UpdateStatus(ctx, "job-1", domain.JobStatusProcessing)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if updated.Status != domain.JobStatusProcessing || !updated.UpdatedAt.Equal(fixed) {
		t.Fatalf("unexpected job after update: %+v", updated)
	}

	results := []domain.PathResult{
		{Path: "/image/a/webp", Key: "image/a/webp", Format: domain.FormatWebP, Bytes: 10},
		{Path: "/image/b", Error: "image not found"},
	}
	done, err := s.Complete(ctx, "job-1", domain.JobStatusFailed, results)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != domain.JobStatusFailed || len(done.Results) != 2 {
		t.Fatalf("unexpected completed job: %+v", done)
	}
}

func TestMemoryJobStoreUnknownJob(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()

	if _, ok, err := s.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("expected missing job, got ok=%v err=%v", ok, err)
	}
	if _, err := s.UpdateStatus(ctx, "missing", domain.JobStatusQueued); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if _, err := s.Complete(ctx, "missing", domain.JobStatusSucceeded, nil); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}
