package app

import (
	"context"
	"testing"

	"github.com/dunamismax/imgopt/internal/config"
	"github.com/dunamismax/imgopt/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobStoreDefaultsToMemory(t *testing.T) {
	jobs, closeJobs, err := NewJobStore(context.Background(), config.DatabaseConfig{})
	require.NoError(t, err)
	assert.IsType(t, &store.MemoryJobStore{}, jobs)
	assert.NoError(t, closeJobs())
}

func TestNewSharedJobStoreRequiresDSN(t *testing.T) {
	jobs, closeJobs, err := NewSharedJobStore(context.Background(), config.DatabaseConfig{})
	assert.ErrorIs(t, err, ErrSharedStoreRequired)
	assert.Nil(t, jobs)
	assert.Nil(t, closeJobs)
}
