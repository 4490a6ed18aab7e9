package temporal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/document-acquisition-service/internal/config"
)

func TestWorkerConfigFrom(t *testing.T) {
	wc := WorkerConfigFrom(config.TemporalConfig{
		TaskQueue:               "acq-tasks",
		MaxConcurrentActivities: 8,
		ActivityPollers:         3,
		WorkerStopTimeout:       time.Minute,
	})

	assert.Equal(t, WorkerConfig{
		TaskQueue:           "acq-tasks",
		ActivityConcurrency: 8,
		ActivityPollers:     3,
		StopTimeout:         time.Minute,
	}, wc)
}

func TestWorkerConfig_Options(t *testing.T) {
	t.Run("zero values get defaults", func(t *testing.T) {
		opts := WorkerConfig{}.options()

		assert.Equal(t, defaultActivityConcurrency, opts.MaxConcurrentActivityExecutionSize)
		assert.Equal(t, defaultWorkflowTaskConcurrency, opts.MaxConcurrentWorkflowTaskExecutionSize)
		assert.Equal(t, defaultActivityPollers, opts.MaxConcurrentActivityTaskPollers)
		assert.Equal(t, defaultWorkflowPollers, opts.MaxConcurrentWorkflowTaskPollers)
		assert.Equal(t, defaultWorkerStopTimeout, opts.WorkerStopTimeout)
	})

	t.Run("set values win, negatives fall back", func(t *testing.T) {
		opts := WorkerConfig{
			ActivityConcurrency:     8,
			WorkflowTaskConcurrency: 75,
			ActivityPollers:         -1,
			StopTimeout:             time.Minute,
		}.options()

		assert.Equal(t, 8, opts.MaxConcurrentActivityExecutionSize)
		assert.Equal(t, 75, opts.MaxConcurrentWorkflowTaskExecutionSize)
		assert.Equal(t, defaultActivityPollers, opts.MaxConcurrentActivityTaskPollers)
		assert.Equal(t, time.Minute, opts.WorkerStopTimeout)
	})
}

func TestNewWorkerManager_RequiresTaskQueue(t *testing.T) {
	_, err := NewWorkerManager(nil, WorkerConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task queue is required")
}

func TestWorkerManager_RunWithNothingRegistered(t *testing.T) {
	m := &WorkerManager{taskQueue: "acq-tasks"}
	err := m.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing registered")
}

func TestWorkflowIDs(t *testing.T) {
	assert.Equal(t, "acquire-proj-1-10.1/x", AcquireDocumentWorkflowID("proj-1", "10.1/x"))
	assert.Equal(t, "acquire-batch-proj-1-b1", AcquireBatchWorkflowID("proj-1", "b1"))
}
