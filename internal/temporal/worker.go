package temporal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/helixir/document-acquisition-service/internal/config"
)

// WorkerConfig sizes the worker polling the acquisition task queue. Zero
// fields take the package defaults.
type WorkerConfig struct {
	TaskQueue string
	// ActivityConcurrency bounds acquisitions and sweeps running at once.
	ActivityConcurrency int
	// WorkflowTaskConcurrency bounds workflow tasks running at once.
	WorkflowTaskConcurrency int
	ActivityPollers         int
	WorkflowPollers         int
	// StopTimeout is how long in-flight activities get to finish on shutdown.
	StopTimeout time.Duration
}

const (
	defaultActivityConcurrency     = 20
	defaultWorkflowTaskConcurrency = 50
	defaultActivityPollers         = 4
	defaultWorkflowPollers         = 2
	defaultWorkerStopTimeout       = 30 * time.Second
)

// WorkerConfigFrom maps the temporal configuration section onto a
// WorkerConfig.
func WorkerConfigFrom(c config.TemporalConfig) WorkerConfig {
	return WorkerConfig{
		TaskQueue:           c.TaskQueue,
		ActivityConcurrency: c.MaxConcurrentActivities,
		ActivityPollers:     c.ActivityPollers,
		StopTimeout:         c.WorkerStopTimeout,
	}
}

func orDefault[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

func (c WorkerConfig) options() worker.Options {
	return worker.Options{
		MaxConcurrentActivityExecutionSize:     orDefault(c.ActivityConcurrency, defaultActivityConcurrency),
		MaxConcurrentWorkflowTaskExecutionSize: orDefault(c.WorkflowTaskConcurrency, defaultWorkflowTaskConcurrency),
		MaxConcurrentActivityTaskPollers:       orDefault(c.ActivityPollers, defaultActivityPollers),
		MaxConcurrentWorkflowTaskPollers:       orDefault(c.WorkflowPollers, defaultWorkflowPollers),
		WorkerStopTimeout:                      orDefault(c.StopTimeout, defaultWorkerStopTimeout),
	}
}

// WorkerManager owns one worker.Worker and the set of things registered on
// it.
type WorkerManager struct {
	w         worker.Worker
	taskQueue string
	nWf, nAct int
}

// NewWorkerManager creates a worker on cfg.TaskQueue. Nothing polls until
// Run.
func NewWorkerManager(c client.Client, cfg WorkerConfig) (*WorkerManager, error) {
	if cfg.TaskQueue == "" {
		return nil, errors.New("task queue is required")
	}
	return &WorkerManager{
		w:         worker.New(c, cfg.TaskQueue, cfg.options()),
		taskQueue: cfg.TaskQueue,
	}, nil
}

func (m *WorkerManager) RegisterWorkflow(wf interface{}) {
	m.w.RegisterWorkflow(wf)
	m.nWf++
}

// RegisterActivity accepts an activity function or a struct whose exported
// methods are activities.
func (m *WorkerManager) RegisterActivity(act interface{}) {
	m.w.RegisterActivity(act)
	m.nAct++
}

// Registered reports how many workflows and activities have been registered.
func (m *WorkerManager) Registered() (workflows, activities int) {
	return m.nWf, m.nAct
}

func (m *WorkerManager) TaskQueue() string { return m.taskQueue }

// Run polls until ctx is cancelled and then stops the worker, which waits up
// to the stop timeout for in-flight activities.
func (m *WorkerManager) Run(ctx context.Context) error {
	if m.nWf+m.nAct == 0 {
		return fmt.Errorf("worker on %s has nothing registered", m.taskQueue)
	}
	if err := m.w.Start(); err != nil {
		return fmt.Errorf("start worker on %s: %w", m.taskQueue, err)
	}
	<-ctx.Done()
	m.w.Stop()
	return nil
}
