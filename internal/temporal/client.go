package temporal

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"

	"github.com/helixir/document-acquisition-service/internal/config"
	"github.com/helixir/document-acquisition-service/internal/domain"
	"github.com/helixir/document-acquisition-service/internal/observability"
	"github.com/helixir/document-acquisition-service/internal/temporal/activities"
)

const (
	// DefaultAcquisitionExecutionTimeout bounds one acquisition workflow,
	// activity retries included.
	DefaultAcquisitionExecutionTimeout = time.Hour

	// DefaultBatchExecutionTimeout bounds one batch acquisition workflow.
	DefaultBatchExecutionTimeout = 12 * time.Hour

	// DefaultHealthCheckTimeout applies when ClientConfig leaves it unset.
	DefaultHealthCheckTimeout = 5 * time.Second
)

// ClientConfig says where the Temporal frontend is and which task queue the
// acquisition workflows use.
type ClientConfig struct {
	HostPort  string
	Namespace string
	TaskQueue string
	// TLS is nil or disabled for plaintext connections.
	TLS                *config.TemporalTLSConfig
	HealthCheckTimeout time.Duration
}

// ConfigFrom maps the temporal configuration section onto a ClientConfig.
func ConfigFrom(c config.TemporalConfig) ClientConfig {
	cc := ClientConfig{HostPort: c.HostPort, Namespace: c.Namespace, TaskQueue: c.TaskQueue}
	if c.TLS.Enabled {
		t := c.TLS
		cc.TLS = &t
	}
	return cc
}

// loadTLS reads the PEM files named by c. A client certificate is optional
// and so is the CA; without one the system roots are used.
func loadTLS(c *config.TemporalTLSConfig) (*tls.Config, error) {
	if c == nil || !c.Enabled {
		return nil, nil
	}
	out := &tls.Config{ServerName: c.ServerName, MinVersion: tls.VersionTLS12}

	if c.CertFile != "" || c.KeyFile != "" {
		pair, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("temporal tls: client key pair: %w", err)
		}
		out.Certificates = []tls.Certificate{pair}
	}
	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("temporal tls: read ca: %w", err)
		}
		roots := x509.NewCertPool()
		if !roots.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("temporal tls: no certificates in %s", c.CAFile)
		}
		out.RootCAs = roots
	}
	return out, nil
}

// NewClient dials Temporal. SDK logs are routed through logger.
func NewClient(cfg ClientConfig, logger zerolog.Logger) (client.Client, error) {
	tlsCfg, err := loadTLS(cfg.TLS)
	if err != nil {
		return nil, err
	}

	c, err := client.Dial(client.Options{
		HostPort:          cfg.HostPort,
		Namespace:         cfg.Namespace,
		Logger:            observability.NewTemporalLogger(logger),
		ConnectionOptions: client.ConnectionOptions{TLS: tlsCfg},
	})
	if err != nil {
		return nil, fmt.Errorf("dial temporal %s: %w", cfg.HostPort, err)
	}
	return c, nil
}

// AcquisitionClient starts, signals and queries the acquisition workflows.
// Workflow functions are passed in by the caller so this package does not
// import the workflows package.
type AcquisitionClient struct {
	tc            client.Client
	taskQueue     string
	healthTimeout time.Duration

	mu     sync.RWMutex
	closed bool
}

// NewAcquisitionClient wraps an existing Temporal client.
func NewAcquisitionClient(c client.Client, cfg ClientConfig) *AcquisitionClient {
	ht := cfg.HealthCheckTimeout
	if ht <= 0 {
		ht = DefaultHealthCheckTimeout
	}
	return &AcquisitionClient{tc: c, taskQueue: cfg.TaskQueue, healthTimeout: ht}
}

// Close closes the underlying client once. Later calls fail with
// ErrClientClosed.
func (c *AcquisitionClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.tc == nil {
		return
	}
	c.tc.Close()
	c.closed = true
}

func (c *AcquisitionClient) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Health round-trips to the frontend.
func (c *AcquisitionClient) Health(ctx context.Context) error {
	if c.isClosed() {
		return closedError("Health", "")
	}
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()
	_, err := c.tc.CheckHealth(ctx, &client.CheckHealthRequest{})
	return wrap("Health", err, "", "")
}

// start runs workflowFunc under opts and returns its run ID.
func (c *AcquisitionClient) start(ctx context.Context, op string, opts client.StartWorkflowOptions, workflowFunc interface{}, arg interface{}) (string, error) {
	if c.isClosed() {
		return "", closedError(op, opts.ID)
	}
	opts.TaskQueue = c.taskQueue
	run, err := c.tc.ExecuteWorkflow(ctx, opts, workflowFunc, arg)
	if err != nil {
		return "", wrap(op, err, opts.ID, "")
	}
	return run.GetRunID(), nil
}

// StartRetrySweep starts the singleton retry sweep, or attaches to the run
// already in progress.
func (c *AcquisitionClient) StartRetrySweep(ctx context.Context, workflowFunc interface{}, input RetrySweepInput) (string, error) {
	return c.start(ctx, "StartRetrySweep", client.StartWorkflowOptions{
		ID:                       RetrySweepWorkflowID,
		WorkflowIDConflictPolicy: enumspb.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
	}, workflowFunc, input)
}

// StartAcquisition starts a durable acquisition for one (project, DOI).
// Concurrent requests for the same pair attach to one execution.
func (c *AcquisitionClient) StartAcquisition(ctx context.Context, workflowFunc interface{}, projectID, doi string) (workflowID, runID string, err error) {
	workflowID = AcquireDocumentWorkflowID(projectID, doi)
	runID, err = c.start(ctx, "StartAcquisition", client.StartWorkflowOptions{
		ID:                       workflowID,
		WorkflowExecutionTimeout: DefaultAcquisitionExecutionTimeout,
		WorkflowIDConflictPolicy: enumspb.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
	}, workflowFunc, activities.AcquireDocumentInput{ProjectID: projectID, DOI: doi})
	if err != nil {
		return "", "", err
	}
	return workflowID, runID, nil
}

// AcquireDocument starts or joins the acquisition workflow for the pair and
// waits for its outcome.
func (c *AcquisitionClient) AcquireDocument(ctx context.Context, workflowFunc interface{}, projectID, doi string) (*domain.AcquisitionOutcome, error) {
	workflowID, runID, err := c.StartAcquisition(ctx, workflowFunc, projectID, doi)
	if err != nil {
		return nil, err
	}
	var out activities.AcquireDocumentOutput
	if err := c.GetWorkflowResult(ctx, workflowID, runID, &out); err != nil {
		return nil, err
	}
	return &domain.AcquisitionOutcome{
		ProjectID:   projectID,
		DOI:         out.DOI,
		Status:      out.Status,
		SourceUsed:  out.SourceUsed,
		Path:        out.Path,
		Attempts:    out.Attempts,
		NextRetryAt: out.NextRetryAt,
	}, nil
}

// StartBatch starts a batch acquisition under a fresh batch ID.
func (c *AcquisitionClient) StartBatch(ctx context.Context, workflowFunc interface{}, input AcquireBatchInput) (workflowID, runID string, err error) {
	workflowID = AcquireBatchWorkflowID(input.ProjectID, uuid.NewString())
	runID, err = c.start(ctx, "StartBatch", client.StartWorkflowOptions{
		ID:                       workflowID,
		WorkflowExecutionTimeout: DefaultBatchExecutionTimeout,
	}, workflowFunc, input)
	if err != nil {
		return "", "", err
	}
	return workflowID, runID, nil
}

// TriggerSweep wakes the running retry sweep.
func (c *AcquisitionClient) TriggerSweep(ctx context.Context, reason string) error {
	return c.signal(ctx, "TriggerSweep", SignalSweepNow, struct {
		Reason string `json:"reason"`
	}{Reason: reason})
}

// StopRetrySweep asks the retry sweep to finish after its current iteration.
func (c *AcquisitionClient) StopRetrySweep(ctx context.Context) error {
	return c.signal(ctx, "StopRetrySweep", SignalStopSweep, nil)
}

func (c *AcquisitionClient) signal(ctx context.Context, op, name string, arg interface{}) error {
	if c.isClosed() {
		return closedError(op, RetrySweepWorkflowID)
	}
	return wrap(op, c.tc.SignalWorkflow(ctx, RetrySweepWorkflowID, "", name, arg), RetrySweepWorkflowID, "")
}

// SweepTotals queries the running totals of the retry sweep into result.
func (c *AcquisitionClient) SweepTotals(ctx context.Context, result interface{}) error {
	const op = "SweepTotals"
	if c.isClosed() {
		return closedError(op, RetrySweepWorkflowID)
	}
	resp, err := c.tc.QueryWorkflow(ctx, RetrySweepWorkflowID, "", QuerySweepTotals)
	if err != nil {
		return wrap(op, err, RetrySweepWorkflowID, "")
	}
	if err := resp.Get(result); err != nil {
		return &ClientError{Op: op, Kind: ErrQueryFailed, WorkflowID: RetrySweepWorkflowID, Err: err}
	}
	return nil
}

// GetWorkflowResult blocks until the run completes and decodes its result.
func (c *AcquisitionClient) GetWorkflowResult(ctx context.Context, workflowID, runID string, result interface{}) error {
	const op = "GetWorkflowResult"
	if c.isClosed() {
		return &ClientError{Op: op, Kind: ErrClientClosed, WorkflowID: workflowID, RunID: runID}
	}
	return wrap(op, c.tc.GetWorkflow(ctx, workflowID, runID).Get(ctx, result), workflowID, runID)
}
