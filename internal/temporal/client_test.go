package temporal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"

	"github.com/helixir/document-acquisition-service/internal/config"
	"github.com/helixir/document-acquisition-service/internal/domain"
	"github.com/helixir/document-acquisition-service/internal/temporal/activities"
)

func TestClientError(t *testing.T) {
	full := &ClientError{
		Op:         "StartAcquisition",
		Kind:       ErrWorkflowNotFound,
		WorkflowID: "wf-123",
		RunID:      "run-456",
		Err:        errors.New("underlying"),
	}
	assert.Equal(t, "StartAcquisition: workflow not found [workflowID=wf-123, runID=run-456]: underlying", full.Error())
	assert.Equal(t, "Health: connection failed", (&ClientError{Op: "Health", Kind: ErrConnectionFailed}).Error())

	assert.True(t, errors.Is(full, ErrWorkflowNotFound))
	assert.False(t, errors.Is(full, ErrConnectionFailed))
	assert.Equal(t, "underlying", errors.Unwrap(full).Error())
}

func TestWrap(t *testing.T) {
	assert.NoError(t, wrap("op", nil, "", ""))

	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"not found", serviceerror.NewNotFound("gone"), ErrWorkflowNotFound},
		{"already started", serviceerror.NewWorkflowExecutionAlreadyStarted("dup", "", ""), ErrWorkflowAlreadyStarted},
		{"namespace", serviceerror.NewNamespaceNotFound("docs"), ErrNamespaceNotFound},
		{"permission", serviceerror.NewPermissionDenied("no", ""), ErrPermissionDenied},
		{"invalid argument", serviceerror.NewInvalidArgument("bad"), ErrInvalidArgument},
		{"query failed", serviceerror.NewQueryFailed("panic in handler"), ErrQueryFailed},
		{"unavailable", serviceerror.NewUnavailable("down"), ErrConnectionFailed},
		{"context deadline", context.DeadlineExceeded, ErrDeadlineExceeded},
		{"context canceled", fmt.Errorf("poll: %w", context.Canceled), ErrClientClosed},
		{"unknown", errors.New("tcp reset"), ErrConnectionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wrap("op", tt.err, "wf-1", "")
			var ce *ClientError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.kind, ce.Kind)
			assert.Equal(t, "wf-1", ce.WorkflowID)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	assert.True(t, IsWorkflowNotFound(&ClientError{Kind: ErrWorkflowNotFound}))
	assert.False(t, IsWorkflowNotFound(errors.New("other")))
	assert.True(t, IsConnectionFailed(&ClientError{Kind: ErrConnectionFailed}))
}

func TestConfigFrom(t *testing.T) {
	cc := ConfigFrom(config.TemporalConfig{HostPort: "t:7233", Namespace: "docs", TaskQueue: "q"})
	assert.Equal(t, "t:7233", cc.HostPort)
	assert.Equal(t, "q", cc.TaskQueue)
	assert.Nil(t, cc.TLS)

	cc = ConfigFrom(config.TemporalConfig{TLS: config.TemporalTLSConfig{Enabled: true, ServerName: "docs.tmprl.cloud"}})
	require.NotNil(t, cc.TLS)
	assert.Equal(t, "docs.tmprl.cloud", cc.TLS.ServerName)
}

func TestLoadTLS(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		got, err := loadTLS(nil)
		require.NoError(t, err)
		assert.Nil(t, got)

		got, err = loadTLS(&config.TemporalTLSConfig{})
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("server name only", func(t *testing.T) {
		got, err := loadTLS(&config.TemporalTLSConfig{Enabled: true, ServerName: "docs.tmprl.cloud"})
		require.NoError(t, err)
		assert.Equal(t, "docs.tmprl.cloud", got.ServerName)
		assert.Empty(t, got.Certificates)
		assert.Nil(t, got.RootCAs)
	})

	t.Run("missing key pair", func(t *testing.T) {
		_, err := loadTLS(&config.TemporalTLSConfig{Enabled: true, CertFile: "/nonexistent/c.pem", KeyFile: "/nonexistent/k.pem"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "client key pair")
	})

	t.Run("ca without certificates", func(t *testing.T) {
		ca := filepath.Join(t.TempDir(), "ca.pem")
		require.NoError(t, os.WriteFile(ca, []byte("not a pem"), 0o600))

		_, err := loadTLS(&config.TemporalTLSConfig{Enabled: true, CAFile: ca})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no certificates")
	})
}

func sweepWorkflowStub() {}

func TestAcquisitionClient_StartRetrySweep(t *testing.T) {
	t.Run("uses the fixed id and attaches to a running sweep", func(t *testing.T) {
		tc := &mocks.Client{}
		run := &mocks.WorkflowRun{}
		run.On("GetRunID").Return("run-1")

		input := RetrySweepInput{MaxIterations: 10}
		tc.On("ExecuteWorkflow", mock.Anything,
			mock.MatchedBy(func(o client.StartWorkflowOptions) bool {
				return o.ID == RetrySweepWorkflowID &&
					o.TaskQueue == "acq-tasks" &&
					o.WorkflowIDConflictPolicy == enumspb.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING
			}),
			mock.Anything, input,
		).Return(run, nil).Once()

		ac := NewAcquisitionClient(tc, ClientConfig{TaskQueue: "acq-tasks"})
		runID, err := ac.StartRetrySweep(context.Background(), sweepWorkflowStub, input)
		require.NoError(t, err)
		assert.Equal(t, "run-1", runID)
		tc.AssertExpectations(t)
	})

	t.Run("maps service errors", func(t *testing.T) {
		tc := &mocks.Client{}
		tc.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, serviceerror.NewNamespaceNotFound("docs"))

		ac := NewAcquisitionClient(tc, ClientConfig{TaskQueue: "acq-tasks"})
		_, err := ac.StartRetrySweep(context.Background(), sweepWorkflowStub, RetrySweepInput{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNamespaceNotFound))
	})
}

func TestAcquisitionClient_StartAcquisition(t *testing.T) {
	tc := &mocks.Client{}
	run := &mocks.WorkflowRun{}
	run.On("GetRunID").Return("run-7")

	tc.On("ExecuteWorkflow", mock.Anything,
		mock.MatchedBy(func(o client.StartWorkflowOptions) bool {
			return o.ID == "acquire-proj-1-10.1/x" && o.WorkflowExecutionTimeout == DefaultAcquisitionExecutionTimeout
		}),
		mock.Anything, activities.AcquireDocumentInput{ProjectID: "proj-1", DOI: "10.1/x"},
	).Return(run, nil).Once()

	ac := NewAcquisitionClient(tc, ClientConfig{TaskQueue: "acq-tasks"})
	workflowID, runID, err := ac.StartAcquisition(context.Background(), sweepWorkflowStub, "proj-1", "10.1/x")
	require.NoError(t, err)
	assert.Equal(t, "acquire-proj-1-10.1/x", workflowID)
	assert.Equal(t, "run-7", runID)
	tc.AssertExpectations(t)
}

func TestAcquisitionClient_StartBatch(t *testing.T) {
	tc := &mocks.Client{}
	run := &mocks.WorkflowRun{}
	run.On("GetRunID").Return("run-b")

	input := AcquireBatchInput{ProjectID: "proj-1", DOIs: []string{"10.1/a", "10.1/b"}}
	tc.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, input).Return(run, nil).Twice()

	ac := NewAcquisitionClient(tc, ClientConfig{TaskQueue: "acq-tasks"})
	first, _, err := ac.StartBatch(context.Background(), sweepWorkflowStub, input)
	require.NoError(t, err)
	second, _, err := ac.StartBatch(context.Background(), sweepWorkflowStub, input)
	require.NoError(t, err)

	assert.Contains(t, first, "acquire-batch-proj-1-")
	assert.NotEqual(t, first, second, "every batch gets its own workflow")
}

func TestAcquisitionClient_Signals(t *testing.T) {
	t.Run("TriggerSweep signals the sweep", func(t *testing.T) {
		tc := &mocks.Client{}
		tc.On("SignalWorkflow", mock.Anything, RetrySweepWorkflowID, "", SignalSweepNow, mock.Anything).Return(nil).Once()

		ac := NewAcquisitionClient(tc, ClientConfig{})
		require.NoError(t, ac.TriggerSweep(context.Background(), "admin"))
		tc.AssertExpectations(t)
	})

	t.Run("StopRetrySweep maps a missing workflow", func(t *testing.T) {
		tc := &mocks.Client{}
		tc.On("SignalWorkflow", mock.Anything, RetrySweepWorkflowID, "", SignalStopSweep, nil).
			Return(serviceerror.NewNotFound("no such workflow"))

		ac := NewAcquisitionClient(tc, ClientConfig{})
		err := ac.StopRetrySweep(context.Background())
		require.Error(t, err)
		assert.True(t, IsWorkflowNotFound(err))
	})
}

func TestAcquisitionClient_Health(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		tc := &mocks.Client{}
		tc.On("CheckHealth", mock.Anything, mock.Anything).Return(&client.CheckHealthResponse{}, nil)

		ac := NewAcquisitionClient(tc, ClientConfig{})
		assert.NoError(t, ac.Health(context.Background()))
	})

	t.Run("unavailable", func(t *testing.T) {
		tc := &mocks.Client{}
		tc.On("CheckHealth", mock.Anything, mock.Anything).Return(nil, serviceerror.NewUnavailable("down"))

		ac := NewAcquisitionClient(tc, ClientConfig{})
		err := ac.Health(context.Background())
		assert.True(t, IsConnectionFailed(err))
	})
}

func TestAcquisitionClient_Closed(t *testing.T) {
	tc := &mocks.Client{}
	tc.On("Close").Return().Once()

	ac := NewAcquisitionClient(tc, ClientConfig{TaskQueue: "acq-tasks"})
	ac.Close()
	ac.Close()
	tc.AssertExpectations(t)

	assert.ErrorIs(t, ac.Health(context.Background()), ErrClientClosed)
	_, err := ac.StartRetrySweep(context.Background(), sweepWorkflowStub, RetrySweepInput{})
	assert.ErrorIs(t, err, ErrClientClosed)
	_, _, err = ac.StartAcquisition(context.Background(), sweepWorkflowStub, "p", "d")
	assert.ErrorIs(t, err, ErrClientClosed)
	assert.ErrorIs(t, ac.TriggerSweep(context.Background(), ""), ErrClientClosed)
	var totals struct{ Sweeps int }
	assert.ErrorIs(t, ac.SweepTotals(context.Background(), &totals), ErrClientClosed)
	assert.ErrorIs(t, ac.GetWorkflowResult(context.Background(), "wf", "", &totals), ErrClientClosed)
}

func TestAcquisitionClient_AcquireDocument(t *testing.T) {
	next := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tc := &mocks.Client{}
	run := &mocks.WorkflowRun{}
	run.On("GetRunID").Return("run-9")
	tc.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything,
		activities.AcquireDocumentInput{ProjectID: "proj-1", DOI: "10.1/x"}).Return(run, nil).Once()

	result := &mocks.WorkflowRun{}
	result.On("Get", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		out := args.Get(1).(*activities.AcquireDocumentOutput)
		*out = activities.AcquireDocumentOutput{DOI: "10.1/x", Status: domain.StatusQueuedForRetry, Attempts: 3, NextRetryAt: &next}
	}).Return(nil).Once()
	tc.On("GetWorkflow", mock.Anything, "acquire-proj-1-10.1/x", "run-9").Return(result).Once()

	ac := NewAcquisitionClient(tc, ClientConfig{TaskQueue: "acq-tasks"})
	outcome, err := ac.AcquireDocument(context.Background(), sweepWorkflowStub, "proj-1", "10.1/x")
	require.NoError(t, err)
	assert.Equal(t, "proj-1", outcome.ProjectID)
	assert.Equal(t, domain.StatusQueuedForRetry, outcome.Status)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, &next, outcome.NextRetryAt)
	tc.AssertExpectations(t)
}
