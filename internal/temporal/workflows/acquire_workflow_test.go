package workflows

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/helixir/document-acquisition-service/internal/domain"
	"github.com/helixir/document-acquisition-service/internal/temporal/activities"
)

func TestAcquireDocumentWorkflow_Success(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	var acquisitionAct *activities.AcquisitionActivities
	env.OnActivity(acquisitionAct.AcquireDocument, mock.Anything, activities.AcquireDocumentInput{ProjectID: "proj-1", DOI: "10.1/x"}).Return(
		&activities.AcquireDocumentOutput{
			DOI:        "10.1/x",
			Status:     domain.StatusDownloaded,
			SourceUsed: "unpaywall",
			Path:       "proj-1/10.1%2Fx.pdf",
			Attempts:   1,
		}, nil,
	).Once()

	env.ExecuteWorkflow(AcquireDocumentWorkflow, activities.AcquireDocumentInput{ProjectID: "proj-1", DOI: "10.1/x"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out activities.AcquireDocumentOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, domain.StatusDownloaded, out.Status)
	assert.Equal(t, "unpaywall", out.SourceUsed)
	env.AssertExpectations(t)
}

func TestAcquireDocumentWorkflow_InvalidInputNotRetried(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	calls := 0
	var acquisitionAct *activities.AcquisitionActivities
	env.OnActivity(acquisitionAct.AcquireDocument, mock.Anything, mock.Anything).Return(
		func(context.Context, activities.AcquireDocumentInput) (*activities.AcquireDocumentOutput, error) {
			calls++
			return nil, temporal.NewNonRetryableApplicationError("invalid doi", activities.ErrTypeInvalidInput, nil)
		},
	)

	env.ExecuteWorkflow(AcquireDocumentWorkflow, activities.AcquireDocumentInput{ProjectID: "proj-1", DOI: "nope"})

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)

	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, activities.ErrTypeInvalidInput, appErr.Type())
	assert.Equal(t, 1, calls)
}

func TestAcquireDocumentWorkflow_RetriesLockContention(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	calls := 0
	var acquisitionAct *activities.AcquisitionActivities
	env.OnActivity(acquisitionAct.AcquireDocument, mock.Anything, mock.Anything).Return(
		func(_ context.Context, in activities.AcquireDocumentInput) (*activities.AcquireDocumentOutput, error) {
			calls++
			if calls < 3 {
				return nil, temporal.NewApplicationError("acquisition already in progress", activities.ErrTypeInProgress)
			}
			return &activities.AcquireDocumentOutput{DOI: in.DOI, Status: domain.StatusAlreadyPresent}, nil
		},
	)

	env.ExecuteWorkflow(AcquireDocumentWorkflow, activities.AcquireDocumentInput{ProjectID: "proj-1", DOI: "10.1/x"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out activities.AcquireDocumentOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, domain.StatusAlreadyPresent, out.Status)
	assert.Equal(t, 3, calls)
}

func TestAcquireBatchWorkflow(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	var mu sync.Mutex
	seen := map[string]int{}
	var acquisitionAct *activities.AcquisitionActivities
	env.OnActivity(acquisitionAct.AcquireDocument, mock.Anything, mock.Anything).Return(
		func(_ context.Context, in activities.AcquireDocumentInput) (*activities.AcquireDocumentOutput, error) {
			mu.Lock()
			seen[in.DOI]++
			mu.Unlock()
			switch in.DOI {
			case "10.1/bad":
				return nil, temporal.NewNonRetryableApplicationError("invalid doi", activities.ErrTypeInvalidInput, nil)
			case "10.1/queued":
				return &activities.AcquireDocumentOutput{DOI: in.DOI, Status: domain.StatusQueuedForRetry}, nil
			default:
				return &activities.AcquireDocumentOutput{DOI: in.DOI, Status: domain.StatusDownloaded}, nil
			}
		},
	)

	env.ExecuteWorkflow(AcquireBatchWorkflow, AcquireBatchInput{
		ProjectID:     "proj-1",
		DOIs:          []string{"10.1/a", "10.1/b", "10.1/a", "10.1/bad", "10.1/queued", ""},
		MaxConcurrent: 2,
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result AcquireBatchResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, 4, result.Requested)
	assert.Equal(t, 2, result.ByStatus[string(domain.StatusDownloaded)])
	assert.Equal(t, 1, result.ByStatus[string(domain.StatusQueuedForRetry)])
	assert.Equal(t, []string{"10.1/bad"}, result.Failed)
	assert.Equal(t, 1, seen["10.1/a"], "duplicates are acquired once")
}

func TestAcquireBatchWorkflow_RequiresProject(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	env.ExecuteWorkflow(AcquireBatchWorkflow, AcquireBatchInput{DOIs: []string{"10.1/a"}})

	require.True(t, env.IsWorkflowCompleted())
	var appErr *temporal.ApplicationError
	require.True(t, errors.As(env.GetWorkflowError(), &appErr))
	assert.Equal(t, activities.ErrTypeInvalidInput, appErr.Type())
}
