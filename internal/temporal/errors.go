package temporal

import (
	"context"
	"errors"
	"strings"

	"go.temporal.io/api/serviceerror"
)

// Kinds of client failure. A *ClientError matches exactly one of them with
// errors.Is.
var (
	ErrWorkflowNotFound       = errors.New("workflow not found")
	ErrWorkflowAlreadyStarted = errors.New("workflow already started")
	ErrQueryFailed            = errors.New("query failed")
	ErrClientClosed           = errors.New("client closed")
	ErrConnectionFailed       = errors.New("connection failed")
	ErrNamespaceNotFound      = errors.New("namespace not found")
	ErrPermissionDenied       = errors.New("permission denied")
	ErrInvalidArgument        = errors.New("invalid argument")
	ErrResourceExhausted      = errors.New("resource exhausted")
	ErrDeadlineExceeded       = errors.New("deadline exceeded")
)

// ClientError is returned by every AcquisitionClient method.
type ClientError struct {
	Op         string
	Kind       error
	WorkflowID string
	RunID      string
	Err        error
}

func (e *ClientError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.WorkflowID != "" {
		b.WriteString(" [workflowID=" + e.WorkflowID)
		if e.RunID != "" {
			b.WriteString(", runID=" + e.RunID)
		}
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ClientError) Unwrap() error { return e.Err }

func (e *ClientError) Is(target error) bool { return e.Kind == target }

// kindOf maps SDK and gRPC service errors onto the package kinds. Anything
// unrecognized is treated as a connection problem.
func kindOf(err error) error {
	var (
		notFound    *serviceerror.NotFound
		started     *serviceerror.WorkflowExecutionAlreadyStarted
		nsNotFound  *serviceerror.NamespaceNotFound
		denied      *serviceerror.PermissionDenied
		invalid     *serviceerror.InvalidArgument
		exhausted   *serviceerror.ResourceExhausted
		deadline    *serviceerror.DeadlineExceeded
		queryFailed *serviceerror.QueryFailed
	)
	switch {
	case errors.As(err, &notFound):
		return ErrWorkflowNotFound
	case errors.As(err, &started):
		return ErrWorkflowAlreadyStarted
	case errors.As(err, &nsNotFound):
		return ErrNamespaceNotFound
	case errors.As(err, &denied):
		return ErrPermissionDenied
	case errors.As(err, &invalid):
		return ErrInvalidArgument
	case errors.As(err, &exhausted):
		return ErrResourceExhausted
	case errors.As(err, &deadline), errors.Is(err, context.DeadlineExceeded):
		return ErrDeadlineExceeded
	case errors.As(err, &queryFailed):
		return ErrQueryFailed
	case errors.Is(err, context.Canceled):
		return ErrClientClosed
	default:
		return ErrConnectionFailed
	}
}

// wrap returns nil for a nil err.
func wrap(op string, err error, workflowID, runID string) error {
	if err == nil {
		return nil
	}
	return &ClientError{Op: op, Kind: kindOf(err), WorkflowID: workflowID, RunID: runID, Err: err}
}

func closedError(op, workflowID string) error {
	return &ClientError{Op: op, Kind: ErrClientClosed, WorkflowID: workflowID}
}

// IsWorkflowNotFound reports whether err means the target workflow is not
// running, e.g. signalling a sweep that was never started.
func IsWorkflowNotFound(err error) bool { return errors.Is(err, ErrWorkflowNotFound) }

// IsConnectionFailed reports whether err means the frontend was unreachable.
func IsConnectionFailed(err error) bool { return errors.Is(err, ErrConnectionFailed) }
