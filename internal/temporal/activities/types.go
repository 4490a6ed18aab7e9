// Package activities provides Temporal activity implementations for the
// document acquisition service.
//
// Activity inputs and outputs are defined as serializable structs that cross the
// Temporal serialization boundary. All fields must be exported for JSON
// serialization by the Temporal SDK's default data converter.
package activities

import (
	"time"

	"github.com/helixir/document-acquisition-service/internal/domain"
)

// Application error types returned by activities. Workflows and retry policies
// match on these strings.
const (
	// ErrTypeInvalidInput marks a request that can never succeed.
	ErrTypeInvalidInput = "InvalidInput"
	// ErrTypeInProgress marks a request that lost the per-DOI lock; retrying later is safe.
	ErrTypeInProgress = "AcquisitionInProgress"
)

// AcquireDocumentInput contains the parameters for the AcquireDocument activity.
type AcquireDocumentInput struct {
	// ProjectID is the project the document is acquired for.
	ProjectID string

	// DOI is the document identifier, in any accepted form.
	DOI string
}

// AcquireDocumentOutput contains the result of the AcquireDocument activity.
type AcquireDocumentOutput struct {
	// DOI is the normalized DOI.
	DOI string

	// Status is the terminal acquisition status.
	Status domain.AcquisitionStatus

	// SourceUsed names the source that supplied the document, if any.
	SourceUsed string

	// Path is where the document is stored.
	Path string

	// Attempts is the number of sources invoked.
	Attempts int

	// NextRetryAt is set when the DOI was queued for retry.
	NextRetryAt *time.Time
}

// SweepRetryQueueOutput contains the result of one retry sweep.
type SweepRetryQueueOutput struct {
	Claimed           int
	Downloaded        int
	AlreadyPresent    int
	Requeued          int
	PermanentlyFailed int
	Skipped           int
	Errors            int
}
