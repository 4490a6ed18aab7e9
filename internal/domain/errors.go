package domain

import (
	"errors"
	"fmt"
)

// Lookup and input failures. The HTTP layer maps these to status codes.
var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrInvalidInput       = errors.New("invalid input")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrCancelled          = errors.New("cancelled")
)

// Acquisition failures.
var (
	// ErrAcquisitionInProgress means another worker holds the lock for the
	// same project and DOI.
	ErrAcquisitionInProgress = errors.New("acquisition already in progress")

	// ErrLedgerWrite means an attempt could not be recorded. An acquisition
	// that hits it is never reported as downloaded.
	ErrLedgerWrite = errors.New("ledger write failed")

	// ErrStorage means the document bytes could not be persisted.
	ErrStorage = errors.New("document storage failed")
)

// ValidationError names the offending field. It matches ErrInvalidInput.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// NotFoundError names the missing entity. It matches ErrNotFound.
type NotFoundError struct {
	Entity string
	ID     string
}

func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

func (e *NotFoundError) Error() string {
	return e.Entity + " not found: " + e.ID
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// maxAPIMessage bounds the response excerpt kept on an ExternalAPIError.
const maxAPIMessage = 256

// ExternalAPIError is a non-success response from a source's metadata API.
// Message is an excerpt of the response body.
type ExternalAPIError struct {
	Source     string
	StatusCode int
	Message    string
	Cause      error
}

func NewExternalAPIError(source string, statusCode int, message string, cause error) *ExternalAPIError {
	message = CleanText(message, maxAPIMessage)
	return &ExternalAPIError{Source: source, StatusCode: statusCode, Message: message, Cause: cause}
}

func (e *ExternalAPIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s API error (status %d)", e.Source, e.StatusCode)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Source, e.StatusCode, e.Message)
}

func (e *ExternalAPIError) Unwrap() error { return e.Cause }
