// Package sources defines the contract every document source adapter implements.
//
// An adapter talks to exactly one external API or URL pattern and reports what
// happened as a Result value. Adapters never return Go errors to the caller and
// never decide retry policy; the classifier turns a Result into a failure
// category and the orchestrator decides what to do next.
//
// Example usage:
//
//	registry := sources.NewRegistry()
//	registry.Register(unpaywall.New(cfg, fetcher), unpaywall.Definition(cfg))
//	result := registry.Get("unpaywall").Attempt(ctx, "10.1371/journal.pone.0000001")
package sources

import (
	"context"
	"errors"
	"net/http"

	"github.com/helixir/document-acquisition-service/internal/domain"
	"github.com/helixir/document-acquisition-service/internal/pdf"
)

var (
	// ErrMalformedResponse marks an upstream response that could not be decoded.
	ErrMalformedResponse = errors.New("malformed upstream response")

	// ErrMissingCredentials is reported by adapters whose required credentials are not configured.
	ErrMissingCredentials = errors.New("source credentials not configured")

	// ErrLocalRateLimit is returned when the client-side limiter cannot admit a request in time.
	ErrLocalRateLimit = errors.New("local rate limit exceeded")
)

// Status is the coarse outcome an adapter reports.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusNotFound Status = "not_found"
	StatusError    Status = "error"
)

// Result is the structured outcome of one adapter attempt.
type Result struct {
	// Status is the adapter's own view of the outcome.
	Status Status

	// URL is the resolved document URL, when one was found.
	URL string

	// Content holds the document bytes on success.
	Content []byte

	// HTTPStatus is the status of the response that decided the outcome, if any.
	HTTPStatus int

	// Message is a short human-readable description of the outcome.
	Message string

	// Err is the underlying error for StatusError results.
	Err error

	// ClosedAccess is set when the source positively knows the document is not open access.
	ClosedAccess bool

	// URLPattern describes how the URL was derived, recorded as a publisher pattern on success.
	URLPattern string
}

// Adapter is one external document provider.
type Adapter interface {
	// Name returns the stable source name used as the ledger key.
	Name() string

	// Attempt tries to obtain the document for a normalized DOI.
	// Implementations must honour ctx and must not panic; the orchestrator
	// still guards against panics.
	Attempt(ctx context.Context, doi string) Result
}

// Fetcher downloads document bytes from a URL.
type Fetcher interface {
	Download(ctx context.Context, url string) (*pdf.DownloadResult, error)
}

// Success builds a successful result.
func Success(url string, content []byte, pattern string) Result {
	return Result{
		Status:     StatusSuccess,
		URL:        url,
		Content:    content,
		HTTPStatus: http.StatusOK,
		URLPattern: pattern,
	}
}

// NotFound builds a conclusive "not available from this source" result.
func NotFound(message string) Result {
	return Result{Status: StatusNotFound, Message: message}
}

// ClosedAccess builds a not-found result for a document the source reports as not open access.
func ClosedAccess(message string) Result {
	return Result{Status: StatusNotFound, Message: message, ClosedAccess: true}
}

// Failure converts an error into an error result, lifting any HTTP status it carries.
// A 404 or 410 on the document itself is reported as not found.
func Failure(err error) Result {
	r := Result{Status: StatusError, Err: err}
	if err != nil {
		r.Message = err.Error()
	}

	var statusErr *pdf.StatusError
	var apiErr *domain.ExternalAPIError
	switch {
	case errors.As(err, &statusErr):
		r.HTTPStatus = statusErr.StatusCode
	case errors.As(err, &apiErr):
		r.HTTPStatus = apiErr.StatusCode
	}

	if r.HTTPStatus == http.StatusNotFound || r.HTTPStatus == http.StatusGone {
		r.Status = StatusNotFound
	}
	return r
}

// FetchPDF downloads url with f and converts the outcome into a Result.
func FetchPDF(ctx context.Context, f Fetcher, url, pattern string) Result {
	dl, err := f.Download(ctx, url)
	if err != nil {
		r := Failure(err)
		r.URL = url
		return r
	}
	resolved := dl.FinalURL
	if resolved == "" {
		resolved = url
	}
	return Success(resolved, dl.Content, pattern)
}
