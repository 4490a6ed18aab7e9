// Package classifier maps adapter results onto the failure taxonomy.
//
// Classify is the only place failure semantics are encoded. It is total:
// every Result maps to exactly one domain.FailureCategory, with
// network_error as the declared fallback for anything unrecognised.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/helixir/document-acquisition-service/internal/domain"
	"github.com/helixir/document-acquisition-service/internal/pdf"
	"github.com/helixir/document-acquisition-service/internal/sources"
)

// Classify maps an adapter result to a failure category.
func Classify(r sources.Result) domain.FailureCategory {
	if r.Status == sources.StatusSuccess {
		if !pdf.HasSignature(r.Content) {
			return domain.CategoryInvalidContent
		}
		return domain.CategorySuccess
	}

	if r.HTTPStatus != 0 {
		if c, ok := fromHTTPStatus(r.HTTPStatus); ok {
			return c
		}
	}

	if r.Err != nil {
		return fromError(r.Err)
	}

	if r.Status == sources.StatusNotFound {
		if r.ClosedAccess {
			return domain.CategoryPaywalled
		}
		return domain.CategoryNotFound
	}

	return domain.CategoryNetworkError
}

// fromHTTPStatus maps a non-2xx status. ok is false for 2xx and for codes
// below 200, which fall through to the error and status checks.
func fromHTTPStatus(code int) (domain.FailureCategory, bool) {
	switch {
	case code < 300:
		return "", false
	case code < 400:
		// A redirect the client did not follow. Asking again gets the same answer.
		return domain.CategoryNotFound, true
	case code == http.StatusTooManyRequests:
		return domain.CategoryRateLimited, true
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return domain.CategoryTimeout, true
	case code == http.StatusUnauthorized, code == http.StatusForbidden, code == http.StatusProxyAuthRequired:
		return domain.CategoryUnauthorized, true
	case code == http.StatusPaymentRequired, code == http.StatusUnavailableForLegalReasons:
		return domain.CategoryPaywalled, true
	case code < 500:
		// 404, 410 and other client errors will not change on retry against this source.
		return domain.CategoryNotFound, true
	default:
		return domain.CategoryServerError, true
	}
}

func fromError(err error) domain.FailureCategory {
	var (
		netErr    net.Error
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)

	switch {
	case errors.Is(err, pdf.ErrSSRF), errors.Is(err, sources.ErrMissingCredentials):
		return domain.CategoryUnauthorized
	case errors.Is(err, pdf.ErrNotPDF), errors.Is(err, pdf.ErrTooLarge):
		return domain.CategoryInvalidContent
	case errors.Is(err, context.DeadlineExceeded):
		return domain.CategoryTimeout
	case errors.Is(err, sources.ErrLocalRateLimit):
		return domain.CategoryRateLimited
	case errors.Is(err, sources.ErrMalformedResponse),
		errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return domain.CategoryServerError
	case errors.As(err, &netErr) && netErr.Timeout():
		return domain.CategoryTimeout
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF),
		errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED):
		return domain.CategoryNetworkError
	default:
		return domain.CategoryNetworkError
	}
}

// Describe renders the free-text failure reason stored in the ledger.
// It returns "" for successful results.
func Describe(r sources.Result) string {
	if Classify(r) == domain.CategorySuccess {
		return ""
	}
	switch {
	case r.Status == sources.StatusSuccess:
		return "response is not a PDF"
	case r.Message != "":
		return domain.CleanText(r.Message, maxReasonLength)
	case r.Err != nil:
		return domain.CleanText(r.Err.Error(), maxReasonLength)
	case r.HTTPStatus != 0:
		return fmt.Sprintf("HTTP %d", r.HTTPStatus)
	default:
		return string(r.Status)
	}
}

// maxReasonLength bounds the stored reason in bytes, before the "..." suffix.
const maxReasonLength = 1000
