package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/helixir/document-acquisition-service/internal/domain"
	"github.com/helixir/document-acquisition-service/internal/pdf"
)

type stubFetcher struct {
	result *pdf.DownloadResult
	err    error
	urls   []string
}

func (s *stubFetcher) Download(_ context.Context, url string) (*pdf.DownloadResult, error) {
	s.urls = append(s.urls, url)
	return s.result, s.err
}

func TestFailure(t *testing.T) {
	t.Run("plain error", func(t *testing.T) {
		err := errors.New("connection reset")
		r := Failure(err)
		assert.Equal(t, StatusError, r.Status)
		assert.Equal(t, err, r.Err)
		assert.Equal(t, "connection reset", r.Message)
		assert.Zero(t, r.HTTPStatus)
	})

	t.Run("download status error", func(t *testing.T) {
		r := Failure(fmt.Errorf("fetch: %w", &pdf.StatusError{StatusCode: http.StatusTooManyRequests}))
		assert.Equal(t, StatusError, r.Status)
		assert.Equal(t, http.StatusTooManyRequests, r.HTTPStatus)
	})

	t.Run("api error", func(t *testing.T) {
		r := Failure(domain.NewExternalAPIError("unpaywall", http.StatusBadGateway, "", nil))
		assert.Equal(t, StatusError, r.Status)
		assert.Equal(t, http.StatusBadGateway, r.HTTPStatus)
	})

	t.Run("404 becomes not found", func(t *testing.T) {
		r := Failure(&pdf.StatusError{StatusCode: http.StatusNotFound})
		assert.Equal(t, StatusNotFound, r.Status)
		assert.Equal(t, http.StatusNotFound, r.HTTPStatus)
	})

	t.Run("410 becomes not found", func(t *testing.T) {
		r := Failure(domain.NewExternalAPIError("x", http.StatusGone, "", nil))
		assert.Equal(t, StatusNotFound, r.Status)
	})
}

func TestFetchPDF(t *testing.T) {
	t.Run("success uses final URL", func(t *testing.T) {
		f := &stubFetcher{result: &pdf.DownloadResult{Content: []byte("%PDF-1.5"), FinalURL: "https://cdn.example/x.pdf"}}
		r := FetchPDF(context.Background(), f, "https://example/x", "tmpl")

		assert.Equal(t, StatusSuccess, r.Status)
		assert.Equal(t, "https://cdn.example/x.pdf", r.URL)
		assert.Equal(t, []byte("%PDF-1.5"), r.Content)
		assert.Equal(t, "tmpl", r.URLPattern)
		assert.Equal(t, []string{"https://example/x"}, f.urls)
	})

	t.Run("failure keeps requested URL", func(t *testing.T) {
		f := &stubFetcher{err: pdf.ErrNotPDF}
		r := FetchPDF(context.Background(), f, "https://example/x", "")

		assert.Equal(t, StatusError, r.Status)
		assert.ErrorIs(t, r.Err, pdf.ErrNotPDF)
		assert.Equal(t, "https://example/x", r.URL)
	})
}

func TestClosedAccess(t *testing.T) {
	r := ClosedAccess("not open access")
	assert.Equal(t, StatusNotFound, r.Status)
	assert.True(t, r.ClosedAccess)

	r = NotFound("no record")
	assert.False(t, r.ClosedAccess)
}
