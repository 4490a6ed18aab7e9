package arxiv

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/document-acquisition-service/internal/pdf"
	"github.com/helixir/document-acquisition-service/internal/sources"
)

func TestArXivID(t *testing.T) {
	assert.Equal(t, "2101.00001", ArXivID("10.48550/arxiv.2101.00001"))
	assert.Equal(t, "2101.00001", ArXivID("10.48550/arXiv.2101.00001"))
	assert.Equal(t, "", ArXivID("10.1371/journal.pone.0000001"))
}

func TestClient_Attempt(t *testing.T) {
	t.Run("downloads arxiv pdf", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/pdf/2101.00001", r.URL.Path)
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF-1.5 arxiv"))
		}))
		defer server.Close()

		c := New(Config{BaseURL: server.URL}, pdf.NewDownloader(pdf.Config{AllowPrivateNetworks: true}))
		r := c.Attempt(context.Background(), "10.48550/arxiv.2101.00001")
		require.Equal(t, sources.StatusSuccess, r.Status, r.Message)
		assert.Equal(t, urlPattern, r.URLPattern)
	})

	t.Run("non arxiv doi makes no call", func(t *testing.T) {
		c := New(Config{BaseURL: "http://127.0.0.1:1"}, pdf.NewDownloader(pdf.Config{AllowPrivateNetworks: true}))
		r := c.Attempt(context.Background(), "10.1371/journal.pone.0000001")
		assert.Equal(t, sources.StatusNotFound, r.Status)
	})

	t.Run("withdrawn paper", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		c := New(Config{BaseURL: server.URL}, pdf.NewDownloader(pdf.Config{AllowPrivateNetworks: true}))
		r := c.Attempt(context.Background(), "10.48550/arxiv.9999.99999")
		assert.Equal(t, sources.StatusNotFound, r.Status)
		assert.Equal(t, http.StatusNotFound, r.HTTPStatus)
	})
}
