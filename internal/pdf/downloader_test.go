package pdf

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// samplePDFContent simulates minimal PDF-like bytes for testing.
var samplePDFContent = []byte("%PDF-1.4 sample content for testing")

// writeContent is a test helper that writes content to the response writer.
func writeContent(w http.ResponseWriter, content []byte) {
	_, _ = w.Write(content)
}

// newTestDownloader allows loopback addresses so httptest servers are reachable.
func newTestDownloader(cfg Config) *Downloader {
	cfg.AllowPrivateNetworks = true
	return NewDownloader(cfg)
}

func TestNewDownloader_Defaults(t *testing.T) {
	t.Run("applies default values", func(t *testing.T) {
		d := NewDownloader(Config{})

		require.NotNil(t, d)
		assert.Equal(t, int64(100*1024*1024), d.cfg.MaxSize)
		assert.Equal(t, DefaultUserAgent, d.cfg.UserAgent)
		assert.Equal(t, 120*time.Second, d.client.Timeout)
		assert.False(t, d.cfg.AllowPrivateNetworks)
	})

	t.Run("uses custom config values", func(t *testing.T) {
		d := NewDownloader(Config{
			Timeout:   30 * time.Second,
			MaxSize:   50 * 1024 * 1024,
			UserAgent: "CustomAgent/2.0",
		})

		assert.Equal(t, int64(50*1024*1024), d.cfg.MaxSize)
		assert.Equal(t, "CustomAgent/2.0", d.cfg.UserAgent)
		assert.Equal(t, 30*time.Second, d.client.Timeout)
	})
}

func TestDownload_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/pdf")
		writeContent(w, samplePDFContent)
	}))
	defer server.Close()

	result, err := newTestDownloader(Config{}).Download(context.Background(), server.URL)
	require.NoError(t, err)

	expected := sha256.Sum256(samplePDFContent)
	assert.Equal(t, samplePDFContent, result.Content)
	assert.Equal(t, int64(len(samplePDFContent)), result.SizeBytes)
	assert.Equal(t, hex.EncodeToString(expected[:]), result.ContentHash)
	assert.Equal(t, "application/pdf", result.ContentType)
	assert.Equal(t, server.URL, result.FinalURL)
}

func TestDownload_ContentTypeHandling(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        []byte
		wantErr     error
	}{
		{name: "pdf with charset", contentType: "application/pdf; charset=utf-8", body: samplePDFContent},
		{name: "uppercase pdf", contentType: "Application/PDF", body: samplePDFContent},
		{name: "octet-stream with signature", contentType: "application/octet-stream", body: samplePDFContent},
		{name: "labelled pdf without signature", contentType: "application/pdf", body: []byte("garbage")},
		{name: "html landing page", contentType: "text/html", body: []byte("<html>Not a PDF</html>"), wantErr: ErrNotPDF},
		{name: "json", contentType: "application/json", body: []byte(`{"error":"x"}`), wantErr: ErrNotPDF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				writeContent(w, tt.body)
			}))
			defer server.Close()

			result, err := newTestDownloader(Config{}).Download(context.Background(), server.URL)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, result)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.body, result.Content)
		})
	}
}

func TestDownload_TooLarge(t *testing.T) {
	content := append([]byte("%PDF-1.7"), make([]byte, 1024)...)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		writeContent(w, content)
	}))
	defer server.Close()

	result, err := newTestDownloader(Config{MaxSize: 512}).Download(context.Background(), server.URL)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Contains(t, err.Error(), "512")
}

func TestDownload_HTTPStatusCodes(t *testing.T) {
	codes := []int{
		http.StatusUnauthorized,
		http.StatusPaymentRequired,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusServiceUnavailable,
	}

	for _, code := range codes {
		t.Run(http.StatusText(code), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(code)
			}))
			defer server.Close()

			_, err := newTestDownloader(Config{}).Download(context.Background(), server.URL)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDownloadFailed)

			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, code, se.StatusCode)
		})
	}
}

func TestDownload_Redirect(t *testing.T) {
	finalServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		writeContent(w, samplePDFContent)
	}))
	defer finalServer.Close()

	redirectServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, finalServer.URL+"/paper.pdf", http.StatusFound)
	}))
	defer redirectServer.Close()

	result, err := newTestDownloader(Config{}).Download(context.Background(), redirectServer.URL)
	require.NoError(t, err)
	assert.Equal(t, samplePDFContent, result.Content)
	assert.Equal(t, finalServer.URL+"/paper.pdf", result.FinalURL)
}

func TestDownload_ContextTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Header().Set("Content-Type", "application/pdf")
		writeContent(w, samplePDFContent)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	result, err := newTestDownloader(Config{}).Download(ctx, server.URL)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrDownloadFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDownload_SSRFProtection(t *testing.T) {
	t.Run("loopback is rejected", func(t *testing.T) {
		d := NewDownloader(Config{})
		_, err := d.Download(context.Background(), "http://127.0.0.1:1/paper.pdf")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrSSRF)
	})

	t.Run("resolved private addresses are refused at dial", func(t *testing.T) {
		guarded := NewDownloader(Config{})
		err := refusePrivate("tcp", "10.0.0.7:443", nil)
		assert.ErrorIs(t, err, ErrSSRF)
		assert.NoError(t, refusePrivate("tcp", "93.184.216.34:443", nil))

		_, err = guarded.Download(context.Background(), "http://localhost:1/paper.pdf")
		assert.ErrorIs(t, err, ErrSSRF)
	})

	t.Run("non-http scheme is rejected", func(t *testing.T) {
		d := NewDownloader(Config{})
		_, err := d.Download(context.Background(), "file:///etc/passwd")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrSSRF)
	})
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip      string
		private bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"172.16.0.1", true},
		{"192.168.1.1", true},
		{"169.254.169.254", true},
		{"100.64.0.1", true},
		{"::1", true},
		{"fd00::1", true},
		{"0.0.0.0", true},
		{"8.8.8.8", false},
		{"100.128.0.1", false},
		{"2606:4700:4700::1111", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			assert.Equal(t, tt.private, isPrivateIP(net.ParseIP(tt.ip)))
		})
	}
}

func TestHasSignature(t *testing.T) {
	assert.True(t, HasSignature([]byte("%PDF-1.7\n...")))
	assert.True(t, HasSignature([]byte("\xEF\xBB\xBF%PDF-1.4")))
	assert.True(t, HasSignature([]byte("\r\n  %PDF-2.0")))
	assert.False(t, HasSignature([]byte("<html>%PDF-1.4")))
	assert.False(t, HasSignature([]byte("%PD")))
	assert.False(t, HasSignature(nil))
}
