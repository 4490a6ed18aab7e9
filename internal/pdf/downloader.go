// Package pdf fetches candidate document URLs and checks that what came back
// is a PDF.
package pdf

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

var (
	// ErrNotPDF means the body was neither labelled application/pdf nor
	// started with a PDF header.
	ErrNotPDF = errors.New("pdf: response is not a PDF")
	// ErrTooLarge means the body exceeded Config.MaxSize.
	ErrTooLarge = errors.New("pdf: file exceeds maximum size")
	// ErrDownloadFailed wraps transport failures and non-2xx responses.
	ErrDownloadFailed = errors.New("pdf: download failed")
	// ErrSSRF means the URL used a non-HTTP scheme or a connection was about
	// to be made to a private address.
	ErrSSRF = errors.New("pdf: request to private network denied")
)

// StatusError is returned for non-2xx responses. It matches
// ErrDownloadFailed with errors.Is.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d from %s", ErrDownloadFailed, e.StatusCode, e.URL)
}

func (e *StatusError) Unwrap() error { return ErrDownloadFailed }

// DownloadResult is a fetched document held in memory.
type DownloadResult struct {
	Content     []byte
	ContentHash string // hex SHA-256 of Content
	SizeBytes   int64
	ContentType string
	FinalURL    string // after redirects
}

// DefaultUserAgent identifies the service to document hosts.
const DefaultUserAgent = "Mozilla/5.0 (compatible; Helixir-DocAcquire/1.0; +https://helixir.io/bot)"

const (
	defaultTimeout = 120 * time.Second
	defaultMaxSize = 100 << 20
	maxRedirects   = 10
)

// Config tunes a Downloader. Zero values take the defaults.
type Config struct {
	// Timeout caps a whole download. Per-source deadlines arrive through the
	// context and are normally tighter.
	Timeout time.Duration
	// MaxSize is the largest accepted body in bytes.
	MaxSize   int64
	UserAgent string
	// AllowPrivateNetworks turns off the private address guard. Tests only.
	AllowPrivateNetworks bool
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxSize <= 0 {
		c.MaxSize = defaultMaxSize
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	return c
}

// Downloader is the shared fetcher handed to every source adapter.
type Downloader struct {
	cfg    Config
	client *http.Client
}

// NewDownloader builds a Downloader. Unless AllowPrivateNetworks is set, the
// dialer refuses private addresses at connect time, so redirects and DNS
// answers that change between lookups are covered too.
func NewDownloader(cfg Config) *Downloader {
	cfg = cfg.withDefaults()

	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	if !cfg.AllowPrivateNetworks {
		dialer.Control = refusePrivate
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.Proxy = nil

	return &Downloader{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("%w: stopped after %d redirects", ErrDownloadFailed, maxRedirects)
				}
				return checkScheme(req.URL.Scheme)
			},
		},
	}
}

func checkScheme(scheme string) error {
	switch strings.ToLower(scheme) {
	case "http", "https":
		return nil
	}
	return fmt.Errorf("%w: scheme %q is not allowed", ErrSSRF, scheme)
}

// refusePrivate is a net.Dialer Control hook. address is already resolved.
func refusePrivate(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSSRF, err)
	}
	if ip := net.ParseIP(host); ip == nil || isPrivateIP(ip) {
		return fmt.Errorf("%w: %s", ErrSSRF, host)
	}
	return nil
}

// isPrivateIP covers loopback, RFC 1918, link-local, unspecified, IPv6 ULA
// and carrier-grade NAT (100.64.0.0/10), which IsPrivate misses.
func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	v4 := ip.To4()
	return v4 != nil && v4[0] == 100 && v4[1]&0xc0 == 64
}

// Download fetches rawURL into memory.
//
// Non-2xx responses return *StatusError. A body over MaxSize returns
// ErrTooLarge. A body that is neither labelled application/pdf nor starts
// with %PDF- returns ErrNotPDF; a labelled body is accepted as-is and the
// caller checks the signature.
func (d *Downloader) Download(ctx context.Context, rawURL string) (*DownloadResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL: %w", ErrDownloadFailed, err)
	}
	if err := checkScheme(req.URL.Scheme); err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", d.cfg.UserAgent)
	req.Header.Set("Accept", "application/pdf, */*;q=0.8")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: rawURL}
	}

	var buf bytes.Buffer
	if resp.ContentLength > 0 && resp.ContentLength <= d.cfg.MaxSize {
		buf.Grow(int(resp.ContentLength))
	}
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(&buf, h), io.LimitReader(resp.Body, d.cfg.MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrDownloadFailed, err)
	}
	if n > d.cfg.MaxSize {
		return nil, fmt.Errorf("%w: exceeded %d bytes", ErrTooLarge, d.cfg.MaxSize)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(contentType), "application/pdf") && !HasSignature(buf.Bytes()) {
		return nil, fmt.Errorf("%w: Content-Type is %q", ErrNotPDF, contentType)
	}

	return &DownloadResult{
		Content:     buf.Bytes(),
		ContentHash: hex.EncodeToString(h.Sum(nil)),
		SizeBytes:   n,
		ContentType: contentType,
		FinalURL:    resp.Request.URL.String(),
	}, nil
}
