// Package openalex resolves DOIs to open-access PDFs through the OpenAlex works API.
package openalex

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/helixir/document-acquisition-service/internal/sources"
)

const (
	// Name is the stable source name.
	Name = "openalex"

	// DefaultBaseURL is the default OpenAlex API base URL.
	DefaultBaseURL = "https://api.openalex.org"

	// DefaultRateLimit is the default rate limit for requests per second.
	DefaultRateLimit = 10.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 10

	// DefaultTimeout is the default per-attempt timeout.
	DefaultTimeout = 20 * time.Second

	// doiURLPrefix is how OpenAlex keys works by DOI.
	doiURLPrefix = "https://doi.org/"
)

// Config holds configuration for the OpenAlex adapter.
type Config struct {
	// BaseURL is the OpenAlex API base URL.
	BaseURL string

	// Email is the contact email for the polite pool.
	Email string

	// Timeout bounds one attempt including the PDF download.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// Priority is the bootstrap administrator priority.
	Priority int

	// Enabled is the bootstrap enabled flag.
	Enabled bool
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.BurstSize == 0 {
		c.BurstSize = DefaultBurstSize
	}
}

// Client implements sources.Adapter for OpenAlex.
type Client struct {
	config     Config
	httpClient *sources.HTTPClient
	fetcher    sources.Fetcher
}

var _ sources.Adapter = (*Client)(nil)

// New creates a new OpenAlex adapter.
func New(cfg Config, fetcher sources.Fetcher) *Client {
	cfg.applyDefaults()
	ua := "Helixir-DocAcquire/1.0"
	if cfg.Email != "" {
		ua += " (mailto:" + cfg.Email + ")"
	}
	return NewWithHTTPClient(cfg, sources.NewHTTPClient(sources.HTTPClientConfig{
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		BurstSize: cfg.BurstSize,
		UserAgent: ua,
	}), fetcher)
}

// NewWithHTTPClient creates a new OpenAlex adapter with a custom HTTP client.
// This is useful for testing with mock servers.
func NewWithHTTPClient(cfg Config, httpClient *sources.HTTPClient, fetcher sources.Fetcher) *Client {
	cfg.applyDefaults()
	return &Client{
		config:     cfg,
		httpClient: httpClient,
		fetcher:    fetcher,
	}
}

// Name returns the source name.
func (c *Client) Name() string { return Name }

// Definition returns the bootstrap registration for this source.
func (c *Client) Definition() sources.Definition {
	return sources.Definition{
		Name:        Name,
		BaseURL:     c.config.BaseURL,
		Timeout:     c.config.Timeout,
		Priority:    c.config.Priority,
		Description: "OpenAlex scholarly metadata API (best open-access location)",
		Enabled:     c.config.Enabled,
	}
}

// Attempt fetches the work record for the DOI and downloads its open-access PDF.
func (c *Client) Attempt(ctx context.Context, doi string) sources.Result {
	workURL := fmt.Sprintf("%s/works/%s", c.config.BaseURL, url.PathEscape(doiURLPrefix+doi))
	if c.config.Email != "" {
		workURL += "?mailto=" + url.QueryEscape(c.config.Email)
	}

	var work Work
	if err := c.httpClient.GetJSON(ctx, "OpenAlex", workURL, &work); err != nil {
		return sources.Failure(err)
	}

	if work.OpenAccess != nil && !work.OpenAccess.IsOA {
		return sources.ClosedAccess("openalex marks the work as closed access")
	}

	pdfURL := pickPDFURL(&work)
	if pdfURL == "" {
		return sources.NotFound("openalex has no PDF location for the work")
	}

	return sources.FetchPDF(ctx, c.fetcher, pdfURL, "openalex:pdf_url")
}

func pickPDFURL(w *Work) string {
	if w.BestOALocation != nil && w.BestOALocation.PDFURL != "" {
		return w.BestOALocation.PDFURL
	}
	if w.PrimaryLocation != nil && w.PrimaryLocation.IsOA && w.PrimaryLocation.PDFURL != "" {
		return w.PrimaryLocation.PDFURL
	}
	for _, loc := range w.Locations {
		if loc.IsOA && loc.PDFURL != "" {
			return loc.PDFURL
		}
	}
	return ""
}
