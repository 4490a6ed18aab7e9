// Package unpaywall resolves DOIs to open-access PDFs through the Unpaywall API.
package unpaywall

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/helixir/document-acquisition-service/internal/sources"
)

const (
	// Name is the stable source name.
	Name = "unpaywall"

	// DefaultBaseURL is the default Unpaywall API base URL.
	DefaultBaseURL = "https://api.unpaywall.org"

	// DefaultRateLimit keeps well under the documented 100k requests/day.
	DefaultRateLimit = 5.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 5

	// DefaultTimeout is the default per-attempt timeout.
	DefaultTimeout = 20 * time.Second
)

// Config holds configuration for the Unpaywall adapter.
type Config struct {
	// BaseURL is the Unpaywall API base URL.
	BaseURL string

	// Email is required by Unpaywall on every request.
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

// Client implements sources.Adapter for Unpaywall.
type Client struct {
	config     Config
	httpClient *sources.HTTPClient
	fetcher    sources.Fetcher
}

var _ sources.Adapter = (*Client)(nil)

// New creates a new Unpaywall adapter.
func New(cfg Config, fetcher sources.Fetcher) *Client {
	cfg.applyDefaults()
	return NewWithHTTPClient(cfg, sources.NewHTTPClient(sources.HTTPClientConfig{
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		BurstSize: cfg.BurstSize,
	}), fetcher)
}

// NewWithHTTPClient creates a new Unpaywall adapter with a custom HTTP client.
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
		Name:                Name,
		BaseURL:             c.config.BaseURL,
		RequiresCredentials: true,
		Timeout:             c.config.Timeout,
		Priority:            c.config.Priority,
		Description:         "Unpaywall open-access resolver keyed by DOI",
		Enabled:             c.config.Enabled && c.config.Email != "",
	}
}

// Attempt looks the DOI up in Unpaywall and downloads the best PDF location.
func (c *Client) Attempt(ctx context.Context, doi string) sources.Result {
	if c.config.Email == "" {
		return sources.Failure(fmt.Errorf("unpaywall: %w", sources.ErrMissingCredentials))
	}

	lookupURL := fmt.Sprintf("%s/v2/%s?email=%s", c.config.BaseURL, url.PathEscape(doi), url.QueryEscape(c.config.Email))

	var resp Response
	if err := c.httpClient.GetJSON(ctx, "Unpaywall", lookupURL, &resp); err != nil {
		return sources.Failure(err)
	}

	if !resp.IsOA {
		return sources.ClosedAccess("unpaywall reports no open-access copy")
	}

	pdfURL := pickPDFURL(&resp)
	if pdfURL == "" {
		return sources.NotFound("unpaywall has open-access locations but none links a PDF")
	}

	return sources.FetchPDF(ctx, c.fetcher, pdfURL, "unpaywall:best_oa_location")
}

// pickPDFURL prefers the best location, then any other location with a direct PDF link.
func pickPDFURL(resp *Response) string {
	if resp.BestOALocation != nil && resp.BestOALocation.URLForPDF != "" {
		return resp.BestOALocation.URLForPDF
	}
	for _, loc := range resp.OALocations {
		if loc.URLForPDF != "" {
			return loc.URLForPDF
		}
	}
	return ""
}
