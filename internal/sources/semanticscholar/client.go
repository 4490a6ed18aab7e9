// Package semanticscholar resolves DOIs to open-access PDFs through the Semantic Scholar Graph API.
package semanticscholar

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/helixir/document-acquisition-service/internal/sources"
)

const (
	// Name is the stable source name.
	Name = "semantic_scholar"

	// DefaultBaseURL is the default Semantic Scholar Graph API base URL.
	DefaultBaseURL = "https://api.semanticscholar.org/graph/v1"

	// DefaultRateLimit is the unauthenticated shared-pool rate.
	DefaultRateLimit = 1.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 1

	// DefaultTimeout is the default per-attempt timeout.
	DefaultTimeout = 20 * time.Second

	apiKeyHeader = "x-api-key"
	paperFields  = "paperId,isOpenAccess,openAccessPdf"
)

// Config holds configuration for the Semantic Scholar adapter.
type Config struct {
	// BaseURL is the Graph API base URL.
	BaseURL string

	// APIKey is optional; it raises the rate limit.
	APIKey string

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

// Client implements sources.Adapter for Semantic Scholar.
type Client struct {
	config     Config
	httpClient *sources.HTTPClient
	fetcher    sources.Fetcher
}

var _ sources.Adapter = (*Client)(nil)

// New creates a new Semantic Scholar adapter.
func New(cfg Config, fetcher sources.Fetcher) *Client {
	cfg.applyDefaults()
	httpCfg := sources.HTTPClientConfig{
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		BurstSize: cfg.BurstSize,
	}
	if cfg.APIKey != "" {
		httpCfg.APIKey = cfg.APIKey
		httpCfg.APIKeyHeader = apiKeyHeader
	}
	return NewWithHTTPClient(cfg, sources.NewHTTPClient(httpCfg), fetcher)
}

// NewWithHTTPClient creates a new Semantic Scholar adapter with a custom HTTP client.
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
		Description: "Semantic Scholar Graph API openAccessPdf",
		Enabled:     c.config.Enabled,
	}
}

// Attempt looks the paper up by DOI and downloads its openAccessPdf.
func (c *Client) Attempt(ctx context.Context, doi string) sources.Result {
	paperURL := fmt.Sprintf("%s/paper/DOI:%s?fields=%s", c.config.BaseURL, doi, url.QueryEscape(paperFields))

	var paper Paper
	if err := c.httpClient.GetJSON(ctx, "SemanticScholar", paperURL, &paper); err != nil {
		return sources.Failure(err)
	}

	if paper.OpenAccessPDF == nil || paper.OpenAccessPDF.URL == "" {
		if !paper.IsOpenAccess {
			return sources.ClosedAccess("semantic scholar reports no open-access PDF")
		}
		return sources.NotFound("semantic scholar has no PDF link")
	}

	return sources.FetchPDF(ctx, c.fetcher, paper.OpenAccessPDF.URL, "semantic_scholar:openAccessPdf")
}
