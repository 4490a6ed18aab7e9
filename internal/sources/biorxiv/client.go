// Package biorxiv resolves Cold Spring Harbor preprint DOIs to bioRxiv/medRxiv full-text PDFs.
package biorxiv

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/document-acquisition-service/internal/sources"
)

const (
	// Name is the stable source name.
	Name = "biorxiv"

	// DefaultAPIURL is the bioRxiv details API base URL.
	DefaultAPIURL = "https://api.biorxiv.org"

	// DefaultSiteURL is the bioRxiv content host.
	DefaultSiteURL = "https://www.biorxiv.org"

	// DefaultRateLimit is the default rate limit for requests per second.
	DefaultRateLimit = 2.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 2

	// DefaultTimeout is the default per-attempt timeout.
	DefaultTimeout = 30 * time.Second

	doiPrefix  = "10.1101/"
	urlPattern = "biorxiv:/content/{doi}v{version}.full.pdf"
)

// Config holds configuration for the bioRxiv adapter.
type Config struct {
	APIURL    string
	SiteURL   string
	Server    string
	Timeout   time.Duration
	RateLimit float64
	BurstSize int
	Priority  int
	Enabled   bool
}

func (c *Config) applyDefaults() {
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	if c.SiteURL == "" {
		c.SiteURL = DefaultSiteURL
	}
	if c.Server == "" {
		c.Server = "biorxiv"
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

// Client implements sources.Adapter for bioRxiv.
type Client struct {
	config     Config
	httpClient *sources.HTTPClient
	fetcher    sources.Fetcher
}

var _ sources.Adapter = (*Client)(nil)

// New creates a new bioRxiv adapter.
func New(cfg Config, fetcher sources.Fetcher) *Client {
	cfg.applyDefaults()
	return NewWithHTTPClient(cfg, sources.NewHTTPClient(sources.HTTPClientConfig{
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		BurstSize: cfg.BurstSize,
	}), fetcher)
}

// NewWithHTTPClient creates a new bioRxiv adapter with a custom HTTP client.
func NewWithHTTPClient(cfg Config, httpClient *sources.HTTPClient, fetcher sources.Fetcher) *Client {
	cfg.applyDefaults()
	return &Client{config: cfg, httpClient: httpClient, fetcher: fetcher}
}

// Name returns the source name.
func (c *Client) Name() string { return Name }

// Definition returns the bootstrap registration for this source.
func (c *Client) Definition() sources.Definition {
	return sources.Definition{
		Name:        Name,
		BaseURL:     c.config.APIURL,
		Timeout:     c.config.Timeout,
		Priority:    c.config.Priority,
		Description: "bioRxiv preprint server (10.1101/* DOIs)",
		Enabled:     c.config.Enabled,
	}
}

// Attempt looks up the latest preprint version and downloads its full-text PDF.
func (c *Client) Attempt(ctx context.Context, doi string) sources.Result {
	if !strings.HasPrefix(doi, doiPrefix) {
		return sources.NotFound("not a Cold Spring Harbor DOI")
	}

	detailsURL := fmt.Sprintf("%s/details/%s/%s", c.config.APIURL, c.config.Server, doi)
	var resp DetailsResponse
	if err := c.httpClient.GetJSON(ctx, "bioRxiv", detailsURL, &resp); err != nil {
		return sources.Failure(err)
	}

	version := latestVersion(resp.Collection)
	if version == 0 {
		return sources.NotFound("biorxiv has no preprint for the DOI")
	}

	pdfURL := fmt.Sprintf("%s/content/%sv%d.full.pdf", c.config.SiteURL, doi, version)
	return sources.FetchPDF(ctx, c.fetcher, pdfURL, urlPattern)
}

func latestVersion(versions []Preprint) int {
	latest := 0
	for _, p := range versions {
		if v, err := strconv.Atoi(p.Version); err == nil && v > latest {
			latest = v
		}
	}
	return latest
}
