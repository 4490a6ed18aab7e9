// Package europepmc resolves DOIs to full-text PDFs held in Europe PMC.
package europepmc

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/helixir/document-acquisition-service/internal/sources"
)

const (
	// Name is the stable source name.
	Name = "europepmc"

	// DefaultBaseURL is the Europe PMC REST API base URL.
	DefaultBaseURL = "https://www.ebi.ac.uk/europepmc/webservices/rest"

	// DefaultRenderURL serves rendered article PDFs by PMCID.
	DefaultRenderURL = "https://europepmc.org/articles"

	// DefaultRateLimit is the default rate limit for requests per second.
	DefaultRateLimit = 5.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 5

	// DefaultTimeout is the default per-attempt timeout.
	DefaultTimeout = 25 * time.Second
)

// Config holds configuration for the Europe PMC adapter.
type Config struct {
	BaseURL   string
	RenderURL string
	Timeout   time.Duration
	RateLimit float64
	BurstSize int
	Priority  int
	Enabled   bool
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.RenderURL == "" {
		c.RenderURL = DefaultRenderURL
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

// Client implements sources.Adapter for Europe PMC.
type Client struct {
	config     Config
	httpClient *sources.HTTPClient
	fetcher    sources.Fetcher
}

var _ sources.Adapter = (*Client)(nil)

// New creates a new Europe PMC adapter.
func New(cfg Config, fetcher sources.Fetcher) *Client {
	cfg.applyDefaults()
	return NewWithHTTPClient(cfg, sources.NewHTTPClient(sources.HTTPClientConfig{
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		BurstSize: cfg.BurstSize,
	}), fetcher)
}

// NewWithHTTPClient creates a new Europe PMC adapter with a custom HTTP client.
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
		BaseURL:     c.config.BaseURL,
		Timeout:     c.config.Timeout,
		Priority:    c.config.Priority,
		Description: "Europe PMC biomedical full-text index (PMC open-access subset)",
		Enabled:     c.config.Enabled,
	}
}

// Attempt searches Europe PMC by DOI and downloads the rendered PDF of the PMC copy.
func (c *Client) Attempt(ctx context.Context, doi string) sources.Result {
	q := url.Values{}
	q.Set("query", fmt.Sprintf("DOI:%q", doi))
	q.Set("format", "json")
	q.Set("resultType", "lite")
	q.Set("pageSize", "5")
	searchURL := c.config.BaseURL + "/search?" + q.Encode()

	var resp SearchResponse
	if err := c.httpClient.GetJSON(ctx, "EuropePMC", searchURL, &resp); err != nil {
		return sources.Failure(err)
	}

	article, ok := findArticle(resp.ResultList.Result, doi)
	if !ok {
		return sources.NotFound("europe pmc has no record for the DOI")
	}
	if article.PMCID == "" {
		return sources.NotFound("europe pmc record has no PMC full text")
	}
	if !article.openAccess() {
		return sources.ClosedAccess("europe pmc full text is not open access")
	}

	pdfURL := fmt.Sprintf("%s/%s?pdf=render", c.config.RenderURL, article.PMCID)
	return sources.FetchPDF(ctx, c.fetcher, pdfURL, "europepmc:{pmcid}?pdf=render")
}

// findArticle picks the hit whose DOI matches, preferring one with a PMCID.
func findArticle(hits []Article, doi string) (Article, bool) {
	var fallback *Article
	for i := range hits {
		if !strings.EqualFold(hits[i].DOI, doi) {
			continue
		}
		if hits[i].PMCID != "" {
			return hits[i], true
		}
		if fallback == nil {
			fallback = &hits[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return Article{}, false
}
