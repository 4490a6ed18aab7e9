// Package arxiv maps arXiv-issued DOIs directly to arXiv PDF URLs.
package arxiv

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/helixir/document-acquisition-service/internal/sources"
)

const (
	// Name is the stable source name.
	Name = "arxiv"

	// DefaultBaseURL serves arXiv PDFs.
	DefaultBaseURL = "https://arxiv.org"

	// DefaultTimeout is the default per-attempt timeout.
	DefaultTimeout = 30 * time.Second

	// doiPrefix is the DataCite prefix arXiv registers DOIs under.
	doiPrefix = "10.48550/arxiv."

	urlPattern = "arxiv:/pdf/{id}"
)

// Config holds configuration for the arXiv adapter.
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Priority int
	Enabled  bool
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
}

// Client implements sources.Adapter for arXiv.
type Client struct {
	config  Config
	fetcher sources.Fetcher
}

var _ sources.Adapter = (*Client)(nil)

// New creates a new arXiv adapter.
func New(cfg Config, fetcher sources.Fetcher) *Client {
	cfg.applyDefaults()
	return &Client{config: cfg, fetcher: fetcher}
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
		Description: "arXiv preprints (10.48550/arXiv.* DOIs)",
		Enabled:     c.config.Enabled,
	}
}

// ArXivID extracts the arXiv identifier from an arXiv DOI, or "" for other DOIs.
func ArXivID(doi string) string {
	if !strings.HasPrefix(strings.ToLower(doi), doiPrefix) {
		return ""
	}
	return doi[len(doiPrefix):]
}

// Attempt downloads the PDF for arXiv DOIs; any other DOI is not found without a network call.
func (c *Client) Attempt(ctx context.Context, doi string) sources.Result {
	id := ArXivID(doi)
	if id == "" {
		return sources.NotFound("not an arXiv DOI")
	}
	pdfURL := fmt.Sprintf("%s/pdf/%s", c.config.BaseURL, id)
	return sources.FetchPDF(ctx, c.fetcher, pdfURL, urlPattern)
}
