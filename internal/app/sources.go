package app

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/helixir/document-acquisition-service/internal/config"
	"github.com/helixir/document-acquisition-service/internal/pdf"
	"github.com/helixir/document-acquisition-service/internal/sources"
	"github.com/helixir/document-acquisition-service/internal/sources/arxiv"
	"github.com/helixir/document-acquisition-service/internal/sources/biorxiv"
	"github.com/helixir/document-acquisition-service/internal/sources/europepmc"
	"github.com/helixir/document-acquisition-service/internal/sources/openalex"
	"github.com/helixir/document-acquisition-service/internal/sources/publisher"
	"github.com/helixir/document-acquisition-service/internal/sources/semanticscholar"
	"github.com/helixir/document-acquisition-service/internal/sources/unpaywall"
)

// sourceAdapter is an adapter that carries its own bootstrap definition.
type sourceAdapter interface {
	sources.Adapter
	Definition() sources.Definition
}

// BuildRegistry creates every source adapter from configuration. The set of
// adapters is closed: disabled sources are still registered so administrators
// can enable them later, and their enabled flag only seeds the database.
func BuildRegistry(cfg config.SourcesConfig, acq config.AcquisitionConfig, logger zerolog.Logger) (*sources.Registry, error) {
	fetcher := pdf.NewDownloader(pdf.Config{
		MaxSize:   acq.MaxDocumentBytes,
		UserAgent: acq.UserAgent,
	})

	unpaywallEnabled := cfg.Unpaywall.Enabled
	if unpaywallEnabled && cfg.ContactEmail == "" {
		logger.Warn().Msg("unpaywall requires a contact email; registering it disabled")
		unpaywallEnabled = false
	}

	adapters := []sourceAdapter{
		unpaywall.New(unpaywall.Config{
			BaseURL:   cfg.Unpaywall.BaseURL,
			Email:     cfg.ContactEmail,
			Timeout:   cfg.Unpaywall.Timeout,
			RateLimit: cfg.Unpaywall.RateLimit,
			Priority:  cfg.Unpaywall.Priority,
			Enabled:   unpaywallEnabled,
		}, fetcher),
		openalex.New(openalex.Config{
			BaseURL:   cfg.OpenAlex.BaseURL,
			Email:     cfg.ContactEmail,
			Timeout:   cfg.OpenAlex.Timeout,
			RateLimit: cfg.OpenAlex.RateLimit,
			Priority:  cfg.OpenAlex.Priority,
			Enabled:   cfg.OpenAlex.Enabled,
		}, fetcher),
		semanticscholar.New(semanticscholar.Config{
			BaseURL:   cfg.SemanticScholar.BaseURL,
			APIKey:    cfg.SemanticScholar.APIKey,
			Timeout:   cfg.SemanticScholar.Timeout,
			RateLimit: cfg.SemanticScholar.RateLimit,
			Priority:  cfg.SemanticScholar.Priority,
			Enabled:   cfg.SemanticScholar.Enabled,
		}, fetcher),
		europepmc.New(europepmc.Config{
			BaseURL:   cfg.EuropePMC.BaseURL,
			RenderURL: cfg.EuropePMC.ContentURL,
			Timeout:   cfg.EuropePMC.Timeout,
			RateLimit: cfg.EuropePMC.RateLimit,
			Priority:  cfg.EuropePMC.Priority,
			Enabled:   cfg.EuropePMC.Enabled,
		}, fetcher),
		arxiv.New(arxiv.Config{
			BaseURL:  cfg.ArXiv.BaseURL,
			Timeout:  cfg.ArXiv.Timeout,
			Priority: cfg.ArXiv.Priority,
			Enabled:  cfg.ArXiv.Enabled,
		}, fetcher),
		biorxiv.New(biorxiv.Config{
			APIURL:    cfg.BioRxiv.BaseURL,
			SiteURL:   cfg.BioRxiv.ContentURL,
			Timeout:   cfg.BioRxiv.Timeout,
			RateLimit: cfg.BioRxiv.RateLimit,
			Priority:  cfg.BioRxiv.Priority,
			Enabled:   cfg.BioRxiv.Enabled,
		}, fetcher),
		publisher.New(publisher.Config{
			ResolverURL: cfg.Publisher.BaseURL,
			Timeout:     cfg.Publisher.Timeout,
			RateLimit:   cfg.Publisher.RateLimit,
			Priority:    cfg.Publisher.Priority,
			Enabled:     cfg.Publisher.Enabled,
		}, fetcher),
	}

	registry := sources.NewRegistry()
	for _, a := range adapters {
		def := a.Definition()
		if err := registry.Register(a, def); err != nil {
			return nil, fmt.Errorf("build source registry: %w", err)
		}
		logger.Info().
			Str("source", def.Name).
			Bool("enabled", def.Enabled).
			Int("priority", def.Priority).
			Msg("registered document source")
	}

	return registry, nil
}
