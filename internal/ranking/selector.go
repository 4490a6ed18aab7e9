// Package ranking decides the order in which sources are tried for a DOI.
//
// The order is recomputed on every call from the current source rows and
// aggregates, so administrator changes apply to the very next acquisition.
package ranking

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/helixir/document-acquisition-service/internal/domain"
)

// Config controls how learned publisher patterns influence ordering.
type Config struct {
	// UsePublisherPatterns places a matching pattern's source first.
	UsePublisherPatterns bool
	// MinPatternSuccesses is the success count a pattern needs before it is used.
	MinPatternSuccesses int64
}

// DefaultConfig returns the default selector configuration: patterns on,
// first success is enough.
func DefaultConfig() Config {
	return Config{UsePublisherPatterns: true, MinPatternSuccesses: 1}
}

// SourceLister returns all sources with their performance in registration order.
type SourceLister interface {
	List(ctx context.Context) ([]domain.SourceState, error)
}

// PatternFinder returns learned patterns for a DOI prefix, most successful first.
type PatternFinder interface {
	ForPrefix(ctx context.Context, prefix string) ([]domain.PublisherPattern, error)
}

// Plan is an ordered trial sequence for one DOI.
type Plan struct {
	Sources []domain.Source
	// Pattern is the publisher pattern that promoted Sources[0], if any.
	Pattern *domain.PublisherPattern
}

// Names returns the source names in trial order.
func (p Plan) Names() []string {
	names := make([]string, len(p.Sources))
	for i, s := range p.Sources {
		names[i] = s.Name
	}
	return names
}

// Selector produces trial orders.
type Selector struct {
	sources  SourceLister
	patterns PatternFinder
	learner  Learner
	cfg      Config
	logger   zerolog.Logger
}

// NewSelector creates a selector.
func NewSelector(sources SourceLister, patterns PatternFinder, cfg Config, logger zerolog.Logger) *Selector {
	return &Selector{
		sources:  sources,
		patterns: patterns,
		learner:  NewLearner(cfg.MinPatternSuccesses),
		cfg:      cfg,
		logger:   logger.With().Str("component", "selector").Logger(),
	}
}

// Order returns the enabled sources for doi in trial order. A publisher pattern
// whose source is enabled goes first; the rest follow Rank. Pattern lookup
// failures only drop the hint.
func (s *Selector) Order(ctx context.Context, doi string) (*Plan, error) {
	states, err := s.sources.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load sources: %w", err)
	}

	enabled := make([]domain.SourceState, 0, len(states))
	for _, st := range states {
		if st.Source.Enabled {
			enabled = append(enabled, st)
		}
	}

	plan := &Plan{Sources: make([]domain.Source, 0, len(enabled))}
	if len(enabled) == 0 {
		return plan, nil
	}

	if s.cfg.UsePublisherPatterns && s.patterns != nil {
		if p := s.promoted(ctx, doi, enabled); p != nil {
			plan.Pattern = p
		}
	}

	seen := make(map[string]bool, len(enabled))
	if plan.Pattern != nil {
		for _, st := range enabled {
			if st.Source.Name == plan.Pattern.SourceName {
				plan.Sources = append(plan.Sources, st.Source)
				seen[st.Source.Name] = true
				break
			}
		}
	}

	for _, st := range Rank(enabled) {
		if seen[st.Source.Name] {
			continue
		}
		seen[st.Source.Name] = true
		plan.Sources = append(plan.Sources, st.Source)
	}

	return plan, nil
}

// promoted returns the strongest qualifying pattern whose source is enabled.
func (s *Selector) promoted(ctx context.Context, doi string, enabled []domain.SourceState) *domain.PublisherPattern {
	prefix := domain.DOIPrefix(doi)
	if prefix == "" {
		return nil
	}

	patterns, err := s.patterns.ForPrefix(ctx, prefix)
	if err != nil {
		s.logger.Warn().Err(err).Str("doi_prefix", prefix).Msg("publisher pattern lookup failed, ranking without it")
		return nil
	}

	isEnabled := make(map[string]bool, len(enabled))
	for _, st := range enabled {
		isEnabled[st.Source.Name] = true
	}

	for i := range patterns {
		p := patterns[i]
		if isEnabled[p.SourceName] && s.learner.Qualifies(p) {
			return &p
		}
	}
	return nil
}

// Rank sorts sources by success rate descending, then average latency
// ascending, then priority ascending. The sort is stable, so full ties keep
// the input (registration) order.
func Rank(states []domain.SourceState) []domain.SourceState {
	ranked := make([]domain.SourceState, len(states))
	copy(ranked, states)

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Performance.SuccessRate != b.Performance.SuccessRate {
			return a.Performance.SuccessRate > b.Performance.SuccessRate
		}
		if a.Performance.AvgLatencyMs != b.Performance.AvgLatencyMs {
			return a.Performance.AvgLatencyMs < b.Performance.AvgLatencyMs
		}
		return a.Source.Priority < b.Source.Priority
	})
	return ranked
}
