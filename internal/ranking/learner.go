package ranking

import (
	"github.com/helixir/document-acquisition-service/internal/domain"
	"github.com/helixir/document-acquisition-service/internal/repository"
)

// Learner is the publisher pattern policy. Every success for a DOI with a
// known prefix is recorded; a pattern only influences ordering once it has
// at least MinSuccesses successes.
type Learner struct {
	MinSuccesses int64
}

// NewLearner creates a learner. Thresholds below one are raised to one.
func NewLearner(minSuccesses int64) Learner {
	if minSuccesses < 1 {
		minSuccesses = 1
	}
	return Learner{MinSuccesses: minSuccesses}
}

// Observe fills the pattern fields of a ledger entry for a successful attempt.
// Failures and DOIs without a registrant prefix leave the entry unchanged.
func (l Learner) Observe(entry *repository.LedgerEntry, urlPattern string) {
	if !entry.Attempt.FailureCategory.IsSuccess() {
		return
	}
	prefix := domain.DOIPrefix(entry.Attempt.DOI)
	if prefix == "" {
		return
	}
	entry.PatternPrefix = prefix
	entry.PublisherName = domain.PublisherName(prefix)
	entry.URLPattern = urlPattern
}

// Qualifies reports whether p has enough successes to affect ordering.
func (l Learner) Qualifies(p domain.PublisherPattern) bool {
	return p.SuccessCount >= l.MinSuccesses
}
