package workflows

import (
	"cmp"
	"maps"
	"slices"

	"github.com/helixir/document-acquisition-service/internal/domain"
)

// Workflow code must replay identically, so nothing here may depend on map
// iteration order.

// sortedKeys returns the keys of m in ascending order.
func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	return slices.Sorted(maps.Keys(m))
}

// batchDOIs normalizes the requested DOIs, drops blanks and duplicates and
// returns them sorted, so "DOI:10.1/A" and "10.1/a" schedule one activity.
// The input is not modified.
func batchDOIs(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if doi := domain.NormalizeDOI(s); doi != "" {
			out = append(out, doi)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
