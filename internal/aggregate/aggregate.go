// Package aggregate merges per-query results into the deduplicated global
// name set, keeping for each name the set of queries that produced it.
package aggregate

import (
	"encoding/json"
	"sort"
	"time"

	"namesweep/internal/domain"
)

// Aggregate maps a discovered name to the sorted set of queries that
// returned it. It is derived entirely from completed results and can be
// recomputed at any time.
type Aggregate map[string][]string

func New() Aggregate {
	return Aggregate{}
}

// Merge folds one result into the aggregate. Merging the same result
// twice leaves the aggregate unchanged, so a replayed completion after an
// ill-timed crash is harmless.
func (a Aggregate) Merge(res domain.QueryResult) {
	for _, name := range res.Names {
		a[name] = insertSorted(a[name], res.Query)
	}
}

// FromResults rebuilds the aggregate from a set of completed results.
func FromResults(results []domain.QueryResult) Aggregate {
	a := New()
	for _, res := range results {
		a.Merge(res)
	}
	return a
}

// FromState rebuilds the aggregate from a run state.
func FromState(state *domain.RunState) Aggregate {
	a := New()
	for _, res := range state.Completed {
		a.Merge(res)
	}
	return a
}

// Names returns the discovered names in sorted order.
func (a Aggregate) Names() []string {
	names := make([]string, 0, len(a))
	for name := range a {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Export is the final output artifact: the sorted name set with
// provenance, one per API version.
type Export struct {
	Version     string              `json:"version"`
	GeneratedAt time.Time           `json:"generated_at"`
	Count       int                 `json:"count"`
	Names       []string            `json:"names"`
	Provenance  map[string][]string `json:"provenance,omitempty"`
}

// ExportFor builds the output artifact for a version.
func (a Aggregate) ExportFor(version string, at time.Time, withProvenance bool) Export {
	e := Export{
		Version:     version,
		GeneratedAt: at.UTC(),
		Count:       len(a),
		Names:       a.Names(),
	}
	if withProvenance {
		e.Provenance = map[string][]string(a)
	}
	return e
}

// MarshalIndent renders the export as the JSON written to disk.
func (e Export) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(e, "", "  ")
}

func insertSorted(set []string, s string) []string {
	i := sort.SearchStrings(set, s)
	if i < len(set) && set[i] == s {
		return set
	}
	set = append(set, "")
	copy(set[i+1:], set[i:])
	set[i] = s
	return set
}
