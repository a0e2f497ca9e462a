// Package store persists run progress. The engine only ever talks to the
// Store interface; the sqlite backend is the default, the file backend
// keeps a portable JSON checkpoint per version, and the memory backend
// backs tests.
package store

import (
	"context"
	"errors"

	"namesweep/internal/domain"
)

var ErrNotFound = errors.New("not found")

// Store is the durable record of which queries have completed and what
// they returned. After Checkpoint returns, a subsequent Load must yield a
// completed set that is a superset of everything checkpointed.
type Store interface {
	// Load returns the run state for a version, creating a fresh one with
	// the full query sequence pending if no usable record exists. A
	// corrupt record degrades to a fresh state, never an error.
	Load(ctx context.Context, version string, queries []string) (*domain.RunState, error)

	// RecordCompletion durably notes one completed query where the backend
	// supports per-result durability; otherwise durability is deferred to
	// the next Checkpoint.
	RecordCompletion(ctx context.Context, version string, res domain.QueryResult) error

	// Checkpoint atomically persists the state snapshot.
	Checkpoint(ctx context.Context, version string, state *domain.RunState) error

	// SetStatus records the run lifecycle status.
	SetStatus(ctx context.Context, version, status string) error

	// Run returns stored metadata for one version's run.
	Run(ctx context.Context, version string) (domain.Run, error)

	// Runs lists stored runs across versions.
	Runs(ctx context.Context) ([]domain.Run, error)

	// Results returns all completed query results for a version.
	Results(ctx context.Context, version string) ([]domain.QueryResult, error)

	// Reset discards a version's run entirely.
	Reset(ctx context.Context, version string) error

	// DropFailed forgets completed-with-failure results so the next run
	// re-attempts those queries.
	DropFailed(ctx context.Context, version string) error
}
