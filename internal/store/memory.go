package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"namesweep/internal/domain"
)

// Memory is an in-memory Store for tests. Checkpoint copies the state so a
// "reload" observes exactly what was checkpointed, mirroring the durable
// backends.
type Memory struct {
	saved   map[string]*domain.RunState
	status  map[string]string
	queries map[string][]string
}

func NewMemory() *Memory {
	return &Memory{
		saved:   map[string]*domain.RunState{},
		status:  map[string]string{},
		queries: map[string][]string{},
	}
}

func (m *Memory) Load(ctx context.Context, version string, queries []string) (*domain.RunState, error) {
	m.queries[version] = append([]string(nil), queries...)
	prev, ok := m.saved[version]
	if !ok {
		m.status[version] = domain.RunStatusRunning
		return domain.NewRunState(uuid.NewString(), version, queries), nil
	}
	state := domain.NewRunState(prev.RunID, version, queries)
	for q, res := range prev.Completed {
		state.Completed[q] = res
	}
	state.LastSaved = prev.LastSaved
	state.Reconcile(queries)
	return state, nil
}

func (m *Memory) RecordCompletion(ctx context.Context, version string, res domain.QueryResult) error {
	return nil
}

func (m *Memory) Checkpoint(ctx context.Context, version string, state *domain.RunState) error {
	state.LastSaved = time.Now().UTC()
	snap := domain.NewRunState(state.RunID, version, nil)
	for q, res := range state.Completed {
		snap.Completed[q] = res
	}
	snap.LastSaved = state.LastSaved
	m.saved[version] = snap
	return nil
}

func (m *Memory) SetStatus(ctx context.Context, version, status string) error {
	m.status[version] = status
	return nil
}

func (m *Memory) Run(ctx context.Context, version string) (domain.Run, error) {
	state, ok := m.saved[version]
	if !ok {
		return domain.Run{}, ErrNotFound
	}
	return domain.Run{
		ID:        state.RunID,
		Version:   version,
		Status:    m.status[version],
		Total:     len(m.queries[version]),
		Completed: len(state.Completed),
		Failed:    state.FailedCount(),
	}, nil
}

func (m *Memory) Runs(ctx context.Context) ([]domain.Run, error) {
	var out []domain.Run
	for version := range m.saved {
		r, err := m.Run(ctx, version)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *Memory) Results(ctx context.Context, version string) ([]domain.QueryResult, error) {
	state, ok := m.saved[version]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]domain.QueryResult, 0, len(state.Completed))
	for _, res := range state.Completed {
		out = append(out, res)
	}
	return out, nil
}

func (m *Memory) Reset(ctx context.Context, version string) error {
	delete(m.saved, version)
	delete(m.status, version)
	return nil
}

func (m *Memory) DropFailed(ctx context.Context, version string) error {
	state, ok := m.saved[version]
	if !ok {
		return nil
	}
	for q, res := range state.Completed {
		if res.Failed {
			delete(state.Completed, q)
		}
	}
	return nil
}
