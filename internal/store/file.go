package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"namesweep/internal/domain"
)

// File keeps one JSON checkpoint per version under dir. Writes go to a
// temp file which is fsynced and renamed over the old checkpoint, so a
// kill mid-write leaves the previous checkpoint intact.
type File struct {
	Dir string
	Now func() time.Time

	states map[string]*checkpointFile
}

type checkpointFile struct {
	RunID     string                        `json:"run_id"`
	Version   string                        `json:"version"`
	Status    string                        `json:"status"`
	Total     int                           `json:"total"`
	StartedAt time.Time                     `json:"started_at"`
	LastSaved time.Time                     `json:"last_saved"`
	Completed map[string]domain.QueryResult `json:"completed"`
}

func NewFile(dir string) *File {
	return &File{Dir: dir, Now: time.Now, states: map[string]*checkpointFile{}}
}

func (f *File) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

func (f *File) path(version string) string {
	return filepath.Join(f.Dir, version+".json")
}

func (f *File) read(version string) (*checkpointFile, error) {
	data, err := os.ReadFile(f.path(version))
	if err != nil {
		return nil, err
	}
	var cp checkpointFile
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, err
	}
	if cp.Completed == nil {
		cp.Completed = map[string]domain.QueryResult{}
	}
	return &cp, nil
}

func (f *File) Load(ctx context.Context, version string, queries []string) (*domain.RunState, error) {
	cp, err := f.read(version)
	if err != nil {
		if !os.IsNotExist(err) {
			// Losing a checkpoint means redoing work, not halting the run.
			slog.Warn("discarding unreadable checkpoint", "version", version, "error", err)
		}
		cp = &checkpointFile{
			RunID:     uuid.NewString(),
			Version:   version,
			Status:    domain.RunStatusRunning,
			Total:     len(queries),
			StartedAt: f.now().UTC(),
			Completed: map[string]domain.QueryResult{},
		}
	}
	cp.Total = len(queries)
	f.states[version] = cp

	state := domain.NewRunState(cp.RunID, version, queries)
	for q, res := range cp.Completed {
		state.Completed[q] = res
	}
	state.LastSaved = cp.LastSaved
	state.Reconcile(queries)
	return state, nil
}

// RecordCompletion is deferred durability: the file backend persists only
// at Checkpoint, which the engine calls every few completions and on exit.
func (f *File) RecordCompletion(ctx context.Context, version string, res domain.QueryResult) error {
	cp, ok := f.states[version]
	if !ok {
		return fmt.Errorf("version %s: %w", version, ErrNotFound)
	}
	cp.Completed[res.Query] = res
	return nil
}

func (f *File) Checkpoint(ctx context.Context, version string, state *domain.RunState) error {
	cp, ok := f.states[version]
	if !ok {
		return fmt.Errorf("version %s: %w", version, ErrNotFound)
	}
	for q, res := range state.Completed {
		cp.Completed[q] = res
	}
	state.LastSaved = f.now().UTC()
	cp.LastSaved = state.LastSaved
	return f.write(version, cp)
}

func (f *File) write(version string, cp *checkpointFile) error {
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	tmp, err := os.CreateTemp(f.Dir, version+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path(version))
}

func (f *File) SetStatus(ctx context.Context, version, status string) error {
	cp, ok := f.states[version]
	if !ok {
		loaded, err := f.read(version)
		if err != nil {
			return fmt.Errorf("version %s: %w", version, ErrNotFound)
		}
		cp = loaded
		f.states[version] = cp
	}
	cp.Status = status
	return f.write(version, cp)
}

func (f *File) Run(ctx context.Context, version string) (domain.Run, error) {
	cp, err := f.read(version)
	if err != nil {
		return domain.Run{}, ErrNotFound
	}
	return cp.run(), nil
}

func (f *File) Runs(ctx context.Context) ([]domain.Run, error) {
	entries, err := os.ReadDir(f.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []domain.Run
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		cp, err := f.read(strings.TrimSuffix(name, ".json"))
		if err != nil {
			slog.Warn("skipping unreadable checkpoint", "file", name, "error", err)
			continue
		}
		out = append(out, cp.run())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (f *File) Results(ctx context.Context, version string) ([]domain.QueryResult, error) {
	cp, err := f.read(version)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	queries := make([]string, 0, len(cp.Completed))
	for q := range cp.Completed {
		queries = append(queries, q)
	}
	sort.Strings(queries)
	out := make([]domain.QueryResult, 0, len(queries))
	for _, q := range queries {
		out = append(out, cp.Completed[q])
	}
	return out, nil
}

func (f *File) Reset(ctx context.Context, version string) error {
	delete(f.states, version)
	if err := os.Remove(f.path(version)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (f *File) DropFailed(ctx context.Context, version string) error {
	cp, err := f.read(version)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for q, res := range cp.Completed {
		if res.Failed {
			delete(cp.Completed, q)
		}
	}
	f.states[version] = cp
	return f.write(version, cp)
}

func (cp *checkpointFile) run() domain.Run {
	failed := 0
	for _, res := range cp.Completed {
		if res.Failed {
			failed++
		}
	}
	r := domain.Run{
		ID:        cp.RunID,
		Version:   cp.Version,
		Status:    cp.Status,
		Total:     cp.Total,
		Completed: len(cp.Completed),
		Failed:    failed,
		StartedAt: cp.StartedAt.Format(time.RFC3339),
	}
	if !cp.LastSaved.IsZero() {
		r.LastSaved = cp.LastSaved.Format(time.RFC3339)
	}
	return r
}
