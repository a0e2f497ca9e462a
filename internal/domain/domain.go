package domain

import (
	"errors"
	"time"
)

// QuerySpec describes the query space and rate budget of one API version.
// It is fixed at process start and never mutated.
type QuerySpec struct {
	Version         string        `json:"version"`
	Alphabet        string        `json:"alphabet"`
	MaxLength       int           `json:"max_length"`
	MinDelay        time.Duration `json:"min_delay"`
	MaxResults      int           `json:"max_results"`
	MaxAttempts     int           `json:"max_attempts"`
	BackoffCap      time.Duration `json:"backoff_cap"`
	ThrottleCeiling int           `json:"throttle_ceiling,omitempty"`
}

// QueryResult is the recorded outcome of one query, successful or not.
type QueryResult struct {
	Query     string    `json:"query"`
	Names     []string  `json:"names"`
	Truncated bool      `json:"truncated,omitempty"`
	Failed    bool      `json:"failed,omitempty"`
	Error     string    `json:"error,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
	Attempts  int       `json:"attempts"`
}

// Run is the stored metadata of one sweep over an API version.
type Run struct {
	ID        string `json:"id"`
	Version   string `json:"version"`
	Status    string `json:"status" enum:"running,interrupted,finished"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	StartedAt string `json:"started_at" format:"date-time"`
	LastSaved string `json:"last_saved,omitempty" format:"date-time"`
}

const (
	RunStatusRunning     = "running"
	RunStatusInterrupted = "interrupted"
	RunStatusFinished    = "finished"
)

// ErrAborted is returned when throttling persisted past the configured
// ceiling and the run gave up rather than silently dropping the query.
var ErrAborted = errors.New("throttled past retry ceiling")

// RunState holds a run's progress: every enumerated query is either in
// Completed or in Pending, never both, never neither.
type RunState struct {
	RunID     string                 `json:"run_id"`
	Version   string                 `json:"version"`
	Completed map[string]QueryResult `json:"completed"`
	Pending   []string               `json:"pending"`
	LastSaved time.Time              `json:"last_saved"`
}

// NewRunState returns a fresh state with the full query sequence pending.
func NewRunState(runID, version string, queries []string) *RunState {
	return &RunState{
		RunID:     runID,
		Version:   version,
		Completed: map[string]QueryResult{},
		Pending:   append([]string(nil), queries...),
	}
}

// Complete moves the result's query from Pending to Completed. Recording
// the same query twice is harmless; the later result wins.
func (s *RunState) Complete(res QueryResult) {
	if _, done := s.Completed[res.Query]; !done {
		for i, q := range s.Pending {
			if q == res.Query {
				s.Pending = append(s.Pending[:i], s.Pending[i+1:]...)
				break
			}
		}
	}
	s.Completed[res.Query] = res
}

// Reconcile rebuilds Pending from the canonical query sequence, dropping
// anything already completed and restoring enumeration order, so a stale
// or partial checkpoint cannot lose or duplicate queries.
func (s *RunState) Reconcile(queries []string) {
	pending := make([]string, 0, len(queries))
	for _, q := range queries {
		if _, done := s.Completed[q]; !done {
			pending = append(pending, q)
		}
	}
	s.Pending = pending
}

// FailedCount returns how many completed queries exhausted their retries.
func (s *RunState) FailedCount() int {
	n := 0
	for _, res := range s.Completed {
		if res.Failed {
			n++
		}
	}
	return n
}

// Done reports whether every enumerated query has been completed.
func (s *RunState) Done() bool {
	return len(s.Pending) == 0
}
