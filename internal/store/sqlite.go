package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"namesweep/internal/domain"
)

// SQLite persists progress in the workspace database. Each completion is
// written in its own implicit transaction, so the checkpoint guarantee
// holds per query; Checkpoint itself only refreshes run metadata.
type SQLite struct {
	DB  *sql.DB
	Now func() time.Time
}

func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{DB: db, Now: time.Now}
}

func (s *SQLite) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *SQLite) Load(ctx context.Context, version string, queries []string) (*domain.RunState, error) {
	var runID string
	err := s.DB.QueryRowContext(ctx, `SELECT id FROM runs WHERE version=?`, version).Scan(&runID)
	if err == sql.ErrNoRows {
		runID = uuid.NewString()
		startedAt := s.now().UTC().Format(time.RFC3339)
		if _, err := s.DB.ExecContext(ctx,
			`INSERT INTO runs(version,id,status,total,started_at) VALUES (?,?,?,?,?)`,
			version, runID, domain.RunStatusRunning, len(queries), startedAt); err != nil {
			return nil, fmt.Errorf("insert run: %w", err)
		}
		return domain.NewRunState(runID, version, queries), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read run: %w", err)
	}

	state := domain.NewRunState(runID, version, queries)
	results, err := s.Results(ctx, version)
	if err != nil {
		return nil, err
	}
	for _, res := range results {
		state.Completed[res.Query] = res
	}
	state.Reconcile(queries)
	return state, nil
}

func (s *SQLite) RecordCompletion(ctx context.Context, version string, res domain.QueryResult) error {
	names, err := json.Marshal(res.Names)
	if err != nil {
		return fmt.Errorf("marshal names: %w", err)
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT OR REPLACE INTO results(version,query,names_json,truncated,failed,error,fetched_at,attempts) VALUES (?,?,?,?,?,?,?,?)`,
		version, res.Query, string(names), boolInt(res.Truncated), boolInt(res.Failed),
		nullable(res.Error), res.FetchedAt.UTC().Format(time.RFC3339Nano), res.Attempts)
	if err != nil {
		return fmt.Errorf("record completion %q: %w", res.Query, err)
	}
	return nil
}

func (s *SQLite) Checkpoint(ctx context.Context, version string, state *domain.RunState) error {
	state.LastSaved = s.now().UTC()
	res, err := s.DB.ExecContext(ctx, `UPDATE runs SET last_saved=? WHERE version=?`,
		state.LastSaved.Format(time.RFC3339), version)
	if err != nil {
		return fmt.Errorf("checkpoint run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) SetStatus(ctx context.Context, version, status string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE runs SET status=? WHERE version=?`, status, version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) Run(ctx context.Context, version string) (domain.Run, error) {
	return scanRun(s.DB.QueryRowContext(ctx, runQuery+` WHERE r.version=?`, version))
}

func (s *SQLite) Runs(ctx context.Context) ([]domain.Run, error) {
	rows, err := s.DB.QueryContext(ctx, runQuery+` ORDER BY r.started_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Run
	for rows.Next() {
		r, err := scanRunRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) Results(ctx context.Context, version string) ([]domain.QueryResult, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT query,names_json,truncated,failed,COALESCE(error,''),fetched_at,attempts FROM results WHERE version=?`, version)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.QueryResult
	for rows.Next() {
		var (
			res                domain.QueryResult
			namesJSON, fetched string
			truncated, failed  int
		)
		if err := rows.Scan(&res.Query, &namesJSON, &truncated, &failed, &res.Error, &fetched, &res.Attempts); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(namesJSON), &res.Names); err != nil {
			// A corrupt row costs one re-fetch, not the run: dropping it
			// here lets Load put the query back in pending.
			slog.Warn("discarding corrupt result row", "version", version, "query", res.Query, "error", err)
			continue
		}
		res.Truncated = truncated != 0
		res.Failed = failed != 0
		if t, err := time.Parse(time.RFC3339Nano, fetched); err == nil {
			res.FetchedAt = t
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (s *SQLite) Reset(ctx context.Context, version string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM runs WHERE version=?`, version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	_, err = s.DB.ExecContext(ctx, `DELETE FROM results WHERE version=?`, version)
	return err
}

func (s *SQLite) DropFailed(ctx context.Context, version string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM results WHERE version=? AND failed=1`, version)
	return err
}

const runQuery = `SELECT r.version, r.id, r.status, r.total, r.started_at, COALESCE(r.last_saved,''),
	(SELECT COUNT(*) FROM results WHERE version=r.version),
	(SELECT COUNT(*) FROM results WHERE version=r.version AND failed=1)
	FROM runs r`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row *sql.Row) (domain.Run, error) {
	r, err := scanRunRows(row)
	if err == sql.ErrNoRows {
		return r, ErrNotFound
	}
	return r, err
}

func scanRunRows(row rowScanner) (domain.Run, error) {
	var r domain.Run
	err := row.Scan(&r.Version, &r.ID, &r.Status, &r.Total, &r.StartedAt, &r.LastSaved, &r.Completed, &r.Failed)
	return r, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
