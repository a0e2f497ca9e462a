package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types appended over a run's lifetime.
const (
	RunStarted     = "run.started"
	RunResumed     = "run.resumed"
	RunCheckpoint  = "run.checkpoint"
	RunInterrupted = "run.interrupted"
	RunFinished    = "run.finished"
	QueryCompleted = "query.completed"
	QueryFailed    = "query.failed"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Event is one row of the run diary.
type Event struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts" format:"date-time"`
	Type    string `json:"type"`
	Version string `json:"version,omitempty"`
	Query   string `json:"query,omitempty"`
	Payload string `json:"payload_json"`
}

func (w Writer) Append(ctx context.Context, evtType, version, query string, payload EventPayload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = w.DB.ExecContext(ctx, `INSERT INTO events(ts,type,version,query,payload_json) VALUES (?,?,?,?,?)`,
		ts, evtType, nullable(version), nullable(query), string(data))
	return err
}

// Latest returns the most recent events, newest first, optionally filtered.
func (w Writer) Latest(ctx context.Context, n int, version, evtType string) ([]Event, error) {
	if n <= 0 {
		n = 20
	}
	query := `SELECT id,ts,type,COALESCE(version,''),COALESCE(query,''),payload_json FROM events`
	var (
		conds []string
		args  []any
	)
	if version != "" {
		conds = append(conds, "version=?")
		args = append(args, version)
	}
	if evtType != "" {
		conds = append(conds, "type=?")
		args = append(args, evtType)
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, n)
	rows, err := w.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.Version, &e.Query, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
