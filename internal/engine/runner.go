// Package engine holds the query scheduling and acquisition core: the
// rate-limited dispatcher and the run loop that drives enumeration,
// progress recording, aggregation, and checkpointing.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"namesweep/internal/aggregate"
	"namesweep/internal/domain"
	"namesweep/internal/enum"
	"namesweep/internal/events"
	"namesweep/internal/metrics"
	"namesweep/internal/store"
)

// Runner sweeps the query space of one API version. It loads prior
// progress, dispatches only the pending queries in enumeration order,
// records every completion, and checkpoints periodically and on interrupt.
type Runner struct {
	Spec    domain.QuerySpec
	Store   store.Store
	Fetch   Fetcher
	Events  *events.Writer   // optional run diary
	Metrics *metrics.Metrics // optional
	Log     *slog.Logger

	// CheckpointEvery is the completion count between periodic
	// checkpoints. Zero checkpoints after every query.
	CheckpointEvery int

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Run processes every pending query and returns the final state. On
// context cancellation it checkpoints what it has and returns the state
// alongside the context error, leaving the run resumable.
func (r *Runner) Run(ctx context.Context) (*domain.RunState, error) {
	log := r.Log
	if log == nil {
		log = slog.Default()
	}

	queries := enum.Queries(r.Spec)
	state, err := r.Store.Load(ctx, r.Spec.Version, queries)
	if err != nil {
		return nil, err
	}
	agg := aggregate.FromState(state)
	if r.Metrics != nil {
		r.Metrics.Names.Set(float64(len(agg)))
	}

	if len(state.Completed) > 0 {
		r.event(ctx, events.RunResumed, "", events.EventPayload{
			"completed": len(state.Completed), "pending": len(state.Pending)})
		log.Info("resuming run", "version", r.Spec.Version,
			"completed", len(state.Completed), "pending", len(state.Pending))
	} else {
		r.event(ctx, events.RunStarted, "", events.EventPayload{"total": len(queries)})
		log.Info("starting run", "version", r.Spec.Version, "total", len(queries))
	}
	if err := r.Store.SetStatus(ctx, r.Spec.Version, domain.RunStatusRunning); err != nil {
		return nil, err
	}

	d := NewDispatcher(r.Spec, r.Fetch)
	d.Metrics = r.Metrics
	if r.Now != nil {
		d.Now = r.Now
	}
	if r.Sleep != nil {
		d.Sleep = r.Sleep
	}

	sinceCheckpoint := 0
	pending := append([]string(nil), state.Pending...)
	for _, query := range pending {
		if ctx.Err() != nil {
			return state, r.interrupt(ctx, state)
		}

		res, err := d.Dispatch(ctx, query)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return state, r.interrupt(ctx, state)
			}
			// Throttled past the ceiling: persist and surface the abort.
			if cerr := r.checkpoint(ctx, state); cerr != nil {
				return state, cerr
			}
			_ = r.Store.SetStatus(context.WithoutCancel(ctx), r.Spec.Version, domain.RunStatusInterrupted)
			return state, err
		}

		state.Complete(res)
		if err := r.Store.RecordCompletion(ctx, r.Spec.Version, res); err != nil {
			return state, err
		}
		agg.Merge(res)
		if r.Metrics != nil {
			r.Metrics.Names.Set(float64(len(agg)))
		}

		if res.Failed {
			r.event(ctx, events.QueryFailed, query, events.EventPayload{
				"attempts": res.Attempts, "error": res.Error})
			log.Warn("query failed, skipping", "version", r.Spec.Version,
				"query", query, "attempts", res.Attempts, "error", res.Error)
		} else {
			r.event(ctx, events.QueryCompleted, query, events.EventPayload{
				"names": len(res.Names), "attempts": res.Attempts, "truncated": res.Truncated})
			log.Info("query done", "version", r.Spec.Version, "query", query,
				"names", len(res.Names), "remaining", len(state.Pending))
		}

		sinceCheckpoint++
		if r.CheckpointEvery <= 0 || sinceCheckpoint >= r.CheckpointEvery {
			if err := r.checkpoint(ctx, state); err != nil {
				return state, err
			}
			sinceCheckpoint = 0
		}
	}

	if err := r.checkpoint(ctx, state); err != nil {
		return state, err
	}
	if err := r.Store.SetStatus(ctx, r.Spec.Version, domain.RunStatusFinished); err != nil {
		return state, err
	}
	r.event(ctx, events.RunFinished, "", events.EventPayload{
		"completed": len(state.Completed), "failed": state.FailedCount(), "names": len(agg)})
	log.Info("run finished", "version", r.Spec.Version,
		"completed", len(state.Completed), "failed", state.FailedCount(), "names", len(agg))
	return state, nil
}

// interrupt checkpoints under a detached context so an operator stop never
// loses recorded completions.
func (r *Runner) interrupt(ctx context.Context, state *domain.RunState) error {
	saveCtx := context.WithoutCancel(ctx)
	if err := r.checkpoint(saveCtx, state); err != nil {
		return err
	}
	if err := r.Store.SetStatus(saveCtx, r.Spec.Version, domain.RunStatusInterrupted); err != nil {
		return err
	}
	r.event(saveCtx, events.RunInterrupted, "", events.EventPayload{
		"completed": len(state.Completed), "pending": len(state.Pending)})
	return ctx.Err()
}

// checkpoint failures are run-terminating: if progress cannot be
// persisted at all, continuing would only widen the loss window.
func (r *Runner) checkpoint(ctx context.Context, state *domain.RunState) error {
	if err := r.Store.Checkpoint(ctx, r.Spec.Version, state); err != nil {
		return err
	}
	r.event(ctx, events.RunCheckpoint, "", events.EventPayload{
		"completed": len(state.Completed), "pending": len(state.Pending)})
	return nil
}

func (r *Runner) event(ctx context.Context, evtType, query string, payload events.EventPayload) {
	if r.Events == nil {
		return
	}
	if err := r.Events.Append(ctx, evtType, r.Spec.Version, query, payload); err != nil {
		log := r.Log
		if log == nil {
			log = slog.Default()
		}
		log.Warn("append event", "type", evtType, "error", err)
	}
}
