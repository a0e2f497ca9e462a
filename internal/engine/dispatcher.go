package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"namesweep/internal/client"
	"namesweep/internal/domain"
	"namesweep/internal/metrics"
)

// Fetcher is the opaque fetch capability the dispatcher drives. It returns
// matched names, client.ErrThrottled, or a transient failure.
type Fetcher interface {
	Fetch(ctx context.Context, query string) ([]string, error)
}

// FetchFunc adapts a function to the Fetcher interface.
type FetchFunc func(ctx context.Context, query string) ([]string, error)

func (f FetchFunc) Fetch(ctx context.Context, query string) ([]string, error) {
	return f(ctx, query)
}

// Dispatcher issues one query at a time against the rate budget of a
// QuerySpec. Throttles are retried with exponential backoff without bound
// (up to the optional ceiling); transient failures are retried up to
// MaxAttempts and then recorded as a failed result so the run continues.
type Dispatcher struct {
	Spec    domain.QuerySpec
	Fetch   Fetcher
	Metrics *metrics.Metrics

	// Now and Sleep are injectable for tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error

	pacer *Pacer
}

func NewDispatcher(spec domain.QuerySpec, fetch Fetcher) *Dispatcher {
	return &Dispatcher{
		Spec:  spec,
		Fetch: fetch,
		Now:   time.Now,
		Sleep: sleepCtx,
		pacer: NewPacer(spec.MinDelay),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (d *Dispatcher) newBackoff() *backoff.ExponentialBackOff {
	base := d.Spec.MinDelay
	if base <= 0 {
		base = time.Second
	}
	cap := d.Spec.BackoffCap
	if cap <= 0 {
		cap = 30 * time.Second
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = base
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = cap
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// Dispatch runs one query to a recorded outcome. The returned error is
// non-nil only for context cancellation or a throttle past the configured
// ceiling; per-query failures come back as a QueryResult with Failed set,
// isolating one bad query from the rest of the run.
func (d *Dispatcher) Dispatch(ctx context.Context, query string) (domain.QueryResult, error) {
	bo := d.newBackoff()
	attempts := 0
	throttles := 0
	failures := 0
	for {
		if err := d.pacer.Wait(ctx); err != nil {
			return domain.QueryResult{}, err
		}
		attempts++
		d.count(func(m *metrics.Metrics) { m.Dispatches.Inc() })

		names, err := d.Fetch.Fetch(ctx, query)
		switch {
		case err == nil:
			d.count(func(m *metrics.Metrics) { m.Successes.Inc() })
			return d.success(query, names, attempts), nil

		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return domain.QueryResult{}, err

		case errors.Is(err, client.ErrThrottled):
			throttles++
			d.count(func(m *metrics.Metrics) { m.Throttles.Inc() })
			if d.Spec.ThrottleCeiling > 0 && throttles >= d.Spec.ThrottleCeiling {
				return domain.QueryResult{}, fmt.Errorf("query %q throttled %d times: %w", query, throttles, domain.ErrAborted)
			}

		default:
			failures++
			if failures >= d.Spec.MaxAttempts {
				d.count(func(m *metrics.Metrics) { m.Exhausted.Inc() })
				return domain.QueryResult{
					Query:     query,
					Failed:    true,
					Error:     err.Error(),
					FetchedAt: d.Now().UTC(),
					Attempts:  attempts,
				}, nil
			}
			d.count(func(m *metrics.Metrics) { m.Retries.Inc() })
		}

		if err := d.Sleep(ctx, bo.NextBackOff()); err != nil {
			return domain.QueryResult{}, err
		}
	}
}

func (d *Dispatcher) success(query string, names []string, attempts int) domain.QueryResult {
	truncated := len(names) >= d.Spec.MaxResults
	if len(names) > d.Spec.MaxResults {
		names = names[:d.Spec.MaxResults]
	}
	return domain.QueryResult{
		Query:     query,
		Names:     names,
		Truncated: truncated,
		FetchedAt: d.Now().UTC(),
		Attempts:  attempts,
	}
}

func (d *Dispatcher) count(fn func(*metrics.Metrics)) {
	if d.Metrics != nil {
		fn(d.Metrics)
	}
}
