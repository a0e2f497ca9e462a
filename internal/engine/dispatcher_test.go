package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"namesweep/internal/client"
	"namesweep/internal/domain"
	"namesweep/internal/engine"
)

var fastSpec = domain.QuerySpec{
	Version:     "v1",
	Alphabet:    "ab",
	MaxLength:   2,
	MaxResults:  10,
	MaxAttempts: 5,
	BackoffCap:  10 * time.Second,
}

// scriptedFetch pops one canned response per call.
type scriptedFetch struct {
	responses []fetchResponse
	calls     int
}

type fetchResponse struct {
	names []string
	err   error
}

func (s *scriptedFetch) Fetch(ctx context.Context, query string) ([]string, error) {
	if s.calls >= len(s.responses) {
		return nil, errors.New("fetch called past script")
	}
	r := s.responses[s.calls]
	s.calls++
	return r.names, r.err
}

// newDispatcher wires a dispatcher with instant sleeps that records the
// requested backoff waits.
func newDispatcher(spec domain.QuerySpec, fetch engine.Fetcher, sleeps *[]time.Duration) *engine.Dispatcher {
	d := engine.NewDispatcher(spec, fetch)
	d.Sleep = func(ctx context.Context, dur time.Duration) error {
		if sleeps != nil {
			*sleeps = append(*sleeps, dur)
		}
		return ctx.Err()
	}
	return d
}

func TestDispatchSuccess(t *testing.T) {
	fetch := &scriptedFetch{responses: []fetchResponse{
		{names: []string{"ann", "al"}},
	}}
	d := newDispatcher(fastSpec, fetch, nil)

	res, err := d.Dispatch(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "a", res.Query)
	assert.Equal(t, []string{"ann", "al"}, res.Names)
	assert.Equal(t, 1, res.Attempts)
	assert.False(t, res.Truncated)
	assert.False(t, res.Failed)
}

func TestDispatchTruncationAtMaxResults(t *testing.T) {
	names := make([]string, 10)
	for i := range names {
		names[i] = string(rune('a' + i))
	}
	fetch := &scriptedFetch{responses: []fetchResponse{{names: names}}}
	d := newDispatcher(fastSpec, fetch, nil)

	res, err := d.Dispatch(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Len(t, res.Names, 10)
}

func TestDispatchThrottleBackoffDoubles(t *testing.T) {
	spec := fastSpec
	spec.MinDelay = 600 * time.Millisecond
	fetch := &scriptedFetch{responses: []fetchResponse{
		{err: client.ErrThrottled},
		{err: client.ErrThrottled},
		{names: []string{"ann"}},
	}}
	var sleeps []time.Duration
	d := newDispatcher(spec, fetch, &sleeps)

	res, err := d.Dispatch(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	require.Len(t, sleeps, 2)
	assert.Equal(t, 600*time.Millisecond, sleeps[0])
	assert.Equal(t, 1200*time.Millisecond, sleeps[1])
}

func TestDispatchBackoffCapped(t *testing.T) {
	spec := fastSpec
	spec.MinDelay = 750 * time.Millisecond
	spec.BackoffCap = 2 * time.Second
	throttles := make([]fetchResponse, 5)
	for i := range throttles {
		throttles[i] = fetchResponse{err: client.ErrThrottled}
	}
	fetch := &scriptedFetch{responses: append(throttles, fetchResponse{names: []string{"ann"}})}
	var sleeps []time.Duration
	d := newDispatcher(spec, fetch, &sleeps)

	_, err := d.Dispatch(context.Background(), "a")
	require.NoError(t, err)
	for _, s := range sleeps {
		assert.LessOrEqual(t, s, 2*time.Second)
	}
	assert.Equal(t, 2*time.Second, sleeps[len(sleeps)-1])
}

func TestDispatchThrottleNeverFailsQuery(t *testing.T) {
	// 20 throttles exceed the failure budget many times over; the query
	// must still succeed on the eventual 200.
	responses := make([]fetchResponse, 20)
	for i := range responses {
		responses[i] = fetchResponse{err: client.ErrThrottled}
	}
	fetch := &scriptedFetch{responses: append(responses, fetchResponse{names: []string{"ann"}})}
	d := newDispatcher(fastSpec, fetch, nil)

	res, err := d.Dispatch(context.Background(), "a")
	require.NoError(t, err)
	assert.False(t, res.Failed)
	assert.Equal(t, 21, res.Attempts)
}

func TestDispatchThrottleCeilingAborts(t *testing.T) {
	spec := fastSpec
	spec.ThrottleCeiling = 3
	responses := make([]fetchResponse, 3)
	for i := range responses {
		responses[i] = fetchResponse{err: client.ErrThrottled}
	}
	fetch := &scriptedFetch{responses: responses}
	d := newDispatcher(spec, fetch, nil)

	_, err := d.Dispatch(context.Background(), "a")
	require.ErrorIs(t, err, domain.ErrAborted)
	assert.Equal(t, 3, fetch.calls)
}

func TestDispatchTransientExhaustion(t *testing.T) {
	responses := make([]fetchResponse, 5)
	for i := range responses {
		responses[i] = fetchResponse{err: &client.TransientError{Query: "a", StatusCode: 500}}
	}
	fetch := &scriptedFetch{responses: responses}
	d := newDispatcher(fastSpec, fetch, nil)

	res, err := d.Dispatch(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, res.Failed)
	assert.Empty(t, res.Names)
	assert.Equal(t, 5, res.Attempts)
	assert.Contains(t, res.Error, "500")
}

func TestDispatchTransientThenSuccess(t *testing.T) {
	fetch := &scriptedFetch{responses: []fetchResponse{
		{err: &client.TransientError{Query: "a", Err: errors.New("connection reset")}},
		{names: []string{"ann"}},
	}}
	d := newDispatcher(fastSpec, fetch, nil)

	res, err := d.Dispatch(context.Background(), "a")
	require.NoError(t, err)
	assert.False(t, res.Failed)
	assert.Equal(t, 2, res.Attempts)
}

func TestDispatchContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetch := engine.FetchFunc(func(ctx context.Context, query string) ([]string, error) {
		cancel()
		return nil, ctx.Err()
	})
	d := engine.NewDispatcher(fastSpec, fetch)

	_, err := d.Dispatch(ctx, "a")
	require.ErrorIs(t, err, context.Canceled)
}
