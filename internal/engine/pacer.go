package engine

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer enforces the minimum interval between request issues. Pacing is by
// issue time, not completion time, so the steady-state rate stays bounded
// even when responses are slow.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer allows one request per minDelay. A zero or negative delay
// disables pacing.
func NewPacer(minDelay time.Duration) *Pacer {
	if minDelay <= 0 {
		return &Pacer{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Every(minDelay), 1)}
}

// Wait blocks until the next request may be issued or the context is
// canceled.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}
