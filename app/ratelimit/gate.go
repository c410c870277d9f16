package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Gate enforces a minimum spacing between consecutive calls. Every caller
// waits out the remainder of the interval since the previous call before
// proceeding, regardless of which goroutine made that previous call.
type Gate struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func NewGate(interval time.Duration) *Gate {
	return &Gate{interval: interval}
}

// Interval returns the configured minimum spacing.
func (g *Gate) Interval() time.Duration {
	return g.interval
}

// Wait blocks until the interval since the previous admitted call has
// elapsed, then records the admission time. Concurrent callers are admitted
// one at a time. Returns early with the context error on cancellation.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.last.IsZero() {
		remaining := g.interval - time.Since(g.last)
		if remaining > 0 {
			timer := time.NewTimer(remaining)
			defer timer.Stop()

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	g.last = time.Now()
	return nil
}
