// Package ratelimit spaces out calls to a shared provider.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// DefaultInterval is the spacing between OCR dispatches.
const DefaultInterval = 100 * time.Millisecond

// Limiter enforces a minimum interval between successive Acquire calls
// across all goroutines sharing it. A burst of one makes every dispatch
// wait for the previous one's interval to elapse.
type Limiter struct {
	interval time.Duration
	lim      *rate.Limiter
}

// NewLimiter creates a limiter; an interval <= 0 disables spacing.
func NewLimiter(interval time.Duration) *Limiter {
	if interval <= 0 {
		return &Limiter{lim: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Limiter{
		interval: interval,
		lim:      rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Acquire blocks until the caller may dispatch. It returns the context error
// if ctx ends first (or would end before the slot opens).
func (l *Limiter) Acquire(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.lim.Wait(ctx)
}

// Interval reports the configured spacing.
func (l *Limiter) Interval() time.Duration {
	if l == nil {
		return 0
	}
	return l.interval
}
