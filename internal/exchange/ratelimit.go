package exchange

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/ducminhle1904/fleet-bot/internal/telemetry"
)

// MinRequestInterval is the minimum spacing between any two venue
// requests, signed or unsigned, across the whole process.
const MinRequestInterval = 100 * time.Millisecond

// RateLimiter is the process-wide gate enforcing MinRequestInterval
// between any two requests to the venue; callers block on Wait. One
// instance is constructed at startup and injected into every Gateway,
// whatever credentials it signs with.
type RateLimiter struct {
	limiter *rate.Limiter
	name    string
}

// NewRateLimiter builds a gate with a minimum inter-request interval.
func NewRateLimiter(name string, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		name:    name,
	}
}

// Wait blocks until the gate admits the caller, or ctx is canceled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	start := time.Now()
	err := r.limiter.Wait(ctx)
	telemetry.RateLimitWait.Observe(time.Since(start).Seconds())
	return err
}
