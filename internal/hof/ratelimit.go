package hof

import (
	"context"
	"math/rand"
	"time"
)

// RateLimitGate implements spec.md §4.5: when a worker observes a
// RateLimit error it sleeps until the server's per-minute window resets,
// plus jitter, before retrying (implicitly, on its next cycle).
type RateLimitGate struct {
	// Sleep is swappable in tests to avoid real sleeps; defaults to
	// contextSleep, a timer wait that returns early when ctx is done.
	Sleep func(ctx context.Context, d time.Duration)
}

// NewRateLimitGate returns a gate that sleeps for real.
func NewRateLimitGate() *RateLimitGate {
	return &RateLimitGate{Sleep: contextSleep}
}

func contextSleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Duration computes the sleep duration for the current moment: seconds
// until the next minute boundary (never 0 or 59 seconds per the
// thundering-herd guard), plus a uniform jitter in [1, 40) seconds. The
// result is always in [1, 100) seconds (testable property 7).
func Duration(now time.Time) time.Duration {
	secIntoMinute := now.Unix() % 60
	timeout := 60 - secIntoMinute
	if timeout == 0 || timeout == 59 {
		timeout = 1
	}
	timeout += 1 + rand.Int63n(39) // jitter in [1, 40)
	return time.Duration(timeout) * time.Second
}

// Wait blocks the calling worker until the rate-limit window resets,
// honoring ctx cancellation.
func (g *RateLimitGate) Wait(ctx context.Context) {
	d := Duration(time.Now())
	g.Sleep(ctx, d)
}
