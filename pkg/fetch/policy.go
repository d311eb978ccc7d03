package fetch

import (
	"context"
	"math"
	"time"
)

// Policy is the retry schedule of a page fetch.
type Policy struct {
	// MaxAttempts includes the initial attempt.
	MaxAttempts int
	// BaseDelay is the wait after the first failed attempt.
	BaseDelay time.Duration
	// Multiplier grows the wait after every further failure.
	Multiplier float64
	// MaxDelay caps the exponential growth before jitter is applied.
	MaxDelay time.Duration
	// Jitter spreads each wait uniformly by ±Jitter of its value (0..1).
	Jitter float64
}

// DefaultPolicy waits 0.5s, 1s, 2s between four attempts.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    8 * time.Second,
		Jitter:      0.2,
	}
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay returns the wait after the given failed attempt (1-based). rnd is a
// uniform sample in [0, 1); 0.5 yields the un-jittered value.
func (p Policy) Delay(attempt int, rnd float64) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}

	jitter := math.Min(math.Max(p.Jitter, 0), 1)
	rnd = math.Min(math.Max(rnd, 0), 1)
	d *= 1 + jitter*(2*rnd-1)
	return time.Duration(d)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the real-clock Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
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
