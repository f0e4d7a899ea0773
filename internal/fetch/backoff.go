package fetch

import (
	"context"
	"math/rand"
	"time"
)

// jitterBackOff waits base*2^n plus a uniform jitter before retry n+1.
// It satisfies backoff.BackOff.
type jitterBackOff struct {
	base      time.Duration
	jitterMin time.Duration
	jitterMax time.Duration
	n         int
}

func (b *jitterBackOff) NextBackOff() time.Duration {
	d := b.base<<b.n + RandomBetween(b.jitterMin, b.jitterMax)
	b.n++
	return d
}

func (b *jitterBackOff) Reset() { b.n = 0 }

// RandomBetween returns a uniform duration in [lo, hi)
func RandomBetween(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)))
}

// Pause sleeps for a random duration in [lo, hi) unless ctx ends first
func Pause(ctx context.Context, lo, hi time.Duration) error {
	return Sleep(ctx, RandomBetween(lo, hi))
}

// Sleep waits for d unless ctx ends first
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
