package infra

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Backoff produces jittered exponential waits between relay passes.
type Backoff struct {
	minDelay   time.Duration
	maxDelay   time.Duration
	multiplier float64
	jitter     float64
	current    time.Duration
	attempts   int
	mu         sync.Mutex
}

type BackoffOption func(*Backoff)

// WithJitter spreads each wait by ±fraction of the current delay. The
// fraction is clamped to [0, 1].
func WithJitter(fraction float64) BackoffOption {
	return func(b *Backoff) {
		b.jitter = min(max(fraction, 0), 1)
	}
}

// NewBackoff starts at lo and grows by mult up to hi. A ceiling below the
// floor is raised to it and a multiplier below 1 is treated as 1.
func NewBackoff(lo, hi time.Duration, mult float64, opts ...BackoffOption) *Backoff {
	hi = max(hi, lo)
	mult = max(mult, 1)
	b := &Backoff{
		minDelay:   lo,
		maxDelay:   hi,
		multiplier: mult,
		jitter:     0.2,
		current:    lo,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts++

	jitterFactor := rand.Float64()*2*b.jitter - b.jitter
	jitter := time.Duration(jitterFactor * float64(b.current))
	wait := max(b.current+jitter, b.minDelay)

	b.current = min(time.Duration(float64(b.current)*b.multiplier), b.maxDelay)

	return wait
}

// Wait sleeps for the next delay and returns it, or returns ctx.Err() early.
func (b *Backoff) Wait(ctx context.Context) (time.Duration, error) {
	d := b.Next()
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return d, ctx.Err()
	case <-t.C:
		return d, nil
	}
}

func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.minDelay
	b.attempts = 0
}

func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// ExponentialDelay returns base * 2^attempt with attempt counted from 0.
// Unlike Next it is deterministic, so retry budgets stay predictable.
func ExponentialDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	return base * time.Duration(1<<attempt)
}
