package httpclient

import (
	"context"
	"math/rand"
	"time"
)

// Backoff yields jittered exponential delays: each delay is drawn in [d/2, d], and d doubles after
// every wait, up to a maximum.
type Backoff struct {
	next time.Duration
	max  time.Duration
}

// NewBackoff returns a backoff starting at base and capped at maxDelay.
func NewBackoff(base, maxDelay time.Duration) *Backoff {
	return &Backoff{next: max(base, 0), max: max(maxDelay, base, 0)}
}

// Next returns the next delay and doubles the following one.
func (b *Backoff) Next() time.Duration {
	d := b.next
	b.next = min(b.next*2, b.max)
	// #nosec:G404 We don't need cryptographic randomness.
	return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
}

// Wait sleeps for the next delay. It returns the context error if ctx is done first.
func (b *Backoff) Wait(ctx context.Context) error {
	t := time.NewTimer(b.Next())
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
