package util

import "time"

// Backoff yields exponentially growing retry delays, doubling from the
// initial delay up to a maximum.
type Backoff struct {
	next     time.Duration
	maxDelay time.Duration
}

// NewBackoff creates a backoff starting at initial and capped at maxDelay.
func NewBackoff(initial, maxDelay time.Duration) *Backoff {
	return &Backoff{next: initial, maxDelay: maxDelay}
}

// Next returns the current delay and advances to the next value.
func (b *Backoff) Next() time.Duration {
	d := b.next
	b.next = min(2*b.next, b.maxDelay)
	return d
}
