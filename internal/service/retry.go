package service

import "time"

// RetryPolicy bounds generation attempts per segment directive.
type RetryPolicy struct {
	Base        time.Duration
	MaxAttempts int
}

// DefaultRetryPolicy waits 2s, 4s between three attempts.
var DefaultRetryPolicy = RetryPolicy{Base: 2 * time.Second, MaxAttempts: 3}

// Backoff returns the delay before the attempt following a failed attempt n.
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return p.Base * time.Duration(1<<uint(n-1))
}

// Exhausted reports whether attempt n was the last one allowed.
func (p RetryPolicy) Exhausted(n int) bool {
	return n >= p.MaxAttempts
}
