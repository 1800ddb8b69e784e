package shopify

import (
	"net/http"
	"time"
)

// RetryPolicy describes how the fetcher reacts to transient upstream failures.
type RetryPolicy struct {
	// RateLimitDelay is waited before repeating a rate limited request.
	RateLimitDelay time.Duration
	// MaxRateLimitRetries bounds retries of a single request. Zero means unbounded.
	MaxRateLimitRetries int
	// MaxCursorRestarts bounds how often one window restarts after a stale cursor.
	MaxCursorRestarts int
	// RetryableStatus lists HTTP statuses that are waited out and retried.
	RetryableStatus []int
}

// DefaultRetryPolicy waits 5s on 429 indefinitely and restarts a window at most 3 times.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		RateLimitDelay:    5 * time.Second,
		MaxCursorRestarts: 3,
		RetryableStatus:   []int{http.StatusTooManyRequests},
	}
}

// Retryable reports whether status should be waited out and retried.
func (p RetryPolicy) Retryable(status int) bool {
	for _, s := range p.RetryableStatus {
		if s == status {
			return true
		}
	}
	return false
}
