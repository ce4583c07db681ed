package core

import (
	"context"
	"time"
)

// RateLimitStore abstracts the backing store for rate limiting.
type RateLimitStore interface {
	// IncrementAndCheck takes one token from the bucket for key and reports
	// whether the request is allowed.
	IncrementAndCheck(ctx context.Context, key string) (RateLimitResult, error)
}

// RateLimitResult contains the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed bool
	// Limit is the bucket capacity.
	Limit int
	// Remaining is the number of whole tokens left after this request.
	Remaining int
	// ResetAt is when the bucket will be full again.
	ResetAt time.Time
	// RetryAt is when the next token becomes available. Only meaningful when
	// Allowed is false.
	RetryAt time.Time
}
