package rate

import "errors"

var (
	// ErrRateLimited reports a rejected admission.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps backend failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
