package core

import "errors"

var (
	// ErrQuotaExceeded is returned when a tenant has no budget left in the current window
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrClassifierUnavailable is returned by a scoring backend that failed or timed out
	ErrClassifierUnavailable = errors.New("classifier unavailable")

	// ErrCacheUnavailable is returned by a verdict store that cannot be reached
	ErrCacheUnavailable = errors.New("cache unavailable")

	// ErrInvalidRequest is returned for a nil request or a request without a tenant
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotFound is returned by stores and providers for unknown keys
	ErrNotFound = errors.New("not found")
)
