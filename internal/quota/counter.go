package quota

import (
	"context"
	"time"
)

// Counter atomically consumes units of a tenant's window budget
type Counter interface {
	// Increment adds one to the tenant's count for the window unless the count has reached
	// limit. A negative limit never rejects. It returns the count after the call.
	Increment(ctx context.Context, tenantID string, windowStart time.Time, window time.Duration, limit int) (int, bool, error)

	// Peek returns the tenant's count for the window without changing it
	Peek(ctx context.Context, tenantID string, windowStart time.Time) (int, error)
}
