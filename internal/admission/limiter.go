// Package admission applies token-bucket rate limiting to new
// connections, keyed independently by client IP and by user id. A
// connection is admitted only when both buckets have capacity.
package admission

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Decision is the admission outcome. RetryAfter is only meaningful
// when Allowed is false.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter decides whether to admit a connection attempt. Backends must
// produce the same decision for the same logical bucket key and
// window; which backend runs is a deployment concern.
type Limiter interface {
	Allow(ctx context.Context, ip string, userID uuid.UUID) (Decision, error)
}

// Limits configures both buckets over a shared window.
type Limits struct {
	IPPerWindow   int
	UserPerWindow int
	Window        time.Duration
}
