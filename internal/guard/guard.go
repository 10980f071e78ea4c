package guard

import (
	"context"
	"time"
)

// Result is the verdict of a guard check.
type Result struct {
	Allowed bool
	Reason  string
	Guard   string
	// RetryAfter is how long a rejected caller should wait. Zero when
	// unknown.
	RetryAfter time.Duration
}

// Limiter admits or rejects a request for a key.
type Limiter interface {
	Check(ctx context.Context, key string) Result
}
