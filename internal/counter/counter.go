// Package counter is the gateway's client for the shared counter store
// backing rate limiting. The store owns all counter state; the gateway only
// performs atomic increment-with-expiry operations against it, so multiple
// gateway instances share one consistent view without client-side
// compare-and-swap.
package counter

import (
	"context"
	"time"
)

// Store is the atomic counter primitive the rate limiter needs.
// Implementations must be safe for concurrent use.
type Store interface {
	// Increment atomically increments the counter for key and returns the
	// new count. A key seen for the first time is created with count 1 and
	// expires after window; subsequent increments within the window must
	// not extend the expiry.
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}
