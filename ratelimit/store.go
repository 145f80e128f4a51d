package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// namespace prefixes every key the stores write, so several applications
// can share one cache instance without colliding.
const namespace = "ratelimit"

// Store is the counter capability every backend must provide. Implementations
// are stateless wrappers around an external service's atomic primitives; all
// concurrency control is delegated to that service.
type Store interface {
	// Increment atomically increments the counter identified by
	// (name, classification, epoch) and returns the post-increment value.
	// A missing counter is created with value 1 and an expiry of one window
	// period measured from now. Two callers racing on creation must not
	// lose increments: the loser falls back to incrementing the key the
	// winner created.
	Increment(ctx context.Context, name, classification string, epoch float64, period time.Duration) (int64, error)
}

// BanStore extends Store with the ban flag capability. It is only required
// when a limiter is configured with a ban duration.
type BanStore interface {
	Store

	// Ban sets the ban flag for classification with the given TTL. A flag
	// that is already present is left untouched, so repeated violations
	// inside one ban window never extend it.
	Ban(ctx context.Context, name, classification string, duration time.Duration) error

	// Banned reports whether the ban flag for classification is present.
	Banned(ctx context.Context, name, classification string) (bool, error)
}

// counterKey builds the stable storage key for one (limiter, client, window)
// counter. The epoch is truncated to whole seconds in the key; the fractional
// part only matters for the expiry reported to clients.
func counterKey(name, classification string, epoch float64) string {
	return fmt.Sprintf("%s/%s/%s/%d", namespace, name, classification, int64(epoch))
}

// banKey builds the stable storage key for a classification's ban flag.
func banKey(name, classification string) string {
	return fmt.Sprintf("%s/banned/%s/%s", namespace, name, classification)
}
