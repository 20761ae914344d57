// Package ratelimit implements per-caller fixed windows over a pluggable
// store. The same windows back the per-IP budgets applied at the edge.
package ratelimit

import (
	"context"
	"time"
)

// Window is the counter state of one caller in the current fixed window.
type Window struct {
	Count int       `json:"count"`
	Units int       `json:"units"`
	Start time.Time `json:"start"`
}

// UpdateFunc computes the next window from the current one. Returning
// write=false leaves the stored window untouched.
type UpdateFunc func(cur Window, exists bool) (next Window, write bool)

// Store keeps windows by key. Update must run read, check and write as one
// atomic step per key.
type Store interface {
	Get(ctx context.Context, key string) (Window, bool, error)
	Set(ctx context.Context, key string, w Window, ttl time.Duration) error
	Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) (bool, error)
	// Sweep removes windows that started before cutoff and returns how many went.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}
