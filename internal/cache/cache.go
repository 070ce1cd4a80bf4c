// Package cache provides the advisory TTL byte-blob store used for derived
// state (event progress). Correctness never depends on it: the Safe wrapper
// swallows remote failures and falls back to an in-process LRU.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Cache is a keyed byte-blob store with per-entry TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
