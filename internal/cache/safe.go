package cache

import (
	"context"
	"errors"
	"log"
	"time"
)

// Safe wraps a remote cache so that its failures never reach callers.
// On a remote error the operation is retried against an in-process
// fallback; a successful remote set clears the fallback copy so stale
// local values cannot shadow fresh remote ones.
type Safe struct {
	remote   Cache
	fallback *MemoryCache
}

// NewSafe builds the failure-tolerant cache. remote may be nil, in which
// case only the in-process fallback is used.
func NewSafe(remote Cache) *Safe {
	return &Safe{remote: remote, fallback: NewMemoryCache()}
}

func (s *Safe) Get(ctx context.Context, key string) ([]byte, error) {
	if s.remote == nil {
		return s.fallback.Get(ctx, key)
	}
	data, err := s.remote.Get(ctx, key)
	if err == nil {
		return data, nil
	}
	if errors.Is(err, ErrMiss) {
		return nil, ErrMiss
	}
	log.Printf("cache: remote get %q failed, using fallback: %v", key, err)
	return s.fallback.Get(ctx, key)
}

func (s *Safe) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.remote == nil {
		return s.fallback.Set(ctx, key, value, ttl)
	}
	if err := s.remote.Set(ctx, key, value, ttl); err != nil {
		log.Printf("cache: remote set %q failed, using fallback: %v", key, err)
		return s.fallback.Set(ctx, key, value, ttl)
	}
	s.fallback.Delete(ctx, key) //nolint:errcheck
	return nil
}

func (s *Safe) Delete(ctx context.Context, key string) error {
	if s.remote != nil {
		if err := s.remote.Delete(ctx, key); err != nil {
			log.Printf("cache: remote delete %q failed: %v", key, err)
		}
	}
	return s.fallback.Delete(ctx, key)
}
