package cache

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryCache_SetGet(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	if _, err := c.Get(ctx, "missing"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, []byte("v")) {
		t.Errorf("got %q, want %q", got, "v")
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Errorf("expected ErrMiss after delete, got %v", err)
	}
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	if err := c.Set(ctx, "short", []byte("x"), 10*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := c.Get(ctx, "short"); err != nil {
		t.Fatalf("fresh entry should hit: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := c.Get(ctx, "short"); !errors.Is(err, ErrMiss) {
		t.Errorf("expected ErrMiss after expiry, got %v", err)
	}
}

func TestMemoryCache_ZeroTTLNeverExpires(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	if err := c.Set(ctx, "pin", []byte("x"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := c.Get(ctx, "pin"); err != nil {
		t.Errorf("zero-TTL entry should persist: %v", err)
	}
}

// brokenCache fails every operation, simulating an unreachable remote.
type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}

func (brokenCache) Delete(context.Context, string) error {
	return errors.New("connection refused")
}

func TestSafe_FallsBackWhenRemoteFails(t *testing.T) {
	s := NewSafe(brokenCache{})
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set through a broken remote must not fail: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get through a broken remote must hit the fallback: %v", err)
	}
	if !bytes.Equal(got, []byte("v")) {
		t.Errorf("got %q, want %q", got, "v")
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete through a broken remote must not fail: %v", err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Errorf("expected ErrMiss after delete, got %v", err)
	}
}

func TestSafe_NilRemoteUsesFallback(t *testing.T) {
	s := NewSafe(nil)
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, err := s.Get(ctx, "k"); err != nil || !bytes.Equal(got, []byte("v")) {
		t.Errorf("get = %q, %v", got, err)
	}
}

// missCache always misses cleanly, to check that a remote miss is not
// masked by the fallback.
type missCache struct{}

func (missCache) Get(context.Context, string) ([]byte, error) { return nil, ErrMiss }

func (missCache) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (missCache) Delete(context.Context, string) error { return nil }

func TestSafe_RemoteMissIsAuthoritative(t *testing.T) {
	s := NewSafe(missCache{})
	ctx := context.Background()

	// A successful remote set clears the local copy, so a later remote
	// miss must not resurrect a stale fallback value.
	if err := s.fallback.Set(ctx, "k", []byte("stale"), time.Minute); err != nil {
		t.Fatalf("seed fallback: %v", err)
	}
	if err := s.Set(ctx, "k", []byte("fresh"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Errorf("remote miss must win over the fallback, got %v", err)
	}
}
