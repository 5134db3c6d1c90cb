package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/connexus-ai/inkwell-backend/internal/apperr"
)

type fakeStore struct {
	counts  map[string]int64
	incrErr error
	expired map[string]time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{counts: map[string]int64{}, expired: map[string]time.Duration{}}
}

func (f *fakeStore) Incr(ctx context.Context, key string) *redis.IntCmd {
	if f.incrErr != nil {
		return redis.NewIntResult(0, f.incrErr)
	}
	f.counts[key]++
	return redis.NewIntResult(f.counts[key], nil)
}

func (f *fakeStore) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.expired[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func TestAllowUnderLimit(t *testing.T) {
	store := newFakeStore()
	l := New(store)
	ws := uuid.New()
	for i := 0; i < UploadPrepareLimit; i++ {
		if err := l.Allow(context.Background(), ws, OpUploadPrepare, UploadPrepareLimit); err != nil {
			t.Fatalf("request %d rejected: %v", i+1, err)
		}
	}
	if len(store.expired) != 1 {
		t.Fatalf("expire called %d times, want 1", len(store.expired))
	}
}

func TestAllowOverLimit(t *testing.T) {
	store := newFakeStore()
	l := New(store)
	ws := uuid.New()
	for i := 0; i < QueryLimit; i++ {
		if err := l.Allow(context.Background(), ws, OpQuery, QueryLimit); err != nil {
			t.Fatalf("request %d rejected: %v", i+1, err)
		}
	}
	err := l.Allow(context.Background(), ws, OpQuery, QueryLimit)
	if err == nil {
		t.Fatal("expected rate limit error")
	}
	if apperr.StatusOf(err) != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", apperr.StatusOf(err))
	}
}

func TestAllowIsolatesWorkspaces(t *testing.T) {
	store := newFakeStore()
	l := New(store)
	wsA, wsB := uuid.New(), uuid.New()
	for i := 0; i < QueryLimit; i++ {
		if err := l.Allow(context.Background(), wsA, OpQuery, QueryLimit); err != nil {
			t.Fatalf("workspace A request %d rejected: %v", i+1, err)
		}
	}
	if err := l.Allow(context.Background(), wsB, OpQuery, QueryLimit); err != nil {
		t.Fatalf("workspace B blocked by workspace A usage: %v", err)
	}
}

func TestAllowFailsClosedOnRedisError(t *testing.T) {
	store := newFakeStore()
	store.incrErr = errors.New("connection refused")
	l := New(store)
	err := l.Allow(context.Background(), uuid.New(), OpQuery, QueryLimit)
	if err == nil {
		t.Fatal("expected error when redis is down")
	}
	if apperr.StatusOf(err) != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", apperr.StatusOf(err))
	}
}
