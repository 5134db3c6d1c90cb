// Package ratelimit enforces fixed-window per-workspace rate limits on
// Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/connexus-ai/inkwell-backend/internal/apperr"
)

// Per-operation limits within the 60 second window.
const (
	WindowSeconds = 60

	QueryLimit          = 100
	UploadPrepareLimit  = 10
	UploadCompleteLimit = 20
)

// Operation names used as limiter keys and in 429 messages.
const (
	OpQuery          = "query"
	OpUploadPrepare  = "upload_prepare"
	OpUploadComplete = "upload_complete"
)

// Store is the slice of the Redis API the limiter uses; satisfied by
// *redis.Client.
type Store interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// Limiter counts operations per (operation, workspace) window.
type Limiter struct {
	rdb    Store
	window time.Duration
}

// New builds a limiter over the given Redis client.
func New(rdb Store) *Limiter {
	return &Limiter{rdb: rdb, window: WindowSeconds * time.Second}
}

// Allow increments the window counter and fails closed: a Redis error is
// a 503, exceeding the limit is a 429.
func (l *Limiter) Allow(ctx context.Context, workspaceID uuid.UUID, operation string, limit int) error {
	key := fmt.Sprintf("rate_limit:%s:%s", operation, workspaceID)
	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return apperr.Unavailable("Rate limiter unavailable", fmt.Errorf("ratelimit.Allow: %w", err))
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, key, l.window).Err(); err != nil {
			return apperr.Unavailable("Rate limiter unavailable", fmt.Errorf("ratelimit.Allow: %w", err))
		}
	}
	if count > int64(limit) {
		return apperr.RateLimited(operation)
	}
	return nil
}
