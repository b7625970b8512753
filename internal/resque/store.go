package resque

import (
	"context"
	"time"
)

// Store is the list, set and string key-value service jobs and workers live
// in. Keys are passed un-prefixed; namespacing is the store's concern.
type Store interface {
	RPush(ctx context.Context, key string, values ...string) (int64, error)
	LPop(ctx context.Context, key string) (string, bool, error)
	RPop(ctx context.Context, key string) (string, bool, error)
	RPopLPush(ctx context.Context, src, dst string) (string, bool, error)
	// BLPop returns the key the value was popped from. A zero timeout
	// blocks until ctx is done.
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) (key, value string, ok bool, err error)
	LLen(ctx context.Context, key string) (int64, error)
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SMembers(ctx context.Context, key string) ([]string, error)

	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Del(ctx context.Context, keys ...string) (int64, error)

	IncrBy(ctx context.Context, key string, by int64) (int64, error)
	DecrBy(ctx context.Context, key string, by int64) (int64, error)

	// Reset drops pooled connections so the next command dials afresh.
	Reset(ctx context.Context) error
	// Reconnect resets and verifies the connection.
	Reconnect(ctx context.Context) error
}
