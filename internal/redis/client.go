// Package redis provides the Redis-backed store used by queues, workers,
// status tracking, stats and failure records.
//
// All keys are namespaced under a configurable prefix (default "resque:") so
// several deployments can share one Redis. Callers always pass and receive
// un-prefixed key names.
package redis

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// DefaultPrefix is the namespace applied to every key.
const DefaultPrefix = "resque:"

// Client wraps a go-redis client with key prefixing and reconnect support.
type Client struct {
	mu      sync.RWMutex
	client  *redis.Client
	opts    *redis.Options
	prefix  string
	limiter *rate.Limiter
}

// ClientConfig holds configuration for the Redis client.
type ClientConfig struct {
	// URL is the connection URL, e.g. redis://localhost:6379/0.
	// A bare host:port is accepted too.
	URL string

	// Password overrides the password in URL when set.
	Password string

	// Database overrides the database in URL when > 0. Zero keeps the URL's.
	Database int

	// Prefix is the key namespace (default "resque:"). A missing trailing
	// colon is added.
	Prefix string
}

// NewClient creates a client. No connection is made until Connect or the
// first command.
func NewClient(cfg ClientConfig) (*Client, error) {
	rawURL := cfg.URL
	if rawURL == "" {
		rawURL = "redis://localhost:6379"
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "redis://" + rawURL
	}

	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.Database > 0 {
		opts.DB = cfg.Database
	}
	// Blocking pops must return when the worker is asked to stop.
	opts.ContextTimeoutEnabled = true

	return &Client{
		client:  redis.NewClient(opts),
		opts:    opts,
		prefix:  normalizePrefix(cfg.Prefix),
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}, nil
}

// NewFromOptions wraps already parsed go-redis options. Used by tests that
// point at a miniredis address.
func NewFromOptions(opts *redis.Options, prefix string) *Client {
	opts.ContextTimeoutEnabled = true
	return &Client{
		client:  redis.NewClient(opts),
		opts:    opts,
		prefix:  normalizePrefix(prefix),
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

func normalizePrefix(prefix string) string {
	if prefix == "" {
		return DefaultPrefix
	}
	if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return prefix
}

func (c *Client) rdb() *redis.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

func (c *Client) key(k string) string {
	return c.prefix + k
}

// Connect verifies the connection.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.rdb().Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return nil
}

// Prefix returns the key namespace.
func (c *Client) Prefix() string {
	return c.prefix
}

// Addr returns the server address, with any credentials masked.
func (c *Client) Addr() string {
	return maskRedisURL("redis://" + c.opts.Addr)
}

// Reset closes every pooled connection and replaces the underlying client.
// The next command dials afresh. Called before a child process is spawned so
// no connection is shared across the process boundary.
func (c *Client) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.client
	c.client = redis.NewClient(c.opts)
	if err := old.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("failed to close Redis connection: %w", err)
	}
	return nil
}

// Reconnect resets the connection pool and pings. Attempts are throttled to
// one per second.
func (c *Client) Reconnect(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := c.Reset(ctx); err != nil {
		return err
	}
	return c.Connect(ctx)
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// RPush appends values to the tail of a list.
func (c *Client) RPush(ctx context.Context, key string, values ...string) (int64, error) {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return c.rdb().RPush(ctx, c.key(key), args...).Result()
}

// LPop removes the head of a list. ok is false when the list is empty.
func (c *Client) LPop(ctx context.Context, key string) (string, bool, error) {
	return nilable(c.rdb().LPop(ctx, c.key(key)).Result())
}

// RPop removes the tail of a list.
func (c *Client) RPop(ctx context.Context, key string) (string, bool, error) {
	return nilable(c.rdb().RPop(ctx, c.key(key)).Result())
}

// RPopLPush atomically moves the tail of src to the head of dst.
func (c *Client) RPopLPush(ctx context.Context, src, dst string) (string, bool, error) {
	return nilable(c.rdb().RPopLPush(ctx, c.key(src), c.key(dst)).Result())
}

// BLPop blocks until one of keys has an element or timeout passes. A zero
// timeout blocks indefinitely. The returned key is un-prefixed.
func (c *Client) BLPop(ctx context.Context, timeout time.Duration, keys ...string) (string, string, bool, error) {
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = c.key(k)
	}

	res, err := c.rdb().BLPop(ctx, timeout, prefixed...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", "", false, nil
		}
		return "", "", false, err
	}
	if len(res) != 2 {
		return "", "", false, fmt.Errorf("unexpected BLPOP reply of %d elements", len(res))
	}
	return strings.TrimPrefix(res[0], c.prefix), res[1], true, nil
}

// LLen returns the length of a list.
func (c *Client) LLen(ctx context.Context, key string) (int64, error) {
	return c.rdb().LLen(ctx, c.key(key)).Result()
}

// LRange returns a slice of a list.
func (c *Client) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return c.rdb().LRange(ctx, c.key(key), start, stop).Result()
}

// SAdd adds members to a set.
func (c *Client) SAdd(ctx context.Context, key string, members ...string) error {
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return c.rdb().SAdd(ctx, c.key(key), args...).Err()
}

// SRem removes members from a set.
func (c *Client) SRem(ctx context.Context, key string, members ...string) error {
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return c.rdb().SRem(ctx, c.key(key), args...).Err()
}

// SIsMember reports whether member belongs to the set.
func (c *Client) SIsMember(ctx context.Context, key, member string) (bool, error) {
	return c.rdb().SIsMember(ctx, c.key(key), member).Result()
}

// SMembers lists a set.
func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	return c.rdb().SMembers(ctx, c.key(key)).Result()
}

// Get reads a string key. ok is false when the key does not exist.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	return nilable(c.rdb().Get(ctx, c.key(key)).Result())
}

// Set writes a string key. A zero ttl means no expiry.
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb().Set(ctx, c.key(key), value, ttl).Err()
}

// Expire sets a key's time to live.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.rdb().Expire(ctx, c.key(key), ttl).Err()
}

// Exists reports whether key exists.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb().Exists(ctx, c.key(key)).Result()
	return n > 0, err
}

// Del deletes keys and returns how many existed.
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = c.key(k)
	}
	return c.rdb().Del(ctx, prefixed...).Result()
}

// IncrBy atomically adds by to an integer key.
func (c *Client) IncrBy(ctx context.Context, key string, by int64) (int64, error) {
	return c.rdb().IncrBy(ctx, c.key(key), by).Result()
}

// DecrBy atomically subtracts by from an integer key.
func (c *Client) DecrBy(ctx context.Context, key string, by int64) (int64, error) {
	return c.rdb().DecrBy(ctx, c.key(key), by).Result()
}

func nilable(v string, err error) (string, bool, error) {
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return v, true, nil
}

// maskRedisURL masks the password in a Redis URL for safe logging.
// redis://:password@host:port -> redis://:***@host:port
func maskRedisURL(redisURL string) string {
	u, err := url.Parse(redisURL)
	if err != nil {
		if strings.HasPrefix(redisURL, "redis://") {
			return "redis://***"
		}
		return "***"
	}
	if _, hasPass := u.User.Password(); hasPass {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// MaskURL is maskRedisURL for callers outside the package.
func MaskURL(redisURL string) string {
	return maskRedisURL(redisURL)
}
