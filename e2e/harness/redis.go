package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisHarness inspects the keys of one resque namespace directly.
type RedisHarness struct {
	client *redis.Client
	prefix string
}

// NewRedisHarness connects to url and scopes every lookup to prefix.
func NewRedisHarness(url, prefix string) (*RedisHarness, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisHarness{client: client, prefix: prefix + ":"}, nil
}

func (h *RedisHarness) key(k string) string { return h.prefix + k }

// QueueLength returns the number of pending jobs on queue.
func (h *RedisHarness) QueueLength(ctx context.Context, queue string) (int64, error) {
	return h.client.LLen(ctx, h.key("queue:"+queue)).Result()
}

// Stat returns a counter, zero when unset.
func (h *RedisHarness) Stat(ctx context.Context, name string) (int64, error) {
	v, err := h.client.Get(ctx, h.key("stat:"+name)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

// JobStatus returns the raw status code of a tracked job, or 0.
func (h *RedisHarness) JobStatus(ctx context.Context, jobID string) (int, error) {
	data, err := h.client.Get(ctx, h.key("job:"+jobID+":status")).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get job status: %w", err)
	}
	var packet struct {
		Status int `json:"status"`
	}
	if err := json.Unmarshal([]byte(data), &packet); err != nil {
		return 0, err
	}
	return packet.Status, nil
}

// Failures returns the decoded failed list.
func (h *RedisHarness) Failures(ctx context.Context) ([]map[string]any, error) {
	items, err := h.client.LRange(ctx, h.key("failed"), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		var rec map[string]any
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// WorkerCount returns the number of registered workers.
func (h *RedisHarness) WorkerCount(ctx context.Context) (int64, error) {
	return h.client.SCard(ctx, h.key("workers")).Result()
}

// WaitFor polls cond until it holds or timeout passes.
func (h *RedisHarness) WaitFor(ctx context.Context, timeout time.Duration, cond func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := cond()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New("timeout waiting for condition")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Cleanup removes every key of the namespace.
func (h *RedisHarness) Cleanup(ctx context.Context) error {
	keys, err := h.client.Keys(ctx, h.prefix+"*").Result()
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		return h.client.Del(ctx, keys...).Err()
	}
	return nil
}

// Close closes the Redis connection
func (h *RedisHarness) Close() error {
	return h.client.Close()
}

// Client returns the underlying Redis client
func (h *RedisHarness) Client() *redis.Client {
	return h.client
}
