package resque

import (
	"context"
	"strconv"
)

// Stat reads and writes the named counters under stat:<name>.
type Stat struct {
	store Store
}

func statKey(name string) string { return "stat:" + name }

// Get returns the counter value. A missing counter is 0.
func (s Stat) Get(ctx context.Context, name string) (int64, error) {
	raw, ok, err := s.store.Get(ctx, statKey(name))
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// Incr adds one.
func (s Stat) Incr(ctx context.Context, name string) error {
	return s.IncrBy(ctx, name, 1)
}

// IncrBy adds by.
func (s Stat) IncrBy(ctx context.Context, name string, by int64) error {
	_, err := s.store.IncrBy(ctx, statKey(name), by)
	return err
}

// Decr subtracts one.
func (s Stat) Decr(ctx context.Context, name string) error {
	_, err := s.store.DecrBy(ctx, statKey(name), 1)
	return err
}

// Clear deletes the counter.
func (s Stat) Clear(ctx context.Context, name string) error {
	_, err := s.store.Del(ctx, statKey(name))
	return err
}
