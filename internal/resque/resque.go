// Package resque implements Redis-backed job queues: enqueueing, reservation,
// job execution with lifecycle events, status tracking, stats and failure
// records.
//
// All state is reached through a *Resque value built with New. Nothing is kept
// in package globals, so several instances can coexist in one process.
package resque

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aceteam-ai/resque/internal/event"
	"github.com/rs/zerolog"
)

// EnqueueEvent is passed to beforeEnqueue and afterEnqueue listeners.
type EnqueueEvent struct {
	Queue string
	Class string
	Args  map[string]any
	ID    string
}

// FailureEvent is passed to onFailure listeners.
type FailureEvent struct {
	Err error
	Job *Job
}

// Config holds the collaborators of a Resque instance. Zero fields get
// defaults.
type Config struct {
	// Events receives lifecycle events (default: a new empty bus).
	Events *event.Bus

	// Failures stores failure records (default: the Redis failed list).
	Failures FailureBackend

	// Factory resolves job classes to handlers (default: an empty Registry).
	Factory JobFactory

	Logger zerolog.Logger

	// Now is the clock (default: time.Now).
	Now func() time.Time
}

// Resque is the shared context passed to workers, jobs and strategies.
type Resque struct {
	store    Store
	events   *event.Bus
	failures FailureBackend
	factory  JobFactory
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates a Resque instance on top of store.
func New(store Store, cfg Config) *Resque {
	r := &Resque{
		store:    store,
		events:   cfg.Events,
		failures: cfg.Failures,
		factory:  cfg.Factory,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	if r.events == nil {
		r.events = event.New()
	}
	if r.failures == nil {
		r.failures = NewRedisFailureBackend(store)
	}
	if r.factory == nil {
		r.factory = NewRegistry()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Store returns the backing store.
func (r *Resque) Store() Store { return r.store }

// Events returns the event bus.
func (r *Resque) Events() *event.Bus { return r.events }

// Failures returns the failure backend.
func (r *Resque) Failures() FailureBackend { return r.failures }

// Factory returns the job factory.
func (r *Resque) Factory() JobFactory { return r.factory }

// Logger returns the logger.
func (r *Resque) Logger() zerolog.Logger { return r.logger }

// Now returns the current time from the configured clock.
func (r *Resque) Now() time.Time { return r.now() }

// Stats returns the counter accessor.
func (r *Resque) Stats() Stat { return Stat{store: r.store} }

// Status returns the status record handle for a job id.
func (r *Resque) Status(id string) *Status {
	return &Status{id: id, store: r.store, now: r.now}
}

func queueKey(queue string) string { return "queue:" + queue }

// Enqueue creates a job on queue and returns its id. A beforeEnqueue listener
// returning ErrDontCreate cancels the enqueue; the id is then empty and the
// error nil.
func (r *Resque) Enqueue(ctx context.Context, queue, class string, args any, track bool) (string, error) {
	if queue == "" || class == "" {
		return "", errors.New("queue and class are required")
	}
	argMap, err := normalizeArgs(args)
	if err != nil {
		return "", err
	}

	id := GenerateJobID()
	ev := EnqueueEvent{Queue: queue, Class: class, Args: argMap, ID: id}
	outcome, err := r.events.Dispatch(ctx, event.BeforeEnqueue, ev, ErrDontCreate)
	if err != nil {
		return "", err
	}
	if outcome == event.Veto {
		r.logger.Debug().Str("queue", queue).Str("class", class).Msg("Enqueue vetoed")
		return "", nil
	}

	if err := r.create(ctx, queue, class, argMap, track, id); err != nil {
		return "", err
	}
	if err := r.events.Trigger(ctx, event.AfterEnqueue, ev); err != nil {
		return id, err
	}
	return id, nil
}

// create pushes a job without firing events.
func (r *Resque) create(ctx context.Context, queue, class string, args map[string]any, track bool, id string) error {
	p := Payload{
		Class:     class,
		Args:      []map[string]any{args},
		ID:        id,
		QueueTime: float64(r.now().UnixNano()) / 1e9,
	}
	if args == nil {
		p.Args = []map[string]any{}
	}
	if err := r.Push(ctx, queue, p); err != nil {
		return err
	}
	if track {
		return r.Status(id).Create(ctx)
	}
	return nil
}

// Push appends a payload to queue and records the queue name.
func (r *Resque) Push(ctx context.Context, queue string, p Payload) error {
	data, err := p.Encode()
	if err != nil {
		return err
	}
	if err := r.store.SAdd(ctx, "queues", queue); err != nil {
		return fmt.Errorf("failed to register queue %s: %w", queue, err)
	}
	if _, err := r.store.RPush(ctx, queueKey(queue), data); err != nil {
		return fmt.Errorf("failed to push to queue %s: %w", queue, err)
	}
	return nil
}

// Reserve pops the next job off queue. It returns nil when the queue is empty.
func (r *Resque) Reserve(ctx context.Context, queue string) (*Job, error) {
	raw, ok, err := r.store.LPop(ctx, queueKey(queue))
	if err != nil {
		return nil, fmt.Errorf("failed to pop from queue %s: %w", queue, err)
	}
	if !ok {
		return nil, nil
	}
	p, err := DecodePayload(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid job in queue %s: %w", queue, err)
	}
	return r.NewJob(queue, p), nil
}

// ReserveBlocking waits up to timeout for a job on any of queues. A zero
// timeout waits until ctx is done. It returns nil when nothing arrived.
func (r *Resque) ReserveBlocking(ctx context.Context, queues []string, timeout time.Duration) (*Job, error) {
	if len(queues) == 0 {
		return nil, nil
	}
	keys := make([]string, len(queues))
	for i, q := range queues {
		keys[i] = queueKey(q)
	}

	key, raw, ok, err := r.store.BLPop(ctx, timeout, keys...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pop from queues: %w", err)
	}
	if !ok {
		return nil, nil
	}
	queue := strings.TrimPrefix(key, "queue:")
	p, err := DecodePayload(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid job in queue %s: %w", queue, err)
	}
	return r.NewJob(queue, p), nil
}

// Queues lists the known queue names in ascending order.
func (r *Resque) Queues(ctx context.Context) ([]string, error) {
	queues, err := r.store.SMembers(ctx, "queues")
	if err != nil {
		return nil, fmt.Errorf("failed to list queues: %w", err)
	}
	sort.Strings(queues)
	return queues, nil
}

// Size returns the number of pending jobs on queue.
func (r *Resque) Size(ctx context.Context, queue string) (int64, error) {
	return r.store.LLen(ctx, queueKey(queue))
}

// RemoveQueue deletes a queue and its pending jobs. It returns the number of
// jobs removed.
func (r *Resque) RemoveQueue(ctx context.Context, queue string) (int64, error) {
	n, err := r.Dequeue(ctx, queue)
	if err != nil {
		return 0, err
	}
	if err := r.store.SRem(ctx, "queues", queue); err != nil {
		return n, err
	}
	return n, nil
}
