// Package reserver decides which queue a worker takes its next job from.
//
// Three policies are provided:
//
//	queue_order         strict priority: first non-empty queue in the configured order
//	random_queue_order  like queue_order, with a fresh shuffle on every attempt
//	blocking_list_pop   one blocking pop across every queue, bounded by a timeout
//
// A "*" entry in the queue list stands for every queue known to the store,
// sorted ascending, and is expanded on each attempt so new queues are picked
// up without a restart.
package reserver

import (
	"context"
	"math/rand"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/aceteam-ai/resque/internal/resque"
)

// Reserver pulls the next job off one of a set of queues.
type Reserver interface {
	// Name identifies the policy in logs.
	Name() string

	// Queues returns the queues to consider on this attempt, wildcard expanded.
	Queues(ctx context.Context) ([]string, error)

	// Reserve returns the next job, or nil when none was available.
	Reserve(ctx context.Context) (*resque.Job, error)

	// WaitAfterFailedAttempt reports whether the caller should sleep after
	// an attempt that found nothing.
	WaitAfterFailedAttempt() bool
}

// Wildcard in a queue list means every known queue.
const Wildcard = "*"

type base struct {
	r      *resque.Resque
	queues []string
	logger zerolog.Logger
}

func (b *base) expand(ctx context.Context) ([]string, error) {
	if !slices.Contains(b.queues, Wildcard) {
		return slices.Clone(b.queues), nil
	}
	return b.r.Queues(ctx)
}

// QueueOrder checks queues in priority order.
type QueueOrder struct {
	base
}

// NewQueueOrder creates the default reserver.
func NewQueueOrder(r *resque.Resque, queues []string, logger zerolog.Logger) *QueueOrder {
	return &QueueOrder{base{r: r, queues: queues, logger: logger}}
}

func (q *QueueOrder) Name() string { return "QueueOrder" }

func (q *QueueOrder) Queues(ctx context.Context) ([]string, error) {
	return q.expand(ctx)
}

func (q *QueueOrder) Reserve(ctx context.Context) (*resque.Job, error) {
	queues, err := q.Queues(ctx)
	if err != nil {
		return nil, err
	}
	return reserveInOrder(ctx, q.r, queues, q.Name(), q.logger)
}

func (q *QueueOrder) WaitAfterFailedAttempt() bool { return true }

// RandomQueueOrder checks queues in a new random order on every attempt.
type RandomQueueOrder struct {
	base
}

// NewRandomQueueOrder creates a shuffling reserver.
func NewRandomQueueOrder(r *resque.Resque, queues []string, logger zerolog.Logger) *RandomQueueOrder {
	return &RandomQueueOrder{base{r: r, queues: queues, logger: logger}}
}

func (q *RandomQueueOrder) Name() string { return "RandomQueueOrder" }

func (q *RandomQueueOrder) Queues(ctx context.Context) ([]string, error) {
	queues, err := q.expand(ctx)
	if err != nil {
		return nil, err
	}
	rand.Shuffle(len(queues), func(i, j int) {
		queues[i], queues[j] = queues[j], queues[i]
	})
	return queues, nil
}

func (q *RandomQueueOrder) Reserve(ctx context.Context) (*resque.Job, error) {
	queues, err := q.Queues(ctx)
	if err != nil {
		return nil, err
	}
	return reserveInOrder(ctx, q.r, queues, q.Name(), q.logger)
}

func (q *RandomQueueOrder) WaitAfterFailedAttempt() bool { return true }

func reserveInOrder(ctx context.Context, r *resque.Resque, queues []string, name string, logger zerolog.Logger) (*resque.Job, error) {
	for _, queue := range queues {
		logger.Debug().Str("reserver", name).Str("queue", queue).Msg("Checking queue for jobs")

		job, err := r.Reserve(ctx, queue)
		if err != nil {
			return nil, err
		}
		if job != nil {
			logger.Info().Str("reserver", name).Str("queue", queue).Msg("Found job on queue")
			return job, nil
		}
	}
	return nil, nil
}

// DefaultTimeout bounds a blocking pop when none is configured.
const DefaultTimeout = 5 * time.Second

// BlockingListPop waits on every queue at once.
type BlockingListPop struct {
	base
	timeout time.Duration
}

// NewBlockingListPop creates a blocking reserver. A zero timeout blocks until
// the context is cancelled; a negative one selects DefaultTimeout.
func NewBlockingListPop(r *resque.Resque, queues []string, timeout time.Duration, logger zerolog.Logger) *BlockingListPop {
	if timeout < 0 {
		timeout = DefaultTimeout
	}
	return &BlockingListPop{base: base{r: r, queues: queues, logger: logger}, timeout: timeout}
}

func (b *BlockingListPop) Name() string { return "BlockingListPop" }

// Timeout returns the configured wait.
func (b *BlockingListPop) Timeout() time.Duration { return b.timeout }

func (b *BlockingListPop) Queues(ctx context.Context) ([]string, error) {
	return b.expand(ctx)
}

func (b *BlockingListPop) Reserve(ctx context.Context) (*resque.Job, error) {
	queues, err := b.Queues(ctx)
	if err != nil {
		return nil, err
	}
	if len(queues) == 0 {
		// Nothing to block on yet; pause so the worker loop does not spin.
		wait := b.timeout
		if wait == 0 || wait > DefaultTimeout {
			wait = DefaultTimeout
		}
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
		return nil, nil
	}
	job, err := b.r.ReserveBlocking(ctx, queues, b.timeout)
	if err != nil {
		return nil, err
	}
	if job != nil {
		b.logger.Info().Str("reserver", b.Name()).Str("queue", job.Queue).Msg("Found job on queue")
	}
	return job, nil
}

func (b *BlockingListPop) WaitAfterFailedAttempt() bool { return false }
