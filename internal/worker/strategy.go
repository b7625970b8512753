package worker

import (
	"context"

	"github.com/aceteam-ai/resque/internal/resque"
)

// Strategy decides where a reserved job runs. Perform must turn every
// failed attempt into exactly one Job.Fail; its own error return is for
// problems recording the outcome.
type Strategy interface {
	Name() string
	SetWorker(w *Worker)
	Perform(ctx context.Context, job *resque.Job) error
	// Shutdown stops the job in flight, if the strategy can.
	Shutdown()
}

// InProcess runs jobs on the worker goroutine.
type InProcess struct {
	w *Worker
}

func (s *InProcess) Name() string { return "InProcess" }

func (s *InProcess) SetWorker(w *Worker) { s.w = w }

func (s *InProcess) Perform(ctx context.Context, job *resque.Job) error {
	s.w.logger.Info().Str("queue", job.Queue).Msg("Processing job in process")
	return s.w.Perform(ctx, job)
}

func (s *InProcess) Shutdown() {
	s.w.logger.Debug().Msg("No child to kill")
}

// DefaultBatchSize is the number of jobs BatchFork runs per fork.
const DefaultBatchSize = 10

// BatchFork runs most jobs in process and forks for every Size-th one,
// counted over the worker's processed total. A Size of zero never forks.
type BatchFork struct {
	*Fork
	Size int
}

// NewBatchFork creates a batch strategy around a fork strategy.
func NewBatchFork(size int, fork *Fork) *BatchFork {
	return &BatchFork{Fork: fork, Size: size}
}

func (s *BatchFork) Name() string { return "BatchFork" }

// Forks reports whether the job after processed completed ones is forked.
func (s *BatchFork) Forks(processed int64) bool {
	if s.Size <= 0 {
		return false
	}
	return processed == 0 || processed%int64(s.Size) == 0
}

func (s *BatchFork) Perform(ctx context.Context, job *resque.Job) error {
	if !s.Forks(s.w.Processed()) {
		s.w.logger.Info().Str("queue", job.Queue).Msg("Processing job in process")
		return s.w.Perform(ctx, job)
	}
	return s.Fork.Perform(ctx, job)
}
