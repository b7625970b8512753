// Package worker runs the reserve-and-execute loop that drains queues.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aceteam-ai/resque/internal/event"
	"github.com/aceteam-ai/resque/internal/reserver"
	"github.com/aceteam-ai/resque/internal/resque"
	"github.com/aceteam-ai/resque/internal/schedule"
)

// Config holds configuration for a worker.
type Config struct {
	// Queues to work, in priority order. "*" means every queue.
	Queues []string

	// Interval is the pause after an attempt that found nothing. Zero makes
	// Work return as soon as no job is available.
	Interval time.Duration

	// Reserver picks the next job (default QueueOrder over Queues).
	Reserver reserver.Reserver

	// Strategy executes jobs (default InProcess).
	Strategy Strategy

	// Schedule, when set, limits processing to a daily window.
	Schedule *schedule.Window

	// Hostname and Pid override the detected identity.
	Hostname string
	Pid      int

	// PidLister reports live worker processes on this host (default ProcessPids).
	PidLister PidLister

	Logger zerolog.Logger
}

// Worker processes jobs from a set of queues until shut down.
type Worker struct {
	r        *resque.Resque
	cfg      Config
	id       string
	hostname string
	pid      int
	queues   []string
	reserver reserver.Reserver
	strategy Strategy
	logger   zerolog.Logger

	shutdown  atomic.Bool
	paused    atomic.Bool
	processed atomic.Int64
	wake      chan struct{}

	mu      sync.Mutex
	current *resque.Job
	stop    context.CancelFunc
}

// New creates a worker. Nothing is written to the store until Work.
func New(r *resque.Resque, cfg Config) (*Worker, error) {
	if len(cfg.Queues) == 0 {
		return nil, errors.New("at least one queue is required")
	}

	hostname := cfg.Hostname
	if hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("failed to get hostname: %w", err)
		}
		hostname = h
	}
	pid := cfg.Pid
	if pid == 0 {
		pid = os.Getpid()
	}
	if cfg.PidLister == nil {
		cfg.PidLister = ProcessPids
	}

	w := &Worker{
		r:        r,
		cfg:      cfg,
		hostname: hostname,
		pid:      pid,
		queues:   cfg.Queues,
		reserver: cfg.Reserver,
		strategy: cfg.Strategy,
		wake:     make(chan struct{}, 1),
	}
	w.id = fmt.Sprintf("%s:%d:%s", hostname, pid, strings.Join(cfg.Queues, ","))
	w.logger = cfg.Logger.With().Str("worker", w.id).Logger()

	if w.reserver == nil {
		w.reserver = reserver.NewQueueOrder(r, cfg.Queues, w.logger)
	}
	if w.strategy == nil {
		w.strategy = &InProcess{}
	}
	w.strategy.SetWorker(w)
	return w, nil
}

// ID returns the worker id: host:pid:queue,queue.
func (w *Worker) ID() string { return w.id }

func (w *Worker) String() string { return w.id }

// Hostname returns the host part of the id.
func (w *Worker) Hostname() string { return w.hostname }

// Pid returns the process part of the id.
func (w *Worker) Pid() int { return w.pid }

// Queues returns the configured queue list, wildcard unexpanded.
func (w *Worker) Queues() []string { return w.queues }

// Resque returns the context the worker runs in.
func (w *Worker) Resque() *resque.Resque { return w.r }

// Logger returns the worker's logger.
func (w *Worker) Logger() zerolog.Logger { return w.logger }

// Processed returns the number of jobs handled since Work started.
func (w *Worker) Processed() int64 { return w.processed.Load() }

// Strategy returns the execution strategy.
func (w *Worker) Strategy() Strategy { return w.strategy }

// Reserver returns the reservation strategy.
func (w *Worker) Reserver() reserver.Reserver { return w.reserver }

// Interval returns the idle pause.
func (w *Worker) Interval() time.Duration { return w.cfg.Interval }

// Work registers the worker and processes jobs until Shutdown, ctx
// cancellation, or, with a zero interval, the first empty attempt.
func (w *Worker) Work(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.mu.Lock()
	w.stop = cancel
	w.mu.Unlock()

	if err := w.startup(ctx); err != nil {
		return err
	}
	defer func() {
		if err := w.Unregister(context.WithoutCancel(ctx)); err != nil {
			w.logger.Error().Err(err).Msg("Failed to unregister worker")
		}
	}()

	w.logger.Info().
		Str("reserver", w.reserver.Name()).
		Str("strategy", w.strategy.Name()).
		Dur("interval", w.cfg.Interval).
		Msg("Worker started, waiting for jobs")

	// Exponential backoff on reservation errors
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for !w.shutdown.Load() && loopCtx.Err() == nil {
		var job *resque.Job
		paused := w.Paused()

		if !paused {
			j, err := w.reserver.Reserve(loopCtx)
			if err != nil {
				if loopCtx.Err() != nil {
					break
				}
				w.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("Error reserving job")
				w.sleep(loopCtx, backoff)
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				continue
			}
			backoff = time.Second
			job = j
		}

		if job == nil {
			if w.cfg.Interval == 0 {
				break
			}
			if paused || w.reserver.WaitAfterFailedAttempt() {
				w.logger.Debug().Bool("paused", paused).Dur("interval", w.cfg.Interval).Msg("Sleeping")
				w.sleep(loopCtx, w.cfg.Interval)
			}
			continue
		}

		w.process(ctx, job)
	}

	w.logger.Info().Int64("processed", w.processed.Load()).Msg("Worker shutdown complete")
	return nil
}

func (w *Worker) startup(ctx context.Context) error {
	if err := w.PruneDeadWorkers(ctx); err != nil {
		return fmt.Errorf("failed to prune dead workers: %w", err)
	}
	if err := w.r.Events().Trigger(ctx, event.BeforeFirstFork, w); err != nil {
		return fmt.Errorf("beforeFirstFork: %w", err)
	}
	return w.register(ctx)
}

func (w *Worker) process(ctx context.Context, job *resque.Job) {
	w.logger.Info().Str("job", job.String()).Msg("Received job")
	job.Worker = w.id

	if err := w.r.Events().Trigger(ctx, event.BeforeFork, job); err != nil {
		if ferr := job.Fail(ctx, err); ferr != nil {
			w.logger.Error().Err(ferr).Msg("Failed to record job failure")
		}
		return
	}

	if err := w.workingOn(ctx, job); err != nil {
		w.logger.Error().Err(err).Msg("Failed to record working-on state")
	}
	if err := w.strategy.Perform(ctx, job); err != nil {
		w.logger.Error().Err(err).Str("job", job.String()).Msg("Execution strategy error")
	}
	if err := w.doneWorking(ctx); err != nil {
		w.logger.Error().Err(err).Msg("Failed to update worker stats")
	}
}

// WorkingOn is the record a busy worker keeps in the store.
type WorkingOn struct {
	Queue   string         `json:"queue"`
	RunAt   string         `json:"run_at"`
	Payload resque.Payload `json:"payload"`
}

func (w *Worker) workingOn(ctx context.Context, job *resque.Job) error {
	w.mu.Lock()
	w.current = job
	w.mu.Unlock()

	if err := job.UpdateStatus(ctx, resque.StateRunning); err != nil {
		return err
	}
	data, err := json.Marshal(WorkingOn{
		Queue:   job.Queue,
		RunAt:   w.r.Now().Format(resque.DateFormat),
		Payload: job.Payload,
	})
	if err != nil {
		return err
	}
	return w.r.Store().Set(ctx, workerKey(w.id), string(data), 0)
}

func (w *Worker) doneWorking(ctx context.Context) error {
	w.mu.Lock()
	w.current = nil
	w.mu.Unlock()
	w.processed.Add(1)

	stats := w.r.Stats()
	return errors.Join(
		stats.Incr(ctx, "processed"),
		stats.Incr(ctx, "processed:"+w.id),
		delKeys(ctx, w.r.Store(), workerKey(w.id)),
	)
}

// Execute runs job in the calling process without recording the outcome:
// afterFork, then the job's perform cycle.
func (w *Worker) Execute(ctx context.Context, job *resque.Job) error {
	job.Worker = w.id
	if err := w.r.Events().Trigger(ctx, event.AfterFork, job); err != nil {
		return err
	}
	_, err := job.Perform(ctx)
	return err
}

// Perform executes job and records the outcome: a failure record on error,
// otherwise status Complete.
func (w *Worker) Perform(ctx context.Context, job *resque.Job) error {
	if err := w.Execute(ctx, job); err != nil {
		w.logger.Info().Err(err).Str("job", job.String()).Msg("Job failed")
		return job.Fail(ctx, err)
	}
	if err := job.UpdateStatus(ctx, resque.StateComplete); err != nil {
		return err
	}
	w.logger.Info().Str("job", job.String()).Msg("Done")
	return nil
}

// Current returns the job being processed, or nil.
func (w *Worker) Current() *resque.Job {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Paused reports whether the worker is paused or outside its schedule.
func (w *Worker) Paused() bool {
	if w.paused.Load() {
		return true
	}
	return w.cfg.Schedule != nil && !w.cfg.Schedule.Contains(w.r.Now())
}

// Shutdown stops the worker after the current job.
func (w *Worker) Shutdown() {
	if w.shutdown.Swap(true) {
		return
	}
	w.logger.Info().Msg("Exiting...")
	w.mu.Lock()
	stop := w.stop
	w.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// ShutdownNow stops the worker and kills the running child, if any.
func (w *Worker) ShutdownNow() {
	w.Shutdown()
	w.KillChild()
}

// KillChild terminates the job currently executing in a child.
func (w *Worker) KillChild() {
	w.strategy.Shutdown()
}

// Pause stops reserving jobs until Resume.
func (w *Worker) Pause() {
	w.logger.Info().Msg("Pausing job processing")
	w.paused.Store(true)
}

// Resume undoes Pause.
func (w *Worker) Resume() {
	w.logger.Info().Msg("Resuming job processing")
	w.paused.Store(false)
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Reconnect re-establishes the store connection.
func (w *Worker) Reconnect(ctx context.Context) error {
	w.logger.Info().Msg("Attempting to reconnect to the store")
	return w.r.Store().Reconnect(ctx)
}

// ShuttingDown reports whether Shutdown was called.
func (w *Worker) ShuttingDown() bool { return w.shutdown.Load() }

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-w.wake:
	case <-t.C:
	}
}
