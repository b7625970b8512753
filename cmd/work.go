// cmd/work.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/aceteam-ai/resque/internal/config"
	"github.com/aceteam-ai/resque/internal/remote"
	"github.com/aceteam-ai/resque/internal/reserver"
	"github.com/aceteam-ai/resque/internal/worker"
)

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Process jobs from one or more queues",
	Long: `Runs a worker that reserves jobs from the given queues in priority order
and executes them until it is told to stop.

Execution strategies:
  fork       run each job in a child process (default)
  batchfork  run --batch jobs per child process
  inprocess  run jobs inside the worker process
  remote     send jobs to a "resque remote-serve" executor over websocket

Signals:
  TERM, INT  finish now, killing the current child
  QUIT       finish the current job, then exit
  USR1       kill the current child, keep working
  USR2       pause after the current job
  CONT       resume
  PIPE       reconnect to Redis`,
	Example: `  # Work two queues, high before low
  resque work --queues high,low

  # Work every queue, polling every second, in-process
  resque work --queues '*' --interval 1s --strategy inprocess

  # Block on the queues instead of polling
  resque work --queues high,low --blocking --timeout 10s

  # Start four workers
  resque work --queues default --count 4

  # Classic environment variables work too
  QUEUE=high,low INTERVAL=2 resque work`,
	RunE: runWork,
}

func runWork(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if cfg.Worker.Count > 1 {
		return runWorkers(ctx, cfg.Worker.Count, os.Args[1:])
	}

	s, err := openResque(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	factory := &reserver.Factory{Resque: s.r, Logger: logger, Timeout: cfg.Worker.Timeout}
	res, err := factory.FromConfig(cfg.Worker.Blocking, cfg.Worker.Reserver, cfg.Worker.Queues)
	if err != nil {
		return err
	}

	strategy, closeStrategy, err := buildStrategy(cfg)
	if err != nil {
		return err
	}
	defer closeStrategy()

	w, err := worker.New(s.r, worker.Config{
		Queues:   cfg.Worker.Queues,
		Interval: cfg.Worker.Interval,
		Reserver: res,
		Strategy: strategy,
		Schedule: cfg.Window(),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	stop := worker.HandleSignals(ctx, w)
	defer stop()

	logger.Info().
		Str("worker", w.ID()).
		Str("reserver", res.Name()).
		Str("strategy", strategy.Name()).
		Str("redis", s.client.Addr()).
		Msg("Starting worker")

	if err := w.Work(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Str("worker", w.ID()).Int64("processed", w.Processed()).Msg("Worker stopped")
	return nil
}

// buildStrategy returns the configured execution strategy and a function
// releasing what it holds.
func buildStrategy(c *config.Config) (worker.Strategy, func(), error) {
	noop := func() {}
	switch c.Worker.Strategy {
	case config.StrategyInProcess:
		return &worker.InProcess{}, noop, nil
	case config.StrategyFork:
		return newFork(c), noop, nil
	case config.StrategyBatchFork:
		return worker.NewBatchFork(c.Worker.Batch, newFork(c)), noop, nil
	case config.StrategyRemote:
		client, err := remote.NewClient(remote.ClientConfig{
			URL:       c.Remote.URL,
			KeepAlive: c.Remote.KeepAlive,
		})
		if err != nil {
			return nil, nil, err
		}
		return worker.NewRemote(client), func() { client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown strategy %q", c.Worker.Strategy)
	}
}

func newFork(c *config.Config) *worker.Fork {
	f := &worker.Fork{Args: forkArgs(cfgFile, c)}
	if c.Redis.Password != "" {
		// Kept out of the child's argv.
		f.Env = append(os.Environ(), "RESQUE_REDIS_PASSWORD="+c.Redis.Password)
	}
	return f
}

// forkArgs builds the argv of a "perform" child so it reaches the same
// store and failure backend as its parent.
func forkArgs(path string, c *config.Config) []string {
	args := []string{"perform"}
	if path != "" {
		args = append(args, "--config", path)
	}
	return append(args,
		"--redis-url", c.Redis.URL,
		"--redis-db", strconv.Itoa(c.Redis.Database),
		"--prefix", c.Redis.Prefix,
		"--log-level", c.Log.Level,
		"--log-format", c.Log.Format,
		"--failure-backend", c.Failure.Backend,
		"--failure-dsn", c.Failure.DSN,
	)
}

// singleWorkerArgs drops any --count from args and pins the count to one so
// the environment cannot make a child spawn workers of its own.
func singleWorkerArgs(args []string) []string {
	out := make([]string, 0, len(args)+1)
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--":
			out = append(out, args[i:]...)
			i = len(args)
			continue
		case a == "--count":
			i++ // and its value
			continue
		case strings.HasPrefix(a, "--count="):
			continue
		}
		out = append(out, a)
	}
	return append(out, "--count=1")
}

// runWorkers starts n copies of this executable as single workers and
// waits for all of them. Cancelling ctx interrupts every child.
func runWorkers(ctx context.Context, n int, args []string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}
	childArgs := singleWorkerArgs(args)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < n; i++ {
		c := exec.CommandContext(ctx, exe, childArgs...)
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		c.Cancel = func() error {
			if err := c.Process.Signal(os.Interrupt); err != nil {
				return c.Process.Kill()
			}
			return nil
		}
		c.WaitDelay = 30 * time.Second

		if err := c.Start(); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("failed to start worker %d: %w", i+1, err))
			mu.Unlock()
			continue
		}
		logger.Info().Int("pid", c.Process.Pid).Int("index", i+1).Int("count", n).Msg("Started worker process")

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := c.Wait(); err != nil && ctx.Err() == nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("worker %d: %w", i+1, err))
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func init() {
	rootCmd.AddCommand(workCmd)

	f := workCmd.Flags()
	f.StringSlice("queues", nil, "queues to work, in priority order; '*' works every queue")
	f.Duration("interval", 0, "pause after finding no job; 0 exits when the queues are empty (default 5s)")
	f.String("reserver", "", "reservation strategy: queue_order, random_queue_order, blocking_list_pop")
	f.Bool("blocking", false, "wait on the queues with a blocking pop")
	f.Duration("timeout", 0, "blocking pop timeout; 0 waits until shutdown")
	f.String("strategy", "", "execution strategy: fork, batchfork, inprocess, remote")
	f.Int("batch", 0, "jobs per child for the batchfork strategy")
	f.Int("count", 1, "number of worker processes to start")
	f.String("schedule", "", "daily work window, e.g. 09:00-17:00")
	f.String("remote-url", "", "executor endpoint for the remote strategy")
	f.Bool("keepalive", false, "reuse one executor connection across jobs")
}
