// Package jobs provides the built-in job classes: Echo, Sleep, Fail, Exit
// and Shell. They are handy for smoke-testing a deployment.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/aceteam-ai/resque/internal/resque"
)

// Builtin class names.
const (
	ClassEcho  = "Echo"
	ClassSleep = "Sleep"
	ClassFail  = "Fail"
	ClassExit  = "Exit"
	ClassShell = "Shell"
)

// Register adds the built-in classes to reg.
func Register(reg *resque.Registry, logger zerolog.Logger) {
	reg.Register(ClassEcho, func() resque.Handler { return &EchoHandler{logger: logger} })
	reg.Register(ClassSleep, func() resque.Handler { return &SleepHandler{} })
	reg.Register(ClassFail, func() resque.Handler { return &FailHandler{} })
	reg.Register(ClassExit, func() resque.Handler { return &ExitHandler{exit: os.Exit} })
	reg.Register(ClassShell, func() resque.Handler { return &ShellCommandHandler{logger: logger} })
}

// EchoHandler logs its arguments.
type EchoHandler struct {
	logger zerolog.Logger
}

func (h *EchoHandler) Perform(ctx context.Context, job *resque.Job) error {
	h.logger.Info().Str("job_id", job.ID()).Interface("args", job.Args()).Msg("echo")
	return nil
}

// SleepHandler waits for args.seconds (default 1), or until ctx is done.
type SleepHandler struct{}

func (h *SleepHandler) Perform(ctx context.Context, job *resque.Job) error {
	secs, err := floatArg(job.Args(), "seconds", 1)
	if err != nil {
		return err
	}
	t := time.NewTimer(time.Duration(secs * float64(time.Second)))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// FailHandler always fails with args.message.
type FailHandler struct{}

func (h *FailHandler) Perform(ctx context.Context, job *resque.Job) error {
	msg, _ := job.Args()["message"].(string)
	if msg == "" {
		msg = "job failed on request"
	}
	return errors.New(msg)
}

// ExitHandler terminates the process with args.code (default 1). Run it
// under a forking strategy to exercise dirty-exit handling.
type ExitHandler struct {
	exit func(code int)
}

func (h *ExitHandler) Perform(ctx context.Context, job *resque.Job) error {
	code, err := floatArg(job.Args(), "code", 1)
	if err != nil {
		return err
	}
	h.exit(int(code))
	return nil
}

func floatArg(args map[string]any, key string, def float64) (float64, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case json.Number:
		return n.Float64()
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	}
	return 0, fmt.Errorf("argument %q must be a number, got %T", key, v)
}
