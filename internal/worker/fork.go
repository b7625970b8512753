package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/aceteam-ai/resque/internal/resque"
)

// ForkRequest is written to a child's stdin.
type ForkRequest struct {
	Queue   string         `json:"queue"`
	Worker  string         `json:"worker"`
	Payload resque.Payload `json:"payload"`
}

// Fork runs each job in a child process and waits for it. The child
// records its own job failures; an abnormal exit is recorded by the
// parent as a dirty exit.
type Fork struct {
	// Path is the child executable (default: this executable).
	Path string

	// Args are passed to the child (default: "perform").
	Args []string

	// Env for the child (default: inherited).
	Env []string

	Stdout io.Writer
	Stderr io.Writer

	w     *Worker
	mu    sync.Mutex
	child *os.Process
}

func (s *Fork) Name() string { return "Fork" }

func (s *Fork) SetWorker(w *Worker) { s.w = w }

// Child returns the running child process, or nil.
func (s *Fork) Child() *os.Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.child
}

func (s *Fork) setChild(p *os.Process) {
	s.mu.Lock()
	s.child = p
	s.mu.Unlock()
}

func (s *Fork) command(ctx context.Context) (*exec.Cmd, error) {
	path := s.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate executable: %w", err)
		}
		path = exe
	}
	args := s.Args
	if args == nil {
		args = []string{"perform"}
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Env = s.Env
	cmd.Stdout = s.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = s.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	return cmd, nil
}

func (s *Fork) Perform(ctx context.Context, job *resque.Job) error {
	data, err := json.Marshal(ForkRequest{Queue: job.Queue, Worker: s.w.id, Payload: job.Payload})
	if err != nil {
		return job.Fail(ctx, err)
	}

	cmd, err := s.command(ctx)
	if err != nil {
		return job.Fail(ctx, err)
	}
	cmd.Stdin = bytes.NewReader(data)

	// The child dials its own connections.
	if err := s.w.r.Store().Reset(ctx); err != nil {
		s.w.logger.Warn().Err(err).Msg("Failed to reset store connection before fork")
	}

	if err := cmd.Start(); err != nil {
		return job.Fail(ctx, fmt.Errorf("failed to start child: %w", err))
	}
	s.setChild(cmd.Process)
	s.w.logger.Info().Int("child", cmd.Process.Pid).Str("job", job.String()).Msg("Forked child")

	err = cmd.Wait()
	s.setChild(nil)
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return job.Fail(ctx, dirtyExit(exitErr.ProcessState))
	}
	return job.Fail(ctx, fmt.Errorf("failed waiting for child: %w", err))
}

func dirtyExit(state *os.ProcessState) *resque.DirtyExitError {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return &resque.DirtyExitError{Status: -1, Signal: ws.Signal()}
	}
	return &resque.DirtyExitError{Status: state.ExitCode()}
}

// Shutdown kills the running child. A child that is no longer alive means
// the worker's view is stale, so the worker is shut down instead.
func (s *Fork) Shutdown() {
	child := s.Child()
	if child == nil {
		s.w.logger.Debug().Msg("No child to kill")
		return
	}
	if !processAlive(child.Pid) {
		s.w.logger.Warn().Int("child", child.Pid).Msg("Child not found, shutting down")
		s.w.Shutdown()
		return
	}
	s.w.logger.Info().Int("child", child.Pid).Msg("Killing child")
	if err := killProcess(child); err != nil {
		s.w.logger.Error().Err(err).Int("child", child.Pid).Msg("Failed to kill child")
		return
	}
	s.setChild(nil)
}

// RunChild performs the job described by a ForkRequest read from in. The
// outcome is recorded here, so the error is only non-nil when the request
// cannot be read or the job never ran. Errors while recording the outcome
// are logged: a non-zero exit would make the parent record the attempt again.
func RunChild(ctx context.Context, r *resque.Resque, in io.Reader) error {
	var req ForkRequest
	dec := json.NewDecoder(in)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return fmt.Errorf("failed to read fork request: %w", err)
	}

	w, err := FromID(r, req.Worker)
	if err != nil {
		return err
	}
	job := r.NewJob(req.Queue, req.Payload)
	if err := w.Perform(ctx, job); err != nil {
		w.logger.Error().Err(err).Str("job", job.String()).Msg("Failed to record job outcome")
	}
	return nil
}
