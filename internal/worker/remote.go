package worker

import (
	"context"

	"github.com/aceteam-ai/resque/internal/remote"
	"github.com/aceteam-ai/resque/internal/resque"
)

// Remote sends each job to an executor process over a websocket and waits
// for its verdict.
type Remote struct {
	client *remote.Client
	w      *Worker
}

// NewRemote creates a strategy backed by client.
func NewRemote(client *remote.Client) *Remote {
	return &Remote{client: client}
}

func (s *Remote) Name() string { return "Remote" }

func (s *Remote) SetWorker(w *Worker) { s.w = w }

func (s *Remote) Perform(ctx context.Context, job *resque.Job) error {
	s.w.logger.Info().Str("queue", job.Queue).Str("executor", s.client.URL()).Msg("Sending job to executor")

	resp, err := s.client.Execute(ctx, remote.Request{
		Queue:   job.Queue,
		Worker:  s.w.id,
		Payload: job.Payload,
	})
	if err != nil {
		return job.Fail(ctx, &resque.RemoteExecutionError{Err: err})
	}
	if !resp.OK() {
		return job.Fail(ctx, &resque.RemoteExecutionError{
			RemoteClass: resp.ErrorClass,
			Message:     resp.Error,
			Backtrace:   resp.Backtrace,
		})
	}
	if err := job.UpdateStatus(ctx, resque.StateComplete); err != nil {
		return err
	}
	s.w.logger.Info().Str("job", job.String()).Msg("Done")
	return nil
}

// Shutdown drops the executor connection, failing the job in flight.
func (s *Remote) Shutdown() {
	if !s.client.Waiting() {
		s.w.logger.Debug().Msg("No child to kill")
		return
	}
	s.w.logger.Info().Msg("Closing executor connection")
	if err := s.client.Close(); err != nil {
		s.w.logger.Warn().Err(err).Msg("Failed to close executor connection")
	}
}

// Executor returns the remote executor function that runs requests in this
// process. Outcomes are reported back rather than recorded; the requesting
// worker records them.
func Executor(r *resque.Resque) remote.Executor {
	return func(ctx context.Context, req remote.Request) remote.Response {
		w, err := FromID(r, req.Worker)
		if err != nil {
			return remote.Failed(err)
		}
		if err := w.Execute(ctx, r.NewJob(req.Queue, req.Payload)); err != nil {
			return remote.Failed(err)
		}
		return remote.Response{Status: remote.StatusOK}
	}
}
