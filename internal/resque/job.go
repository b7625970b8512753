package resque

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/aceteam-ai/resque/internal/event"
)

// Job is a reserved unit of work.
type Job struct {
	// Queue is the queue the job was reserved from.
	Queue string

	// Payload is the decoded queue entry.
	Payload Payload

	// Worker is the id of the worker processing the job. Not persisted.
	Worker string

	r      *Resque
	status *Status
}

// NewJob wraps a payload reserved from queue.
func (r *Resque) NewJob(queue string, p Payload) *Job {
	return &Job{Queue: queue, Payload: p, r: r}
}

// Resque returns the context the job belongs to.
func (j *Job) Resque() *Resque { return j.r }

// Args returns the job arguments map, or nil.
func (j *Job) Args() map[string]any {
	return j.Payload.Arguments()
}

// ID returns the job id.
func (j *Job) ID() string { return j.Payload.ID }

// Class returns the handler class name.
func (j *Job) Class() string { return j.Payload.Class }

// Perform runs the job: beforePerform, the handler's SetUp, Perform and
// TearDown, then afterPerform. It returns false without error when any step
// returned ErrDontPerform. Handler panics come back as *PanicError.
func (j *Job) Perform(ctx context.Context) (bool, error) {
	events := j.r.events

	outcome, err := events.Dispatch(ctx, event.BeforePerform, j, ErrDontPerform)
	if err != nil {
		return false, err
	}
	if outcome == event.Veto {
		return false, nil
	}

	h, err := j.r.factory.Create(j)
	if err != nil {
		return false, err
	}

	if err := j.run(ctx, h); err != nil {
		if errors.Is(err, ErrDontPerform) {
			return false, nil
		}
		return false, err
	}

	outcome, err = events.Dispatch(ctx, event.AfterPerform, j, ErrDontPerform)
	if err != nil {
		return false, err
	}
	return outcome == event.Proceed, nil
}

func (j *Job) run(ctx context.Context, h Handler) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()

	if s, ok := h.(SetUpper); ok {
		if err := s.SetUp(ctx, j); err != nil {
			return err
		}
	}
	if err := h.Perform(ctx, j); err != nil {
		return err
	}
	if t, ok := h.(TearDowner); ok {
		if err := t.TearDown(ctx, j); err != nil {
			return err
		}
	}
	return nil
}

// Fail records a failed attempt: onFailure listeners, status, one failure
// record and the failed counters. A listener error does not stop the record
// from being written; it is returned alongside any store error.
func (j *Job) Fail(ctx context.Context, cause error) error {
	var errs []error

	if err := j.r.events.Trigger(ctx, event.OnFailure, FailureEvent{Err: cause, Job: j}); err != nil {
		errs = append(errs, fmt.Errorf("onFailure listener: %w", err))
	}
	if err := j.UpdateStatus(ctx, StateFailed); err != nil {
		errs = append(errs, err)
	}
	if err := j.r.failures.Save(ctx, NewFailureRecord(j, cause, j.r.now())); err != nil {
		errs = append(errs, err)
	}

	stats := j.r.Stats()
	if err := stats.Incr(ctx, "failed"); err != nil {
		errs = append(errs, err)
	}
	if j.Worker != "" {
		if err := stats.Incr(ctx, "failed:"+j.Worker); err != nil {
			errs = append(errs, err)
		}
	}

	j.r.logger.Error().
		Err(cause).
		Str("job", j.String()).
		Str("worker", j.Worker).
		Msg("Job failed")

	return errors.Join(errs...)
}

// Recreate enqueues a copy of the job on the same queue. The copy is tracked
// if the original still has a status record.
func (j *Job) Recreate(ctx context.Context) (string, error) {
	track := false
	if j.Payload.ID != "" {
		// A fresh handle: the record may have expired or been stopped.
		tracking, err := j.r.Status(j.Payload.ID).IsTracking(ctx)
		if err != nil {
			return "", err
		}
		track = tracking
	}
	id := GenerateJobID()
	if err := j.r.create(ctx, j.Queue, j.Payload.Class, j.Args(), track, id); err != nil {
		return "", err
	}
	return id, nil
}

func (j *Job) statusHandle() *Status {
	if j.status == nil {
		j.status = j.r.Status(j.Payload.ID)
	}
	return j.status
}

// UpdateStatus records state if the job is tracked.
func (j *Job) UpdateStatus(ctx context.Context, state State) error {
	if j.Payload.ID == "" {
		return nil
	}
	return j.statusHandle().Update(ctx, state)
}

// Status returns the tracked state. ok is false for untracked jobs.
func (j *Job) Status(ctx context.Context) (State, bool, error) {
	if j.Payload.ID == "" {
		return 0, false, nil
	}
	return j.statusHandle().Get(ctx)
}

// String returns a stable description used in logs.
func (j *Job) String() string {
	parts := []string{"Job{" + j.Queue + "}"}
	if j.Payload.ID != "" {
		parts = append(parts, "ID: "+j.Payload.ID)
	}
	parts = append(parts, j.Payload.Class)
	if len(j.Payload.Args) > 0 {
		if data, err := json.Marshal(j.Payload.Args); err == nil {
			parts = append(parts, string(data))
		}
	}
	return "(" + strings.Join(parts, " | ") + ")"
}
