package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/aceteam-ai/resque/internal/resque"
)

const workersKey = "workers"

func workerKey(id string) string  { return "worker:" + id }
func startedKey(id string) string { return "worker:" + id + ":started" }

func delKeys(ctx context.Context, store resque.Store, keys ...string) error {
	_, err := store.Del(ctx, keys...)
	return err
}

func (w *Worker) register(ctx context.Context) error {
	store := w.r.Store()
	if err := store.SAdd(ctx, workersKey, w.id); err != nil {
		return fmt.Errorf("failed to register worker: %w", err)
	}
	if err := store.Set(ctx, startedKey(w.id), w.r.Now().Format(resque.DateFormat), 0); err != nil {
		return fmt.Errorf("failed to record worker start: %w", err)
	}
	return nil
}

// Unregister removes the worker from the store. A job it was running,
// in memory or according to its working-on record, is failed as a dirty
// exit. Calling it again is harmless.
func (w *Worker) Unregister(ctx context.Context) error {
	var errs []error

	w.mu.Lock()
	job := w.current
	w.current = nil
	w.mu.Unlock()

	if job == nil {
		rec, ok, err := w.Job(ctx)
		if err != nil {
			errs = append(errs, err)
		} else if ok {
			job = w.r.NewJob(rec.Queue, rec.Payload)
			job.Worker = w.id
		}
	}
	if job != nil {
		w.logger.Warn().Str("job", job.String()).Msg("Failing job abandoned by worker")
		cause := &resque.DirtyExitError{Status: -1, Reason: "worker exited while the job was running"}
		if err := job.Fail(ctx, cause); err != nil {
			errs = append(errs, err)
		}
	}

	store := w.r.Store()
	stats := w.r.Stats()
	errs = append(errs,
		store.SRem(ctx, workersKey, w.id),
		delKeys(ctx, store, workerKey(w.id), startedKey(w.id)),
		stats.Clear(ctx, "processed:"+w.id),
		stats.Clear(ctx, "failed:"+w.id),
	)
	return errors.Join(errs...)
}

// PruneDeadWorkers unregisters workers registered from this host whose
// process is gone. Workers on other hosts are left alone.
func (w *Worker) PruneDeadWorkers(ctx context.Context) error {
	pids, err := w.cfg.PidLister(ctx)
	if err != nil {
		return fmt.Errorf("failed to list worker processes: %w", err)
	}

	workers, err := All(ctx, w.r)
	if err != nil {
		return err
	}

	var errs []error
	for _, other := range workers {
		if other.hostname != w.hostname || other.pid == w.pid || slices.Contains(pids, other.pid) {
			continue
		}
		w.logger.Info().Str("dead_worker", other.id).Msg("Pruning dead worker")
		if err := other.Unregister(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FromID rebuilds a worker handle from a registered id. The handle can be
// inspected or unregistered but is not meant to Work.
func FromID(r *resque.Resque, id string) (*Worker, error) {
	parts := strings.SplitN(id, ":", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed worker id %q", id)
	}
	pid, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("malformed worker id %q: %w", id, err)
	}

	w, err := New(r, Config{
		Queues:    strings.Split(parts[2], ","),
		Hostname:  parts[0],
		Pid:       pid,
		PidLister: ProcessPids,
		Logger:    r.Logger(),
	})
	if err != nil {
		return nil, err
	}
	w.id = id
	w.logger = r.Logger().With().Str("worker", id).Logger()
	return w, nil
}

// Exists reports whether id is registered.
func Exists(ctx context.Context, r *resque.Resque, id string) (bool, error) {
	return r.Store().SIsMember(ctx, workersKey, id)
}

// Find returns the registered worker with the given id.
func Find(ctx context.Context, r *resque.Resque, id string) (*Worker, bool, error) {
	ok, err := Exists(ctx, r, id)
	if err != nil || !ok {
		return nil, false, err
	}
	w, err := FromID(r, id)
	if err != nil {
		return nil, false, err
	}
	return w, true, nil
}

// All returns every registered worker, sorted by id. Malformed ids are
// skipped.
func All(ctx context.Context, r *resque.Resque) ([]*Worker, error) {
	ids, err := r.Store().SMembers(ctx, workersKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}
	slices.Sort(ids)

	logger := r.Logger()
	workers := make([]*Worker, 0, len(ids))
	for _, id := range ids {
		w, err := FromID(r, id)
		if err != nil {
			logger.Warn().Err(err).Msg("Skipping worker")
			continue
		}
		workers = append(workers, w)
	}
	return workers, nil
}

// Job returns the worker's working-on record, if it is busy.
func (w *Worker) Job(ctx context.Context) (*WorkingOn, bool, error) {
	data, ok, err := w.r.Store().Get(ctx, workerKey(w.id))
	if err != nil || !ok {
		return nil, false, err
	}
	var rec WorkingOn
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&rec); err != nil {
		return nil, false, fmt.Errorf("corrupt working-on record for %s: %w", w.id, err)
	}
	return &rec, true, nil
}

// Started returns the registration timestamp.
func (w *Worker) Started(ctx context.Context) (string, bool, error) {
	return w.r.Store().Get(ctx, startedKey(w.id))
}

// Stat returns the worker's own value of a counter, e.g. "processed".
func (w *Worker) Stat(ctx context.Context, name string) (int64, error) {
	return w.r.Stats().Get(ctx, name+":"+w.id)
}
