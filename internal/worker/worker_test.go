package worker

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"github.com/aceteam-ai/resque/internal/event"
	"github.com/aceteam-ai/resque/internal/redis"
	"github.com/aceteam-ai/resque/internal/resque"
	"github.com/aceteam-ai/resque/internal/schedule"
)

const testHost = "testhost"

var errBoom = errors.New("boom")

// testRegistry holds the handlers used across worker tests.
func testRegistry() *resque.Registry {
	reg := resque.NewRegistry()
	reg.RegisterFunc("Echo", func(ctx context.Context, job *resque.Job) error { return nil })
	reg.RegisterFunc("Boom", func(ctx context.Context, job *resque.Job) error { return errBoom })
	return reg
}

// setupResque starts miniredis and returns a Resque instance with the test handlers.
func setupResque(t *testing.T, cfg resque.Config) (*miniredis.Miniredis, *resque.Resque) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })

	client, err := redis.NewClient(redis.ClientConfig{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	if cfg.Factory == nil {
		cfg.Factory = testRegistry()
	}
	return mr, resque.New(client, cfg)
}

func newWorker(t *testing.T, r *resque.Resque, cfg Config) *Worker {
	t.Helper()
	if cfg.Queues == nil {
		cfg.Queues = []string{"jobs"}
	}
	if cfg.Hostname == "" {
		cfg.Hostname = testHost
	}
	if cfg.Pid == 0 {
		cfg.Pid = 4242
	}
	if cfg.PidLister == nil {
		cfg.PidLister = StaticPids()
	}
	cfg.Logger = zerolog.Nop()

	w, err := New(r, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return w
}

func enqueue(t *testing.T, r *resque.Resque, queue, class string, track bool) string {
	t.Helper()
	id, err := r.Enqueue(context.Background(), queue, class, map[string]any{"n": 1}, track)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	return id
}

func stat(t *testing.T, r *resque.Resque, name string) int64 {
	t.Helper()
	v, err := r.Stats().Get(context.Background(), name)
	if err != nil {
		t.Fatalf("Stats().Get(%s) error = %v", name, err)
	}
	return v
}

func failures(t *testing.T, r *resque.Resque) []resque.FailureRecord {
	t.Helper()
	recs, err := resque.NewRedisFailureBackend(r.Store()).List(context.Background(), 0, 100)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	return recs
}

func TestNewWorkerID(t *testing.T) {
	_, r := setupResque(t, resque.Config{})
	w := newWorker(t, r, Config{Queues: []string{"high", "low"}, Pid: 77})

	if w.ID() != "testhost:77:high,low" {
		t.Errorf("ID() = %s, want testhost:77:high,low", w.ID())
	}
	if w.Reserver().Name() != "QueueOrder" {
		t.Errorf("default reserver = %s, want QueueOrder", w.Reserver().Name())
	}
	if w.Strategy().Name() != "InProcess" {
		t.Errorf("default strategy = %s, want InProcess", w.Strategy().Name())
	}

	if _, err := New(r, Config{}); err == nil {
		t.Error("New() without queues should fail")
	}
}

func TestWorkDrainsQueueAndExits(t *testing.T) {
	_, r := setupResque(t, resque.Config{})
	ctx := context.Background()

	enqueue(t, r, "jobs", "Echo", false)
	enqueue(t, r, "jobs", "Echo", false)

	w := newWorker(t, r, Config{})
	if err := w.Work(ctx); err != nil {
		t.Fatalf("Work() error = %v", err)
	}

	if got := stat(t, r, "processed"); got != 2 {
		t.Errorf("processed = %d, want 2", got)
	}
	if w.Processed() != 2 {
		t.Errorf("Processed() = %d, want 2", w.Processed())
	}
	if size, _ := r.Size(ctx, "jobs"); size != 0 {
		t.Errorf("queue size = %d, want 0", size)
	}
	if ok, _ := Exists(ctx, r, w.ID()); ok {
		t.Error("worker should be unregistered after Work returns")
	}
}

func TestWorkRegistersWhileRunning(t *testing.T) {
	reg := testRegistry()
	_, r := setupResque(t, resque.Config{Factory: reg})
	ctx := context.Background()

	w := newWorker(t, r, Config{})

	var registered bool
	var started string
	reg.RegisterFunc("Inspect", func(ctx context.Context, job *resque.Job) error {
		registered, _ = Exists(ctx, r, w.ID())
		started, _, _ = w.Started(ctx)
		rec, ok, err := w.Job(ctx)
		if err != nil || !ok || rec.Payload.Class != "Inspect" || rec.Queue != "jobs" {
			t.Errorf("Job() = %+v, %v, %v", rec, ok, err)
		}
		return nil
	})

	enqueue(t, r, "jobs", "Inspect", false)
	if err := w.Work(ctx); err != nil {
		t.Fatalf("Work() error = %v", err)
	}

	if !registered {
		t.Error("worker should be registered while processing")
	}
	if _, err := time.Parse(resque.DateFormat, started); err != nil {
		t.Errorf("started = %q, not in DateFormat: %v", started, err)
	}
	if _, ok, _ := w.Job(ctx); ok {
		t.Error("working-on record should be cleared")
	}
}

func TestTrackingRoundTrip(t *testing.T) {
	mr, r := setupResque(t, resque.Config{})
	ctx := context.Background()

	id := enqueue(t, r, "jobs", "Echo", true)
	status := r.Status(id)

	if tracking, _ := status.IsTracking(ctx); !tracking {
		t.Fatal("IsTracking() = false, want true")
	}
	if state, ok, _ := status.Get(ctx); !ok || state != resque.StateWaiting {
		t.Errorf("Get() = %v, %v; want Waiting", state, ok)
	}

	var seen resque.State
	r.Events().Listen(event.BeforePerform, func(ctx context.Context, data any) error {
		seen, _, _ = data.(*resque.Job).Status(ctx)
		return nil
	})

	if err := newWorker(t, r, Config{}).Work(ctx); err != nil {
		t.Fatalf("Work() error = %v", err)
	}

	if seen != resque.StateRunning {
		t.Errorf("status during perform = %v, want Running", seen)
	}
	if state, ok, _ := r.Status(id).Get(ctx); !ok || state != resque.StateComplete {
		t.Errorf("Get() after work = %v, %v; want Complete", state, ok)
	}

	mr.FastForward(resque.StatusRetention + time.Second)
	if _, ok, _ := r.Status(id).Get(ctx); ok {
		t.Error("status should expire after the retention window")
	}
}

func TestFailedJobIsRecordedAndLoopContinues(t *testing.T) {
	_, r := setupResque(t, resque.Config{})
	ctx := context.Background()

	failedID := enqueue(t, r, "jobs", "Boom", true)
	enqueue(t, r, "jobs", "Missing", false)
	enqueue(t, r, "jobs", "Echo", false)

	var failedOnWorker int64
	r.Events().Listen(event.OnFailure, func(ctx context.Context, data any) error {
		failedOnWorker++
		return nil
	})

	w := newWorker(t, r, Config{})
	if err := w.Work(ctx); err != nil {
		t.Fatalf("Work() error = %v", err)
	}

	if got := stat(t, r, "processed"); got != 3 {
		t.Errorf("processed = %d, want 3", got)
	}
	if got := stat(t, r, "failed"); got != 2 {
		t.Errorf("failed = %d, want 2", got)
	}
	if failedOnWorker != 2 {
		t.Errorf("onFailure fired %d times, want 2", failedOnWorker)
	}

	recs := failures(t, r)
	if len(recs) != 2 {
		t.Fatalf("failure records = %d, want 2", len(recs))
	}
	if recs[0].Error != "boom" || recs[0].Worker != w.ID() || recs[0].Queue != "jobs" {
		t.Errorf("first record = %+v", recs[0])
	}
	if recs[1].Exception != "JobConfigurationError" {
		t.Errorf("second record exception = %s, want JobConfigurationError", recs[1].Exception)
	}
	if state, _, _ := r.Status(failedID).Get(ctx); state != resque.StateFailed {
		t.Errorf("status = %v, want Failed", state)
	}
}

func TestBeforeForkErrorFailsJob(t *testing.T) {
	_, r := setupResque(t, resque.Config{})
	ctx := context.Background()

	var performed bool
	r.Events().Listen(event.BeforeFork, func(ctx context.Context, data any) error {
		return errors.New("not today")
	})
	r.Events().Listen(event.BeforePerform, func(ctx context.Context, data any) error {
		performed = true
		return nil
	})

	enqueue(t, r, "jobs", "Echo", false)
	if err := newWorker(t, r, Config{}).Work(ctx); err != nil {
		t.Fatalf("Work() error = %v", err)
	}

	if performed {
		t.Error("job should not run when beforeFork fails")
	}
	if got := stat(t, r, "failed"); got != 1 {
		t.Errorf("failed = %d, want 1", got)
	}
}

func TestEventsOrder(t *testing.T) {
	_, r := setupResque(t, resque.Config{})
	ctx := context.Background()

	var got []string
	for _, name := range []string{event.BeforeFirstFork, event.BeforeFork, event.AfterFork, event.BeforePerform, event.AfterPerform} {
		name := name
		r.Events().Listen(name, func(ctx context.Context, data any) error {
			got = append(got, name)
			return nil
		})
	}
	var firstForkData any
	r.Events().Listen(event.BeforeFirstFork, func(ctx context.Context, data any) error {
		firstForkData = data
		return nil
	})

	enqueue(t, r, "jobs", "Echo", false)
	w := newWorker(t, r, Config{})
	if err := w.Work(ctx); err != nil {
		t.Fatalf("Work() error = %v", err)
	}

	want := []string{event.BeforeFirstFork, event.BeforeFork, event.AfterFork, event.BeforePerform, event.AfterPerform}
	if !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	if firstForkData != w {
		t.Error("beforeFirstFork should receive the worker")
	}
}

func TestBeforeFirstForkErrorIsFatal(t *testing.T) {
	_, r := setupResque(t, resque.Config{})
	r.Events().Listen(event.BeforeFirstFork, func(ctx context.Context, data any) error {
		return errBoom
	})

	err := newWorker(t, r, Config{}).Work(context.Background())
	if !errors.Is(err, errBoom) {
		t.Errorf("Work() error = %v, want boom", err)
	}
}

func TestPausedWorkerDoesNotReserve(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	window, err := schedule.Parse("22:00-06:00")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	tests := []struct {
		name   string
		pause  bool
		window *schedule.Window
	}{
		{name: "paused", pause: true},
		{name: "outside schedule", window: window},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, r := setupResque(t, resque.Config{Now: func() time.Time { return now }})
			ctx := context.Background()

			enqueue(t, r, "jobs", "Echo", false)
			w := newWorker(t, r, Config{Schedule: tt.window})
			if tt.pause {
				w.Pause()
			}
			if !w.Paused() {
				t.Fatal("Paused() = false, want true")
			}
			if err := w.Work(ctx); err != nil {
				t.Fatalf("Work() error = %v", err)
			}
			if size, _ := r.Size(ctx, "jobs"); size != 1 {
				t.Errorf("queue size = %d, want 1", size)
			}

			w.Resume()
			if tt.window == nil && w.Paused() {
				t.Error("Paused() after Resume = true")
			}
		})
	}
}

func TestShutdownStopsPollingLoop(t *testing.T) {
	_, r := setupResque(t, resque.Config{})
	w := newWorker(t, r, Config{Interval: 10 * time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- w.Work(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if ok, _ := Exists(context.Background(), r, w.ID()); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("worker never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	w.Shutdown()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Work() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Work() did not return after Shutdown")
	}
	if !w.ShuttingDown() {
		t.Error("ShuttingDown() = false")
	}
}

func TestContextCancelStopsBlockingWorker(t *testing.T) {
	_, r := setupResque(t, resque.Config{})
	ctx, cancel := context.WithCancel(context.Background())

	w := newWorker(t, r, Config{Interval: time.Second})
	done := make(chan error, 1)
	go func() { done <- w.Work(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Work() did not return after cancel")
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	_, r := setupResque(t, resque.Config{})
	ctx := context.Background()

	w := newWorker(t, r, Config{})
	if err := w.register(ctx); err != nil {
		t.Fatalf("register() error = %v", err)
	}
	r.Stats().Incr(ctx, "processed:"+w.ID())

	job := r.NewJob("jobs", resque.Payload{Class: "Echo", ID: "abc"})
	job.Worker = w.ID()
	if err := w.workingOn(ctx, job); err != nil {
		t.Fatalf("workingOn() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := w.Unregister(ctx); err != nil {
			t.Fatalf("Unregister() #%d error = %v", i+1, err)
		}
	}

	if got := stat(t, r, "failed"); got != 1 {
		t.Errorf("failed = %d, want 1", got)
	}
	if got, _ := w.Stat(ctx, "processed"); got != 0 {
		t.Errorf("processed:<id> = %d, want 0", got)
	}
	if got, _ := w.Stat(ctx, "failed"); got != 0 {
		t.Errorf("failed:<id> = %d, want 0", got)
	}
	if ok, _ := Exists(ctx, r, w.ID()); ok {
		t.Error("worker still registered")
	}

	recs := failures(t, r)
	if len(recs) != 1 || recs[0].Exception != "DirtyExitError" {
		t.Errorf("failure records = %+v, want one DirtyExitError", recs)
	}
}

func TestPruneDeadWorkers(t *testing.T) {
	_, r := setupResque(t, resque.Config{})
	ctx := context.Background()

	register := func(id string) *Worker {
		t.Helper()
		w, err := FromID(r, id)
		if err != nil {
			t.Fatalf("FromID(%s) error = %v", id, err)
		}
		if err := w.register(ctx); err != nil {
			t.Fatalf("register() error = %v", err)
		}
		return w
	}

	dead := register(testHost + ":100:jobs")
	register(testHost + ":200:jobs")
	register(testHost + ":300:jobs")
	register("elsewhere:100:jobs")

	// The dead worker was mid-job.
	job := r.NewJob("jobs", resque.Payload{Class: "Echo"})
	job.Worker = dead.ID()
	if err := dead.workingOn(ctx, job); err != nil {
		t.Fatalf("workingOn() error = %v", err)
	}

	self := newWorker(t, r, Config{Pid: 999, PidLister: StaticPids(200, 999)})
	if err := self.register(ctx); err != nil {
		t.Fatalf("register() error = %v", err)
	}

	if err := self.PruneDeadWorkers(ctx); err != nil {
		t.Fatalf("PruneDeadWorkers() error = %v", err)
	}

	workers, err := All(ctx, r)
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	var ids []string
	for _, w := range workers {
		ids = append(ids, w.ID())
	}
	want := []string{"elsewhere:100:jobs", testHost + ":200:jobs", testHost + ":999:jobs"}
	if !slices.Equal(ids, want) {
		t.Errorf("workers = %v, want %v", ids, want)
	}

	if got := stat(t, r, "failed"); got != 1 {
		t.Errorf("failed = %d, want 1 for the abandoned job", got)
	}
}

func TestFromID(t *testing.T) {
	_, r := setupResque(t, resque.Config{})

	tests := []struct {
		id         string
		wantHost   string
		wantPid    int
		wantQueues []string
		wantErr    bool
	}{
		{id: "box:12:high,low", wantHost: "box", wantPid: 12, wantQueues: []string{"high", "low"}},
		{id: "box:12:*", wantHost: "box", wantPid: 12, wantQueues: []string{"*"}},
		{id: "box:12", wantErr: true},
		{id: "box:abc:jobs", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			w, err := FromID(r, tt.id)
			if tt.wantErr {
				if err == nil {
					t.Errorf("FromID(%q) should fail", tt.id)
				}
				return
			}
			if err != nil {
				t.Fatalf("FromID(%q) error = %v", tt.id, err)
			}
			if w.ID() != tt.id || w.Hostname() != tt.wantHost || w.Pid() != tt.wantPid {
				t.Errorf("FromID(%q) = %s %s %d", tt.id, w.ID(), w.Hostname(), w.Pid())
			}
			if !slices.Equal(w.Queues(), tt.wantQueues) {
				t.Errorf("Queues() = %v, want %v", w.Queues(), tt.wantQueues)
			}
		})
	}
}

func TestFind(t *testing.T) {
	_, r := setupResque(t, resque.Config{})
	ctx := context.Background()

	w := newWorker(t, r, Config{})
	if _, ok, _ := Find(ctx, r, w.ID()); ok {
		t.Error("Find() before register should report not found")
	}
	w.register(ctx)

	found, ok, err := Find(ctx, r, w.ID())
	if err != nil || !ok {
		t.Fatalf("Find() = %v, %v", ok, err)
	}
	if found.ID() != w.ID() {
		t.Errorf("Find() id = %s, want %s", found.ID(), w.ID())
	}
}

func TestAllSkipsMalformedIDs(t *testing.T) {
	_, r := setupResque(t, resque.Config{})
	ctx := context.Background()

	w := newWorker(t, r, Config{})
	w.register(ctx)
	if err := r.Store().SAdd(ctx, workersKey, "garbage", "host:nopid:jobs"); err != nil {
		t.Fatalf("SAdd() error = %v", err)
	}

	workers, err := All(ctx, r)
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(workers) != 1 || workers[0].ID() != w.ID() {
		t.Errorf("All() = %v, want only %s", workers, w.ID())
	}
}

func TestReservationErrorBacksOff(t *testing.T) {
	mr, r := setupResque(t, resque.Config{})
	w := newWorker(t, r, Config{Interval: 10 * time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- w.Work(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	mr.SetError("LOADING")
	time.Sleep(50 * time.Millisecond)
	mr.SetError("")

	// The loop is in its first backoff; a job enqueued now still gets done.
	enqueue(t, r, "jobs", "Echo", false)
	deadline := time.Now().Add(4 * time.Second)
	for stat(t, r, "processed") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("worker did not recover after reservation errors")
		}
		time.Sleep(20 * time.Millisecond)
	}
	w.Shutdown()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Work() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Work() did not return; reservation errors must not stop the loop")
	}
}
