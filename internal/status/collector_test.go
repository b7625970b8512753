package status

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/aceteam-ai/resque/internal/redis"
	"github.com/aceteam-ai/resque/internal/resque"
)

const busyWorker = "host-a:11:high"

func setupResque(t *testing.T) (*miniredis.Miniredis, *resque.Resque) {
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

	return mr, resque.New(client, resque.Config{})
}

// seed fills the store with three pending jobs, counters and two workers,
// one of them busy.
func seed(t *testing.T, mr *miniredis.Miniredis, r *resque.Resque) {
	t.Helper()
	ctx := context.Background()

	for _, q := range []string{"high", "low", "low"} {
		if _, err := r.Enqueue(ctx, q, "Echo", nil, false); err != nil {
			t.Fatal(err)
		}
	}
	mr.Set("resque:stat:processed", "7")
	mr.Set("resque:stat:failed", "2")

	mr.SAdd("resque:workers", busyWorker, "host-b:22:low", "malformed")
	mr.Set("resque:worker:"+busyWorker, `{"queue":"high","run_at":"Mon Jan 02 15:04:05 UTC 2006","payload":{"class":"Sleep","args":[],"id":"abc"}}`)
	mr.Set("resque:stat:processed:"+busyWorker, "5")
	mr.Set("resque:stat:failed:"+busyWorker, "1")
}

func TestCollectorStats(t *testing.T) {
	mr, r := setupResque(t)
	seed(t, mr, r)

	st, err := NewCollector(r).Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	want := Stats{Processed: 7, Failed: 2, Pending: 3, Queues: 2, Workers: 2, Working: 1}
	if *st != want {
		t.Errorf("Stats() = %+v, want %+v", *st, want)
	}
}

func TestCollectorQueues(t *testing.T) {
	mr, r := setupResque(t)
	seed(t, mr, r)

	queues, err := NewCollector(r).Queues(context.Background())
	if err != nil {
		t.Fatalf("Queues() error = %v", err)
	}
	want := []QueueInfo{{Name: "high", Pending: 1}, {Name: "low", Pending: 2}}
	if len(queues) != len(want) || queues[0] != want[0] || queues[1] != want[1] {
		t.Errorf("Queues() = %+v, want %+v", queues, want)
	}
}

func TestCollectorWorkers(t *testing.T) {
	mr, r := setupResque(t)
	seed(t, mr, r)

	infos, err := NewCollector(r).Workers(context.Background())
	if err != nil {
		t.Fatalf("Workers() error = %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("Workers() returned %d workers, want 2", len(infos))
	}

	a := infos[0]
	if a.ID != busyWorker || a.Host != "host-a" || a.Pid != 11 || a.Processed != 5 || a.Failed != 1 {
		t.Errorf("infos[0] = %+v", a)
	}
	if a.Job == nil || a.Job.Class != "Sleep" || a.Job.ID != "abc" || a.Job.Queue != "high" {
		t.Errorf("infos[0].Job = %+v", a.Job)
	}
	if infos[1].Job != nil {
		t.Errorf("infos[1] should be idle, got %+v", infos[1].Job)
	}
}

func TestCollectorFailures(t *testing.T) {
	_, r := setupResque(t)
	ctx := context.Background()

	for _, msg := range []string{"one", "two", "three"} {
		job := r.NewJob("high", resque.Payload{Class: "Echo"})
		job.Worker = busyWorker
		if err := job.Fail(ctx, &resque.JobConfigurationError{Message: msg}); err != nil {
			t.Fatal(err)
		}
	}

	page, err := NewCollector(r).Failures(ctx, 1, 5)
	if err != nil {
		t.Fatalf("Failures() error = %v", err)
	}
	if page.Total != 3 || page.Offset != 1 || len(page.Failures) != 2 {
		t.Fatalf("Failures() = total %d offset %d len %d", page.Total, page.Offset, len(page.Failures))
	}
	if page.Failures[0].Error != "two" || page.Failures[0].Exception != "JobConfigurationError" {
		t.Errorf("Failures()[0] = %+v", page.Failures[0])
	}
}

type saveOnly struct{}

func (saveOnly) Save(context.Context, resque.FailureRecord) error { return nil }

func TestCollectorFailuresNotListable(t *testing.T) {
	r := resque.New(nil, resque.Config{Failures: saveOnly{}})
	if _, err := NewCollector(r).Failures(context.Background(), 0, 10); err != ErrNotListable {
		t.Errorf("Failures() error = %v, want ErrNotListable", err)
	}
}
