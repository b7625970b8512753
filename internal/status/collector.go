// Package status gathers queue, worker and failure statistics for the CLI
// and the HTTP status endpoint.
package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aceteam-ai/resque/internal/resque"
	"github.com/aceteam-ai/resque/internal/worker"
)

// ErrNotListable is returned when the failure backend cannot page records.
var ErrNotListable = errors.New("the configured failure backend cannot list failures")

// Collector reads statistics from a Resque instance.
type Collector struct {
	r *resque.Resque

	// CPUSample is how long CPU usage is measured (default 500ms).
	CPUSample time.Duration
}

// NewCollector creates a collector for r.
func NewCollector(r *resque.Resque) *Collector {
	return &Collector{r: r, CPUSample: 500 * time.Millisecond}
}

// Stats gathers the global counters, queue depth and worker activity.
func (c *Collector) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	var err error
	if st.Processed, err = c.r.Stats().Get(ctx, "processed"); err != nil {
		return nil, err
	}
	if st.Failed, err = c.r.Stats().Get(ctx, "failed"); err != nil {
		return nil, err
	}

	queues, err := c.Queues(ctx)
	if err != nil {
		return nil, err
	}
	st.Queues = len(queues)
	for _, q := range queues {
		st.Pending += q.Pending
	}

	workers, err := worker.All(ctx, c.r)
	if err != nil {
		return nil, err
	}
	st.Workers = len(workers)
	for _, w := range workers {
		if _, busy, err := w.Job(ctx); err == nil && busy {
			st.Working++
		}
	}
	return st, nil
}

// Queues lists known queues with their pending counts.
func (c *Collector) Queues(ctx context.Context) ([]QueueInfo, error) {
	names, err := c.r.Queues(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]QueueInfo, 0, len(names))
	for _, name := range names {
		n, err := c.r.Size(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to size queue %s: %w", name, err)
		}
		infos = append(infos, QueueInfo{Name: name, Pending: n})
	}
	return infos, nil
}

// Workers describes every registered worker.
func (c *Collector) Workers(ctx context.Context) ([]WorkerInfo, error) {
	workers, err := worker.All(ctx, c.r)
	if err != nil {
		return nil, err
	}

	infos := make([]WorkerInfo, 0, len(workers))
	for _, w := range workers {
		info := WorkerInfo{
			ID:     w.ID(),
			Host:   w.Hostname(),
			Pid:    w.Pid(),
			Queues: w.Queues(),
		}
		if info.Started, _, err = w.Started(ctx); err != nil {
			return nil, err
		}
		if info.Processed, err = w.Stat(ctx, "processed"); err != nil {
			return nil, err
		}
		if info.Failed, err = w.Stat(ctx, "failed"); err != nil {
			return nil, err
		}
		job, busy, err := w.Job(ctx)
		if err != nil {
			return nil, err
		}
		if busy {
			info.Job = &JobInfo{Queue: job.Queue, Class: job.Payload.Class, ID: job.Payload.ID, RunAt: job.RunAt}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Failures returns a page of failure records.
func (c *Collector) Failures(ctx context.Context, offset, limit int) (*FailedList, error) {
	lister, ok := c.r.Failures().(resque.FailureLister)
	if !ok {
		return nil, ErrNotListable
	}
	total, err := lister.Count(ctx)
	if err != nil {
		return nil, err
	}
	recs, err := lister.List(ctx, offset, limit)
	if err != nil {
		return nil, err
	}
	return &FailedList{Total: total, Offset: offset, Failures: recs}, nil
}

// Host returns what could be read about this machine; failures leave zeros.
func (c *Collector) Host(ctx context.Context) *HostVitals {
	h := &HostVitals{}
	if info, err := host.InfoWithContext(ctx); err == nil {
		h.Hostname, h.Uptime = info.Hostname, info.Uptime
	}
	if p, err := cpu.PercentWithContext(ctx, c.CPUSample, false); err == nil && len(p) > 0 {
		h.CPUPercent = p[0]
	}
	if v, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		h.MemPercent, h.MemUsed, h.MemTotal = v.UsedPercent, v.Used, v.Total
	}
	if d, err := disk.UsageWithContext(ctx, "/"); err == nil {
		h.DiskPercent, h.DiskUsed, h.DiskTotal = d.UsedPercent, d.Used, d.Total
	}
	return h
}
