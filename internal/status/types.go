package status

import "github.com/aceteam-ai/resque/internal/resque"

// Health statuses.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
)

// Stats is the cluster-wide overview.
type Stats struct {
	Processed int64       `json:"processed" yaml:"processed"`
	Failed    int64       `json:"failed" yaml:"failed"`
	Pending   int64       `json:"pending" yaml:"pending"`
	Queues    int         `json:"queues" yaml:"queues"`
	Workers   int         `json:"workers" yaml:"workers"`
	Working   int         `json:"working" yaml:"working"`
	Host      *HostVitals `json:"host,omitempty" yaml:"host,omitempty"`
}

// HostVitals describes the machine the collector runs on.
type HostVitals struct {
	Hostname    string  `json:"hostname" yaml:"hostname"`
	Uptime      uint64  `json:"uptime_seconds" yaml:"uptime_seconds"`
	CPUPercent  float64 `json:"cpu_percent" yaml:"cpu_percent"`
	MemPercent  float64 `json:"mem_percent" yaml:"mem_percent"`
	MemUsed     uint64  `json:"mem_used" yaml:"mem_used"`
	MemTotal    uint64  `json:"mem_total" yaml:"mem_total"`
	DiskPercent float64 `json:"disk_percent" yaml:"disk_percent"`
	DiskUsed    uint64  `json:"disk_used" yaml:"disk_used"`
	DiskTotal   uint64  `json:"disk_total" yaml:"disk_total"`
}

// QueueInfo is one known queue.
type QueueInfo struct {
	Name    string `json:"name" yaml:"name"`
	Pending int64  `json:"pending" yaml:"pending"`
}

// WorkerInfo describes one registered worker.
type WorkerInfo struct {
	ID        string   `json:"id" yaml:"id"`
	Host      string   `json:"host" yaml:"host"`
	Pid       int      `json:"pid" yaml:"pid"`
	Queues    []string `json:"queues" yaml:"queues"`
	Started   string   `json:"started,omitempty" yaml:"started,omitempty"`
	Processed int64    `json:"processed" yaml:"processed"`
	Failed    int64    `json:"failed" yaml:"failed"`
	Job       *JobInfo `json:"job,omitempty" yaml:"job,omitempty"`
}

// JobInfo is the job a worker is busy with.
type JobInfo struct {
	Queue string `json:"queue" yaml:"queue"`
	Class string `json:"class" yaml:"class"`
	ID    string `json:"id,omitempty" yaml:"id,omitempty"`
	RunAt string `json:"run_at" yaml:"run_at"`
}

// FailedList is a page of failure records.
type FailedList struct {
	Total    int64                  `json:"total" yaml:"total"`
	Offset   int                    `json:"offset" yaml:"offset"`
	Failures []resque.FailureRecord `json:"failures" yaml:"failures"`
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Error   string `json:"error,omitempty"`
}
