// Package remote runs jobs in a separate executor process reached over a
// websocket.
//
// The executor (Server) greets each connection with a Hello carrying its
// protocol version, then answers one Response per Request until the
// connection closes. The worker side (Client) refuses executors whose
// protocol major version differs from its own.
package remote

import "github.com/aceteam-ai/resque/internal/resque"

// ProtocolVersion is the version spoken by this package.
const ProtocolVersion = "1.0.0"

// SupportedProtocols is the constraint a server's version must satisfy.
const SupportedProtocols = ">= 1.0, < 2.0"

// DefaultPath is the HTTP path the executor listens on.
const DefaultPath = "/jobs"

// Response statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Hello is the first message a server sends on a new connection.
type Hello struct {
	Protocol string `json:"protocol"`
	Server   string `json:"server,omitempty"`
}

// Request asks the executor to perform one job.
type Request struct {
	Queue   string         `json:"queue"`
	Worker  string         `json:"worker"`
	Payload resque.Payload `json:"payload"`
}

// Response reports how a job went.
type Response struct {
	Status     string   `json:"status"`
	ErrorClass string   `json:"error_class,omitempty"`
	Error      string   `json:"error,omitempty"`
	Backtrace  []string `json:"backtrace,omitempty"`
}

// OK reports whether the job completed.
func (r *Response) OK() bool {
	return r.Status == StatusOK
}

// Failed builds a failure response describing err.
func Failed(err error) Response {
	class, msg, trace := resque.Describe(err)
	return Response{Status: StatusFailed, ErrorClass: class, Error: msg, Backtrace: trace}
}
