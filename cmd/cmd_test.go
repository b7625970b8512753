// cmd/cmd_test.go
package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"slices"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/aceteam-ai/resque/internal/config"
	"github.com/aceteam-ai/resque/internal/status"
)

func startRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	return mr
}

// run executes the CLI with args and returns its stdout.
func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("resque %s: %v", strings.Join(args, " "), err)
	}
	return out.String()
}

func TestSingleWorkerArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "separate value",
			args: []string{"work", "--count", "4", "--queues", "a"},
			want: []string{"work", "--queues", "a", "--count=1"},
		},
		{
			name: "inline value",
			args: []string{"work", "--count=4", "--interval", "1s"},
			want: []string{"work", "--interval", "1s", "--count=1"},
		},
		{
			name: "from environment",
			args: []string{"work"},
			want: []string{"work", "--count=1"},
		},
		{
			name: "after terminator",
			args: []string{"work", "--", "--count", "2"},
			want: []string{"work", "--", "--count", "2", "--count=1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := singleWorkerArgs(tt.args); !slices.Equal(got, tt.want) {
				t.Errorf("singleWorkerArgs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestForkArgs(t *testing.T) {
	c := config.DefaultConfig()
	c.Redis.Password = "secret"
	c.Redis.Database = 2

	args := forkArgs("/etc/resque.yaml", &c)
	if args[0] != "perform" {
		t.Errorf("args[0] = %s, want perform", args[0])
	}
	joined := strings.Join(args, " ")
	for _, want := range []string{"--config /etc/resque.yaml", "--redis-db 2", "--prefix resque", "--failure-backend redis"} {
		if !strings.Contains(joined, want) {
			t.Errorf("forkArgs() = %q, missing %q", joined, want)
		}
	}
	if strings.Contains(joined, "secret") {
		t.Error("forkArgs() must not put the password on the command line")
	}

	f := newFork(&c)
	if !slices.Contains(f.Env, "RESQUE_REDIS_PASSWORD=secret") {
		t.Error("newFork() should pass the password through the environment")
	}
}

func TestBuildStrategy(t *testing.T) {
	tests := []struct {
		strategy string
		want     string
	}{
		{config.StrategyInProcess, "InProcess"},
		{config.StrategyFork, "Fork"},
		{config.StrategyBatchFork, "BatchFork"},
		{config.StrategyRemote, "Remote"},
	}

	for _, tt := range tests {
		c := config.DefaultConfig()
		c.Worker.Strategy = tt.strategy
		s, closeFn, err := buildStrategy(&c)
		if err != nil {
			t.Fatalf("buildStrategy(%s) error = %v", tt.strategy, err)
		}
		if s.Name() != tt.want {
			t.Errorf("buildStrategy(%s) = %s, want %s", tt.strategy, s.Name(), tt.want)
		}
		closeFn()
	}

	c := config.DefaultConfig()
	c.Worker.Strategy = "thread"
	if _, _, err := buildStrategy(&c); err == nil {
		t.Error("buildStrategy(thread) should fail")
	}
}

func TestParseArgsJSON(t *testing.T) {
	m, err := parseArgsJSON(`{"n": 10, "name": "x"}`)
	if err != nil {
		t.Fatalf("parseArgsJSON() error = %v", err)
	}
	if m["n"] != json.Number("10") || m["name"] != "x" {
		t.Errorf("parseArgsJSON() = %v", m)
	}

	for _, bad := range []string{`[1,2]`, `"x"`, `{"a":1} {"b":2}`, `{`} {
		if _, err := parseArgsJSON(bad); err == nil {
			t.Errorf("parseArgsJSON(%s) should fail", bad)
		}
	}
}

func TestPrintStructured(t *testing.T) {
	defer func() { outputFormat = outputText }()
	v := status.QueueInfo{Name: "default", Pending: 3}

	tests := []struct {
		format string
		done   bool
		want   string
	}{
		{outputText, false, ""},
		{outputYAML, true, "name: default\npending: 3\n"},
		{outputJSON, true, "{\n  \"name\": \"default\",\n  \"pending\": 3\n}\n"},
	}
	for _, tt := range tests {
		outputFormat = tt.format
		var buf bytes.Buffer
		done, err := printStructured(&buf, v)
		if err != nil || done != tt.done || buf.String() != tt.want {
			t.Errorf("printStructured(%s) = %v, %v, %q", tt.format, done, err, buf.String())
		}
	}

	outputFormat = "xml"
	if _, err := printStructured(&bytes.Buffer{}, v); err == nil {
		t.Error("printStructured(xml) should fail")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestPrintWorkers(t *testing.T) {
	infos := []status.WorkerInfo{
		{ID: "a:1:high", Host: "a", Pid: 1, Queues: []string{"high"}, Processed: 5,
			Job: &status.JobInfo{Queue: "high", Class: "Sleep", RunAt: "now"}},
		{ID: "b:2:low", Host: "b", Pid: 2, Queues: []string{"low"}},
	}
	var out bytes.Buffer
	printWorkers(&out, infos)
	if !strings.Contains(out.String(), "working on Sleep from high") || !strings.Contains(out.String(), "idle") {
		t.Errorf("printWorkers() output:\n%s", out.String())
	}

	out.Reset()
	printWorkers(&out, nil)
	if !strings.Contains(out.String(), "No workers") {
		t.Errorf("printWorkers(nil) = %q", out.String())
	}
}

func TestCommands(t *testing.T) {
	mr := startRedis(t)
	url := "redis://" + mr.Addr()

	id := strings.TrimSpace(run(t, "enqueue", "default", "Echo", `{"n": 1}`, "--track", "--redis-url", url))
	if len(id) != 32 {
		t.Fatalf("enqueue printed %q, want a job id", id)
	}

	var queues []status.QueueInfo
	if err := json.Unmarshal([]byte(run(t, "queues", "-o", "json", "--redis-url", url)), &queues); err != nil {
		t.Fatalf("queues output: %v", err)
	}
	if len(queues) != 1 || queues[0] != (status.QueueInfo{Name: "default", Pending: 1}) {
		t.Errorf("queues = %+v", queues)
	}

	var js JobStatus
	if err := json.Unmarshal([]byte(run(t, "status", id, "-o", "json", "--redis-url", url)), &js); err != nil {
		t.Fatalf("status output: %v", err)
	}
	if !js.Tracked || js.State != "waiting" {
		t.Errorf("status = %+v, want tracked and waiting", js)
	}

	out := run(t, "dequeue", "default", "Echo", "--args", `{"n": 1}`, "-o", "text", "--redis-url", url)
	if !strings.Contains(out, "Removed 1 job(s) from default") {
		t.Errorf("dequeue output = %q", out)
	}
}
