// Package harness provides test harness utilities for E2E testing
package harness

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// ResqueHarness runs the resque binary against one Redis namespace.
type ResqueHarness struct {
	binaryPath string
	workDir    string
	redisURL   string
	prefix     string
}

// NewResqueHarness creates a harness. Every command gets --redis-url and
// --prefix so tests never touch keys outside prefix.
func NewResqueHarness(binaryPath, redisURL, prefix string) *ResqueHarness {
	workDir, _ := os.MkdirTemp("", "resque-e2e-*")
	return &ResqueHarness{
		binaryPath: binaryPath,
		workDir:    workDir,
		redisURL:   redisURL,
		prefix:     prefix,
	}
}

func (h *ResqueHarness) command(ctx context.Context, args ...string) *exec.Cmd {
	args = append(args, "--redis-url="+h.redisURL, "--prefix="+h.prefix, "--no-color")
	cmd := exec.CommandContext(ctx, h.binaryPath, args...)
	cmd.Dir = h.workDir
	return cmd
}

// RunCommand executes a resque command and returns its stdout.
func (h *ResqueHarness) RunCommand(args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	cmd := h.command(ctx, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("command failed: %w\nstdout: %s\nstderr: %s",
			err, stdout.String(), stderr.String())
	}
	return stdout.String(), nil
}

// Drain runs a worker with a zero interval, so it exits once the queues
// are empty.
func (h *ResqueHarness) Drain(ctx context.Context, queues string, extra ...string) error {
	args := append([]string{"work", "--queues=" + queues, "--interval=0"}, extra...)
	cmd := h.command(ctx, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("worker failed: %w", err)
	}
	return nil
}

// StartWorker starts a polling worker in the background.
func (h *ResqueHarness) StartWorker(ctx context.Context, queues string, extra ...string) (*exec.Cmd, error) {
	args := append([]string{"work", "--queues=" + queues, "--interval=100ms"}, extra...)
	cmd := h.command(ctx, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}
	return cmd, nil
}

// Cleanup removes the temporary work directory
func (h *ResqueHarness) Cleanup() error {
	return os.RemoveAll(h.workDir)
}

// WorkDir returns the working directory path
func (h *ResqueHarness) WorkDir() string {
	return h.workDir
}

// BuildResque builds the resque binary and returns its path
func BuildResque(moduleDir string) (string, error) {
	outputPath := filepath.Join(moduleDir, "resque-e2e")

	cmd := exec.Command("go", "build", "-o", outputPath, ".")
	cmd.Dir = moduleDir

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to build resque: %w\noutput: %s", err, string(output))
	}
	return outputPath, nil
}
