package resque

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"syscall"
)

var (
	// ErrInvalidArguments is returned when job arguments are not a map or nil.
	ErrInvalidArguments = errors.New("job arguments must be a map or nil")

	// ErrDontPerform is returned by a beforePerform listener or a handler's
	// SetUp to skip the job without failing it.
	ErrDontPerform = errors.New("dont perform")

	// ErrDontCreate is returned by a beforeEnqueue listener to cancel an enqueue.
	ErrDontCreate = errors.New("dont create")
)

// Classifier is implemented by errors that carry their own class name for
// failure records.
type Classifier interface {
	Class() string
}

// JobConfigurationError means the job class could not be resolved to a handler.
type JobConfigurationError struct {
	JobClass string
	Message  string
}

func (e *JobConfigurationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("could not find job class %s", e.JobClass)
}

// Class returns the error class name.
func (e *JobConfigurationError) Class() string { return "JobConfigurationError" }

// DirtyExitError is recorded when a child process running a job terminated
// abnormally.
type DirtyExitError struct {
	// Status is the exit code, or -1 when the child was killed by a signal.
	Status int

	// Signal is set when the child was terminated by a signal.
	Signal syscall.Signal

	// Reason replaces the exit description when the job was abandoned
	// without a child status, e.g. its worker was pruned.
	Reason string
}

func (e *DirtyExitError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	if e.Signal != 0 {
		return fmt.Sprintf("job exited with signal %s", e.Signal)
	}
	return fmt.Sprintf("job exited with exit code %d", e.Status)
}

// Class returns the error class name.
func (e *DirtyExitError) Class() string { return "DirtyExitError" }

// RemoteExecutionError wraps a transport failure or a non-success response
// from a remote executor.
type RemoteExecutionError struct {
	// RemoteClass and Message describe the failure reported by the executor.
	RemoteClass string
	Message     string
	Backtrace   []string

	// Err is set for transport-level failures.
	Err error
}

func (e *RemoteExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote execution failed: %v", e.Err)
	}
	if e.RemoteClass != "" {
		return fmt.Sprintf("remote execution failed: %s: %s", e.RemoteClass, e.Message)
	}
	return "remote execution failed: " + e.Message
}

func (e *RemoteExecutionError) Unwrap() error { return e.Err }

// Class returns the error class name.
func (e *RemoteExecutionError) Class() string { return "RemoteExecutionError" }

// PanicError is a recovered handler panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Class returns the error class name.
func (e *PanicError) Class() string { return "PanicError" }

// Describe returns the class, message and backtrace recorded for err.
// The backtrace lists every wrapped cause, followed by the goroutine stack
// when a panic is somewhere in the chain.
func Describe(err error) (class, message string, backtrace []string) {
	if err == nil {
		return "", "", nil
	}
	class = errorClass(err)
	message = err.Error()

	var stack []byte
	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		backtrace = append(backtrace, fmt.Sprintf("caused by %s: %s", errorClass(cause), cause.Error()))
	}
	var pe *PanicError
	if errors.As(err, &pe) {
		stack = pe.Stack
	}
	var re *RemoteExecutionError
	if errors.As(err, &re) {
		backtrace = append(backtrace, re.Backtrace...)
	}
	for _, line := range strings.Split(strings.TrimSpace(string(stack)), "\n") {
		if line != "" {
			backtrace = append(backtrace, strings.TrimSpace(line))
		}
	}
	return class, message, backtrace
}

func errorClass(err error) string {
	if c, ok := err.(Classifier); ok {
		return c.Class()
	}
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return "error"
	}
	return t.String()
}
