package resque

import (
	"context"
	"sort"
	"sync"
)

// Handler performs one job.
type Handler interface {
	Perform(ctx context.Context, job *Job) error
}

// SetUpper is implemented by handlers that need work done before Perform.
// Returning ErrDontPerform skips the job.
type SetUpper interface {
	SetUp(ctx context.Context, job *Job) error
}

// TearDowner is implemented by handlers that clean up after Perform.
type TearDowner interface {
	TearDown(ctx context.Context, job *Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *Job) error

// Perform calls f.
func (f HandlerFunc) Perform(ctx context.Context, job *Job) error {
	return f(ctx, job)
}

// JobFactory resolves a job to the handler that performs it.
type JobFactory interface {
	Create(job *Job) (Handler, error)
}

// Registry is a JobFactory backed by a class name table.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]func() Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]func() Handler)}
}

// Register maps class to a constructor. A fresh handler is built per job.
func (r *Registry) Register(class string, build func() Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[class] = build
}

// RegisterFunc maps class to a plain function.
func (r *Registry) RegisterFunc(class string, fn func(ctx context.Context, job *Job) error) {
	r.Register(class, func() Handler { return HandlerFunc(fn) })
}

// Classes lists the registered class names, sorted.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	classes := make([]string, 0, len(r.builders))
	for c := range r.builders {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	return classes
}

// Create implements JobFactory.
func (r *Registry) Create(job *Job) (Handler, error) {
	r.mu.RLock()
	build, ok := r.builders[job.Payload.Class]
	r.mu.RUnlock()
	if !ok {
		return nil, &JobConfigurationError{JobClass: job.Payload.Class}
	}
	h := build()
	if h == nil {
		return nil, &JobConfigurationError{
			JobClass: job.Payload.Class,
			Message:  "job class " + job.Payload.Class + " does not provide a handler",
		}
	}
	return h, nil
}
