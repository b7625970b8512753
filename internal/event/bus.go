// Package event provides the lifecycle hook bus used by jobs and workers.
//
// Listeners run synchronously, on the caller's goroutine, in the order they
// were registered. A listener that returns an error stops the remaining
// listeners for that trigger and the error is handed back to the caller.
package event

import (
	"context"
	"errors"
	"sync"
)

// Lifecycle event names.
const (
	BeforeEnqueue   = "beforeEnqueue"
	AfterEnqueue    = "afterEnqueue"
	BeforeFirstFork = "beforeFirstFork"
	BeforeFork      = "beforeFork"
	AfterFork       = "afterFork"
	BeforePerform   = "beforePerform"
	AfterPerform    = "afterPerform"
	OnFailure       = "onFailure"
)

// Listener is called with the data passed to Trigger.
type Listener func(ctx context.Context, data any) error

// Handle identifies a single registration returned by Listen.
type Handle uint64

// Outcome is the result of a vetoable dispatch.
type Outcome int

const (
	// Proceed means no listener vetoed the action.
	Proceed Outcome = iota
	// Veto means a listener asked for the action to be skipped.
	Veto
)

func (o Outcome) String() string {
	if o == Veto {
		return "veto"
	}
	return "proceed"
}

type registration struct {
	handle   Handle
	listener Listener
}

// Bus is an ordered, synchronous callback registry keyed by event name.
type Bus struct {
	mu        sync.RWMutex
	listeners map[string][]registration
	next      Handle
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		listeners: make(map[string][]registration),
	}
}

// Listen appends fn to the listeners of name. Registering the same function
// twice yields two handles and two calls per trigger.
func (b *Bus) Listen(name string, fn Listener) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	b.listeners[name] = append(b.listeners[name], registration{handle: b.next, listener: fn})
	return b.next
}

// StopListening removes the registration identified by h. Unknown handles are ignored.
func (b *Bus) StopListening(name string, h Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	regs := b.listeners[name]
	for i, r := range regs {
		if r.handle == h {
			b.listeners[name] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// Trigger calls every listener registered for name.
func (b *Bus) Trigger(ctx context.Context, name string, data any) error {
	b.mu.RLock()
	regs := append([]registration(nil), b.listeners[name]...)
	b.mu.RUnlock()

	for _, r := range regs {
		if r.listener == nil {
			continue
		}
		if err := r.listener(ctx, data); err != nil {
			return err
		}
	}
	return nil
}

// Dispatch triggers name and translates a listener error matching veto into
// Veto. Any other error is returned unchanged.
func (b *Bus) Dispatch(ctx context.Context, name string, data any, veto error) (Outcome, error) {
	err := b.Trigger(ctx, name, data)
	if err == nil {
		return Proceed, nil
	}
	if veto != nil && errors.Is(err, veto) {
		return Veto, nil
	}
	return Proceed, err
}

// Count returns the number of listeners registered for name.
func (b *Bus) Count(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[name])
}

// Clear removes every listener.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = make(map[string][]registration)
}
