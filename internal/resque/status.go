package resque

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// State is a tracked job's lifecycle state.
type State int

const (
	StateWaiting  State = 1
	StateRunning  State = 2
	StateFailed   State = 3
	StateComplete State = 4
)

// StatusRetention is how long a finished job's status stays readable.
const StatusRetention = 24 * time.Hour

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	case StateComplete:
		return "complete"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are expected.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateComplete
}

type statusPacket struct {
	Status  State `json:"status"`
	Updated int64 `json:"updated"`
	Started int64 `json:"started,omitempty"`
}

// Status is the optional state record of one job.
type Status struct {
	id    string
	store Store
	now   func() time.Time

	mu       sync.Mutex
	tracking *bool
}

func (s *Status) key() string {
	return "job:" + s.id + ":status"
}

// ID returns the job id the record belongs to.
func (s *Status) ID() string { return s.id }

// Create starts tracking in the Waiting state.
func (s *Status) Create(ctx context.Context) error {
	now := s.now().Unix()
	data, _ := json.Marshal(statusPacket{Status: StateWaiting, Updated: now, Started: now})
	if err := s.store.Set(ctx, s.key(), string(data), 0); err != nil {
		return fmt.Errorf("failed to create status for job %s: %w", s.id, err)
	}
	s.setTracking(true)
	return nil
}

// IsTracking reports whether a record exists. The answer is remembered after
// the first lookup.
func (s *Status) IsTracking(ctx context.Context) (bool, error) {
	s.mu.Lock()
	cached := s.tracking
	s.mu.Unlock()
	if cached != nil {
		return *cached, nil
	}

	exists, err := s.store.Exists(ctx, s.key())
	if err != nil {
		return false, err
	}
	s.setTracking(exists)
	return exists, nil
}

func (s *Status) setTracking(v bool) {
	s.mu.Lock()
	s.tracking = &v
	s.mu.Unlock()
}

// Update records a new state. Untracked jobs are left alone. Terminal states
// expire after StatusRetention.
func (s *Status) Update(ctx context.Context, state State) error {
	tracking, err := s.IsTracking(ctx)
	if err != nil || !tracking {
		return err
	}

	packet := statusPacket{Status: state, Updated: s.now().Unix()}
	if prev, ok := s.read(ctx); ok {
		packet.Started = prev.Started
	}
	data, _ := json.Marshal(packet)

	ttl := time.Duration(0)
	if state.Terminal() {
		ttl = StatusRetention
	}
	if err := s.store.Set(ctx, s.key(), string(data), ttl); err != nil {
		return fmt.Errorf("failed to update status for job %s: %w", s.id, err)
	}
	return nil
}

// Get returns the current state. ok is false when the job is not tracked or
// the record cannot be parsed.
func (s *Status) Get(ctx context.Context) (State, bool, error) {
	tracking, err := s.IsTracking(ctx)
	if err != nil || !tracking {
		return 0, false, err
	}
	packet, ok := s.read(ctx)
	if !ok {
		return 0, false, nil
	}
	return packet.Status, true, nil
}

func (s *Status) read(ctx context.Context) (statusPacket, bool) {
	raw, ok, err := s.store.Get(ctx, s.key())
	if err != nil || !ok {
		return statusPacket{}, false
	}
	var packet statusPacket
	if err := json.Unmarshal([]byte(raw), &packet); err != nil || packet.Status == 0 {
		return statusPacket{}, false
	}
	return packet, true
}

// Stop deletes the record.
func (s *Status) Stop(ctx context.Context) error {
	if _, err := s.store.Del(ctx, s.key()); err != nil {
		return fmt.Errorf("failed to stop status for job %s: %w", s.id, err)
	}
	s.setTracking(false)
	return nil
}
