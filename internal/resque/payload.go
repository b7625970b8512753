package resque

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Payload is the JSON document stored in a queue list entry.
type Payload struct {
	// Class names the handler that performs the job.
	Class string `json:"class"`

	// Args wraps the single arguments map, or is empty.
	Args []map[string]any `json:"args"`

	// ID identifies the job for status tracking.
	ID string `json:"id,omitempty"`

	// QueueTime is the enqueue time in fractional unix seconds.
	QueueTime float64 `json:"queue_time,omitempty"`
}

// Arguments returns the arguments map, or nil.
func (p Payload) Arguments() map[string]any {
	if len(p.Args) == 0 {
		return nil
	}
	return p.Args[0]
}

// Encode serializes the payload.
func (p Payload) Encode() (string, error) {
	if p.Args == nil {
		p.Args = []map[string]any{}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	return string(data), nil
}

// DecodePayload parses a queue entry. Numbers are kept as json.Number so
// re-encoding yields the same document.
func DecodePayload(data string) (Payload, error) {
	var p Payload
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return Payload{}, fmt.Errorf("failed to decode payload: %w", err)
	}
	return p, nil
}

// normalizeArgs converts args to a map. nil stays nil. Anything that does not
// encode as a JSON object is rejected with ErrInvalidArguments.
func normalizeArgs(args any) (map[string]any, error) {
	switch v := args.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return v, nil
	}

	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	if len(data) == 0 || data[0] != '{' {
		return nil, fmt.Errorf("%w: got %T", ErrInvalidArguments, args)
	}

	var m map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return m, nil
}

// GenerateJobID returns a random 128-bit id as 32 hex characters.
func GenerateJobID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
