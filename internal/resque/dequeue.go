package resque

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// Matcher selects pending jobs to remove with Dequeue.
type Matcher struct {
	Class string

	// ID, when set, must equal the job id.
	ID string

	// Args, when set, must hold exactly the same key/value pairs as the job
	// arguments. Key order is irrelevant.
	Args map[string]any
}

// MatchClass matches every job of class.
func MatchClass(class string) Matcher {
	return Matcher{Class: class}
}

// MatchID matches the job of class with the given id.
func MatchID(class, id string) Matcher {
	return Matcher{Class: class, ID: id}
}

// MatchArgs matches jobs of class whose arguments equal args.
func MatchArgs(class string, args map[string]any) Matcher {
	return Matcher{Class: class, Args: args}
}

func (m Matcher) match(p Payload) bool {
	if p.Class != m.Class {
		return false
	}
	if m.ID != "" && p.ID != m.ID {
		return false
	}
	if m.Args != nil {
		got := p.Arguments()
		if len(got) == 0 {
			return false
		}
		a, errA := canonicalJSON(got)
		b, errB := canonicalJSON(m.Args)
		if errA != nil || errB != nil || !bytes.Equal(a, b) {
			return false
		}
	}
	return true
}

// canonicalJSON encodes v with sorted keys and numbers normalized to float64,
// so equal maps produce equal bytes regardless of key order or number type.
func canonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// Dequeue removes pending jobs from queue and returns how many were removed.
// With no matchers the whole queue is deleted. Jobs that do not match keep
// their relative order.
func (r *Resque) Dequeue(ctx context.Context, queue string, matchers ...Matcher) (int64, error) {
	if len(matchers) == 0 {
		return r.removeList(ctx, queue)
	}

	original := queueKey(queue)
	temp := original + ":temp:" + GenerateJobID()
	requeue := temp + ":requeue"

	var removed int64
	for {
		raw, ok, err := r.store.RPopLPush(ctx, original, temp)
		if err != nil {
			return removed, fmt.Errorf("failed to scan queue %s: %w", queue, err)
		}
		if !ok {
			break
		}

		if matchAny(raw, matchers) {
			if _, _, err := r.store.RPop(ctx, temp); err != nil {
				return removed, err
			}
			removed++
			continue
		}
		if _, _, err := r.store.RPopLPush(ctx, temp, requeue); err != nil {
			return removed, err
		}
	}

	for {
		_, ok, err := r.store.RPopLPush(ctx, requeue, original)
		if err != nil {
			return removed, fmt.Errorf("failed to restore queue %s: %w", queue, err)
		}
		if !ok {
			break
		}
	}

	if _, err := r.store.Del(ctx, requeue, temp); err != nil {
		return removed, err
	}
	return removed, nil
}

func matchAny(raw string, matchers []Matcher) bool {
	p, err := DecodePayload(raw)
	if err != nil {
		return false
	}
	for _, m := range matchers {
		if m.match(p) {
			return true
		}
	}
	return false
}

func (r *Resque) removeList(ctx context.Context, queue string) (int64, error) {
	size, err := r.Size(ctx, queue)
	if err != nil {
		return 0, err
	}
	deleted, err := r.store.Del(ctx, queueKey(queue))
	if err != nil {
		return 0, err
	}
	if deleted != 1 {
		return 0, nil
	}
	return size, nil
}
