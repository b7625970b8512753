package resque

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// DateFormat is the layout of worker start and failure timestamps.
const DateFormat = "Mon Jan 02 15:04:05 MST 2006"

// FailureRecord is the diagnostic record kept for each failed attempt.
type FailureRecord struct {
	FailedAt  string   `json:"failed_at"`
	Payload   Payload  `json:"payload"`
	Exception string   `json:"exception"`
	Error     string   `json:"error"`
	Backtrace []string `json:"backtrace"`
	Worker    string   `json:"worker"`
	Queue     string   `json:"queue"`
}

// NewFailureRecord builds the record for cause.
func NewFailureRecord(job *Job, cause error, at time.Time) FailureRecord {
	class, message, backtrace := Describe(cause)
	if backtrace == nil {
		backtrace = []string{}
	}
	return FailureRecord{
		FailedAt:  at.Format(DateFormat),
		Payload:   job.Payload,
		Exception: class,
		Error:     message,
		Backtrace: backtrace,
		Worker:    job.Worker,
		Queue:     job.Queue,
	}
}

// FailureBackend durably stores failure records.
type FailureBackend interface {
	Save(ctx context.Context, rec FailureRecord) error
}

// FailureLister is implemented by backends that can page through records.
type FailureLister interface {
	Count(ctx context.Context) (int64, error)
	List(ctx context.Context, offset, limit int) ([]FailureRecord, error)
}

// RedisFailureBackend appends records to the failed list.
type RedisFailureBackend struct {
	store Store
}

// NewRedisFailureBackend creates the default failure backend.
func NewRedisFailureBackend(store Store) *RedisFailureBackend {
	return &RedisFailureBackend{store: store}
}

const failedKey = "failed"

// Save appends rec.
func (b *RedisFailureBackend) Save(ctx context.Context, rec FailureRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode failure: %w", err)
	}
	if _, err := b.store.RPush(ctx, failedKey, string(data)); err != nil {
		return fmt.Errorf("failed to save failure: %w", err)
	}
	return nil
}

// Count returns the number of stored records.
func (b *RedisFailureBackend) Count(ctx context.Context) (int64, error) {
	return b.store.LLen(ctx, failedKey)
}

// List returns up to limit records starting at offset, oldest first.
func (b *RedisFailureBackend) List(ctx context.Context, offset, limit int) ([]FailureRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	raw, err := b.store.LRange(ctx, failedKey, int64(offset), int64(offset+limit-1))
	if err != nil {
		return nil, err
	}
	records := make([]FailureRecord, 0, len(raw))
	for _, r := range raw {
		var rec FailureRecord
		if err := json.Unmarshal([]byte(r), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
