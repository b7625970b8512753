package failuredb

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/aceteam-ai/resque/internal/resque"
)

func setupTestDB(t *testing.T) *Backend {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	b := New(db)
	if err := b.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestSaveAndList(t *testing.T) {
	b := setupTestDB(t)
	ctx := context.Background()

	r := resque.New(nil, resque.Config{})
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	for i, q := range []string{"high", "low"} {
		job := r.NewJob(q, resque.Payload{
			Class: "Mail",
			ID:    []string{"id-1", "id-2"}[i],
			Args:  []map[string]any{{"to": "x"}},
		})
		job.Worker = "host:1:" + q
		rec := resque.NewFailureRecord(job, &resque.DirtyExitError{Status: 1}, at)
		if err := b.Save(ctx, rec); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	n, err := b.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Count() = %d, want 2", n)
	}

	records, err := b.List(ctx, 0, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("List() returned %d records, want 2", len(records))
	}

	first := records[0]
	if first.Queue != "high" || first.Worker != "host:1:high" {
		t.Errorf("first record = %+v", first)
	}
	if first.Exception != "DirtyExitError" {
		t.Errorf("Exception = %s, want DirtyExitError", first.Exception)
	}
	if first.Payload.ID != "id-1" || first.Payload.Arguments()["to"] != "x" {
		t.Errorf("Payload = %+v", first.Payload)
	}
	if first.FailedAt != at.Format(resque.DateFormat) {
		t.Errorf("FailedAt = %s", first.FailedAt)
	}
}

func TestForQueue(t *testing.T) {
	b := setupTestDB(t)
	ctx := context.Background()

	for _, q := range []string{"a", "b", "a"} {
		b.Save(ctx, resque.FailureRecord{Queue: q, Payload: resque.Payload{Class: "Job"}, Error: "boom"})
	}

	rows, err := b.ForQueue(ctx, "a", 10)
	if err != nil {
		t.Fatalf("ForQueue() error = %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("ForQueue() returned %d rows, want 2", len(rows))
	}
	if len(rows) == 2 && rows[0].ID < rows[1].ID {
		t.Error("ForQueue() should return newest first")
	}
}

func TestBackendAsFailureBackend(t *testing.T) {
	b := setupTestDB(t)
	ctx := context.Background()

	var _ resque.FailureBackend = b
	var _ resque.FailureLister = b

	r := resque.New(nil, resque.Config{Failures: b})
	job := r.NewJob("q", resque.Payload{Class: "Job"})
	if err := r.Failures().Save(ctx, resque.NewFailureRecord(job, errors.New("x"), time.Now())); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if n, _ := b.Count(ctx); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}
