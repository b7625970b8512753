// Package failuredb stores failure records in a SQL database through GORM.
package failuredb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/aceteam-ai/resque/internal/resque"
)

// Failure is one failed attempt.
type Failure struct {
	ID           uint      `gorm:"primaryKey"`
	FailedAt     time.Time `gorm:"index;not null"`
	FailedAtText string    `gorm:"size:64"`
	Queue        string    `gorm:"index;size:255;not null"`
	Class        string    `gorm:"size:255"`
	JobID        string    `gorm:"index;size:64"`
	Worker       string    `gorm:"size:512"`
	Exception    string    `gorm:"size:255"`
	Error        string
	Backtrace    string
	Payload      string
}

// Backend implements resque.FailureBackend and resque.FailureLister.
type Backend struct {
	db *gorm.DB
}

// New wraps an open database.
func New(db *gorm.DB) *Backend {
	return &Backend{db: db}
}

// OpenSQLite opens (or creates) a SQLite database at dsn and migrates it.
func OpenSQLite(ctx context.Context, dsn string) (*Backend, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open failure database: %w", err)
	}
	b := New(db)
	if err := b.Migrate(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// Migrate creates the failures table.
func (b *Backend) Migrate(ctx context.Context) error {
	return b.db.WithContext(ctx).AutoMigrate(&Failure{})
}

// Save implements resque.FailureBackend.
func (b *Backend) Save(ctx context.Context, rec resque.FailureRecord) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	row := Failure{
		FailedAt:     time.Now(),
		FailedAtText: rec.FailedAt,
		Queue:        rec.Queue,
		Class:        rec.Payload.Class,
		JobID:        rec.Payload.ID,
		Worker:       rec.Worker,
		Exception:    rec.Exception,
		Error:        rec.Error,
		Backtrace:    strings.Join(rec.Backtrace, "\n"),
		Payload:      string(payload),
	}
	if t, err := time.Parse(resque.DateFormat, rec.FailedAt); err == nil {
		row.FailedAt = t
	}
	return b.db.WithContext(ctx).Create(&row).Error
}

// Count implements resque.FailureLister.
func (b *Backend) Count(ctx context.Context) (int64, error) {
	var n int64
	err := b.db.WithContext(ctx).Model(&Failure{}).Count(&n).Error
	return n, err
}

// List implements resque.FailureLister. Records come back oldest first.
func (b *Backend) List(ctx context.Context, offset, limit int) ([]resque.FailureRecord, error) {
	var rows []Failure
	err := b.db.WithContext(ctx).
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	records := make([]resque.FailureRecord, 0, len(rows))
	for _, row := range rows {
		rec := resque.FailureRecord{
			FailedAt:  row.FailedAtText,
			Exception: row.Exception,
			Error:     row.Error,
			Worker:    row.Worker,
			Queue:     row.Queue,
			Backtrace: []string{},
		}
		if row.Backtrace != "" {
			rec.Backtrace = strings.Split(row.Backtrace, "\n")
		}
		if p, err := resque.DecodePayload(row.Payload); err == nil {
			rec.Payload = p
		}
		records = append(records, rec)
	}
	return records, nil
}

// ForQueue returns the failures recorded for one queue, newest first.
func (b *Backend) ForQueue(ctx context.Context, queue string, limit int) ([]Failure, error) {
	var rows []Failure
	err := b.db.WithContext(ctx).
		Where("queue = ?", queue).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Close closes the underlying connection.
func (b *Backend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
