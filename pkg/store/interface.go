package store

import (
	"errors"
	"time"

	"github.com/packforge/packforge/pkg/models"
)

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrPackNotFound = errors.New("pack not found")

	ErrUnsupportedDatabase = errors.New("unsupported database type")
)

// Store defines the interface for job and pack persistence.
// The conditional update is the only concurrency primitive the
// scheduler relies on: all claim and finalize races are resolved by
// the backing database, never by in-process locks.
type Store interface {
	// Job operations
	CreateJob(job *models.Job) error
	GetJob(id string) (*models.Job, error)

	// UpdateJobIfStatus applies upd to the job only if its current
	// status equals expected. Returns (true, nil) when the row was
	// updated, (false, nil) when the status no longer matched, and
	// (false, err) on storage failure or an invalid transition.
	UpdateJobIfStatus(id string, expected models.JobStatus, upd models.JobUpdate) (bool, error)

	// ListJobsByStatus returns jobs in a status ordered by
	// created_at ascending, oldest first. limit <= 0 means no limit.
	ListJobsByStatus(status models.JobStatus, limit int) ([]*models.Job, error)

	CountJobs(statuses ...models.JobStatus) (int, error)

	// FailStaleRunning bulk-fails running jobs whose started_at (or
	// updated_at when started_at was never written) is older than
	// cutoff. Returns the number of jobs reclaimed.
	FailStaleRunning(cutoff time.Time, reason string) (int, error)

	// Pack operations
	CreatePack(pack *models.Pack) error
	GetPack(id string) (*models.Pack, error)

	// Lifecycle
	Close() error
	HealthCheck() error
}

// Config holds database configuration
type Config struct {
	Type string // "memory", "sqlite" or "postgres"
	DSN  string // Connection string (file path for sqlite)

	// PostgreSQL specific
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// NewStore creates a store based on configuration
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "postgres", "postgresql":
		return NewPostgresStore(config)
	case "sqlite":
		path := config.DSN
		if path == "" {
			path = "packforge.db"
		}
		return NewSQLiteStore(path)
	case "memory", "":
		return NewMemoryStore(), nil
	default:
		return nil, ErrUnsupportedDatabase
	}
}

// validateUpdate rejects transitions the job state machine forbids
// before the conditional write is attempted. Shared by all backends.
func validateUpdate(expected models.JobStatus, upd models.JobUpdate) error {
	if upd.Status == nil {
		return nil
	}
	if *upd.Status == expected {
		return nil
	}
	return models.ValidateTransition(expected, *upd.Status)
}
