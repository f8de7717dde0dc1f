package store

import (
	"sort"
	"sync"
	"time"

	"github.com/packforge/packforge/pkg/models"
)

// MemoryStore is an in-memory implementation of the data store.
// Used for tests and for running the service without a database.
type MemoryStore struct {
	jobs  map[string]*models.Job
	packs map[string]*models.Pack
	mu    sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:  make(map[string]*models.Job),
		packs: make(map[string]*models.Pack),
	}
}

// CreateJob adds a new job to the store
func (s *MemoryStore) CreateJob(job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *job
	s.jobs[job.ID] = &c
	return nil
}

// GetJob retrieves a job by ID
func (s *MemoryStore) GetJob(id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	c := *job
	return &c, nil
}

// UpdateJobIfStatus applies the update only when the stored status
// still equals expected. The map mutex is the serialization point,
// mirroring the row-level guard the SQL backends get from UPDATE.
func (s *MemoryStore) UpdateJobIfStatus(id string, expected models.JobStatus, upd models.JobUpdate) (bool, error) {
	if err := validateUpdate(expected, upd); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false, ErrJobNotFound
	}
	if job.Status != expected {
		return false, nil
	}

	applyUpdate(job, upd, time.Now().UTC())
	return true, nil
}

func applyUpdate(job *models.Job, upd models.JobUpdate, now time.Time) {
	if upd.Status != nil {
		job.Status = *upd.Status
	}
	if upd.Progress != nil {
		job.Progress = models.ClampProgress(*upd.Progress)
	}
	if upd.PackID != nil {
		job.PackID = *upd.PackID
	}
	if upd.ErrorMessage != nil {
		job.ErrorMessage = *upd.ErrorMessage
	}
	if upd.ErrorTrace != nil {
		job.ErrorTrace = *upd.ErrorTrace
	}
	if upd.StartedAt != nil {
		t := *upd.StartedAt
		job.StartedAt = &t
	}
	if upd.FinishedAt != nil {
		t := *upd.FinishedAt
		job.FinishedAt = &t
	}
	job.UpdatedAt = now
}

// ListJobsByStatus returns jobs in a status, oldest first
func (s *MemoryStore) ListJobsByStatus(status models.JobStatus, limit int) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []*models.Job
	for _, job := range s.jobs {
		if job.Status == status {
			c := *job
			jobs = append(jobs, &c)
		}
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})

	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// CountJobs counts jobs in any of the given statuses
func (s *MemoryStore) CountJobs(statuses ...models.JobStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, job := range s.jobs {
		for _, st := range statuses {
			if job.Status == st {
				count++
				break
			}
		}
	}
	return count, nil
}

// FailStaleRunning reclaims running jobs older than cutoff
func (s *MemoryStore) FailStaleRunning(cutoff time.Time, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	reclaimed := 0
	for _, job := range s.jobs {
		if job.Status != models.JobStatusRunning {
			continue
		}
		stale := (job.StartedAt != nil && job.StartedAt.Before(cutoff)) ||
			(job.StartedAt == nil && job.UpdatedAt.Before(cutoff))
		if !stale {
			continue
		}

		job.Status = models.JobStatusFailed
		job.ErrorMessage = reason
		finished := now
		job.FinishedAt = &finished
		job.UpdatedAt = now
		reclaimed++
	}
	return reclaimed, nil
}

// CreatePack stores a finished pack
func (s *MemoryStore) CreatePack(pack *models.Pack) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *pack
	s.packs[pack.ID] = &c
	return nil
}

// GetPack retrieves a pack by ID
func (s *MemoryStore) GetPack(id string) (*models.Pack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pack, ok := s.packs[id]
	if !ok {
		return nil, ErrPackNotFound
	}
	c := *pack
	return &c, nil
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error {
	return nil
}

// HealthCheck always succeeds for the in-memory store
func (s *MemoryStore) HealthCheck() error {
	return nil
}
