package models

import (
	"fmt"
	"time"
)

// JobStatus represents the status of a job
type JobStatus string

const (
	JobStatusQueued  JobStatus = "queued"  // Accepted, waiting for admission
	JobStatusRunning JobStatus = "running" // Claimed by the dispatcher
	JobStatusDone    JobStatus = "done"    // Finished successfully, pack linked
	JobStatusFailed  JobStatus = "failed"  // Finished with an error or reclaimed as stale
)

// validTransitions maps from-state to allowed to-states
var validTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusQueued: {
		JobStatusRunning: true, // Queued → Running (scheduler claims job)
	},
	JobStatusRunning: {
		JobStatusDone:   true, // Running → Done (build succeeded)
		JobStatusFailed: true, // Running → Failed (build error, panic or stale reclaim)
	},
	// Terminal states (no transitions allowed)
	JobStatusDone:   {},
	JobStatusFailed: {},
}

// IsValid returns true for a known job status
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusDone, JobStatusFailed:
		return true
	}
	return false
}

// ValidateTransition checks if a state transition is valid
func ValidateTransition(from, to JobStatus) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminalState returns true if the state is terminal (no further transitions)
func IsTerminalState(state JobStatus) bool {
	return state == JobStatusDone || state == JobStatusFailed
}

// IsActiveState returns true if the job occupies a concurrency slot
func IsActiveState(state JobStatus) bool {
	return state == JobStatusRunning
}

// StalePolicy controls when a running job is presumed dead and
// reclaimed as failed.
type StalePolicy struct {
	Floor        time.Duration // Minimum threshold regardless of model timeout
	Multiplier   int           // Safety factor over the model timeout
	ModelTimeout time.Duration // Expected worst-case single build duration
}

// DefaultStalePolicy returns the stock reclamation policy.
func DefaultStalePolicy() StalePolicy {
	return StalePolicy{
		Floor:        180 * time.Second,
		Multiplier:   3,
		ModelTimeout: 45 * time.Second,
	}
}

// Threshold returns the age after which a running job is stale:
// max(Floor, ModelTimeout * Multiplier).
func (p StalePolicy) Threshold() time.Duration {
	t := p.ModelTimeout * time.Duration(p.Multiplier)
	if t < p.Floor {
		return p.Floor
	}
	return t
}

// Reason renders the error message written into reclaimed jobs,
// e.g. "stale_timeout>180s".
func (p StalePolicy) Reason() string {
	return fmt.Sprintf("stale_timeout>%ds", int(p.Threshold().Seconds()))
}
