package models

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Job represents one pack build request moving through the queue.
// A job is created as queued and ends as done or failed; terminal
// rows are never mutated again. Retrying means creating a new job.
type Job struct {
	ID           string       `json:"id"`
	Status       JobStatus    `json:"status"`
	Progress     float64      `json:"progress"`
	Request      BuildRequest `json:"request"`
	PackID       string       `json:"pack_id,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	ErrorTrace   string       `json:"error_trace,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty"`
}

// BuildRequest is the immutable input captured at submission time.
type BuildRequest struct {
	Mode      string   `json:"mode"`
	Input     string   `json:"input"`
	Language  string   `json:"language"`
	Tone      string   `json:"tone"`
	Platforms []string `json:"platforms"`
}

// NewJob creates a queued job with a fresh 32-char hex id.
func NewJob(req BuildRequest) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        NewID(),
		Status:    JobStatusQueued,
		Progress:  0.0,
		Request:   req,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewID returns a random v4 UUID rendered as 32 hex characters.
func NewID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// JobUpdate is a partial update applied through the store's
// conditional update. Nil fields are left untouched; UpdatedAt is
// always bumped by the store.
type JobUpdate struct {
	Status       *JobStatus
	Progress     *float64
	PackID       *string
	ErrorMessage *string
	ErrorTrace   *string
	StartedAt    *time.Time
	FinishedAt   *time.Time
}

// ClaimUpdate moves a queued job to running with the initial
// progress milestone.
func ClaimUpdate(now time.Time) JobUpdate {
	st := JobStatusRunning
	p := 0.05
	return JobUpdate{Status: &st, Progress: &p, StartedAt: &now}
}

// ProgressUpdate advances the advisory progress value.
func ProgressUpdate(progress float64) JobUpdate {
	return JobUpdate{Progress: &progress}
}

// DoneUpdate finalizes a successful job and links its pack.
func DoneUpdate(packID string, now time.Time) JobUpdate {
	st := JobStatusDone
	p := 1.0
	empty := ""
	return JobUpdate{
		Status:       &st,
		Progress:     &p,
		PackID:       &packID,
		ErrorMessage: &empty,
		ErrorTrace:   &empty,
		FinishedAt:   &now,
	}
}

// FailUpdate finalizes a failed job with its error details and resets
// the advisory progress.
func FailUpdate(message, trace string, now time.Time) JobUpdate {
	st := JobStatusFailed
	p := 0.0
	return JobUpdate{
		Status:       &st,
		Progress:     &p,
		ErrorMessage: &message,
		ErrorTrace:   &trace,
		FinishedAt:   &now,
	}
}

// ClampProgress keeps progress inside [0, 1].
func ClampProgress(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
