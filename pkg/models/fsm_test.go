package models

import (
	"testing"
	"time"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    JobStatus
		to      JobStatus
		wantErr bool
	}{
		{"queued to running", JobStatusQueued, JobStatusRunning, false},
		{"running to done", JobStatusRunning, JobStatusDone, false},
		{"running to failed", JobStatusRunning, JobStatusFailed, false},
		{"queued to done skips running", JobStatusQueued, JobStatusDone, true},
		{"queued to failed skips running", JobStatusQueued, JobStatusFailed, true},
		{"done is terminal", JobStatusDone, JobStatusRunning, true},
		{"failed is terminal", JobStatusFailed, JobStatusQueued, true},
		{"failed cannot resurrect", JobStatusFailed, JobStatusRunning, true},
		{"unknown state", JobStatus("paused"), JobStatusRunning, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTransition(%s, %s) error = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
			}
		})
	}
}

func TestIsTerminalState(t *testing.T) {
	if !IsTerminalState(JobStatusDone) || !IsTerminalState(JobStatusFailed) {
		t.Error("done and failed must be terminal")
	}
	if IsTerminalState(JobStatusQueued) || IsTerminalState(JobStatusRunning) {
		t.Error("queued and running must not be terminal")
	}
}

func TestStalePolicyThreshold(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		want    time.Duration
	}{
		{"default timeout hits floor", 45 * time.Second, 180 * time.Second},
		{"exactly at floor", 60 * time.Second, 180 * time.Second},
		{"above floor", 61 * time.Second, 183 * time.Second},
		{"large timeout", 120 * time.Second, 360 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultStalePolicy()
			p.ModelTimeout = tt.timeout
			if got := p.Threshold(); got != tt.want {
				t.Errorf("Threshold() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStalePolicyReason(t *testing.T) {
	p := DefaultStalePolicy()
	if got := p.Reason(); got != "stale_timeout>180s" {
		t.Errorf("Reason() = %q, want %q", got, "stale_timeout>180s")
	}
}

func TestNewJob(t *testing.T) {
	job := NewJob(BuildRequest{Input: "saas growth", Language: "en", Tone: "Authority"})

	if job.Status != JobStatusQueued {
		t.Errorf("new job status = %s, want queued", job.Status)
	}
	if job.Progress != 0.0 {
		t.Errorf("new job progress = %f, want 0", job.Progress)
	}
	if len(job.ID) != 32 {
		t.Errorf("job id length = %d, want 32 hex chars", len(job.ID))
	}
	if job.StartedAt != nil || job.FinishedAt != nil {
		t.Error("new job must not carry started_at/finished_at")
	}
}

func TestClampProgress(t *testing.T) {
	if ClampProgress(-0.5) != 0 {
		t.Error("negative progress must clamp to 0")
	}
	if ClampProgress(1.5) != 1 {
		t.Error("progress above 1 must clamp to 1")
	}
	if ClampProgress(0.42) != 0.42 {
		t.Error("in-range progress must pass through")
	}
}
