package pack

import (
	"context"
	"fmt"
	"time"

	"github.com/packforge/packforge/pkg/logging"
	"github.com/packforge/packforge/pkg/models"
	"github.com/packforge/packforge/pkg/retry"
	"github.com/packforge/packforge/pkg/store"
)

// Engine turns a claimed job into a persisted pack. It is the work
// function the dispatcher runs; all terminal writebacks it performs
// are conditional on the job still being running, so a stale-reclaim
// that got there first always wins.
type Engine struct {
	store store.Store
	log   *logging.Logger
	retry retry.Config
}

// NewEngine creates a new pack engine
func NewEngine(s store.Store, log *logging.Logger) *Engine {
	return &Engine{
		store: s,
		log:   log,
		retry: retry.DefaultConfig(),
	}
}

// Process builds the pack for one claimed job and finalizes it. The
// caller (the dispatcher) handles failure writebacks for any error
// returned here.
func (e *Engine) Process(ctx context.Context, jobID string) error {
	job, err := e.store.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	// Advance the progress milestone. If the job is no longer
	// running it has been reclaimed; abandon the build.
	ok, err := e.store.UpdateJobIfStatus(jobID, models.JobStatusRunning, models.ProgressUpdate(0.15))
	if err != nil {
		return fmt.Errorf("failed to update progress for job %s: %w", jobID, err)
	}
	if !ok {
		e.log.Warn("Job no longer running, abandoning build", map[string]interface{}{"job_id": jobID})
		return nil
	}

	pack, err := BuildPack(jobID, job.Request)
	if err != nil {
		return err
	}

	if err := retry.Do(ctx, e.retry, func() error {
		return e.store.CreatePack(pack)
	}); err != nil {
		return fmt.Errorf("failed to persist pack for job %s: %w", jobID, err)
	}

	ok, err = e.store.UpdateJobIfStatus(jobID, models.JobStatusRunning, models.DoneUpdate(pack.ID, time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("failed to finalize job %s: %w", jobID, err)
	}
	if !ok {
		// Reclaimed mid-build: the pack row stays orphaned, the
		// job keeps its failed verdict.
		e.log.Warn("Job finalized elsewhere, pack left unlinked", map[string]interface{}{
			"job_id":  jobID,
			"pack_id": pack.ID,
		})
		return nil
	}

	e.log.Info("Pack built", map[string]interface{}{
		"job_id":  jobID,
		"pack_id": pack.ID,
		"score":   pack.Dominance.Score,
	})
	return nil
}
