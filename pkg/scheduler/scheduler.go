package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/packforge/packforge/pkg/logging"
	"github.com/packforge/packforge/pkg/models"
	"github.com/packforge/packforge/pkg/retry"
	"github.com/packforge/packforge/pkg/store"
)

// Runner executes the work for one claimed job. Terminal writebacks
// for returned errors are the scheduler's responsibility.
type Runner interface {
	Process(ctx context.Context, jobID string) error
}

// MetricsRecorder is an interface for recording scheduler metrics
type MetricsRecorder interface {
	RecordTick(result string)
	RecordDispatchFailure(kind string)
}

// Config holds scheduler tuning
type Config struct {
	MaxConcurrent int                // Cap on simultaneously running jobs
	MaxBacklog    int                // Queue depth above which admission pauses
	Stale         models.StalePolicy // When running jobs are presumed dead
}

// DefaultConfig returns the stock scheduler configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 2,
		MaxBacklog:    60,
		Stale:         models.DefaultStalePolicy(),
	}
}

// TickResult reports what one scheduler pass did
type TickResult struct {
	Reclaimed int `json:"reclaimed"`
	Started   int `json:"started"`
	Running   int `json:"running"`
	Queued    int `json:"queued,omitempty"`
	Backlog   int `json:"backlog_cap,omitempty"`
}

// Scheduler admits queued jobs under the concurrency cap. It holds
// no state about job ownership: every claim and finalize goes
// through the store's conditional update, so concurrent ticks from
// multiple processes stay safe.
type Scheduler struct {
	store   store.Store
	runner  Runner
	cfg     Config
	log     *logging.Logger
	metrics MetricsRecorder
	retry   retry.Config
	wg      sync.WaitGroup
}

// New creates a new scheduler
func New(s store.Store, runner Runner, cfg Config, log *logging.Logger) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	if cfg.MaxBacklog <= 0 {
		cfg.MaxBacklog = 60
	}
	return &Scheduler{
		store:  s,
		runner: runner,
		cfg:    cfg,
		log:    log,
		retry:  retry.DefaultConfig(),
	}
}

// SetMetricsRecorder sets the metrics recorder for the scheduler
func (s *Scheduler) SetMetricsRecorder(recorder MetricsRecorder) {
	s.metrics = recorder
}

// Reclaim bulk-fails running jobs older than the stale threshold.
func (s *Scheduler) Reclaim() (int, error) {
	cutoff := time.Now().UTC().Add(-s.cfg.Stale.Threshold())
	reclaimed, err := s.store.FailStaleRunning(cutoff, s.cfg.Stale.Reason())
	if err != nil {
		return 0, fmt.Errorf("stale reclaim failed: %w", err)
	}
	if reclaimed > 0 {
		s.log.Warn("Reclaimed stale running jobs", map[string]interface{}{
			"count":     reclaimed,
			"threshold": s.cfg.Stale.Threshold().String(),
		})
	}
	return reclaimed, nil
}

// Tick runs one scheduling pass: reclaim stale jobs, compute free
// slots, admit up to maxToStart queued jobs oldest-first, dispatch
// each claimed job on its own goroutine. Ticks are idempotent and
// safe to fire from any trigger at any rate.
func (s *Scheduler) Tick(ctx context.Context, maxToStart int) (TickResult, error) {
	var res TickResult

	reclaimed, err := s.Reclaim()
	if err != nil {
		s.recordTick("error")
		return res, err
	}
	res.Reclaimed = reclaimed

	running, err := s.store.CountJobs(models.JobStatusRunning)
	if err != nil {
		s.recordTick("error")
		return res, fmt.Errorf("failed to count running jobs: %w", err)
	}
	res.Running = running

	available := s.cfg.MaxConcurrent - running
	if available < 0 {
		available = 0
	}
	if maxToStart < 1 {
		maxToStart = 1
	}
	if available > maxToStart {
		available = maxToStart
	}
	if available == 0 {
		s.recordTick("saturated")
		return res, nil
	}

	queued, err := s.store.CountJobs(models.JobStatusQueued)
	if err != nil {
		s.recordTick("error")
		return res, fmt.Errorf("failed to count queued jobs: %w", err)
	}
	if queued > s.cfg.MaxBacklog {
		// Overload: stop admitting and let the queue drain via
		// rejected submissions.
		res.Queued = queued
		res.Backlog = s.cfg.MaxBacklog
		s.recordTick("backlog")
		return res, nil
	}

	candidates, err := s.store.ListJobsByStatus(models.JobStatusQueued, available)
	if err != nil {
		s.recordTick("error")
		return res, fmt.Errorf("failed to list queued jobs: %w", err)
	}

	for _, job := range candidates {
		ok, err := s.store.UpdateJobIfStatus(job.ID, models.JobStatusQueued, models.ClaimUpdate(time.Now().UTC()))
		if err != nil {
			s.log.Error("Claim failed", map[string]interface{}{"job_id": job.ID, "error": err.Error()})
			continue
		}
		if !ok {
			// Another tick got there first; not an error.
			continue
		}
		res.Started++
		s.dispatch(job.ID)
	}

	running, err = s.store.CountJobs(models.JobStatusRunning)
	if err == nil {
		res.Running = running
	}

	s.recordTick("ok")
	return res, nil
}

// dispatch runs one claimed job on a detached goroutine. Errors and
// panics become a conditional failed writeback; if even that fails,
// the stale reclaimer picks the job up later.
func (s *Scheduler) dispatch(jobID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.recordDispatchFailure("panic")
				s.failJob(jobID, fmt.Sprintf("panic: %v", r), string(debug.Stack()))
			}
		}()

		if err := s.runner.Process(context.Background(), jobID); err != nil {
			s.recordDispatchFailure("error")
			s.failJob(jobID, err.Error(), fmt.Sprintf("%+v", err))
		}
	}()
}

// failJob writes the failed verdict, conditional on the job still
// being running so a reclaim that won the race is left alone.
func (s *Scheduler) failJob(jobID, message, trace string) {
	err := retry.Do(context.Background(), s.retry, func() error {
		_, err := s.store.UpdateJobIfStatus(jobID, models.JobStatusRunning,
			models.FailUpdate(message, trace, time.Now().UTC()))
		return err
	})
	if err != nil {
		s.log.Error("Failure writeback lost, job left to the reclaimer", map[string]interface{}{
			"job_id": jobID,
			"error":  err.Error(),
		})
		return
	}
	s.log.Info("Job failed", map[string]interface{}{"job_id": jobID, "error": message})
}

// Drain waits for in-flight dispatches to finish or ctx to expire.
func (s *Scheduler) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain timed out: %w", ctx.Err())
	}
}

// RunTicker fires Tick on a fixed interval until ctx is cancelled.
// Optional: polling endpoints already kick the scheduler, the timer
// just covers idle periods.
func (s *Scheduler) RunTicker(ctx context.Context, interval time.Duration, burst int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx, burst); err != nil {
				s.log.Error("Scheduled tick failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

func (s *Scheduler) recordTick(result string) {
	if s.metrics != nil {
		s.metrics.RecordTick(result)
	}
}

func (s *Scheduler) recordDispatchFailure(kind string) {
	if s.metrics != nil {
		s.metrics.RecordDispatchFailure(kind)
	}
}
