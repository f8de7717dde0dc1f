package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/packforge/packforge/pkg/logging"
	"github.com/packforge/packforge/pkg/models"
	"github.com/packforge/packforge/pkg/store"
)

// fakeRunner stands in for the pack engine: it can block, succeed
// (marking the job done like the real engine), fail or panic.
type fakeRunner struct {
	store   store.Store
	block   chan struct{} // nil means run immediately
	err     error
	panicky bool
}

func (r *fakeRunner) Process(ctx context.Context, jobID string) error {
	if r.block != nil {
		<-r.block
	}
	if r.panicky {
		panic("engine exploded")
	}
	if r.err != nil {
		return r.err
	}
	_, err := r.store.UpdateJobIfStatus(jobID, models.JobStatusRunning,
		models.DoneUpdate("pack-"+jobID, time.Now().UTC()))
	return err
}

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.ERROR, false)
}

func queueJobs(t *testing.T, s store.Store, n int) []string {
	t.Helper()
	base := time.Now().UTC()
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		job := models.NewJob(models.BuildRequest{Input: "niche"})
		job.CreatedAt = base.Add(time.Duration(i) * time.Millisecond)
		if err := s.CreateJob(job); err != nil {
			t.Fatalf("CreateJob failed: %v", err)
		}
		ids[i] = job.ID
	}
	return ids
}

func waitForStatus(t *testing.T, s store.Store, id string, want models.JobStatus) *models.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := s.GetJob(id)
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		if job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	job, _ := s.GetJob(id)
	t.Fatalf("job %s stuck in %s, want %s", id, job.Status, want)
	return nil
}

func TestTickRespectsConcurrencyCap(t *testing.T) {
	st := store.NewMemoryStore()
	runner := &fakeRunner{store: st, block: make(chan struct{})}
	sched := New(st, runner, Config{MaxConcurrent: 2, MaxBacklog: 60, Stale: models.DefaultStalePolicy()}, testLogger())

	queueJobs(t, st, 5)

	res, err := sched.Tick(context.Background(), 10)
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if res.Started != 2 {
		t.Errorf("started = %d, want 2", res.Started)
	}
	if res.Running != 2 {
		t.Errorf("running = %d, want 2", res.Running)
	}

	// Saturated: a second tick admits nothing
	res, err = sched.Tick(context.Background(), 10)
	if err != nil {
		t.Fatalf("second Tick failed: %v", err)
	}
	if res.Started != 0 {
		t.Errorf("saturated tick started = %d, want 0", res.Started)
	}

	queued, _ := st.CountJobs(models.JobStatusQueued)
	if queued != 3 {
		t.Errorf("queued = %d, want 3", queued)
	}

	close(runner.block)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sched.Drain(ctx); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	running, _ := st.CountJobs(models.JobStatusRunning)
	if running != 0 {
		t.Errorf("running after drain = %d, want 0", running)
	}
}

func TestTickHonorsBurst(t *testing.T) {
	st := store.NewMemoryStore()
	runner := &fakeRunner{store: st, block: make(chan struct{})}
	defer close(runner.block)
	sched := New(st, runner, Config{MaxConcurrent: 5, MaxBacklog: 60, Stale: models.DefaultStalePolicy()}, testLogger())

	queueJobs(t, st, 4)

	res, err := sched.Tick(context.Background(), 1)
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if res.Started != 1 {
		t.Errorf("started = %d, want burst-limited 1", res.Started)
	}
}

func TestTickAdmitsOldestFirst(t *testing.T) {
	st := store.NewMemoryStore()
	runner := &fakeRunner{store: st, block: make(chan struct{})}
	defer close(runner.block)
	sched := New(st, runner, Config{MaxConcurrent: 2, MaxBacklog: 60, Stale: models.DefaultStalePolicy()}, testLogger())

	ids := queueJobs(t, st, 4)

	if _, err := sched.Tick(context.Background(), 2); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	for i, id := range ids {
		job, _ := st.GetJob(id)
		wantRunning := i < 2
		if wantRunning && job.Status != models.JobStatusRunning {
			t.Errorf("job %d status = %s, want running", i, job.Status)
		}
		if !wantRunning && job.Status != models.JobStatusQueued {
			t.Errorf("job %d status = %s, want still queued", i, job.Status)
		}
	}
}

func TestTickBacklogGuard(t *testing.T) {
	st := store.NewMemoryStore()
	runner := &fakeRunner{store: st}
	sched := New(st, runner, Config{MaxConcurrent: 2, MaxBacklog: 3, Stale: models.DefaultStalePolicy()}, testLogger())

	queueJobs(t, st, 5)

	res, err := sched.Tick(context.Background(), 2)
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if res.Started != 0 {
		t.Errorf("started = %d, want 0 under backlog", res.Started)
	}
	if res.Queued != 5 || res.Backlog != 3 {
		t.Errorf("queued/backlog = %d/%d, want 5/3", res.Queued, res.Backlog)
	}
}

func TestTickReclaimsStaleThenAdmits(t *testing.T) {
	st := store.NewMemoryStore()
	runner := &fakeRunner{store: st, block: make(chan struct{})}
	defer close(runner.block)
	sched := New(st, runner, Config{MaxConcurrent: 1, MaxBacklog: 60, Stale: models.DefaultStalePolicy()}, testLogger())

	// Hung job started well past the threshold
	hung := models.NewJob(models.BuildRequest{Input: "niche"})
	if err := st.CreateJob(hung); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	staleStart := time.Now().UTC().Add(-10 * time.Minute)
	if ok, _ := st.UpdateJobIfStatus(hung.ID, models.JobStatusQueued, models.ClaimUpdate(staleStart)); !ok {
		t.Fatal("claim failed")
	}

	waiting := queueJobs(t, st, 1)

	res, err := sched.Tick(context.Background(), 2)
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if res.Reclaimed != 1 {
		t.Errorf("reclaimed = %d, want 1", res.Reclaimed)
	}
	if res.Started != 1 {
		t.Errorf("started = %d, want 1 (slot freed by reclaim)", res.Started)
	}

	reclaimed, _ := st.GetJob(hung.ID)
	if reclaimed.Status != models.JobStatusFailed {
		t.Errorf("hung job status = %s, want failed", reclaimed.Status)
	}
	if reclaimed.ErrorMessage != "stale_timeout>180s" {
		t.Errorf("hung job error = %q", reclaimed.ErrorMessage)
	}

	admitted, _ := st.GetJob(waiting[0])
	if admitted.Status != models.JobStatusRunning {
		t.Errorf("waiting job status = %s, want running", admitted.Status)
	}
}

func TestDispatchErrorWritesFailure(t *testing.T) {
	st := store.NewMemoryStore()
	runner := &fakeRunner{store: st, err: errors.New("generation blew a fuse")}
	sched := New(st, runner, DefaultConfig(), testLogger())

	ids := queueJobs(t, st, 1)

	if _, err := sched.Tick(context.Background(), 1); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	job := waitForStatus(t, st, ids[0], models.JobStatusFailed)
	if job.ErrorMessage != "generation blew a fuse" {
		t.Errorf("error message = %q", job.ErrorMessage)
	}
	if job.FinishedAt == nil {
		t.Error("failed job must have finished_at")
	}
	if job.Progress != 0 {
		t.Errorf("failed job progress = %f, want reset to 0", job.Progress)
	}
}

func TestDispatchPanicWritesFailure(t *testing.T) {
	st := store.NewMemoryStore()
	runner := &fakeRunner{store: st, panicky: true}
	sched := New(st, runner, DefaultConfig(), testLogger())

	ids := queueJobs(t, st, 1)

	if _, err := sched.Tick(context.Background(), 1); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	job := waitForStatus(t, st, ids[0], models.JobStatusFailed)
	if job.ErrorMessage != "panic: engine exploded" {
		t.Errorf("error message = %q", job.ErrorMessage)
	}
	if job.ErrorTrace == "" {
		t.Error("panic must capture a stack trace")
	}
}

func TestSuccessfulDispatchCompletesJob(t *testing.T) {
	st := store.NewMemoryStore()
	runner := &fakeRunner{store: st}
	sched := New(st, runner, DefaultConfig(), testLogger())

	ids := queueJobs(t, st, 1)

	if _, err := sched.Tick(context.Background(), 1); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	job := waitForStatus(t, st, ids[0], models.JobStatusDone)
	if job.PackID == "" {
		t.Error("done job must link its pack")
	}
	if job.Progress != 1.0 {
		t.Errorf("progress = %f, want 1.0", job.Progress)
	}
}
