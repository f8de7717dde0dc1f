package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packforge/packforge/pkg/models"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_JobRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)

	job := models.NewJob(models.BuildRequest{
		Mode:      "niche",
		Input:     "ecommerce برندينج",
		Language:  "ar",
		Tone:      "Authority",
		Platforms: []string{"TikTok", "X", "LinkedIn"},
	})
	require.NoError(t, s.CreateJob(job))

	got, err := s.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, got.Status)
	assert.Equal(t, job.Request.Input, got.Request.Input)
	assert.Equal(t, []string{"TikTok", "X", "LinkedIn"}, got.Request.Platforms)
	assert.Nil(t, got.StartedAt)

	_, err = s.GetJob("missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestSQLiteStore_ConditionalUpdate(t *testing.T) {
	s := newTestSQLiteStore(t)

	job := models.NewJob(models.BuildRequest{Input: "saas"})
	require.NoError(t, s.CreateJob(job))

	now := time.Now().UTC()
	ok, err := s.UpdateJobIfStatus(job.ID, models.JobStatusQueued, models.ClaimUpdate(now))
	require.NoError(t, err)
	assert.True(t, ok, "first claim wins")

	ok, err = s.UpdateJobIfStatus(job.ID, models.JobStatusQueued, models.ClaimUpdate(now))
	require.NoError(t, err)
	assert.False(t, ok, "second claim loses the row guard")

	ok, err = s.UpdateJobIfStatus(job.ID, models.JobStatusRunning, models.DoneUpdate("pack9", now))
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDone, got.Status)
	assert.Equal(t, "pack9", got.PackID)
	assert.Equal(t, 1.0, got.Progress)
	assert.NotNil(t, got.FinishedAt)

	// Terminal row is never touched again
	ok, err = s.UpdateJobIfStatus(job.ID, models.JobStatusRunning, models.FailUpdate("late", "", now))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.UpdateJobIfStatus("missing", models.JobStatusQueued, models.ClaimUpdate(now))
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestSQLiteStore_ListAndCount(t *testing.T) {
	s := newTestSQLiteStore(t)

	base := time.Now().UTC()
	for i, id := range []string{"j1", "j2", "j3"} {
		job := models.NewJob(models.BuildRequest{Input: "n"})
		job.ID = id
		job.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, s.CreateJob(job))
	}

	jobs, err := s.ListJobsByStatus(models.JobStatusQueued, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "j1", jobs[0].ID)
	assert.Equal(t, "j2", jobs[1].ID)

	count, err := s.CountJobs(models.JobStatusQueued, models.JobStatusRunning)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestSQLiteStore_FailStaleRunning(t *testing.T) {
	s := newTestSQLiteStore(t)

	now := time.Now().UTC()
	job := models.NewJob(models.BuildRequest{Input: "n"})
	require.NoError(t, s.CreateJob(job))

	ok, err := s.UpdateJobIfStatus(job.ID, models.JobStatusQueued, models.ClaimUpdate(now.Add(-10*time.Minute)))
	require.NoError(t, err)
	require.True(t, ok)

	reclaimed, err := s.FailStaleRunning(now.Add(-180*time.Second), "stale_timeout>180s")
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	got, err := s.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, "stale_timeout>180s", got.ErrorMessage)
}

func TestSQLiteStore_PackRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)

	pack := &models.Pack{
		ID:         models.NewID(),
		JobID:      "job1",
		Mode:       "niche",
		InputValue: "fitness coaching",
		Language:   "en",
		Tone:       "Authority",
		Platforms:  []string{"LinkedIn", "X"},
		Genes: models.Genes{
			Niche:    "fitness coaching",
			Keywords: []string{"fitness", "coaching"},
		},
		Assets:       map[string]string{"linkedin": "post", "x": "tweet"},
		Visual:       models.Visual{Prompt: "cinematic photo"},
		Dominance:    models.Dominance{Score: 75, Risk: "low"},
		PackMarkdown: "# Dominance Pack",
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	require.NoError(t, s.CreatePack(pack))

	got, err := s.GetPack(pack.ID)
	require.NoError(t, err)
	assert.Equal(t, pack.InputValue, got.InputValue)
	assert.Equal(t, pack.Assets, got.Assets)
	assert.Equal(t, 75, got.Dominance.Score)
	assert.Equal(t, []string{"fitness", "coaching"}, got.Genes.Keywords)

	_, err = s.GetPack("missing")
	assert.ErrorIs(t, err, ErrPackNotFound)
}
