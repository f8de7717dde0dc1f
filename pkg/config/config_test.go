package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8009, s.Port)
	assert.Equal(t, 2, s.MaxConcurrentJobs)
	assert.Equal(t, 60, s.MaxQueueBacklog)
	assert.Equal(t, 45, s.ModelTimeoutSec)
	assert.Equal(t, 60, s.MaxRequestsPerIPMin)
	assert.Equal(t, "info", s.LogLevel)
	assert.False(t, s.LogJSON)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_JOBS", "8")
	t.Setenv("DATABASE_URL", "sqlite:/tmp/packforge.db")
	t.Setenv("WORKER_TICK_TOKEN", "secret")

	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8, s.MaxConcurrentJobs)
	assert.Equal(t, "sqlite:/tmp/packforge.db", s.DatabaseURL)
	assert.Equal(t, "secret", s.WorkerTickToken)
}

func TestPrefixedEnvOverrides(t *testing.T) {
	t.Setenv("PACKFORGE_PORT", "9009")
	t.Setenv("PACKFORGE_TICK_INTERVAL", "30s")

	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9009, s.Port)
	assert.Equal(t, 30*time.Second, s.TickInterval)
}

func TestValidation(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_JOBS", "0")

	_, err := Load("")
	assert.Error(t, err)
}

func TestStalePolicy(t *testing.T) {
	t.Setenv("MODEL_TIMEOUT_SEC", "120")

	s, err := Load("")
	require.NoError(t, err)

	policy := s.StalePolicy()
	assert.Equal(t, 360*time.Second, policy.Threshold())
}

func TestStaleKnobsBoundUnprefixed(t *testing.T) {
	t.Setenv("STALE_FLOOR_SEC", "300")
	t.Setenv("STALE_MULTIPLIER", "2")
	t.Setenv("PORT", "8888")

	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 300, s.StaleFloorSec)
	assert.Equal(t, 2, s.StaleMultiplier)
	assert.Equal(t, 8888, s.Port)
	// floor 300s beats 45s*2
	assert.Equal(t, 300*time.Second, s.StalePolicy().Threshold())
}

func TestStoreConfig(t *testing.T) {
	tests := []struct {
		url      string
		wantType string
		wantDSN  string
	}{
		{"", "memory", ""},
		{"postgres://user:pass@db/packforge", "postgres", "postgres://user:pass@db/packforge"},
		{"postgresql://user:pass@db/packforge", "postgres", "postgresql://user:pass@db/packforge"},
		{"sqlite:/var/lib/packforge/jobs.db", "sqlite", "/var/lib/packforge/jobs.db"},
		{"dominator.db", "sqlite", "dominator.db"},
	}

	for _, tt := range tests {
		s := &Settings{DatabaseURL: tt.url}
		cfg := s.StoreConfig()
		assert.Equal(t, tt.wantType, cfg.Type, "url %q", tt.url)
		assert.Equal(t, tt.wantDSN, cfg.DSN, "url %q", tt.url)
	}
}
