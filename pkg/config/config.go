package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/packforge/packforge/pkg/models"
	"github.com/packforge/packforge/pkg/store"
)

// Settings holds the daemon configuration, loaded from environment
// variables with optional file overrides.
type Settings struct {
	Port        int    `mapstructure:"port"`
	MetricsPort int    `mapstructure:"metrics_port"`
	DatabaseURL string `mapstructure:"database_url"`

	MaxConcurrentJobs   int `mapstructure:"max_concurrent_jobs"`
	MaxQueueBacklog     int `mapstructure:"max_queue_backlog"`
	ModelTimeoutSec     int `mapstructure:"model_timeout_sec"`
	StaleMultiplier     int `mapstructure:"stale_multiplier"`
	StaleFloorSec       int `mapstructure:"stale_floor_sec"`
	MaxRequestsPerIPMin int `mapstructure:"max_requests_per_ip_per_min"`

	WorkerTickToken string        `mapstructure:"worker_tick_token"`
	TickInterval    time.Duration `mapstructure:"tick_interval"`

	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`

	TracingEnabled bool   `mapstructure:"tracing_enabled"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	Environment    string `mapstructure:"environment"`
}

// Load reads configuration from the environment and, when configFile
// is non-empty, from that file. Environment variables win.
func Load(configFile string) (*Settings, error) {
	v := viper.New()

	v.SetDefault("port", 8009)
	v.SetDefault("metrics_port", 9100)
	v.SetDefault("database_url", "")
	v.SetDefault("max_concurrent_jobs", 2)
	v.SetDefault("max_queue_backlog", 60)
	v.SetDefault("model_timeout_sec", 45)
	v.SetDefault("stale_multiplier", 3)
	v.SetDefault("stale_floor_sec", 180)
	v.SetDefault("max_requests_per_ip_per_min", 60)
	v.SetDefault("worker_tick_token", "")
	v.SetDefault("tick_interval", time.Duration(0))
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
	v.SetDefault("tracing_enabled", false)
	v.SetDefault("otlp_endpoint", "localhost:4318")
	v.SetDefault("environment", "production")

	v.SetEnvPrefix("PACKFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Raw names kept for compatibility with existing deployments.
	for key, env := range map[string]string{
		"port":                        "PORT",
		"database_url":                "DATABASE_URL",
		"max_concurrent_jobs":         "MAX_CONCURRENT_JOBS",
		"max_queue_backlog":           "MAX_QUEUE_BACKLOG",
		"model_timeout_sec":           "MODEL_TIMEOUT_SEC",
		"stale_multiplier":            "STALE_MULTIPLIER",
		"stale_floor_sec":             "STALE_FLOOR_SEC",
		"max_requests_per_ip_per_min": "MAX_REQUESTS_PER_IP_PER_MIN",
		"worker_tick_token":           "WORKER_TICK_TOKEN",
		"log_level":                   "LOG_LEVEL",
		"log_json":                    "LOG_JSON",
		"tick_interval":               "TICK_INTERVAL",
		"tracing_enabled":             "TRACING_ENABLED",
		"otlp_endpoint":               "OTLP_ENDPOINT",
	} {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) validate() error {
	if s.MaxConcurrentJobs < 1 {
		return fmt.Errorf("max_concurrent_jobs must be at least 1, got %d", s.MaxConcurrentJobs)
	}
	if s.MaxQueueBacklog < 1 {
		return fmt.Errorf("max_queue_backlog must be at least 1, got %d", s.MaxQueueBacklog)
	}
	if s.ModelTimeoutSec < 1 {
		return fmt.Errorf("model_timeout_sec must be at least 1, got %d", s.ModelTimeoutSec)
	}
	return nil
}

// StalePolicy derives the reclaim policy from the timeout settings.
func (s *Settings) StalePolicy() models.StalePolicy {
	return models.StalePolicy{
		Floor:        time.Duration(s.StaleFloorSec) * time.Second,
		Multiplier:   s.StaleMultiplier,
		ModelTimeout: time.Duration(s.ModelTimeoutSec) * time.Second,
	}
}

// StoreConfig maps DATABASE_URL onto a store backend. Empty means the
// in-memory store, sqlite: URLs or bare .db paths mean SQLite, and
// postgres:// URLs mean PostgreSQL.
func (s *Settings) StoreConfig() store.Config {
	url := strings.TrimSpace(s.DatabaseURL)
	switch {
	case url == "":
		return store.Config{Type: "memory"}
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return store.Config{
			Type:            "postgres",
			DSN:             url,
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 1 * time.Minute,
		}
	case strings.HasPrefix(url, "sqlite:"):
		return store.Config{Type: "sqlite", DSN: strings.TrimPrefix(url, "sqlite:")}
	default:
		return store.Config{Type: "sqlite", DSN: url}
	}
}
