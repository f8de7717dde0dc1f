package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/packforge/packforge/pkg/models"
)

// PostgresStore is a PostgreSQL-based implementation of the data store
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(config Config) (*PostgresStore, error) {
	dsn := normalizePostgresDSN(config.DSN)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen := config.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	maxIdle := config.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if config.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// normalizePostgresDSN accepts the postgres:// shorthand some
// platforms hand out alongside full postgresql:// URLs.
func normalizePostgresDSN(dsn string) string {
	if strings.HasPrefix(dsn, "postgresql://") {
		return "postgres://" + strings.TrimPrefix(dsn, "postgresql://")
	}
	return dsn
}

// initSchema creates the database schema
func (s *PostgresStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id VARCHAR(32) PRIMARY KEY,
		status VARCHAR(16) NOT NULL,
		progress DOUBLE PRECISION NOT NULL DEFAULT 0,
		request JSONB NOT NULL,
		pack_id VARCHAR(32),
		error_message TEXT,
		error_trace TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS packs (
		id VARCHAR(32) PRIMARY KEY,
		job_id VARCHAR(32),
		mode VARCHAR(32) NOT NULL DEFAULT 'niche',
		input_value TEXT NOT NULL DEFAULT '',
		language VARCHAR(16) NOT NULL DEFAULT 'ar',
		tone VARCHAR(32) NOT NULL DEFAULT 'Authority',
		platforms JSONB NOT NULL DEFAULT '[]',
		genes JSONB NOT NULL DEFAULT '{}',
		assets JSONB NOT NULL DEFAULT '{}',
		visual JSONB NOT NULL DEFAULT '{}',
		dominance JSONB NOT NULL DEFAULT '{}',
		sources JSONB NOT NULL DEFAULT '{}',
		pack_markdown TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_packs_job_id ON packs(job_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// CreateJob inserts a new job row
func (s *PostgresStore) CreateJob(job *models.Job) error {
	requestJSON, err := json.Marshal(job.Request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO jobs (id, status, progress, request, pack_id, error_message, error_trace,
		                  created_at, updated_at, started_at, finished_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10, $11)
	`, job.ID, string(job.Status), job.Progress, string(requestJSON), job.PackID,
		job.ErrorMessage, job.ErrorTrace, job.CreatedAt, job.UpdatedAt, job.StartedAt, job.FinishedAt)

	return err
}

// GetJob retrieves a job by ID
func (s *PostgresStore) GetJob(id string) (*models.Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	return job, err
}

// UpdateJobIfStatus performs the conditional update as a single
// UPDATE ... WHERE id = $1 AND status = $2 statement.
func (s *PostgresStore) UpdateJobIfStatus(id string, expected models.JobStatus, upd models.JobUpdate) (bool, error) {
	if err := validateUpdate(expected, upd); err != nil {
		return false, err
	}

	set := []string{"updated_at = $1"}
	args := []any{time.Now().UTC()}

	add := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	addNullable := func(column string, value string) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = NULLIF($%d, '')", column, len(args)))
	}

	if upd.Status != nil {
		add("status", string(*upd.Status))
	}
	if upd.Progress != nil {
		add("progress", models.ClampProgress(*upd.Progress))
	}
	if upd.PackID != nil {
		add("pack_id", *upd.PackID)
	}
	if upd.ErrorMessage != nil {
		addNullable("error_message", *upd.ErrorMessage)
	}
	if upd.ErrorTrace != nil {
		addNullable("error_trace", *upd.ErrorTrace)
	}
	if upd.StartedAt != nil {
		add("started_at", *upd.StartedAt)
	}
	if upd.FinishedAt != nil {
		add("finished_at", *upd.FinishedAt)
	}

	args = append(args, id)
	idPos := len(args)
	args = append(args, string(expected))
	statusPos := len(args)

	query := fmt.Sprintf("UPDATE jobs SET %s WHERE id = $%d AND status = $%d",
		strings.Join(set, ", "), idPos, statusPos)

	result, err := s.db.Exec(query, args...)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		var one int
		if err := s.db.QueryRow(`SELECT 1 FROM jobs WHERE id = $1`, id).Scan(&one); err == sql.ErrNoRows {
			return false, ErrJobNotFound
		} else if err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// ListJobsByStatus returns jobs in a status, oldest first
func (s *PostgresStore) ListJobsByStatus(status models.JobStatus, limit int) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = $1 ORDER BY created_at ASC`
	args := []any{string(status)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CountJobs counts jobs in any of the given statuses
func (s *PostgresStore) CountJobs(statuses ...models.JobStatus) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}

	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = string(st)
	}

	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM jobs WHERE status IN (%s)", strings.Join(placeholders, ", "))
	err := s.db.QueryRow(query, args...).Scan(&count)
	return count, err
}

// FailStaleRunning bulk-fails running jobs older than cutoff
func (s *PostgresStore) FailStaleRunning(cutoff time.Time, reason string) (int, error) {
	now := time.Now().UTC()
	result, err := s.db.Exec(`
		UPDATE jobs
		SET status = $1, error_message = $2, finished_at = $3, updated_at = $4
		WHERE status = $5
		  AND ((started_at IS NOT NULL AND started_at < $6)
		    OR (started_at IS NULL AND updated_at < $7))
	`, string(models.JobStatusFailed), reason, now, now, string(models.JobStatusRunning), cutoff, cutoff)
	if err != nil {
		return 0, err
	}

	rows, err := result.RowsAffected()
	return int(rows), err
}

// CreatePack stores a finished pack
func (s *PostgresStore) CreatePack(pack *models.Pack) error {
	platforms, err := json.Marshal(pack.Platforms)
	if err != nil {
		return fmt.Errorf("failed to marshal platforms: %w", err)
	}
	genes, err := json.Marshal(pack.Genes)
	if err != nil {
		return fmt.Errorf("failed to marshal genes: %w", err)
	}
	assets, err := json.Marshal(pack.Assets)
	if err != nil {
		return fmt.Errorf("failed to marshal assets: %w", err)
	}
	visual, err := json.Marshal(pack.Visual)
	if err != nil {
		return fmt.Errorf("failed to marshal visual: %w", err)
	}
	dominance, err := json.Marshal(pack.Dominance)
	if err != nil {
		return fmt.Errorf("failed to marshal dominance: %w", err)
	}
	sources, err := json.Marshal(pack.Sources)
	if err != nil {
		return fmt.Errorf("failed to marshal sources: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO packs (id, job_id, mode, input_value, language, tone, platforms,
		                   genes, assets, visual, dominance, sources, pack_markdown,
		                   created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, pack.ID, pack.JobID, pack.Mode, pack.InputValue, pack.Language, pack.Tone,
		string(platforms), string(genes), string(assets), string(visual),
		string(dominance), string(sources), pack.PackMarkdown, pack.CreatedAt, pack.UpdatedAt)

	return err
}

// GetPack retrieves a pack by ID
func (s *PostgresStore) GetPack(id string) (*models.Pack, error) {
	var pack models.Pack
	var jobID sql.NullString
	var platforms, genes, assets, visual, dominance, sources []byte

	err := s.db.QueryRow(`
		SELECT id, job_id, mode, input_value, language, tone, platforms,
		       genes, assets, visual, dominance, sources, pack_markdown,
		       created_at, updated_at
		FROM packs WHERE id = $1
	`, id).Scan(&pack.ID, &jobID, &pack.Mode, &pack.InputValue, &pack.Language,
		&pack.Tone, &platforms, &genes, &assets, &visual, &dominance, &sources,
		&pack.PackMarkdown, &pack.CreatedAt, &pack.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrPackNotFound
	}
	if err != nil {
		return nil, err
	}

	if jobID.Valid {
		pack.JobID = jobID.String
	}
	if err := json.Unmarshal(platforms, &pack.Platforms); err != nil {
		return nil, fmt.Errorf("failed to unmarshal platforms: %w", err)
	}
	if err := json.Unmarshal(genes, &pack.Genes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal genes: %w", err)
	}
	if err := json.Unmarshal(assets, &pack.Assets); err != nil {
		return nil, fmt.Errorf("failed to unmarshal assets: %w", err)
	}
	if err := json.Unmarshal(visual, &pack.Visual); err != nil {
		return nil, fmt.Errorf("failed to unmarshal visual: %w", err)
	}
	if err := json.Unmarshal(dominance, &pack.Dominance); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dominance: %w", err)
	}
	if len(sources) > 0 && string(sources) != "null" {
		if err := json.Unmarshal(sources, &pack.Sources); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sources: %w", err)
		}
	}

	return &pack, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// HealthCheck verifies the database is reachable
func (s *PostgresStore) HealthCheck() error {
	return s.db.Ping()
}
