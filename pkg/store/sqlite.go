package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/packforge/packforge/pkg/models"
)

// SQLiteStore is a SQLite-based implementation of the data store
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Configure SQLite connection string with parameters for concurrent access
	// - _journal_mode=WAL: Enable Write-Ahead Logging for better concurrency
	// - _busy_timeout=10000: Wait up to 10 seconds when database is locked
	// - _synchronous=NORMAL: Balance between safety and performance
	// - _cache_size=-8000: 8MB memory cache for better performance
	// - _txlock=immediate: Acquire write lock at transaction start to reduce conflicts
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_cache_size=-8000&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer for SQLite to avoid lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the database schema
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		progress REAL NOT NULL DEFAULT 0,
		request TEXT NOT NULL,
		pack_id TEXT,
		error_message TEXT,
		error_trace TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		started_at DATETIME,
		finished_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS packs (
		id TEXT PRIMARY KEY,
		job_id TEXT,
		mode TEXT NOT NULL DEFAULT 'niche',
		input_value TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT 'ar',
		tone TEXT NOT NULL DEFAULT 'Authority',
		platforms TEXT NOT NULL DEFAULT '[]',
		genes TEXT NOT NULL DEFAULT '{}',
		assets TEXT NOT NULL DEFAULT '{}',
		visual TEXT NOT NULL DEFAULT '{}',
		dominance TEXT NOT NULL DEFAULT '{}',
		sources TEXT NOT NULL DEFAULT '{}',
		pack_markdown TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_packs_job_id ON packs(job_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

const jobColumns = `id, status, progress, request, pack_id, error_message, error_trace,
	       created_at, updated_at, started_at, finished_at`

func scanJob(row interface{ Scan(...any) error }) (*models.Job, error) {
	var job models.Job
	var status, requestJSON string
	var packID, errMsg, errTrace sql.NullString
	var startedAt, finishedAt sql.NullTime

	err := row.Scan(&job.ID, &status, &job.Progress, &requestJSON, &packID, &errMsg,
		&errTrace, &job.CreatedAt, &job.UpdatedAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	job.Status = models.JobStatus(status)
	if err := json.Unmarshal([]byte(requestJSON), &job.Request); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request: %w", err)
	}
	if packID.Valid {
		job.PackID = packID.String
	}
	if errMsg.Valid {
		job.ErrorMessage = errMsg.String
	}
	if errTrace.Valid {
		job.ErrorTrace = errTrace.String
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		job.FinishedAt = &t
	}
	return &job, nil
}

// CreateJob inserts a new job row
func (s *SQLiteStore) CreateJob(job *models.Job) error {
	requestJSON, err := json.Marshal(job.Request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO jobs (id, status, progress, request, pack_id, error_message, error_trace,
		                  created_at, updated_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, ?)
	`, job.ID, string(job.Status), job.Progress, string(requestJSON), job.PackID,
		job.ErrorMessage, job.ErrorTrace, job.CreatedAt, job.UpdatedAt, job.StartedAt, job.FinishedAt)

	return err
}

// GetJob retrieves a job by ID
func (s *SQLiteStore) GetJob(id string) (*models.Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	return job, err
}

// UpdateJobIfStatus performs the conditional update in one statement:
// UPDATE ... WHERE id = ? AND status = ?. The database resolves any
// race between competing writers; RowsAffected reports who won.
func (s *SQLiteStore) UpdateJobIfStatus(id string, expected models.JobStatus, upd models.JobUpdate) (bool, error) {
	if err := validateUpdate(expected, upd); err != nil {
		return false, err
	}

	set := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if upd.Status != nil {
		set = append(set, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.Progress != nil {
		set = append(set, "progress = ?")
		args = append(args, models.ClampProgress(*upd.Progress))
	}
	if upd.PackID != nil {
		set = append(set, "pack_id = ?")
		args = append(args, *upd.PackID)
	}
	if upd.ErrorMessage != nil {
		set = append(set, "error_message = NULLIF(?, '')")
		args = append(args, *upd.ErrorMessage)
	}
	if upd.ErrorTrace != nil {
		set = append(set, "error_trace = NULLIF(?, '')")
		args = append(args, *upd.ErrorTrace)
	}
	if upd.StartedAt != nil {
		set = append(set, "started_at = ?")
		args = append(args, *upd.StartedAt)
	}
	if upd.FinishedAt != nil {
		set = append(set, "finished_at = ?")
		args = append(args, *upd.FinishedAt)
	}

	args = append(args, id, string(expected))
	query := fmt.Sprintf("UPDATE jobs SET %s WHERE id = ? AND status = ?", strings.Join(set, ", "))

	result, err := s.db.Exec(query, args...)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		// Distinguish a lost race from a missing job
		var one int
		if err := s.db.QueryRow(`SELECT 1 FROM jobs WHERE id = ?`, id).Scan(&one); err == sql.ErrNoRows {
			return false, ErrJobNotFound
		} else if err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// ListJobsByStatus returns jobs in a status, oldest first
func (s *SQLiteStore) ListJobsByStatus(status models.JobStatus, limit int) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = ? ORDER BY created_at ASC`
	args := []any{string(status)}
	if limit > 0 {
		query += ` LIMIT ?`
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
func (s *SQLiteStore) CountJobs(statuses ...models.JobStatus) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}

	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		placeholders[i] = "?"
		args[i] = string(st)
	}

	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM jobs WHERE status IN (%s)", strings.Join(placeholders, ", "))
	err := s.db.QueryRow(query, args...).Scan(&count)
	return count, err
}

// FailStaleRunning bulk-fails running jobs older than cutoff
func (s *SQLiteStore) FailStaleRunning(cutoff time.Time, reason string) (int, error) {
	now := time.Now().UTC()
	result, err := s.db.Exec(`
		UPDATE jobs
		SET status = ?, error_message = ?, finished_at = ?, updated_at = ?
		WHERE status = ?
		  AND ((started_at IS NOT NULL AND started_at < ?)
		    OR (started_at IS NULL AND updated_at < ?))
	`, string(models.JobStatusFailed), reason, now, now, string(models.JobStatusRunning), cutoff, cutoff)
	if err != nil {
		return 0, err
	}

	rows, err := result.RowsAffected()
	return int(rows), err
}

// CreatePack stores a finished pack
func (s *SQLiteStore) CreatePack(pack *models.Pack) error {
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, pack.ID, pack.JobID, pack.Mode, pack.InputValue, pack.Language, pack.Tone,
		string(platforms), string(genes), string(assets), string(visual),
		string(dominance), string(sources), pack.PackMarkdown, pack.CreatedAt, pack.UpdatedAt)

	return err
}

// GetPack retrieves a pack by ID
func (s *SQLiteStore) GetPack(id string) (*models.Pack, error) {
	var pack models.Pack
	var jobID sql.NullString
	var platforms, genes, assets, visual, dominance, sources string

	err := s.db.QueryRow(`
		SELECT id, job_id, mode, input_value, language, tone, platforms,
		       genes, assets, visual, dominance, sources, pack_markdown,
		       created_at, updated_at
		FROM packs WHERE id = ?
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
	if err := json.Unmarshal([]byte(platforms), &pack.Platforms); err != nil {
		return nil, fmt.Errorf("failed to unmarshal platforms: %w", err)
	}
	if err := json.Unmarshal([]byte(genes), &pack.Genes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal genes: %w", err)
	}
	if err := json.Unmarshal([]byte(assets), &pack.Assets); err != nil {
		return nil, fmt.Errorf("failed to unmarshal assets: %w", err)
	}
	if err := json.Unmarshal([]byte(visual), &pack.Visual); err != nil {
		return nil, fmt.Errorf("failed to unmarshal visual: %w", err)
	}
	if err := json.Unmarshal([]byte(dominance), &pack.Dominance); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dominance: %w", err)
	}
	if sources != "" && sources != "null" {
		if err := json.Unmarshal([]byte(sources), &pack.Sources); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sources: %w", err)
		}
	}

	return &pack, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// HealthCheck verifies the database is reachable
func (s *SQLiteStore) HealthCheck() error {
	return s.db.Ping()
}
