// Package scheduler persists cron jobs and their runs in memory.db and fires
// full agent turns when their timers elapse.
package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go sqlite driver, registers as "sqlite"
)

// Run statuses.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusError   = "error"
)

// Job is one persisted scheduled job.
type Job struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	CronExpression string     `json:"cronExpression"`
	Prompt         string     `json:"prompt"`
	AgentID        string     `json:"agentId"`
	Enabled        bool       `json:"enabled"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	LastRunAt      *time.Time `json:"lastRunAt,omitempty"`
	LastRunStatus  string     `json:"lastRunStatus,omitempty"`
	LastRunSummary string     `json:"lastRunSummary,omitempty"`
}

// Run is one execution record of a job.
type Run struct {
	ID         string     `json:"id"`
	JobID      string     `json:"jobId"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Status     string     `json:"status"`
	Summary    string     `json:"summary,omitempty"`
	SessionKey string     `json:"sessionKey,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Store persists jobs and runs in the shared memory.db. The scheduler writes
// concurrently with RPC reads; sqlite serializes the writes.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the database and its schema. Deleting a job
// cascades to its runs.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open scheduler db: %w", err)
	}
	// Foreign keys default off per connection in sqlite.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS scheduled_jobs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			cron_expression TEXT NOT NULL,
			prompt TEXT NOT NULL,
			agent_id TEXT NOT NULL DEFAULT 'assistant',
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			last_run_at DATETIME,
			last_run_status TEXT,
			last_run_summary TEXT
		)`)
	if err != nil {
		return fmt.Errorf("create scheduled_jobs: %w", err)
	}
	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS job_runs (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL REFERENCES scheduled_jobs(id) ON DELETE CASCADE,
			started_at DATETIME NOT NULL,
			finished_at DATETIME,
			status TEXT NOT NULL DEFAULT 'running',
			summary TEXT,
			session_key TEXT,
			error TEXT
		)`)
	if err != nil {
		return fmt.Errorf("create job_runs: %w", err)
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_job_runs_job ON job_runs(job_id, started_at)`)
	if err != nil {
		return fmt.Errorf("create run index: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// CreateJob inserts a job, minting id and timestamps when unset.
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.AgentID == "" {
		job.AgentID = "assistant"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_jobs (id, name, cron_expression, prompt, agent_id, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, job.CronExpression, job.Prompt, job.AgentID, job.Enabled, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob returns a job by id, nil when absent.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, cron_expression, prompt, agent_id, enabled,
		       created_at, updated_at, last_run_at, last_run_status, last_run_summary
		FROM scheduled_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

// ListJobs returns jobs newest-first, optionally only enabled ones.
func (s *Store) ListJobs(ctx context.Context, enabledOnly bool) ([]*Job, error) {
	query := `
		SELECT id, name, cron_expression, prompt, agent_id, enabled,
		       created_at, updated_at, last_run_at, last_run_status, last_run_summary
		FROM scheduled_jobs`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateJob rewrites a job's mutable fields and bumps updatedAt.
func (s *Store) UpdateJob(ctx context.Context, job *Job) error {
	job.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET name = ?, cron_expression = ?, prompt = ?, agent_id = ?, enabled = ?, updated_at = ?
		WHERE id = ?`,
		job.Name, job.CronExpression, job.Prompt, job.AgentID, job.Enabled, job.UpdatedAt, job.ID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("job %s not found", job.ID)
	}
	return nil
}

// SetLastRun records the job's last-run fields after an execution.
func (s *Store) SetLastRun(ctx context.Context, jobID string, at time.Time, status, summary string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET last_run_at = ?, last_run_status = ?, last_run_summary = ?
		WHERE id = ?`, at, status, summary, jobID)
	if err != nil {
		return fmt.Errorf("record last run: %w", err)
	}
	return nil
}

// DeleteJob removes a job; its runs cascade away.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("job %s not found", id)
	}
	return nil
}

// InsertRun inserts a run row, minting id and startedAt when unset.
func (s *Store) InsertRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_runs (id, job_id, started_at, status, summary, session_key, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.JobID, run.StartedAt, run.Status, run.Summary, run.SessionKey, run.Error)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// UpdateRun rewrites a run's terminal fields.
func (s *Store) UpdateRun(ctx context.Context, run *Run) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE job_runs SET finished_at = ?, status = ?, summary = ?, session_key = ?, error = ?
		WHERE id = ?`,
		nullTime(run.FinishedAt), run.Status, run.Summary, run.SessionKey, run.Error, run.ID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// ListRuns returns a job's runs newest-first, capped at limit.
func (s *Store) ListRuns(ctx context.Context, jobID string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, started_at, finished_at, status, summary, session_key, error
		FROM job_runs WHERE job_id = ?
		ORDER BY started_at DESC LIMIT ?`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var run Run
		var finished sql.NullTime
		var summary, sessionKey, errMsg sql.NullString
		if err := rows.Scan(&run.ID, &run.JobID, &run.StartedAt, &finished,
			&run.Status, &summary, &sessionKey, &errMsg); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			run.FinishedAt = &t
		}
		run.Summary = summary.String
		run.SessionKey = sessionKey.String
		run.Error = errMsg.String
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var lastRunAt sql.NullTime
	var lastStatus, lastSummary sql.NullString
	err := row.Scan(&job.ID, &job.Name, &job.CronExpression, &job.Prompt, &job.AgentID,
		&job.Enabled, &job.CreatedAt, &job.UpdatedAt, &lastRunAt, &lastStatus, &lastSummary)
	if err != nil {
		return nil, err
	}
	if lastRunAt.Valid {
		t := lastRunAt.Time
		job.LastRunAt = &t
	}
	job.LastRunStatus = lastStatus.String
	job.LastRunSummary = lastSummary.String
	return &job, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
