package scheduler

import (
	"context"
	"fmt"

	"github.com/hearthd/hearthd/internal/cron"
)

// CreateJob validates the cron expression, persists the job and arms its
// timer when the job is enabled.
func (e *Engine) CreateJob(ctx context.Context, job *Job) error {
	if job.Name == "" {
		return fmt.Errorf("job name required")
	}
	if job.Prompt == "" {
		return fmt.Errorf("job prompt required")
	}
	if _, err := cron.Parse(job.CronExpression); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", job.CronExpression, err)
	}
	if err := e.store.CreateJob(ctx, job); err != nil {
		return err
	}
	e.scheduleJob(job)
	return nil
}

// UpdateJob revalidates the cron expression, persists the change and
// resynchronizes the job's timer. Disabling a job cancels its timer.
func (e *Engine) UpdateJob(ctx context.Context, job *Job) error {
	if _, err := cron.Parse(job.CronExpression); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", job.CronExpression, err)
	}
	if err := e.store.UpdateJob(ctx, job); err != nil {
		return err
	}
	e.scheduleJob(job)
	return nil
}

// DeleteJob removes the job and cancels its timer.
func (e *Engine) DeleteJob(ctx context.Context, id string) error {
	if err := e.store.DeleteJob(ctx, id); err != nil {
		return err
	}
	e.mu.Lock()
	if timer, ok := e.timers[id]; ok {
		timer.Stop()
		delete(e.timers, id)
	}
	e.mu.Unlock()
	return nil
}

// GetJob returns a job by id, nil when absent.
func (e *Engine) GetJob(ctx context.Context, id string) (*Job, error) {
	return e.store.GetJob(ctx, id)
}

// ListJobs returns all jobs newest-first.
func (e *Engine) ListJobs(ctx context.Context) ([]*Job, error) {
	return e.store.ListJobs(ctx, false)
}

// ListRuns returns a job's recent runs newest-first.
func (e *Engine) ListRuns(ctx context.Context, jobID string, limit int) ([]*Run, error) {
	return e.store.ListRuns(ctx, jobID, limit)
}
