package storage

import (
	"context"
	"fmt"
	"time"

	"price-alerts/internal/scheduler"
)

const (
	listJobsSQL = `SELECT name, interval_ms, next_run_at
    FROM scheduled_jobs
    ORDER BY name;`

	upsertJobSQL = `INSERT INTO scheduled_jobs (name, interval_ms, next_run_at, updated_at)
    VALUES ($1, $2, $3, now())
    ON CONFLICT (name) DO UPDATE
    SET
        interval_ms = EXCLUDED.interval_ms,
        next_run_at = EXCLUDED.next_run_at,
        updated_at  = now();`

	deleteJobSQL = `DELETE FROM scheduled_jobs WHERE name = $1;`
)

// JobStore persists scheduler definitions in scheduled_jobs.
type JobStore struct {
	store *Store
}

// NewJobStore binds the job store to s.
func NewJobStore(s *Store) *JobStore {
	return &JobStore{store: s}
}

func (j *JobStore) List(ctx context.Context) ([]scheduler.Job, error) {
	pool, err := j.store.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listJobsSQL)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]scheduler.Job, 0)
	for rows.Next() {
		var (
			job        scheduler.Job
			intervalMS int64
			nextRunAt  *time.Time
		)
		if err := rows.Scan(&job.Name, &intervalMS, &nextRunAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		job.Interval = time.Duration(intervalMS) * time.Millisecond
		if nextRunAt != nil {
			job.NextRunAt = *nextRunAt
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

func (j *JobStore) Upsert(ctx context.Context, job scheduler.Job) error {
	pool, err := j.store.getPool()
	if err != nil {
		return err
	}

	var nextRunAt any
	if !job.NextRunAt.IsZero() {
		nextRunAt = job.NextRunAt
	}
	if _, err := pool.Exec(ctx, upsertJobSQL, job.Name, job.Interval.Milliseconds(), nextRunAt); err != nil {
		return fmt.Errorf("upsert job %s: %w", job.Name, err)
	}
	return nil
}

func (j *JobStore) Delete(ctx context.Context, name string) error {
	pool, err := j.store.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, deleteJobSQL, name); err != nil {
		return fmt.Errorf("delete job %s: %w", name, err)
	}
	return nil
}

var (
	_ scheduler.JobStore = (*JobStore)(nil)
	_ scheduler.Locker   = (*Store)(nil)
)
