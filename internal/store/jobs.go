package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/CrewClaw/CrewClaw/internal/idgen"
)

// SaveJob persists a scheduler job. JobID is generated if empty.
func (s *Store) SaveJob(j *JobRecord) (*JobRecord, error) {
	if j.JobID == "" {
		j.JobID = idgen.New()
	}
	var nextFire any
	if j.NextFireAt != nil {
		nextFire = *j.NextFireAt
	}
	_, err := s.db.Exec(`
		INSERT INTO scheduled_jobs (job_id, name, cadence, actor_id, wake_message, isolated, next_fire_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			name = excluded.name,
			cadence = excluded.cadence,
			actor_id = excluded.actor_id,
			wake_message = excluded.wake_message,
			isolated = excluded.isolated,
			next_fire_at = excluded.next_fire_at,
			updated_at = datetime('now')`,
		j.JobID, j.Name, j.Cadence, j.ActorID, j.WakeMessage, j.Isolated, nextFire,
	)
	if err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}
	return s.GetJob(j.JobID)
}

const jobColumns = `id, job_id, name, cadence, actor_id, wake_message, isolated,
	next_fire_at, last_run_at, last_status, run_count, removed, created_at, updated_at`

func scanJobRow(scan func(dest ...any) error) (*JobRecord, error) {
	var j JobRecord
	var nextFire, lastRun sql.NullTime
	err := scan(
		&j.ID, &j.JobID, &j.Name, &j.Cadence, &j.ActorID, &j.WakeMessage, &j.Isolated,
		&nextFire, &lastRun, &j.LastStatus, &j.RunCount, &j.Removed,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	if nextFire.Valid {
		j.NextFireAt = &nextFire.Time
	}
	if lastRun.Valid {
		j.LastRunAt = &lastRun.Time
	}
	return &j, nil
}

// GetJob returns a job by job_id, removed or not.
func (s *Store) GetJob(jobID string) (*JobRecord, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM scheduled_jobs WHERE job_id = ?`, jobID)
	return scanJobRow(row.Scan)
}

// ListJobs returns all jobs that have not been removed.
func (s *Store) ListJobs() ([]JobRecord, error) {
	rows, err := s.db.Query(`SELECT ` + jobColumns + ` FROM scheduled_jobs WHERE removed = 0 ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []JobRecord
	for rows.Next() {
		j, err := scanJobRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// RemoveJob marks a job removed so restarts do not resurrect it. An in-flight
// dispatch that already fired is unaffected; at most the next occurrence is
// suppressed.
func (s *Store) RemoveJob(jobID string) error {
	result, err := s.db.Exec(`
		UPDATE scheduled_jobs SET removed = 1, updated_at = datetime('now')
		WHERE job_id = ? AND removed = 0`,
		jobID,
	)
	if err != nil {
		return fmt.Errorf("remove job: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordJobRun persists the outcome of one fire and the recomputed next fire
// time (nil for an exhausted one-shot).
func (s *Store) RecordJobRun(jobID, status string, runAt time.Time, next *time.Time) error {
	var nextVal any
	if next != nil {
		nextVal = *next
	}
	_, err := s.db.Exec(`
		UPDATE scheduled_jobs
		SET last_status = ?, last_run_at = ?, next_fire_at = ?,
			run_count = run_count + 1, updated_at = datetime('now')
		WHERE job_id = ?`,
		status, runAt, nextVal, jobID,
	)
	if err != nil {
		return fmt.Errorf("record job run: %w", err)
	}
	return nil
}
