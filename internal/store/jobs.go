package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// NewJob inserts a queued job together with its asset row.
func (s *Store) NewJob(ctx context.Context, sourcePath string, params map[string]any) (*Job, error) {
	if sourcePath == "" {
		return nil, errors.New("source path is required")
	}

	paramsJSON := ""
	if len(params) > 0 {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		paramsJSON = string(encoded)
	}

	jobID := uuid.NewString()
	now := timestamp(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO jobs (id, status, progress, params_json, created_at, updated_at)
         VALUES (?, ?, 0, ?, ?, ?)`,
		jobID,
		StatusQueued,
		nullableString(paramsJSON),
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO assets (id, job_id, source_path, original_filename, created_at)
         VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(),
		jobID,
		sourcePath,
		filepath.Base(sourcePath),
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert asset: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit job: %w", err)
	}
	return s.GetJob(ctx, jobID)
}

// GetJob fetches a job by identifier. Returns nil when absent.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ClaimNextQueued atomically transitions the oldest queued job to RUNNING and
// returns it. Returns nil when the queue is empty. The conditional update
// guarantees two workers never claim the same job.
func (s *Store) ClaimNextQueued(ctx context.Context) (*Job, error) {
	for {
		row := s.db.QueryRowContext(
			ctx,
			`SELECT id FROM jobs WHERE status = ? ORDER BY created_at LIMIT 1`,
			StatusQueued,
		)
		var id string
		if err := row.Scan(&id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil
			}
			return nil, fmt.Errorf("next queued job: %w", err)
		}

		res, err := s.db.ExecContext(
			ctx,
			`UPDATE jobs SET status = ?, progress = 0, updated_at = ? WHERE id = ? AND status = ?`,
			StatusRunning,
			timestamp(time.Now()),
			id,
			StatusQueued,
		)
		if err != nil {
			return nil, fmt.Errorf("claim job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("claim rows affected: %w", err)
		}
		if affected == 0 {
			// Another worker won the race; try the next candidate.
			continue
		}
		return s.GetJob(ctx, id)
	}
}

// SetJobProgress persists a progress checkpoint. The conditional write keeps
// progress monotonically non-decreasing and only touches RUNNING jobs, so a
// terminal status can never be overwritten.
func (s *Store) SetJobProgress(ctx context.Context, id string, progress int) error {
	if progress < 0 || progress > 100 {
		return fmt.Errorf("progress %d out of range", progress)
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET progress = ?, updated_at = ?
         WHERE id = ? AND status = ? AND progress <= ?`,
		progress,
		timestamp(time.Now()),
		id,
		StatusRunning,
		progress,
	)
	if err != nil {
		return fmt.Errorf("set job progress: %w", err)
	}
	return nil
}

// MarkJobSucceeded finalizes a running job at progress 100. It is a direct
// conditional write keyed by job id, usable even when the caller never held a
// job struct, so a lost in-memory handle cannot leave the job stuck.
func (s *Store) MarkJobSucceeded(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, progress = 100, error_message = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusSucceeded,
		timestamp(time.Now()),
		id,
		StatusRunning,
	)
	if err != nil {
		return false, fmt.Errorf("mark job succeeded: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkJobFailed records the failure message and transitions a running job to
// FAILED. Terminal jobs are left untouched.
func (s *Store) MarkJobFailed(ctx context.Context, id, message string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, error_message = ?, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		StatusFailed,
		nullableString(message),
		timestamp(time.Now()),
		id,
		StatusQueued,
		StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	return nil
}

// CancelJob marks a queued or running job as cancelled. Returns false when
// the job was already terminal (or absent).
func (s *Store) CancelJob(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		StatusCancelled,
		timestamp(time.Now()),
		id,
		StatusQueued,
		StatusRunning,
	)
	if err != nil {
		return false, fmt.Errorf("cancel job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// RequeueJob returns a RUNNING job to the queue, clearing progress. Used at
// daemon startup for jobs orphaned by a crash.
func (s *Store) RequeueJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, progress = 0, error_message = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusQueued,
		timestamp(time.Now()),
		id,
		StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	return nil
}

// SetJobLogPath records the step-log location for a job.
func (s *Store) SetJobLogPath(ctx context.Context, id, logPath string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET log_path = ?, updated_at = ? WHERE id = ?`,
		nullableString(logPath),
		timestamp(time.Now()),
		id,
	)
	if err != nil {
		return fmt.Errorf("set job log path: %w", err)
	}
	return nil
}

// ListJobs returns jobs filtered by status set (or all jobs when no status is
// provided), oldest first.
func (s *Store) ListJobs(ctx context.Context, statuses ...Status) ([]*Job, error) {
	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
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

// Health aggregates job counts for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return HealthSummary{}, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	health := HealthSummary{}
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return HealthSummary{}, err
		}
		health.Total += count
		switch status {
		case StatusQueued:
			health.Queued += count
		case StatusRunning:
			health.Running += count
		case StatusSucceeded:
			health.Succeeded += count
		case StatusFailed:
			health.Failed += count
		case StatusCancelled:
			health.Cancelled += count
		}
	}
	return health, rows.Err()
}

const jobColumns = "id, status, progress, params_json, error_message, log_path, created_at, updated_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id         string
		statusStr  string
		progress   int
		paramsJSON sql.NullString
		errMsg     sql.NullString
		logPath    sql.NullString
		createdRaw sql.NullString
		updatedRaw sql.NullString
	)
	if err := scanner.Scan(&id, &statusStr, &progress, &paramsJSON, &errMsg, &logPath, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}

	job := &Job{
		ID:           id,
		Status:       Status(statusStr),
		Progress:     progress,
		ParamsJSON:   paramsJSON.String,
		ErrorMessage: errMsg.String,
		LogPath:      logPath.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
