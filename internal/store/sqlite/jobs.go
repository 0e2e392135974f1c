package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flemzord/apmd/internal/job"
	"github.com/google/uuid"
)

// Compile-time interface guard.
var _ job.Store = (*JobStore)(nil)

// JobStore implements job.Store on the jobs table. Records are returned in
// insertion order.
type JobStore struct {
	db *sql.DB
}

const jobColumns = `id, name, description, payload, state, scheduled_at,
	next_retry_at, last_run_at, completed_runs, max_attempts, secs_between_retries`

// Insert implements job.Store.
func (s *JobStore) Insert(ctx context.Context, rec *job.Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	payload := string(rec.Payload)
	if payload == "" {
		payload = "{}"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.Description, payload, string(rec.State),
		formatTime(rec.ScheduledAt),
		formatTimePtr(rec.NextRetryAt), formatTimePtr(rec.LastRunAt),
		rec.CompletedRuns, rec.MaxAttempts, rec.SecsBetweenRetries,
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert job: %w", err)
	}
	return nil
}

// Update implements job.Store.
func (s *JobStore) Update(ctx context.Context, rec *job.Record) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			name = ?, description = ?, payload = ?, state = ?, scheduled_at = ?,
			next_retry_at = ?, last_run_at = ?, completed_runs = ?,
			max_attempts = ?, secs_between_retries = ?
		WHERE id = ?`,
		rec.Name, rec.Description, string(rec.Payload), string(rec.State),
		formatTime(rec.ScheduledAt),
		formatTimePtr(rec.NextRetryAt), formatTimePtr(rec.LastRunAt),
		rec.CompletedRuns, rec.MaxAttempts, rec.SecsBetweenRetries,
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update job: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return job.ErrJobNotFound
	}
	return nil
}

// Claim implements job.Store.
func (s *JobStore) Claim(ctx context.Context, id string, now time.Time) (*job.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs SET state = ?, last_run_at = ?
		WHERE id = ? AND state = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?
		RETURNING `+jobColumns,
		string(job.StateRunning), formatTime(now),
		id, string(job.StateWaiting), formatTime(now),
	)
	rec, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, job.ErrStateChanged
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: claim job: %w", err)
	}
	return rec, nil
}

// Finish implements job.Store.
func (s *JobStore) Finish(ctx context.Context, rec *job.Record, from job.State) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, next_retry_at = ?, last_run_at = ?, completed_runs = ?
		WHERE id = ? AND state = ?`,
		string(rec.State), formatTimePtr(rec.NextRetryAt), formatTimePtr(rec.LastRunAt),
		rec.CompletedRuns,
		rec.ID, string(from),
	)
	if err != nil {
		return fmt.Errorf("sqlite: finish job: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return job.ErrStateChanged
	}
	return nil
}

// Get implements job.Store.
func (s *JobStore) Get(ctx context.Context, id string) (*job.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	rec, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, job.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Due implements job.Store.
func (s *JobStore) Due(ctx context.Context, now time.Time) ([]job.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE state = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?
		ORDER BY seq`,
		string(job.StateWaiting), formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: select due jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanJobs(rows)
}

// ListByState implements job.Store.
func (s *JobStore) ListByState(ctx context.Context, state job.State) ([]job.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE state = ?
		ORDER BY seq`,
		string(state),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanJobs(rows)
}

// DeleteByState implements job.Store.
func (s *JobStore) DeleteByState(ctx context.Context, states ...job.State) (int, error) {
	if len(states) == 0 {
		return 0, nil
	}

	args := make([]any, len(states))
	for i, st := range states {
		args[i] = string(st)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(states)), ",")

	result, err := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE state IN ("+placeholders+")", args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete jobs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: rows affected: %w", err)
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*job.Record, error) {
	var (
		rec         job.Record
		payload     string
		state       string
		scheduledAt string
		nextRetryAt sql.NullString
		lastRunAt   sql.NullString
	)
	err := row.Scan(
		&rec.ID, &rec.Name, &rec.Description, &payload, &state, &scheduledAt,
		&nextRetryAt, &lastRunAt, &rec.CompletedRuns, &rec.MaxAttempts, &rec.SecsBetweenRetries,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("sqlite: scan job: %w", err)
	}

	rec.Payload = []byte(payload)
	rec.State = job.State(state)
	if rec.ScheduledAt, err = parseTime(scheduledAt); err != nil {
		return nil, err
	}
	if rec.NextRetryAt, err = parseTimePtr(nextRetryAt); err != nil {
		return nil, err
	}
	if rec.LastRunAt, err = parseTimePtr(lastRunAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanJobs(rows *sql.Rows) ([]job.Record, error) {
	var recs []job.Record
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: scan jobs rows: %w", err)
	}
	return recs, nil
}
