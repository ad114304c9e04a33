package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jobmill/jobmill/pkg/observability/logger"
	"github.com/jobmill/jobmill/pkg/store/postgres"
)

const jobColumns = `id, type, payload, status, priority, attempts, max_attempts, error, result,
	scheduled_for, started_at, completed_at, created_at, created_by, worker_id`

// claimQuery selects the single best eligible row and locks it. SKIP LOCKED
// keeps contending workers from queueing behind each other's claim: the
// loser sees the next candidate or no row at all. FAILED rows whose backoff
// elapsed are eligible again alongside PENDING ones.
const claimQuery = `
SELECT ` + jobColumns + `
FROM jobs
WHERE status IN ('PENDING', 'FAILED')
  AND (scheduled_for IS NULL OR scheduled_for <= now())
ORDER BY priority DESC, created_at ASC
LIMIT 1
FOR UPDATE SKIP LOCKED`

// PostgresStore implements Store over the shared PostgreSQL adapter. Claims
// run under SERIALIZABLE isolation with row locks so no two workers ever
// receive the same job.
type PostgresStore struct {
	adapter *postgres.Adapter
	policy  RetryPolicy
	log     logger.Logger
}

// NewPostgresStore creates a job store on top of an open adapter.
func NewPostgresStore(adapter *postgres.Adapter, policy RetryPolicy, log logger.Logger) (*PostgresStore, error) {
	if adapter == nil {
		return nil, errors.New("postgres adapter is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	return &PostgresStore{
		adapter: adapter,
		policy:  policy,
		log:     log,
	}, nil
}

// Create inserts a new PENDING job.
func (s *PostgresStore) Create(ctx context.Context, input CreateJobInput) (*Job, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	row := s.adapter.QueryRowContext(ctx, `
INSERT INTO jobs (id, type, payload, status, priority, attempts, max_attempts, scheduled_for, created_by)
VALUES ($1, $2, $3, 'PENDING', $4, 0, $5, $6, $7)
RETURNING `+jobColumns,
		id, input.Type, []byte(input.Payload), input.Priority, input.MaxAttempts,
		nullableTime(input.ScheduledFor), input.CreatedBy,
	)

	job, err := scanJob(row)
	if err != nil {
		return nil, errors.Join(queueError(ErrInternal, "create job failed"), err)
	}
	recordJobCreated(job.Type)
	return job, nil
}

// GetByID returns the job, scoped to owner unless owner is empty.
func (s *PostgresStore) GetByID(ctx context.Context, id, owner string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	args := []interface{}{id}
	if owner != "" {
		query += ` AND created_by = $2`
		args = append(args, owner)
	}

	job, err := scanJob(s.adapter.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, queueError(ErrNotFound, "job not found")
	}
	if err != nil {
		return nil, errors.Join(queueError(ErrInternal, "get job failed"), err)
	}
	return job, nil
}

// List returns a page ordered priority DESC, createdAt DESC plus the total.
func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*Job, int, error) {
	filter.normalize()

	where, args := buildListWhere(filter)

	var total int
	countQuery := `SELECT COUNT(*) FROM jobs` + where
	if err := s.adapter.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Join(queueError(ErrInternal, "count jobs failed"), err)
	}

	pageQuery := fmt.Sprintf(`SELECT `+jobColumns+` FROM jobs%s ORDER BY priority DESC, created_at DESC LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2)
	rows, err := s.adapter.QueryContext(ctx, pageQuery, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, 0, errors.Join(queueError(ErrInternal, "list jobs failed"), err)
	}
	defer rows.Close()

	jobs := []*Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, errors.Join(queueError(ErrInternal, "scan job failed"), err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Join(queueError(ErrInternal, "list jobs failed"), err)
	}
	return jobs, total, nil
}

// ClaimNext atomically claims the next eligible job for workerID. The
// select-lock-update-insert sequence runs as one serializable transaction;
// (nil, nil) means nothing is eligible right now.
func (s *PostgresStore) ClaimNext(ctx context.Context, workerID string) (*Job, error) {
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return nil, queueError(ErrValidation, "worker id is required")
	}

	var claimed *Job
	err := s.adapter.WithSerializableTransaction(ctx, func(txCtx context.Context) error {
		job, err := scanJob(s.adapter.QueryRowContext(txCtx, claimQuery))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("select next job: %w", err)
		}

		row := s.adapter.QueryRowContext(txCtx, `
UPDATE jobs
SET status = 'PROCESSING', worker_id = $2, started_at = now(), attempts = attempts + 1
WHERE id = $1
RETURNING attempts, started_at`, job.ID, workerID)

		var startedAt time.Time
		if err := row.Scan(&job.Attempts, &startedAt); err != nil {
			return fmt.Errorf("mark job processing: %w", err)
		}
		job.Status = StatusProcessing
		job.WorkerID = &workerID
		job.StartedAt = &startedAt

		if _, err := s.adapter.ExecContext(txCtx, `
INSERT INTO job_attempts (id, job_id, attempt_number, started_at)
VALUES ($1, $2, $3, $4)`, uuid.NewString(), job.ID, job.Attempts, startedAt); err != nil {
			return fmt.Errorf("record job attempt: %w", err)
		}

		claimed = job
		return nil
	})
	if err != nil {
		return nil, errors.Join(queueError(ErrInternal, "claim next job failed"), err)
	}
	if claimed != nil {
		recordJobClaimed(claimed.Type)
	}
	return claimed, nil
}

// Complete resolves a PROCESSING job owned by workerID to COMPLETED and
// closes the current attempt in the same transaction.
func (s *PostgresStore) Complete(ctx context.Context, id, workerID string, result json.RawMessage) (*Job, error) {
	var completed *Job
	err := s.adapter.WithTransaction(ctx, func(txCtx context.Context) error {
		row := s.adapter.QueryRowContext(txCtx, `
UPDATE jobs
SET status = 'COMPLETED', completed_at = now(), result = $3, worker_id = NULL
WHERE id = $1 AND worker_id = $2 AND status = 'PROCESSING'
RETURNING `+jobColumns, id, workerID, nullableJSON(result))

		job, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return queueError(ErrNotFound, "job not found or not assigned to this worker")
		}
		if err != nil {
			return fmt.Errorf("complete job: %w", err)
		}

		if _, err := s.adapter.ExecContext(txCtx, `
UPDATE job_attempts
SET finished_at = now()
WHERE job_id = $1 AND attempt_number = $2 AND finished_at IS NULL`, id, job.Attempts); err != nil {
			return fmt.Errorf("close job attempt: %w", err)
		}

		completed = job
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Join(queueError(ErrInternal, "complete job failed"), err)
	}
	recordJobResolved(completed.Type, "completed")
	return completed, nil
}

// Fail closes the current attempt with the failure message and applies the
// retry policy: FAILED with exponential backoff, or DEAD at the attempt cap.
func (s *PostgresStore) Fail(ctx context.Context, id, workerID, message string) (*Job, error) {
	var failed *Job
	err := s.adapter.WithTransaction(ctx, func(txCtx context.Context) error {
		row := s.adapter.QueryRowContext(txCtx, `
SELECT `+jobColumns+`
FROM jobs
WHERE id = $1 AND worker_id = $2 AND status = 'PROCESSING'
FOR UPDATE`, id, workerID)

		job, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return queueError(ErrNotFound, "job not found or not assigned to this worker")
		}
		if err != nil {
			return fmt.Errorf("select processing job: %w", err)
		}

		if _, err := s.adapter.ExecContext(txCtx, `
UPDATE job_attempts
SET finished_at = now(), error = $3
WHERE job_id = $1 AND attempt_number = $2 AND finished_at IS NULL`, id, job.Attempts, message); err != nil {
			return fmt.Errorf("close job attempt: %w", err)
		}

		decision := s.policy.Decide(job.Attempts, job.MaxAttempts, time.Now().UTC())
		if _, err := s.adapter.ExecContext(txCtx, `
UPDATE jobs
SET status = $2, error = $3, scheduled_for = $4, worker_id = NULL
WHERE id = $1`, id, string(decision.Status), message, nullableTime(decision.ScheduledFor)); err != nil {
			return fmt.Errorf("record job failure: %w", err)
		}

		job.Status = decision.Status
		job.Error = &message
		job.ScheduledFor = cloneTime(decision.ScheduledFor)
		job.WorkerID = nil
		failed = job
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Join(queueError(ErrInternal, "fail job failed"), err)
	}

	if failed.Status == StatusDead {
		s.log.Warn("job dead-lettered",
			"job_id", failed.ID,
			"type", failed.Type,
			"attempts", failed.Attempts,
			"error", message,
		)
		recordJobResolved(failed.Type, "dead")
	} else {
		recordJobResolved(failed.Type, "failed")
		recordRetryScheduled(failed.Type)
	}
	return failed, nil
}

// Cancel transitions a PENDING or FAILED job to CANCELLED. In-flight
// PROCESSING jobs are never interrupted; cancelling one is rejected.
func (s *PostgresStore) Cancel(ctx context.Context, id, owner string) (*Job, error) {
	var cancelled *Job
	err := s.adapter.WithTransaction(ctx, func(txCtx context.Context) error {
		query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
		args := []interface{}{id}
		if owner != "" {
			query += ` AND created_by = $2`
			args = append(args, owner)
		}
		query += ` FOR UPDATE`

		job, err := scanJob(s.adapter.QueryRowContext(txCtx, query, args...))
		if errors.Is(err, sql.ErrNoRows) {
			return queueError(ErrNotFound, "job not found")
		}
		if err != nil {
			return fmt.Errorf("select job: %w", err)
		}

		switch job.Status {
		case StatusCompleted:
			return queueError(ErrBadRequest, "cannot cancel completed job")
		case StatusCancelled:
			return queueError(ErrConflict, "job already cancelled")
		case StatusPending, StatusFailed:
		default:
			return queueError(ErrBadRequest, "only pending or failed jobs can be cancelled")
		}

		if _, err := s.adapter.ExecContext(txCtx, `
UPDATE jobs SET status = 'CANCELLED' WHERE id = $1`, id); err != nil {
			return fmt.Errorf("cancel job: %w", err)
		}

		job.Status = StatusCancelled
		cancelled = job
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrBadRequest) || errors.Is(err, ErrConflict) {
			return nil, err
		}
		return nil, errors.Join(queueError(ErrInternal, "cancel job failed"), err)
	}
	recordJobResolved(cancelled.Type, "cancelled")
	return cancelled, nil
}

// RetryDead revives a DEAD job: attempts reset to 0, error cleared,
// eligible immediately.
func (s *PostgresStore) RetryDead(ctx context.Context, id string) (*Job, error) {
	var revived *Job
	err := s.adapter.WithTransaction(ctx, func(txCtx context.Context) error {
		job, err := scanJob(s.adapter.QueryRowContext(txCtx,
			`SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return queueError(ErrNotFound, "job not found")
		}
		if err != nil {
			return fmt.Errorf("select job: %w", err)
		}
		if job.Status != StatusDead {
			return queueError(ErrBadRequest, "only dead jobs can be retried")
		}

		row := s.adapter.QueryRowContext(txCtx, `
UPDATE jobs
SET status = 'PENDING', attempts = 0, error = NULL, worker_id = NULL, scheduled_for = now()
WHERE id = $1
RETURNING `+jobColumns, id)

		job, err = scanJob(row)
		if err != nil {
			return fmt.Errorf("revive job: %w", err)
		}
		revived = job
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrBadRequest) {
			return nil, err
		}
		return nil, errors.Join(queueError(ErrInternal, "retry dead job failed"), err)
	}
	s.log.Info("dead job revived", "job_id", revived.ID, "type", revived.Type)
	return revived, nil
}

// Attempts returns attempt history ascending by attemptNumber, scoped to
// owner unless owner is empty.
func (s *PostgresStore) Attempts(ctx context.Context, id, owner string) ([]*JobAttempt, error) {
	if _, err := s.GetByID(ctx, id, owner); err != nil {
		return nil, err
	}

	rows, err := s.adapter.QueryContext(ctx, `
SELECT id, job_id, attempt_number, started_at, finished_at, error
FROM job_attempts
WHERE job_id = $1
ORDER BY attempt_number ASC`, id)
	if err != nil {
		return nil, errors.Join(queueError(ErrInternal, "list job attempts failed"), err)
	}
	defer rows.Close()

	attempts := []*JobAttempt{}
	for rows.Next() {
		var attempt JobAttempt
		var finishedAt sql.NullTime
		var errMsg sql.NullString
		if err := rows.Scan(&attempt.ID, &attempt.JobID, &attempt.AttemptNumber,
			&attempt.StartedAt, &finishedAt, &errMsg); err != nil {
			return nil, errors.Join(queueError(ErrInternal, "scan job attempt failed"), err)
		}
		if finishedAt.Valid {
			t := finishedAt.Time
			attempt.FinishedAt = &t
		}
		if errMsg.Valid {
			v := errMsg.String
			attempt.Error = &v
		}
		attempts = append(attempts, &attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(queueError(ErrInternal, "list job attempts failed"), err)
	}
	return attempts, nil
}

// Stats aggregates per-status counts and averages for owner, or the whole
// table when owner is empty.
func (s *PostgresStore) Stats(ctx context.Context, owner string) (*Stats, error) {
	where := ""
	args := []interface{}{}
	if owner != "" {
		where = ` WHERE created_by = $1`
		args = append(args, owner)
	}

	rows, err := s.adapter.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs`+where+` GROUP BY status`, args...)
	if err != nil {
		return nil, errors.Join(queueError(ErrInternal, "queue stats failed"), err)
	}
	defer rows.Close()

	stats := &Stats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Join(queueError(ErrInternal, "scan queue stats failed"), err)
		}
		switch Status(status) {
		case StatusPending:
			stats.Pending = count
		case StatusProcessing:
			stats.Processing = count
		case StatusCompleted:
			stats.Completed = count
		case StatusFailed:
			stats.Failed = count
		case StatusDead:
			stats.Dead = count
		case StatusCancelled:
			stats.Cancelled = count
		}
		stats.TotalJobs += count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(queueError(ErrInternal, "queue stats failed"), err)
	}

	var avgPriority, avgAttempts sql.NullFloat64
	if err := s.adapter.QueryRowContext(ctx,
		`SELECT AVG(priority), AVG(attempts) FROM jobs`+where, args...,
	).Scan(&avgPriority, &avgAttempts); err != nil {
		return nil, errors.Join(queueError(ErrInternal, "queue stats averages failed"), err)
	}
	stats.AveragePriority = avgPriority.Float64
	stats.AverageAttempts = avgAttempts.Float64

	processingWhere := ` WHERE status = 'COMPLETED' AND started_at IS NOT NULL AND completed_at IS NOT NULL`
	if owner != "" {
		processingWhere += ` AND created_by = $1`
	}
	var avgProcessingMs sql.NullFloat64
	if err := s.adapter.QueryRowContext(ctx,
		`SELECT AVG(EXTRACT(EPOCH FROM (completed_at - started_at)) * 1000) FROM jobs`+processingWhere, args...,
	).Scan(&avgProcessingMs); err != nil {
		return nil, errors.Join(queueError(ErrInternal, "queue stats processing time failed"), err)
	}
	stats.AverageProcessingTimeMs = avgProcessingMs.Float64

	return stats, nil
}

// HealthCheck verifies database connectivity.
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	return s.adapter.HealthCheck(ctx)
}

// Close closes the underlying adapter.
func (s *PostgresStore) Close() error {
	return s.adapter.Close()
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var payload []byte
	var errMsg, workerID sql.NullString
	var result []byte
	var scheduledFor, startedAt, completedAt sql.NullTime
	var status string

	err := row.Scan(
		&job.ID, &job.Type, &payload, &status, &job.Priority, &job.Attempts,
		&job.MaxAttempts, &errMsg, &result, &scheduledFor, &startedAt,
		&completedAt, &job.CreatedAt, &job.CreatedBy, &workerID,
	)
	if err != nil {
		return nil, err
	}

	job.Status = Status(status)
	job.Payload = json.RawMessage(payload)
	if len(result) > 0 {
		job.Result = json.RawMessage(result)
	}
	if errMsg.Valid {
		v := errMsg.String
		job.Error = &v
	}
	if workerID.Valid {
		v := workerID.String
		job.WorkerID = &v
	}
	if scheduledFor.Valid {
		t := scheduledFor.Time
		job.ScheduledFor = &t
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

func buildListWhere(filter ListFilter) (string, []interface{}) {
	clauses := []string{}
	args := []interface{}{}
	if filter.Owner != "" {
		args = append(args, filter.Owner)
		clauses = append(clauses, fmt.Sprintf("created_by = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		clauses = append(clauses, fmt.Sprintf("type = $%d", len(args)))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
