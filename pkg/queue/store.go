package queue

import (
	"context"
	"encoding/json"
)

// Pagination bounds for List.
const (
	DefaultListLimit = 50
	MaxListLimit     = 100
)

// ListFilter selects jobs for listing. An empty Owner means admin scope
// (all owners). Status and Type are optional.
type ListFilter struct {
	Status Status
	Type   string
	Owner  string
	Limit  int
	Offset int
}

func (f *ListFilter) normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// Stats aggregates queue health for an owner (or the whole table when owner
// is empty). AverageProcessingTimeMs is computed only over COMPLETED jobs
// that have both StartedAt and CompletedAt.
type Stats struct {
	Pending                 int     `json:"pending"`
	Processing              int     `json:"processing"`
	Completed               int     `json:"completed"`
	Failed                  int     `json:"failed"`
	Dead                    int     `json:"dead"`
	Cancelled               int     `json:"cancelled"`
	AveragePriority         float64 `json:"averagePriority"`
	AverageAttempts         float64 `json:"averageAttempts"`
	AverageProcessingTimeMs float64 `json:"averageProcessingTimeMs"`
	TotalJobs               int     `json:"totalJobs"`
}

// Store is the persistence contract the engine relies on. Mutation happens
// only through the lifecycle operations; there is no generic update or
// delete. Implementations must provide an atomic, serializable claim
// primitive: concurrent ClaimNext calls never return the same job.
//
// Known gap, deliberately preserved: there is no timeout or heartbeat on
// PROCESSING jobs, so a worker that dies mid-job leaves its row PROCESSING
// until operator intervention.
type Store interface {
	// Create inserts a PENDING job with attempts=0 and validated defaults.
	Create(ctx context.Context, input CreateJobInput) (*Job, error)

	// GetByID returns the job, scoped to owner unless owner is empty.
	GetByID(ctx context.Context, id, owner string) (*Job, error)

	// List returns a page of jobs ordered priority DESC, createdAt DESC,
	// plus the total count matching the filter.
	List(ctx context.Context, filter ListFilter) ([]*Job, int, error)

	// ClaimNext atomically hands the next eligible job to workerID:
	// status PENDING or FAILED, scheduledFor absent or elapsed, highest
	// priority first, FIFO within a priority band. It increments attempts,
	// sets PROCESSING/workerId/startedAt and records the JobAttempt in the
	// same transaction. Returns (nil, nil) when nothing is eligible.
	ClaimNext(ctx context.Context, workerID string) (*Job, error)

	// Complete resolves a PROCESSING job owned by workerID to COMPLETED and
	// closes the current attempt. A worker that does not own the job gets
	// ErrNotFound.
	Complete(ctx context.Context, id, workerID string, result json.RawMessage) (*Job, error)

	// Fail records a failed attempt for a PROCESSING job owned by workerID,
	// closes the current attempt with the message, and applies the retry
	// policy: FAILED with backoff, or DEAD once attempts reach the cap.
	Fail(ctx context.Context, id, workerID, message string) (*Job, error)

	// Cancel transitions a PENDING or FAILED job owned by owner to
	// CANCELLED. COMPLETED yields ErrBadRequest, CANCELLED yields
	// ErrConflict, PROCESSING is rejected with ErrBadRequest rather than
	// interrupting in-flight work.
	Cancel(ctx context.Context, id, owner string) (*Job, error)

	// RetryDead revives a DEAD job: attempts=0, error cleared, PENDING,
	// scheduledFor=now. Non-DEAD jobs yield ErrBadRequest.
	RetryDead(ctx context.Context, id string) (*Job, error)

	// Attempts returns the attempt history ascending by attemptNumber,
	// scoped to owner unless owner is empty.
	Attempts(ctx context.Context, id, owner string) ([]*JobAttempt, error)

	// Stats aggregates per-status counts and averages.
	Stats(ctx context.Context, owner string) (*Stats, error)

	// HealthCheck verifies the backing store is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases store resources.
	Close() error
}
