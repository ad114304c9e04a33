package queue

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for embedded use and tests. A single
// mutex serializes claims, which satisfies the atomic-claim requirement
// without a backing database.
type MemoryStore struct {
	mu       sync.Mutex
	jobs     map[string]*Job
	attempts map[string][]*JobAttempt
	policy   RetryPolicy
	now      func() time.Time
	closed   bool
}

// MemoryStoreOption customizes a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(policy RetryPolicy) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.policy = policy
	}
}

// WithClock overrides the time source. Tests use it to drive backoff
// eligibility deterministically.
func WithClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		jobs:     map[string]*Job{},
		attempts: map[string][]*JobAttempt{},
		policy:   DefaultRetryPolicy(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create inserts a new PENDING job.
func (s *MemoryStore) Create(ctx context.Context, input CreateJobInput) (*Job, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, queueError(ErrInternal, "store is closed")
	}

	now := s.now()
	job := &Job{
		ID:           uuid.NewString(),
		Type:         input.Type,
		Payload:      cloneBytes(input.Payload),
		Status:       StatusPending,
		Priority:     input.Priority,
		Attempts:     0,
		MaxAttempts:  input.MaxAttempts,
		ScheduledFor: cloneTime(input.ScheduledFor),
		CreatedAt:    now,
		CreatedBy:    input.CreatedBy,
	}
	s.jobs[job.ID] = job
	recordJobCreated(job.Type)
	return job.Clone(), nil
}

// GetByID returns the job, scoped to owner unless owner is empty.
func (s *MemoryStore) GetByID(ctx context.Context, id, owner string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.lookup(id, owner)
	if err != nil {
		return nil, err
	}
	return job.Clone(), nil
}

// List returns a page ordered priority DESC, createdAt DESC plus the total.
func (s *MemoryStore) List(ctx context.Context, filter ListFilter) ([]*Job, int, error) {
	filter.normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Owner != "" && job.CreatedBy != filter.Owner {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.Type != "" && job.Type != filter.Type {
			continue
		}
		matched = append(matched, job)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority > matched[j].Priority
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if filter.Offset >= total {
		return []*Job{}, total, nil
	}
	end := filter.Offset + filter.Limit
	if end > total {
		end = total
	}

	page := make([]*Job, 0, end-filter.Offset)
	for _, job := range matched[filter.Offset:end] {
		page = append(page, job.Clone())
	}
	return page, total, nil
}

// ClaimNext atomically claims the next eligible job for workerID.
func (s *MemoryStore) ClaimNext(ctx context.Context, workerID string) (*Job, error) {
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return nil, queueError(ErrValidation, "worker id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, queueError(ErrInternal, "store is closed")
	}

	now := s.now()
	var candidate *Job
	for _, job := range s.jobs {
		if job.Status != StatusPending && job.Status != StatusFailed {
			continue
		}
		if job.ScheduledFor != nil && job.ScheduledFor.After(now) {
			continue
		}
		if candidate == nil {
			candidate = job
			continue
		}
		if job.Priority > candidate.Priority ||
			(job.Priority == candidate.Priority && job.CreatedAt.Before(candidate.CreatedAt)) {
			candidate = job
		}
	}
	if candidate == nil {
		return nil, nil
	}

	candidate.Status = StatusProcessing
	candidate.Attempts++
	candidate.WorkerID = &workerID
	startedAt := now
	candidate.StartedAt = &startedAt

	attempt := &JobAttempt{
		ID:            uuid.NewString(),
		JobID:         candidate.ID,
		AttemptNumber: candidate.Attempts,
		StartedAt:     now,
	}
	s.attempts[candidate.ID] = append(s.attempts[candidate.ID], attempt)

	recordJobClaimed(candidate.Type)
	return candidate.Clone(), nil
}

// Complete resolves a PROCESSING job owned by workerID to COMPLETED.
func (s *MemoryStore) Complete(ctx context.Context, id, workerID string, result json.RawMessage) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.lookupOwned(id, workerID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	job.Status = StatusCompleted
	job.CompletedAt = &now
	job.Result = cloneBytes(result)
	job.WorkerID = nil

	s.closeAttempt(job.ID, job.Attempts, now, nil)
	recordJobResolved(job.Type, "completed")
	return job.Clone(), nil
}

// Fail records a failed attempt and applies the retry policy.
func (s *MemoryStore) Fail(ctx context.Context, id, workerID, message string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.lookupOwned(id, workerID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	s.closeAttempt(job.ID, job.Attempts, now, &message)

	decision := s.policy.Decide(job.Attempts, job.MaxAttempts, now)
	job.Status = decision.Status
	job.ScheduledFor = cloneTime(decision.ScheduledFor)
	job.Error = &message
	job.WorkerID = nil

	if decision.Status == StatusDead {
		recordJobResolved(job.Type, "dead")
	} else {
		recordJobResolved(job.Type, "failed")
		recordRetryScheduled(job.Type)
	}
	return job.Clone(), nil
}

// Cancel transitions a PENDING or FAILED job to CANCELLED.
func (s *MemoryStore) Cancel(ctx context.Context, id, owner string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.lookup(id, owner)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case StatusCompleted:
		return nil, queueError(ErrBadRequest, "cannot cancel completed job")
	case StatusCancelled:
		return nil, queueError(ErrConflict, "job already cancelled")
	case StatusPending, StatusFailed:
	default:
		return nil, queueError(ErrBadRequest, "only pending or failed jobs can be cancelled")
	}

	job.Status = StatusCancelled
	recordJobResolved(job.Type, "cancelled")
	return job.Clone(), nil
}

// RetryDead revives a DEAD job for immediate claiming.
func (s *MemoryStore) RetryDead(ctx context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.lookup(id, "")
	if err != nil {
		return nil, err
	}
	if job.Status != StatusDead {
		return nil, queueError(ErrBadRequest, "only dead jobs can be retried")
	}

	now := s.now()
	job.Status = StatusPending
	job.Attempts = 0
	job.Error = nil
	job.WorkerID = nil
	job.ScheduledFor = &now
	return job.Clone(), nil
}

// Attempts returns the attempt history ascending by attemptNumber.
func (s *MemoryStore) Attempts(ctx context.Context, id, owner string) ([]*JobAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.lookup(id, owner); err != nil {
		return nil, err
	}

	history := s.attempts[id]
	out := make([]*JobAttempt, 0, len(history))
	for _, attempt := range history {
		out = append(out, attempt.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AttemptNumber < out[j].AttemptNumber
	})
	return out, nil
}

// Stats aggregates counts and averages for owner, or everything when owner
// is empty.
func (s *MemoryStore) Stats(ctx context.Context, owner string) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &Stats{}
	var prioritySum, attemptsSum float64
	var processingSumMs float64
	var processedCount int

	for _, job := range s.jobs {
		if owner != "" && job.CreatedBy != owner {
			continue
		}
		switch job.Status {
		case StatusPending:
			stats.Pending++
		case StatusProcessing:
			stats.Processing++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		case StatusDead:
			stats.Dead++
		case StatusCancelled:
			stats.Cancelled++
		}
		stats.TotalJobs++
		prioritySum += float64(job.Priority)
		attemptsSum += float64(job.Attempts)

		if job.Status == StatusCompleted && job.StartedAt != nil && job.CompletedAt != nil {
			processingSumMs += float64(job.CompletedAt.Sub(*job.StartedAt).Milliseconds())
			processedCount++
		}
	}

	if stats.TotalJobs > 0 {
		stats.AveragePriority = prioritySum / float64(stats.TotalJobs)
		stats.AverageAttempts = attemptsSum / float64(stats.TotalJobs)
	}
	if processedCount > 0 {
		stats.AverageProcessingTimeMs = processingSumMs / float64(processedCount)
	}
	return stats, nil
}

// HealthCheck reports whether the store accepts operations.
func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return queueError(ErrInternal, "store is closed")
	}
	return nil
}

// Close marks the store closed; subsequent mutations fail.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// lookup finds a job by id, optionally scoped to owner. Caller holds the lock.
func (s *MemoryStore) lookup(id, owner string) (*Job, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, queueError(ErrNotFound, "job not found")
	}
	if owner != "" && job.CreatedBy != owner {
		return nil, queueError(ErrNotFound, "job not found")
	}
	return job, nil
}

// lookupOwned finds a PROCESSING job currently owned by workerID. Any
// mismatch surfaces as not-found: the job is not visible to that worker in
// that state.
func (s *MemoryStore) lookupOwned(id, workerID string) (*Job, error) {
	job, ok := s.jobs[id]
	if !ok || job.Status != StatusProcessing || job.WorkerID == nil || *job.WorkerID != workerID {
		return nil, queueError(ErrNotFound, "job not found or not assigned to this worker")
	}
	return job, nil
}

// closeAttempt sets finishedAt (and error) on the attempt row for
// attemptNumber. Caller holds the lock.
func (s *MemoryStore) closeAttempt(jobID string, attemptNumber int, finishedAt time.Time, errMsg *string) {
	for _, attempt := range s.attempts[jobID] {
		if attempt.AttemptNumber == attemptNumber && attempt.FinishedAt == nil {
			attempt.FinishedAt = &finishedAt
			attempt.Error = cloneString(errMsg)
			return
		}
	}
}
