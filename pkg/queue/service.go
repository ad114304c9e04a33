package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jobmill/jobmill/pkg/observability/logger"
)

// Service is the engine surface consumed by the caller layer and the worker
// pool. It scopes reads to owners, guards lifecycle transitions through the
// store, and pushes a notification on every state change. Callers acting as
// admin pass an empty owner.
type Service struct {
	store    Store
	notifier Notifier
	log      logger.Logger
}

// NewService wires a store and a notifier. A nil notifier disables
// notifications.
func NewService(store Store, notifier Notifier, log logger.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Service{
		store:    store,
		notifier: notifier,
		log:      log,
	}, nil
}

// CreateJob validates and persists a new job for owner.
func (s *Service) CreateJob(ctx context.Context, owner string, input CreateJobInput) (*Job, error) {
	input.CreatedBy = owner
	job, err := s.store.Create(ctx, input)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, EventJobCreated, job)
	return job, nil
}

// GetJob returns a single job scoped to owner.
func (s *Service) GetJob(ctx context.Context, id, owner string) (*Job, error) {
	return s.store.GetByID(ctx, id, owner)
}

// ListJobs returns a page of jobs and the total count. Pagination is
// clamped by the store (limit 1..100, offset >= 0).
func (s *Service) ListJobs(ctx context.Context, filter ListFilter) ([]*Job, int, error) {
	return s.store.List(ctx, filter)
}

// CancelJob cancels a pre-terminal job owned by owner.
func (s *Service) CancelJob(ctx context.Context, id, owner string) (*Job, error) {
	job, err := s.store.Cancel(ctx, id, owner)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, EventJobUpdated, job)
	return job, nil
}

// RetryDeadJob revives a dead-lettered job. Admin-only: callers must gate
// access before invoking it.
func (s *Service) RetryDeadJob(ctx context.Context, id string) (*Job, error) {
	job, err := s.store.RetryDead(ctx, id)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, EventJobUpdated, job)
	return job, nil
}

// GetQueueStats aggregates queue health for owner (all owners when empty).
func (s *Service) GetQueueStats(ctx context.Context, owner string) (*Stats, error) {
	return s.store.Stats(ctx, owner)
}

// GetJobAttempts returns the attempt history for a job owned by owner.
func (s *Service) GetJobAttempts(ctx context.Context, id, owner string) ([]*JobAttempt, error) {
	return s.store.Attempts(ctx, id, owner)
}

// ClaimNext hands the next eligible job to workerID. Used by the worker
// pool, never by the caller layer.
func (s *Service) ClaimNext(ctx context.Context, workerID string) (*Job, error) {
	job, err := s.store.ClaimNext(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if job != nil {
		s.notify(ctx, EventJobUpdated, job)
	}
	return job, nil
}

// Complete resolves a claimed job as successful.
func (s *Service) Complete(ctx context.Context, id, workerID string, result json.RawMessage) (*Job, error) {
	job, err := s.store.Complete(ctx, id, workerID, result)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, EventJobUpdated, job)
	return job, nil
}

// Fail resolves a claimed job as failed; the store applies retry/backoff.
func (s *Service) Fail(ctx context.Context, id, workerID, message string) (*Job, error) {
	job, err := s.store.Fail(ctx, id, workerID, message)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, EventJobUpdated, job)
	return job, nil
}

// HealthCheck verifies the backing store.
func (s *Service) HealthCheck(ctx context.Context) error {
	return s.store.HealthCheck(ctx)
}

// Close releases the notifier and the store.
func (s *Service) Close() error {
	return errors.Join(s.notifier.Close(), s.store.Close())
}

// notify pushes a transition event. Delivery failures are logged and
// counted, never propagated: the lifecycle transition already committed.
func (s *Service) notify(ctx context.Context, name string, job *Job) {
	event := Event{
		Event:     name,
		Job:       job,
		Timestamp: time.Now().UTC(),
	}
	if err := s.notifier.Notify(ctx, event); err != nil {
		recordNotificationFailed(name)
		s.log.Warn("notification publish failed", "event", name, "job_id", job.ID, "error", err)
	}
}
