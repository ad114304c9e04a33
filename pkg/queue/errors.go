package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation classifies malformed create input.
	ErrValidation = errors.New("queue validation error")
	// ErrNotFound classifies missing jobs, jobs not owned by the caller, or
	// jobs not in the state an owning-worker operation expects.
	ErrNotFound = errors.New("queue not found")
	// ErrBadRequest classifies illegal lifecycle transitions.
	ErrBadRequest = errors.New("queue bad request")
	// ErrConflict classifies cancel attempts on already-cancelled jobs.
	ErrConflict = errors.New("queue conflict")
	// ErrInternal classifies store or transaction failures.
	ErrInternal = errors.New("queue internal error")
)

func queueError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
