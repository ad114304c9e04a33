package queue

import (
	"context"
	"time"
)

// Notification event names. job:updated fires on every status transition.
const (
	EventJobCreated = "job:created"
	EventJobUpdated = "job:updated"
)

// Event carries a full job snapshot to the notification sink.
type Event struct {
	Event     string    `json:"event"`
	Job       *Job      `json:"job"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier pushes job state transitions to an external sink. Delivery is
// fire-and-forget from the engine's perspective: callers log Notify errors
// and move on. The engine does not manage subscriptions.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
	Close() error
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) error { return nil }

func (NopNotifier) Close() error { return nil }
