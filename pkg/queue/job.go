package queue

import (
	"encoding/json"
	"strings"
	"time"
)

// Job defaults and bounds applied when creating jobs.
const (
	DefaultPriority    = 0
	DefaultMaxAttempts = 3
	MinPriority        = 0
	MaxPriority        = 100
	MinMaxAttempts     = 1
	MaxMaxAttempts     = 10
)

// Status is the lifecycle state of a job.
type Status string

// Lifecycle states. PENDING is initial; COMPLETED and CANCELLED are terminal;
// DEAD is terminal unless explicitly revived through RetryDead. FAILED is a
// delayed PENDING: the job becomes claimable again once ScheduledFor elapses.
const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusDead       Status = "DEAD"
	StatusCancelled  Status = "CANCELLED"
)

// Statuses lists every lifecycle state, for iteration and validation.
var Statuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusDead,
	StatusCancelled,
}

// ParseStatus converts a string into a Status.
func ParseStatus(s string) (Status, error) {
	candidate := Status(strings.ToUpper(strings.TrimSpace(s)))
	for _, status := range Statuses {
		if candidate == status {
			return status, nil
		}
	}
	return "", queueError(ErrValidation, "unknown job status "+s)
}

// Job is one persisted unit of work. The store exclusively owns this state;
// workers only hold transient references to jobs they currently process.
type Job struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	Status       Status          `json:"status"`
	Priority     int             `json:"priority"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"maxAttempts"`
	Error        *string         `json:"error,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	ScheduledFor *time.Time      `json:"scheduledFor,omitempty"`
	StartedAt    *time.Time      `json:"startedAt,omitempty"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	CreatedBy    string          `json:"createdBy"`
	WorkerID     *string         `json:"workerId,omitempty"`
}

// Clone returns a deep copy so callers never alias store-owned state.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	out.Payload = cloneBytes(j.Payload)
	out.Result = cloneBytes(j.Result)
	out.Error = cloneString(j.Error)
	out.WorkerID = cloneString(j.WorkerID)
	out.ScheduledFor = cloneTime(j.ScheduledFor)
	out.StartedAt = cloneTime(j.StartedAt)
	out.CompletedAt = cloneTime(j.CompletedAt)
	return &out
}

// JobAttempt records one claim of a job. Rows are created atomically with the
// claim and closed by the transaction that completes or fails the job;
// history is immutable once closed.
type JobAttempt struct {
	ID            string     `json:"id"`
	JobID         string     `json:"jobId"`
	AttemptNumber int        `json:"attemptNumber"`
	StartedAt     time.Time  `json:"startedAt"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty"`
	Error         *string    `json:"error,omitempty"`
}

// Clone returns a deep copy of the attempt record.
func (a *JobAttempt) Clone() *JobAttempt {
	if a == nil {
		return nil
	}
	out := *a
	out.FinishedAt = cloneTime(a.FinishedAt)
	out.Error = cloneString(a.Error)
	return &out
}

// CreateJobInput describes a new job. Zero Priority and MaxAttempts take the
// defaults; a nil ScheduledFor means immediately eligible.
type CreateJobInput struct {
	Type         string
	Payload      json.RawMessage
	Priority     int
	MaxAttempts  int
	ScheduledFor *time.Time
	CreatedBy    string
}

// Validate checks bounds and applies defaults in place.
func (in *CreateJobInput) Validate() error {
	if in == nil {
		return queueError(ErrValidation, "input is nil")
	}
	in.Type = strings.TrimSpace(in.Type)
	if in.Type == "" {
		return queueError(ErrValidation, "job type is required")
	}
	if strings.TrimSpace(in.CreatedBy) == "" {
		return queueError(ErrValidation, "job owner is required")
	}
	if in.Priority < MinPriority || in.Priority > MaxPriority {
		return queueError(ErrValidation, "job priority must be between 0 and 100")
	}
	if in.MaxAttempts == 0 {
		in.MaxAttempts = DefaultMaxAttempts
	}
	if in.MaxAttempts < MinMaxAttempts || in.MaxAttempts > MaxMaxAttempts {
		return queueError(ErrValidation, "job max attempts must be between 1 and 10")
	}
	if len(in.Payload) == 0 {
		in.Payload = json.RawMessage(`{}`)
	}
	return nil
}

// MarshalPayload marshals an arbitrary payload value for CreateJobInput.
func MarshalPayload(payload any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, queueError(ErrValidation, "marshal job payload failed: "+err.Error())
	}
	return data, nil
}

func cloneBytes(input []byte) []byte {
	if len(input) == 0 {
		return nil
	}
	out := make([]byte, len(input))
	copy(out, input)
	return out
}

func cloneString(input *string) *string {
	if input == nil {
		return nil
	}
	out := *input
	return &out
}

func cloneTime(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	out := *input
	return &out
}
