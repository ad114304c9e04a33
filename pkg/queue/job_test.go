package queue

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestCreateJobInput_Validate(t *testing.T) {
	scheduled := time.Now().Add(time.Hour)

	tests := []struct {
		name    string
		input   *CreateJobInput
		wantErr error
		check   func(t *testing.T, in *CreateJobInput)
	}{
		{
			name:  "defaults applied",
			input: &CreateJobInput{Type: "email:send", CreatedBy: "user-1"},
			check: func(t *testing.T, in *CreateJobInput) {
				if in.Priority != DefaultPriority {
					t.Errorf("priority = %d, want %d", in.Priority, DefaultPriority)
				}
				if in.MaxAttempts != DefaultMaxAttempts {
					t.Errorf("max attempts = %d, want %d", in.MaxAttempts, DefaultMaxAttempts)
				}
				if string(in.Payload) != "{}" {
					t.Errorf("payload = %s, want {}", in.Payload)
				}
			},
		},
		{
			name: "explicit values kept",
			input: &CreateJobInput{
				Type:         "  report:generate  ",
				Payload:      json.RawMessage(`{"month":"march"}`),
				Priority:     80,
				MaxAttempts:  5,
				ScheduledFor: &scheduled,
				CreatedBy:    "user-2",
			},
			check: func(t *testing.T, in *CreateJobInput) {
				if in.Type != "report:generate" {
					t.Errorf("type = %q, want trimmed value", in.Type)
				}
				if in.Priority != 80 || in.MaxAttempts != 5 {
					t.Errorf("priority/maxAttempts = %d/%d, want 80/5", in.Priority, in.MaxAttempts)
				}
			},
		},
		{
			name:    "nil input",
			input:   nil,
			wantErr: ErrValidation,
		},
		{
			name:    "missing type",
			input:   &CreateJobInput{Type: "   ", CreatedBy: "user-1"},
			wantErr: ErrValidation,
		},
		{
			name:    "missing owner",
			input:   &CreateJobInput{Type: "email:send"},
			wantErr: ErrValidation,
		},
		{
			name:    "priority below range",
			input:   &CreateJobInput{Type: "email:send", CreatedBy: "user-1", Priority: -1},
			wantErr: ErrValidation,
		},
		{
			name:    "priority above range",
			input:   &CreateJobInput{Type: "email:send", CreatedBy: "user-1", Priority: 101},
			wantErr: ErrValidation,
		},
		{
			name:    "max attempts above range",
			input:   &CreateJobInput{Type: "email:send", CreatedBy: "user-1", MaxAttempts: 11},
			wantErr: ErrValidation,
		},
		{
			name:    "max attempts below range",
			input:   &CreateJobInput{Type: "email:send", CreatedBy: "user-1", MaxAttempts: -2},
			wantErr: ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.input.Validate()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() unexpected error: %v", err)
			}
			if tt.check != nil {
				tt.check(t, tt.input)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		input   string
		want    Status
		wantErr bool
	}{
		{input: "PENDING", want: StatusPending},
		{input: "pending", want: StatusPending},
		{input: "  Processing ", want: StatusProcessing},
		{input: "dead", want: StatusDead},
		{input: "CANCELLED", want: StatusCancelled},
		{input: "RUNNING", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseStatus(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParseStatus(%q) error = %v, want validation error", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseStatus(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseStatus(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestJob_CloneIsDeep(t *testing.T) {
	errMsg := "boom"
	workerID := "worker-1"
	now := time.Now()

	original := &Job{
		ID:           "job-1",
		Type:         "email:send",
		Payload:      json.RawMessage(`{"to":"a@example.com"}`),
		Status:       StatusProcessing,
		Error:        &errMsg,
		WorkerID:     &workerID,
		ScheduledFor: &now,
		CreatedAt:    now,
	}

	clone := original.Clone()
	clone.Payload[2] = 'X'
	*clone.Error = "changed"
	*clone.WorkerID = "worker-2"
	*clone.ScheduledFor = now.Add(time.Hour)

	if string(original.Payload) != `{"to":"a@example.com"}` {
		t.Errorf("payload mutated through clone: %s", original.Payload)
	}
	if *original.Error != "boom" {
		t.Errorf("error mutated through clone: %s", *original.Error)
	}
	if *original.WorkerID != "worker-1" {
		t.Errorf("worker ID mutated through clone: %s", *original.WorkerID)
	}
	if !original.ScheduledFor.Equal(now) {
		t.Errorf("scheduledFor mutated through clone")
	}

	var nilJob *Job
	if nilJob.Clone() != nil {
		t.Error("Clone of nil job should be nil")
	}
}

func TestMarshalPayload(t *testing.T) {
	data, err := MarshalPayload(map[string]string{"key": "value"})
	if err != nil {
		t.Fatalf("MarshalPayload() unexpected error: %v", err)
	}
	if string(data) != `{"key":"value"}` {
		t.Errorf("MarshalPayload() = %s", data)
	}

	if _, err := MarshalPayload(func() {}); !errors.Is(err, ErrValidation) {
		t.Errorf("MarshalPayload(func) error = %v, want validation error", err)
	}
}
