package logger

import (
	"context"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    LogLevel
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"info", InfoLevel, false},
		{"warn", WarnLevel, false},
		{"warning", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"fatal", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLogLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLogLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseLogFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    LogFormat
		wantErr bool
	}{
		{"json", JSONFormat, false},
		{"text", TextFormat, false},
		{"console", TextFormat, false},
		{"xml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLogFormat(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLogFormat(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLogFormat(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewZapLogger_DefaultsOnUnknownLevel(t *testing.T) {
	log, err := NewZapLogger(Config{Level: "bogus", Format: JSONFormat})
	if err != nil {
		t.Fatalf("NewZapLogger() error = %v", err)
	}
	if log == nil {
		t.Fatal("expected logger instance")
	}
	log.Info("engine starting", "component", "test")
}

func TestJobIDFromContext(t *testing.T) {
	if got := JobIDFromContext(context.Background()); got != "" {
		t.Errorf("expected empty job id, got %q", got)
	}

	ctx := ContextWithJobID(context.Background(), "job-123")
	if got := JobIDFromContext(ctx); got != "job-123" {
		t.Errorf("JobIDFromContext() = %q, want %q", got, "job-123")
	}
}

func TestWithContext_AttachesJobID(t *testing.T) {
	log, err := NewZapLogger(DefaultConfig())
	if err != nil {
		t.Fatalf("NewZapLogger() error = %v", err)
	}

	child := log.WithContext(ContextWithJobID(context.Background(), "job-456"))
	if child == nil {
		t.Fatal("expected child logger")
	}
	// Without a job id in context the same logger is returned.
	if same := log.WithContext(context.Background()); same != Logger(log) {
		t.Error("expected identical logger when context has no job id")
	}
}
