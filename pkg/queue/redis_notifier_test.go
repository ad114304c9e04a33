package queue

import (
	"testing"
	"time"
)

func TestRedisNotifierConfig_Normalize(t *testing.T) {
	tests := []struct {
		name        string
		cfg         RedisNotifierConfig
		wantPrefix  string
		wantTimeout time.Duration
	}{
		{
			name:        "defaults filled",
			cfg:         RedisNotifierConfig{URL: "redis://localhost:6379"},
			wantPrefix:  "jobmill:events",
			wantTimeout: 5 * time.Second,
		},
		{
			name: "explicit values kept",
			cfg: RedisNotifierConfig{
				URL:              "redis://localhost:6379",
				ChannelPrefix:    "myapp:jobs",
				OperationTimeout: time.Second,
			},
			wantPrefix:  "myapp:jobs",
			wantTimeout: time.Second,
		},
		{
			name:        "blank prefix replaced",
			cfg:         RedisNotifierConfig{URL: "redis://localhost:6379", ChannelPrefix: "   "},
			wantPrefix:  "jobmill:events",
			wantTimeout: 5 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.normalize()
			if tt.cfg.ChannelPrefix != tt.wantPrefix {
				t.Errorf("prefix = %q, want %q", tt.cfg.ChannelPrefix, tt.wantPrefix)
			}
			if tt.cfg.OperationTimeout != tt.wantTimeout {
				t.Errorf("timeout = %v, want %v", tt.cfg.OperationTimeout, tt.wantTimeout)
			}
		})
	}
}

func TestRedisNotifier_Channel(t *testing.T) {
	n := &RedisNotifier{config: RedisNotifierConfig{ChannelPrefix: "jobmill:events"}}

	tests := []struct {
		owner string
		want  string
	}{
		{owner: "user-1", want: "jobmill:events:user:user-1"},
		{owner: "  user-2  ", want: "jobmill:events:user:user-2"},
		{owner: "", want: "jobmill:events:user:"},
	}

	for _, tt := range tests {
		if got := n.Channel(tt.owner); got != tt.want {
			t.Errorf("Channel(%q) = %q, want %q", tt.owner, got, tt.want)
		}
	}
}

func TestNewRedisNotifier_RejectsBadInput(t *testing.T) {
	if _, err := NewRedisNotifier(RedisNotifierConfig{URL: ""}); err == nil {
		t.Error("NewRedisNotifier accepted an empty URL")
	}
	if _, err := NewRedisNotifier(RedisNotifierConfig{URL: "not a url"}); err == nil {
		t.Error("NewRedisNotifier accepted a malformed URL")
	}
}
