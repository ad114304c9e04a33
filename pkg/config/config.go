package config

import "time"

// Notifier type constants
const (
	// NotifierTypeNone disables notifications
	NotifierTypeNone = "none"
	// NotifierTypeRedis publishes events over Redis pub/sub
	NotifierTypeRedis = "redis"
)

// Config is the root configuration for the job queue engine.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Notifier NotifierConfig `mapstructure:"notifier"`
}

// LoggingConfig configures structured logging output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig configures the PostgreSQL connection pool.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
}

// WorkerConfig configures the poll/dispatch loop of one worker process.
type WorkerConfig struct {
	ID            string        `mapstructure:"id"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	StopTimeout   time.Duration `mapstructure:"stop_timeout"`
}

// RetryConfig configures the backoff policy applied to failed jobs.
type RetryConfig struct {
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
}

// NotifierConfig configures the optional notification sink.
type NotifierConfig struct {
	Type          string        `mapstructure:"type"`
	RedisURL      string        `mapstructure:"redis_url"`
	ChannelPrefix string        `mapstructure:"channel_prefix"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// DefaultConfig returns the engine defaults. Policy constants live here
// rather than as literals in the engine.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			QueryTimeout:    10 * time.Second,
		},
		Worker: WorkerConfig{
			PollInterval:  5 * time.Second,
			MaxConcurrent: 5,
			StopTimeout:   30 * time.Second,
		},
		Retry: RetryConfig{
			BackoffBase: time.Second,
			MaxBackoff:  5 * time.Minute,
		},
		Notifier: NotifierConfig{
			Type:          NotifierTypeNone,
			ChannelPrefix: "jobmill:events",
			Timeout:       5 * time.Second,
		},
	}
}
