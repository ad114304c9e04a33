package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Loader defines the interface for loading configuration.
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader using Viper for configuration management.
type ViperLoader struct {
	configFile string
	envPrefix  string
}

// NewViperLoader creates a new ViperLoader.
// configFile: path to configuration file (optional, can be empty)
// envPrefix: prefix for environment variables (e.g., "JOBMILL")
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: configFile,
		envPrefix:  envPrefix,
	}
}

// Load loads configuration with precedence: ENV > file > defaults.
func (l *ViperLoader) Load() (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	l.setDefaults(v, defaults)

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	v.SetEnvPrefix(l.envPrefix)
	l.bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks cross-field constraints after loading.
func (l *ViperLoader) Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "json", "text", "console":
	default:
		return fmt.Errorf("invalid logging.format %q", cfg.Logging.Format)
	}

	if cfg.Worker.MaxConcurrent <= 0 {
		return fmt.Errorf("worker.max_concurrent must be positive")
	}
	if cfg.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker.poll_interval must be positive")
	}

	if cfg.Retry.BackoffBase <= 0 {
		return fmt.Errorf("retry.backoff_base must be positive")
	}
	if cfg.Retry.MaxBackoff < cfg.Retry.BackoffBase {
		return fmt.Errorf("retry.max_backoff must be >= retry.backoff_base")
	}

	switch cfg.Notifier.Type {
	case NotifierTypeNone:
	case NotifierTypeRedis:
		if strings.TrimSpace(cfg.Notifier.RedisURL) == "" {
			return fmt.Errorf("notifier.redis_url is required when notifier.type is %q", NotifierTypeRedis)
		}
	default:
		return fmt.Errorf("invalid notifier.type %q", cfg.Notifier.Type)
	}

	return nil
}

func (l *ViperLoader) setDefaults(v *viper.Viper, defaults *Config) {
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)

	v.SetDefault("database.url", defaults.Database.URL)
	v.SetDefault("database.max_open_conns", defaults.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaults.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", defaults.Database.ConnMaxLifetime)
	v.SetDefault("database.conn_max_idle_time", defaults.Database.ConnMaxIdleTime)
	v.SetDefault("database.query_timeout", defaults.Database.QueryTimeout)

	v.SetDefault("worker.id", defaults.Worker.ID)
	v.SetDefault("worker.poll_interval", defaults.Worker.PollInterval)
	v.SetDefault("worker.max_concurrent", defaults.Worker.MaxConcurrent)
	v.SetDefault("worker.stop_timeout", defaults.Worker.StopTimeout)

	v.SetDefault("retry.backoff_base", defaults.Retry.BackoffBase)
	v.SetDefault("retry.max_backoff", defaults.Retry.MaxBackoff)

	v.SetDefault("notifier.type", defaults.Notifier.Type)
	v.SetDefault("notifier.redis_url", defaults.Notifier.RedisURL)
	v.SetDefault("notifier.channel_prefix", defaults.Notifier.ChannelPrefix)
	v.SetDefault("notifier.timeout", defaults.Notifier.Timeout)
}

// bindEnvVars explicitly binds environment variables for nested structs.
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	v.BindEnv("logging.level", l.prefixedEnv("LOG_LEVEL"))
	v.BindEnv("logging.format", l.prefixedEnv("LOG_FORMAT"))

	v.BindEnv("database.url", l.prefixedEnv("DATABASE_URL"))
	v.BindEnv("database.max_open_conns", l.prefixedEnv("DATABASE_MAX_OPEN_CONNS"))
	v.BindEnv("database.max_idle_conns", l.prefixedEnv("DATABASE_MAX_IDLE_CONNS"))
	v.BindEnv("database.conn_max_lifetime", l.prefixedEnv("DATABASE_CONN_MAX_LIFETIME"))
	v.BindEnv("database.conn_max_idle_time", l.prefixedEnv("DATABASE_CONN_MAX_IDLE_TIME"))
	v.BindEnv("database.query_timeout", l.prefixedEnv("DATABASE_QUERY_TIMEOUT"))

	v.BindEnv("worker.id", l.prefixedEnv("WORKER_ID"))
	v.BindEnv("worker.poll_interval", l.prefixedEnv("WORKER_POLL_INTERVAL"))
	v.BindEnv("worker.max_concurrent", l.prefixedEnv("WORKER_MAX_CONCURRENT"))
	v.BindEnv("worker.stop_timeout", l.prefixedEnv("WORKER_STOP_TIMEOUT"))

	v.BindEnv("retry.backoff_base", l.prefixedEnv("RETRY_BACKOFF_BASE"))
	v.BindEnv("retry.max_backoff", l.prefixedEnv("RETRY_MAX_BACKOFF"))

	v.BindEnv("notifier.type", l.prefixedEnv("NOTIFIER_TYPE"))
	v.BindEnv("notifier.redis_url", l.prefixedEnv("NOTIFIER_REDIS_URL"))
	v.BindEnv("notifier.channel_prefix", l.prefixedEnv("NOTIFIER_CHANNEL_PREFIX"))
	v.BindEnv("notifier.timeout", l.prefixedEnv("NOTIFIER_TIMEOUT"))
}

func (l *ViperLoader) prefixedEnv(name string) string {
	if l.envPrefix == "" {
		return name
	}
	return l.envPrefix + "_" + name
}
