package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jobmill/jobmill/pkg/config"
	"github.com/jobmill/jobmill/pkg/observability/logger"
	"github.com/jobmill/jobmill/pkg/queue"
	"github.com/jobmill/jobmill/pkg/store/postgres"
	"github.com/jobmill/jobmill/pkg/worker"
)

// Options defines service-specific hooks for the standard command set.
type Options struct {
	Name        string
	Description string
	ConfigPath  string
	EnvPrefix   string

	// ConfigureWorker registers job handlers before the worker pool starts.
	// Required for the "worker" command to do useful work.
	ConfigureWorker func(cfg *config.Config, log logger.Logger, pool *worker.Pool) error

	// CustomCommands are appended to the root command.
	CustomCommands []*cobra.Command
}

// NewRootCommand creates the standard CLI with worker, migrate, enqueue and
// stats subcommands.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.Name == "" {
		opts.Name = "jobmill"
	}
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = "JOBMILL"
	}

	var cfgPath string
	rootCmd := &cobra.Command{
		Use:           opts.Name,
		Short:         opts.Description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config-file", "c", opts.ConfigPath, "config file path")

	loadConfig := func() (*config.Config, logger.Logger, error) {
		cfg, err := config.NewViperLoader(cfgPath, opts.EnvPrefix).Load()
		if err != nil {
			return nil, nil, err
		}
		level, err := logger.ParseLogLevel(cfg.Logging.Level)
		if err != nil {
			return nil, nil, err
		}
		format, err := logger.ParseLogFormat(cfg.Logging.Format)
		if err != nil {
			return nil, nil, err
		}
		log, err := logger.NewZapLogger(logger.Config{Level: level, Format: format})
		if err != nil {
			return nil, nil, err
		}
		return cfg, log, nil
	}

	rootCmd.AddCommand(newWorkerCommand(opts, loadConfig))
	rootCmd.AddCommand(newMigrateCommand(loadConfig))
	rootCmd.AddCommand(newEnqueueCommand(loadConfig))
	rootCmd.AddCommand(newStatsCommand(loadConfig))
	rootCmd.AddCommand(opts.CustomCommands...)

	return rootCmd
}

// Execute runs the CLI and exits non-zero on error.
func Execute(opts Options) {
	if err := NewRootCommand(opts).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type configLoaderFunc func() (*config.Config, logger.Logger, error)

func newWorkerCommand(opts Options, loadConfig configLoaderFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the worker pool until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}

			service, cleanup, err := buildService(cfg, log)
			if err != nil {
				return err
			}
			defer cleanup()

			pool, err := worker.NewPool(service, log, worker.Config{
				WorkerID:      cfg.Worker.ID,
				PollInterval:  cfg.Worker.PollInterval,
				MaxConcurrent: cfg.Worker.MaxConcurrent,
				StopTimeout:   cfg.Worker.StopTimeout,
			})
			if err != nil {
				return err
			}

			if opts.ConfigureWorker != nil {
				if err := opts.ConfigureWorker(cfg, log, pool); err != nil {
					return fmt.Errorf("configure worker: %w", err)
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return pool.Start(ctx)
		},
	}
}

func newMigrateCommand(loadConfig configLoaderFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}

			adapter, err := newAdapter(cfg, log)
			if err != nil {
				return err
			}
			defer adapter.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			applied, err := adapter.Migrate(ctx)
			if err != nil {
				return err
			}
			log.Info("migrations complete", "applied", applied)
			return nil
		},
	}
}

func newEnqueueCommand(loadConfig configLoaderFunc) *cobra.Command {
	var (
		jobType     string
		payload     string
		priority    int
		maxAttempts int
		owner       string
		scheduleIn  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Create a new job",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}

			service, cleanup, err := buildService(cfg, log)
			if err != nil {
				return err
			}
			defer cleanup()

			input := queue.CreateJobInput{
				Type:        jobType,
				Payload:     json.RawMessage(payload),
				Priority:    priority,
				MaxAttempts: maxAttempts,
			}
			if scheduleIn > 0 {
				at := time.Now().UTC().Add(scheduleIn)
				input.ScheduledFor = &at
			}

			job, err := service.CreateJob(cmd.Context(), owner, input)
			if err != nil {
				return err
			}
			log.Info("job enqueued", "job_id", job.ID, "type", job.Type, "priority", job.Priority)
			return nil
		},
	}

	cmd.Flags().StringVar(&jobType, "type", "", "job type (required)")
	cmd.Flags().StringVar(&payload, "payload", "{}", "JSON payload")
	cmd.Flags().IntVar(&priority, "priority", 0, "job priority (0-100, higher served first)")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "max claim attempts (1-10, default 3)")
	cmd.Flags().StringVar(&owner, "owner", "cli", "job owner reference")
	cmd.Flags().DurationVar(&scheduleIn, "schedule-in", 0, "delay before the job becomes eligible")
	cmd.MarkFlagRequired("type")

	return cmd
}

func newStatsCommand(loadConfig configLoaderFunc) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print queue statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}

			service, cleanup, err := buildService(cfg, log)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := service.GetQueueStats(cmd.Context(), owner)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(stats, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "scope stats to one owner (empty = all)")
	return cmd
}

func newAdapter(cfg *config.Config, log logger.Logger) (*postgres.Adapter, error) {
	return postgres.NewAdapter(postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		QueryTimeout:    cfg.Database.QueryTimeout,
	}, log)
}

// buildService assembles the store, notifier and service from configuration.
// The returned cleanup closes everything in reverse order.
func buildService(cfg *config.Config, log logger.Logger) (*queue.Service, func(), error) {
	adapter, err := newAdapter(cfg, log)
	if err != nil {
		return nil, nil, err
	}

	store, err := queue.NewPostgresStore(adapter, queue.RetryPolicy{
		BackoffBase: cfg.Retry.BackoffBase,
		MaxBackoff:  cfg.Retry.MaxBackoff,
	}, log)
	if err != nil {
		adapter.Close()
		return nil, nil, err
	}

	var notifier queue.Notifier = queue.NopNotifier{}
	if cfg.Notifier.Type == config.NotifierTypeRedis {
		notifier, err = queue.NewRedisNotifier(queue.RedisNotifierConfig{
			URL:              cfg.Notifier.RedisURL,
			ChannelPrefix:    cfg.Notifier.ChannelPrefix,
			OperationTimeout: cfg.Notifier.Timeout,
		})
		if err != nil {
			adapter.Close()
			return nil, nil, err
		}
	}

	service, err := queue.NewService(store, notifier, log)
	if err != nil {
		notifier.Close()
		adapter.Close()
		return nil, nil, err
	}

	cleanup := func() {
		if err := service.Close(); err != nil {
			log.Warn("cleanup failed", "error", err)
		}
	}
	return service, cleanup, nil
}
