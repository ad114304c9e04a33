package postgres

import (
	"context"
	"fmt"
)

// migration is one versioned schema step. Versions are applied in order and
// recorded in schema_migrations so reruns are no-ops.
type migration struct {
	Version int64
	Name    string
	SQL     string
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "create_jobs",
		SQL: `
CREATE TABLE IF NOT EXISTS jobs (
	id            UUID PRIMARY KEY,
	type          TEXT NOT NULL,
	payload       JSONB NOT NULL DEFAULT '{}'::jsonb,
	status        TEXT NOT NULL DEFAULT 'PENDING',
	priority      INTEGER NOT NULL DEFAULT 0,
	attempts      INTEGER NOT NULL DEFAULT 0,
	max_attempts  INTEGER NOT NULL DEFAULT 3,
	error         TEXT,
	result        JSONB,
	scheduled_for TIMESTAMPTZ,
	started_at    TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_by    TEXT NOT NULL,
	worker_id     TEXT
);
CREATE INDEX IF NOT EXISTS idx_jobs_claim
	ON jobs (priority DESC, created_at ASC)
	WHERE status IN ('PENDING', 'FAILED');
CREATE INDEX IF NOT EXISTS idx_jobs_created_by ON jobs (created_by);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status);`,
	},
	{
		Version: 2,
		Name:    "create_job_attempts",
		SQL: `
CREATE TABLE IF NOT EXISTS job_attempts (
	id             UUID PRIMARY KEY,
	job_id         UUID NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	attempt_number INTEGER NOT NULL,
	started_at     TIMESTAMPTZ NOT NULL,
	finished_at    TIMESTAMPTZ,
	error          TEXT,
	UNIQUE (job_id, attempt_number)
);
CREATE INDEX IF NOT EXISTS idx_job_attempts_job ON job_attempts (job_id, attempt_number);`,
	},
}

// Migrate applies all pending schema migrations. Each step runs in its own
// transaction together with its schema_migrations bookkeeping row.
func (a *Adapter) Migrate(ctx context.Context) (int, error) {
	if _, err := a.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version    BIGINT PRIMARY KEY,
	name       TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`); err != nil {
		return 0, fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	applied := 0
	for _, m := range migrations {
		var exists bool
		err := a.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, m.Version,
		).Scan(&exists)
		if err != nil {
			return applied, fmt.Errorf("failed to check migration %d: %w", m.Version, err)
		}
		if exists {
			continue
		}

		err = a.WithTransaction(ctx, func(txCtx context.Context) error {
			if _, err := a.ExecContext(txCtx, m.SQL); err != nil {
				return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Name, err)
			}
			if _, err := a.ExecContext(txCtx,
				`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name,
			); err != nil {
				return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
			}
			return nil
		})
		if err != nil {
			return applied, err
		}

		a.logger.Info("applied schema migration", "version", m.Version, "name", m.Name)
		applied++
	}

	return applied, nil
}
