package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
)

// migration is one versioned schema change. Statements run inside a single
// transaction together with the schema_migrations bookkeeping row, so a
// partially applied migration can never be recorded as done.
type migration struct {
	version int
	name    string
	stmts   []string
}

// migrations is the ordered schema history. Append only; never edit an
// entry that has shipped.
var migrations = []migration{
	{
		version: 1,
		name:    "create users",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS users (
				user_id TEXT PRIMARY KEY,
				timezone TEXT,
				birthday TIMESTAMP,
				bonk_xp INTEGER NOT NULL DEFAULT 0,
				boop_xp INTEGER NOT NULL DEFAULT 0,
				bite_xp INTEGER NOT NULL DEFAULT 0,
				pat_xp INTEGER NOT NULL DEFAULT 0,
				poke_xp INTEGER NOT NULL DEFAULT 0,
				smooch_xp INTEGER NOT NULL DEFAULT 0,
				bonks_sent INTEGER NOT NULL DEFAULT 0,
				boops_sent INTEGER NOT NULL DEFAULT 0,
				bites_sent INTEGER NOT NULL DEFAULT 0,
				pats_sent INTEGER NOT NULL DEFAULT 0,
				pokes_sent INTEGER NOT NULL DEFAULT 0,
				smoochs_sent INTEGER NOT NULL DEFAULT 0,
				bonks_received INTEGER NOT NULL DEFAULT 0,
				boops_received INTEGER NOT NULL DEFAULT 0,
				bites_received INTEGER NOT NULL DEFAULT 0,
				pats_received INTEGER NOT NULL DEFAULT 0,
				pokes_received INTEGER NOT NULL DEFAULT 0,
				smoochs_received INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
		},
	},
	{
		version: 2,
		name:    "create interactions",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS interactions (
				kind TEXT NOT NULL,
				from_user_id TEXT NOT NULL REFERENCES users(user_id),
				to_user_id TEXT NOT NULL REFERENCES users(user_id),
				count INTEGER NOT NULL DEFAULT 1,
				last_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (kind, from_user_id, to_user_id)
			)`,
		},
	},
	{
		version: 3,
		name:    "create queue jobs and schedules",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS queue_jobs (
				id UUID PRIMARY KEY,
				queue TEXT NOT NULL,
				payload JSONB NOT NULL DEFAULT '{}'::jsonb,
				singleton_key TEXT,
				state TEXT NOT NULL DEFAULT 'created',
				retry_count INTEGER NOT NULL DEFAULT 0,
				retry_limit INTEGER NOT NULL DEFAULT 0,
				retry_backoff BOOLEAN NOT NULL DEFAULT FALSE,
				start_after TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				started_at TIMESTAMPTZ,
				completed_at TIMESTAMPTZ,
				last_error TEXT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			// At most one pending job per (queue, singleton_key). Only the
			// created state participates: an active job must not block the
			// handler from submitting the next occurrence of the same key,
			// and finished history never blocks a fresh submission.
			`CREATE UNIQUE INDEX IF NOT EXISTS queue_jobs_singleton_idx
				ON queue_jobs (queue, singleton_key)
				WHERE singleton_key IS NOT NULL AND state = 'created'`,
			`CREATE INDEX IF NOT EXISTS queue_jobs_fetch_idx
				ON queue_jobs (queue, start_after)
				WHERE state = 'created'`,
			`CREATE TABLE IF NOT EXISTS queue_schedules (
				name TEXT PRIMARY KEY,
				queue TEXT NOT NULL,
				cron_expr TEXT NOT NULL,
				next_run TIMESTAMPTZ NOT NULL,
				last_run TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
		},
	},
}

// Migrate applies all unapplied migrations. It tracks applied versions in a
// schema_migrations table and is safe to run on every startup.
func Migrate(ctx context.Context, db TxBeginner, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning migration transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	); err != nil {
		return fmt.Errorf("ensuring schema_migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, tx)
	if err != nil {
		return fmt.Errorf("reading applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("applying migration %d (%s): %w", m.version, m.name, err)
			}
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
			m.version, m.name,
		); err != nil {
			return fmt.Errorf("recording migration %d: %w", m.version, err)
		}
		logger.Info("migration applied", "version", m.version, "name", m.name)
	}

	return tx.Commit(ctx)
}

func appliedVersions(ctx context.Context, tx pgx.Tx) (map[int]bool, error) {
	rows, err := tx.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}
