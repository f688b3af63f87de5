// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adiadia/triage-runtime/migrations"
)

const schemaMigrationLockID int64 = 0x5452475f4d494752 // "TRG_MIGR"

// ErrMigrationDrift means an applied migration no longer matches the
// embedded file with the same version.
var ErrMigrationDrift = errors.New("migration checksum mismatch")

var requiredTables = []string{
	"customers",
	"cards",
	"devices",
	"transactions",
	"chargebacks",
	"kb_documents",
	"executions",
	"execution_steps",
	"events",
}

// table.column pairs newer code depends on.
var requiredColumns = []string{
	"executions.trace",
	"executions.callback_url",
	"events.seq",
	"transactions.status",
}

// SchemaHealthChecker backs the /healthz probe.
type SchemaHealthChecker struct {
	pool *pgxpool.Pool
}

func NewSchemaHealthChecker(pool *pgxpool.Pool) *SchemaHealthChecker {
	return &SchemaHealthChecker{pool: pool}
}

// Ping reports whether the database is reachable and the schema is in place.
func (h *SchemaHealthChecker) Ping(ctx context.Context) error {
	return SchemaReady(ctx, h.pool)
}

type appliedMigration struct {
	name     string
	checksum string
}

// EnsureSchema applies pending embedded migrations under a session advisory
// lock so concurrent api and worker starts do not race.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	if pool == nil {
		return errors.New("nil database pool")
	}
	if logger == nil {
		logger = slog.Default()
	}

	pending, err := migrations.Load()
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	if len(pending) == 0 {
		return errors.New("no embedded migrations found")
	}

	started := time.Now()
	logger.Info("schema bootstrap starting", "embedded", len(pending))

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection for schema bootstrap: %w", err)
	}
	defer conn.Release()

	var applied int
	err = withAdvisoryLock(ctx, conn, logger, func() error {
		if _, err := conn.Exec(ctx, `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				version INT PRIMARY KEY,
				name TEXT NOT NULL,
				checksum TEXT NOT NULL,
				applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)
		`); err != nil {
			return fmt.Errorf("create schema_migrations table: %w", err)
		}

		done, err := loadApplied(ctx, conn)
		if err != nil {
			return err
		}

		for _, m := range pending {
			if prev, ok := done[m.Version]; ok {
				if prev.checksum != m.Checksum {
					return fmt.Errorf("%w: version %d (%s) was applied as %s", ErrMigrationDrift, m.Version, m.Name, prev.name)
				}
				continue
			}

			logger.Info("applying migration", "version", m.Version, "file", m.Name)
			if err := applyMigration(ctx, conn, m); err != nil {
				return fmt.Errorf("apply migration %s: %w", m.Name, err)
			}
			applied++
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info("schema bootstrap complete",
		"applied", applied,
		"skipped", len(pending)-applied,
		"duration_ms", time.Since(started).Milliseconds(),
	)

	return SchemaReady(ctx, pool)
}

func withAdvisoryLock(ctx context.Context, conn *pgxpool.Conn, logger *slog.Logger, fn func() error) error {
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, schemaMigrationLockID); err != nil {
		return fmt.Errorf("acquire schema bootstrap lock: %w", err)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock($1)`, schemaMigrationLockID); err != nil {
			logger.Error("schema bootstrap unlock failed", "error", err)
		}
	}()
	return fn()
}

func loadApplied(ctx context.Context, conn *pgxpool.Conn) (map[int]appliedMigration, error) {
	rows, err := conn.Query(ctx, `SELECT version, name, checksum FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[int]appliedMigration)
	for rows.Next() {
		var (
			version int
			m       appliedMigration
		)
		if err := rows.Scan(&version, &m.name, &m.checksum); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		out[version] = m
	}
	return out, rows.Err()
}

func applyMigration(ctx context.Context, conn *pgxpool.Conn, m migrations.Migration) error {
	return pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, m.SQL, pgx.QueryExecModeSimpleProtocol); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO schema_migrations (version, name, checksum)
			VALUES ($1, $2, $3)
		`, m.Version, m.Name, m.Checksum)
		return err
	})
}

// SchemaReady checks that every table and column the repositories use exists.
func SchemaReady(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return errors.New("nil database pool")
	}

	var missingTables []string
	if err := pool.QueryRow(ctx, `
		SELECT COALESCE(array_agg(t), '{}')
		FROM unnest($1::text[]) AS t
		WHERE to_regclass('public.' || t) IS NULL
	`, requiredTables).Scan(&missingTables); err != nil {
		return fmt.Errorf("check required tables: %w", err)
	}
	if len(missingTables) > 0 {
		return fmt.Errorf("required tables missing: %s", strings.Join(missingTables, ", "))
	}

	var missingColumns []string
	if err := pool.QueryRow(ctx, `
		SELECT COALESCE(array_agg(c), '{}')
		FROM unnest($1::text[]) AS c
		WHERE NOT EXISTS (
			SELECT 1
			FROM information_schema.columns
			WHERE table_schema = 'public'
			  AND table_name = split_part(c, '.', 1)
			  AND column_name = split_part(c, '.', 2)
		)
	`, requiredColumns).Scan(&missingColumns); err != nil {
		return fmt.Errorf("check required columns: %w", err)
	}
	if len(missingColumns) > 0 {
		return fmt.Errorf("required columns missing: %s", strings.Join(missingColumns, ", "))
	}

	return nil
}
