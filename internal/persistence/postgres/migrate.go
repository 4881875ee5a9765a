// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	embeddedmigrations "github.com/ronnieholm/spo-analytics/migrations"
)

const schemaMigrationLockID int64 = 0x53504f5f4d494752 // "SPO_MIGR"

// visitColumns are the columns repository.VisitRepository reads or writes.
var visitColumns = []string{
	"correlation_id",
	"visited_at",
	"login_name",
	"site_collection_url",
	"visit_url",
	"page_load_time_ms",
	"source_address",
	"user_agent",
}

// EnsureSchema applies embedded migrations that have not run yet. Concurrent
// replays against the same database serialize on an advisory lock.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	if pool == nil {
		return errors.New("nil database pool")
	}
	if logger == nil {
		logger = slog.Default()
	}

	started := time.Now()
	logger.Info("schema bootstrap starting")

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection for schema bootstrap: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, schemaMigrationLockID); err != nil {
		return fmt.Errorf("acquire schema bootstrap lock: %w", err)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, unlockErr := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock($1)`, schemaMigrationLockID); unlockErr != nil {
			logger.Error("schema bootstrap unlock failed", "error", unlockErr)
		}
	}()

	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			filename TEXT NOT NULL,
			checksum TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	migrations, err := embeddedmigrations.Ordered(embeddedmigrations.Postgres)
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	if len(migrations) == 0 {
		return errors.New("no embedded migrations found")
	}

	applied := 0
	skipped := 0

	for _, migration := range migrations {
		var checksum string
		err := conn.QueryRow(
			ctx,
			`SELECT checksum FROM schema_migrations WHERE version = $1`,
			migration.Version,
		).Scan(&checksum)
		switch {
		case err == nil:
			if checksum != migration.Checksum {
				return fmt.Errorf("migration %s was modified after it was applied", migration.Name)
			}
			skipped++
			continue
		case !errors.Is(err, pgx.ErrNoRows):
			return fmt.Errorf("check migration %s: %w", migration.Name, err)
		}

		logger.Info("applying migration", "version", migration.Version, "file", migration.Name)
		if err := applyMigration(ctx, conn, migration); err != nil {
			return fmt.Errorf("apply migration %s: %w", migration.Name, err)
		}
		applied++
	}

	logger.Info("schema bootstrap complete",
		"applied", applied,
		"skipped", skipped,
		"duration_ms", time.Since(started).Milliseconds(),
	)

	return SchemaReady(ctx, pool)
}

func applyMigration(ctx context.Context, conn *pgxpool.Conn, migration embeddedmigrations.File) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, migration.SQL, pgx.QueryExecModeSimpleProtocol); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO schema_migrations (version, filename, checksum)
		VALUES ($1, $2, $3)
	`, migration.Version, migration.Name, migration.Checksum); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// SchemaReady reports whether the visits table exists with every column the
// repository needs. It is used instead of EnsureSchema when AUTO_MIGRATE is off.
func SchemaReady(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return errors.New("nil database pool")
	}

	rows, err := pool.Query(ctx, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = 'public'
		  AND table_name = 'visits'
		  AND column_name = ANY($1)
	`, visitColumns)
	if err != nil {
		return fmt.Errorf("inspect visits columns: %w", err)
	}
	present, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("inspect visits columns: %w", err)
	}
	if len(present) == 0 {
		return errors.New("table visits missing; run with AUTO_MIGRATE=true")
	}

	var missing []string
	for _, col := range visitColumns {
		if !slices.Contains(present, col) {
			missing = append(missing, "visits."+col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("required columns missing: %s", strings.Join(missing, ", "))
	}
	return nil
}
