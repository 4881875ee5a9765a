// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ronnieholm/spo-analytics/internal/domain"
	"github.com/ronnieholm/spo-analytics/migrations"
	_ "modernc.org/sqlite" // CGO-free SQLite
)

type Database struct {
	db *sql.DB
}

func NewDatabase(databasePath string) (*Database, error) {
	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", databasePath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	return &Database{db: db}, nil
}

// migrate applies the embedded SQLite migrations not yet recorded in
// schema_migrations.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS schema_migrations(
	  version    INTEGER PRIMARY KEY,
	  filename   TEXT NOT NULL,
	  checksum   TEXT NOT NULL,
	  applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	files, err := migrations.Ordered(migrations.SQLite)
	if err != nil {
		return err
	}

	for _, f := range files {
		var checksum string
		err := db.QueryRowContext(ctx, `SELECT checksum FROM schema_migrations WHERE version = ?`, f.Version).Scan(&checksum)
		switch {
		case err == nil:
			if checksum != f.Checksum {
				return fmt.Errorf("migration %s was modified after it was applied", f.Name)
			}
			continue
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to check migration %s: %w", f.Name, err)
		}

		if err := applyMigration(ctx, db, f); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", f.Name, err)
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, f migrations.File) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, f.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations(version, filename, checksum, applied_at) VALUES(?,?,?,?)`,
		f.Version, f.Name, f.Checksum, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (d *Database) Close() error {
	return d.db.Close()
}

// SaveVisit stores v, ignoring a visit already stored by an earlier replay.
func (d *Database) SaveVisit(ctx context.Context, v domain.Visit) error {
	var pageLoad sql.NullInt64
	if ms, ok := v.PageLoadTime.Get(); ok {
		pageLoad = sql.NullInt64{Int64: int64(ms), Valid: true}
	}
	var userAgent sql.NullString
	if ua, ok := v.UserAgent.Get(); ok {
		userAgent = sql.NullString{String: ua, Valid: true}
	}

	_, err := d.db.ExecContext(ctx, `
	INSERT OR IGNORE INTO visits(
	  correlation_id, ts_utc, ts_iso, login_name, site_collection_url,
	  visit_url, page_load_time_ms, source_address, user_agent
	) VALUES(?,?,?,?,?,?,?,?,?)`,
		v.CorrelationID.String(),
		v.Timestamp.UnixNano(),
		v.Timestamp.UTC().Format(time.RFC3339Nano),
		v.LoginName,
		v.SiteCollectionURL,
		v.VisitURL,
		pageLoad,
		v.SourceAddress.String(),
		userAgent,
	)
	if err != nil {
		return fmt.Errorf("failed to insert visit: %w", err)
	}
	return nil
}

func (d *Database) CountVisits(ctx context.Context) (int64, error) {
	var n int64
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM visits`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count visits: %w", err)
	}
	return n, nil
}
