// ABOUTME: SQLite-backed index of stored layout models for listing without reading every file.
// ABOUTME: The index is a rebuildable cache of the storage directory, never the source of truth.
package layout

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const indexTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Compile-time check that SqliteIndex implements Indexer.
var _ Indexer = (*SqliteIndex)(nil)

// SqliteIndex mirrors model summaries into a SQLite table.
type SqliteIndex struct {
	db *sql.DB
}

// OpenIndex opens or creates the index database at path and ensures the schema exists.
func OpenIndex(path string) (*SqliteIndex, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS models (
			slug TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			device_model TEXT NOT NULL,
			device_type_id TEXT NOT NULL,
			revision TEXT NOT NULL,
			size_bytes INTEGER NOT NULL,
			saved_at TEXT NOT NULL
		);`

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SqliteIndex{db: db}, nil
}

// Close closes the database connection.
func (idx *SqliteIndex) Close() error {
	return idx.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertSummary(ctx context.Context, ex execer, s Summary) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO models (slug, filename, device_model, device_type_id, revision, size_bytes, saved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(slug) DO UPDATE SET
			filename = excluded.filename,
			device_model = excluded.device_model,
			device_type_id = excluded.device_type_id,
			revision = excluded.revision,
			size_bytes = excluded.size_bytes,
			saved_at = excluded.saved_at`,
		s.Slug,
		s.Filename,
		s.DeviceModel,
		s.DeviceTypeID,
		s.Revision,
		s.SizeBytes,
		s.SavedAt.UTC().Format(indexTimeFormat),
	)
	return err
}

// Upsert inserts or replaces the row for s.Slug.
func (idx *SqliteIndex) Upsert(ctx context.Context, s Summary) error {
	if err := upsertSummary(ctx, idx.db, s); err != nil {
		return fmt.Errorf("upsert model: %w", err)
	}
	return nil
}

// Replace clears the table and inserts all rows in one transaction.
func (idx *SqliteIndex) Replace(ctx context.Context, all []Summary) error {
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rebuild: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM models"); err != nil {
		return fmt.Errorf("clear models: %w", err)
	}
	for _, s := range all {
		if err := upsertSummary(ctx, tx, s); err != nil {
			return fmt.Errorf("insert model %q: %w", s.Slug, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rebuild: %w", err)
	}
	return nil
}

// List returns all rows ordered by saved_at descending, then slug.
func (idx *SqliteIndex) List(ctx context.Context) ([]Summary, error) {
	rows, err := idx.db.QueryContext(ctx,
		`SELECT slug, filename, device_model, device_type_id, revision, size_bytes, saved_at
		 FROM models ORDER BY saved_at DESC, slug ASC`)
	if err != nil {
		return nil, fmt.Errorf("query models: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sums := []Summary{}
	for rows.Next() {
		var s Summary
		var savedAt string
		if err := rows.Scan(&s.Slug, &s.Filename, &s.DeviceModel, &s.DeviceTypeID,
			&s.Revision, &s.SizeBytes, &savedAt); err != nil {
			return nil, fmt.Errorf("scan model row: %w", err)
		}
		t, err := time.Parse(indexTimeFormat, savedAt)
		if err != nil {
			return nil, fmt.Errorf("parse saved_at for %q: %w", s.Slug, err)
		}
		s.SavedAt = t
		sums = append(sums, s)
	}
	return sums, rows.Err()
}
