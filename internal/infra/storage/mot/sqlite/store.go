// Package sqlite stores MOT rows in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"

	"github.com/ahrav/mot-ingest/internal/domain/mot"
	"github.com/ahrav/mot-ingest/internal/infra/storage"
)

// DateLayout is how completion dates are persisted in the DATETIME column.
const DateLayout = "2006-01-02 15:04:05"

const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS motdata (
		registration TEXT,
		make TEXT,
		model TEXT,
		date DATETIME,
		result TEXT,
		reason TEXT NULL,
		type TEXT NULL
	)`

	createIndexSQL = `CREATE INDEX IF NOT EXISTS idx_motdata_registration_date_result
		ON motdata (registration, date, result)`

	insertSQL = `INSERT INTO motdata (registration, make, model, date, result, reason, type)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
)

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "sqlite"),
}

var _ mot.Store = (*Store)(nil)

// Store is a mot.Store backed by a single SQLite database file.
type Store struct {
	db     *sql.DB
	path   string
	tracer trace.Tracer
}

// Open opens (creating if needed) the database at path. Missing parent
// directories are created.
func Open(path string, tracer trace.Tracer) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s for sqlite db: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db %s: %w", path, err)
	}
	// A single connection serializes writers, which SQLite requires anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL on %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout on %s: %w", path, err)
	}

	return &Store{db: db, path: path, tracer: tracer}, nil
}

// DB exposes the underlying handle for read-side queries.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// CreateSchema creates the motdata table and its lookup index. It is safe to
// call repeatedly.
func (s *Store) CreateSchema(ctx context.Context) error {
	attrs := storage.WithAttributes(defaultDBAttributes, attribute.String("db.path", s.path))
	return storage.ExecuteAndTrace(ctx, s.tracer, "sqlite.mot.create_schema", attrs, func(ctx context.Context) error {
		for _, stmt := range []string{createTableSQL, createIndexSQL} {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return &mot.StorageError{Op: "create_schema", Err: err}
			}
		}
		return nil
	})
}

// WriteBatch inserts records in a single transaction. On any failure the
// transaction is rolled back and a *mot.StorageError is returned.
func (s *Store) WriteBatch(ctx context.Context, records []mot.Record) error {
	if len(records) == 0 {
		return nil
	}

	attrs := storage.WithAttributes(defaultDBAttributes, attribute.Int("rows", len(records)))
	return storage.ExecuteAndTrace(ctx, s.tracer, "sqlite.mot.write_batch", attrs, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return &mot.StorageError{Op: "begin", Err: err}
		}
		defer func() { _ = tx.Rollback() }()

		stmt, err := tx.PrepareContext(ctx, insertSQL)
		if err != nil {
			return &mot.StorageError{Op: "prepare", Err: err}
		}
		defer stmt.Close()

		for i, r := range records {
			_, err := stmt.ExecContext(ctx,
				r.Registration,
				r.Make,
				r.Model,
				r.CompletedAt.UTC().Format(DateLayout),
				r.Result,
				r.Reason,
				r.Type,
			)
			if err != nil {
				return &mot.StorageError{Op: "insert", Err: fmt.Errorf("row %d (%s): %w", i, r.Registration, err)}
			}
		}

		if err := tx.Commit(); err != nil {
			return &mot.StorageError{Op: "commit", Err: err}
		}
		return nil
	})
}
