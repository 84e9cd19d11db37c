// Package postgres stores MOT rows in PostgreSQL.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/mot-ingest/internal/domain/mot"
	"github.com/ahrav/mot-ingest/internal/infra/storage"
)

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

var motdataColumns = []string{"registration", "make", "model", "date", "result", "reason", "type"}

var _ mot.Store = (*Store)(nil)

// Store is a mot.Store backed by a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewStore creates a Store using the provided pool. The store owns the pool
// and closes it on Close.
func NewStore(pool *pgxpool.Pool, tracer trace.Tracer) *Store {
	return &Store{pool: pool, tracer: tracer}
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// CreateSchema applies the embedded migrations.
func (s *Store) CreateSchema(ctx context.Context) error {
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.mot.create_schema", defaultDBAttributes, func(ctx context.Context) error {
		if err := storage.RunMigrations(s.pool); err != nil {
			return &mot.StorageError{Op: "create_schema", Err: err}
		}
		return nil
	})
}

// WriteBatch copies records into motdata inside one transaction.
func (s *Store) WriteBatch(ctx context.Context, records []mot.Record) error {
	if len(records) == 0 {
		return nil
	}

	dbAttrs := storage.WithAttributes(defaultDBAttributes, attribute.Int("rows", len(records)))
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.mot.write_batch", dbAttrs, func(ctx context.Context) error {
		err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			n, err := tx.CopyFrom(ctx, pgx.Identifier{"motdata"}, motdataColumns, pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
				r := records[i]
				return []any{r.Registration, r.Make, r.Model, r.CompletedAt.UTC(), r.Result, r.Reason, r.Type}, nil
			}))
			if err != nil {
				return fmt.Errorf("failed to copy rows: %w", err)
			}
			if n != int64(len(records)) {
				return fmt.Errorf("copied %d of %d rows", n, len(records))
			}
			return nil
		})
		if err != nil {
			return &mot.StorageError{Op: "write_batch", Err: err}
		}
		return nil
	})
}
