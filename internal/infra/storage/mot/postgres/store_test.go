package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/mot-ingest/internal/domain/mot"
	"github.com/ahrav/mot-ingest/internal/infra/storage"
)

func setupStoreTest(t *testing.T) (context.Context, *Store, *pgxpool.Pool) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	pool, cleanup := storage.SetupTestContainer(t)
	t.Cleanup(cleanup)

	return context.Background(), NewStore(pool, storage.NoOpTracer()), pool
}

func strPtr(s string) *string { return &s }

func countRows(t *testing.T, ctx context.Context, pool *pgxpool.Pool) int {
	t.Helper()
	var n int
	require.NoError(t, pool.QueryRow(ctx, "SELECT COUNT(*) FROM motdata").Scan(&n))
	return n
}

func TestPGStore_CreateSchemaIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx, store, pool := setupStoreTest(t)

	require.NoError(t, store.CreateSchema(ctx))
	require.NoError(t, store.CreateSchema(ctx))

	var exists bool
	err := pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_motdata_registration_date_result')`,
	).Scan(&exists)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestPGStore_SchemaColumnsAreNullable(t *testing.T) {
	t.Parallel()
	ctx, store, pool := setupStoreTest(t)
	require.NoError(t, store.CreateSchema(ctx))

	rows, err := pool.Query(ctx,
		`SELECT column_name FROM information_schema.columns
		 WHERE table_name = 'motdata' AND is_nullable = 'NO'`)
	require.NoError(t, err)
	defer rows.Close()

	var notNull []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		notNull = append(notNull, name)
	}
	require.NoError(t, rows.Err())
	assert.Empty(t, notNull, "motdata matches the sqlite table shape")
}

func TestPGStore_WriteBatch(t *testing.T) {
	t.Parallel()
	ctx, store, pool := setupStoreTest(t)

	completed := time.Date(2023, 6, 15, 14, 30, 21, 0, time.UTC)
	records := []mot.Record{
		{
			Registration: "AB12CDE", Make: "FORD", Model: "FIESTA", CompletedAt: completed,
			Result: mot.ResultFailed, Reason: strPtr("Tyre worn"), Type: strPtr("FAIL"),
		},
		{
			Registration: "AB12CDE", Make: "FORD", Model: "FIESTA", CompletedAt: completed,
			Result: mot.ResultFailed, Reason: strPtr("Headlamp aim"), Type: strPtr("MAJOR"),
		},
		{Registration: "XY34ZZZ", Make: "BMW", Model: "320D", CompletedAt: completed, Result: mot.ResultPassed},
	}

	require.NoError(t, store.WriteBatch(ctx, records))
	assert.Equal(t, 3, countRows(t, ctx, pool))

	var (
		gotDate time.Time
		reason  *string
	)
	err := pool.QueryRow(ctx,
		`SELECT date, reason FROM motdata WHERE registration = 'XY34ZZZ'`,
	).Scan(&gotDate, &reason)
	require.NoError(t, err)
	assert.True(t, completed.Equal(gotDate))
	assert.Nil(t, reason)
}

func TestPGStore_WriteBatchIsAtomic(t *testing.T) {
	t.Parallel()
	ctx, store, pool := setupStoreTest(t)

	_, err := pool.Exec(ctx, `ALTER TABLE motdata ADD CONSTRAINT reject_boom CHECK (registration <> 'BOOM')`)
	require.NoError(t, err)

	valid := mot.Record{Registration: "OK1", CompletedAt: time.Now(), Result: mot.ResultPassed}
	invalid := mot.Record{Registration: "BOOM", CompletedAt: time.Now(), Result: mot.ResultPassed}

	err = store.WriteBatch(ctx, []mot.Record{valid, invalid})

	var storageErr *mot.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Zero(t, countRows(t, ctx, pool))
}

func TestPGStore_WriteBatchEmptyIsNoop(t *testing.T) {
	t.Parallel()
	ctx, store, pool := setupStoreTest(t)

	require.NoError(t, store.WriteBatch(ctx, nil))
	assert.Zero(t, countRows(t, ctx, pool))
}
