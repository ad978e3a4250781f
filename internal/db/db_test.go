package db_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/corenest/internal/db"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	name := "dbtest_" + strings.ReplaceAll(t.Name(), "/", "_")
	conn, err := db.OpenInMemory(context.Background(), name)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// ═══════════════════════════════════════════════════════════════════════════
// Migrate
// ═══════════════════════════════════════════════════════════════════════════

func TestMigrate_Idempotent(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Migrate(ctx, conn))
	require.NoError(t, db.Migrate(ctx, conn))

	v, err := db.SchemaVersion(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	var last int
	require.NoError(t, conn.QueryRowContext(ctx,
		`SELECT value FROM ledger_counters WHERE name = 'last_record_id'`).Scan(&last))
	assert.Equal(t, 0, last)
}

func TestOpen_CreatesFileAndDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "corenest.db")

	conn, err := db.Open(context.Background(), db.Config{Path: path})
	require.NoError(t, err)
	defer conn.Close()

	v, err := db.SchemaVersion(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestSchema_OwnerIsImmutable(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()

	_, err := conn.ExecContext(ctx, `
INSERT INTO records(record_id, owner, reference, created_at_ms) VALUES (1, 'alice', 'ref', 0);`)
	require.NoError(t, err)

	_, err = conn.ExecContext(ctx, `UPDATE records SET owner = 'mallory' WHERE record_id = 1;`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record owner is immutable")
}

func TestSchema_GrantRequiresRecord(t *testing.T) {
	conn := openTestDB(t)

	_, err := conn.ExecContext(context.Background(), `
INSERT INTO grants(record_id, grantee, active, updated_at_ms) VALUES (42, 'bob', 1, 0);`)
	assert.Error(t, err, "foreign key to records must be enforced")
}

// ═══════════════════════════════════════════════════════════════════════════
// Worker
// ═══════════════════════════════════════════════════════════════════════════

func TestWorker_RollsBackOnError(t *testing.T) {
	conn := openTestDB(t)
	w := db.NewWorker(conn)
	defer w.Close()
	ctx := context.Background()
	boom := errors.New("boom")

	err := w.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO records(record_id, owner, reference, created_at_ms) VALUES (1, 'alice', 'ref', 0);`); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestWorker_RecoversPanic(t *testing.T) {
	conn := openTestDB(t)
	w := db.NewWorker(conn)
	defer w.Close()

	err := w.Do(context.Background(), func(context.Context, *sql.Tx) error {
		panic("kaboom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	// The loop survives and keeps serving.
	require.NoError(t, w.Do(context.Background(), func(context.Context, *sql.Tx) error { return nil }))
}

func TestWorker_DoAfterClose(t *testing.T) {
	conn := openTestDB(t)
	w := db.NewWorker(conn)
	w.Close()
	w.Close()

	err := w.Do(context.Background(), func(context.Context, *sql.Tx) error { return nil })
	assert.ErrorIs(t, err, db.ErrWorkerClosed)
}
