package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/corenest/internal/corenest/store"
	"github.com/BrandonDHaskell/corenest/internal/corenest/types"
	dbpkg "github.com/BrandonDHaskell/corenest/internal/db"
)

// Ledger is the SQLite-backed store.Ledger.  Every Update goes through the
// single writer worker; View runs a plain transaction on the shared pool.
type Ledger struct {
	db     *sql.DB
	writer *dbpkg.Worker
	owned  bool
}

// NewLedger wraps an already-migrated database and its writer.  The caller
// keeps ownership of both.
func NewLedger(db *sql.DB, writer *dbpkg.Worker) *Ledger {
	return &Ledger{db: db, writer: writer}
}

// Open opens (and migrates) the database at path and starts a writer for
// it.  Close releases both.
func Open(ctx context.Context, path string) (*Ledger, error) {
	conn, err := dbpkg.Open(ctx, dbpkg.Config{Path: path})
	if err != nil {
		return nil, err
	}
	return &Ledger{db: conn, writer: dbpkg.NewWorker(conn), owned: true}, nil
}

func (l *Ledger) Update(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return l.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, &ledgerTx{tx: tx, writable: true})
	})
}

func (l *Ledger) View(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("View begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	return fn(ctx, &ledgerTx{tx: tx})
}

func (l *Ledger) Close() error {
	if !l.owned {
		return nil
	}
	l.writer.Close()
	return l.db.Close()
}

var errReadOnly = errors.New("sqlite: write in read-only transaction")

type ledgerTx struct {
	tx       *sql.Tx
	writable bool
}

func nowMs() int64 { return time.Now().UTC().UnixMilli() }

func (t *ledgerTx) AllocateRecordID(ctx context.Context) (uint64, error) {
	if !t.writable {
		return 0, errReadOnly
	}
	var id uint64
	err := t.tx.QueryRowContext(ctx, `
UPDATE ledger_counters SET value = value + 1
WHERE name = 'last_record_id'
RETURNING value;
`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("AllocateRecordID: %w", err)
	}
	return id, nil
}

func (t *ledgerTx) GetRecord(ctx context.Context, id uint64) (store.Record, error) {
	var (
		rec     store.Record
		owner   string
		keyHash sql.NullString
	)
	err := t.tx.QueryRowContext(ctx, `
SELECT record_id, owner, reference, key_hash
FROM records
WHERE record_id = ?;
`, int64(id)).Scan(&rec.ID, &owner, &rec.Reference, &keyHash)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, fmt.Errorf("GetRecord %d: %w", id, err)
	}
	rec.Owner = types.Principal(owner)
	rec.KeyHash = fromNull(keyHash)
	return rec, nil
}

func (t *ledgerTx) PutRecord(ctx context.Context, rec store.Record) error {
	if !t.writable {
		return errReadOnly
	}
	if _, err := t.tx.ExecContext(ctx, `
INSERT INTO records(record_id, owner, reference, key_hash, created_at_ms)
VALUES (?, ?, ?, ?, ?);
`, int64(rec.ID), string(rec.Owner), rec.Reference, toNull(rec.KeyHash), nowMs()); err != nil {
		return fmt.Errorf("PutRecord %d: %w", rec.ID, err)
	}
	return nil
}

func (t *ledgerTx) GetGrant(ctx context.Context, recordID uint64, grantee types.Principal) (store.Grant, error) {
	var (
		key    sql.NullString
		active int
	)
	err := t.tx.QueryRowContext(ctx, `
SELECT encrypted_key, active
FROM grants
WHERE record_id = ? AND grantee = ?;
`, int64(recordID), string(grantee)).Scan(&key, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Grant{}, store.ErrNotFound
	}
	if err != nil {
		return store.Grant{}, fmt.Errorf("GetGrant %d/%s: %w", recordID, grantee, err)
	}
	return store.Grant{
		RecordID:     recordID,
		Grantee:      grantee,
		EncryptedKey: fromNull(key),
		Active:       active == 1,
	}, nil
}

func (t *ledgerTx) PutGrant(ctx context.Context, g store.Grant) error {
	if !t.writable {
		return errReadOnly
	}
	var active int
	if g.Active {
		active = 1
	}
	if _, err := t.tx.ExecContext(ctx, `
INSERT INTO grants(record_id, grantee, encrypted_key, active, updated_at_ms)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(record_id, grantee) DO UPDATE SET
  encrypted_key = excluded.encrypted_key,
  active        = excluded.active,
  updated_at_ms = excluded.updated_at_ms;
`, int64(g.RecordID), string(g.Grantee), toNull(g.EncryptedKey), active, nowMs()); err != nil {
		return fmt.Errorf("PutGrant %d/%s: %w", g.RecordID, g.Grantee, err)
	}
	return nil
}

func (t *ledgerTx) IncrementAccess(ctx context.Context, recordID uint64, grantee types.Principal) (uint64, error) {
	if !t.writable {
		return 0, errReadOnly
	}
	var n uint64
	err := t.tx.QueryRowContext(ctx, `
INSERT INTO access_log(record_id, grantee, access_count, last_access_at_ms)
VALUES (?, ?, 1, ?)
ON CONFLICT(record_id, grantee) DO UPDATE SET
  access_count      = access_log.access_count + 1,
  last_access_at_ms = excluded.last_access_at_ms
RETURNING access_count;
`, int64(recordID), string(grantee), nowMs()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("IncrementAccess %d/%s: %w", recordID, grantee, err)
	}
	return n, nil
}

func (t *ledgerTx) GetAccessLog(ctx context.Context, recordID uint64, grantee types.Principal) (store.AccessLogEntry, error) {
	var n uint64
	err := t.tx.QueryRowContext(ctx, `
SELECT access_count FROM access_log
WHERE record_id = ? AND grantee = ?;
`, int64(recordID), string(grantee)).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return store.AccessLogEntry{}, store.ErrNotFound
	}
	if err != nil {
		return store.AccessLogEntry{}, fmt.Errorf("GetAccessLog %d/%s: %w", recordID, grantee, err)
	}
	return store.AccessLogEntry{RecordID: recordID, Grantee: grantee, AccessCount: n}, nil
}

func toNull(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func fromNull(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
