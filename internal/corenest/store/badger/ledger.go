// Package badger stores the ledger in a Badger key-value database.
//
// Key layout (all ids big-endian so keys sort by id):
//
//	c/last_record_id        -> uint64
//	r/<id>                  -> JSON record
//	g/<id>/<grantee>        -> JSON grant
//	l/<id>/<grantee>        -> uint64 access count
package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/corenest/internal/corenest/store"
	"github.com/BrandonDHaskell/corenest/internal/corenest/types"
)

var errReadOnly = errors.New("badger: write in read-only transaction")

type Config struct {
	Dir      string
	InMemory bool
	Logger   *logrus.Logger // nil silences badger
}

// Ledger is the Badger-backed store.Ledger.  Badger transactions are
// optimistic; writers are serialised here so Update never sees a conflict.
type Ledger struct {
	db      *badger.DB
	writeMu sync.Mutex
}

func Open(cfg Config) (*Ledger, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errors.New("badger: no directory configured")
	}

	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	if cfg.Logger != nil {
		opts = opts.WithLogger(cfg.Logger)
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open: %w", err)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Update(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.db.Update(func(txn *badger.Txn) error {
		return fn(ctx, &ledgerTx{txn: txn, writable: true})
	})
}

func (l *Ledger) View(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.db.View(func(txn *badger.Txn) error {
		return fn(ctx, &ledgerTx{txn: txn})
	})
}

func (l *Ledger) Close() error { return l.db.Close() }

var counterKey = []byte("c/last_record_id")

func recordKey(id uint64) []byte {
	k := make([]byte, 2, 10)
	copy(k, "r/")
	return binary.BigEndian.AppendUint64(k, id)
}

func pairKey(prefix byte, id uint64, grantee types.Principal) []byte {
	k := make([]byte, 0, 11+len(grantee))
	k = append(k, prefix, '/')
	k = binary.BigEndian.AppendUint64(k, id)
	k = append(k, '/')
	return append(k, grantee...)
}

type recordValue struct {
	Owner     string  `json:"owner"`
	Reference string  `json:"reference"`
	KeyHash   *string `json:"key_hash,omitempty"`
}

type grantValue struct {
	EncryptedKey *string `json:"encrypted_key,omitempty"`
	Active       bool    `json:"active"`
}

type ledgerTx struct {
	txn      *badger.Txn
	writable bool
}

func (t *ledgerTx) get(key []byte) ([]byte, error) {
	item, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (t *ledgerTx) getUint(key []byte) (uint64, error) {
	v, err := t.get(key)
	if err != nil {
		return 0, err
	}
	if len(v) != 8 {
		return 0, fmt.Errorf("badger: corrupt counter %q", key)
	}
	return binary.BigEndian.Uint64(v), nil
}

func (t *ledgerTx) setUint(key []byte, n uint64) error {
	return t.txn.Set(key, binary.BigEndian.AppendUint64(nil, n))
}

func (t *ledgerTx) AllocateRecordID(_ context.Context) (uint64, error) {
	if !t.writable {
		return 0, errReadOnly
	}
	last, err := t.getUint(counterKey)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return 0, fmt.Errorf("AllocateRecordID: %w", err)
	}
	next := last + 1
	if err := t.setUint(counterKey, next); err != nil {
		return 0, fmt.Errorf("AllocateRecordID: %w", err)
	}
	return next, nil
}

func (t *ledgerTx) GetRecord(_ context.Context, id uint64) (store.Record, error) {
	raw, err := t.get(recordKey(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Record{}, err
		}
		return store.Record{}, fmt.Errorf("GetRecord %d: %w", id, err)
	}
	var v recordValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return store.Record{}, fmt.Errorf("GetRecord %d decode: %w", id, err)
	}
	return store.Record{ID: id, Owner: types.Principal(v.Owner), Reference: v.Reference, KeyHash: v.KeyHash}, nil
}

func (t *ledgerTx) PutRecord(_ context.Context, rec store.Record) error {
	if !t.writable {
		return errReadOnly
	}
	raw, err := json.Marshal(recordValue{Owner: string(rec.Owner), Reference: rec.Reference, KeyHash: rec.KeyHash})
	if err != nil {
		return fmt.Errorf("PutRecord %d encode: %w", rec.ID, err)
	}
	if err := t.txn.Set(recordKey(rec.ID), raw); err != nil {
		return fmt.Errorf("PutRecord %d: %w", rec.ID, err)
	}
	return nil
}

func (t *ledgerTx) GetGrant(_ context.Context, recordID uint64, grantee types.Principal) (store.Grant, error) {
	raw, err := t.get(pairKey('g', recordID, grantee))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Grant{}, err
		}
		return store.Grant{}, fmt.Errorf("GetGrant %d/%s: %w", recordID, grantee, err)
	}
	var v grantValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return store.Grant{}, fmt.Errorf("GetGrant %d/%s decode: %w", recordID, grantee, err)
	}
	return store.Grant{RecordID: recordID, Grantee: grantee, EncryptedKey: v.EncryptedKey, Active: v.Active}, nil
}

func (t *ledgerTx) PutGrant(_ context.Context, g store.Grant) error {
	if !t.writable {
		return errReadOnly
	}
	if err := t.requireRecord(g.RecordID); err != nil {
		return err
	}
	raw, err := json.Marshal(grantValue{EncryptedKey: g.EncryptedKey, Active: g.Active})
	if err != nil {
		return fmt.Errorf("PutGrant %d/%s encode: %w", g.RecordID, g.Grantee, err)
	}
	if err := t.txn.Set(pairKey('g', g.RecordID, g.Grantee), raw); err != nil {
		return fmt.Errorf("PutGrant %d/%s: %w", g.RecordID, g.Grantee, err)
	}
	return nil
}

func (t *ledgerTx) IncrementAccess(_ context.Context, recordID uint64, grantee types.Principal) (uint64, error) {
	if !t.writable {
		return 0, errReadOnly
	}
	if err := t.requireRecord(recordID); err != nil {
		return 0, err
	}
	key := pairKey('l', recordID, grantee)
	n, err := t.getUint(key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return 0, fmt.Errorf("IncrementAccess %d/%s: %w", recordID, grantee, err)
	}
	n++
	if err := t.setUint(key, n); err != nil {
		return 0, fmt.Errorf("IncrementAccess %d/%s: %w", recordID, grantee, err)
	}
	return n, nil
}

func (t *ledgerTx) GetAccessLog(_ context.Context, recordID uint64, grantee types.Principal) (store.AccessLogEntry, error) {
	n, err := t.getUint(pairKey('l', recordID, grantee))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.AccessLogEntry{}, err
		}
		return store.AccessLogEntry{}, fmt.Errorf("GetAccessLog %d/%s: %w", recordID, grantee, err)
	}
	return store.AccessLogEntry{RecordID: recordID, Grantee: grantee, AccessCount: n}, nil
}

// requireRecord enforces the referential rule the SQL schema gets from
// foreign keys: grant and log rows only exist for stored records.
func (t *ledgerTx) requireRecord(id uint64) error {
	if _, err := t.txn.Get(recordKey(id)); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("record %d: %w", id, store.ErrNotFound)
		}
		return err
	}
	return nil
}
