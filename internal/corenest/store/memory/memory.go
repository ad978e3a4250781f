package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/BrandonDHaskell/corenest/internal/corenest/store"
	"github.com/BrandonDHaskell/corenest/internal/corenest/types"
)

var errReadOnly = errors.New("memory: write in read-only transaction")

type pairKey struct {
	recordID uint64
	grantee  types.Principal
}

// Ledger is an in-memory store.Ledger.  It is intended for tests and dev
// environments; nothing survives a restart.
//
// Writes inside Update are staged and applied only when the closure returns
// nil, so a failed operation leaves no trace.
type Ledger struct {
	mu      sync.RWMutex
	lastID  uint64
	records map[uint64]store.Record
	grants  map[pairKey]store.Grant
	logs    map[pairKey]uint64
}

func New() *Ledger {
	return &Ledger{
		records: make(map[uint64]store.Record),
		grants:  make(map[pairKey]store.Grant),
		logs:    make(map[pairKey]uint64),
	}
}

func (l *Ledger) Update(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	t := newTx(l, true)
	if err := fn(ctx, t); err != nil {
		return err
	}
	t.commit()
	return nil
}

func (l *Ledger) View(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return fn(ctx, newTx(l, false))
}

func (l *Ledger) Close() error { return nil }

// tx overlays staged writes on top of the committed maps.
type tx struct {
	base     *Ledger
	writable bool

	lastID  uint64
	records map[uint64]store.Record
	grants  map[pairKey]store.Grant
	logs    map[pairKey]uint64
}

func newTx(l *Ledger, writable bool) *tx {
	return &tx{
		base:     l,
		writable: writable,
		lastID:   l.lastID,
		records:  make(map[uint64]store.Record),
		grants:   make(map[pairKey]store.Grant),
		logs:     make(map[pairKey]uint64),
	}
}

func (t *tx) commit() {
	t.base.lastID = t.lastID
	for id, r := range t.records {
		t.base.records[id] = r
	}
	for k, g := range t.grants {
		t.base.grants[k] = g
	}
	for k, n := range t.logs {
		t.base.logs[k] = n
	}
}

func (t *tx) AllocateRecordID(_ context.Context) (uint64, error) {
	if !t.writable {
		return 0, errReadOnly
	}
	t.lastID++
	return t.lastID, nil
}

func (t *tx) GetRecord(_ context.Context, id uint64) (store.Record, error) {
	if r, ok := t.records[id]; ok {
		return cloneRecord(r), nil
	}
	if r, ok := t.base.records[id]; ok {
		return cloneRecord(r), nil
	}
	return store.Record{}, store.ErrNotFound
}

func (t *tx) PutRecord(_ context.Context, rec store.Record) error {
	if !t.writable {
		return errReadOnly
	}
	t.records[rec.ID] = cloneRecord(rec)
	return nil
}

func (t *tx) GetGrant(_ context.Context, recordID uint64, grantee types.Principal) (store.Grant, error) {
	k := pairKey{recordID, grantee}
	if g, ok := t.grants[k]; ok {
		return cloneGrant(g), nil
	}
	if g, ok := t.base.grants[k]; ok {
		return cloneGrant(g), nil
	}
	return store.Grant{}, store.ErrNotFound
}

func (t *tx) PutGrant(ctx context.Context, g store.Grant) error {
	if !t.writable {
		return errReadOnly
	}
	if _, err := t.GetRecord(ctx, g.RecordID); err != nil {
		return fmt.Errorf("record %d: %w", g.RecordID, err)
	}
	t.grants[pairKey{g.RecordID, g.Grantee}] = cloneGrant(g)
	return nil
}

func (t *tx) IncrementAccess(ctx context.Context, recordID uint64, grantee types.Principal) (uint64, error) {
	if !t.writable {
		return 0, errReadOnly
	}
	if _, err := t.GetRecord(ctx, recordID); err != nil {
		return 0, fmt.Errorf("record %d: %w", recordID, err)
	}
	k := pairKey{recordID, grantee}
	n, ok := t.logs[k]
	if !ok {
		n = t.base.logs[k]
	}
	n++
	t.logs[k] = n
	return n, nil
}

func (t *tx) GetAccessLog(_ context.Context, recordID uint64, grantee types.Principal) (store.AccessLogEntry, error) {
	k := pairKey{recordID, grantee}
	n, ok := t.logs[k]
	if !ok {
		n, ok = t.base.logs[k]
	}
	if !ok {
		return store.AccessLogEntry{}, store.ErrNotFound
	}
	return store.AccessLogEntry{RecordID: recordID, Grantee: grantee, AccessCount: n}, nil
}

func cloneRecord(r store.Record) store.Record {
	r.KeyHash = cloneString(r.KeyHash)
	return r
}

func cloneGrant(g store.Grant) store.Grant {
	g.EncryptedKey = cloneString(g.EncryptedKey)
	return g
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
