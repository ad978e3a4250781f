package store

import (
	"context"
	"errors"

	"github.com/BrandonDHaskell/corenest/internal/corenest/types"
)

// ErrNotFound is returned by Tx getters when the row does not exist.  The
// service layer translates it into the matching domain fault.
var ErrNotFound = errors.New("store: not found")

// Record is one registered data reference.  Owner never changes once the
// record is written.
type Record struct {
	ID        uint64
	Owner     types.Principal
	Reference string
	KeyHash   *string
}

// Grant is the single authorization row for (RecordID, Grantee).
// Revocation keeps the row and clears Active.
type Grant struct {
	RecordID     uint64
	Grantee      types.Principal
	EncryptedKey *string
	Active       bool
}

// AccessLogEntry counts successful grantee reads of a record.
type AccessLogEntry struct {
	RecordID    uint64
	Grantee     types.Principal
	AccessCount uint64
}

// Tx is the view of the ledger available inside one operation.  Writes made
// through a Tx become visible to other operations only if the enclosing
// Update returns nil.
type Tx interface {
	// AllocateRecordID returns the next record id, starting at 1.  The
	// allocation is part of the transaction and is discarded on abort.
	AllocateRecordID(ctx context.Context) (uint64, error)

	GetRecord(ctx context.Context, id uint64) (Record, error)
	PutRecord(ctx context.Context, rec Record) error

	GetGrant(ctx context.Context, recordID uint64, grantee types.Principal) (Grant, error)
	PutGrant(ctx context.Context, g Grant) error

	// IncrementAccess adds one to the counter, creating it at 1, and
	// returns the new value.
	IncrementAccess(ctx context.Context, recordID uint64, grantee types.Principal) (uint64, error)
	GetAccessLog(ctx context.Context, recordID uint64, grantee types.Principal) (AccessLogEntry, error)
}

// Ledger runs operations as isolated, all-or-nothing transitions.
//
// Update must serialise writers: no two Update closures observe each
// other's intermediate state.  View closures must not write.
type Ledger interface {
	Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}
