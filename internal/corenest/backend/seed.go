package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/BrandonDHaskell/corenest/internal/corenest/store"
	"github.com/BrandonDHaskell/corenest/internal/corenest/types"
)

type SeedOptions struct {
	Owner     types.Principal // defaults to "dev-owner"
	Grantee   types.Principal // defaults to "dev-reader"
	Reference string          // defaults to "dev/sample-reference"
}

// SeedDev gives a fresh dev ledger one record owned by Owner and an active
// grant for Grantee, so the HTTP and CLI surfaces have something to act on.
// It does nothing once any record exists.  It returns the seeded record id,
// or 0 if nothing was written.
func SeedDev(ctx context.Context, l store.Ledger, opt SeedOptions) (uint64, error) {
	if opt.Owner == "" {
		opt.Owner = "dev-owner"
	}
	if opt.Grantee == "" {
		opt.Grantee = "dev-reader"
	}
	if opt.Reference == "" {
		opt.Reference = "dev/sample-reference"
	}
	keyHash, escrowed := "dev-key-hash", "dev-escrowed-key"

	var seeded uint64
	err := l.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		// Ids start at 1 and records are never removed.
		_, err := tx.GetRecord(ctx, 1)
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("seed check ledger: %w", err)
		}

		id, err := tx.AllocateRecordID(ctx)
		if err != nil {
			return fmt.Errorf("seed allocate id: %w", err)
		}
		if err := tx.PutRecord(ctx, store.Record{
			ID:        id,
			Owner:     opt.Owner,
			Reference: opt.Reference,
			KeyHash:   &keyHash,
		}); err != nil {
			return fmt.Errorf("seed record: %w", err)
		}
		if err := tx.PutGrant(ctx, store.Grant{
			RecordID:     id,
			Grantee:      opt.Grantee,
			EncryptedKey: &escrowed,
			Active:       true,
		}); err != nil {
			return fmt.Errorf("seed grant: %w", err)
		}
		seeded = id
		return nil
	})
	if err != nil {
		return 0, err
	}
	return seeded, nil
}
