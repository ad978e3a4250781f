package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/corenest/internal/corenest/fault"
	"github.com/BrandonDHaskell/corenest/internal/corenest/store"
	"github.com/BrandonDHaskell/corenest/internal/corenest/types"
)

// Vault is the authorization engine.  Every public operation validates its
// inputs, then runs as a single store.Ledger transaction that authorizes the
// caller against the record owner and grant table before touching state.
type Vault struct {
	ledger store.Ledger
	log    logrus.FieldLogger
}

func NewVault(ledger store.Ledger, log logrus.FieldLogger) *Vault {
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		log = l
	}
	return &Vault{ledger: ledger, log: log}
}

// ── Record store ─────────────────────────────────────────────────────────────

// StoreData registers reference under a freshly allocated id owned by caller.
func (v *Vault) StoreData(ctx context.Context, caller types.Principal, reference string, keyHash *string) (uint64, error) {
	if err := checkCaller(&caller); err != nil {
		return 0, err
	}
	if err := types.CheckText("reference", reference); err != nil {
		return 0, err
	}
	if err := types.CheckOptionalText("key_hash", keyHash); err != nil {
		return 0, err
	}

	var id uint64
	err := v.ledger.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		next, err := tx.AllocateRecordID(ctx)
		if err != nil {
			return err
		}
		if err := tx.PutRecord(ctx, store.Record{
			ID:        next,
			Owner:     caller,
			Reference: reference,
			KeyHash:   cloneString(keyHash),
		}); err != nil {
			return err
		}
		id = next
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store-data: %w", err)
	}

	v.log.WithFields(logrus.Fields{"record_id": id, "owner": caller}).Debug("record stored")
	return id, nil
}

func (v *Vault) GetReference(ctx context.Context, id uint64) (string, error) {
	rec, err := v.record(ctx, "get-reference", id)
	if err != nil {
		return "", err
	}
	return rec.Reference, nil
}

func (v *Vault) GetOwner(ctx context.Context, id uint64) (types.Principal, error) {
	rec, err := v.record(ctx, "get-owner", id)
	if err != nil {
		return "", err
	}
	return rec.Owner, nil
}

// GetRecordInfo returns the public fields of a record.  Anyone may read them.
func (v *Vault) GetRecordInfo(ctx context.Context, id uint64) (types.RecordInfo, error) {
	rec, err := v.record(ctx, "get-record", id)
	if err != nil {
		return types.RecordInfo{}, err
	}
	return types.RecordInfo{ID: rec.ID, Owner: rec.Owner, Reference: rec.Reference}, nil
}

// GetKeyHash returns the record's key hash to its owner.  A nil result with
// a nil error means the record was stored without one.
func (v *Vault) GetKeyHash(ctx context.Context, caller types.Principal, id uint64) (*string, error) {
	if err := checkCaller(&caller); err != nil {
		return nil, err
	}
	var keyHash *string
	err := v.ledger.View(ctx, func(ctx context.Context, tx store.Tx) error {
		rec, err := ownedRecord(ctx, tx, caller, id)
		if err != nil {
			return err
		}
		keyHash = rec.KeyHash
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get-key-hash record %d: %w", id, err)
	}
	return keyHash, nil
}

// ── Grant table ──────────────────────────────────────────────────────────────

// GrantAccess activates grantee on record id, replacing any escrowed key.
// Granting an already active grantee is not an error.
func (v *Vault) GrantAccess(ctx context.Context, caller types.Principal, id uint64, grantee types.Principal, encryptedKey *string) error {
	if err := checkCaller(&caller); err != nil {
		return err
	}
	if err := checkGrantee(&grantee); err != nil {
		return err
	}
	if err := types.CheckOptionalText("encrypted_key", encryptedKey); err != nil {
		return err
	}

	err := v.ledger.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := ownedRecord(ctx, tx, caller, id); err != nil {
			return err
		}
		return tx.PutGrant(ctx, store.Grant{
			RecordID:     id,
			Grantee:      grantee,
			EncryptedKey: cloneString(encryptedKey),
			Active:       true,
		})
	})
	if err != nil {
		return fmt.Errorf("grant-access record %d: %w", id, err)
	}

	v.log.WithFields(logrus.Fields{"record_id": id, "grantee": grantee, "escrow": encryptedKey != nil}).Debug("access granted")
	return nil
}

// RevokeAccess deactivates grantee on record id.  Revoking a grantee that
// was never granted succeeds without creating a row.
func (v *Vault) RevokeAccess(ctx context.Context, caller types.Principal, id uint64, grantee types.Principal) error {
	if err := checkCaller(&caller); err != nil {
		return err
	}
	if err := checkGrantee(&grantee); err != nil {
		return err
	}

	err := v.ledger.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := ownedRecord(ctx, tx, caller, id); err != nil {
			return err
		}
		g, err := tx.GetGrant(ctx, id, grantee)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !g.Active {
			return nil
		}
		g.Active = false
		return tx.PutGrant(ctx, g)
	})
	if err != nil {
		return fmt.Errorf("revoke-access record %d: %w", id, err)
	}

	v.log.WithFields(logrus.Fields{"record_id": id, "grantee": grantee}).Debug("access revoked")
	return nil
}

// IsActive reports whether grantee currently holds an active grant.  It
// does not consider ownership.
func (v *Vault) IsActive(ctx context.Context, id uint64, grantee types.Principal) (bool, error) {
	if err := checkGrantee(&grantee); err != nil {
		return false, err
	}
	var active bool
	err := v.ledger.View(ctx, func(ctx context.Context, tx store.Tx) error {
		g, err := tx.GetGrant(ctx, id, grantee)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		active = g.Active
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("is-active record %d: %w", id, err)
	}
	return active, nil
}

// ── Access ───────────────────────────────────────────────────────────────────

// AccessData resolves caller's read of record id.  The owner always
// succeeds and is not logged.  Anyone else needs an active grant; each
// successful grantee read increments that grantee's access counter in the
// same transaction.
func (v *Vault) AccessData(ctx context.Context, caller types.Principal, id uint64) (types.AccessResult, error) {
	if err := checkCaller(&caller); err != nil {
		return types.AccessResult{}, err
	}

	var (
		res   types.AccessResult
		count uint64
	)
	err := v.ledger.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		rec, err := getRecord(ctx, tx, id)
		if err != nil {
			return err
		}
		if rec.Owner == caller {
			res = types.AccessResult{Reference: rec.Reference}
			return nil
		}

		g, err := tx.GetGrant(ctx, id, caller)
		if errors.Is(err, store.ErrNotFound) || (err == nil && !g.Active) {
			return fault.ErrNoPermission
		}
		if err != nil {
			return err
		}

		if count, err = tx.IncrementAccess(ctx, id, caller); err != nil {
			return err
		}
		res = types.AccessResult{Reference: rec.Reference, Key: g.EncryptedKey}
		return nil
	})
	if err != nil {
		v.log.WithFields(logrus.Fields{"record_id": id, "caller": caller, "code": fault.CodeOf(err)}).Debug("access denied")
		return types.AccessResult{}, fmt.Errorf("access-data record %d: %w", id, err)
	}

	v.log.WithFields(logrus.Fields{"record_id": id, "caller": caller, "access_count": count}).Debug("access granted to data")
	return res, nil
}

// ── Access log ───────────────────────────────────────────────────────────────

// GetDataAccessLog returns grantee's access counter for record id to the
// record owner.  A grantee that never read the record has a count of zero.
func (v *Vault) GetDataAccessLog(ctx context.Context, caller types.Principal, id uint64, grantee types.Principal) (types.AccessLog, error) {
	if err := checkCaller(&caller); err != nil {
		return types.AccessLog{}, err
	}
	if err := checkGrantee(&grantee); err != nil {
		return types.AccessLog{}, err
	}

	out := types.AccessLog{RecordID: id, Grantee: grantee}
	err := v.ledger.View(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := ownedRecord(ctx, tx, caller, id); err != nil {
			return err
		}
		e, err := tx.GetAccessLog(ctx, id, grantee)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out.AccessCount = e.AccessCount
		return nil
	})
	if err != nil {
		return types.AccessLog{}, fmt.Errorf("get-data-access-log record %d: %w", id, err)
	}
	return out, nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

func (v *Vault) record(ctx context.Context, op string, id uint64) (store.Record, error) {
	var rec store.Record
	err := v.ledger.View(ctx, func(ctx context.Context, tx store.Tx) error {
		r, err := getRecord(ctx, tx, id)
		rec = r
		return err
	})
	if err != nil {
		return store.Record{}, fmt.Errorf("%s record %d: %w", op, id, err)
	}
	return rec, nil
}

func getRecord(ctx context.Context, tx store.Tx, id uint64) (store.Record, error) {
	rec, err := tx.GetRecord(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Record{}, fault.ErrNotFound
	}
	return rec, err
}

// ownedRecord loads record id and requires caller to be its owner.
// Existence is checked first so unknown ids report NotFound to everyone.
func ownedRecord(ctx context.Context, tx store.Tx, caller types.Principal, id uint64) (store.Record, error) {
	rec, err := getRecord(ctx, tx, id)
	if err != nil {
		return store.Record{}, err
	}
	if rec.Owner != caller {
		return store.Record{}, fault.ErrNoPermission
	}
	return rec, nil
}

// checkCaller and checkGrantee validate a principal and rewrite it in its
// normalised form, so identities compare equal however the caller spelled
// them.
func checkCaller(p *types.Principal) error {
	n, err := types.ParsePrincipal(string(*p))
	if err != nil {
		return fault.Invalid("caller identity: %v", err)
	}
	*p = n
	return nil
}

func checkGrantee(p *types.Principal) error {
	n, err := types.ParsePrincipal(string(*p))
	if err != nil {
		return fault.Invalid("grantee: %v", err)
	}
	*p = n
	return nil
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
