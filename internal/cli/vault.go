package cli

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/BrandonDHaskell/corenest/internal/config"
	"github.com/BrandonDHaskell/corenest/internal/corenest/backend"
	"github.com/BrandonDHaskell/corenest/internal/corenest/service"
	"github.com/BrandonDHaskell/corenest/internal/corenest/types"
	"github.com/BrandonDHaskell/corenest/internal/grpcapi"
)

// Vault is the caller-bound view of the vault every command works with.
// *grpcapi.Client satisfies it directly; localVault adapts a service.Vault.
type Vault interface {
	StoreData(ctx context.Context, reference string, keyHash *string) (uint64, error)
	GrantAccess(ctx context.Context, id uint64, grantee types.Principal, encryptedKey *string) error
	RevokeAccess(ctx context.Context, id uint64, grantee types.Principal) error
	AccessData(ctx context.Context, id uint64) (types.AccessResult, error)
	GetKeyHash(ctx context.Context, id uint64) (*string, error)
	GetDataAccessLog(ctx context.Context, id uint64, grantee types.Principal) (types.AccessLog, error)
	GetRecordInfo(ctx context.Context, id uint64) (types.RecordInfo, error)
}

var _ Vault = (*grpcapi.Client)(nil)

// openVault connects to the ledger selected by opts.  The returned close
// function releases it.
func openVault(ctx context.Context, opts *RootOptions, caller types.Principal, stderr io.Writer) (Vault, func() error, error) {
	if opts.GRPCAddr != "" {
		conn, err := grpc.NewClient(opts.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, nil, err
		}
		return grpcapi.NewClient(conn, caller), conn.Close, nil
	}

	log := logrus.New()
	log.SetOutput(stderr)
	log.SetLevel(logrus.WarnLevel)

	cfg := config.Defaults()
	cfg.Store = opts.Store
	cfg.DBPath = opts.DBPath
	cfg.BadgerDir = opts.BadgerDir

	ledger, err := backend.Open(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return &localVault{vault: service.NewVault(ledger, log), caller: caller}, ledger.Close, nil
}

type localVault struct {
	vault  *service.Vault
	caller types.Principal
}

func (l *localVault) StoreData(ctx context.Context, reference string, keyHash *string) (uint64, error) {
	return l.vault.StoreData(ctx, l.caller, reference, keyHash)
}

func (l *localVault) GrantAccess(ctx context.Context, id uint64, grantee types.Principal, encryptedKey *string) error {
	return l.vault.GrantAccess(ctx, l.caller, id, grantee, encryptedKey)
}

func (l *localVault) RevokeAccess(ctx context.Context, id uint64, grantee types.Principal) error {
	return l.vault.RevokeAccess(ctx, l.caller, id, grantee)
}

func (l *localVault) AccessData(ctx context.Context, id uint64) (types.AccessResult, error) {
	return l.vault.AccessData(ctx, l.caller, id)
}

func (l *localVault) GetKeyHash(ctx context.Context, id uint64) (*string, error) {
	return l.vault.GetKeyHash(ctx, l.caller, id)
}

func (l *localVault) GetDataAccessLog(ctx context.Context, id uint64, grantee types.Principal) (types.AccessLog, error) {
	return l.vault.GetDataAccessLog(ctx, l.caller, id, grantee)
}

func (l *localVault) GetRecordInfo(ctx context.Context, id uint64) (types.RecordInfo, error) {
	return l.vault.GetRecordInfo(ctx, id)
}
