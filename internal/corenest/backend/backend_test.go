package backend_test

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/corenest/internal/config"
	"github.com/BrandonDHaskell/corenest/internal/corenest/backend"
	"github.com/BrandonDHaskell/corenest/internal/corenest/service"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestOpen_EachStore(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{config.StoreMemory, config.StoreSQLite, config.StoreBadger} {
		t.Run(name, func(t *testing.T) {
			cfg := config.Defaults()
			cfg.Store = name
			cfg.DBPath = filepath.Join(dir, name, "corenest.db")
			cfg.BadgerDir = filepath.Join(dir, name, "badger")

			l, err := backend.Open(context.Background(), cfg, quietLogger())
			require.NoError(t, err)
			t.Cleanup(func() { _ = l.Close() })

			v := service.NewVault(l, quietLogger())
			id, err := v.StoreData(context.Background(), "alice", "ref", nil)
			require.NoError(t, err)
			assert.Equal(t, uint64(1), id)
		})
	}
}

func TestOpen_UnknownStore(t *testing.T) {
	cfg := config.Defaults()
	cfg.Store = "postgres"
	_, err := backend.Open(context.Background(), cfg, quietLogger())
	assert.Error(t, err)
}

func TestOpen_SQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	cfg := config.Defaults()
	cfg.DBPath = filepath.Join(t.TempDir(), "corenest.db")

	l, err := backend.Open(ctx, cfg, quietLogger())
	require.NoError(t, err)
	_, err = service.NewVault(l, nil).StoreData(ctx, "alice", "ref", nil)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l, err = backend.Open(ctx, cfg, quietLogger())
	require.NoError(t, err)
	defer l.Close()

	id, err := service.NewVault(l, nil).StoreData(ctx, "alice", "ref-2", nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), id, "id counter survives restart")
}

func TestOpen_SeedDev(t *testing.T) {
	ctx := context.Background()
	cfg := config.Defaults()
	cfg.DBPath = filepath.Join(t.TempDir(), "corenest.db")
	cfg.SeedDev = true

	l, err := backend.Open(ctx, cfg, quietLogger())
	require.NoError(t, err)
	defer l.Close()

	v := service.NewVault(l, nil)
	info, err := v.GetRecordInfo(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "dev-owner", info.Owner.String())

	res, err := v.AccessData(ctx, "dev-reader", 1)
	require.NoError(t, err)
	require.NotNil(t, res.Key)
	assert.Equal(t, "dev-escrowed-key", *res.Key)
}

func TestSeedDev_EachStoreSeedsOnce(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{config.StoreMemory, config.StoreSQLite, config.StoreBadger} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			cfg := config.Defaults()
			cfg.Store = name
			cfg.DBPath = filepath.Join(dir, name, "corenest.db")
			cfg.BadgerDir = filepath.Join(dir, name, "badger")

			l, err := backend.Open(ctx, cfg, quietLogger())
			require.NoError(t, err)
			t.Cleanup(func() { _ = l.Close() })

			id, err := backend.SeedDev(ctx, l, backend.SeedOptions{Owner: "carol", Grantee: "dave"})
			require.NoError(t, err)
			assert.Equal(t, uint64(1), id)

			again, err := backend.SeedDev(ctx, l, backend.SeedOptions{})
			require.NoError(t, err)
			assert.Equal(t, uint64(0), again, "a non-empty ledger is left alone")

			v := service.NewVault(l, quietLogger())
			kh, err := v.GetKeyHash(ctx, "carol", 1)
			require.NoError(t, err)
			require.NotNil(t, kh)
			assert.Equal(t, "dev-key-hash", *kh)

			res, err := v.AccessData(ctx, "dave", 1)
			require.NoError(t, err)
			require.NotNil(t, res.Key)
			assert.Equal(t, "dev-escrowed-key", *res.Key)

			next, err := v.StoreData(ctx, "carol", "ref", nil)
			require.NoError(t, err)
			assert.Equal(t, uint64(2), next, "seeding advances the id counter")
		})
	}
}
