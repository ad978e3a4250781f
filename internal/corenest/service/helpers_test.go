package service_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/corenest/internal/corenest/service"
	"github.com/BrandonDHaskell/corenest/internal/corenest/store"
	badgerstore "github.com/BrandonDHaskell/corenest/internal/corenest/store/badger"
	"github.com/BrandonDHaskell/corenest/internal/corenest/store/memory"
	sqlitestore "github.com/BrandonDHaskell/corenest/internal/corenest/store/sqlite"
	"github.com/BrandonDHaskell/corenest/internal/db"
)

type backend struct {
	name string
	open func(t *testing.T) store.Ledger
}

// backends lists every store.Ledger implementation.  Service behaviour must
// be identical across all of them.
var backends = []backend{
	{"memory", func(*testing.T) store.Ledger { return memory.New() }},
	{"sqlite", openSQLite},
	{"badger", openBadger},
}

func openSQLite(t *testing.T) store.Ledger {
	t.Helper()
	name := "svc_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := db.OpenInMemory(context.Background(), name)
	require.NoError(t, err)
	w := db.NewWorker(conn)
	t.Cleanup(func() {
		w.Close()
		conn.Close()
	})
	return sqlitestore.NewLedger(conn, w)
}

func openBadger(t *testing.T) store.Ledger {
	t.Helper()
	l, err := badgerstore.Open(badgerstore.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.DebugLevel)
	return l
}

// eachBackend runs fn as a subtest once per backend with a fresh vault.
func eachBackend(t *testing.T, fn func(t *testing.T, v *service.Vault)) {
	t.Helper()
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			fn(t, service.NewVault(b.open(t), quietLogger()))
		})
	}
}

func strptr(s string) *string { return &s }
