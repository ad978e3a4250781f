// Package backend opens the store.Ledger named by the configuration.
package backend

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/corenest/internal/config"
	"github.com/BrandonDHaskell/corenest/internal/corenest/store"
	badgerstore "github.com/BrandonDHaskell/corenest/internal/corenest/store/badger"
	"github.com/BrandonDHaskell/corenest/internal/corenest/store/memory"
	sqlitestore "github.com/BrandonDHaskell/corenest/internal/corenest/store/sqlite"
)

// Open returns the ledger selected by cfg.Store.  The caller owns the
// result and must Close it.  When cfg.SeedDev is set in dev, an empty
// ledger is given a demo record.
func Open(ctx context.Context, cfg config.Config, log *logrus.Logger) (store.Ledger, error) {
	l, err := open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if cfg.SeedDev && cfg.Env == "dev" {
		id, err := SeedDev(ctx, l, SeedOptions{})
		if err != nil {
			_ = l.Close()
			return nil, fmt.Errorf("seed dev ledger: %w", err)
		}
		if id != 0 {
			log.WithField("record_id", id).Info("seeded dev ledger")
		}
	}
	return l, nil
}

func open(ctx context.Context, cfg config.Config, log *logrus.Logger) (store.Ledger, error) {
	switch cfg.Store {
	case config.StoreMemory:
		log.Warn("using in-memory ledger; nothing survives a restart")
		return memory.New(), nil

	case config.StoreBadger:
		l, err := badgerstore.Open(badgerstore.Config{Dir: cfg.BadgerDir, Logger: log})
		if err != nil {
			return nil, err
		}
		log.WithField("dir", cfg.BadgerDir).Info("badger ledger opened")
		return l, nil

	case config.StoreSQLite, "":
		l, err := sqlitestore.Open(ctx, cfg.DBPath)
		if err != nil {
			return nil, err
		}
		log.WithField("path", cfg.DBPath).Info("sqlite ledger opened")
		return l, nil

	default:
		return nil, fmt.Errorf("backend: unknown store %q", cfg.Store)
	}
}
