package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/corenest/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string // "json" | "text"

	// Local ledger selection; ignored when GRPCAddr is set.
	Store     string
	DBPath    string
	BadgerDir string

	// GRPCAddr points the CLI at a running server instead of a local ledger.
	GRPCAddr string

	// As is the principal the command acts for.
	As string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

var validStores = []string{config.StoreMemory, config.StoreSQLite, config.StoreBadger}

// NewRootCommand creates the root command for corenestctl.  Flag defaults
// come from the same CORENEST_* environment the server reads.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	defaults := config.FromEnv()

	cmd := &cobra.Command{
		Use:   "corenestctl",
		Short: "corenestctl - permissioned data-reference vault",
		Long: `Register data references, grant and revoke access to them, and audit
how often each grantee has read them.

Commands run against a local ledger (--store, --db, --badger-dir) or, with
--grpc-addr, against a running corenest-server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if !contains(validStores, opts.Store) {
				return fmt.Errorf("invalid store %q: must be one of %v", opts.Store, validStores)
			}
			return nil
		},
	}

	// Global flags
	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.StringVar(&opts.Store, "store", defaults.Store, "ledger backend (memory|sqlite|badger)")
	pf.StringVar(&opts.DBPath, "db", defaults.DBPath, "sqlite database path")
	pf.StringVar(&opts.BadgerDir, "badger-dir", defaults.BadgerDir, "badger data directory")
	pf.StringVar(&opts.GRPCAddr, "grpc-addr", "", "call a corenest-server at this address instead of a local ledger")
	pf.StringVar(&opts.As, "as", "", "principal to act as")

	// Add subcommands
	cmd.AddCommand(NewStoreCommand(opts))
	cmd.AddCommand(NewGrantCommand(opts))
	cmd.AddCommand(NewRevokeCommand(opts))
	cmd.AddCommand(NewAccessCommand(opts))
	cmd.AddCommand(NewKeyHashCommand(opts))
	cmd.AddCommand(NewAccessLogCommand(opts))
	cmd.AddCommand(NewRecordCommand(opts))

	return cmd
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
