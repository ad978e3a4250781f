package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/corenest/internal/corenest/fault"
	"github.com/BrandonDHaskell/corenest/internal/corenest/types"
)

// Execute runs corenestctl with args and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || !exitErr.Reported {
		fmt.Fprintf(stderr, "corenestctl: %v\n", err)
	}
	return GetExitCode(err)
}

// result is what a command prints on success.
type result struct {
	data any
	text string
}

// ── store ────────────────────────────────────────────────────────────────────

func NewStoreCommand(opts *RootOptions) *cobra.Command {
	var keyHash string

	cmd := &cobra.Command{
		Use:     "store <reference>",
		Short:   "Register a data reference owned by --as",
		Example: `  corenestctl --as alice store ipfs://bafy... --key-hash sha256:...`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kh := optionalFlag(cmd, "key-hash", keyHash)
			return runVault(cmd, opts, true, func(ctx context.Context, v Vault) (result, error) {
				id, err := v.StoreData(ctx, args[0], kh)
				if err != nil {
					return result{}, err
				}
				return result{
					data: types.StoreDataResponse{ID: id},
					text: fmt.Sprintf("stored record %d\n", id),
				}, nil
			})
		},
	}
	cmd.Flags().StringVar(&keyHash, "key-hash", "", "hash of the data's encryption key")
	return cmd
}

func NewRecordCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "record <record-id>",
		Short: "Show a record's owner and reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRecordID(args[0])
			if err != nil {
				return report(cmd, opts, err)
			}
			return runVault(cmd, opts, false, func(ctx context.Context, v Vault) (result, error) {
				info, err := v.GetRecordInfo(ctx, id)
				if err != nil {
					return result{}, err
				}
				return result{
					data: info,
					text: fmt.Sprintf("id: %d\nowner: %s\nreference: %s\n", info.ID, info.Owner, info.Reference),
				}, nil
			})
		},
	}
}

func NewKeyHashCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "key-hash <record-id>",
		Short: "Show a record's key hash (owner only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRecordID(args[0])
			if err != nil {
				return report(cmd, opts, err)
			}
			return runVault(cmd, opts, true, func(ctx context.Context, v Vault) (result, error) {
				kh, err := v.GetKeyHash(ctx, id)
				if err != nil {
					return result{}, err
				}
				return result{
					data: types.KeyHashResponse{KeyHash: kh},
					text: fmt.Sprintf("key_hash: %s\n", orNone(kh)),
				}, nil
			})
		},
	}
}

// ── grants ───────────────────────────────────────────────────────────────────

func NewGrantCommand(opts *RootOptions) *cobra.Command {
	var encryptedKey string

	cmd := &cobra.Command{
		Use:     "grant <record-id> <grantee>",
		Short:   "Give a grantee read access to a record (owner only)",
		Example: `  corenestctl --as alice grant 1 bob --encrypted-key <key sealed for bob>`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, grantee, err := parseGrantArgs(args)
			if err != nil {
				return report(cmd, opts, err)
			}
			ek := optionalFlag(cmd, "encrypted-key", encryptedKey)
			return runVault(cmd, opts, true, func(ctx context.Context, v Vault) (result, error) {
				if err := v.GrantAccess(ctx, id, grantee, ek); err != nil {
					return result{}, err
				}
				return result{
					data: types.OKResponse{OK: true},
					text: fmt.Sprintf("granted %s access to record %d\n", grantee, id),
				}, nil
			})
		},
	}
	cmd.Flags().StringVar(&encryptedKey, "encrypted-key", "", "data key escrowed for the grantee")
	return cmd
}

func NewRevokeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <record-id> <grantee>",
		Short: "Withdraw a grantee's access to a record (owner only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, grantee, err := parseGrantArgs(args)
			if err != nil {
				return report(cmd, opts, err)
			}
			return runVault(cmd, opts, true, func(ctx context.Context, v Vault) (result, error) {
				if err := v.RevokeAccess(ctx, id, grantee); err != nil {
					return result{}, err
				}
				return result{
					data: types.OKResponse{OK: true},
					text: fmt.Sprintf("revoked %s access to record %d\n", grantee, id),
				}, nil
			})
		},
	}
}

// ── access ───────────────────────────────────────────────────────────────────

func NewAccessCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "access <record-id>",
		Short: "Read a record's reference (and escrowed key, for grantees)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRecordID(args[0])
			if err != nil {
				return report(cmd, opts, err)
			}
			return runVault(cmd, opts, true, func(ctx context.Context, v Vault) (result, error) {
				res, err := v.AccessData(ctx, id)
				if err != nil {
					return result{}, err
				}
				return result{
					data: res,
					text: fmt.Sprintf("reference: %s\nkey: %s\n", res.Reference, orNone(res.Key)),
				}, nil
			})
		},
	}
}

func NewAccessLogCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "access-log <record-id> <grantee>",
		Short: "Show how often a grantee has read a record (owner only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, grantee, err := parseGrantArgs(args)
			if err != nil {
				return report(cmd, opts, err)
			}
			return runVault(cmd, opts, true, func(ctx context.Context, v Vault) (result, error) {
				lg, err := v.GetDataAccessLog(ctx, id, grantee)
				if err != nil {
					return result{}, err
				}
				return result{
					data: lg,
					text: fmt.Sprintf("record_id: %d\ngrantee: %s\naccess_count: %d\n", lg.RecordID, lg.Grantee, lg.AccessCount),
				}, nil
			})
		},
	}
}

// ── plumbing ─────────────────────────────────────────────────────────────────

// runVault opens the ledger, runs fn as the --as principal when needCaller
// is set, and prints the outcome.
func runVault(cmd *cobra.Command, opts *RootOptions, needCaller bool, fn func(ctx context.Context, v Vault) (result, error)) error {
	var caller types.Principal
	if needCaller {
		p, err := types.ParsePrincipal(opts.As)
		if err != nil {
			return report(cmd, opts, fault.Invalid("--as: %v", err))
		}
		caller = p
	}

	v, closeFn, err := openVault(cmd.Context(), opts, caller, cmd.ErrOrStderr())
	if err != nil {
		return report(cmd, opts, WrapExitError(ExitCommandError, "open ledger", err))
	}
	defer func() { _ = closeFn() }()

	res, err := fn(cmd.Context(), v)
	if err != nil {
		return report(cmd, opts, err)
	}
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if err := out.Success(res.data, res.text); err != nil {
		return WrapExitError(ExitCommandError, "write output", err)
	}
	return nil
}

// report prints err and returns the ExitError that carries its exit code.
// Domain faults exit with ExitFailure; everything else with
// ExitCommandError.  Text output goes to stderr, JSON to stdout.
func report(cmd *cobra.Command, opts *RootOptions, err error) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format != "json" {
		out.Writer = cmd.ErrOrStderr()
	}

	if fe, ok := fault.As(err); ok {
		_ = out.Fault(fe)
		return &ExitError{Code: ExitFailure, Message: fe.Kind, Err: err, Reported: true}
	}

	exitErr := WrapExitError(ExitCommandError, "command failed", err)
	errors.As(err, &exitErr)
	if opts.Format == "json" {
		_ = out.Error(CLIError{Kind: "command_error", Message: exitErr.Error()})
		exitErr.Reported = true
	}
	return exitErr
}

func parseRecordID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fault.Invalid("record id %q must be an unsigned integer", s)
	}
	return id, nil
}

func parseGrantArgs(args []string) (uint64, types.Principal, error) {
	id, err := parseRecordID(args[0])
	if err != nil {
		return 0, "", err
	}
	grantee, err := types.ParsePrincipal(args[1])
	if err != nil {
		return 0, "", fault.Invalid("grantee: %v", err)
	}
	return id, grantee, nil
}

// optionalFlag returns nil unless the flag was given on the command line,
// so an explicit empty value stays distinct from an absent one.
func optionalFlag(cmd *cobra.Command, name, value string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v := value
	return &v
}

func orNone(s *string) string {
	if s == nil {
		return "(none)"
	}
	return *s
}
