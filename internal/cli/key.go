// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-pqckeys.
//
// go-pqckeys is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-pqckeys/pkg/bundle"
	"github.com/jeremyhahn/go-pqckeys/pkg/distribution"
	"github.com/jeremyhahn/go-pqckeys/pkg/types"
)

// DefaultBundlePasswordEnv names the variable .pqk passwords are read from.
const DefaultBundlePasswordEnv = "PQCKEYS_BUNDLE_PASSWORD"

// kindAll selects every key kind in commands that accept --kind.
const kindAll = "all"

// parseKinds resolves a --kind flag. "all" returns every kind in
// announcement order, classical first.
func parseKinds(s string) ([]types.KeyKind, error) {
	if strings.EqualFold(strings.TrimSpace(s), kindAll) {
		return types.AllKeyKinds, nil
	}
	kind, err := types.ParseKeyKind(s)
	if err != nil {
		return nil, err
	}
	return []types.KeyKind{kind}, nil
}

func newKeyCmd(cfg *Config) *cobra.Command {
	keyCmd := &cobra.Command{
		Use:   "key",
		Short: "Manage own key pairs",
		Long:  `Generate, inspect, export, import and reset an account's key pairs`,
	}
	keyCmd.AddCommand(
		newKeyGenerateCmd(cfg),
		newKeyStatusCmd(cfg),
		newKeyListCmd(cfg),
		newKeySelectCmd(cfg),
		newKeyExportCmd(cfg),
		newKeyImportCmd(cfg),
		newKeyResetCmd(cfg),
	)
	return keyCmd
}

// newKeyGenerateCmd generates key pairs
func newKeyGenerateCmd(cfg *Config) *cobra.Command {
	var kind, algorithm string
	cmd := &cobra.Command{
		Use:   "generate <account>",
		Short: "Generate a key pair",
		Long: `Generate a key pair of the given kind, replacing any existing pair.

Without --algorithm the account's selected algorithm is used, falling back
to the configured default. Generating a PQC key pair first creates the
classical key pair when the account has none.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account := args[0]
			kinds, err := parseKinds(kind)
			if err != nil {
				return err
			}
			if algorithm != "" && len(kinds) > 1 {
				return fmt.Errorf("--algorithm requires a single --kind")
			}

			app, err := cfg.OpenService(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			printer := NewPrinter(cfg.OutputFormat, cmd.OutOrStdout())
			for _, k := range kinds {
				alg := algorithm
				if alg == "" {
					if alg, err = app.Algorithm(account, k); err != nil {
						return err
					}
				}
				printVerbose(cfg, "Generating %s key pair (%s) for %s", k, alg, account)
				if err := app.GenerateKeyPair(cmd.Context(), account, k, alg); err != nil {
					return fmt.Errorf("failed to generate %s key pair: %w", k, err)
				}
			}
			status, err := app.Status(account)
			if err != nil {
				return err
			}
			return printer.PrintStatus(types.NormalizeIdentifier(account), status)
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", types.KeyKindClassical.String(),
		"key kind (classical, pqc-sig, pqc-kem, all)")
	cmd.Flags().StringVarP(&algorithm, "algorithm", "a", "",
		"algorithm, e.g. PGP-Ed25519, Dilithium3, Kyber768")
	return cmd
}

// newKeyStatusCmd shows per-kind key state
func newKeyStatusCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status <account>",
		Short: "Show an account's key state per kind",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := cfg.OpenService(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			status, err := app.Status(args[0])
			if err != nil {
				return err
			}
			return NewPrinter(cfg.OutputFormat, cmd.OutOrStdout()).
				PrintStatus(types.NormalizeIdentifier(args[0]), status)
		},
	}
}

// newKeyListCmd lists accounts with key pairs
func newKeyListCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts holding key pairs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := cfg.OpenService(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			accounts := make(map[types.KeyKind][]string)
			for _, k := range app.Registry().Kinds() {
				ks, err := app.Store(k)
				if err != nil {
					return err
				}
				list, err := ks.ListAccounts()
				if err != nil {
					return err
				}
				accounts[k] = list
			}
			return NewPrinter(cfg.OutputFormat, cmd.OutOrStdout()).PrintAccounts(accounts)
		},
	}
}

// newKeySelectCmd records the algorithm for the next generation
func newKeySelectCmd(cfg *Config) *cobra.Command {
	var kind string
	var clearSelection bool
	cmd := &cobra.Command{
		Use:   "select <account> [algorithm]",
		Short: "Select the algorithm used for the next generation",
		Long: `Select the algorithm of a key kind for an account that has no key pair
of that kind yet. Use --clear to remove the selection. An account that
already holds a pair must be reset before switching algorithms.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := types.ParseKeyKind(kind)
			if err != nil {
				return err
			}
			var algorithm string
			switch {
			case clearSelection && len(args) == 2:
				return fmt.Errorf("--clear does not take an algorithm")
			case !clearSelection && len(args) < 2:
				return fmt.Errorf("an algorithm is required unless --clear is given")
			case !clearSelection:
				algorithm = args[1]
			}

			app, err := cfg.OpenService(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			ks, err := app.Store(k)
			if err != nil {
				return err
			}
			if err := ks.SelectAlgorithm(args[0], algorithm); err != nil {
				return err
			}
			msg := fmt.Sprintf("Selected %s for %s keys of %s", algorithm, k, types.NormalizeIdentifier(args[0]))
			if clearSelection {
				msg = fmt.Sprintf("Cleared %s selection of %s", k, types.NormalizeIdentifier(args[0]))
			}
			return NewPrinter(cfg.OutputFormat, cmd.OutOrStdout()).PrintSuccess(msg)
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", types.KeyKindPqcSignature.String(),
		"key kind (classical, pqc-sig, pqc-kem)")
	cmd.Flags().BoolVar(&clearSelection, "clear", false, "remove the selection")
	return cmd
}

// newKeyExportCmd exports a public key or a .pqk bundle
func newKeyExportCmd(cfg *Config) *cobra.Command {
	var kind, out, passwordEnv string
	var asBundle, secret bool
	cmd := &cobra.Command{
		Use:   "export <account>",
		Short: "Export a public key or a .pqk bundle",
		Long: `Export the account's public key of a kind as ASCII armor, or with --bundle
as a .pqk document. A bundle is encrypted when the password variable
(--password-env) is set; --secret includes the secret key and requires it.

Bundles are written to pqkeys_<account>.pqk unless --out is given; use
--out - for stdout.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account := args[0]
			k, err := types.ParseKeyKind(kind)
			if err != nil {
				return err
			}
			if secret && !asBundle {
				return fmt.Errorf("--secret requires --bundle")
			}

			app, err := cfg.OpenService(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()
			printer := NewPrinter(cfg.OutputFormat, cmd.OutOrStdout())

			if !asBundle {
				pub, err := app.ExportPublicKey(account, k)
				if err != nil {
					return err
				}
				if pub == nil {
					return fmt.Errorf("%w: %s has no %s key pair", bundle.ErrNoPublicKey, types.NormalizeIdentifier(account), k)
				}
				ks, err := app.Store(k)
				if err != nil {
					return err
				}
				alg, err := ks.Algorithm(account)
				if err != nil {
					return err
				}
				armored, err := distribution.EncodeArmor(k, alg, pub)
				if err != nil {
					return err
				}
				if out != "" && out != "-" {
					return writeOutput(out, armored)
				}
				return printer.PrintValue("public_key", string(armored))
			}

			pass, err := bundlePassword(passwordEnv)
			if err != nil {
				return err
			}
			var pw []byte
			if pass != nil {
				defer pass.Clear()
				pw = pass.Bytes()
			}
			data, err := app.ExportBundle(cmd.Context(), account, k, secret, pw)
			if err != nil {
				return err
			}
			if out == "-" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if out == "" {
				out = bundle.FileName(types.NormalizeIdentifier(account))
			}
			if err := bundle.WriteFile(out, data); err != nil {
				return err
			}
			return printer.PrintSuccess(fmt.Sprintf("Exported %s bundle to %s", k, out))
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", types.KeyKindClassical.String(),
		"key kind (classical, pqc-sig, pqc-kem)")
	cmd.Flags().BoolVar(&asBundle, "bundle", false, "write a .pqk bundle instead of armor")
	cmd.Flags().BoolVar(&secret, "secret", false, "include the secret key (bundle only)")
	cmd.Flags().StringVar(&passwordEnv, "password-env", DefaultBundlePasswordEnv,
		"environment variable holding the bundle password")
	cmd.Flags().StringVar(&out, "out", "", "output file")
	return cmd
}

// newKeyImportCmd imports a .pqk bundle
func newKeyImportCmd(cfg *Config) *cobra.Command {
	var passwordEnv string
	cmd := &cobra.Command{
		Use:   "import <account> <file.pqk>",
		Short: "Import a .pqk bundle",
		Long: `Import a .pqk bundle. A bundle carrying a secret key replaces the
account's own key pair; a public-only bundle is stored as the bundle
owner's contact key.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := bundle.ReadFile(args[1])
			if err != nil {
				return err
			}
			pass, err := bundlePassword(passwordEnv)
			if err != nil {
				return err
			}
			var pw []byte
			if pass != nil {
				defer pass.Clear()
				pw = pass.Bytes()
			}

			app, err := cfg.OpenService(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			b, err := app.ImportBundle(cmd.Context(), args[0], data, pw)
			if err != nil {
				return err
			}
			defer b.Zero()

			msg := fmt.Sprintf("Imported %s contact key of %s", b.Kind, b.Email)
			if b.HasPrivateKey() {
				msg = fmt.Sprintf("Imported %s key pair (%s) for %s", b.Kind, b.Algorithm, types.NormalizeIdentifier(args[0]))
			}
			return NewPrinter(cfg.OutputFormat, cmd.OutOrStdout()).PrintSuccess(msg)
		},
	}
	cmd.Flags().StringVar(&passwordEnv, "password-env", DefaultBundlePasswordEnv,
		"environment variable holding the bundle password")
	return cmd
}

// newKeyResetCmd clears key pairs
func newKeyResetCmd(cfg *Config) *cobra.Command {
	var kind string
	var deleteContacts bool
	cmd := &cobra.Command{
		Use:   "reset <account>",
		Short: "Delete an account's key pairs",
		Long: `Delete the account's key pairs of a kind, or of every kind with
--kind all. --delete-contacts also removes the account's own entries from
the contact cache.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds, err := parseKinds(kind)
			if err != nil {
				return err
			}
			app, err := cfg.OpenService(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			if len(kinds) == len(types.AllKeyKinds) {
				err = app.ResetAccount(args[0], deleteContacts)
			} else {
				err = app.ClearKeys(args[0], kinds[0], deleteContacts)
			}
			if err != nil {
				return err
			}
			return NewPrinter(cfg.OutputFormat, cmd.OutOrStdout()).
				PrintSuccess(fmt.Sprintf("Reset %s keys of %s", kind, types.NormalizeIdentifier(args[0])))
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", kindAll,
		"key kind (classical, pqc-sig, pqc-kem, all)")
	cmd.Flags().BoolVar(&deleteContacts, "delete-contacts", false,
		"also delete the account's entries from the contact cache")
	return cmd
}

// writeOutput writes data to path with owner-only permissions.
func writeOutput(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
