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

// Package cli implements the pqckeys command-line interface.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables bound to global flags,
// e.g. PQCKEYS_OUTPUT=json.
const EnvPrefix = "PQCKEYS"

// NewRootCommand builds the pqckeys command tree around cfg.
func NewRootCommand(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:   "pqckeys",
		Short: "pqckeys - post-quantum key management for email",
		Long: `pqckeys manages per-account key pairs of three kinds and the public
keys learned from contacts.

Key kinds:
  - classical: OpenPGP key pair (prerequisite for the others)
  - pqc-sig:   post-quantum signature key pair (Dilithium, ML-DSA)
  - pqc-kem:   post-quantum key encapsulation pair (Kyber, ML-KEM)

Public keys are distributed to contacts in key announcements and can be
exported to or imported from password-protected .pqk files.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Flags set on the command line win; otherwise PQCKEYS_* applies.
			cfg.ConfigFile = v.GetString("config")
			cfg.DataDir = v.GetString("data-dir")
			cfg.Storage = v.GetString("storage")
			cfg.OutputFormat = v.GetString("output")
			cfg.Verbose = v.GetBool("verbose")
			switch OutputFormat(cfg.OutputFormat) {
			case OutputFormatText, OutputFormatJSON, OutputFormatTable:
				return nil
			default:
				return fmt.Errorf("unknown output format: %s", cfg.OutputFormat)
			}
		},
	}

	// Persistent flags (available to all commands)
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile,
		"config file (default: built-in defaults)")
	flags.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir,
		"directory for key storage (overrides storage.path)")
	flags.StringVar(&cfg.Storage, "storage", cfg.Storage,
		"storage backend (memory, file)")
	flags.StringVarP(&cfg.OutputFormat, "output", "o", cfg.OutputFormat,
		"output format (text, json, table)")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose,
		"verbose output")
	_ = v.BindPFlags(flags)

	// Add subcommands
	rootCmd.AddCommand(newVersionCmd(cfg))
	rootCmd.AddCommand(newBackendsCmd(cfg))
	rootCmd.AddCommand(newKeyCmd(cfg))
	rootCmd.AddCommand(newContactCmd(cfg))
	rootCmd.AddCommand(newAnnounceCmd(cfg))
	rootCmd.AddCommand(newIngestCmd(cfg))
	rootCmd.AddCommand(newOutboxCmd(cfg))
	rootCmd.AddCommand(newExchangeCmd(cfg))
	rootCmd.AddCommand(newPassphraseCmd(cfg))
	rootCmd.AddCommand(newConfigCmd(cfg))
	return rootCmd
}

// Execute runs the root command and reports a failure on stderr.
func Execute() error {
	cfg := NewConfig()
	err := NewRootCommand(cfg).Execute()
	if err != nil {
		handleError(cfg, os.Stderr, err)
	}
	return err
}

// handleError prints an error in the selected output format
func handleError(cfg *Config, w io.Writer, err error) {
	printer := NewPrinter(cfg.OutputFormat, w)
	if printer.PrintError(err) != nil {
		// unknown format
		fmt.Fprintf(w, "Error: %v\n", err)
	}
}

// printVerbose prints a message if verbose mode is enabled
func printVerbose(cfg *Config, format string, args ...interface{}) {
	if cfg.Verbose {
		fmt.Fprintf(os.Stderr, "[VERBOSE] "+format+"\n", args...)
	}
}
