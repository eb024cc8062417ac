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
	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-pqckeys/internal/password"
)

func newPassphraseCmd(cfg *Config) *cobra.Command {
	var words int
	cmd := &cobra.Command{
		Use:   "passphrase",
		Short: "Generate a random BIP-39 passphrase",
		Long: `Generate a random passphrase from the BIP-39 word list, suitable as a
.pqk bundle password or a sealing passphrase.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pass, err := password.GeneratePassphrase(words)
			if err != nil {
				return err
			}
			defer pass.Clear()
			s, err := pass.String()
			if err != nil {
				return err
			}
			return NewPrinter(cfg.OutputFormat, cmd.OutOrStdout()).PrintValue("passphrase", s)
		},
	}
	cmd.Flags().IntVarP(&words, "words", "w", password.DefaultPassphraseWords,
		"number of words (12, 15, 18, 21 or 24)")
	return cmd
}
