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
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-pqckeys/pkg/distribution"
	"github.com/jeremyhahn/go-pqckeys/pkg/types"
)

func newExchangeCmd(cfg *Config) *cobra.Command {
	exchangeCmd := &cobra.Command{
		Use:   "exchange",
		Short: "Establish KEM session keys with contacts",
		Long: `Establish a session key with a contact whose KEM public key is cached.
"establish" prints a base64 ciphertext to send to the contact, who runs
"accept" with it; both sides then hold the same session key.`,
	}

	establishCmd := &cobra.Command{
		Use:   "establish <contact>",
		Short: "Encapsulate a session key to a contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := cfg.OpenService(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			ct, err := app.Distribution().EstablishSharedSecret(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return NewPrinter(cfg.OutputFormat, cmd.OutOrStdout()).
				PrintValue("ciphertext", base64.StdEncoding.EncodeToString(ct))
		},
	}

	acceptCmd := &cobra.Command{
		Use:   "accept <account> <contact> <ciphertext>",
		Short: "Decapsulate a session key received from a contact",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ct, err := base64.StdEncoding.DecodeString(strings.TrimSpace(args[2]))
			if err != nil {
				return fmt.Errorf("%w: ciphertext is not base64: %v", distribution.ErrMalformedPayload, err)
			}
			app, err := cfg.OpenService(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			if err := app.Distribution().AcceptSharedSecret(cmd.Context(), args[0], args[1], ct); err != nil {
				return err
			}
			return NewPrinter(cfg.OutputFormat, cmd.OutOrStdout()).PrintSuccess(
				fmt.Sprintf("Session key with %s stored", types.NormalizeIdentifier(args[1])))
		},
	}

	exchangeCmd.AddCommand(establishCmd, acceptCmd)
	return exchangeCmd
}
