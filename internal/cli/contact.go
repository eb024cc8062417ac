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
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-pqckeys/pkg/contacts"
	"github.com/jeremyhahn/go-pqckeys/pkg/distribution"
	"github.com/jeremyhahn/go-pqckeys/pkg/types"
	"github.com/jeremyhahn/go-pqckeys/pkg/validation"
)

func newContactCmd(cfg *Config) *cobra.Command {
	contactCmd := &cobra.Command{
		Use:     "contact",
		Aliases: []string{"contacts"},
		Short:   "Manage public keys learned from contacts",
	}
	contactCmd.AddCommand(
		newContactListCmd(cfg),
		newContactShowCmd(cfg),
		newContactAddCmd(cfg),
		newContactDeleteCmd(cfg),
		newContactFingerprintCmd(cfg),
	)
	return contactCmd
}

func newContactListCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every cached contact key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := cfg.OpenService(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()
			return NewPrinter(cfg.OutputFormat, cmd.OutOrStdout()).PrintContacts(app.Contacts().GetAllContacts())
		},
	}
}

func newContactShowCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "show <contact>",
		Short: "Show the cached keys of one contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := cfg.OpenService(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			var entries []*types.ContactEntry
			for _, k := range types.AllKeyKinds {
				e, err := app.Contacts().Get(args[0], k)
				if errors.Is(err, contacts.ErrUnknownContact) {
					continue
				}
				if err != nil {
					return err
				}
				entries = append(entries, e)
			}
			if len(entries) == 0 {
				return fmt.Errorf("%w: %s", contacts.ErrUnknownContact, types.NormalizeIdentifier(args[0]))
			}
			return NewPrinter(cfg.OutputFormat, cmd.OutOrStdout()).PrintContacts(entries)
		},
	}
}

func newContactAddCmd(cfg *Config) *cobra.Command {
	var kind, algorithm string
	cmd := &cobra.Command{
		Use:   "add <account> <contact> <key-file>",
		Short: "Store a contact's armored public key",
		Long: `Store a contact's public key read from an ASCII-armored or base64 file.
The algorithm comes from the armor header unless --algorithm is given.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := types.ParseKeyKind(kind)
			if err != nil {
				return err
			}
			data, err := readInput(args[2])
			if err != nil {
				return err
			}
			pub, alg, err := distribution.DecodeArmor(k, data)
			if err != nil {
				return err
			}
			if algorithm != "" {
				alg = algorithm
			}
			if alg == "" {
				return fmt.Errorf("the key file has no algorithm header; pass --algorithm")
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
			if err := ks.ImportRemotePublicKey(args[0], args[1], alg, pub); err != nil {
				return err
			}
			return NewPrinter(cfg.OutputFormat, cmd.OutOrStdout()).PrintSuccess(
				fmt.Sprintf("Stored %s key (%s) of %s, fingerprint %s",
					k, alg, types.NormalizeIdentifier(args[1]), contacts.Fingerprint(pub)))
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", types.KeyKindClassical.String(),
		"key kind (classical, pqc-sig, pqc-kem)")
	cmd.Flags().StringVarP(&algorithm, "algorithm", "a", "", "algorithm of the key")
	return cmd
}

func newContactDeleteCmd(cfg *Config) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "delete <contact>",
		Short: "Delete a contact's cached keys",
		Args:  cobra.ExactArgs(1),
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

			removed := 0
			if len(kinds) == len(types.AllKeyKinds) {
				if removed, err = app.Contacts().DeleteIdentity(args[0]); err != nil {
					return err
				}
			} else {
				_, err := app.Contacts().Get(args[0], kinds[0])
				switch {
				case err == nil:
					removed = 1
				case !errors.Is(err, contacts.ErrUnknownContact):
					return err
				}
				if err := app.Contacts().DeleteContact(args[0], kinds[0]); err != nil {
					return err
				}
			}
			return NewPrinter(cfg.OutputFormat, cmd.OutOrStdout()).PrintSuccess(
				fmt.Sprintf("Deleted %d key(s) of %s", removed, types.NormalizeIdentifier(args[0])))
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", kindAll,
		"key kind (classical, pqc-sig, pqc-kem, all)")
	return cmd
}

func newContactFingerprintCmd(cfg *Config) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "fingerprint <contact>",
		Short: "Print the fingerprint of a contact key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validation.ValidateIdentifier(args[0]); err != nil {
				return err
			}
			k, err := types.ParseKeyKind(kind)
			if err != nil {
				return err
			}
			app, err := cfg.OpenService(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			pub, err := app.Contacts().GetPublicKey(args[0], k)
			if err != nil {
				return err
			}
			return NewPrinter(cfg.OutputFormat, cmd.OutOrStdout()).PrintValue("fingerprint", contacts.Fingerprint(pub))
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", types.KeyKindClassical.String(),
		"key kind (classical, pqc-sig, pqc-kem)")
	return cmd
}
