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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-pqckeys/pkg/bundle"
	"github.com/jeremyhahn/go-pqckeys/pkg/distribution"
)

// errNoOutbox is returned when the service delivers through a custom
// transport instead of the storage spool.
var errNoOutbox = errors.New("outbox is not available with the configured transport")

func newAnnounceCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "announce <account> <recipient>...",
		Short: "Send the account's public keys to recipients",
		Long: `Compose a key announcement carrying the account's classical public key
and whichever PQC public keys exist, and deliver it. The default transport
spools the message in the outbox; see "pqckeys outbox".`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := cfg.OpenService(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			msg, err := app.Announce(cmd.Context(), args[0], args[1:])
			if err != nil {
				return err
			}
			return NewPrinter(cfg.OutputFormat, cmd.OutOrStdout()).PrintMessage(msg)
		},
	}
}

func newIngestCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <message.json>",
		Short: "Store the public keys of a received announcement",
		Long: `Read a key announcement as exported by "pqckeys outbox export" (or
"-" for stdin) and store each offered public key as a contact key of the
sender. Keys that fail validation are reported and skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(args[0])
			if err != nil {
				return err
			}
			msg := new(distribution.OutboundMessage)
			if err := json.Unmarshal(data, msg); err != nil {
				return fmt.Errorf("%w: %v", distribution.ErrMalformedPayload, err)
			}

			app, err := cfg.OpenService(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			report, err := app.Ingest(cmd.Context(), msg)
			if err != nil {
				return err
			}
			return NewPrinter(cfg.OutputFormat, cmd.OutOrStdout()).PrintIngestReport(report)
		},
	}
}

func newOutboxCmd(cfg *Config) *cobra.Command {
	outboxCmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect spooled announcements",
	}

	withOutbox := func(cmd *cobra.Command, fn func(*distribution.SpoolTransport) error) error {
		app, err := cfg.OpenService(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = app.Close() }()
		if app.Outbox() == nil {
			return errNoOutbox
		}
		return fn(app.Outbox())
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List spooled message IDs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOutbox(cmd, func(spool *distribution.SpoolTransport) error {
				ids, err := spool.Pending()
				if err != nil {
					return err
				}
				return NewPrinter(cfg.OutputFormat, cmd.OutOrStdout()).PrintList("Messages", ids)
			})
		},
	}

	var out string
	exportCmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Write a spooled message as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOutbox(cmd, func(spool *distribution.SpoolTransport) error {
				msg, err := spool.Load(args[0])
				if err != nil {
					return err
				}
				data, err := json.MarshalIndent(msg, "", "  ")
				if err != nil {
					return err
				}
				if out == "" || out == "-" {
					_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
					return err
				}
				return writeOutput(out, data)
			})
		},
	}
	exportCmd.Flags().StringVar(&out, "out", "", "output file (default stdout)")

	removeCmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete a spooled message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOutbox(cmd, func(spool *distribution.SpoolTransport) error {
				if err := spool.Remove(args[0]); err != nil {
					return err
				}
				return NewPrinter(cfg.OutputFormat, cmd.OutOrStdout()).
					PrintSuccess(fmt.Sprintf("Removed message %s", args[0]))
			})
		},
	}

	outboxCmd.AddCommand(listCmd, exportCmd, removeCmd)
	return outboxCmd
}

// readInput reads a file, or stdin for "-", up to bundle.MaxFileSize.
func readInput(path string) ([]byte, error) {
	if path != "-" {
		return bundle.ReadFile(path)
	}
	data, err := io.ReadAll(io.LimitReader(os.Stdin, bundle.MaxFileSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > bundle.MaxFileSize {
		return nil, fmt.Errorf("%w: input exceeds %d bytes", distribution.ErrMalformedPayload, bundle.MaxFileSize)
	}
	return data, nil
}
