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
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jeremyhahn/go-pqckeys/pkg/contacts"
	"github.com/jeremyhahn/go-pqckeys/pkg/distribution"
	"github.com/jeremyhahn/go-pqckeys/pkg/keychain"
	"github.com/jeremyhahn/go-pqckeys/pkg/types"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText  OutputFormat = "text"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatTable OutputFormat = "table"
)

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(format),
		writer: writer,
	}
}

// PrintBackends prints the backend serving each key kind
func (p *Printer) PrintBackends(infos []BackendInfo) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"backends": infos,
		})
	case OutputFormatTable:
		fmt.Fprintf(p.writer, "%-12s %-10s %-15s %s\n", "KIND", "BACKEND", "DEFAULT", "ALGORITHMS")
		fmt.Fprintln(p.writer, strings.Repeat("-", 72))
		for _, info := range infos {
			fmt.Fprintf(p.writer, "%-12s %-10s %-15s %s\n",
				info.Kind, info.Backend, info.Default, strings.Join(info.Algorithms, ", "))
		}
		return nil
	case OutputFormatText:
		for _, info := range infos {
			fmt.Fprintf(p.writer, "%s (%s):\n", info.Kind, info.Backend)
			for _, alg := range info.Algorithms {
				marker := " "
				if alg == info.Default {
					marker = "*"
				}
				if n := info.KeySizes[alg]; n > 0 {
					fmt.Fprintf(p.writer, "  %s %s (%d bytes)\n", marker, alg, n)
				} else {
					fmt.Fprintf(p.writer, "  %s %s\n", marker, alg)
				}
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintStatus prints an account's key state for every kind
func (p *Printer) PrintStatus(account string, status []keychain.KeyStatus) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"account": account,
			"keys":    status,
		})
	case OutputFormatTable:
		fmt.Fprintf(p.writer, "%-12s %-20s %-15s %-8s %s\n", "KIND", "STATE", "ALGORITHM", "SIZE", "FINGERPRINT")
		fmt.Fprintln(p.writer, strings.Repeat("-", 90))
		for _, st := range status {
			alg := st.Algorithm
			if alg == "" {
				alg = st.SelectedAlgorithm
			}
			fmt.Fprintf(p.writer, "%-12s %-20s %-15s %-8d %s\n",
				st.Kind, st.StateName, alg, st.PublicKeySize, st.Fingerprint)
		}
		return nil
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Account: %s\n", account)
		for _, st := range status {
			fmt.Fprintf(p.writer, "  %s: %s", st.Kind, st.StateName)
			switch {
			case st.Algorithm != "":
				fmt.Fprintf(p.writer, " (%s, %d bytes, %s)", st.Algorithm, st.PublicKeySize, st.Fingerprint)
			case st.SelectedAlgorithm != "":
				fmt.Fprintf(p.writer, " (%s)", st.SelectedAlgorithm)
			}
			fmt.Fprintln(p.writer)
			if st.Problem != "" {
				fmt.Fprintf(p.writer, "    problem: %s\n", st.Problem)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintAccounts prints the accounts holding a key pair, per kind
func (p *Printer) PrintAccounts(accounts map[types.KeyKind][]string) error {
	kinds := sortedKinds(accounts)
	switch p.format {
	case OutputFormatJSON:
		out := make(map[string][]string, len(accounts))
		for _, k := range kinds {
			out[k.String()] = nonNil(accounts[k])
		}
		return p.printJSON(map[string]interface{}{"accounts": out})
	case OutputFormatTable, OutputFormatText:
		empty := true
		for _, k := range kinds {
			for _, a := range accounts[k] {
				fmt.Fprintf(p.writer, "%-12s %s\n", k, a)
				empty = false
			}
		}
		if empty {
			fmt.Fprintln(p.writer, "No key pairs found")
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintContacts prints contact entries without their shared secrets
func (p *Printer) PrintContacts(entries []*types.ContactEntry) error {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Identifier != entries[j].Identifier {
			return entries[i].Identifier < entries[j].Identifier
		}
		return entries[i].Kind < entries[j].Kind
	})
	switch p.format {
	case OutputFormatJSON:
		list := make([]map[string]interface{}, len(entries))
		for i, e := range entries {
			list[i] = contactJSON(e)
		}
		return p.printJSON(map[string]interface{}{"contacts": list})
	case OutputFormatTable:
		if len(entries) == 0 {
			fmt.Fprintln(p.writer, "No contacts found")
			return nil
		}
		fmt.Fprintf(p.writer, "%-30s %-12s %-15s %-8s %s\n", "CONTACT", "KIND", "ALGORITHM", "SESSION", "FINGERPRINT")
		fmt.Fprintln(p.writer, strings.Repeat("-", 100))
		for _, e := range entries {
			fmt.Fprintf(p.writer, "%-30s %-12s %-15s %-8t %s\n",
				e.Identifier, e.Kind, e.Algorithm, len(e.SharedSecret) > 0, contacts.Fingerprint(e.PublicKey))
		}
		return nil
	case OutputFormatText:
		if len(entries) == 0 {
			fmt.Fprintln(p.writer, "No contacts found")
			return nil
		}
		fmt.Fprintln(p.writer, "Contacts:")
		for _, e := range entries {
			fmt.Fprintf(p.writer, "  - %s [%s] %s %s\n",
				e.Identifier, e.Kind, e.Algorithm, contacts.Fingerprint(e.PublicKey))
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

func contactJSON(e *types.ContactEntry) map[string]interface{} {
	return map[string]interface{}{
		"identifier":      e.Identifier,
		"kind":            e.Kind.String(),
		"algorithm":       e.Algorithm,
		"public_key_size": len(e.PublicKey),
		"fingerprint":     contacts.Fingerprint(e.PublicKey),
		"session_key":     len(e.SharedSecret) > 0,
		"last_updated":    e.LastUpdated.Format(time.RFC3339),
	}
}

// PrintMessage prints a composed announcement
func (p *Printer) PrintMessage(msg *distribution.OutboundMessage) error {
	switch p.format {
	case OutputFormatJSON:
		names := make([]string, len(msg.Attachments))
		for i, a := range msg.Attachments {
			names[i] = a.Name
		}
		return p.printJSON(map[string]interface{}{
			"id":          msg.ID,
			"from":        msg.From,
			"to":          msg.To,
			"subject":     msg.Subject,
			"attachments": names,
			"created_at":  msg.CreatedAt.Format(time.RFC3339),
		})
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintf(p.writer, "Message:     %s\n", msg.ID)
		fmt.Fprintf(p.writer, "From:        %s\n", msg.From)
		fmt.Fprintf(p.writer, "To:          %s\n", strings.Join(msg.To, ", "))
		fmt.Fprintf(p.writer, "Subject:     %s\n", msg.Subject)
		for _, a := range msg.Attachments {
			fmt.Fprintf(p.writer, "Attachment:  %s (%d bytes)\n", a.Name, len(a.Data))
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintIngestReport prints which keys of an announcement were stored
func (p *Printer) PrintIngestReport(report *distribution.IngestReport) error {
	switch p.format {
	case OutputFormatJSON:
		failures := make([]map[string]string, len(report.Failures))
		for i, f := range report.Failures {
			failures[i] = map[string]string{
				"kind":      f.Kind.String(),
				"algorithm": f.Algorithm,
				"error":     f.Err.Error(),
			}
		}
		imported := make([]string, len(report.Imported))
		for i, k := range report.Imported {
			imported[i] = k.String()
		}
		return p.printJSON(map[string]interface{}{
			"sender":   report.Sender,
			"imported": imported,
			"failures": failures,
		})
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintf(p.writer, "Sender: %s\n", report.Sender)
		for _, k := range report.Imported {
			fmt.Fprintf(p.writer, "  imported %s\n", k)
		}
		for _, f := range report.Failures {
			fmt.Fprintf(p.writer, "  failed   %s: %v\n", f.Kind, f.Err)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintList prints a titled list of strings
func (p *Printer) PrintList(title string, items []string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			strings.ToLower(title): nonNil(items),
		})
	case OutputFormatTable, OutputFormatText:
		if len(items) == 0 {
			fmt.Fprintf(p.writer, "No %s found\n", strings.ToLower(title))
			return nil
		}
		fmt.Fprintf(p.writer, "%s:\n", title)
		for _, it := range items {
			fmt.Fprintf(p.writer, "  - %s\n", it)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintValue prints a single named value, such as an armored key
func (p *Printer) PrintValue(name, value string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			name: value,
		})
	case OutputFormatTable, OutputFormatText:
		fmt.Fprint(p.writer, value)
		if !strings.HasSuffix(value, "\n") {
			fmt.Fprintln(p.writer)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintSuccess prints a success message
func (p *Printer) PrintSuccess(message string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status":  "success",
			"message": message,
		})
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintln(p.writer, message)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintError prints an error message
func (p *Printer) PrintError(err error) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		})
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintf(p.writer, "Error: %v\n", err)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// printJSON prints data as JSON
func (p *Printer) printJSON(data interface{}) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func sortedKinds(m map[types.KeyKind][]string) []types.KeyKind {
	kinds := make([]types.KeyKind, 0, len(m))
	for k := range m {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
