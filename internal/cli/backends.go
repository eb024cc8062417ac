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

	"github.com/jeremyhahn/go-pqckeys/internal/bootstrap"
	"github.com/jeremyhahn/go-pqckeys/internal/config"
	"github.com/jeremyhahn/go-pqckeys/pkg/backend"
	"github.com/jeremyhahn/go-pqckeys/pkg/types"
)

// BackendInfo describes the backend serving one key kind.
type BackendInfo struct {
	Kind       string         `json:"kind"`
	Backend    string         `json:"backend"`
	Default    string         `json:"default_algorithm"`
	Algorithms []string       `json:"algorithms"`
	KeySizes   map[string]int `json:"public_key_sizes"`
}

// newBackendsCmd builds the backends command
func newBackendsCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List the algorithm backends and their algorithms",
		Long: `List the backend serving each key kind in this build together with
its enabled algorithms and expected public key sizes.

PQC kinds are served by circl unless the binary was built with
-tags quantum, in which case liboqs is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := cfg.Load()
			if err != nil {
				return err
			}
			set, err := bootstrap.NewBackendSet(conf.Algorithms)
			if err != nil {
				return err
			}
			defer func() { _ = set.Close() }()

			infos := describeBackends(set, conf.Algorithms)
			return NewPrinter(cfg.OutputFormat, cmd.OutOrStdout()).PrintBackends(infos)
		},
	}
}

func describeBackends(set backend.Set, algs config.AlgorithmsConfig) []BackendInfo {
	infos := make([]BackendInfo, 0, len(set))
	for _, kind := range types.AllKeyKinds {
		b, err := set.For(kind)
		if err != nil {
			continue
		}
		info := BackendInfo{
			Kind:     kind.String(),
			Backend:  b.Name(),
			Default:  algs.For(kind).Default,
			KeySizes: make(map[string]int),
		}
		for _, alg := range b.Algorithms() {
			if !b.IsAlgorithmEnabled(alg) {
				continue
			}
			info.Algorithms = append(info.Algorithms, alg)
			if n, err := b.PublicKeyLength(alg); err == nil {
				info.KeySizes[alg] = n
			}
		}
		infos = append(infos, info)
	}
	return infos
}
