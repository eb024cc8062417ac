//go:build quantum

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

package bootstrap

import (
	"fmt"

	"github.com/jeremyhahn/go-pqckeys/internal/config"
	"github.com/jeremyhahn/go-pqckeys/pkg/backend"
	"github.com/jeremyhahn/go-pqckeys/pkg/backend/quantum"
)

func pqcBackends(algs config.AlgorithmsConfig) (sig, kem backend.Backend, err error) {
	s, err := quantum.NewSignatureBackend(algs.PqcSignature.Enabled)
	if err != nil {
		return nil, nil, fmt.Errorf("signature backend: %w", err)
	}
	k, err := quantum.NewKEMBackend(algs.PqcKem.Enabled)
	if err != nil {
		_ = s.Close()
		return nil, nil, fmt.Errorf("kem backend: %w", err)
	}
	return s, k, nil
}
