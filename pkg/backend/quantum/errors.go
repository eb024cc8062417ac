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

package quantum

import "errors"

var (
	// ErrNotInitialized indicates liboqs failed to initialize an algorithm
	ErrNotInitialized = errors.New("quantum: not initialized")

	// ErrSigningFailed indicates a signature operation failed
	ErrSigningFailed = errors.New("quantum: signing operation failed")

	// ErrEncapsulationFailed indicates key encapsulation failed
	ErrEncapsulationFailed = errors.New("quantum: encapsulation failed")

	// ErrDecapsulationFailed indicates key decapsulation failed
	ErrDecapsulationFailed = errors.New("quantum: decapsulation failed")
)
