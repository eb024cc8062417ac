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

package keychain

import "errors"

var (
	// ErrInvalidConfig is returned by New for incomplete configuration.
	ErrInvalidConfig = errors.New("keychain: invalid config")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("keychain: service closed")
)
