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

package keystore

import (
	"errors"

	"github.com/jeremyhahn/go-pqckeys/pkg/backend"
	"github.com/jeremyhahn/go-pqckeys/pkg/storage"
)

var (
	// ErrUnsupportedAlgorithm is returned when the backend does not know or
	// has not enabled an algorithm.
	ErrUnsupportedAlgorithm = backend.ErrUnsupportedAlgorithm

	// ErrKeyLengthMismatch is returned when a public key has the wrong size.
	ErrKeyLengthMismatch = backend.ErrKeyLengthMismatch

	// ErrStorageIO wraps persistence failures.
	ErrStorageIO = storage.ErrStorageIO

	// ErrAlgorithmMismatch is returned when a stored pair no longer matches
	// the selected algorithm or the backend's expected key size.
	ErrAlgorithmMismatch = errors.New("keystore: algorithm mismatch")

	// ErrAlgorithmSwitchRequiresReset is returned when selecting a different
	// algorithm while a key pair exists.
	ErrAlgorithmSwitchRequiresReset = errors.New("keystore: algorithm switch requires reset")

	// ErrNoKeyPair is returned when an operation needs the account's own pair.
	ErrNoKeyPair = errors.New("keystore: no key pair")

	// ErrKeyPairMismatch is returned when an imported secret key does not
	// produce the imported public key.
	ErrKeyPairMismatch = errors.New("keystore: public key does not match secret key")

	// ErrNoContactStore is returned by remote key operations when the store
	// has no contact cache.
	ErrNoContactStore = errors.New("keystore: no contact store configured")

	// ErrNoStore is returned by Registry.Get for an unregistered kind.
	ErrNoStore = errors.New("keystore: no store for key kind")

	// ErrInvalidConfig is returned by New for incomplete configuration.
	ErrInvalidConfig = errors.New("keystore: invalid configuration")
)
