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

package backend

import "errors"

var (
	// ErrUnsupportedAlgorithm is returned when an algorithm is unknown to the
	// backend or has been disabled.
	ErrUnsupportedAlgorithm = errors.New("backend: unsupported algorithm")

	// ErrKeyLengthMismatch is returned when public key bytes do not have the
	// size the algorithm requires.
	ErrKeyLengthMismatch = errors.New("backend: key length mismatch")

	// ErrInvalidPublicKey is returned when a public key has the right size
	// but cannot be parsed.
	ErrInvalidPublicKey = errors.New("backend: invalid public key")

	// ErrInvalidSecretKey is returned when a secret key cannot be parsed.
	ErrInvalidSecretKey = errors.New("backend: invalid secret key")

	// ErrNotSupported is returned when an operation is not offered by the
	// backend, such as encapsulation on a signature backend.
	ErrNotSupported = errors.New("backend: operation not supported")

	// ErrInvalidBackend is returned when a backend set is misconfigured.
	ErrInvalidBackend = errors.New("backend: invalid backend")

	// ErrNoBackend is returned when no backend serves a key kind.
	ErrNoBackend = errors.New("backend: no backend for key kind")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("backend: closed")
)
