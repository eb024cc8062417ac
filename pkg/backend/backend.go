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

// Package backend defines the algorithm capability that key stores consume.
// A backend knows how to generate, export and validate key material for the
// algorithms of one key kind. Key stores never embed algorithm math.
package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jeremyhahn/go-pqckeys/pkg/types"
)

// Backend is the algorithm capability for one key kind.
// All implementations must be safe for concurrent use.
type Backend interface {
	// Kind returns the key kind this backend serves.
	Kind() types.KeyKind

	// Name identifies the implementation (e.g. "circl", "liboqs", "openpgp").
	Name() string

	// Algorithms lists the algorithm identifiers this backend knows.
	Algorithms() []string

	// IsAlgorithmEnabled reports whether algorithm is known and enabled.
	IsAlgorithmEnabled(algorithm string) bool

	// PublicKeyLength returns the expected public key size in bytes.
	// Zero means the encoding is variable length and is checked by parsing.
	PublicKeyLength(algorithm string) (int, error)

	// GenerateKeyPair creates a new key pair. identity is the account
	// identifier; backends that bind keys to a user ID embed it.
	GenerateKeyPair(ctx context.Context, algorithm, identity string) (*types.KeyPairRecord, error)

	// ExportPublicKey re-derives the public key from a secret key.
	ExportPublicKey(algorithm string, secretKey []byte) ([]byte, error)

	// ValidatePublicKey checks remote key material before it is stored.
	// Returns ErrKeyLengthMismatch for wrong sizes.
	ValidatePublicKey(algorithm string, publicKey []byte) error

	// Close releases any native handles.
	Close() error
}

// Encapsulator is implemented by KEM backends.
type Encapsulator interface {
	// Encapsulate creates a shared secret for the holder of publicKey.
	Encapsulate(algorithm string, publicKey []byte) (ciphertext, sharedSecret []byte, err error)

	// Decapsulate recovers the shared secret from ciphertext.
	Decapsulate(algorithm string, secretKey, ciphertext []byte) ([]byte, error)
}

// Signer is implemented by signature backends.
type Signer interface {
	// Sign produces a signature over message with secretKey.
	Sign(algorithm string, secretKey, message []byte) ([]byte, error)

	// Verify checks signature over message with publicKey.
	Verify(algorithm string, publicKey, message, signature []byte) (bool, error)
}

// CheckLength compares a public key against the backend's expected size.
// Variable-length algorithms pass.
func CheckLength(b Backend, algorithm string, publicKey []byte) error {
	want, err := b.PublicKeyLength(algorithm)
	if err != nil {
		return err
	}
	if want > 0 && len(publicKey) != want {
		return fmt.Errorf("%w: %s expects %d bytes, got %d",
			ErrKeyLengthMismatch, algorithm, want, len(publicKey))
	}
	return nil
}

// Set maps each key kind to its backend.
type Set map[types.KeyKind]Backend

// NewSet builds a Set, rejecting two backends for the same kind.
func NewSet(backends ...Backend) (Set, error) {
	s := make(Set, len(backends))
	for _, b := range backends {
		if b == nil {
			return nil, fmt.Errorf("%w: nil backend", ErrInvalidBackend)
		}
		if _, dup := s[b.Kind()]; dup {
			return nil, fmt.Errorf("%w: duplicate backend for %s", ErrInvalidBackend, b.Kind())
		}
		s[b.Kind()] = b
	}
	return s, nil
}

// For returns the backend serving kind.
func (s Set) For(kind types.KeyKind) (Backend, error) {
	b, ok := s[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoBackend, kind)
	}
	return b, nil
}

// Kinds returns the registered kinds in ascending order.
func (s Set) Kinds() []types.KeyKind {
	kinds := make([]types.KeyKind, 0, len(s))
	for k := range s {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Close closes every backend and joins their errors.
func (s Set) Close() error {
	var errs []error
	for _, k := range s.Kinds() {
		if err := s[k].Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}
