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

// Package kdf provides key derivation adapters used by the key codec and
// the at-rest sealing wrapper.
package kdf

import (
	"crypto"
	_ "crypto/sha256" // link SHA-256 for crypto.Hash.New
	"errors"
	"fmt"
)

// KDFAlgorithm represents the key derivation function algorithm type
type KDFAlgorithm string

const (
	// AlgorithmHKDF represents HMAC-based Extract-and-Expand Key Derivation Function (RFC 5869)
	AlgorithmHKDF KDFAlgorithm = "HKDF"

	// AlgorithmPBKDF2 represents Password-Based Key Derivation Function 2 (RFC 2898)
	AlgorithmPBKDF2 KDFAlgorithm = "PBKDF2"

	// AlgorithmArgon2id represents the Argon2id password hash
	AlgorithmArgon2id KDFAlgorithm = "Argon2id"
)

// String returns the string representation of the KDF algorithm
func (a KDFAlgorithm) String() string {
	return string(a)
}

// KDFParams contains parameters for key derivation
type KDFParams struct {
	// Algorithm specifies which KDF algorithm to use
	Algorithm KDFAlgorithm

	// Salt is the cryptographic salt. HKDF treats an empty salt as
	// HashLen zero bytes.
	Salt []byte

	// Info is application-specific context (HKDF only)
	Info []byte

	// Iterations specifies the number of iterations (PBKDF2 only)
	Iterations int

	// Memory is the memory cost in KiB (Argon2id only)
	Memory uint32

	// Threads is the number of parallel threads (Argon2id only)
	Threads uint8

	// Time is the time cost (Argon2id only)
	Time uint32

	// KeyLength is the desired output key length in bytes
	KeyLength int

	// Hash is the hash function to use (HKDF and PBKDF2)
	Hash crypto.Hash
}

// KDFAdapter derives key material from an input secret.
type KDFAdapter interface {
	// DeriveKey derives a key from the input key material using the specified parameters
	DeriveKey(ikm []byte, params *KDFParams) ([]byte, error)

	// Algorithm returns the KDF algorithm this adapter implements
	Algorithm() KDFAlgorithm

	// ValidateParams returns an error if params are unusable for this algorithm
	ValidateParams(params *KDFParams) error
}

var (
	// ErrInvalidSalt indicates the salt is invalid (nil, empty, or too short)
	ErrInvalidSalt = errors.New("kdf: invalid salt")

	// ErrInvalidKeyLength indicates the requested key length is invalid
	ErrInvalidKeyLength = errors.New("kdf: invalid key length")

	// ErrInvalidIterations indicates the iteration count is invalid
	ErrInvalidIterations = errors.New("kdf: invalid iterations")

	// ErrInvalidMemory indicates the memory cost is invalid
	ErrInvalidMemory = errors.New("kdf: invalid memory cost")

	// ErrInvalidThreads indicates the thread count is invalid
	ErrInvalidThreads = errors.New("kdf: invalid threads")

	// ErrInvalidTime indicates the time cost is invalid
	ErrInvalidTime = errors.New("kdf: invalid time cost")

	// ErrInvalidHash indicates the hash function is invalid or not supported
	ErrInvalidHash = errors.New("kdf: invalid or unsupported hash function")

	// ErrInvalidIKM indicates the input key material is invalid
	ErrInvalidIKM = errors.New("kdf: invalid input key material")

	// ErrUnsupportedAlgorithm indicates the algorithm is not supported by this adapter
	ErrUnsupportedAlgorithm = errors.New("kdf: unsupported algorithm")
)

// DefaultParams returns the parameters go-pqckeys uses for each algorithm.
// PBKDF2 is pinned to the iteration count of the .pqk export format, which
// does not record it in the blob.
func DefaultParams(algorithm KDFAlgorithm) *KDFParams {
	switch algorithm {
	case AlgorithmHKDF:
		return &KDFParams{
			Algorithm: AlgorithmHKDF,
			KeyLength: 32,
			Hash:      crypto.SHA256,
		}
	case AlgorithmPBKDF2:
		return &KDFParams{
			Algorithm:  AlgorithmPBKDF2,
			Iterations: MinPBKDF2Iterations,
			KeyLength:  32,
			Hash:       crypto.SHA256,
		}
	case AlgorithmArgon2id:
		return &KDFParams{
			Algorithm: AlgorithmArgon2id,
			Memory:    64 * 1024, // 64 MiB
			Time:      2,
			Threads:   1,
			KeyLength: 32,
		}
	default:
		return nil
	}
}

// New returns the adapter for algorithm.
func New(algorithm KDFAlgorithm) (KDFAdapter, error) {
	switch algorithm {
	case AlgorithmHKDF:
		return NewHKDFAdapter(), nil
	case AlgorithmPBKDF2:
		return NewPBKDF2Adapter(), nil
	case AlgorithmArgon2id:
		return NewArgon2idAdapter(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}
}

// validateHash checks that h is set and linked into the binary.
func validateHash(h crypto.Hash) error {
	if h == 0 || !h.Available() {
		return ErrInvalidHash
	}
	return nil
}
