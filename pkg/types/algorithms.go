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

package types

// =============================================================================
// Algorithm Identifiers
// =============================================================================
// Names match the scheme registries of the PQC libraries so that an
// identifier can be passed straight through to a backend lookup.

const (
	// Classical OpenPGP algorithms.
	AlgorithmPGPEd25519 = "PGP-Ed25519"
	AlgorithmPGPRSA4096 = "PGP-RSA-4096"

	// Post-quantum signature algorithms.
	AlgorithmDilithium2 = "Dilithium2"
	AlgorithmDilithium3 = "Dilithium3"
	AlgorithmDilithium5 = "Dilithium5"
	AlgorithmMLDSA44    = "ML-DSA-44"
	AlgorithmMLDSA65    = "ML-DSA-65"
	AlgorithmMLDSA87    = "ML-DSA-87"

	// Post-quantum key encapsulation algorithms.
	AlgorithmKyber512  = "Kyber512"
	AlgorithmKyber768  = "Kyber768"
	AlgorithmKyber1024 = "Kyber1024"
	AlgorithmMLKEM512  = "ML-KEM-512"
	AlgorithmMLKEM768  = "ML-KEM-768"
	AlgorithmMLKEM1024 = "ML-KEM-1024"
)

// DefaultAlgorithm returns the algorithm used for a kind when none is
// configured.
func DefaultAlgorithm(kind KeyKind) string {
	switch kind {
	case KeyKindClassical:
		return AlgorithmPGPEd25519
	case KeyKindPqcSignature:
		return AlgorithmDilithium2
	case KeyKindPqcKem:
		return AlgorithmKyber512
	default:
		return ""
	}
}
