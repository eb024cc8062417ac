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

// Package quantum provides PQC backends backed by liboqs through cgo.
// Build with -tags quantum and a system liboqs installation. Without the tag
// the pure-Go circl backends in pkg/backend/pqc are used instead.
package quantum

import (
	"context"
	"fmt"
	"sync"

	"github.com/open-quantum-safe/liboqs-go/oqs"

	"github.com/jeremyhahn/go-pqckeys/pkg/backend"
	"github.com/jeremyhahn/go-pqckeys/pkg/types"
)

// BackendName is returned by Name.
const BackendName = "liboqs"

// kyberTrailer is H(pk) || z following the public key inside a Kyber or
// ML-KEM secret key.
const kyberTrailer = 64

// QuantumBackend serves one PQC key kind through liboqs. liboqs handles are
// created per call and cleaned before returning.
//
// Thread-safe: Yes, uses a read-write mutex for concurrent access.
type QuantumBackend struct {
	kind    types.KeyKind
	known   []string
	enabled map[string]bool
	closed  bool
	mu      sync.RWMutex
}

// NewSignatureBackend returns a liboqs signature backend. algorithms limits
// the enabled set; empty enables every name liboqs reports as enabled.
func NewSignatureBackend(algorithms []string) (*QuantumBackend, error) {
	known := []string{
		types.AlgorithmDilithium2, types.AlgorithmDilithium3, types.AlgorithmDilithium5,
		types.AlgorithmMLDSA44, types.AlgorithmMLDSA65, types.AlgorithmMLDSA87,
	}
	return newBackend(types.KeyKindPqcSignature, known, algorithms, oqs.IsSigEnabled)
}

// NewKEMBackend returns a liboqs KEM backend.
func NewKEMBackend(algorithms []string) (*QuantumBackend, error) {
	known := []string{
		types.AlgorithmKyber512, types.AlgorithmKyber768, types.AlgorithmKyber1024,
		types.AlgorithmMLKEM512, types.AlgorithmMLKEM768, types.AlgorithmMLKEM1024,
	}
	return newBackend(types.KeyKindPqcKem, known, algorithms, oqs.IsKEMEnabled)
}

func newBackend(kind types.KeyKind, known, algorithms []string, available func(string) bool) (*QuantumBackend, error) {
	b := &QuantumBackend{
		kind:    kind,
		known:   known,
		enabled: make(map[string]bool),
	}
	if len(algorithms) == 0 {
		for _, alg := range known {
			if available(alg) {
				b.enabled[alg] = true
			}
		}
		return b, nil
	}
	for _, alg := range algorithms {
		if !available(alg) {
			return nil, fmt.Errorf("%w: %s not enabled in liboqs", backend.ErrUnsupportedAlgorithm, alg)
		}
		b.enabled[alg] = true
	}
	return b, nil
}

func (b *QuantumBackend) Kind() types.KeyKind { return b.kind }

func (b *QuantumBackend) Name() string { return BackendName }

func (b *QuantumBackend) Algorithms() []string {
	out := make([]string, len(b.known))
	copy(out, b.known)
	return out
}

func (b *QuantumBackend) IsAlgorithmEnabled(algorithm string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.enabled[algorithm]
}

func (b *QuantumBackend) PublicKeyLength(algorithm string) (int, error) {
	if err := b.check(algorithm); err != nil {
		return 0, err
	}
	if b.kind == types.KeyKindPqcSignature {
		signer := oqs.Signature{}
		if err := signer.Init(algorithm, nil); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrNotInitialized, err)
		}
		defer signer.Clean()
		return signer.Details().LengthPublicKey, nil
	}
	kem := oqs.KeyEncapsulation{}
	if err := kem.Init(algorithm, nil); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNotInitialized, err)
	}
	defer kem.Clean()
	return kem.Details().LengthPublicKey, nil
}

func (b *QuantumBackend) GenerateKeyPair(ctx context.Context, algorithm, _ string) (*types.KeyPairRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := b.check(algorithm); err != nil {
		return nil, err
	}

	var pub, secret []byte
	if b.kind == types.KeyKindPqcSignature {
		signer := oqs.Signature{}
		if err := signer.Init(algorithm, nil); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotInitialized, err)
		}
		defer signer.Clean()
		var err error
		if pub, err = signer.GenerateKeyPair(); err != nil {
			return nil, fmt.Errorf("failed to generate %s key pair: %w", algorithm, err)
		}
		secret = signer.ExportSecretKey()
	} else {
		kem := oqs.KeyEncapsulation{}
		if err := kem.Init(algorithm, nil); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotInitialized, err)
		}
		defer kem.Clean()
		var err error
		if pub, err = kem.GenerateKeyPair(); err != nil {
			return nil, fmt.Errorf("failed to generate %s key pair: %w", algorithm, err)
		}
		secret = kem.ExportSecretKey()
	}
	return &types.KeyPairRecord{Algorithm: algorithm, PublicKey: pub, SecretKey: secret}, nil
}

// ExportPublicKey recovers the public key embedded in a KEM secret key.
// liboqs signature secret keys do not carry the public key, so signature
// backends return ErrNotSupported.
func (b *QuantumBackend) ExportPublicKey(algorithm string, secretKey []byte) ([]byte, error) {
	if b.kind == types.KeyKindPqcSignature {
		return nil, fmt.Errorf("%w: public key derivation for %s", backend.ErrNotSupported, algorithm)
	}
	n, err := b.PublicKeyLength(algorithm)
	if err != nil {
		return nil, err
	}
	if len(secretKey) < n+kyberTrailer {
		return nil, fmt.Errorf("%w: %s secret key too short", backend.ErrInvalidSecretKey, algorithm)
	}
	end := len(secretKey) - kyberTrailer
	pub := make([]byte, n)
	copy(pub, secretKey[end-n:end])
	return pub, nil
}

func (b *QuantumBackend) ValidatePublicKey(algorithm string, publicKey []byte) error {
	return backend.CheckLength(b, algorithm, publicKey)
}

// Sign signs message with a liboqs secret key.
func (b *QuantumBackend) Sign(algorithm string, secretKey, message []byte) ([]byte, error) {
	if b.kind != types.KeyKindPqcSignature {
		return nil, backend.ErrNotSupported
	}
	if err := b.check(algorithm); err != nil {
		return nil, err
	}
	signer := oqs.Signature{}
	if err := signer.Init(algorithm, secretKey); err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrInvalidSecretKey, err)
	}
	defer signer.Clean()
	sig, err := signer.Sign(message)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	return sig, nil
}

// Verify checks a signature with a liboqs public key.
func (b *QuantumBackend) Verify(algorithm string, publicKey, message, signature []byte) (bool, error) {
	if b.kind != types.KeyKindPqcSignature {
		return false, backend.ErrNotSupported
	}
	if err := b.ValidatePublicKey(algorithm, publicKey); err != nil {
		return false, err
	}
	signer := oqs.Signature{}
	if err := signer.Init(algorithm, nil); err != nil {
		return false, fmt.Errorf("%w: %v", ErrNotInitialized, err)
	}
	defer signer.Clean()
	return signer.Verify(message, signature, publicKey)
}

// Encapsulate creates a shared secret for publicKey.
func (b *QuantumBackend) Encapsulate(algorithm string, publicKey []byte) ([]byte, []byte, error) {
	if b.kind != types.KeyKindPqcKem {
		return nil, nil, backend.ErrNotSupported
	}
	if err := b.ValidatePublicKey(algorithm, publicKey); err != nil {
		return nil, nil, err
	}
	kem := oqs.KeyEncapsulation{}
	if err := kem.Init(algorithm, nil); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrNotInitialized, err)
	}
	defer kem.Clean()
	ct, ss, err := kem.EncapSecret(publicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrEncapsulationFailed, err)
	}
	return ct, ss, nil
}

// Decapsulate recovers the shared secret from ciphertext.
func (b *QuantumBackend) Decapsulate(algorithm string, secretKey, ciphertext []byte) ([]byte, error) {
	if b.kind != types.KeyKindPqcKem {
		return nil, backend.ErrNotSupported
	}
	if err := b.check(algorithm); err != nil {
		return nil, err
	}
	kem := oqs.KeyEncapsulation{}
	if err := kem.Init(algorithm, secretKey); err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrInvalidSecretKey, err)
	}
	defer kem.Clean()
	ss, err := kem.DecapSecret(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecapsulationFailed, err)
	}
	return ss, nil
}

func (b *QuantumBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *QuantumBackend) check(algorithm string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return backend.ErrClosed
	}
	if !b.enabled[algorithm] {
		return fmt.Errorf("%w: %s", backend.ErrUnsupportedAlgorithm, algorithm)
	}
	return nil
}

var (
	_ backend.Backend      = (*QuantumBackend)(nil)
	_ backend.Signer       = (*QuantumBackend)(nil)
	_ backend.Encapsulator = (*QuantumBackend)(nil)
)
