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

package pqc

import (
	"context"
	"fmt"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/schemes"

	"github.com/jeremyhahn/go-pqckeys/pkg/backend"
	"github.com/jeremyhahn/go-pqckeys/pkg/types"
)

// KEMBackend serves the PqcKem key kind with Kyber and ML-KEM from circl.
type KEMBackend struct {
	algs *algorithmSet
}

// NewKEMBackend creates a KEM backend. A nil config enables all known
// algorithms.
func NewKEMBackend(config *Config) (*KEMBackend, error) {
	algs, err := newAlgorithmSet(KEMAlgorithms, config)
	if err != nil {
		return nil, err
	}
	return &KEMBackend{algs: algs}, nil
}

func (b *KEMBackend) Kind() types.KeyKind { return types.KeyKindPqcKem }

func (b *KEMBackend) Name() string { return BackendName }

func (b *KEMBackend) Algorithms() []string { return b.algs.list() }

func (b *KEMBackend) IsAlgorithmEnabled(algorithm string) bool {
	return b.algs.isEnabled(algorithm)
}

func (b *KEMBackend) PublicKeyLength(algorithm string) (int, error) {
	scheme, err := b.scheme(algorithm)
	if err != nil {
		return 0, err
	}
	return scheme.PublicKeySize(), nil
}

func (b *KEMBackend) GenerateKeyPair(ctx context.Context, algorithm, _ string) (*types.KeyPairRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scheme, err := b.scheme(algorithm)
	if err != nil {
		return nil, err
	}
	pk, sk, err := scheme.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate %s key pair: %w", algorithm, err)
	}
	pub, err := pk.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s public key: %w", algorithm, err)
	}
	secret, err := sk.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s secret key: %w", algorithm, err)
	}
	return &types.KeyPairRecord{Algorithm: algorithm, PublicKey: pub, SecretKey: secret}, nil
}

func (b *KEMBackend) ExportPublicKey(algorithm string, secretKey []byte) ([]byte, error) {
	scheme, err := b.scheme(algorithm)
	if err != nil {
		return nil, err
	}
	sk, err := scheme.UnmarshalBinaryPrivateKey(secretKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrInvalidSecretKey, err)
	}
	return sk.Public().MarshalBinary()
}

func (b *KEMBackend) ValidatePublicKey(algorithm string, publicKey []byte) error {
	if err := backend.CheckLength(b, algorithm, publicKey); err != nil {
		return err
	}
	scheme, err := b.scheme(algorithm)
	if err != nil {
		return err
	}
	if _, err := scheme.UnmarshalBinaryPublicKey(publicKey); err != nil {
		return fmt.Errorf("%w: %v", backend.ErrInvalidPublicKey, err)
	}
	return nil
}

// Encapsulate generates a shared secret for the holder of publicKey.
func (b *KEMBackend) Encapsulate(algorithm string, publicKey []byte) ([]byte, []byte, error) {
	scheme, err := b.scheme(algorithm)
	if err != nil {
		return nil, nil, err
	}
	if err := backend.CheckLength(b, algorithm, publicKey); err != nil {
		return nil, nil, err
	}
	pk, err := scheme.UnmarshalBinaryPublicKey(publicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", backend.ErrInvalidPublicKey, err)
	}
	ct, ss, err := scheme.Encapsulate(pk)
	if err != nil {
		return nil, nil, fmt.Errorf("%s encapsulation failed: %w", algorithm, err)
	}
	return ct, ss, nil
}

// Decapsulate recovers the shared secret carried by ciphertext.
func (b *KEMBackend) Decapsulate(algorithm string, secretKey, ciphertext []byte) ([]byte, error) {
	scheme, err := b.scheme(algorithm)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) != scheme.CiphertextSize() {
		return nil, fmt.Errorf("%s: ciphertext must be %d bytes, got %d",
			algorithm, scheme.CiphertextSize(), len(ciphertext))
	}
	sk, err := scheme.UnmarshalBinaryPrivateKey(secretKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrInvalidSecretKey, err)
	}
	ss, err := scheme.Decapsulate(sk, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%s decapsulation failed: %w", algorithm, err)
	}
	return ss, nil
}

func (b *KEMBackend) Close() error {
	b.algs.close()
	return nil
}

func (b *KEMBackend) scheme(algorithm string) (kem.Scheme, error) {
	if err := b.algs.check(algorithm); err != nil {
		return nil, err
	}
	scheme := schemes.ByName(algorithm)
	if scheme == nil {
		return nil, fmt.Errorf("%w: %s", backend.ErrUnsupportedAlgorithm, algorithm)
	}
	return scheme, nil
}

var (
	_ backend.Backend      = (*KEMBackend)(nil)
	_ backend.Encapsulator = (*KEMBackend)(nil)
)
