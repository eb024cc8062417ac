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

	"github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/schemes"

	"github.com/jeremyhahn/go-pqckeys/pkg/backend"
	"github.com/jeremyhahn/go-pqckeys/pkg/types"
)

// SignatureBackend serves the PqcSignature key kind with Dilithium and
// ML-DSA from circl.
type SignatureBackend struct {
	algs *algorithmSet
}

// NewSignatureBackend creates a signature backend. A nil config enables all
// known algorithms.
func NewSignatureBackend(config *Config) (*SignatureBackend, error) {
	algs, err := newAlgorithmSet(SignatureAlgorithms, config)
	if err != nil {
		return nil, err
	}
	return &SignatureBackend{algs: algs}, nil
}

func (b *SignatureBackend) Kind() types.KeyKind { return types.KeyKindPqcSignature }

func (b *SignatureBackend) Name() string { return BackendName }

func (b *SignatureBackend) Algorithms() []string { return b.algs.list() }

func (b *SignatureBackend) IsAlgorithmEnabled(algorithm string) bool {
	return b.algs.isEnabled(algorithm)
}

func (b *SignatureBackend) PublicKeyLength(algorithm string) (int, error) {
	scheme, err := b.scheme(algorithm)
	if err != nil {
		return 0, err
	}
	return scheme.PublicKeySize(), nil
}

func (b *SignatureBackend) GenerateKeyPair(ctx context.Context, algorithm, _ string) (*types.KeyPairRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scheme, err := b.scheme(algorithm)
	if err != nil {
		return nil, err
	}
	pk, sk, err := scheme.GenerateKey()
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

func (b *SignatureBackend) ExportPublicKey(algorithm string, secretKey []byte) ([]byte, error) {
	scheme, err := b.scheme(algorithm)
	if err != nil {
		return nil, err
	}
	sk, err := scheme.UnmarshalBinaryPrivateKey(secretKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrInvalidSecretKey, err)
	}
	pk, ok := sk.Public().(sign.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s public key type", backend.ErrInvalidSecretKey, algorithm)
	}
	return pk.MarshalBinary()
}

func (b *SignatureBackend) ValidatePublicKey(algorithm string, publicKey []byte) error {
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

// Sign signs message with a packed secret key.
func (b *SignatureBackend) Sign(algorithm string, secretKey, message []byte) ([]byte, error) {
	scheme, err := b.scheme(algorithm)
	if err != nil {
		return nil, err
	}
	sk, err := scheme.UnmarshalBinaryPrivateKey(secretKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrInvalidSecretKey, err)
	}
	return scheme.Sign(sk, message, nil), nil
}

// Verify checks signature over message with a packed public key.
func (b *SignatureBackend) Verify(algorithm string, publicKey, message, signature []byte) (bool, error) {
	scheme, err := b.scheme(algorithm)
	if err != nil {
		return false, err
	}
	pk, err := scheme.UnmarshalBinaryPublicKey(publicKey)
	if err != nil {
		return false, fmt.Errorf("%w: %v", backend.ErrInvalidPublicKey, err)
	}
	return scheme.Verify(pk, message, signature, nil), nil
}

func (b *SignatureBackend) Close() error {
	b.algs.close()
	return nil
}

func (b *SignatureBackend) scheme(algorithm string) (sign.Scheme, error) {
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
	_ backend.Backend = (*SignatureBackend)(nil)
	_ backend.Signer  = (*SignatureBackend)(nil)
)
