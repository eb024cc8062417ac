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

// Package pgp provides the classical key backend. Key pairs are OpenPGP
// entities: the public key is the binary transferable public key and the
// secret key is the unprotected transferable secret key.
package pgp

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/packet"

	"github.com/jeremyhahn/go-pqckeys/pkg/backend"
	"github.com/jeremyhahn/go-pqckeys/pkg/types"
)

// BackendName is returned by Name.
const BackendName = "openpgp"

// Algorithms lists the classical algorithms known to this package.
var Algorithms = []string{
	types.AlgorithmPGPEd25519,
	types.AlgorithmPGPRSA4096,
}

// Config selects enabled algorithms. An empty list enables all.
type Config struct {
	Algorithms []string

	// Comment is embedded in generated user IDs.
	Comment string
}

// Backend generates and validates OpenPGP key material.
type Backend struct {
	enabled map[string]bool
	comment string
	closed  bool
	mu      sync.RWMutex
}

// New creates the classical backend.
func New(config *Config) (*Backend, error) {
	if config == nil {
		config = &Config{}
	}
	b := &Backend{
		enabled: make(map[string]bool, len(Algorithms)),
		comment: config.Comment,
	}
	if len(config.Algorithms) == 0 {
		for _, alg := range Algorithms {
			b.enabled[alg] = true
		}
		return b, nil
	}
	for _, alg := range config.Algorithms {
		if _, err := packetConfig(alg); err != nil {
			return nil, err
		}
		b.enabled[alg] = true
	}
	return b, nil
}

func (b *Backend) Kind() types.KeyKind { return types.KeyKindClassical }

func (b *Backend) Name() string { return BackendName }

func (b *Backend) Algorithms() []string {
	out := make([]string, len(Algorithms))
	copy(out, Algorithms)
	return out
}

func (b *Backend) IsAlgorithmEnabled(algorithm string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.enabled[algorithm]
}

// PublicKeyLength returns 0: OpenPGP keys are variable length and are
// validated by parsing.
func (b *Backend) PublicKeyLength(algorithm string) (int, error) {
	if err := b.check(algorithm); err != nil {
		return 0, err
	}
	return 0, nil
}

func (b *Backend) GenerateKeyPair(ctx context.Context, algorithm, identity string) (*types.KeyPairRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := b.check(algorithm); err != nil {
		return nil, err
	}
	cfg, err := packetConfig(algorithm)
	if err != nil {
		return nil, err
	}

	name, email := splitIdentity(identity)
	entity, err := openpgp.NewEntity(name, b.comment, email, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to generate %s key pair: %w", algorithm, err)
	}

	var secret bytes.Buffer
	if err := entity.SerializePrivate(&secret, cfg); err != nil {
		return nil, fmt.Errorf("failed to serialize %s secret key: %w", algorithm, err)
	}
	var pub bytes.Buffer
	if err := entity.Serialize(&pub); err != nil {
		return nil, fmt.Errorf("failed to serialize %s public key: %w", algorithm, err)
	}
	return &types.KeyPairRecord{
		Algorithm: algorithm,
		PublicKey: pub.Bytes(),
		SecretKey: secret.Bytes(),
	}, nil
}

func (b *Backend) ExportPublicKey(algorithm string, secretKey []byte) ([]byte, error) {
	if err := b.check(algorithm); err != nil {
		return nil, err
	}
	entity, err := readEntity(secretKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrInvalidSecretKey, err)
	}
	if entity.PrivateKey == nil {
		return nil, fmt.Errorf("%w: no secret key packet", backend.ErrInvalidSecretKey)
	}
	if err := matchAlgorithm(algorithm, entity.PrimaryKey); err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrInvalidSecretKey, err)
	}
	var pub bytes.Buffer
	if err := entity.Serialize(&pub); err != nil {
		return nil, fmt.Errorf("failed to serialize public key: %w", err)
	}
	return pub.Bytes(), nil
}

// ValidatePublicKey parses publicKey as a transferable public key of the
// named algorithm. Secret key material is rejected.
func (b *Backend) ValidatePublicKey(algorithm string, publicKey []byte) error {
	if err := b.check(algorithm); err != nil {
		return err
	}
	if len(publicKey) == 0 {
		return fmt.Errorf("%w: empty key", backend.ErrInvalidPublicKey)
	}
	entity, err := readEntity(publicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", backend.ErrInvalidPublicKey, err)
	}
	if entity.PrivateKey != nil {
		return fmt.Errorf("%w: contains secret key material", backend.ErrInvalidPublicKey)
	}
	if err := matchAlgorithm(algorithm, entity.PrimaryKey); err != nil {
		return fmt.Errorf("%w: %v", backend.ErrInvalidPublicKey, err)
	}
	return nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *Backend) check(algorithm string) error {
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

const rsaBits = 4096

func packetConfig(algorithm string) (*packet.Config, error) {
	switch algorithm {
	case types.AlgorithmPGPEd25519:
		return &packet.Config{Algorithm: packet.PubKeyAlgoEdDSA}, nil
	case types.AlgorithmPGPRSA4096:
		return &packet.Config{Algorithm: packet.PubKeyAlgoRSA, RSABits: rsaBits}, nil
	default:
		return nil, fmt.Errorf("%w: %s", backend.ErrUnsupportedAlgorithm, algorithm)
	}
}

func matchAlgorithm(algorithm string, pk *packet.PublicKey) error {
	if pk == nil {
		return fmt.Errorf("missing primary key")
	}
	switch algorithm {
	case types.AlgorithmPGPEd25519:
		if pk.PubKeyAlgo != packet.PubKeyAlgoEdDSA && pk.PubKeyAlgo != packet.PubKeyAlgoEd25519 {
			return fmt.Errorf("primary key algorithm %d is not Ed25519", pk.PubKeyAlgo)
		}
	case types.AlgorithmPGPRSA4096:
		if pk.PubKeyAlgo != packet.PubKeyAlgoRSA {
			return fmt.Errorf("primary key algorithm %d is not RSA", pk.PubKeyAlgo)
		}
		bits, err := pk.BitLength()
		if err != nil {
			return fmt.Errorf("primary key size: %v", err)
		}
		if bits != rsaBits {
			return fmt.Errorf("primary key is RSA-%d, want RSA-%d", bits, rsaBits)
		}
	}
	return nil
}

func readEntity(data []byte) (*openpgp.Entity, error) {
	return openpgp.ReadEntity(packet.NewReader(bytes.NewReader(data)))
}

// splitIdentity maps an account identifier to an OpenPGP user ID. Characters
// forbidden in user IDs are dropped.
func splitIdentity(identity string) (name, email string) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '(', ')', '<', '>', 0:
			return -1
		}
		return r
	}, strings.TrimSpace(identity))
	if strings.Contains(clean, "@") {
		return "", clean
	}
	return clean, ""
}

var _ backend.Backend = (*Backend)(nil)
