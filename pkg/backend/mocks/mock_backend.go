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

package mocks

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"sync"

	"github.com/jeremyhahn/go-pqckeys/pkg/backend"
	"github.com/jeremyhahn/go-pqckeys/pkg/types"
)

// MockBackend is a fake backend.Backend with fixed-size keys. Public keys are
// derived from the secret by hashing, so ExportPublicKey round trips.
// It also implements backend.Encapsulator and backend.Signer.
type MockBackend struct {
	mu sync.Mutex

	kind       types.KeyKind
	algorithms map[string]int
	secretSize int

	// Configurable behavior
	GenerateKeyPairFunc   func(ctx context.Context, algorithm, identity string) (*types.KeyPairRecord, error)
	ExportPublicKeyFunc   func(algorithm string, secretKey []byte) ([]byte, error)
	ValidatePublicKeyFunc func(algorithm string, publicKey []byte) error
	CloseFunc             func() error

	// Call tracking
	GenerateKeyPairCalls   []string
	ExportPublicKeyCalls   []string
	ValidatePublicKeyCalls []string
	EncapsulateCalls       []string
	DecapsulateCalls       []string
	CloseCalls             int

	disabled map[string]bool
	closed   bool
}

// NewMockBackend creates a mock serving kind. algorithms maps each algorithm
// name to its public key length.
func NewMockBackend(kind types.KeyKind, algorithms map[string]int) *MockBackend {
	algs := make(map[string]int, len(algorithms))
	for k, v := range algorithms {
		algs[k] = v
	}
	return &MockBackend{
		kind:       kind,
		algorithms: algs,
		secretSize: 32,
		disabled:   make(map[string]bool),
	}
}

// NewDefaultMockSet returns a backend.Set with one mock per kind using the
// real algorithm names and public key sizes.
func NewDefaultMockSet() backend.Set {
	return backend.Set{
		types.KeyKindClassical: NewMockBackend(types.KeyKindClassical, map[string]int{
			types.AlgorithmPGPEd25519: 32,
			types.AlgorithmPGPRSA4096: 512,
		}),
		types.KeyKindPqcSignature: NewMockBackend(types.KeyKindPqcSignature, map[string]int{
			types.AlgorithmDilithium2: 1312,
			types.AlgorithmDilithium3: 1952,
			types.AlgorithmDilithium5: 2592,
		}),
		types.KeyKindPqcKem: NewMockBackend(types.KeyKindPqcKem, map[string]int{
			types.AlgorithmKyber512:  800,
			types.AlgorithmKyber768:  1184,
			types.AlgorithmKyber1024: 1568,
		}),
	}
}

// Disable marks algorithm as known but not enabled.
func (m *MockBackend) Disable(algorithm string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabled[algorithm] = true
}

func (m *MockBackend) Kind() types.KeyKind { return m.kind }

func (m *MockBackend) Name() string { return "mock" }

func (m *MockBackend) Algorithms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.algorithms))
	for k := range m.algorithms {
		out = append(out, k)
	}
	return out
}

func (m *MockBackend) IsAlgorithmEnabled(algorithm string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.algorithms[algorithm]
	return ok && !m.disabled[algorithm]
}

func (m *MockBackend) PublicKeyLength(algorithm string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.algorithms[algorithm]
	if !ok {
		return 0, fmt.Errorf("%w: %s", backend.ErrUnsupportedAlgorithm, algorithm)
	}
	return n, nil
}

func (m *MockBackend) GenerateKeyPair(ctx context.Context, algorithm, identity string) (*types.KeyPairRecord, error) {
	m.mu.Lock()
	m.GenerateKeyPairCalls = append(m.GenerateKeyPairCalls, algorithm)
	fn := m.GenerateKeyPairFunc
	closed := m.closed
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, algorithm, identity)
	}
	if closed {
		return nil, backend.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !m.IsAlgorithmEnabled(algorithm) {
		return nil, fmt.Errorf("%w: %s", backend.ErrUnsupportedAlgorithm, algorithm)
	}

	secret := make([]byte, m.secretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	pub, err := m.derivePublic(algorithm, secret)
	if err != nil {
		return nil, err
	}
	return &types.KeyPairRecord{Algorithm: algorithm, PublicKey: pub, SecretKey: secret}, nil
}

func (m *MockBackend) ExportPublicKey(algorithm string, secretKey []byte) ([]byte, error) {
	m.mu.Lock()
	m.ExportPublicKeyCalls = append(m.ExportPublicKeyCalls, algorithm)
	fn := m.ExportPublicKeyFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(algorithm, secretKey)
	}
	if len(secretKey) != m.secretSize {
		return nil, fmt.Errorf("%w: expected %d bytes", backend.ErrInvalidSecretKey, m.secretSize)
	}
	return m.derivePublic(algorithm, secretKey)
}

func (m *MockBackend) ValidatePublicKey(algorithm string, publicKey []byte) error {
	m.mu.Lock()
	m.ValidatePublicKeyCalls = append(m.ValidatePublicKeyCalls, algorithm)
	fn := m.ValidatePublicKeyFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(algorithm, publicKey)
	}
	return backend.CheckLength(m, algorithm, publicKey)
}

// Encapsulate returns a random ciphertext and sha256(pub || ct).
func (m *MockBackend) Encapsulate(algorithm string, publicKey []byte) ([]byte, []byte, error) {
	m.mu.Lock()
	m.EncapsulateCalls = append(m.EncapsulateCalls, algorithm)
	m.mu.Unlock()

	if err := backend.CheckLength(m, algorithm, publicKey); err != nil {
		return nil, nil, err
	}
	ct := make([]byte, 32)
	if _, err := rand.Read(ct); err != nil {
		return nil, nil, err
	}
	ss := sha256.Sum256(append(append([]byte{}, publicKey...), ct...))
	return ct, ss[:], nil
}

func (m *MockBackend) Decapsulate(algorithm string, secretKey, ciphertext []byte) ([]byte, error) {
	m.mu.Lock()
	m.DecapsulateCalls = append(m.DecapsulateCalls, algorithm)
	m.mu.Unlock()

	pub, err := m.ExportPublicKey(algorithm, secretKey)
	if err != nil {
		return nil, err
	}
	ss := sha256.Sum256(append(pub, ciphertext...))
	return ss[:], nil
}

// Sign returns sha256(pub || message).
func (m *MockBackend) Sign(algorithm string, secretKey, message []byte) ([]byte, error) {
	pub, err := m.ExportPublicKey(algorithm, secretKey)
	if err != nil {
		return nil, err
	}
	sig := sha256.Sum256(append(pub, message...))
	return sig[:], nil
}

func (m *MockBackend) Verify(algorithm string, publicKey, message, signature []byte) (bool, error) {
	if err := backend.CheckLength(m, algorithm, publicKey); err != nil {
		return false, err
	}
	want := sha256.Sum256(append(append([]byte{}, publicKey...), message...))
	return subtle.ConstantTimeCompare(want[:], signature) == 1, nil
}

func (m *MockBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCalls++
	m.closed = true
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// derivePublic stretches sha256(algorithm || secret) to the public key length.
func (m *MockBackend) derivePublic(algorithm string, secret []byte) ([]byte, error) {
	n, err := m.PublicKeyLength(algorithm)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		n = 64
	}
	seed := sha256.Sum256(append([]byte(algorithm), secret...))
	var buf bytes.Buffer
	for counter := byte(0); buf.Len() < n; counter++ {
		block := sha256.Sum256(append(seed[:], counter))
		buf.Write(block[:])
	}
	return buf.Bytes()[:n], nil
}

var (
	_ backend.Backend      = (*MockBackend)(nil)
	_ backend.Encapsulator = (*MockBackend)(nil)
	_ backend.Signer       = (*MockBackend)(nil)
)
