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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-pqckeys/pkg/backend"
	"github.com/jeremyhahn/go-pqckeys/pkg/types"
)

func TestSignatureBackend_PublicKeyLength(t *testing.T) {
	b, err := NewSignatureBackend(nil)
	require.NoError(t, err)

	tests := []struct {
		alg  string
		want int
	}{
		{types.AlgorithmDilithium2, 1312},
		{types.AlgorithmDilithium3, 1952},
		{types.AlgorithmDilithium5, 2592},
		{types.AlgorithmMLDSA44, 1312},
		{types.AlgorithmMLDSA65, 1952},
		{types.AlgorithmMLDSA87, 2592},
	}
	for _, tt := range tests {
		t.Run(tt.alg, func(t *testing.T) {
			n, err := b.PublicKeyLength(tt.alg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}

	_, err = b.PublicKeyLength("Falcon-512")
	assert.ErrorIs(t, err, backend.ErrUnsupportedAlgorithm)
}

func TestSignatureBackend_GenerateExportSign(t *testing.T) {
	b, err := NewSignatureBackend(nil)
	require.NoError(t, err)
	ctx := context.Background()

	for _, alg := range []string{types.AlgorithmDilithium2, types.AlgorithmMLDSA44} {
		t.Run(alg, func(t *testing.T) {
			kp, err := b.GenerateKeyPair(ctx, alg, "alice@example.com")
			require.NoError(t, err)
			assert.Equal(t, alg, kp.Algorithm)
			require.NoError(t, b.ValidatePublicKey(alg, kp.PublicKey))

			pub, err := b.ExportPublicKey(alg, kp.SecretKey)
			require.NoError(t, err)
			assert.Equal(t, kp.PublicKey, pub)

			msg := []byte("key announcement")
			sig, err := b.Sign(alg, kp.SecretKey, msg)
			require.NoError(t, err)

			ok, err := b.Verify(alg, kp.PublicKey, msg, sig)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = b.Verify(alg, kp.PublicKey, []byte("tampered"), sig)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestSignatureBackend_ValidateRejectsWrongLength(t *testing.T) {
	b, err := NewSignatureBackend(nil)
	require.NoError(t, err)

	err = b.ValidatePublicKey(types.AlgorithmDilithium2, make([]byte, 800))
	assert.ErrorIs(t, err, backend.ErrKeyLengthMismatch)

	err = b.ValidatePublicKey(types.AlgorithmDilithium2, nil)
	assert.ErrorIs(t, err, backend.ErrKeyLengthMismatch)
}

func TestSignatureBackend_ExportRejectsGarbage(t *testing.T) {
	b, err := NewSignatureBackend(nil)
	require.NoError(t, err)

	_, err = b.ExportPublicKey(types.AlgorithmDilithium2, []byte("not a key"))
	assert.ErrorIs(t, err, backend.ErrInvalidSecretKey)
}

func TestSignatureBackend_EnabledSubset(t *testing.T) {
	b, err := NewSignatureBackend(&Config{Algorithms: []string{types.AlgorithmDilithium3}})
	require.NoError(t, err)

	assert.True(t, b.IsAlgorithmEnabled(types.AlgorithmDilithium3))
	assert.False(t, b.IsAlgorithmEnabled(types.AlgorithmDilithium2))
	assert.Len(t, b.Algorithms(), len(SignatureAlgorithms))

	_, err = b.GenerateKeyPair(context.Background(), types.AlgorithmDilithium2, "")
	assert.ErrorIs(t, err, backend.ErrUnsupportedAlgorithm)

	_, err = NewSignatureBackend(&Config{Algorithms: []string{types.AlgorithmKyber512}})
	assert.ErrorIs(t, err, backend.ErrUnsupportedAlgorithm)
}

func TestSignatureBackend_ContextAndClose(t *testing.T) {
	b, err := NewSignatureBackend(nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.GenerateKeyPair(ctx, types.AlgorithmDilithium2, "")
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, b.Close())
	_, err = b.GenerateKeyPair(context.Background(), types.AlgorithmDilithium2, "")
	assert.ErrorIs(t, err, backend.ErrClosed)
}

func TestKEMBackend_PublicKeyLength(t *testing.T) {
	b, err := NewKEMBackend(nil)
	require.NoError(t, err)

	tests := []struct {
		alg  string
		want int
	}{
		{types.AlgorithmKyber512, 800},
		{types.AlgorithmKyber768, 1184},
		{types.AlgorithmKyber1024, 1568},
		{types.AlgorithmMLKEM512, 800},
		{types.AlgorithmMLKEM768, 1184},
		{types.AlgorithmMLKEM1024, 1568},
	}
	for _, tt := range tests {
		t.Run(tt.alg, func(t *testing.T) {
			n, err := b.PublicKeyLength(tt.alg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestKEMBackend_EncapsulateDecapsulate(t *testing.T) {
	b, err := NewKEMBackend(nil)
	require.NoError(t, err)

	for _, alg := range []string{types.AlgorithmKyber512, types.AlgorithmMLKEM768} {
		t.Run(alg, func(t *testing.T) {
			kp, err := b.GenerateKeyPair(context.Background(), alg, "bob@example.com")
			require.NoError(t, err)

			pub, err := b.ExportPublicKey(alg, kp.SecretKey)
			require.NoError(t, err)
			assert.Equal(t, kp.PublicKey, pub)

			ct, ss, err := b.Encapsulate(alg, kp.PublicKey)
			require.NoError(t, err)
			assert.Len(t, ss, 32)

			got, err := b.Decapsulate(alg, kp.SecretKey, ct)
			require.NoError(t, err)
			assert.Equal(t, ss, got)

			_, err = b.Decapsulate(alg, kp.SecretKey, ct[:10])
			assert.Error(t, err)
		})
	}
}

func TestKEMBackend_ValidateRejectsWrongLength(t *testing.T) {
	b, err := NewKEMBackend(nil)
	require.NoError(t, err)

	err = b.ValidatePublicKey(types.AlgorithmKyber512, make([]byte, 1312))
	assert.ErrorIs(t, err, backend.ErrKeyLengthMismatch)

	_, _, err = b.Encapsulate(types.AlgorithmKyber512, make([]byte, 10))
	assert.ErrorIs(t, err, backend.ErrKeyLengthMismatch)
}

func TestKinds(t *testing.T) {
	sig, err := NewSignatureBackend(nil)
	require.NoError(t, err)
	kem, err := NewKEMBackend(nil)
	require.NoError(t, err)

	assert.Equal(t, types.KeyKindPqcSignature, sig.Kind())
	assert.Equal(t, types.KeyKindPqcKem, kem.Kind())
	assert.Equal(t, BackendName, sig.Name())

	set, err := backend.NewSet(sig, kem)
	require.NoError(t, err)
	assert.Equal(t, []types.KeyKind{types.KeyKindPqcSignature, types.KeyKindPqcKem}, set.Kinds())
	assert.NoError(t, set.Close())
}
