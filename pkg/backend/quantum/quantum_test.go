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

package quantum

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-pqckeys/pkg/backend"
	"github.com/jeremyhahn/go-pqckeys/pkg/types"
)

func TestSignatureBackend(t *testing.T) {
	b, err := NewSignatureBackend([]string{types.AlgorithmMLDSA44})
	require.NoError(t, err)
	defer b.Close()

	n, err := b.PublicKeyLength(types.AlgorithmMLDSA44)
	require.NoError(t, err)
	assert.Equal(t, 1312, n)

	kp, err := b.GenerateKeyPair(context.Background(), types.AlgorithmMLDSA44, "")
	require.NoError(t, err)
	assert.Len(t, kp.PublicKey, n)

	msg := []byte("announcement")
	sig, err := b.Sign(types.AlgorithmMLDSA44, kp.SecretKey, msg)
	require.NoError(t, err)
	ok, err := b.Verify(types.AlgorithmMLDSA44, kp.PublicKey, msg, sig)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = b.ExportPublicKey(types.AlgorithmMLDSA44, kp.SecretKey)
	assert.ErrorIs(t, err, backend.ErrNotSupported)
}

func TestKEMBackend(t *testing.T) {
	b, err := NewKEMBackend([]string{types.AlgorithmMLKEM768})
	require.NoError(t, err)
	defer b.Close()

	kp, err := b.GenerateKeyPair(context.Background(), types.AlgorithmMLKEM768, "")
	require.NoError(t, err)

	pub, err := b.ExportPublicKey(types.AlgorithmMLKEM768, kp.SecretKey)
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey, pub)

	ct, ss, err := b.Encapsulate(types.AlgorithmMLKEM768, kp.PublicKey)
	require.NoError(t, err)
	got, err := b.Decapsulate(types.AlgorithmMLKEM768, kp.SecretKey, ct)
	require.NoError(t, err)
	assert.Equal(t, ss, got)

	err = b.ValidatePublicKey(types.AlgorithmMLKEM768, kp.PublicKey[:100])
	assert.ErrorIs(t, err, backend.ErrKeyLengthMismatch)
}
