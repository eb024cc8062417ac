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

package kdf

import (
	"bytes"
	"crypto"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testIKM  = []byte("test input key material with sufficient entropy")
	testSalt = []byte("saltsaltsaltsalt") // 16 bytes
)

func TestNew(t *testing.T) {
	tests := []struct {
		algorithm KDFAlgorithm
		wantErr   bool
	}{
		{AlgorithmHKDF, false},
		{AlgorithmPBKDF2, false},
		{AlgorithmArgon2id, false},
		{KDFAlgorithm("scrypt"), true},
	}
	for _, tt := range tests {
		t.Run(tt.algorithm.String(), func(t *testing.T) {
			adapter, err := New(tt.algorithm)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.algorithm, adapter.Algorithm())
			assert.NoError(t, adapter.ValidateParams(withSalt(DefaultParams(tt.algorithm))))
		})
	}
}

func withSalt(p *KDFParams) *KDFParams {
	p.Salt = testSalt
	return p
}

// RFC 5869 test case 3: zero-length salt and info.
func TestHKDF_RFC5869ZeroSalt(t *testing.T) {
	ikm := bytes.Repeat([]byte{0x0b}, 22)
	want, err := hex.DecodeString("8da4e775a563c18f715f802a063c5a31b8a11f5c5ee1879ec3454e5f3c738d2d9d201395faa4b61a96c8")
	require.NoError(t, err)

	params := DefaultParams(AlgorithmHKDF)
	params.KeyLength = 42

	okm, err := NewHKDFAdapter().DeriveKey(ikm, params)
	require.NoError(t, err)
	assert.Equal(t, want, okm)

	// An explicit all-zero salt is equivalent to an absent one
	params.Salt = make([]byte, crypto.SHA256.Size())
	okm2, err := NewHKDFAdapter().DeriveKey(ikm, params)
	require.NoError(t, err)
	assert.Equal(t, okm, okm2)
}

func TestHKDF_Validation(t *testing.T) {
	h := NewHKDFAdapter()

	_, err := h.DeriveKey(nil, DefaultParams(AlgorithmHKDF))
	assert.ErrorIs(t, err, ErrInvalidIKM)

	params := DefaultParams(AlgorithmHKDF)
	params.KeyLength = 255*32 + 1
	assert.ErrorIs(t, h.ValidateParams(params), ErrInvalidKeyLength)

	params = DefaultParams(AlgorithmHKDF)
	params.Hash = 0
	assert.ErrorIs(t, h.ValidateParams(params), ErrInvalidHash)

	assert.ErrorIs(t, h.ValidateParams(DefaultParams(AlgorithmPBKDF2)), ErrUnsupportedAlgorithm)
	assert.ErrorIs(t, h.ValidateParams(nil), ErrInvalidKeyLength)
}

func TestPBKDF2_Deterministic(t *testing.T) {
	p := NewPBKDF2Adapter()
	params := withSalt(DefaultParams(AlgorithmPBKDF2))

	k1, err := p.DeriveKey([]byte("password"), params)
	require.NoError(t, err)
	k2, err := p.DeriveKey([]byte("password"), params)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 32)

	k3, err := p.DeriveKey([]byte("passwore"), params)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}

func TestPBKDF2_Validation(t *testing.T) {
	p := NewPBKDF2Adapter()
	tests := []struct {
		name   string
		mutate func(*KDFParams)
		want   error
	}{
		{"short salt", func(p *KDFParams) { p.Salt = []byte("short") }, ErrInvalidSalt},
		{"low iterations", func(p *KDFParams) { p.Iterations = 1000 }, ErrInvalidIterations},
		{"zero length", func(p *KDFParams) { p.KeyLength = 0 }, ErrInvalidKeyLength},
		{"no hash", func(p *KDFParams) { p.Hash = 0 }, ErrInvalidHash},
		{"wrong algorithm", func(p *KDFParams) { p.Algorithm = AlgorithmHKDF }, ErrUnsupportedAlgorithm},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := withSalt(DefaultParams(AlgorithmPBKDF2))
			tt.mutate(params)
			_, err := p.DeriveKey([]byte("password"), params)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := p.DeriveKey(nil, withSalt(DefaultParams(AlgorithmPBKDF2)))
	assert.ErrorIs(t, err, ErrInvalidIKM)
}

func TestArgon2id(t *testing.T) {
	a := NewArgon2idAdapter()
	params := withSalt(DefaultParams(AlgorithmArgon2id))
	params.Memory = MinArgon2Memory

	k1, err := a.DeriveKey(testIKM, params)
	require.NoError(t, err)
	k2, err := a.DeriveKey(testIKM, params)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 32)

	params.Memory = 1024
	_, err = a.DeriveKey(testIKM, params)
	assert.ErrorIs(t, err, ErrInvalidMemory)

	params = withSalt(DefaultParams(AlgorithmArgon2id))
	params.Threads = 0
	assert.ErrorIs(t, a.ValidateParams(params), ErrInvalidThreads)

	params = withSalt(DefaultParams(AlgorithmArgon2id))
	params.Time = 0
	assert.ErrorIs(t, a.ValidateParams(params), ErrInvalidTime)
}
