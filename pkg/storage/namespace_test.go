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

package storage_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-pqckeys/pkg/storage"
	"github.com/jeremyhahn/go-pqckeys/pkg/storage/memory"
)

func TestPaths(t *testing.T) {
	assert.Equal(t, "keys/pqc-sig/alice@example.com.json", storage.KeyPairPath("pqc-sig", "alice@example.com"))
	assert.Equal(t, "selection/pqc-kem/bob", storage.SelectionPath("pqc-kem", "bob"))
	assert.Equal(t, "contacts/default.json", storage.ContactsPath("default"))
	assert.Equal(t, "outbox/abc.json", storage.OutboxPath("abc"))
}

func TestPaths_EscapeSeparators(t *testing.T) {
	p := storage.KeyPairPath("classical", "../../etc/passwd")
	assert.NotContains(t, p, "../")
	assert.Equal(t, "keys/classical/..%2F..%2Fetc%2Fpasswd.json", p)

	assert.Equal(t, "contacts/%2E%2E.json", storage.ContactsPath(".."))
}

func TestListKeyPairAccounts(t *testing.T) {
	s := memory.New()
	require.NoError(t, s.Put(storage.KeyPairPath("pqc-sig", "alice@example.com"), []byte("{}"), nil))
	require.NoError(t, s.Put(storage.KeyPairPath("pqc-sig", "a/b"), []byte("{}"), nil))
	require.NoError(t, s.Put(storage.KeyPairPath("pqc-kem", "carol"), []byte("{}"), nil))

	accounts, err := storage.ListKeyPairAccounts(s, "pqc-sig")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b", "alice@example.com"}, accounts)

	empty, err := storage.ListKeyPairAccounts(s, "classical")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestJSONHelpers(t *testing.T) {
	s := memory.New()
	type rec struct {
		Algorithm string `json:"algorithm"`
	}

	require.NoError(t, storage.PutJSON(s, "k.json", rec{Algorithm: "Kyber512"}, nil))
	var got rec
	require.NoError(t, storage.GetJSON(s, "k.json", &got))
	assert.Equal(t, "Kyber512", got.Algorithm)

	require.NoError(t, s.Put("bad.json", []byte("{"), nil))
	err := storage.GetJSON(s, "bad.json", &got)
	assert.ErrorIs(t, err, storage.ErrInvalidData)

	err = storage.GetJSON(s, "missing.json", &got)
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	assert.ErrorIs(t, storage.PutJSON(s, "", rec{}, nil), storage.ErrInvalidID)
}

func TestDeleteIfExists(t *testing.T) {
	s := memory.New()
	require.NoError(t, s.Put("k", []byte("v"), nil))
	require.NoError(t, storage.DeleteIfExists(s, "k"))
	require.NoError(t, storage.DeleteIfExists(s, "k"))

	v, err := storage.GetString(s, "k")
	require.NoError(t, err)
	assert.Empty(t, v)
}
