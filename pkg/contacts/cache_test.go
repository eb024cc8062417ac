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

package contacts

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-pqckeys/pkg/adapters/kdf"
	"github.com/jeremyhahn/go-pqckeys/pkg/backend"
	"github.com/jeremyhahn/go-pqckeys/pkg/backend/mocks"
	"github.com/jeremyhahn/go-pqckeys/pkg/sealing"
	"github.com/jeremyhahn/go-pqckeys/pkg/storage"
	"github.com/jeremyhahn/go-pqckeys/pkg/storage/file"
	"github.com/jeremyhahn/go-pqckeys/pkg/storage/memory"
	"github.com/jeremyhahn/go-pqckeys/pkg/types"
)

func key(n int, fill byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = fill
	}
	return b
}

func newCache(t *testing.T, st storage.Backend) *Cache {
	t.Helper()
	c, err := New(&Config{Backends: mocks.NewDefaultMockSet(), Storage: st})
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
	_, err = New(&Config{})
	assert.Error(t, err)
	_, err = New(&Config{Backends: mocks.NewDefaultMockSet(), AutoPersist: true})
	assert.ErrorIs(t, err, ErrNoStorage)
}

func TestSaveContact_CaseInsensitiveKyber512(t *testing.T) {
	c := newCache(t, nil)
	pub := key(800, 0x42)

	require.NoError(t, c.SaveContact("Bob@Example.COM", types.KeyKindPqcKem, types.AlgorithmKyber512, pub))

	got, err := c.GetPublicKey("bob@example.com", types.KeyKindPqcKem)
	require.NoError(t, err)
	assert.Equal(t, pub, got)

	alg, err := c.GetAlgorithm(" BOB@example.com ", types.KeyKindPqcKem)
	require.NoError(t, err)
	assert.Equal(t, types.AlgorithmKyber512, alg)

	_, err = c.Get("bob@example.com", types.KeyKindPqcSignature)
	assert.ErrorIs(t, err, ErrUnknownContact)
}

func TestSaveContact_Rejects(t *testing.T) {
	c := newCache(t, nil)

	tests := []struct {
		name    string
		id      string
		kind    types.KeyKind
		alg     string
		pub     []byte
		wantErr error
	}{
		{"short key", "bob@example.com", types.KeyKindPqcKem, types.AlgorithmKyber512, key(799, 1), backend.ErrKeyLengthMismatch},
		{"long key", "bob@example.com", types.KeyKindPqcSignature, types.AlgorithmDilithium2, key(1313, 1), backend.ErrKeyLengthMismatch},
		{"unknown algorithm", "bob@example.com", types.KeyKindPqcKem, "FrodoKEM", key(800, 1), backend.ErrUnsupportedAlgorithm},
		{"empty algorithm", "bob@example.com", types.KeyKindPqcKem, "", key(800, 1), backend.ErrUnsupportedAlgorithm},
		{"empty identifier", " ", types.KeyKindPqcKem, types.AlgorithmKyber512, key(800, 1), types.ErrInvalidIdentifier},
		{"unknown kind", "bob@example.com", types.KeyKind(9), types.AlgorithmKyber512, key(800, 1), backend.ErrNoBackend},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.SaveContact(tt.id, tt.kind, tt.alg, tt.pub)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, c.Len())
		})
	}
}

func TestSaveContact_LastWriteWins(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c, err := New(&Config{
		Backends: mocks.NewDefaultMockSet(),
		Now:      func() time.Time { now = now.Add(time.Minute); return now },
	})
	require.NoError(t, err)

	require.NoError(t, c.SaveContact("bob@example.com", types.KeyKindPqcKem, types.AlgorithmKyber512, key(800, 1)))
	first, err := c.Get("bob@example.com", types.KeyKindPqcKem)
	require.NoError(t, err)

	require.NoError(t, c.SaveContact("bob@example.com", types.KeyKindPqcKem, types.AlgorithmKyber768, key(1184, 2)))
	second, err := c.Get("bob@example.com", types.KeyKindPqcKem)
	require.NoError(t, err)

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, types.AlgorithmKyber768, second.Algorithm)
	assert.True(t, second.LastUpdated.After(first.LastUpdated))
}

func TestSharedSecret(t *testing.T) {
	c := newCache(t, nil)
	pub := key(800, 7)

	err := c.SaveSharedSecret("bob@example.com", []byte("secret"))
	assert.ErrorIs(t, err, ErrUnknownContact)

	require.NoError(t, c.SaveContact("bob@example.com", types.KeyKindPqcKem, types.AlgorithmKyber512, pub))
	assert.ErrorIs(t, c.SaveSharedSecret("bob@example.com", nil), ErrEmptySecret)

	secret, err := c.GetSharedSecret("bob@example.com")
	require.NoError(t, err)
	assert.Nil(t, secret)

	require.NoError(t, c.SaveSharedSecret("BOB@example.com", []byte("session key")))
	secret, err = c.GetSharedSecret("bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, []byte("session key"), secret)

	// Re-saving the same key keeps the secret.
	require.NoError(t, c.SaveContact("bob@example.com", types.KeyKindPqcKem, types.AlgorithmKyber512, pub))
	secret, _ = c.GetSharedSecret("bob@example.com")
	assert.Equal(t, []byte("session key"), secret)

	// A new key invalidates it.
	require.NoError(t, c.SaveContact("bob@example.com", types.KeyKindPqcKem, types.AlgorithmKyber512, key(800, 8)))
	secret, _ = c.GetSharedSecret("bob@example.com")
	assert.Nil(t, secret)

	_, err = c.GetSharedSecret("carol@example.com")
	assert.ErrorIs(t, err, ErrUnknownContact)
}

func TestDelete(t *testing.T) {
	c := newCache(t, nil)
	require.NoError(t, c.SaveContact("bob@example.com", types.KeyKindPqcKem, types.AlgorithmKyber512, key(800, 1)))
	require.NoError(t, c.SaveContact("bob@example.com", types.KeyKindPqcSignature, types.AlgorithmDilithium2, key(1312, 1)))
	require.NoError(t, c.SaveContact("carol@example.com", types.KeyKindClassical, types.AlgorithmPGPEd25519, key(32, 1)))

	require.NoError(t, c.DeleteContact("BOB@example.com", types.KeyKindPqcKem))
	require.NoError(t, c.DeleteContact("bob@example.com", types.KeyKindPqcKem), "idempotent")
	assert.Equal(t, 2, c.Len())

	n, err := c.DeleteIdentity("bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	all := c.GetAllContacts()
	require.Len(t, all, 1)
	assert.Equal(t, "carol@example.com", all[0].Identifier)

	require.NoError(t, c.Clear())
	assert.Zero(t, c.Len())
}

func TestGetAllContacts_OrderAndCopies(t *testing.T) {
	c := newCache(t, nil)
	require.NoError(t, c.SaveContact("zed@example.com", types.KeyKindClassical, types.AlgorithmPGPEd25519, key(32, 1)))
	require.NoError(t, c.SaveContact("amy@example.com", types.KeyKindPqcKem, types.AlgorithmKyber512, key(800, 1)))
	require.NoError(t, c.SaveContact("amy@example.com", types.KeyKindClassical, types.AlgorithmPGPEd25519, key(32, 2)))

	all := c.GetAllContacts()
	require.Len(t, all, 3)
	assert.Equal(t, "amy@example.com", all[0].Identifier)
	assert.Equal(t, types.KeyKindClassical, all[0].Kind)
	assert.Equal(t, types.KeyKindPqcKem, all[1].Kind)
	assert.Equal(t, "zed@example.com", all[2].Identifier)

	all[0].PublicKey[0] = 0xff
	pub, err := c.GetPublicKey("amy@example.com", types.KeyKindClassical)
	require.NoError(t, err)
	assert.Equal(t, byte(2), pub[0])
}

func TestPersistLoad(t *testing.T) {
	backends := map[string]func(t *testing.T) storage.Backend{
		"memory": func(*testing.T) storage.Backend { return memory.New() },
		"file": func(t *testing.T) storage.Backend {
			fs, err := file.New(t.TempDir())
			require.NoError(t, err)
			return fs
		},
	}
	for name, newStorage := range backends {
		t.Run(name, func(t *testing.T) {
			st := newStorage(t)
			c := newCache(t, st)
			require.NoError(t, c.SaveContact("bob@example.com", types.KeyKindPqcKem, types.AlgorithmKyber512, key(800, 3)))
			require.NoError(t, c.SaveSharedSecret("bob@example.com", []byte("ss")))
			require.NoError(t, c.SaveContact("bob@example.com", types.KeyKindClassical, types.AlgorithmPGPEd25519, key(32, 4)))
			require.NoError(t, c.Persist())

			restored := newCache(t, st)
			require.NoError(t, restored.SaveContact("stale@example.com", types.KeyKindClassical, types.AlgorithmPGPEd25519, key(32, 9)))
			require.NoError(t, restored.Load())

			assert.Equal(t, c.GetAllContacts(), restored.GetAllContacts())
			_, err := restored.Get("stale@example.com", types.KeyKindClassical)
			assert.ErrorIs(t, err, ErrUnknownContact, "load replaces the in-memory set")
		})
	}
}

func TestLoad_MissingAndInvalid(t *testing.T) {
	st := memory.New()
	c := newCache(t, st)
	require.NoError(t, c.SaveContact("bob@example.com", types.KeyKindClassical, types.AlgorithmPGPEd25519, key(32, 1)))
	require.NoError(t, c.Load(), "missing file")
	assert.Zero(t, c.Len())

	require.NoError(t, st.Put(storage.ContactsPath(DefaultScope), []byte("not json"), nil))
	assert.ErrorIs(t, c.Load(), storage.ErrInvalidData)

	doc := fmt.Sprintf(`[{"identifier":"bob@example.com","kind":"pqc-kem","algorithm":"Kyber512","public_key":"AAAA","last_updated":%q}]`,
		time.Now().UTC().Format(time.RFC3339))
	require.NoError(t, st.Put(storage.ContactsPath(DefaultScope), []byte(doc), nil))
	require.NoError(t, c.Load())
	assert.Zero(t, c.Len(), "wrong-length entry skipped")

	noStorage := newCache(t, nil)
	assert.ErrorIs(t, noStorage.Persist(), ErrNoStorage)
	assert.ErrorIs(t, noStorage.Load(), ErrNoStorage)
}

func TestAutoPersistSealed(t *testing.T) {
	ctx := context.Background()
	w := sealing.NewWrapper()
	_, err := w.SetConfig(ctx, sealing.WithPassphrase([]byte("pw")), sealing.WithArgon2Cost(kdf.MinArgon2Memory, 1))
	require.NoError(t, err)

	st := memory.New()
	cfg := &Config{Backends: mocks.NewDefaultMockSet(), Storage: st, Scope: "alice", AutoPersist: true, Sealer: w}
	c, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, c.SaveContact("bob@example.com", types.KeyKindPqcKem, types.AlgorithmKyber512, key(800, 5)))
	require.NoError(t, c.SaveSharedSecret("bob@example.com", []byte("top secret")))

	raw, err := st.Get(storage.ContactsPath("alice"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "bob@example.com")

	restored, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, restored.Load())
	secret, err := restored.GetSharedSecret("bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, []byte("top secret"), secret)
}

func TestConcurrentAccess(t *testing.T) {
	c := newCache(t, memory.New())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, c.SaveContact(fmt.Sprintf("user%d@example.com", i%10), types.KeyKindPqcKem, types.AlgorithmKyber512, key(800, byte(i))))
		}(i)
		go func() {
			defer wg.Done()
			_ = c.GetAllContacts()
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Persist())
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, c.Len())
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint(key(800, 1))
	assert.Equal(t, a, Fingerprint(key(800, 1)))
	assert.NotEqual(t, a, Fingerprint(key(800, 2)))
	assert.NotEmpty(t, a)
}
