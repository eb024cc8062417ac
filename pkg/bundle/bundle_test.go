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

package bundle

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-pqckeys/pkg/backend"
	"github.com/jeremyhahn/go-pqckeys/pkg/backend/mocks"
	"github.com/jeremyhahn/go-pqckeys/pkg/contacts"
	"github.com/jeremyhahn/go-pqckeys/pkg/keycodec"
	"github.com/jeremyhahn/go-pqckeys/pkg/keystore"
	"github.com/jeremyhahn/go-pqckeys/pkg/storage"
	"github.com/jeremyhahn/go-pqckeys/pkg/storage/memory"
	"github.com/jeremyhahn/go-pqckeys/pkg/types"
)

const (
	alice    = "alice@example.com"
	password = "correct horse"
)

type fixture struct {
	registry *keystore.Registry
	contacts *contacts.Cache
	exporter *Exporter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	set := mocks.NewDefaultMockSet()
	cache, err := contacts.New(&contacts.Config{Backends: set})
	require.NoError(t, err)
	reg, err := keystore.NewRegistryFromSet(set, &keystore.RegistryConfig{Storage: memory.New(), Contacts: cache})
	require.NoError(t, err)
	exp, err := New(&Config{Registry: reg})
	require.NoError(t, err)
	return &fixture{registry: reg, contacts: cache, exporter: exp}
}

func (f *fixture) store(t *testing.T, kind types.KeyKind) *keystore.KeyStore {
	t.Helper()
	ks, err := f.registry.Get(kind)
	require.NoError(t, err)
	return ks
}

func TestExport_PublicOnlyPlaintext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sig := f.store(t, types.KeyKindPqcSignature)
	require.NoError(t, sig.GenerateKeyPair(ctx, alice, types.AlgorithmDilithium2))
	pub, err := sig.ExportPublicKey(alice)
	require.NoError(t, err)

	data, err := f.exporter.Export(ctx, "Alice@Example.com", types.KeyKindPqcSignature, false, nil)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, alice, doc[FieldEmail])
	assert.Equal(t, types.AlgorithmDilithium2, doc[FieldAlgorithm])
	assert.Equal(t, base64.StdEncoding.EncodeToString(pub), doc[FieldPqcSigPublicKey])
	assert.NotContains(t, doc, FieldPrivateKey)

	b, err := f.exporter.Import(data, nil)
	require.NoError(t, err)
	assert.Equal(t, types.KeyKindPqcSignature, b.Kind)
	assert.Equal(t, pub, b.PublicKey)
	assert.False(t, b.Encrypted)
	assert.False(t, b.HasPrivateKey())
}

func TestExport_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.exporter.Export(ctx, alice, types.KeyKindPqcKem, false, nil)
	assert.ErrorIs(t, err, ErrNoPublicKey)

	require.NoError(t, f.store(t, types.KeyKindPqcKem).GenerateKeyPair(ctx, alice, ""))

	_, err = f.exporter.Export(ctx, alice, types.KeyKindPqcKem, true, nil)
	assert.ErrorIs(t, err, ErrPasswordRequired)

	_, err = f.exporter.Export(ctx, alice, types.KeyKindPqcKem, true, []byte("short"))
	assert.ErrorIs(t, err, keycodec.ErrWeakInput)
}

func TestEncryptedBundle_WrongAndCorrectPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	kem := f.store(t, types.KeyKindPqcKem)
	require.NoError(t, kem.GenerateKeyPair(ctx, alice, types.AlgorithmKyber768))
	own, err := kem.LoadKeyPair(ctx, alice)
	require.NoError(t, err)

	data, err := f.exporter.Export(ctx, alice, types.KeyKindPqcKem, true, []byte(password))
	require.NoError(t, err)
	assert.False(t, isPlaintext(data))
	assert.NotContains(t, string(data), FieldPrivateKey)

	_, err = f.exporter.Import(data, nil)
	assert.ErrorIs(t, err, ErrPasswordRequired)

	_, err = f.exporter.Import(data, []byte("wrong password"))
	assert.ErrorIs(t, err, keycodec.ErrDecryption)

	_, err = f.exporter.Import(data[:len(data)-3], []byte(password))
	assert.ErrorIs(t, err, keycodec.ErrDecryption)

	b, err := f.exporter.Import(data, []byte(password))
	require.NoError(t, err)
	assert.True(t, b.Encrypted)
	assert.Equal(t, types.KeyKindPqcKem, b.Kind)
	assert.Equal(t, types.AlgorithmKyber768, b.Algorithm)
	assert.Equal(t, own.PublicKey, b.PublicKey)
	assert.Equal(t, own.SecretKey, b.PrivateKey)

	// Restore onto a fresh installation.
	other := newFixture(t)
	require.NoError(t, other.exporter.Apply(ctx, alice, b))
	restored, err := other.store(t, types.KeyKindPqcKem).LoadKeyPair(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, own.SecretKey, restored.SecretKey)
	assert.Equal(t, types.AlgorithmKyber768, restored.Algorithm)

	b.Zero()
	assert.Nil(t, b.PrivateKey)
}

func TestApply_ContactKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pub := make([]byte, 800)
	pub[0] = 9
	doc, err := Marshal(&Bundle{Email: "Bob@Example.com", Kind: types.KeyKindPqcKem, Algorithm: types.AlgorithmKyber512, PublicKey: pub})
	require.NoError(t, err)

	b, err := f.exporter.Import(doc, nil)
	require.NoError(t, err)
	require.NoError(t, f.exporter.Apply(ctx, alice, b))

	got, err := f.contacts.GetPublicKey("bob@example.com", types.KeyKindPqcKem)
	require.NoError(t, err)
	assert.Equal(t, pub, got)
	has, err := f.store(t, types.KeyKindPqcKem).HasOwnKeyPair(alice)
	require.NoError(t, err)
	assert.False(t, has)

	b.PublicKey = pub[:10]
	assert.ErrorIs(t, f.exporter.Apply(ctx, alice, b), backend.ErrKeyLengthMismatch)

	b.Email = ""
	b.PublicKey = pub
	assert.ErrorIs(t, f.exporter.Apply(ctx, alice, b), ErrMalformedPayload)
	assert.ErrorIs(t, f.exporter.Apply(ctx, alice, nil), ErrMalformedPayload)
}

func TestParse_SniffOrder(t *testing.T) {
	key := base64.StdEncoding.EncodeToString([]byte("key-bytes"))
	tests := []struct {
		name string
		doc  string
		kind types.KeyKind
	}{
		{"kem wins over sig", `{"email":"a@b.c","pqc_sig_publicKey":"` + key + `","pqc_kem_publicKey":"` + key + `"}`, types.KeyKindPqcKem},
		{"sig wins over pgp", `{"pgp_publicKey":"` + key + `","pqc_sig_publicKey":"` + key + `"}`, types.KeyKindPqcSignature},
		{"pgp", `{"pgp_publicKey":"` + key + `"}`, types.KeyKindClassical},
		{"generic falls back to kem", `{"algorithm":"Dilithium2","publicKey":"` + key + `","privateKey":"` + key + `"}`, types.KeyKindPqcKem},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Parse([]byte(tt.doc))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, b.Kind)
			assert.Equal(t, []byte("key-bytes"), b.PublicKey)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := map[string]string{
		"not json":         `{"email":`,
		"no key field":     `{"email":"a@b.c","algorithm":"Kyber512"}`,
		"empty key":        `{"pqc_kem_publicKey":""}`,
		"key not base64":   `{"pqc_kem_publicKey":"***"}`,
		"key wrong type":   `{"publicKey":42}`,
		"email wrong type": `{"email":7,"publicKey":"AAAA"}`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "pqkeys_work.pqk", FileName("work"))
	assert.Equal(t, "pqkeys_a_b.pqk", FileName("a/b"))
	assert.Equal(t, "pqkeys__.._evil.pqk", FileName("../../evil"))
	assert.Equal(t, "pqkeys_account.pqk", FileName("  "))
}

func TestWriteReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName("alice"))
	data := []byte(`{"pqc_kem_publicKey":"AAAA"}`)

	require.NoError(t, WriteFile(path, data))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, WriteFile(path, []byte("{}")))
	got, err = ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	big := filepath.Join(dir, "big.pqk")
	require.NoError(t, os.WriteFile(big, []byte(strings.Repeat("x", MaxFileSize+1)), 0o600))
	_, err = ReadFile(big)
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = ReadFile(filepath.Join(dir, "missing.pqk"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFileErrorsAreStorageIO(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadFile(filepath.Join(dir, "missing.pqk"))
	assert.ErrorIs(t, err, storage.ErrStorageIO)
	assert.ErrorIs(t, err, os.ErrNotExist)

	err = WriteFile(filepath.Join(dir, "no-such-dir", "alice.pqk"), []byte("{}"))
	assert.ErrorIs(t, err, storage.ErrStorageIO)

	_, err = ReadFile(dir)
	assert.ErrorIs(t, err, storage.ErrStorageIO)
}
