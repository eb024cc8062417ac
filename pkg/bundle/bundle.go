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

// Package bundle reads and writes .pqk key files.
//
// A bundle is a JSON document naming the owner, the algorithm and one public
// key under a kind-specific field (pgp_publicKey, pqc_sig_publicKey or
// pqc_kem_publicKey). A private key is only ever written inside a
// password-encrypted keycodec blob.
package bundle

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jeremyhahn/go-pqckeys/pkg/types"
)

const (
	// Extension is the file extension of exported bundles.
	Extension = ".pqk"

	// FilePrefix prefixes every exported bundle file name.
	FilePrefix = "pqkeys_"

	FieldEmail           = "email"
	FieldAlgorithm       = "algorithm"
	FieldPublicKey       = "publicKey"
	FieldPrivateKey      = "privateKey"
	FieldPgpPublicKey    = "pgp_publicKey"
	FieldPqcSigPublicKey = "pqc_sig_publicKey"
	FieldPqcKemPublicKey = "pqc_kem_publicKey"
)

var (
	// ErrMalformedPayload is returned for documents that cannot be parsed.
	ErrMalformedPayload = types.ErrMalformedPayload

	// ErrPasswordRequired is returned when a private key is exported, or an
	// encrypted bundle imported, without a password.
	ErrPasswordRequired = errors.New("bundle: password required")

	// ErrNoPublicKey is returned when the account has nothing to export.
	ErrNoPublicKey = errors.New("bundle: no public key to export")
)

// sniffOrder is the fixed detection priority. The generic publicKey field
// is read as a KEM key.
var sniffOrder = []struct {
	field string
	kind  types.KeyKind
}{
	{FieldPqcKemPublicKey, types.KeyKindPqcKem},
	{FieldPqcSigPublicKey, types.KeyKindPqcSignature},
	{FieldPgpPublicKey, types.KeyKindClassical},
	{FieldPublicKey, types.KeyKindPqcKem},
}

// Bundle is one exported key.
type Bundle struct {
	Email      string
	Kind       types.KeyKind
	Algorithm  string
	PublicKey  []byte
	PrivateKey []byte

	// Encrypted reports whether the bundle was read from a password blob.
	Encrypted bool
}

// HasPrivateKey reports whether the bundle carries a secret key.
func (b *Bundle) HasPrivateKey() bool {
	return b != nil && len(b.PrivateKey) > 0
}

// Zero clears the private key.
func (b *Bundle) Zero() {
	if b == nil {
		return
	}
	for i := range b.PrivateKey {
		b.PrivateKey[i] = 0
	}
	b.PrivateKey = nil
}

// KindField returns the tagged public key field of kind.
func KindField(kind types.KeyKind) (string, error) {
	switch kind {
	case types.KeyKindClassical:
		return FieldPgpPublicKey, nil
	case types.KeyKindPqcSignature:
		return FieldPqcSigPublicKey, nil
	case types.KeyKindPqcKem:
		return FieldPqcKemPublicKey, nil
	default:
		return "", types.ErrUnknownKeyKind
	}
}

// Marshal encodes b as a plaintext JSON document. The public key is written
// under both the kind field and the generic publicKey field so older
// readers still find it.
func Marshal(b *Bundle) ([]byte, error) {
	if b == nil || len(b.PublicKey) == 0 {
		return nil, fmt.Errorf("%w: empty bundle", ErrMalformedPayload)
	}
	field, err := KindField(b.Kind)
	if err != nil {
		return nil, err
	}
	doc := map[string]any{
		FieldEmail:     b.Email,
		FieldAlgorithm: b.Algorithm,
		field:          b.PublicKey,
		FieldPublicKey: b.PublicKey,
	}
	if len(b.PrivateKey) > 0 {
		doc[FieldPrivateKey] = b.PrivateKey
	}
	return json.Marshal(doc)
}

// Parse decodes a plaintext JSON document, detecting the key kind from the
// first tagged field present.
func Parse(data []byte) (*Bundle, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	b := &Bundle{}
	if err := optionalString(doc, FieldEmail, &b.Email); err != nil {
		return nil, err
	}
	if err := optionalString(doc, FieldAlgorithm, &b.Algorithm); err != nil {
		return nil, err
	}
	b.Email = types.NormalizeIdentifier(b.Email)

	found := false
	for _, s := range sniffOrder {
		raw, ok := doc[s.field]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, &b.PublicKey); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, s.field, err)
		}
		b.Kind = s.kind
		found = true
		break
	}
	if !found || len(b.PublicKey) == 0 {
		return nil, fmt.Errorf("%w: unrecognized key format", ErrMalformedPayload)
	}
	if raw, ok := doc[FieldPrivateKey]; ok {
		if err := json.Unmarshal(raw, &b.PrivateKey); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, FieldPrivateKey, err)
		}
	}
	return b, nil
}

func optionalString(doc map[string]json.RawMessage, field string, dst *string) error {
	raw, ok := doc[field]
	if !ok || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, field, err)
	}
	return nil
}

// FileName returns pqkeys_<name>.pqk with path separators in name replaced.
func FileName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	name = strings.TrimLeft(name, ".")
	if name == "" {
		name = "account"
	}
	return FilePrefix + name + Extension
}

// isPlaintext reports whether data looks like a JSON document rather than an
// encrypted blob.
func isPlaintext(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}
