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

// Package types contains shared type definitions used across go-pqckeys,
// including key kinds, key pair records and contact entries.
// This package has no dependencies on pkg/backend or pkg/keystore to prevent
// import cycles.
package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrUnknownKeyKind is returned when a key kind string is not recognized.
	ErrUnknownKeyKind = errors.New("unknown key kind")

	// ErrMalformedPayload is returned when an import file or announcement
	// cannot be parsed.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrInvalidIdentifier is returned when an account or contact identifier
	// is empty or unsafe.
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

// =============================================================================
// Key Kind
// =============================================================================

// KeyKind identifies which family of key material a store manages.
// It drives both the algorithm backend and the storage namespace.
type KeyKind uint8

const (
	// KeyKindClassical is the backward-compatible OpenPGP key.
	KeyKindClassical KeyKind = 1 + iota
	// KeyKindPqcSignature is the post-quantum signature key.
	KeyKindPqcSignature
	// KeyKindPqcKem is the post-quantum key encapsulation key.
	KeyKindPqcKem
)

// AllKeyKinds lists every key kind in announcement order.
var AllKeyKinds = []KeyKind{KeyKindClassical, KeyKindPqcSignature, KeyKindPqcKem}

// String returns the string representation of the key kind.
func (k KeyKind) String() string {
	switch k {
	case KeyKindClassical:
		return "classical"
	case KeyKindPqcSignature:
		return "pqc-sig"
	case KeyKindPqcKem:
		return "pqc-kem"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// IsValid reports whether k is one of the defined key kinds.
func (k KeyKind) IsValid() bool {
	return k >= KeyKindClassical && k <= KeyKindPqcKem
}

// ParseKeyKind converts a string to a KeyKind. Matching is case-insensitive
// and accepts a few common aliases.
func ParseKeyKind(s string) (KeyKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "classical", "pgp", "openpgp":
		return KeyKindClassical, nil
	case "pqc-sig", "pqc_sig", "sig", "signature":
		return KeyKindPqcSignature, nil
	case "pqc-kem", "pqc_kem", "kem":
		return KeyKindPqcKem, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKeyKind, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k KeyKind) MarshalText() ([]byte, error) {
	if !k.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKeyKind, k)
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *KeyKind) UnmarshalText(text []byte) error {
	parsed, err := ParseKeyKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// =============================================================================
// Key Pair Record
// =============================================================================

// KeyPairRecord is the key material owned by one (account, kind) pair.
// An empty Algorithm means no algorithm has been selected.
type KeyPairRecord struct {
	Algorithm string `json:"algorithm,omitempty"`
	PublicKey []byte `json:"public_key,omitempty"`
	SecretKey []byte `json:"secret_key,omitempty"`
}

// Exists reports whether both halves of the pair are present.
func (r *KeyPairRecord) Exists() bool {
	return r != nil && len(r.PublicKey) > 0 && len(r.SecretKey) > 0
}

// Clone returns a deep copy of the record.
func (r *KeyPairRecord) Clone() *KeyPairRecord {
	if r == nil {
		return nil
	}
	return &KeyPairRecord{
		Algorithm: r.Algorithm,
		PublicKey: cloneBytes(r.PublicKey),
		SecretKey: cloneBytes(r.SecretKey),
	}
}

// Zero overwrites the secret key in place.
func (r *KeyPairRecord) Zero() {
	if r == nil {
		return
	}
	for i := range r.SecretKey {
		r.SecretKey[i] = 0
	}
	r.SecretKey = nil
}

// =============================================================================
// Contact Entry
// =============================================================================

// ContactEntry is a remote party's public key of one kind, optionally paired
// with a shared secret derived from a KEM exchange.
type ContactEntry struct {
	Identifier   string    `json:"identifier"`
	Kind         KeyKind   `json:"kind"`
	Algorithm    string    `json:"algorithm"`
	PublicKey    []byte    `json:"public_key"`
	SharedSecret []byte    `json:"shared_secret,omitempty"`
	LastUpdated  time.Time `json:"last_updated"`
}

// Clone returns a deep copy of the entry.
func (e *ContactEntry) Clone() *ContactEntry {
	if e == nil {
		return nil
	}
	c := *e
	c.PublicKey = cloneBytes(e.PublicKey)
	c.SharedSecret = cloneBytes(e.SharedSecret)
	return &c
}

// NormalizeIdentifier lower-cases and trims an email-style identifier.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// =============================================================================
// Password
// =============================================================================

// Password is an interface for accessing export and sealing passphrases.
// Implementations should zero their memory on Clear.
type Password interface {
	// Bytes returns the password as a byte slice
	Bytes() []byte

	// String returns the password as a string
	String() (string, error)

	// Clear zeros out the password from memory
	Clear()
}
