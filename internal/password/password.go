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

// Package password holds export and sealing passphrases in memory and
// generates recovery passphrases.
//
// ClearPassword implements types.Password. Generated passphrases are BIP-39
// mnemonics, which are easy to write down and carry their own checksum.
package password

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tyler-smith/go-bip39"

	"github.com/jeremyhahn/go-pqckeys/pkg/types"
)

// DefaultPassphraseWords is the length of a generated passphrase.
const DefaultPassphraseWords = 12

var (
	// ErrEmptyPassword is returned when an empty password is provided.
	ErrEmptyPassword = errors.New("password: empty password")

	// ErrPasswordZeroed is returned when the password has been cleared.
	ErrPasswordZeroed = errors.New("password: password has been cleared")

	// ErrInvalidWordCount is returned for passphrase lengths BIP-39 does
	// not define.
	ErrInvalidWordCount = errors.New("password: word count must be 12, 15, 18, 21 or 24")
)

// ClearPassword stores a password in memory as cleartext. Clear zeroes it.
type ClearPassword struct {
	password []byte
}

// NewClearPassword copies password into a new ClearPassword.
func NewClearPassword(password []byte) (types.Password, error) {
	if len(password) == 0 {
		return nil, ErrEmptyPassword
	}
	p := make([]byte, len(password))
	copy(p, password)
	return &ClearPassword{password: p}, nil
}

// NewClearPasswordFromString creates a ClearPassword from a string.
func NewClearPasswordFromString(password string) (types.Password, error) {
	if len(password) == 0 {
		return nil, ErrEmptyPassword
	}
	return &ClearPassword{password: []byte(password)}, nil
}

// FromEnv reads a password from the named environment variable. Trailing
// newlines, as left by `export X=$(cat file)`, are removed.
func FromEnv(name string) (types.Password, error) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not set", ErrEmptyPassword, name)
	}
	return NewClearPasswordFromString(strings.TrimRight(v, "\r\n"))
}

// String returns the password as a string.
func (p *ClearPassword) String() (string, error) {
	if p.password == nil {
		return "", ErrPasswordZeroed
	}
	return string(p.password), nil
}

// Bytes returns a copy of the password, or nil after Clear.
func (p *ClearPassword) Bytes() []byte {
	if p.password == nil {
		return nil
	}
	result := make([]byte, len(p.password))
	copy(result, p.password)
	return result
}

// Clear zeroes the password. It cannot be read afterwards.
func (p *ClearPassword) Clear() {
	if p.password != nil {
		for i := range p.password {
			p.password[i] = 0
		}
		subtle.ConstantTimeCopy(1, p.password, make([]byte, len(p.password)))
		p.password = nil
	}
}

// Equal compares two passwords in constant time.
func Equal(a, b types.Password) (bool, error) {
	aBytes := a.Bytes()
	if aBytes == nil {
		return false, ErrPasswordZeroed
	}
	defer zero(aBytes)

	bBytes := b.Bytes()
	if bBytes == nil {
		return false, ErrPasswordZeroed
	}
	defer zero(bBytes)

	return subtle.ConstantTimeCompare(aBytes, bBytes) == 1, nil
}

// GeneratePassphrase returns a fresh BIP-39 mnemonic of the given number of
// words. Zero selects DefaultPassphraseWords.
func GeneratePassphrase(words int) (types.Password, error) {
	if words == 0 {
		words = DefaultPassphraseWords
	}
	if words < 12 || words > 24 || words%3 != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidWordCount, words)
	}
	entropy, err := bip39.NewEntropy(words / 3 * 32)
	if err != nil {
		return nil, fmt.Errorf("password: entropy: %w", err)
	}
	defer zero(entropy)
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, fmt.Errorf("password: mnemonic: %w", err)
	}
	return NewClearPasswordFromString(mnemonic)
}

// IsPassphrase reports whether s is a valid BIP-39 mnemonic, which lets
// the CLI warn about a mistyped recovery passphrase before decrypting.
func IsPassphrase(s string) bool {
	return bip39.IsMnemonicValid(strings.Join(strings.Fields(strings.ToLower(s)), " "))
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

var _ types.Password = (*ClearPassword)(nil)
