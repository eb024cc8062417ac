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

// Package keycodec implements the password-based blob format that protects
// exported key bundles, plus HKDF expansion for KEM shared secrets.
//
// A blob is laid out as salt(16) || iv(16) || ciphertext, where ciphertext is
// AES-256-CBC with PKCS#7 padding under a PBKDF2-HMAC-SHA256 derived key.
package keycodec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/jeremyhahn/go-pqckeys/pkg/adapters/kdf"
)

const (
	// SaltSize is the length of the PBKDF2 salt prefix.
	SaltSize = 16

	// IVSize is the length of the CBC initialization vector.
	IVSize = aes.BlockSize

	// HeaderSize is the number of bytes preceding the ciphertext.
	HeaderSize = SaltSize + IVSize

	// DefaultIterations is the PBKDF2 iteration count of the blob format.
	DefaultIterations = kdf.MinPBKDF2Iterations

	// DefaultKeyBits is the derived AES key size.
	DefaultKeyBits = 256

	// DefaultMinPasswordLength is the shortest password Encrypt accepts.
	DefaultMinPasswordLength = 8

	// SessionKeyInfo is the HKDF info label for KEM session keys.
	SessionKeyInfo = "PQC-KEM-OpenPGP"

	// SessionKeySize is the length of a derived KEM session key.
	SessionKeySize = 32
)

var (
	// ErrDecryption covers wrong passwords and damaged blobs alike.
	ErrDecryption = errors.New("keycodec: decryption failed")

	// ErrWeakInput is returned for empty or policy-violating passwords and
	// empty key material.
	ErrWeakInput = errors.New("keycodec: weak input")
)

// Config controls the codec's password policy and derivation cost.
type Config struct {
	// MinPasswordLength is enforced by Encrypt. Values below 1 are raised to 1.
	MinPasswordLength int

	// Iterations is the PBKDF2 work factor. Changing it breaks compatibility
	// with blobs written under a different count.
	Iterations int

	// Random is the entropy source for salts and IVs. Defaults to crypto/rand.
	Random io.Reader
}

// Codec encrypts and decrypts password-protected blobs.
type Codec struct {
	minPasswordLength int
	iterations        int
	random            io.Reader
	pbkdf2            kdf.KDFAdapter
	hkdf              kdf.KDFAdapter
}

// New creates a codec. A nil config selects the defaults.
func New(config *Config) *Codec {
	if config == nil {
		config = &Config{}
	}
	c := &Codec{
		minPasswordLength: config.MinPasswordLength,
		iterations:        config.Iterations,
		random:            config.Random,
		pbkdf2:            kdf.NewPBKDF2Adapter(),
		hkdf:              kdf.NewHKDFAdapter(),
	}
	if c.minPasswordLength == 0 {
		c.minPasswordLength = DefaultMinPasswordLength
	}
	if c.minPasswordLength < 1 {
		c.minPasswordLength = 1
	}
	if c.iterations < kdf.MinPBKDF2Iterations {
		c.iterations = DefaultIterations
	}
	if c.random == nil {
		c.random = rand.Reader
	}
	return c
}

// MinPasswordLength returns the enforced policy floor.
func (c *Codec) MinPasswordLength() int {
	return c.minPasswordLength
}

// DeriveKey runs PBKDF2-HMAC-SHA256 over password. It is deterministic for
// identical inputs and fails with ErrWeakInput on an empty password.
func (c *Codec) DeriveKey(password, salt []byte, iterations, outputBits int) ([]byte, error) {
	if len(password) == 0 {
		return nil, fmt.Errorf("%w: empty password", ErrWeakInput)
	}
	if outputBits <= 0 || outputBits%8 != 0 {
		return nil, fmt.Errorf("%w: output bits %d", kdf.ErrInvalidKeyLength, outputBits)
	}
	params := kdf.DefaultParams(kdf.AlgorithmPBKDF2)
	params.Salt = salt
	params.Iterations = iterations
	params.KeyLength = outputBits / 8
	return c.pbkdf2.DeriveKey(password, params)
}

// Encrypt seals plaintext under password with a fresh salt and IV.
func (c *Codec) Encrypt(plaintext, password []byte) ([]byte, error) {
	if err := c.checkPassword(password); err != nil {
		return nil, err
	}

	out := make([]byte, HeaderSize, HeaderSize+len(plaintext)+aes.BlockSize)
	if _, err := io.ReadFull(c.random, out[:HeaderSize]); err != nil {
		return nil, fmt.Errorf("keycodec: failed to read random bytes: %w", err)
	}
	salt, iv := out[:SaltSize], out[SaltSize:HeaderSize]

	key, err := c.DeriveKey(password, salt, c.iterations, DefaultKeyBits)
	if err != nil {
		return nil, err
	}
	defer zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("keycodec: failed to create cipher: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	zero(padded)

	return append(out, ciphertext...), nil
}

// Decrypt opens a blob produced by Encrypt. Every failure, including a
// wrong password, is reported as ErrDecryption.
func (c *Codec) Decrypt(blob, password []byte) ([]byte, error) {
	if len(password) == 0 {
		return nil, ErrDecryption
	}
	if len(blob) < HeaderSize+aes.BlockSize || (len(blob)-HeaderSize)%aes.BlockSize != 0 {
		return nil, ErrDecryption
	}

	salt := blob[:SaltSize]
	iv := blob[SaltSize:HeaderSize]
	ciphertext := blob[HeaderSize:]

	key, err := c.DeriveKey(password, salt, c.iterations, DefaultKeyBits)
	if err != nil {
		return nil, ErrDecryption
	}
	defer zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrDecryption
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, ok := pkcs7Unpad(plaintext, aes.BlockSize)
	if !ok {
		zero(plaintext)
		return nil, ErrDecryption
	}
	return unpadded, nil
}

// HKDFExpand derives n bytes from ikm with a zero-salt extract step.
func (c *Codec) HKDFExpand(ikm []byte, info string, n int) ([]byte, error) {
	if len(ikm) == 0 {
		return nil, fmt.Errorf("%w: empty key material", ErrWeakInput)
	}
	params := kdf.DefaultParams(kdf.AlgorithmHKDF)
	params.Info = []byte(info)
	params.KeyLength = n
	return c.hkdf.DeriveKey(ikm, params)
}

// DeriveSessionKey turns a raw KEM shared secret into the 32-byte session
// key stored against a contact.
func (c *Codec) DeriveSessionKey(sharedSecret []byte) ([]byte, error) {
	return c.HKDFExpand(sharedSecret, SessionKeyInfo, SessionKeySize)
}

// IsBlob reports whether data has the length shape of an encrypted blob.
// It cannot tell a blob from arbitrary bytes of the same length.
func IsBlob(data []byte) bool {
	return len(data) >= HeaderSize+aes.BlockSize && (len(data)-HeaderSize)%aes.BlockSize == 0
}

func (c *Codec) checkPassword(password []byte) error {
	if len(password) == 0 {
		return fmt.Errorf("%w: empty password", ErrWeakInput)
	}
	if len([]rune(string(password))) < c.minPasswordLength {
		return fmt.Errorf("%w: password shorter than %d characters", ErrWeakInput, c.minPasswordLength)
	}
	return nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+padLen)
	copy(out, data)
	copy(out[len(data):], bytes.Repeat([]byte{byte(padLen)}, padLen))
	return out
}

// pkcs7Unpad validates padding without early exit on the pad bytes.
func pkcs7Unpad(data []byte, blockSize int) ([]byte, bool) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, false
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize {
		return nil, false
	}
	var bad byte
	for _, b := range data[len(data)-padLen:] {
		bad |= b ^ byte(padLen)
	}
	if bad != 0 {
		return nil, false
	}
	return data[:len(data)-padLen], true
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
