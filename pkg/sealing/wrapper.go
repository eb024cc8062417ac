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

// Package sealing protects secret keys at rest with envelope encryption.
//
// PassphraseWrapper implements the go-kms-wrapping Wrapper interface. Data
// is encrypted under a random data-encryption key by wrapping.EnvelopeEncrypt;
// that key is then sealed with XChaCha20-Poly1305 under a key-encryption key
// derived from a passphrase with Argon2id. Any other Wrapper (a cloud KMS,
// Vault transit) can be used in its place.
package sealing

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	wrapping "github.com/hashicorp/go-kms-wrapping/v2"
	"golang.org/x/crypto/chacha20poly1305"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/jeremyhahn/go-pqckeys/pkg/adapters/kdf"
)

const (
	// WrapperTypePassphrase identifies PassphraseWrapper.
	WrapperTypePassphrase wrapping.WrapperType = "pqckeys-passphrase"

	// DefaultKeyName is used when no key name is configured.
	DefaultKeyName = "pqckeys-local"

	saltSize = 16
)

var (
	// ErrEmptyPassphrase is returned when no passphrase is configured.
	ErrEmptyPassphrase = errors.New("sealing: empty passphrase")

	// ErrNotConfigured is returned when Encrypt or Decrypt run before SetConfig.
	ErrNotConfigured = errors.New("sealing: wrapper not configured")

	// ErrAuthFailed is returned for a wrong passphrase or tampered blob.
	ErrAuthFailed = errors.New("sealing: authentication failed")

	// ErrInvalidBlob is returned for blobs that cannot be parsed.
	ErrInvalidBlob = errors.New("sealing: invalid blob")
)

// PassphraseWrapper seals data encryption keys under a passphrase.
type PassphraseWrapper struct {
	currentKeyId *atomic.Value
	mu           sync.RWMutex
	passphrase   []byte
	params       *kdf.KDFParams
	kdf          kdf.KDFAdapter
	random       io.Reader
}

var _ wrapping.Wrapper = (*PassphraseWrapper)(nil)

// NewWrapper returns an unconfigured wrapper. Call SetConfig with
// WithPassphrase before use.
func NewWrapper() *PassphraseWrapper {
	w := &PassphraseWrapper{
		currentKeyId: new(atomic.Value),
		params:       kdf.DefaultParams(kdf.AlgorithmArgon2id),
		kdf:          kdf.NewArgon2idAdapter(),
		random:       rand.Reader,
	}
	w.currentKeyId.Store(DefaultKeyName)
	return w
}

// SetConfig applies WithPassphrase, WithKeyName and WithArgon2Cost.
func (w *PassphraseWrapper) SetConfig(_ context.Context, opt ...wrapping.Option) (*wrapping.WrapperConfig, error) {
	opts, err := getOpts(opt...)
	if err != nil {
		return nil, err
	}
	if len(opts.withPassphrase) == 0 {
		return nil, ErrEmptyPassphrase
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	zero(w.passphrase)
	w.passphrase = opts.withPassphrase
	if opts.withKeyName != "" {
		w.currentKeyId.Store(opts.withKeyName)
	}
	if opts.withMemoryKiB != 0 {
		w.params.Memory = opts.withMemoryKiB
	}
	if opts.withTime != 0 {
		w.params.Time = opts.withTime
	}
	w.params.KeyLength = chacha20poly1305.KeySize

	cfg := new(wrapping.WrapperConfig)
	cfg.Metadata = map[string]string{
		"key_name":   w.currentKeyId.Load().(string),
		"kdf":        kdf.AlgorithmArgon2id.String(),
		"kdf_memory": fmt.Sprint(w.params.Memory),
		"kdf_time":   fmt.Sprint(w.params.Time),
	}
	return cfg, nil
}

func (w *PassphraseWrapper) Type(_ context.Context) (wrapping.WrapperType, error) {
	return WrapperTypePassphrase, nil
}

func (w *PassphraseWrapper) KeyId(_ context.Context) (string, error) {
	return w.currentKeyId.Load().(string), nil
}

// Encrypt envelope-encrypts plaintext. The AAD option binds the blob to a
// context such as the storage path.
func (w *PassphraseWrapper) Encrypt(_ context.Context, plaintext []byte, opt ...wrapping.Option) (*wrapping.BlobInfo, error) {
	if plaintext == nil {
		return nil, errors.New("sealing: given plaintext for encryption is nil")
	}
	opts, err := getOpts(opt...)
	if err != nil {
		return nil, err
	}

	env, err := wrapping.EnvelopeEncrypt(plaintext, opt...)
	if err != nil {
		return nil, fmt.Errorf("sealing: error wrapping data: %w", err)
	}
	defer zero(env.Key)

	salt := make([]byte, saltSize)
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(w.random, salt); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(w.random, nonce); err != nil {
		return nil, err
	}

	aead, err := w.aead(salt)
	if err != nil {
		return nil, err
	}
	sealed := aead.Seal(nil, nonce, env.Key, opts.GetWithAad())

	wrapped := make([]byte, 0, len(salt)+len(nonce)+len(sealed))
	wrapped = append(wrapped, salt...)
	wrapped = append(wrapped, nonce...)
	wrapped = append(wrapped, sealed...)

	keyID, _ := w.KeyId(context.Background())
	return &wrapping.BlobInfo{
		Ciphertext: env.Ciphertext,
		Iv:         env.Iv,
		KeyInfo: &wrapping.KeyInfo{
			KeyId:      keyID,
			WrappedKey: wrapped,
		},
	}, nil
}

// Decrypt reverses Encrypt. The same AAD must be supplied.
func (w *PassphraseWrapper) Decrypt(_ context.Context, in *wrapping.BlobInfo, opt ...wrapping.Option) ([]byte, error) {
	if in == nil || in.Ciphertext == nil || in.KeyInfo == nil {
		return nil, ErrInvalidBlob
	}
	opts, err := getOpts(opt...)
	if err != nil {
		return nil, err
	}
	wrapped := in.KeyInfo.WrappedKey
	if len(wrapped) < saltSize+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, ErrInvalidBlob
	}
	salt := wrapped[:saltSize]
	nonce := wrapped[saltSize : saltSize+chacha20poly1305.NonceSizeX]
	sealed := wrapped[saltSize+chacha20poly1305.NonceSizeX:]

	aead, err := w.aead(salt)
	if err != nil {
		return nil, err
	}
	dek, err := aead.Open(nil, nonce, sealed, opts.GetWithAad())
	if err != nil {
		return nil, ErrAuthFailed
	}
	defer zero(dek)

	plaintext, err := wrapping.EnvelopeDecrypt(&wrapping.EnvelopeInfo{
		Key:        dek,
		Iv:         in.Iv,
		Ciphertext: in.Ciphertext,
	}, opt...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	return plaintext, nil
}

func (w *PassphraseWrapper) aead(salt []byte) (cipher.AEAD, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if len(w.passphrase) == 0 {
		return nil, ErrNotConfigured
	}
	params := *w.params
	params.Salt = salt
	kek, err := w.kdf.DeriveKey(w.passphrase, &params)
	if err != nil {
		return nil, fmt.Errorf("sealing: failed to derive key: %w", err)
	}
	defer zero(kek)
	return chacha20poly1305.NewX(kek)
}

// Seal encrypts plaintext with any Wrapper and serializes the BlobInfo as
// protobuf JSON.
func Seal(ctx context.Context, w wrapping.Wrapper, plaintext, aad []byte) ([]byte, error) {
	blob, err := w.Encrypt(ctx, plaintext, wrapping.WithAad(aad))
	if err != nil {
		return nil, err
	}
	return protojson.Marshal(blob)
}

// Open parses a blob produced by Seal and decrypts it.
func Open(ctx context.Context, w wrapping.Wrapper, sealed, aad []byte) ([]byte, error) {
	blob := new(wrapping.BlobInfo)
	if err := protojson.Unmarshal(sealed, blob); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBlob, err)
	}
	return w.Decrypt(ctx, blob, wrapping.WithAad(aad))
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
