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
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-pqckeys/pkg/adapters/logger"
	"github.com/jeremyhahn/go-pqckeys/pkg/keycodec"
	"github.com/jeremyhahn/go-pqckeys/pkg/keystore"
	"github.com/jeremyhahn/go-pqckeys/pkg/metrics"
	"github.com/jeremyhahn/go-pqckeys/pkg/types"
)

// Config configures an Exporter.
type Config struct {
	// Registry supplies the stores bundles are read from and applied to.
	Registry *keystore.Registry

	// Codec encrypts and decrypts bundles. Defaults to keycodec.Default().
	Codec *keycodec.Codec

	Logger logger.Logger
}

// Exporter moves keys between key stores and .pqk documents.
type Exporter struct {
	registry *keystore.Registry
	codec    *keycodec.Codec
	logger   logger.Logger
}

var classify = metrics.ClassifyBy(
	metrics.ErrorLabel{Err: keycodec.ErrDecryption, Label: "decryption"},
	metrics.ErrorLabel{Err: keycodec.ErrWeakInput, Label: "weak_input"},
	metrics.ErrorLabel{Err: ErrPasswordRequired, Label: "password_required"},
	metrics.ErrorLabel{Err: ErrMalformedPayload, Label: "malformed_payload"},
	metrics.ErrorLabel{Err: ErrNoPublicKey, Label: "no_public_key"},
	metrics.ErrorLabel{Err: keystore.ErrKeyLengthMismatch, Label: "key_length_mismatch"},
	metrics.ErrorLabel{Err: keystore.ErrUnsupportedAlgorithm, Label: "unsupported_algorithm"},
)

// New creates an Exporter.
func New(cfg *Config) (*Exporter, error) {
	if cfg == nil || cfg.Registry == nil {
		return nil, fmt.Errorf("%w: registry is required", keystore.ErrInvalidConfig)
	}
	e := &Exporter{registry: cfg.Registry, codec: cfg.Codec, logger: cfg.Logger}
	if e.codec == nil {
		e.codec = keycodec.Default()
	}
	if e.logger == nil {
		e.logger = logger.NewNop()
	}
	return e, nil
}

// Export writes the account's key of kind as a .pqk document. With a
// password the document is encrypted; includeSecret requires one.
func (e *Exporter) Export(ctx context.Context, account string, kind types.KeyKind, includeSecret bool, password []byte) (out []byte, err error) {
	done := metrics.Track(metrics.OpBundle, kind.String(), classify)
	defer func() { done(err) }()

	if includeSecret && len(password) == 0 {
		return nil, ErrPasswordRequired
	}
	store, err := e.registry.Get(kind)
	if err != nil {
		return nil, err
	}
	pub, err := store.ExportPublicKey(account)
	if err != nil {
		return nil, err
	}
	if pub == nil {
		return nil, fmt.Errorf("%w: %s has no %s key pair", ErrNoPublicKey, types.NormalizeIdentifier(account), kind)
	}
	alg, err := store.Algorithm(account)
	if err != nil {
		return nil, err
	}

	b := &Bundle{
		Email:     types.NormalizeIdentifier(account),
		Kind:      kind,
		Algorithm: alg,
		PublicKey: pub,
	}
	if includeSecret {
		rec, err := store.LoadKeyPair(ctx, account)
		if err != nil {
			return nil, err
		}
		b.PrivateKey = rec.SecretKey
		defer rec.Zero()
	}

	doc, err := Marshal(b)
	if err != nil {
		return nil, err
	}
	if len(password) == 0 {
		return doc, nil
	}
	defer zero(doc)
	out, err = e.codec.Encrypt(doc, password)
	if err != nil {
		return nil, err
	}

	logger.WithContext(ctx, e.logger).Info("key bundle exported",
		logger.String("account", b.Email),
		logger.Kind(kind),
		logger.Algorithm(alg),
		logger.Bool("secret", includeSecret))
	return out, nil
}

// Import decodes a .pqk document. Plaintext JSON is parsed directly; any
// other input is treated as an encrypted blob and needs the password. A
// blob that decrypts to something other than a bundle is reported as
// keycodec.ErrDecryption, since a wrong password can pass padding checks.
func (e *Exporter) Import(data, password []byte) (b *Bundle, err error) {
	done := metrics.Track(metrics.OpBundle, "unknown", classify)
	defer func() { done(err) }()

	if isPlaintext(data) {
		return Parse(data)
	}
	if len(password) == 0 {
		return nil, ErrPasswordRequired
	}
	doc, err := e.codec.Decrypt(data, password)
	if err != nil {
		return nil, err
	}
	defer zero(doc)
	if !isPlaintext(doc) {
		return nil, keycodec.ErrDecryption
	}
	b, err = Parse(doc)
	if err != nil {
		return nil, err
	}
	b.Encrypted = true
	return b, nil
}

// Apply stores b. A bundle with a private key becomes the account's own key
// pair; otherwise the public key is stored as the bundle owner's contact
// key.
func (e *Exporter) Apply(ctx context.Context, account string, b *Bundle) error {
	if b == nil || len(b.PublicKey) == 0 {
		return fmt.Errorf("%w: empty bundle", ErrMalformedPayload)
	}
	store, err := e.registry.Get(b.Kind)
	if err != nil {
		return err
	}
	algorithm := b.Algorithm
	if algorithm == "" {
		algorithm = types.DefaultAlgorithm(b.Kind)
	}
	log := logger.WithContext(ctx, e.logger).With(logger.Kind(b.Kind), logger.Algorithm(algorithm))

	if b.HasPrivateKey() {
		err := store.ImportOwnKeyPair(ctx, account, &types.KeyPairRecord{
			Algorithm: algorithm,
			PublicKey: b.PublicKey,
			SecretKey: b.PrivateKey,
		})
		if err != nil {
			return err
		}
		log.Info("own key pair imported from bundle", logger.String("account", types.NormalizeIdentifier(account)))
		return nil
	}

	if b.Email == "" {
		return fmt.Errorf("%w: bundle has no owner", ErrMalformedPayload)
	}
	if err := store.ImportRemotePublicKey(account, b.Email, algorithm, b.PublicKey); err != nil {
		if errors.Is(err, keystore.ErrNoContactStore) {
			return fmt.Errorf("bundle: cannot store contact key: %w", err)
		}
		return err
	}
	log.Info("contact key imported from bundle", logger.String("contact", b.Email))
	return nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
