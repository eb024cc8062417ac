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

// Package keystore manages an account's own key pair for one key kind.
//
// A KeyStore pairs an algorithm backend with a storage backend. Records are
// persisted as JSON under keys/{kind}/{account}.json and the selected
// algorithm under selection/{kind}/{account}. When a sealer is configured the
// secret key is envelope encrypted before it reaches storage, bound to its
// storage path.
//
// Work on one account is serialized; distinct accounts proceed in parallel.
package keystore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	wrapping "github.com/hashicorp/go-kms-wrapping/v2"

	"github.com/jeremyhahn/go-pqckeys/pkg/adapters/logger"
	"github.com/jeremyhahn/go-pqckeys/pkg/backend"
	"github.com/jeremyhahn/go-pqckeys/pkg/metrics"
	"github.com/jeremyhahn/go-pqckeys/pkg/sealing"
	"github.com/jeremyhahn/go-pqckeys/pkg/storage"
	"github.com/jeremyhahn/go-pqckeys/pkg/types"
)

// ErrSealed is returned when a record holds a sealed secret key but the
// store has no sealer to open it.
var ErrSealed = errors.New("keystore: secret key is sealed and no sealer is configured")

// ContactStore receives remote public keys. *contacts.Cache implements it.
type ContactStore interface {
	SaveContact(identifier string, kind types.KeyKind, algorithm string, publicKey []byte) error
	DeleteContact(identifier string, kind types.KeyKind) error
}

// Config configures a KeyStore.
type Config struct {
	// Backend supplies the algorithms. Its Kind determines the store's kind.
	Backend backend.Backend

	// Storage persists key pair records and selections.
	Storage storage.Backend

	// Contacts receives imported remote keys. Optional.
	Contacts ContactStore

	// Sealer encrypts secret keys at rest. Optional.
	Sealer wrapping.Wrapper

	// Logger defaults to a no-op logger.
	Logger logger.Logger
}

// KeyStore owns the key pairs of one kind for every account.
type KeyStore struct {
	kind     types.KeyKind
	backend  backend.Backend
	storage  storage.Backend
	contacts ContactStore
	sealer   wrapping.Wrapper
	logger   logger.Logger
	locks    *keyedMutex
}

// storedRecord is the persisted form of a KeyPairRecord. Exactly one of
// SecretKey and SealedSecret is set.
type storedRecord struct {
	Algorithm    string          `json:"algorithm"`
	PublicKey    []byte          `json:"public_key"`
	SecretKey    []byte          `json:"secret_key,omitempty"`
	SealedSecret json.RawMessage `json:"sealed_secret,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (r *storedRecord) exists() bool {
	return r != nil && len(r.PublicKey) > 0 && (len(r.SecretKey) > 0 || len(r.SealedSecret) > 0)
}

var classify = metrics.ClassifyBy(
	metrics.ErrorLabel{Err: ErrUnsupportedAlgorithm, Label: "unsupported_algorithm"},
	metrics.ErrorLabel{Err: ErrKeyLengthMismatch, Label: "key_length_mismatch"},
	metrics.ErrorLabel{Err: ErrAlgorithmMismatch, Label: "algorithm_mismatch"},
	metrics.ErrorLabel{Err: ErrAlgorithmSwitchRequiresReset, Label: "switch_requires_reset"},
	metrics.ErrorLabel{Err: ErrKeyPairMismatch, Label: "key_pair_mismatch"},
	metrics.ErrorLabel{Err: ErrStorageIO, Label: "storage_io"},
	metrics.ErrorLabel{Err: context.Canceled, Label: "canceled"},
	metrics.ErrorLabel{Err: context.DeadlineExceeded, Label: "deadline_exceeded"},
)

// New creates a KeyStore for the backend's kind.
func New(cfg *Config) (*KeyStore, error) {
	if cfg == nil || cfg.Backend == nil {
		return nil, fmt.Errorf("%w: backend is required", ErrInvalidConfig)
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("%w: storage is required", ErrInvalidConfig)
	}
	kind := cfg.Backend.Kind()
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, types.ErrUnknownKeyKind)
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &KeyStore{
		kind:     kind,
		backend:  cfg.Backend,
		storage:  cfg.Storage,
		contacts: cfg.Contacts,
		sealer:   cfg.Sealer,
		logger:   log.With(logger.Kind(kind), logger.String("backend", cfg.Backend.Name())),
		locks:    newKeyedMutex(),
	}, nil
}

// Kind returns the key kind this store manages.
func (ks *KeyStore) Kind() types.KeyKind { return ks.kind }

// Backend returns the algorithm backend.
func (ks *KeyStore) Backend() backend.Backend { return ks.backend }

// HasOwnKeyPair reports whether the account has a complete key pair.
func (ks *KeyStore) HasOwnKeyPair(id string) (bool, error) {
	acct, err := normalizeAccount(id)
	if err != nil {
		return false, err
	}
	rec, err := ks.load(acct)
	if err != nil {
		return false, err
	}
	return rec.exists(), nil
}

// GenerateKeyPair creates and persists a new key pair, replacing any
// existing one. An empty algorithm selects the account's selected algorithm,
// falling back to the kind's default.
func (ks *KeyStore) GenerateKeyPair(ctx context.Context, id, algorithm string) (err error) {
	done := metrics.Track(metrics.OpGenerate, ks.kind.String(), classify)
	defer func() { done(err) }()

	acct, err := normalizeAccount(id)
	if err != nil {
		return err
	}
	unlock := ks.locks.Lock(acct)
	defer unlock()

	if algorithm == "" {
		if algorithm, err = ks.selected(acct); err != nil {
			return err
		}
		if algorithm == "" {
			algorithm = types.DefaultAlgorithm(ks.kind)
		}
	}
	if !ks.backend.IsAlgorithmEnabled(algorithm) {
		return fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	rec, err := ks.backend.GenerateKeyPair(ctx, algorithm, acct)
	if err != nil {
		return fmt.Errorf("keystore: generate %s: %w", algorithm, err)
	}
	defer rec.Zero()

	if !rec.Exists() {
		return fmt.Errorf("keystore: backend %s returned an incomplete key pair", ks.backend.Name())
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := backend.CheckLength(ks.backend, algorithm, rec.PublicKey); err != nil {
		return err
	}
	if err := ks.commit(ctx, acct, rec); err != nil {
		return err
	}

	ks.logger.Info("key pair generated",
		logger.String("account", acct),
		logger.Algorithm(algorithm),
		logger.Int("public_key_size", len(rec.PublicKey)))
	ks.updateGauge()
	return nil
}

// ImportOwnKeyPair replaces the account's key pair with rec. The public key
// must match the backend's expected size and, where the backend can derive
// it, the secret key.
func (ks *KeyStore) ImportOwnKeyPair(ctx context.Context, id string, rec *types.KeyPairRecord) (err error) {
	done := metrics.Track(metrics.OpImport, ks.kind.String(), classify)
	defer func() { done(err) }()

	acct, err := normalizeAccount(id)
	if err != nil {
		return err
	}
	if !rec.Exists() {
		return fmt.Errorf("%w: incomplete key pair", types.ErrMalformedPayload)
	}
	if !ks.backend.IsAlgorithmEnabled(rec.Algorithm) {
		return fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, rec.Algorithm)
	}

	unlock := ks.locks.Lock(acct)
	defer unlock()

	if err := ks.backend.ValidatePublicKey(rec.Algorithm, rec.PublicKey); err != nil {
		return err
	}
	derived, err := ks.backend.ExportPublicKey(rec.Algorithm, rec.SecretKey)
	switch {
	case errors.Is(err, backend.ErrNotSupported):
	case err != nil:
		return fmt.Errorf("%w: %v", ErrKeyPairMismatch, err)
	case !bytes.Equal(derived, rec.PublicKey):
		return ErrKeyPairMismatch
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ks.commit(ctx, acct, rec); err != nil {
		return err
	}

	ks.logger.Info("key pair imported", logger.String("account", acct), logger.Algorithm(rec.Algorithm))
	ks.updateGauge()
	return nil
}

// LoadKeyPair returns a copy of the account's key pair including the secret
// key. The caller should Zero it when done.
func (ks *KeyStore) LoadKeyPair(ctx context.Context, id string) (*types.KeyPairRecord, error) {
	acct, err := normalizeAccount(id)
	if err != nil {
		return nil, err
	}
	stored, err := ks.load(acct)
	if err != nil {
		return nil, err
	}
	if !stored.exists() {
		return nil, fmt.Errorf("%w: %s", ErrNoKeyPair, acct)
	}

	secret := stored.SecretKey
	if len(stored.SealedSecret) > 0 {
		if ks.sealer == nil {
			return nil, ErrSealed
		}
		path := storage.KeyPairPath(ks.kind.String(), acct)
		secret, err = sealing.Open(ctx, ks.sealer, stored.SealedSecret, []byte(path))
		if err != nil {
			return nil, fmt.Errorf("keystore: unseal %s: %w", acct, err)
		}
	}
	return &types.KeyPairRecord{
		Algorithm: stored.Algorithm,
		PublicKey: append([]byte(nil), stored.PublicKey...),
		SecretKey: append([]byte(nil), secret...),
	}, nil
}

// ExportPublicKey returns the account's public key, or nil when it has no
// key pair.
func (ks *KeyStore) ExportPublicKey(id string) (pub []byte, err error) {
	done := metrics.Track(metrics.OpExport, ks.kind.String(), classify)
	defer func() { done(err) }()

	acct, err := normalizeAccount(id)
	if err != nil {
		return nil, err
	}
	stored, err := ks.load(acct)
	if err != nil {
		return nil, err
	}
	if !stored.exists() {
		return nil, nil
	}

	sel, err := ks.selected(acct)
	if err != nil {
		return nil, err
	}
	if sel != "" && sel != stored.Algorithm {
		return nil, fmt.Errorf("%w: stored %s, selected %s", ErrAlgorithmMismatch, stored.Algorithm, sel)
	}
	if err := backend.CheckLength(ks.backend, stored.Algorithm, stored.PublicKey); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAlgorithmMismatch, err)
	}
	return append([]byte(nil), stored.PublicKey...), nil
}

// Algorithm returns the algorithm of the account's stored pair, or "".
func (ks *KeyStore) Algorithm(id string) (string, error) {
	acct, err := normalizeAccount(id)
	if err != nil {
		return "", err
	}
	stored, err := ks.load(acct)
	if err != nil || !stored.exists() {
		return "", err
	}
	return stored.Algorithm, nil
}

// ClearAllKeys removes the account's key pair and selection. It succeeds when
// nothing is stored. With deleteRemoteToo the contact cache entry for the
// account's own identity under this kind is removed as well.
func (ks *KeyStore) ClearAllKeys(id string, deleteRemoteToo bool) (err error) {
	done := metrics.Track(metrics.OpClear, ks.kind.String(), classify)
	defer func() { done(err) }()

	acct, err := normalizeAccount(id)
	if err != nil {
		return err
	}
	unlock := ks.locks.Lock(acct)
	defer unlock()

	if err := storage.DeleteIfExists(ks.storage, storage.KeyPairPath(ks.kind.String(), acct)); err != nil {
		return fmt.Errorf("keystore: delete key pair: %w", err)
	}
	if err := storage.DeleteIfExists(ks.storage, storage.SelectionPath(ks.kind.String(), acct)); err != nil {
		return fmt.Errorf("keystore: delete selection: %w", err)
	}
	if deleteRemoteToo && ks.contacts != nil {
		if err := ks.contacts.DeleteContact(acct, ks.kind); err != nil {
			return fmt.Errorf("keystore: delete contact entry: %w", err)
		}
	}

	ks.logger.Info("key pair cleared", logger.String("account", acct), logger.Bool("remote", deleteRemoteToo))
	ks.updateGauge()
	return nil
}

// ImportRemotePublicKey validates a contact's public key against the backend
// and stores it in the contact cache. Nothing is written on failure.
func (ks *KeyStore) ImportRemotePublicKey(id, contactIdentifier, algorithm string, publicKey []byte) (err error) {
	done := metrics.Track(metrics.OpImport, ks.kind.String(), classify)
	defer func() { done(err) }()

	if ks.contacts == nil {
		return ErrNoContactStore
	}
	if _, err := normalizeAccount(id); err != nil {
		return err
	}
	if algorithm == "" {
		return fmt.Errorf("%w: empty algorithm", ErrUnsupportedAlgorithm)
	}
	if err := ks.backend.ValidatePublicKey(algorithm, publicKey); err != nil {
		return err
	}
	if err := ks.contacts.SaveContact(contactIdentifier, ks.kind, algorithm, publicKey); err != nil {
		return err
	}
	ks.logger.Debug("remote public key imported",
		logger.String("contact", types.NormalizeIdentifier(contactIdentifier)),
		logger.Algorithm(algorithm))
	return nil
}

// ListAccounts returns the accounts with a stored record, sorted.
func (ks *KeyStore) ListAccounts() ([]string, error) {
	return storage.ListKeyPairAccounts(ks.storage, ks.kind.String())
}

// Close releases the backend.
func (ks *KeyStore) Close() error {
	return ks.backend.Close()
}

// commit persists rec as the account's pair and selection. If the selection
// cannot be written the previous record is restored.
func (ks *KeyStore) commit(ctx context.Context, acct string, rec *types.KeyPairRecord) error {
	path := storage.KeyPairPath(ks.kind.String(), acct)
	stored := &storedRecord{
		Algorithm: rec.Algorithm,
		PublicKey: rec.PublicKey,
		UpdatedAt: time.Now().UTC(),
	}
	if ks.sealer != nil {
		sealed, err := sealing.Seal(ctx, ks.sealer, rec.SecretKey, []byte(path))
		if err != nil {
			return fmt.Errorf("keystore: seal secret key: %w", err)
		}
		stored.SealedSecret = sealed
	} else {
		stored.SecretKey = rec.SecretKey
	}

	previous, err := ks.storage.Get(path)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("keystore: read key pair: %w", err)
	}

	if err := storage.PutJSON(ks.storage, path, stored, storage.DefaultOptions()); err != nil {
		return fmt.Errorf("keystore: write key pair: %w", err)
	}
	selPath := storage.SelectionPath(ks.kind.String(), acct)
	if err := ks.storage.Put(selPath, []byte(rec.Algorithm), storage.DefaultOptions()); err != nil {
		var rollback error
		if previous != nil {
			rollback = ks.storage.Put(path, previous, storage.DefaultOptions())
		} else {
			rollback = storage.DeleteIfExists(ks.storage, path)
		}
		if rollback != nil {
			ks.logger.Error("key pair rollback failed", logger.String("account", acct), logger.Error(rollback))
		}
		return fmt.Errorf("keystore: write selection: %w", err)
	}
	return nil
}

func (ks *KeyStore) load(acct string) (*storedRecord, error) {
	var rec storedRecord
	err := storage.GetJSON(ks.storage, storage.KeyPairPath(ks.kind.String(), acct), &rec)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("keystore: read key pair: %w", err)
	}
	return &rec, nil
}

func (ks *KeyStore) updateGauge() {
	accounts, err := ks.ListAccounts()
	if err != nil {
		ks.logger.Warn("failed to count key pairs", logger.Error(err))
		return
	}
	metrics.SetKeysTotal(ks.kind.String(), float64(len(accounts)))
}

func normalizeAccount(id string) (string, error) {
	acct := types.NormalizeIdentifier(id)
	if acct == "" {
		return "", fmt.Errorf("%w: empty account", types.ErrInvalidIdentifier)
	}
	return acct, nil
}
