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

// Package contacts caches other parties' public keys, keyed by lower-cased
// identifier and key kind, with an optional KEM shared secret per contact.
//
// Writes are validated against the kind's algorithm backend, so a cached
// public key always has the size its algorithm expects. The cache lives in
// memory and is persisted as one JSON document per scope.
package contacts

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	wrapping "github.com/hashicorp/go-kms-wrapping/v2"
	"github.com/mr-tron/base58"

	"github.com/jeremyhahn/go-pqckeys/pkg/adapters/logger"
	"github.com/jeremyhahn/go-pqckeys/pkg/backend"
	"github.com/jeremyhahn/go-pqckeys/pkg/metrics"
	"github.com/jeremyhahn/go-pqckeys/pkg/storage"
	"github.com/jeremyhahn/go-pqckeys/pkg/types"
)

// DefaultScope names the contacts file when none is configured.
const DefaultScope = "default"

var (
	// ErrUnknownContact is returned when no entry exists for an identifier.
	ErrUnknownContact = errors.New("contacts: unknown contact")

	// ErrEmptySecret is returned by SaveSharedSecret for an empty secret.
	ErrEmptySecret = errors.New("contacts: empty shared secret")

	// ErrNoStorage is returned by Persist and Load without a storage backend.
	ErrNoStorage = errors.New("contacts: no storage configured")
)

// Config configures a Cache.
type Config struct {
	// Backends validates public keys per kind. Required.
	Backends backend.Set

	// Storage persists the cache. Optional; Persist and Load need it.
	Storage storage.Backend

	// Scope selects the file, contacts/<scope>.json.
	Scope string

	// AutoPersist writes the cache after every successful mutation.
	AutoPersist bool

	// Sealer encrypts the persisted document. Optional.
	Sealer wrapping.Wrapper

	Logger logger.Logger

	// Now overrides the clock for LastUpdated.
	Now func() time.Time
}

type entryKey struct {
	id   string
	kind types.KeyKind
}

// Cache is the contact public key cache. It is safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[entryKey]*types.ContactEntry

	// persistMu orders snapshot-and-write so the newest snapshot lands last.
	persistMu sync.Mutex

	backends    backend.Set
	storage     storage.Backend
	path        string
	autoPersist bool
	sealer      wrapping.Wrapper
	logger      logger.Logger
	now         func() time.Time
}

// New creates an empty cache. Call Load to read persisted entries.
func New(cfg *Config) (*Cache, error) {
	if cfg == nil || len(cfg.Backends) == 0 {
		return nil, errors.New("contacts: backends are required")
	}
	if cfg.AutoPersist && cfg.Storage == nil {
		return nil, fmt.Errorf("%w: auto-persist needs storage", ErrNoStorage)
	}
	scope := cfg.Scope
	if scope == "" {
		scope = DefaultScope
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Cache{
		entries:     make(map[entryKey]*types.ContactEntry),
		backends:    cfg.Backends,
		storage:     cfg.Storage,
		path:        storage.ContactsPath(scope),
		autoPersist: cfg.AutoPersist,
		sealer:      cfg.Sealer,
		logger:      log.With(logger.String("component", "contacts"), logger.String("scope", scope)),
		now:         now,
	}, nil
}

// SaveContact validates publicKey against the kind's backend and upserts it.
// A changed public key discards any shared secret derived from the old one.
func (c *Cache) SaveContact(identifier string, kind types.KeyKind, algorithm string, publicKey []byte) error {
	id, err := normalize(identifier)
	if err != nil {
		return err
	}
	b, err := c.backends.For(kind)
	if err != nil {
		return err
	}
	if algorithm == "" {
		return fmt.Errorf("%w: empty algorithm", backend.ErrUnsupportedAlgorithm)
	}
	if err := b.ValidatePublicKey(algorithm, publicKey); err != nil {
		return err
	}

	entry := &types.ContactEntry{
		Identifier:  id,
		Kind:        kind,
		Algorithm:   algorithm,
		PublicKey:   append([]byte(nil), publicKey...),
		LastUpdated: c.now().UTC(),
	}

	c.mu.Lock()
	k := entryKey{id, kind}
	if prev, ok := c.entries[k]; ok && prev.Algorithm == algorithm && bytes.Equal(prev.PublicKey, publicKey) {
		entry.SharedSecret = prev.SharedSecret
	} else if ok {
		zero(prev.SharedSecret)
	}
	c.entries[k] = entry
	c.mu.Unlock()

	c.logger.Debug("contact saved",
		logger.String("contact", id),
		logger.Kind(kind),
		logger.Algorithm(algorithm),
		logger.String("fingerprint", Fingerprint(publicKey)))
	return c.mutated()
}

// SaveSharedSecret attaches a KEM shared secret to the contact's KEM entry.
func (c *Cache) SaveSharedSecret(identifier string, secret []byte) error {
	id, err := normalize(identifier)
	if err != nil {
		return err
	}
	if len(secret) == 0 {
		return ErrEmptySecret
	}

	c.mu.Lock()
	e, ok := c.entries[entryKey{id, types.KeyKindPqcKem}]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: no KEM key for %s", ErrUnknownContact, id)
	}
	zero(e.SharedSecret)
	e.SharedSecret = append([]byte(nil), secret...)
	e.LastUpdated = c.now().UTC()
	c.mu.Unlock()

	return c.mutated()
}

// Get returns a copy of the entry for identifier and kind.
func (c *Cache) Get(identifier string, kind types.KeyKind) (*types.ContactEntry, error) {
	id, err := normalize(identifier)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[entryKey{id, kind}]
	if !ok {
		return nil, fmt.Errorf("%w: %s (%s)", ErrUnknownContact, id, kind)
	}
	return e.Clone(), nil
}

// GetPublicKey returns the contact's public key of kind.
func (c *Cache) GetPublicKey(identifier string, kind types.KeyKind) ([]byte, error) {
	e, err := c.Get(identifier, kind)
	if err != nil {
		return nil, err
	}
	return e.PublicKey, nil
}

// GetAlgorithm returns the algorithm of the contact's key of kind.
func (c *Cache) GetAlgorithm(identifier string, kind types.KeyKind) (string, error) {
	e, err := c.Get(identifier, kind)
	if err != nil {
		return "", err
	}
	return e.Algorithm, nil
}

// GetSharedSecret returns the shared secret stored with the contact's KEM
// entry, or nil when no exchange has happened.
func (c *Cache) GetSharedSecret(identifier string) ([]byte, error) {
	e, err := c.Get(identifier, types.KeyKindPqcKem)
	if err != nil {
		return nil, err
	}
	return e.SharedSecret, nil
}

// DeleteContact removes one entry. Deleting a missing entry succeeds.
func (c *Cache) DeleteContact(identifier string, kind types.KeyKind) error {
	id, err := normalize(identifier)
	if err != nil {
		return err
	}
	c.mu.Lock()
	e, ok := c.entries[entryKey{id, kind}]
	if ok {
		zero(e.SharedSecret)
		delete(c.entries, entryKey{id, kind})
	}
	c.mu.Unlock()

	if !ok {
		return nil
	}
	return c.mutated()
}

// DeleteIdentity removes every entry of identifier and returns how many
// were removed.
func (c *Cache) DeleteIdentity(identifier string) (int, error) {
	id, err := normalize(identifier)
	if err != nil {
		return 0, err
	}
	removed := 0
	c.mu.Lock()
	for _, kind := range types.AllKeyKinds {
		if e, ok := c.entries[entryKey{id, kind}]; ok {
			zero(e.SharedSecret)
			delete(c.entries, entryKey{id, kind})
			removed++
		}
	}
	c.mu.Unlock()

	if removed == 0 {
		return 0, nil
	}
	return removed, c.mutated()
}

// GetAllContacts returns copies of every entry ordered by identifier, then
// kind.
func (c *Cache) GetAllContacts() []*types.ContactEntry {
	c.mu.RLock()
	out := make([]*types.ContactEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.Clone())
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Identifier != out[j].Identifier {
			return out[i].Identifier < out[j].Identifier
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear removes every entry.
func (c *Cache) Clear() error {
	c.mu.Lock()
	for _, e := range c.entries {
		zero(e.SharedSecret)
	}
	c.entries = make(map[entryKey]*types.ContactEntry)
	c.mu.Unlock()
	return c.mutated()
}

// Fingerprint returns the base58 SHA-256 digest of a public key for display
// and comparison out of band.
func Fingerprint(publicKey []byte) string {
	sum := sha256.Sum256(publicKey)
	return base58.Encode(sum[:])
}

func (c *Cache) mutated() error {
	c.updateGauges()
	if !c.autoPersist {
		return nil
	}
	return c.Persist()
}

func (c *Cache) updateGauges() {
	counts := make(map[types.KeyKind]int, len(types.AllKeyKinds))
	c.mu.RLock()
	for k := range c.entries {
		counts[k.kind]++
	}
	c.mu.RUnlock()
	for _, kind := range types.AllKeyKinds {
		metrics.SetContactsTotal(kind.String(), float64(counts[kind]))
	}
}

func normalize(identifier string) (string, error) {
	id := types.NormalizeIdentifier(identifier)
	if id == "" {
		return "", fmt.Errorf("%w: empty contact identifier", types.ErrInvalidIdentifier)
	}
	return id, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
