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

package keystore

import (
	"errors"
	"fmt"
	"sort"

	wrapping "github.com/hashicorp/go-kms-wrapping/v2"

	"github.com/jeremyhahn/go-pqckeys/pkg/adapters/logger"
	"github.com/jeremyhahn/go-pqckeys/pkg/backend"
	"github.com/jeremyhahn/go-pqckeys/pkg/storage"
	"github.com/jeremyhahn/go-pqckeys/pkg/types"
)

// Registry maps each key kind to its KeyStore. It is built once at startup
// and passed to whatever needs it.
type Registry struct {
	stores map[types.KeyKind]*KeyStore
}

// NewRegistry builds a registry, rejecting two stores for the same kind.
func NewRegistry(stores ...*KeyStore) (*Registry, error) {
	r := &Registry{stores: make(map[types.KeyKind]*KeyStore, len(stores))}
	for _, ks := range stores {
		if ks == nil {
			return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
		}
		if _, dup := r.stores[ks.kind]; dup {
			return nil, fmt.Errorf("%w: duplicate store for %s", ErrInvalidConfig, ks.kind)
		}
		r.stores[ks.kind] = ks
	}
	return r, nil
}

// RegistryConfig holds what every store built by NewRegistryFromSet shares.
type RegistryConfig struct {
	Storage  storage.Backend
	Contacts ContactStore
	Sealer   wrapping.Wrapper
	Logger   logger.Logger
}

// NewRegistryFromSet creates one KeyStore per backend in set.
func NewRegistryFromSet(set backend.Set, cfg *RegistryConfig) (*Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: registry config is required", ErrInvalidConfig)
	}
	stores := make([]*KeyStore, 0, len(set))
	for _, kind := range set.Kinds() {
		ks, err := New(&Config{
			Backend:  set[kind],
			Storage:  cfg.Storage,
			Contacts: cfg.Contacts,
			Sealer:   cfg.Sealer,
			Logger:   cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
		stores = append(stores, ks)
	}
	return NewRegistry(stores...)
}

// Get returns the store for kind.
func (r *Registry) Get(kind types.KeyKind) (*KeyStore, error) {
	ks, ok := r.stores[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoStore, kind)
	}
	return ks, nil
}

// Kinds returns the registered kinds in ascending order.
func (r *Registry) Kinds() []types.KeyKind {
	kinds := make([]types.KeyKind, 0, len(r.stores))
	for k := range r.stores {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Close closes every store's backend and joins the errors.
func (r *Registry) Close() error {
	var errs []error
	for _, k := range r.Kinds() {
		if err := r.stores[k].Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}
