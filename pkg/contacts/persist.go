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

package contacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-pqckeys/pkg/adapters/logger"
	"github.com/jeremyhahn/go-pqckeys/pkg/sealing"
	"github.com/jeremyhahn/go-pqckeys/pkg/storage"
	"github.com/jeremyhahn/go-pqckeys/pkg/types"
)

// Persist writes every entry as a JSON array to contacts/<scope>.json. The
// storage backend replaces the file atomically.
func (c *Cache) Persist() error {
	if c.storage == nil {
		return ErrNoStorage
	}
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	data, err := json.Marshal(c.GetAllContacts())
	if err != nil {
		return fmt.Errorf("contacts: encode: %w", err)
	}
	if c.sealer != nil {
		sealed, err := sealing.Seal(context.Background(), c.sealer, data, []byte(c.path))
		zero(data)
		if err != nil {
			return fmt.Errorf("contacts: seal: %w", err)
		}
		data = sealed
	}
	if err := c.storage.Put(c.path, data, storage.DefaultOptions()); err != nil {
		return fmt.Errorf("contacts: persist: %w", err)
	}
	return nil
}

// Load replaces the in-memory entries with the persisted ones. A missing
// file yields an empty cache. Entries that no longer validate against their
// backend are skipped and logged.
func (c *Cache) Load() error {
	if c.storage == nil {
		return ErrNoStorage
	}
	data, err := c.storage.Get(c.path)
	if errors.Is(err, storage.ErrNotFound) {
		data = nil
	} else if err != nil {
		return fmt.Errorf("contacts: load: %w", err)
	}

	var list []*types.ContactEntry
	if len(data) > 0 {
		if c.sealer != nil {
			opened, err := sealing.Open(context.Background(), c.sealer, data, []byte(c.path))
			if err != nil {
				return fmt.Errorf("contacts: unseal: %w", err)
			}
			data = opened
		}
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("%w: %s: %v", storage.ErrInvalidData, c.path, err)
		}
	}

	entries := make(map[entryKey]*types.ContactEntry, len(list))
	for _, e := range list {
		if e == nil {
			continue
		}
		if err := c.validate(e); err != nil {
			c.logger.Warn("skipping invalid contact entry",
				logger.String("contact", e.Identifier), logger.Error(err))
			continue
		}
		e.Identifier = types.NormalizeIdentifier(e.Identifier)
		entries[entryKey{e.Identifier, e.Kind}] = e
	}

	c.mu.Lock()
	for _, e := range c.entries {
		zero(e.SharedSecret)
	}
	c.entries = entries
	c.mu.Unlock()

	c.updateGauges()
	c.logger.Debug("contacts loaded", logger.Int("entries", len(entries)))
	return nil
}

func (c *Cache) validate(e *types.ContactEntry) error {
	if _, err := normalize(e.Identifier); err != nil {
		return err
	}
	b, err := c.backends.For(e.Kind)
	if err != nil {
		return err
	}
	return b.ValidatePublicKey(e.Algorithm, e.PublicKey)
}
