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

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
)

// PutJSON marshals v and stores it under key.
// Returns ErrInvalidID if the key is empty.
func PutJSON(backend Backend, key string, v any, opts *Options) error {
	if key == "" {
		return ErrInvalidID
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return backend.Put(key, data, opts)
}

// GetJSON loads key and unmarshals it into v.
// Returns ErrNotFound if the key does not exist and ErrInvalidData if the
// stored bytes are not valid JSON for v.
func GetJSON(backend Backend, key string, v any) error {
	if key == "" {
		return ErrInvalidID
	}
	data, err := backend.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidData, key, err)
	}
	return nil
}

// DeleteIfExists removes key, treating a missing key as success.
func DeleteIfExists(backend Backend, key string) error {
	if key == "" {
		return ErrInvalidID
	}
	if err := backend.Delete(key); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// GetString returns the value under key as a string. A missing key yields
// "" and no error.
func GetString(backend Backend, key string) (string, error) {
	data, err := backend.Get(key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}
