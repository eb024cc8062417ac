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

package mocks

import (
	"sync"

	"github.com/jeremyhahn/go-pqckeys/pkg/storage"
	"github.com/jeremyhahn/go-pqckeys/pkg/storage/memory"
)

// MockStorage is a storage.Backend backed by memory storage with
// configurable failures, used to exercise I/O error paths.
type MockStorage struct {
	mu    sync.Mutex
	inner *memory.Storage

	// Configurable behavior. A non-nil func replaces the default.
	GetFunc    func(key string) ([]byte, error)
	PutFunc    func(key string, value []byte, opts *storage.Options) error
	DeleteFunc func(key string) error
	ListFunc   func(prefix string) ([]string, error)

	// Call tracking
	GetCalls    []string
	PutCalls    []string
	DeleteCalls []string
	ListCalls   []string
	CloseCalls  int
}

// NewMockStorage creates a MockStorage with working defaults.
func NewMockStorage() *MockStorage {
	return &MockStorage{inner: memory.New()}
}

// Inner returns the wrapped memory storage for direct inspection.
func (m *MockStorage) Inner() *memory.Storage {
	return m.inner
}

func (m *MockStorage) Get(key string) ([]byte, error) {
	m.mu.Lock()
	m.GetCalls = append(m.GetCalls, key)
	fn := m.GetFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(key)
	}
	return m.inner.Get(key)
}

func (m *MockStorage) Put(key string, value []byte, opts *storage.Options) error {
	m.mu.Lock()
	m.PutCalls = append(m.PutCalls, key)
	fn := m.PutFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(key, value, opts)
	}
	return m.inner.Put(key, value, opts)
}

func (m *MockStorage) Delete(key string) error {
	m.mu.Lock()
	m.DeleteCalls = append(m.DeleteCalls, key)
	fn := m.DeleteFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(key)
	}
	return m.inner.Delete(key)
}

func (m *MockStorage) List(prefix string) ([]string, error) {
	m.mu.Lock()
	m.ListCalls = append(m.ListCalls, prefix)
	fn := m.ListFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(prefix)
	}
	return m.inner.List(prefix)
}

func (m *MockStorage) Exists(key string) (bool, error) {
	return m.inner.Exists(key)
}

func (m *MockStorage) Close() error {
	m.mu.Lock()
	m.CloseCalls++
	m.mu.Unlock()
	return m.inner.Close()
}

// PutCount returns the number of Put calls so far.
func (m *MockStorage) PutCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.PutCalls)
}

var _ storage.Backend = (*MockStorage)(nil)
