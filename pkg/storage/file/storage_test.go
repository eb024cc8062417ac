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

package file

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jeremyhahn/go-pqckeys/pkg/storage"
)

func newStore(t *testing.T) *FileStorage {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return store
}

func TestNew(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("New(\"\") should fail")
	}

	dir := filepath.Join(t.TempDir(), "nested", "root")
	store, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	info, err := os.Stat(store.Root())
	if err != nil {
		t.Fatalf("root not created: %v", err)
	}
	if info.Mode().Perm() != defaultDirPerms {
		t.Errorf("root perms = %o, want %o", info.Mode().Perm(), defaultDirPerms)
	}
}

func TestPutGet(t *testing.T) {
	store := newStore(t)
	key := "keys/pqc-kem/alice%40example.com.json"
	if err := store.Put(key, []byte(`{"algorithm":"Kyber512"}`), nil); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, err := store.Get(key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !bytes.Equal(got, []byte(`{"algorithm":"Kyber512"}`)) {
		t.Errorf("Get() = %s", got)
	}

	if _, err := store.Get("keys/none.json"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get() missing error = %v, want ErrNotFound", err)
	}
}

func TestOverwriteLeavesNoTempFiles(t *testing.T) {
	store := newStore(t)
	for i := 0; i < 3; i++ {
		if err := store.Put("contacts/default.json", []byte(fmt.Sprint(i)), nil); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}
	got, _ := store.Get("contacts/default.json")
	if string(got) != "2" {
		t.Errorf("Get() = %q, want last write", got)
	}

	entries, err := os.ReadDir(filepath.Join(store.Root(), "contacts"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("found %d files in contacts/, want 1", len(entries))
	}
}

func TestFilePermissions(t *testing.T) {
	store := newStore(t)
	_ = store.Put("keys/classical/bob.json", []byte("secret"), nil)
	_ = store.Put("public/bob.asc", []byte("public"), storage.PublicOptions())

	tests := []struct {
		key  string
		want os.FileMode
	}{
		{"keys/classical/bob.json", 0600},
		{"public/bob.asc", 0644},
	}
	for _, tt := range tests {
		info, err := os.Stat(filepath.Join(store.Root(), tt.key))
		if err != nil {
			t.Fatalf("Stat(%s) error = %v", tt.key, err)
		}
		if info.Mode().Perm() != tt.want {
			t.Errorf("%s perms = %o, want %o", tt.key, info.Mode().Perm(), tt.want)
		}
	}
}

func TestDelete(t *testing.T) {
	store := newStore(t)
	_ = store.Put("outbox/1.json", []byte("x"), nil)
	if err := store.Delete("outbox/1.json"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete("outbox/1.json"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Delete() missing error = %v", err)
	}
}

func TestListSorted(t *testing.T) {
	store := newStore(t)
	for _, k := range []string{"outbox/c.json", "outbox/a.json", "keys/x.json", "outbox/b.json"} {
		_ = store.Put(k, []byte("v"), nil)
	}
	got, err := store.List("outbox/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"outbox/a.json", "outbox/b.json", "outbox/c.json"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("List() = %v, want %v", got, want)
	}
}

func TestValidateStorageKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"", true},
		{"a\x00b", true},
		{"/etc/passwd", true},
		{"../secret", true},
		{"..", true},
		{"foo/../../etc/passwd", true},
		{"foo/bar/..", false},
		{"keys/pqc-sig/alice.json", false},
		{"contacts/default.json", false},
	}
	for _, tt := range tests {
		err := validateStorageKey(tt.key)
		if (err != nil) != tt.wantErr {
			t.Errorf("validateStorageKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
		}
	}

	store := newStore(t)
	if err := store.Put("../escape", []byte("x"), nil); !errors.Is(err, storage.ErrInvalidID) {
		t.Errorf("Put() traversal error = %v, want ErrInvalidID", err)
	}
}

func TestWriteFailureIsStorageIO(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	store := newStore(t)
	_ = store.Put("keys/a.json", []byte("v"), nil)
	dir := filepath.Join(store.Root(), "keys")
	if err := os.Chmod(dir, 0500); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(dir, 0700) })

	err := store.Put("keys/b.json", []byte("v"), nil)
	if !errors.Is(err, storage.ErrStorageIO) {
		t.Errorf("Put() error = %v, want ErrStorageIO", err)
	}
	got, _ := store.Get("keys/a.json")
	if string(got) != "v" {
		t.Error("existing record damaged by failed write")
	}
}

func TestClose(t *testing.T) {
	store := newStore(t)
	_ = store.Close()
	if _, err := store.Get("x"); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("Get() after Close error = %v", err)
	}
	if err := store.Put("x", nil, nil); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("Put() after Close error = %v", err)
	}
}

func TestConcurrentAccess(t *testing.T) {
	store := newStore(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("outbox/%02d.json", n)
			if err := store.Put(key, []byte("v"), nil); err != nil {
				t.Errorf("Put(%s) error = %v", key, err)
			}
			_, _ = store.List("outbox/")
		}(i)
	}
	wg.Wait()
	keys, _ := store.List("outbox/")
	if len(keys) != 20 {
		t.Errorf("List() returned %d keys, want 20", len(keys))
	}
}
