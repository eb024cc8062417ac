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

package memory

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/jeremyhahn/go-pqckeys/pkg/storage"
)

func TestPutGet(t *testing.T) {
	s := New()
	if err := s.Put("keys/pqc-sig/alice.json", []byte("record"), nil); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, err := s.Get("keys/pqc-sig/alice.json")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !bytes.Equal(got, []byte("record")) {
		t.Errorf("Get() = %q, want %q", got, "record")
	}
}

func TestGetNotFound(t *testing.T) {
	s := New()
	if _, err := s.Get("missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	s := New()
	_ = s.Put("a", []byte("1"), nil)
	if err := s.Delete("a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if ok, _ := s.Exists("a"); ok {
		t.Error("key still exists after Delete()")
	}
	if err := s.Delete("a"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestListSortedByPrefix(t *testing.T) {
	s := New()
	for _, k := range []string{"outbox/b.json", "keys/x.json", "outbox/a.json"} {
		_ = s.Put(k, []byte("v"), nil)
	}
	got, err := s.List("outbox/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"outbox/a.json", "outbox/b.json"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("List() = %v, want %v", got, want)
	}
	all, _ := s.List("")
	if len(all) != 3 {
		t.Errorf("List(\"\") returned %d keys, want 3", len(all))
	}
}

func TestDefensiveCopy(t *testing.T) {
	s := New()
	value := []byte("original")
	_ = s.Put("k", value, nil)
	value[0] = 'X'

	got, _ := s.Get("k")
	if string(got) != "original" {
		t.Errorf("stored value modified through caller slice: %q", got)
	}
	got[0] = 'Y'
	again, _ := s.Get("k")
	if string(again) != "original" {
		t.Errorf("stored value modified through returned slice: %q", again)
	}
}

func TestEmptyKey(t *testing.T) {
	s := New()
	if err := s.Put("", []byte("v"), nil); !errors.Is(err, storage.ErrInvalidID) {
		t.Errorf("Put(\"\") error = %v, want ErrInvalidID", err)
	}
}

func TestClosedStorage(t *testing.T) {
	s := New()
	_ = s.Put("k", []byte("v"), nil)
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := s.Get("k"); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("Get() after Close error = %v", err)
	}
	if err := s.Put("k", nil, nil); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("Put() after Close error = %v", err)
	}
	if _, err := s.List(""); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("List() after Close error = %v", err)
	}
}

func TestConcurrentOperations(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("k/%d", n)
			_ = s.Put(key, []byte{byte(n)}, nil)
			_, _ = s.Get(key)
			_, _ = s.List("k/")
		}(i)
	}
	wg.Wait()
	if s.Len() != 50 {
		t.Errorf("Len() = %d, want 50", s.Len())
	}
}
