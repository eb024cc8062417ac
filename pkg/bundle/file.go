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
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jeremyhahn/go-pqckeys/pkg/storage"
)

// MaxFileSize bounds ReadFile. The largest bundle, an encrypted RSA-4096
// key pair, is a few kilobytes.
const MaxFileSize = 1 << 20

// WriteFile writes data to path with owner-only permissions. The data is
// synced and renamed into place so a reader never sees a partial bundle.
func WriteFile(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".pqk-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: bundle: create %s: %w", storage.ErrStorageIO, path, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if err = tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: bundle: chmod %s: %w", storage.ErrStorageIO, path, err)
	}
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: bundle: write %s: %w", storage.ErrStorageIO, path, err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: bundle: sync %s: %w", storage.ErrStorageIO, path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("%w: bundle: close %s: %w", storage.ErrStorageIO, path, err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: bundle: rename %s: %w", storage.ErrStorageIO, path, err)
	}
	return nil
}

// ReadFile reads a bundle of at most MaxFileSize bytes. Filesystem
// failures wrap storage.ErrStorageIO.
func ReadFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: bundle: open %s: %w", storage.ErrStorageIO, path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: bundle: read %s: %w", storage.ErrStorageIO, path, err)
	}
	if len(data) > MaxFileSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrMalformedPayload, path, MaxFileSize)
	}
	return data, nil
}
