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

package keychain

import (
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
)

// version is set at link time:
//
//	go build -ldflags "-X github.com/jeremyhahn/go-pqckeys/pkg/keychain.version=v1.0.0"
var version string

// Version returns the library version. It prefers the link-time value, then
// a VERSION file in the project root, then the module version recorded in
// the build info, and finally "unknown".
func Version() string {
	if v := strings.TrimSpace(version); v != "" {
		return v
	}
	if v := versionFromFile(); v != "" {
		return v
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			return v
		}
	}
	return "unknown"
}

func versionFromFile() string {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return ""
	}
	projectRoot := filepath.Join(filepath.Dir(filename), "..", "..")
	// #nosec G304 - fixed VERSION file in the project root
	data, err := os.ReadFile(filepath.Join(projectRoot, "VERSION"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
