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
	"testing"
)

func TestVersion(t *testing.T) {
	v := Version()
	if v == "" {
		t.Error("Version() returned empty string")
	}
	t.Logf("Library version: %s", v)
}

func TestVersion_LinkTimeValueWins(t *testing.T) {
	orig := version
	t.Cleanup(func() { version = orig })

	version = " v1.2.3-test\n"
	if got := Version(); got != "v1.2.3-test" {
		t.Errorf("Version() = %q, want %q", got, "v1.2.3-test")
	}
}

func TestVersion_Consistency(t *testing.T) {
	if v1, v2 := Version(), Version(); v1 != v2 {
		t.Errorf("Version() not consistent: got %s and %s", v1, v2)
	}
}
