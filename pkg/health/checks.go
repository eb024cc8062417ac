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

package health

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jeremyhahn/go-pqckeys/pkg/storage"
	"github.com/jeremyhahn/go-pqckeys/pkg/types"
)

// probeKey is looked up, never written, by StorageCheck.
const probeKey = "health/probe"

// StorageCheck reports whether the storage backend answers lookups.
func StorageCheck(backend storage.Backend) CheckFunc {
	return func(ctx context.Context) CheckResult {
		if backend == nil {
			return CheckResult{Name: "storage", Status: StatusUnhealthy, Error: "no storage backend"}
		}
		done := make(chan error, 1)
		go func() {
			_, err := backend.Exists(probeKey)
			done <- err
		}()
		select {
		case <-ctx.Done():
			return CheckResult{Name: "storage", Status: StatusUnhealthy, Error: ctx.Err().Error()}
		case err := <-done:
			if err != nil {
				return CheckResult{Name: "storage", Status: StatusUnhealthy, Error: err.Error()}
			}
			return CheckResult{Name: "storage", Status: StatusHealthy, Message: "storage reachable"}
		}
	}
}

// KeyStoreCheck reports which key kinds have a store. The classical kind
// is mandatory; a missing post-quantum kind only degrades the service.
func KeyStoreCheck(kinds func() []types.KeyKind) CheckFunc {
	return func(ctx context.Context) CheckResult {
		have := make(map[types.KeyKind]bool)
		for _, k := range kinds() {
			have[k] = true
		}
		if !have[types.KeyKindClassical] {
			return CheckResult{Name: "keystores", Status: StatusUnhealthy, Error: "no classical key store"}
		}
		var missing []string
		for _, k := range types.AllKeyKinds {
			if !have[k] {
				missing = append(missing, k.String())
			}
		}
		if len(missing) > 0 {
			return CheckResult{
				Name:    "keystores",
				Status:  StatusDegraded,
				Message: "missing key stores: " + strings.Join(missing, ", "),
			}
		}
		return CheckResult{Name: "keystores", Status: StatusHealthy, Message: fmt.Sprintf("%d key stores", len(have))}
	}
}

// OutboxCheck degrades the service when more than max announcements wait
// in the outbox. A nil pending function means no outbox is in use.
func OutboxCheck(pending func() ([]string, error), max int) CheckFunc {
	return func(ctx context.Context) CheckResult {
		if pending == nil {
			return CheckResult{Name: "outbox", Status: StatusHealthy, Message: "custom transport"}
		}
		ids, err := pending()
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return CheckResult{Name: "outbox", Status: StatusUnhealthy, Error: err.Error()}
		}
		msg := fmt.Sprintf("%d pending", len(ids))
		if max > 0 && len(ids) > max {
			return CheckResult{Name: "outbox", Status: StatusDegraded, Message: msg}
		}
		return CheckResult{Name: "outbox", Status: StatusHealthy, Message: msg}
	}
}
