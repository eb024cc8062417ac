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
	"context"

	"github.com/jeremyhahn/go-pqckeys/pkg/distribution"
	"github.com/jeremyhahn/go-pqckeys/pkg/types"
)

// Result carries the outcome of a background call.
type Result[T any] struct {
	Value T
	Err   error
}

// goAsync runs fn on a goroutine tracked by the service. The returned
// channel is buffered and receives exactly one result. After Close it
// receives ErrClosed without running fn.
func goAsync[T any](ctx context.Context, s *Service, fn func(context.Context) (T, error)) <-chan Result[T] {
	out := make(chan Result[T], 1)

	s.mu.Lock()
	if err := s.checkOpen(); err != nil {
		s.mu.Unlock()
		out <- Result[T]{Err: err}
		close(out)
		return out
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer close(out)
		v, err := fn(ctx)
		out <- Result[T]{Value: v, Err: err}
	}()
	return out
}

// GenerateKeyPairAsync runs GenerateKeyPair in the background.
func (s *Service) GenerateKeyPairAsync(ctx context.Context, account string, kind types.KeyKind, algorithm string) <-chan Result[struct{}] {
	return goAsync(ctx, s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.GenerateKeyPair(ctx, account, kind, algorithm)
	})
}

// AnnounceAsync runs Announce in the background.
func (s *Service) AnnounceAsync(ctx context.Context, account string, recipients []string) <-chan Result[*distribution.OutboundMessage] {
	return goAsync(ctx, s, func(ctx context.Context) (*distribution.OutboundMessage, error) {
		return s.Announce(ctx, account, recipients)
	})
}

// IngestAsync runs Ingest in the background.
func (s *Service) IngestAsync(ctx context.Context, msg *distribution.OutboundMessage) <-chan Result[*distribution.IngestReport] {
	return goAsync(ctx, s, func(ctx context.Context) (*distribution.IngestReport, error) {
		return s.Ingest(ctx, msg)
	})
}

// ExportBundleAsync runs the bundle export, which spends most of its time
// in PBKDF2, in the background.
func (s *Service) ExportBundleAsync(ctx context.Context, account string, kind types.KeyKind, includeSecret bool, password []byte) <-chan Result[[]byte] {
	return goAsync(ctx, s, func(ctx context.Context) ([]byte, error) {
		return s.ExportBundle(ctx, account, kind, includeSecret, password)
	})
}
