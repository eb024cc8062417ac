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

package distribution

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-pqckeys/pkg/storage"
)

// Transport delivers a composed message. Implementations own all network
// or mail I/O.
type Transport interface {
	Deliver(ctx context.Context, msg *OutboundMessage) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, msg *OutboundMessage) error

// Deliver calls f.
func (f TransportFunc) Deliver(ctx context.Context, msg *OutboundMessage) error {
	return f(ctx, msg)
}

// SpoolTransport writes messages to outbox/<id>.json in a storage backend
// for a separate mailer to pick up.
type SpoolTransport struct {
	storage storage.Backend
}

// NewSpoolTransport returns a spool backed by backend.
func NewSpoolTransport(backend storage.Backend) (*SpoolTransport, error) {
	if backend == nil {
		return nil, errors.New("distribution: spool storage is required")
	}
	return &SpoolTransport{storage: backend}, nil
}

// Deliver spools msg.
func (s *SpoolTransport) Deliver(ctx context.Context, msg *OutboundMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg == nil || msg.ID == "" {
		return fmt.Errorf("%w: message without ID", ErrMalformedPayload)
	}
	if err := storage.PutJSON(s.storage, storage.OutboxPath(msg.ID), msg, storage.DefaultOptions()); err != nil {
		return fmt.Errorf("%w: spool %s: %v", storage.ErrStorageIO, msg.ID, err)
	}
	return nil
}

// Pending lists the IDs of spooled messages.
func (s *SpoolTransport) Pending() ([]string, error) {
	return storage.ListOutbox(s.storage)
}

// Load returns a spooled message.
func (s *SpoolTransport) Load(id string) (*OutboundMessage, error) {
	msg := new(OutboundMessage)
	if err := storage.GetJSON(s.storage, storage.OutboxPath(id), msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Remove deletes a spooled message once it has been handed off.
func (s *SpoolTransport) Remove(id string) error {
	return storage.DeleteIfExists(s.storage, storage.OutboxPath(id))
}
