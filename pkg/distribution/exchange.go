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
	"fmt"

	"github.com/jeremyhahn/go-pqckeys/pkg/adapters/logger"
	"github.com/jeremyhahn/go-pqckeys/pkg/backend"
	"github.com/jeremyhahn/go-pqckeys/pkg/metrics"
	"github.com/jeremyhahn/go-pqckeys/pkg/types"
)

// EstablishSharedSecret encapsulates to the contact's KEM public key,
// stores the derived session key for the contact and returns the
// ciphertext to send them.
func (p *Protocol) EstablishSharedSecret(ctx context.Context, contact string) (ciphertext []byte, err error) {
	done := metrics.Track(metrics.OpExchange, types.KeyKindPqcKem.String(), classify)
	defer func() { done(err) }()

	enc, err := p.encapsulator()
	if err != nil {
		return nil, err
	}
	entry, err := p.contacts.Get(contact, types.KeyKindPqcKem)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ct, ss, err := enc.Encapsulate(entry.Algorithm, entry.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("distribution: encapsulate to %s: %w", entry.Identifier, err)
	}
	if err := p.storeSessionKey(entry.Identifier, ss); err != nil {
		return nil, err
	}

	logger.WithContext(ctx, p.logger).Info("shared secret established",
		logger.String("contact", entry.Identifier),
		logger.Algorithm(entry.Algorithm))
	return ct, nil
}

// AcceptSharedSecret decapsulates a ciphertext received from contact with
// the account's KEM secret key and stores the same session key the sender
// derived.
func (p *Protocol) AcceptSharedSecret(ctx context.Context, account, contact string, ciphertext []byte) (err error) {
	done := metrics.Track(metrics.OpExchange, types.KeyKindPqcKem.String(), classify)
	defer func() { done(err) }()

	if len(ciphertext) == 0 {
		return fmt.Errorf("%w: empty ciphertext", ErrMalformedPayload)
	}
	enc, err := p.encapsulator()
	if err != nil {
		return err
	}
	store, err := p.registry.Get(types.KeyKindPqcKem)
	if err != nil {
		return err
	}
	rec, err := store.LoadKeyPair(ctx, account)
	if err != nil {
		return err
	}
	defer rec.Zero()
	if err := ctx.Err(); err != nil {
		return err
	}

	ss, err := enc.Decapsulate(rec.Algorithm, rec.SecretKey, ciphertext)
	if err != nil {
		return fmt.Errorf("distribution: decapsulate from %s: %w", types.NormalizeIdentifier(contact), err)
	}
	if err := p.storeSessionKey(contact, ss); err != nil {
		return err
	}

	logger.WithContext(ctx, p.logger).Info("shared secret accepted",
		logger.String("contact", types.NormalizeIdentifier(contact)),
		logger.Algorithm(rec.Algorithm))
	return nil
}

func (p *Protocol) encapsulator() (backend.Encapsulator, error) {
	store, err := p.registry.Get(types.KeyKindPqcKem)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKemUnavailable, err)
	}
	enc, ok := store.Backend().(backend.Encapsulator)
	if !ok {
		return nil, fmt.Errorf("%w: backend %s cannot encapsulate", ErrKemUnavailable, store.Backend().Name())
	}
	return enc, nil
}

func (p *Protocol) storeSessionKey(contact string, sharedSecret []byte) error {
	defer zero(sharedSecret)
	key, err := p.codec.DeriveSessionKey(sharedSecret)
	if err != nil {
		return err
	}
	defer zero(key)
	return p.contacts.SaveSharedSecret(contact, key)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
