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

// Package auth authenticates callers of the key directory's write routes.
package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"

	"github.com/jeremyhahn/go-pqckeys/pkg/types"
)

var (
	// ErrNoCredentials is returned when a request carries no credentials.
	ErrNoCredentials = errors.New("auth: no credentials provided")

	// ErrInvalidCredentials is returned for unknown credentials.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
)

// Identity represents an authenticated client
type Identity struct {
	// Subject names the client, e.g. the mail gateway that relays announcements
	Subject string

	// Senders lists the announcement senders the client may submit for.
	// Empty allows any sender.
	Senders []string

	// Attributes contains metadata about the authentication
	Attributes map[string]string
}

// AllowsSender reports whether the identity may submit keys for sender.
func (i *Identity) AllowsSender(sender string) bool {
	if i == nil {
		return false
	}
	if len(i.Senders) == 0 {
		return true
	}
	return slices.Contains(i.Senders, types.NormalizeIdentifier(sender))
}

// Authenticator is the interface for authentication adapters
type Authenticator interface {
	// AuthenticateHTTP returns the caller's identity or an error
	AuthenticateHTTP(r *http.Request) (*Identity, error)

	// Name returns the authenticator name for logging
	Name() string
}

type contextKey struct{}

// GetIdentity extracts the identity from a context
func GetIdentity(ctx context.Context) *Identity {
	if identity, ok := ctx.Value(contextKey{}).(*Identity); ok {
		return identity
	}
	return nil
}

// WithIdentity adds an identity to a context
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, identity)
}
