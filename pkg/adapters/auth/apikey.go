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

package auth

import (
	"crypto/sha256"
	"fmt"
	"maps"
	"net/http"
	"strings"

	"github.com/jeremyhahn/go-pqckeys/pkg/types"
)

// DefaultAPIKeyHeader carries the API key when Authorization is not used.
const DefaultAPIKeyHeader = "X-API-Key"

// MinAPIKeyLength rejects keys short enough to guess.
const MinAPIKeyLength = 16

// APIKeyAuthenticator authenticates requests using API keys. Keys are
// held as SHA-256 digests and accepted from the X-API-Key header or an
// Authorization Bearer token.
type APIKeyAuthenticator struct {
	validKeys  map[[sha256.Size]byte]*Identity
	headerName string
}

// APIKeyConfig configures the API key authenticator
type APIKeyConfig struct {
	// Keys maps API keys to identities
	Keys map[string]*Identity

	// HeaderName is the HTTP header name (default: "X-API-Key")
	HeaderName string
}

// NewAPIKeyAuthenticator creates a new API key authenticator. Sender lists
// are normalized.
func NewAPIKeyAuthenticator(config *APIKeyConfig) (*APIKeyAuthenticator, error) {
	if config == nil {
		config = &APIKeyConfig{}
	}
	a := &APIKeyAuthenticator{
		validKeys:  make(map[[sha256.Size]byte]*Identity, len(config.Keys)),
		headerName: config.HeaderName,
	}
	if a.headerName == "" {
		a.headerName = DefaultAPIKeyHeader
	}
	for key, identity := range config.Keys {
		if err := a.AddKey(key, identity); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// AddKey adds a new API key with the given identity
func (a *APIKeyAuthenticator) AddKey(apiKey string, identity *Identity) error {
	if len(apiKey) < MinAPIKeyLength {
		return fmt.Errorf("auth: API key must be at least %d characters", MinAPIKeyLength)
	}
	if identity == nil || identity.Subject == "" {
		return fmt.Errorf("auth: API key needs an identity with a subject")
	}
	stored := &Identity{Subject: identity.Subject, Attributes: maps.Clone(identity.Attributes)}
	for _, s := range identity.Senders {
		stored.Senders = append(stored.Senders, types.NormalizeIdentifier(s))
	}
	a.validKeys[sha256.Sum256([]byte(apiKey))] = stored
	return nil
}

// Len returns the number of configured keys.
func (a *APIKeyAuthenticator) Len() int {
	return len(a.validKeys)
}

// AuthenticateHTTP authenticates an HTTP request using an API key
func (a *APIKeyAuthenticator) AuthenticateHTTP(r *http.Request) (*Identity, error) {
	apiKey := r.Header.Get(a.headerName)
	if apiKey == "" {
		if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
			apiKey = strings.TrimSpace(bearer)
		}
	}
	if apiKey == "" {
		return nil, ErrNoCredentials
	}

	identity, ok := a.validKeys[sha256.Sum256([]byte(apiKey))]
	if !ok {
		return nil, ErrInvalidCredentials
	}

	cloned := &Identity{
		Subject:    identity.Subject,
		Senders:    identity.Senders,
		Attributes: maps.Clone(identity.Attributes),
	}
	if cloned.Attributes == nil {
		cloned.Attributes = make(map[string]string, 2)
	}
	cloned.Attributes["auth_method"] = "apikey"
	cloned.Attributes["remote_addr"] = r.RemoteAddr
	return cloned, nil
}

// Name returns the authenticator name
func (a *APIKeyAuthenticator) Name() string {
	return "apikey"
}
