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

package rest

import (
	"time"

	"github.com/jeremyhahn/go-pqckeys/pkg/adapters/audit"
	"github.com/jeremyhahn/go-pqckeys/pkg/health"
	"github.com/jeremyhahn/go-pqckeys/pkg/keychain"
	"github.com/jeremyhahn/go-pqckeys/pkg/types"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// HealthResponse represents the legacy health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// HealthCheckResponse represents the response for the probe endpoints.
type HealthCheckResponse struct {
	Status  health.Status        `json:"status"`
	Message string               `json:"message,omitempty"`
	Checks  []health.CheckResult `json:"checks,omitempty"`
}

// VersionResponse represents the response for GET /api/v1/version.
type VersionResponse struct {
	Version string          `json:"version"`
	Kinds   []types.KeyKind `json:"kinds"`
}

// AccountKeysResponse lists an account's key status for every kind.
type AccountKeysResponse struct {
	Account string               `json:"account"`
	Keys    []keychain.KeyStatus `json:"keys"`
}

// PublicKeyResponse carries one published public key.
type PublicKeyResponse struct {
	Account     string        `json:"account"`
	Kind        types.KeyKind `json:"kind"`
	Algorithm   string        `json:"algorithm"`
	Fingerprint string        `json:"fingerprint"`
	PublicKey   []byte        `json:"public_key"`
	Armored     string        `json:"armored"`
}

// ContactKeyResponse describes a cached contact key. Shared secrets are
// never returned; HasSessionKey reports whether one exists.
type ContactKeyResponse struct {
	Identifier    string        `json:"identifier"`
	Kind          types.KeyKind `json:"kind"`
	Algorithm     string        `json:"algorithm"`
	Fingerprint   string        `json:"fingerprint"`
	PublicKey     []byte        `json:"public_key"`
	HasSessionKey bool          `json:"session_key"`
	LastUpdated   time.Time     `json:"last_updated"`
}

// ContactResponse lists every cached key of one contact.
type ContactResponse struct {
	Identifier string               `json:"identifier"`
	Keys       []ContactKeyResponse `json:"keys"`
}

// IngestFailure is one key of an announcement that was not stored.
type IngestFailure struct {
	Kind      types.KeyKind `json:"kind"`
	Algorithm string        `json:"algorithm,omitempty"`
	Error     string        `json:"error"`
}

// IngestResponse is returned by POST /api/v1/announcements.
type IngestResponse struct {
	Sender   string          `json:"sender"`
	Imported []types.KeyKind `json:"imported"`
	Failures []IngestFailure `json:"failures,omitempty"`
}

// AuditResponse lists audit events, oldest first.
type AuditResponse struct {
	Events []*audit.Event `json:"events"`
	Count  int            `json:"count"`
}
