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
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jeremyhahn/go-pqckeys/pkg/adapters/audit"
	"github.com/jeremyhahn/go-pqckeys/pkg/adapters/auth"
	"github.com/jeremyhahn/go-pqckeys/pkg/adapters/logger"
	"github.com/jeremyhahn/go-pqckeys/pkg/contacts"
	"github.com/jeremyhahn/go-pqckeys/pkg/distribution"
	"github.com/jeremyhahn/go-pqckeys/pkg/health"
	"github.com/jeremyhahn/go-pqckeys/pkg/keychain"
	"github.com/jeremyhahn/go-pqckeys/pkg/keystore"
	"github.com/jeremyhahn/go-pqckeys/pkg/metrics"
	"github.com/jeremyhahn/go-pqckeys/pkg/types"
)

// ArmorContentType is served for ?format=armor key requests.
const ArmorContentType = "application/pgp-keys"

// HandlerContext holds dependencies for REST handlers.
type HandlerContext struct {
	// Service is the key service the directory is served from
	Service *keychain.Service
	// Version is the API version
	Version string
	// HealthChecker manages health check probes
	HealthChecker HealthChecker
	// Audit is the recent audit history, nil when disabled
	Audit AuditReader

	logger logger.Logger
}

// HealthChecker defines the interface for health checking.
type HealthChecker interface {
	Live(ctx context.Context) health.CheckResult
	Ready(ctx context.Context) []health.CheckResult
	Startup(ctx context.Context) health.CheckResult
}

// AuditReader lists recorded audit events.
type AuditReader interface {
	Events(ctx context.Context, q *audit.Query) ([]*audit.Event, error)
}

// NewHandlerContext creates a new handler context.
func NewHandlerContext(svc *keychain.Service, version string, log logger.Logger) *HandlerContext {
	if log == nil {
		log = logger.NewNop()
	}
	return &HandlerContext{
		Service: svc,
		Version: version,
		logger:  log,
	}
}

// SetHealthChecker sets the health checker for the handler context.
func (h *HandlerContext) SetHealthChecker(checker HealthChecker) {
	h.HealthChecker = checker
}

// HealthHandler handles GET /health requests.
func (h *HandlerContext) HealthHandler(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "healthy",
		Version: h.Version,
	}
	writeJSON(w, resp, http.StatusOK)
}

// VersionHandler handles GET /api/v1/version requests.
func (h *HandlerContext) VersionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, VersionResponse{
		Version: h.Version,
		Kinds:   h.Service.Registry().Kinds(),
	}, http.StatusOK)
}

// AccountKeysHandler handles GET /api/v1/accounts/{account}/keys requests.
func (h *HandlerContext) AccountKeysHandler(w http.ResponseWriter, r *http.Request) {
	account, err := pathIdentifier(r, "account")
	if err != nil {
		handleError(w, err)
		return
	}
	status, err := h.Service.Status(account)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, AccountKeysResponse{Account: account, Keys: status}, http.StatusOK)
}

// PublicKeyHandler handles GET /api/v1/accounts/{account}/keys/{kind}.
// With ?format=armor the key is returned as an ASCII armored block.
func (h *HandlerContext) PublicKeyHandler(w http.ResponseWriter, r *http.Request) {
	account, err := pathIdentifier(r, "account")
	if err != nil {
		handleError(w, err)
		return
	}
	kind, err := pathKind(r)
	if err != nil {
		handleError(w, err)
		return
	}
	ks, err := h.Service.Store(kind)
	if err != nil {
		handleError(w, err)
		return
	}
	pub, err := ks.ExportPublicKey(account)
	if err != nil {
		handleError(w, err)
		return
	}
	if pub == nil {
		handleError(w, fmt.Errorf("%w: %s has no %s key", keystore.ErrNoKeyPair, account, kind))
		return
	}
	alg, err := ks.Algorithm(account)
	if err != nil {
		handleError(w, err)
		return
	}
	armored, err := distribution.EncodeArmor(kind, alg, pub)
	if err != nil {
		handleError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "armor" {
		w.Header().Set("Content-Type", ArmorContentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(armored)
		return
	}
	writeJSON(w, PublicKeyResponse{
		Account:     account,
		Kind:        kind,
		Algorithm:   alg,
		Fingerprint: contacts.Fingerprint(pub),
		PublicKey:   pub,
		Armored:     string(armored),
	}, http.StatusOK)
}

// AnnouncementPayloadHandler handles GET /api/v1/accounts/{account}/announcement.
// It returns every public key the account would announce.
func (h *HandlerContext) AnnouncementPayloadHandler(w http.ResponseWriter, r *http.Request) {
	account, err := pathIdentifier(r, "account")
	if err != nil {
		handleError(w, err)
		return
	}
	payload, err := h.Service.Distribution().BuildPayload(r.Context(), account)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, payload, http.StatusOK)
}

// ContactHandler handles GET /api/v1/contacts/{contact}.
func (h *HandlerContext) ContactHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathIdentifier(r, "contact")
	if err != nil {
		handleError(w, err)
		return
	}
	cache := h.Service.Contacts()
	resp := ContactResponse{Identifier: id, Keys: []ContactKeyResponse{}}
	for _, kind := range types.AllKeyKinds {
		entry, err := cache.Get(id, kind)
		if errors.Is(err, contacts.ErrUnknownContact) {
			continue
		}
		if err != nil {
			handleError(w, err)
			return
		}
		resp.Keys = append(resp.Keys, contactKey(entry))
	}
	if len(resp.Keys) == 0 {
		handleError(w, fmt.Errorf("%w: %s", contacts.ErrUnknownContact, id))
		return
	}
	writeJSON(w, resp, http.StatusOK)
}

// ContactKeyHandler handles GET /api/v1/contacts/{contact}/keys/{kind}.
func (h *HandlerContext) ContactKeyHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathIdentifier(r, "contact")
	if err != nil {
		handleError(w, err)
		return
	}
	kind, err := pathKind(r)
	if err != nil {
		handleError(w, err)
		return
	}
	entry, err := h.Service.Contacts().Get(id, kind)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, contactKey(entry), http.StatusOK)
}

func contactKey(e *types.ContactEntry) ContactKeyResponse {
	return ContactKeyResponse{
		Identifier:    e.Identifier,
		Kind:          e.Kind,
		Algorithm:     e.Algorithm,
		Fingerprint:   contacts.Fingerprint(e.PublicKey),
		PublicKey:     e.PublicKey,
		HasSessionKey: len(e.SharedSecret) > 0,
		LastUpdated:   e.LastUpdated,
	}
}

// IngestHandler handles POST /api/v1/announcements. The body is an
// OutboundMessage as written to the outbox. The caller must be allowed to
// submit for the message's sender. Partial failures are reported with 200;
// when no key could be stored the status is 422.
func (h *HandlerContext) IngestHandler(w http.ResponseWriter, r *http.Request) {
	var msg distribution.OutboundMessage
	if err := decodeJSON(w, r, &msg); err != nil {
		metrics.RecordDistribution(metrics.DirectionInbound, metrics.StatusError)
		handleError(w, err)
		return
	}

	if identity := auth.GetIdentity(r.Context()); !identity.AllowsSender(msg.From) {
		logger.WithContext(r.Context(), h.logger).Warn("announcement sender not permitted",
			logger.String("message_id", msg.ID),
			logger.String("sender", msg.From))
		writeErrorWithMessage(w, ErrForbidden, "caller may not submit keys for this sender", http.StatusForbidden)
		return
	}

	report, err := h.Service.Ingest(r.Context(), &msg)
	if err != nil {
		logger.WithContext(r.Context(), h.logger).Warn("announcement rejected",
			logger.String("message_id", msg.ID),
			logger.Error(err))
		handleError(w, err)
		return
	}

	resp := IngestResponse{Sender: report.Sender, Imported: report.Imported}
	if resp.Imported == nil {
		resp.Imported = []types.KeyKind{}
	}
	for _, f := range report.Failures {
		resp.Failures = append(resp.Failures, IngestFailure{
			Kind:      f.Kind,
			Algorithm: f.Algorithm,
			Error:     f.Err.Error(),
		})
	}
	status := http.StatusOK
	if len(report.Imported) == 0 {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, resp, status)
}

// AuditHandler handles GET /api/v1/audit. Filters: account, type
// (repeatable), outcome, since (RFC 3339) and limit.
func (h *HandlerContext) AuditHandler(w http.ResponseWriter, r *http.Request) {
	if h.Audit == nil {
		writeErrorWithMessage(w, ErrNotFound, "audit history is disabled", http.StatusNotFound)
		return
	}
	q, err := auditQuery(r)
	if err != nil {
		handleError(w, err)
		return
	}
	events, err := h.Audit.Events(r.Context(), q)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, AuditResponse{Events: events, Count: len(events)}, http.StatusOK)
}
