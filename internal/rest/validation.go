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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jeremyhahn/go-pqckeys/pkg/adapters/audit"
	"github.com/jeremyhahn/go-pqckeys/pkg/types"
	"github.com/jeremyhahn/go-pqckeys/pkg/validation"
)

// MaxRequestBodySize bounds JSON request bodies. Announcements carry at
// most three public keys.
const MaxRequestBodySize = 1 << 20

// Audit listing limits.
const (
	DefaultAuditLimit = 100
	MaxAuditLimit     = 1000
)

// pathIdentifier reads and validates an account or contact identifier
// from the URL.
func pathIdentifier(r *http.Request, param string) (string, error) {
	id := chi.URLParam(r, param)
	if err := validation.ValidateIdentifier(id); err != nil {
		return "", err
	}
	return types.NormalizeIdentifier(id), nil
}

// pathKind reads the {kind} URL parameter.
func pathKind(r *http.Request) (types.KeyKind, error) {
	return types.ParseKeyKind(chi.URLParam(r, "kind"))
}

// decodeJSON decodes a size-limited request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: body exceeds %d bytes", ErrInvalidRequest, MaxRequestBodySize)
		}
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data after JSON body", ErrInvalidRequest)
	}
	return nil
}

// auditQuery parses the audit listing filters.
func auditQuery(r *http.Request) (*audit.Query, error) {
	values := r.URL.Query()
	q := &audit.Query{Limit: DefaultAuditLimit}

	if account := values.Get("account"); account != "" {
		if err := validation.ValidateIdentifier(account); err != nil {
			return nil, err
		}
		q.Account = types.NormalizeIdentifier(account)
	}
	for _, t := range values["type"] {
		q.Types = append(q.Types, audit.EventType(t))
	}
	switch outcome := audit.Outcome(values.Get("outcome")); outcome {
	case "", audit.OutcomeSuccess, audit.OutcomeFailure:
		q.Outcome = outcome
	default:
		return nil, fmt.Errorf("%w: unknown outcome %q", ErrInvalidRequest, outcome)
	}
	if since := values.Get("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return nil, fmt.Errorf("%w: since: %v", ErrInvalidRequest, err)
		}
		q.Since = ts
	}
	if limit := values.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("%w: limit must be a positive integer", ErrInvalidRequest)
		}
		q.Limit = min(n, MaxAuditLimit)
	}
	return q, nil
}
