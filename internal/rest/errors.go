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
	"log"
	"net/http"

	"github.com/jeremyhahn/go-pqckeys/pkg/backend"
	"github.com/jeremyhahn/go-pqckeys/pkg/contacts"
	"github.com/jeremyhahn/go-pqckeys/pkg/distribution"
	"github.com/jeremyhahn/go-pqckeys/pkg/keychain"
	"github.com/jeremyhahn/go-pqckeys/pkg/keystore"
	"github.com/jeremyhahn/go-pqckeys/pkg/storage"
	"github.com/jeremyhahn/go-pqckeys/pkg/types"
	"github.com/jeremyhahn/go-pqckeys/pkg/validation"
)

// Common errors
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("not found")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrInternalError  = errors.New("internal server error")
)

// writeError writes an error response to the client.
func writeError(w http.ResponseWriter, err error, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := ErrorResponse{
		Error: err.Error(),
		Code:  statusCode,
	}

	if encErr := json.NewEncoder(w).Encode(resp); encErr != nil {
		log.Printf("Failed to encode error response: %v", encErr)
	}
}

// writeErrorWithMessage writes an error response with a custom message.
func writeErrorWithMessage(w http.ResponseWriter, err error, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := ErrorResponse{
		Error:   err.Error(),
		Message: message,
		Code:    statusCode,
	}

	if encErr := json.NewEncoder(w).Encode(resp); encErr != nil {
		log.Printf("Failed to encode error response: %v", encErr)
	}
}

// mapErrorToStatusCode maps errors to HTTP status codes.
func mapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, keystore.ErrNoKeyPair),
		errors.Is(err, keystore.ErrNoStore),
		errors.Is(err, contacts.ErrUnknownContact):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, validation.ErrInvalidInput),
		errors.Is(err, types.ErrInvalidIdentifier),
		errors.Is(err, types.ErrUnknownKeyKind),
		errors.Is(err, types.ErrMalformedPayload),
		errors.Is(err, backend.ErrUnsupportedAlgorithm),
		errors.Is(err, backend.ErrKeyLengthMismatch),
		errors.Is(err, backend.ErrInvalidPublicKey):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, distribution.ErrMissingPrerequisiteKey):
		return http.StatusUnprocessableEntity
	case errors.Is(err, keystore.ErrAlgorithmMismatch):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited),
		errors.Is(err, distribution.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, keychain.ErrClosed),
		errors.Is(err, storage.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleError maps the error to a status code and writes the response.
// Internal errors are not echoed to the client.
func handleError(w http.ResponseWriter, err error) {
	statusCode := mapErrorToStatusCode(err)
	if statusCode == http.StatusInternalServerError {
		writeErrorWithMessage(w, ErrInternalError, "An unexpected error occurred", statusCode)
		return
	}
	writeError(w, err, statusCode)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Failed to encode JSON response: %v", err)
	}
}
