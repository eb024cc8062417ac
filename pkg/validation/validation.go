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

// Package validation provides input validation for identifiers that arrive
// from the CLI, the REST key directory and inbound announcements.
package validation

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

// ErrInvalidInput is wrapped by every validation failure.
var ErrInvalidInput = errors.New("validation: invalid input")

const (
	// MaxIdentifierLength follows the SMTP path limit.
	MaxIdentifierLength = 254

	maxAlgorithmLength = 64
	maxScopeLength     = 128
)

var (
	// algorithmPattern matches algorithm identifiers such as "ML-KEM-768".
	algorithmPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9\-_.]*$`)

	// scopePattern matches contact cache scopes and file name stems.
	scopePattern = regexp.MustCompile(`^[a-zA-Z0-9_\-\.@+]+$`)
)

// ValidateIdentifier checks an account or contact identifier. Identifiers
// are bare email addresses; display names and angle brackets are rejected.
func ValidateIdentifier(id string) error {
	if err := checkCommon("identifier", id, MaxIdentifierLength); err != nil {
		return err
	}
	addr, err := mail.ParseAddress(id)
	if err != nil {
		return fmt.Errorf("%w: identifier %q is not an email address", ErrInvalidInput, SanitizeForLog(id))
	}
	if addr.Name != "" || addr.Address != strings.TrimSpace(id) {
		return fmt.Errorf("%w: identifier must be a bare address", ErrInvalidInput)
	}
	return nil
}

// ValidateIdentifiers validates each identifier in turn and rejects an
// empty list.
func ValidateIdentifiers(ids []string) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: no identifiers", ErrInvalidInput)
	}
	for _, id := range ids {
		if err := ValidateIdentifier(id); err != nil {
			return err
		}
	}
	return nil
}

// ValidateAlgorithmName checks the shape of an algorithm identifier. It
// does not check that any backend supports it.
func ValidateAlgorithmName(name string) error {
	if err := checkCommon("algorithm", name, maxAlgorithmLength); err != nil {
		return err
	}
	if !algorithmPattern.MatchString(name) {
		return fmt.Errorf("%w: algorithm contains invalid characters (allowed: A-Z, a-z, 0-9, -, _, .)", ErrInvalidInput)
	}
	return nil
}

// ValidateScope checks a name used as a storage path segment or file name
// stem. Path separators and parent references are rejected.
func ValidateScope(scope string) error {
	if err := checkCommon("scope", scope, maxScopeLength); err != nil {
		return err
	}
	if scope == "." || strings.Contains(scope, "..") {
		return fmt.Errorf("%w: scope contains path traversal attempt", ErrInvalidInput)
	}
	if !scopePattern.MatchString(scope) {
		return fmt.Errorf("%w: scope contains invalid characters", ErrInvalidInput)
	}
	return nil
}

func checkCommon(what, s string, max int) error {
	if s == "" {
		return fmt.Errorf("%w: %s cannot be empty", ErrInvalidInput, what)
	}
	// Check length before other validations (prevent ReDoS)
	if len(s) > max {
		return fmt.Errorf("%w: %s too long (max %d characters)", ErrInvalidInput, what, max)
	}
	for _, r := range s {
		if r < 32 || r == 127 {
			return fmt.Errorf("%w: %s contains control characters", ErrInvalidInput, what)
		}
	}
	return nil
}

// SanitizeForLog sanitizes a string for safe logging (prevents log injection).
func SanitizeForLog(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)

	if len(s) > 1000 {
		s = s[:1000] + "...[truncated]"
	}
	return s
}
