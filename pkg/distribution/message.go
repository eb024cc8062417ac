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

// Package distribution packages an account's public keys into a key
// distribution message and consumes such messages on receipt.
//
// A message carries up to three armored attachments: the classical OpenPGP
// key (pgp-pk.asc), the PQC signature key (pqc-sig-pk.asc) and the PQC KEM
// key (pqc-kem-pk.asc). Delivery is delegated to a Transport; composing a
// message does no network I/O.
package distribution

import (
	"errors"
	"time"

	"github.com/jeremyhahn/go-pqckeys/pkg/types"
)

const (
	// HeaderKeyDistribution marks a message as a key announcement.
	HeaderKeyDistribution = "X-Key-Distribution"

	// DefaultSubject is the subject of outbound announcements.
	DefaultSubject = "Key Distribution"

	// DefaultBody is the body of outbound announcements.
	DefaultBody = "Attached are the public keys."

	AttachmentClassical    = "pgp-pk.asc"
	AttachmentPqcSignature = "pqc-sig-pk.asc"
	AttachmentPqcKem       = "pqc-kem-pk.asc"

	// ArmorContentType is the MIME type of every attachment.
	ArmorContentType = "application/pgp-keys"
)

var (
	// ErrMissingPrerequisiteKey is returned when the account has no
	// classical key pair to announce.
	ErrMissingPrerequisiteKey = errors.New("distribution: missing prerequisite key")

	// ErrMalformedPayload is returned for messages that cannot be parsed.
	ErrMalformedPayload = types.ErrMalformedPayload

	// ErrRateLimited is returned when a sender exceeds the ingestion rate.
	ErrRateLimited = errors.New("distribution: rate limited")

	// ErrNoTransport is returned by Send when no Transport is configured.
	ErrNoTransport = errors.New("distribution: no transport configured")

	// ErrNoRecipients is returned when composing for an empty recipient list.
	ErrNoRecipients = errors.New("distribution: no recipients")

	// ErrKemUnavailable is returned when no KEM store or backend can perform
	// a shared secret exchange.
	ErrKemUnavailable = errors.New("distribution: KEM exchange unavailable")
)

// Payload is the key material of one announcement. Only the classical key
// is mandatory.
type Payload struct {
	Sender                string `json:"sender"`
	ClassicalPublicKey    []byte `json:"classical_public_key"`
	ClassicalAlgorithm    string `json:"classical_algorithm"`
	PqcSignaturePublicKey []byte `json:"pqc_signature_public_key,omitempty"`
	PqcSignatureAlgorithm string `json:"pqc_signature_algorithm,omitempty"`
	PqcKemPublicKey       []byte `json:"pqc_kem_public_key,omitempty"`
	PqcKemAlgorithm       string `json:"pqc_kem_algorithm,omitempty"`
	Subject               string `json:"subject"`
	Body                  string `json:"body,omitempty"`
}

// Key returns the public key and algorithm carried for kind.
func (p *Payload) Key(kind types.KeyKind) (publicKey []byte, algorithm string) {
	switch kind {
	case types.KeyKindClassical:
		return p.ClassicalPublicKey, p.ClassicalAlgorithm
	case types.KeyKindPqcSignature:
		return p.PqcSignaturePublicKey, p.PqcSignatureAlgorithm
	case types.KeyKindPqcKem:
		return p.PqcKemPublicKey, p.PqcKemAlgorithm
	default:
		return nil, ""
	}
}

func (p *Payload) setKey(kind types.KeyKind, publicKey []byte, algorithm string) {
	switch kind {
	case types.KeyKindClassical:
		p.ClassicalPublicKey, p.ClassicalAlgorithm = publicKey, algorithm
	case types.KeyKindPqcSignature:
		p.PqcSignaturePublicKey, p.PqcSignatureAlgorithm = publicKey, algorithm
	case types.KeyKindPqcKem:
		p.PqcKemPublicKey, p.PqcKemAlgorithm = publicKey, algorithm
	}
}

// Attachment is one file of an outbound message.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// OutboundMessage is the transport-neutral form of an announcement.
type OutboundMessage struct {
	ID          string            `json:"id"`
	From        string            `json:"from"`
	To          []string          `json:"to"`
	Subject     string            `json:"subject"`
	Body        string            `json:"body"`
	Headers     map[string]string `json:"headers"`
	Attachments []Attachment      `json:"attachments"`
	CreatedAt   time.Time         `json:"created_at"`
}

// IsKeyDistribution reports whether the message carries the announcement
// header.
func (m *OutboundMessage) IsKeyDistribution() bool {
	return m != nil && m.Headers[HeaderKeyDistribution] == "true"
}

// Attachment returns the named attachment, or nil.
func (m *OutboundMessage) Attachment(name string) *Attachment {
	for i := range m.Attachments {
		if m.Attachments[i].Name == name {
			return &m.Attachments[i]
		}
	}
	return nil
}

// KeyFailure records one key that could not be ingested.
type KeyFailure struct {
	Kind      types.KeyKind
	Algorithm string
	Err       error
}

// IngestReport summarizes an IngestAnnouncement call.
type IngestReport struct {
	Sender   string
	Imported []types.KeyKind
	Failures []KeyFailure
}

// OK reports whether every offered key was stored.
func (r *IngestReport) OK() bool {
	return len(r.Failures) == 0
}

// attachmentName maps a kind to its attachment file name.
func attachmentName(kind types.KeyKind) string {
	switch kind {
	case types.KeyKindClassical:
		return AttachmentClassical
	case types.KeyKindPqcSignature:
		return AttachmentPqcSignature
	case types.KeyKindPqcKem:
		return AttachmentPqcKem
	default:
		return ""
	}
}
