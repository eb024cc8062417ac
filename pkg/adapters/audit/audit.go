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

// Package audit records key lifecycle events: generation, removal, bundle
// export and import, and announcement traffic.
//
// Events never carry key material, only account names, key kinds,
// algorithms and error strings.
package audit

import (
	"context"
	"time"
)

// EventType represents the type of audit event
type EventType string

const (
	EventKeyGenerate    EventType = "key.generate"
	EventKeyClear       EventType = "key.clear"
	EventAccountReset   EventType = "account.reset"
	EventBundleExport   EventType = "bundle.export"
	EventBundleImport   EventType = "bundle.import"
	EventAnnounceSend   EventType = "announce.send"
	EventAnnounceIngest EventType = "announce.ingest"
)

// Outcome indicates the result of an operation
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Event is a single audit record.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Outcome   Outcome   `json:"outcome"`

	// Account is the own identity or, for ingest, the sender.
	Account   string `json:"account,omitempty"`
	Kind      string `json:"key_kind,omitempty"`
	Algorithm string `json:"algorithm,omitempty"`

	// Detail holds event specific context such as recipient counts.
	Detail map[string]string `json:"detail,omitempty"`

	Error         string `json:"error,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Auditor records events. Implementations must be safe for concurrent use.
type Auditor interface {
	Record(ctx context.Context, event *Event) error
}

// Query filters recorded events. Zero fields match everything.
type Query struct {
	Types   []EventType
	Account string
	Outcome Outcome
	Since   time.Time

	// Limit caps the result to the most recent events.
	Limit int
}

// Matches reports whether e satisfies q.
func (q *Query) Matches(e *Event) bool {
	if q == nil {
		return true
	}
	if len(q.Types) > 0 {
		found := false
		for _, t := range q.Types {
			if e.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.Account != "" && e.Account != q.Account {
		return false
	}
	if q.Outcome != "" && e.Outcome != q.Outcome {
		return false
	}
	if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
		return false
	}
	return true
}

// NewEvent returns an event of typ whose outcome follows err.
func NewEvent(typ EventType, account string, err error) *Event {
	e := &Event{Type: typ, Account: account, Outcome: OutcomeSuccess}
	if err != nil {
		e.Outcome = OutcomeFailure
		e.Error = err.Error()
	}
	return e
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(context.Context, *Event) error { return nil }
