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

package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-pqckeys/pkg/correlation"
)

// DefaultCapacity is the number of events a Memory auditor keeps.
const DefaultCapacity = 1024

// Memory keeps the most recent events in a ring buffer. It is meant for
// tests and for the daemon's in-process history; events are lost on
// restart.
type Memory struct {
	mu     sync.RWMutex
	events []*Event
	next   int
	full   bool
	now    func() time.Time
}

// NewMemory returns a Memory auditor holding up to capacity events. A
// capacity below one uses DefaultCapacity.
func NewMemory(capacity int) *Memory {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Memory{events: make([]*Event, capacity), now: time.Now}
}

// Record stores a copy of event, filling in its ID, timestamp and
// correlation ID when unset.
func (m *Memory) Record(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("audit: event cannot be nil")
	}
	e := stamp(ctx, event, m.now)

	m.mu.Lock()
	m.events[m.next] = e
	m.next = (m.next + 1) % len(m.events)
	if m.next == 0 {
		m.full = true
	}
	m.mu.Unlock()
	return nil
}

// Events returns matching events, oldest first.
func (m *Memory) Events(_ context.Context, q *Query) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ordered []*Event
	if m.full {
		ordered = append(ordered, m.events[m.next:]...)
	}
	ordered = append(ordered, m.events[:m.next]...)

	out := make([]*Event, 0, len(ordered))
	for _, e := range ordered {
		if q.Matches(e) {
			c := *e
			out = append(out, &c)
		}
	}
	if q != nil && q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out, nil
}

// Len returns the number of events held.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.full {
		return len(m.events)
	}
	return m.next
}

func stamp(ctx context.Context, event *Event, now func() time.Time) *Event {
	e := *event
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now().UTC()
	}
	if e.CorrelationID == "" && ctx != nil {
		e.CorrelationID = correlation.GetCorrelationID(ctx)
	}
	if len(event.Detail) > 0 {
		e.Detail = make(map[string]string, len(event.Detail))
		for k, v := range event.Detail {
			e.Detail[k] = v
		}
	}
	return &e
}
