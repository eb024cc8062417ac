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
	"errors"
	"time"

	"github.com/jeremyhahn/go-pqckeys/pkg/adapters/logger"
)

// Log writes each event as a structured log record. Failures are logged at
// warn level.
type Log struct {
	logger logger.Logger
}

// NewLog returns an auditor that writes to log.
func NewLog(log logger.Logger) *Log {
	if log == nil {
		log = logger.NewNop()
	}
	return &Log{logger: log.With(logger.String("component", "audit"))}
}

func (l *Log) Record(ctx context.Context, event *Event) error {
	e := stamp(ctx, event, time.Now)
	fields := []logger.Field{
		logger.String("event_id", e.ID),
		logger.String("event", string(e.Type)),
		logger.String("outcome", string(e.Outcome)),
	}
	if e.Account != "" {
		fields = append(fields, logger.String("account", e.Account))
	}
	if e.Kind != "" {
		fields = append(fields, logger.String("key_kind", e.Kind))
	}
	if e.Algorithm != "" {
		fields = append(fields, logger.Algorithm(e.Algorithm))
	}
	for k, v := range e.Detail {
		fields = append(fields, logger.String(k, v))
	}
	if e.CorrelationID != "" {
		fields = append(fields, logger.String("correlation_id", e.CorrelationID))
	}
	if e.Outcome == OutcomeFailure {
		l.logger.Warn("audit", append(fields, logger.String("error", e.Error))...)
		return nil
	}
	l.logger.Info("audit", fields...)
	return nil
}

// Multi fans events out to several auditors. Every auditor sees every
// event; errors are joined.
type Multi []Auditor

func (m Multi) Record(ctx context.Context, event *Event) error {
	var errs []error
	for _, a := range m {
		if a == nil {
			continue
		}
		if err := a.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
