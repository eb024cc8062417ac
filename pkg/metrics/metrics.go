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

// Package metrics provides Prometheus instrumentation for go-pqckeys.
// It counts key store, contact cache and distribution operations per key
// kind and exposes HTTP and process resource gauges for the REST server.
package metrics

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all go-pqckeys metrics
	Namespace = "pqckeys"

	// Label names
	LabelOperation  = "operation"
	LabelKind       = "key_kind"
	LabelStatus     = "status"
	LabelErrorType  = "error_type"
	LabelDirection  = "direction"
	LabelMethod     = "method"
	LabelStatusCode = "status_code"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"
	StatusPartial = "partial"

	// Distribution directions
	DirectionOutbound = "outbound"
	DirectionInbound  = "inbound"

	// Operation names
	OpGenerate = "generate"
	OpExport   = "export"
	OpImport   = "import"
	OpClear    = "clear"
	OpSelect   = "select"
	OpList     = "list"
	OpIngest   = "ingest"
	OpLookup   = "lookup"
	OpAnnounce = "announce"
	OpExchange = "exchange"
	OpBundle   = "bundle"
)

var (
	// OperationsTotal counts operations by name, key kind and status.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Total number of key operations by type, key kind, and status",
		},
		[]string{LabelOperation, LabelKind, LabelStatus},
	)

	// OperationDuration tracks operation latency in seconds. Key generation
	// for RSA-4096 dominates the upper buckets.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of key operations in seconds",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 2.5, 5, 10},
		},
		[]string{LabelOperation, LabelKind},
	)

	// ErrorsTotal counts errors by operation, key kind and error type.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by operation, key kind, and error type",
		},
		[]string{LabelOperation, LabelKind, LabelErrorType},
	)

	// KeysTotal is the number of stored own key pairs per kind.
	KeysTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "keys_total",
			Help:      "Number of stored key pairs per key kind",
		},
		[]string{LabelKind},
	)

	// ContactsTotal is the number of cached contact keys per kind.
	ContactsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "contacts_total",
			Help:      "Number of cached contact public keys per key kind",
		},
		[]string{LabelKind},
	)

	// DistributionMessagesTotal counts key distribution messages.
	DistributionMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "distribution",
			Name:      "messages_total",
			Help:      "Total number of key distribution messages by direction and status",
		},
		[]string{LabelDirection, LabelStatus},
	)

	// RateLimitedTotal counts announcements rejected by the rate limiter.
	RateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "distribution",
			Name:      "rate_limited_total",
			Help:      "Total number of announcements rejected by the rate limiter",
		},
	)

	// ActiveConnections is the number of in-flight HTTP requests.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_connections",
			Help:      "Number of in-flight HTTP requests",
		},
	)

	// HTTPRequestsTotal tracks the total number of HTTP requests by method and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status code",
		},
		[]string{LabelMethod, LabelStatusCode},
	)

	// HTTPRequestDuration tracks the duration of HTTP requests in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod},
	)

	// Goroutines tracks the current number of goroutines.
	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	// MemoryAllocBytes tracks the current bytes of allocated heap objects.
	MemoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_alloc_bytes",
			Help:      "Current bytes of allocated heap objects",
		},
	)

	// ServerUptime tracks the server uptime in seconds since startup.
	ServerUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "server_uptime_seconds",
			Help:      "Server uptime in seconds since startup",
		},
	)

	// enabled tracks whether metrics collection is enabled
	enabled atomic.Bool
)

func init() {
	enabled.Store(true)
}

// RecordOperation records an operation with its duration and status.
func RecordOperation(operation, kind, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	OperationsTotal.WithLabelValues(operation, kind, status).Inc()
	OperationDuration.WithLabelValues(operation, kind).Observe(duration)
}

// RecordError records an error event with context about where it occurred.
func RecordError(operation, kind, errorType string) {
	if !enabled.Load() {
		return
	}
	ErrorsTotal.WithLabelValues(operation, kind, errorType).Inc()
}

// ErrorClassifier maps an error to a short error_type label value.
type ErrorClassifier func(error) string

// Track starts timing an operation. Call the returned function with the
// operation's result:
//
//	done := metrics.Track(metrics.OpGenerate, kind.String(), classify)
//	defer func() { done(err) }()
func Track(operation, kind string, classify ErrorClassifier) func(error) {
	start := time.Now()
	return func(err error) {
		d := time.Since(start).Seconds()
		if err == nil {
			RecordOperation(operation, kind, StatusSuccess, d)
			return
		}
		RecordOperation(operation, kind, StatusError, d)
		errType := "unknown"
		if classify != nil {
			errType = classify(err)
		}
		RecordError(operation, kind, errType)
	}
}

// ClassifyBy returns an ErrorClassifier matching sentinels with errors.Is in
// the order given. Unmatched errors are classified as "internal".
func ClassifyBy(pairs ...ErrorLabel) ErrorClassifier {
	return func(err error) string {
		for _, p := range pairs {
			if errors.Is(err, p.Err) {
				return p.Label
			}
		}
		return "internal"
	}
}

// ErrorLabel pairs a sentinel error with its metric label.
type ErrorLabel struct {
	Err   error
	Label string
}

// RecordDistribution records a sent or received key distribution message.
func RecordDistribution(direction, status string) {
	if !enabled.Load() {
		return
	}
	DistributionMessagesTotal.WithLabelValues(direction, status).Inc()
}

// RecordRateLimited increments the rate limited counter.
func RecordRateLimited() {
	if !enabled.Load() {
		return
	}
	RateLimitedTotal.Inc()
}

// RecordHTTPRequest records an HTTP request with its duration and status.
func RecordHTTPRequest(method, statusCode string, duration float64) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(duration)
}

// SetKeysTotal sets the stored key pair count for a kind.
func SetKeysTotal(kind string, count float64) {
	if !enabled.Load() {
		return
	}
	KeysTotal.WithLabelValues(kind).Set(count)
}

// SetContactsTotal sets the cached contact key count for a kind.
func SetContactsTotal(kind string, count float64) {
	if !enabled.Load() {
		return
	}
	ContactsTotal.WithLabelValues(kind).Set(count)
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
