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

// Package rest serves a read-mostly public key directory over HTTP.
//
// The server publishes the local accounts' public keys and the cached
// contact keys, and accepts key distribution announcements in the same
// JSON form the outbox spool stores. Secret keys and shared secrets are
// never served.
//
// # Server Setup
//
//	srv, _ := rest.NewServer(&rest.Config{
//	    Service:     svc, // *keychain.Service
//	    Addr:        "127.0.0.1:8480",
//	    MetricsPath: "/metrics",
//	    Limiter:     ratelimit.New(&ratelimit.Config{Enabled: true, RequestsPerMinute: 120, Burst: 20}),
//	})
//	go srv.Start()
//	defer srv.Stop(ctx)
//
// # API Endpoints
//
// Health:
//   - GET /health - Server status and version
//   - GET /health/live, /health/ready, /health/startup - Kubernetes probes
//
// Metrics:
//   - GET /metrics - Prometheus metrics, when MetricsPath is set
//
// Accounts:
//   - GET /api/v1/accounts/{account}/keys - Key status for every kind
//   - GET /api/v1/accounts/{account}/keys/{kind} - One public key; ?format=armor returns the armored block
//   - GET /api/v1/accounts/{account}/announcement - Every public key the account announces
//
// Contacts:
//   - GET /api/v1/contacts/{contact} - Cached keys of one contact
//   - GET /api/v1/contacts/{contact}/keys/{kind} - One cached key
//
// Distribution:
//   - POST /api/v1/announcements - Ingest an announcement message
//
// Kinds are classical, pqc-sig and pqc-kem. Errors are returned as
// ErrorResponse JSON. Every response carries an X-Correlation-ID header.
package rest
