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

// Package keychain wires the key stores, contact cache, distribution
// protocol and bundle exporter behind one Service.
//
// # Overview
//
// A Service is built once at startup from a backend.Set and a storage
// backend and is passed to whatever needs it. There is no package-level
// instance.
//
//	set, _ := backend.NewSet(classical, signatures, kems)
//	store, _ := file.New("/var/lib/pqckeys")
//	svc, err := keychain.New(&keychain.Config{Backends: set, Storage: store})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close()
//
// # Key generation
//
// Every PQC key is announced together with the account's classical OpenPGP
// key, so GenerateKeyPair creates the classical pair first when it is
// missing:
//
//	err := svc.GenerateKeyPair(ctx, "alice@example.com", types.KeyKindPqcKem, "Kyber768")
//
// # Background work
//
// Generation of RSA-4096 and Dilithium5 keys takes long enough to block a
// UI thread. The ...Async methods run the call on a goroutine and deliver
// the result on a buffered channel:
//
//	res := <-svc.GenerateKeyPairAsync(ctx, account, types.KeyKindPqcSignature, "")
//	if res.Err != nil { ... }
package keychain
