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

package storage

import (
	"net/url"
	"strings"
)

// Storage layout:
//
//	keys/{kind}/{account}.json       own key pair record
//	selection/{kind}/{account}       selected algorithm
//	contacts/{scope}.json            persisted contact cache
//	outbox/{id}.json                 spooled outbound announcements
const (
	keysPrefix      = "keys/"
	selectionPrefix = "selection/"
	contactsPrefix  = "contacts/"
	outboxPrefix    = "outbox/"
	jsonSuffix      = ".json"
)

// KeyPairPath returns the storage path of the own key pair record for an
// account under a key kind.
func KeyPairPath(kind, account string) string {
	return keysPrefix + segment(kind) + "/" + segment(account) + jsonSuffix
}

// SelectionPath returns the storage path of the selected algorithm.
func SelectionPath(kind, account string) string {
	return selectionPrefix + segment(kind) + "/" + segment(account)
}

// ContactsPath returns the storage path of a persisted contact cache.
func ContactsPath(scope string) string {
	return contactsPrefix + segment(scope) + jsonSuffix
}

// OutboxPath returns the storage path of a spooled message.
func OutboxPath(id string) string {
	return outboxPrefix + segment(id) + jsonSuffix
}

// ListKeyPairAccounts returns the accounts holding a key pair of kind.
// Returns an empty slice if none exist.
func ListKeyPairAccounts(backend Backend, kind string) ([]string, error) {
	prefix := keysPrefix + segment(kind) + "/"
	return listIDs(backend, prefix, jsonSuffix)
}

// ListOutbox returns the IDs of spooled messages in sorted order.
func ListOutbox(backend Backend) ([]string, error) {
	return listIDs(backend, outboxPrefix, jsonSuffix)
}

func listIDs(backend Backend, prefix, suffix string) ([]string, error) {
	keys, err := backend.List(prefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		id := strings.TrimSuffix(strings.TrimPrefix(k, prefix), suffix)
		if id == "" || strings.Contains(id, "/") {
			continue
		}
		if unescaped, err := url.PathUnescape(id); err == nil {
			id = unescaped
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// segment escapes a path component so identifiers can never introduce
// separators or traversal.
func segment(s string) string {
	escaped := url.PathEscape(s)
	if escaped == "." || escaped == ".." {
		return strings.ReplaceAll(escaped, ".", "%2E")
	}
	return escaped
}
