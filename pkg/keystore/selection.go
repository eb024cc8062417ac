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

package keystore

import (
	"fmt"

	"github.com/jeremyhahn/go-pqckeys/pkg/adapters/logger"
	"github.com/jeremyhahn/go-pqckeys/pkg/metrics"
	"github.com/jeremyhahn/go-pqckeys/pkg/storage"
)

// State is the algorithm lifecycle of one account and kind.
//
//	NoAlgorithm --select--> AlgorithmSelected --generate--> KeyPairPresent
//	KeyPairPresent --clear--> NoAlgorithm
//
// Selecting a different algorithm in KeyPairPresent is refused.
type State int

const (
	StateNoAlgorithm State = iota
	StateAlgorithmSelected
	StateKeyPairPresent
)

func (s State) String() string {
	switch s {
	case StateNoAlgorithm:
		return "no-algorithm"
	case StateAlgorithmSelected:
		return "algorithm-selected"
	case StateKeyPairPresent:
		return "key-pair-present"
	default:
		return "unknown"
	}
}

// State reports the account's lifecycle state.
func (ks *KeyStore) State(id string) (State, error) {
	acct, err := normalizeAccount(id)
	if err != nil {
		return StateNoAlgorithm, err
	}
	rec, err := ks.load(acct)
	if err != nil {
		return StateNoAlgorithm, err
	}
	if rec.exists() {
		return StateKeyPairPresent, nil
	}
	sel, err := ks.selected(acct)
	if err != nil {
		return StateNoAlgorithm, err
	}
	if sel != "" {
		return StateAlgorithmSelected, nil
	}
	return StateNoAlgorithm, nil
}

// SelectedAlgorithm returns the account's selected algorithm, or "" when
// none is selected.
func (ks *KeyStore) SelectedAlgorithm(id string) (string, error) {
	acct, err := normalizeAccount(id)
	if err != nil {
		return "", err
	}
	return ks.selected(acct)
}

// SelectAlgorithm records the algorithm to use for the next generation.
// Re-selecting the algorithm of an existing pair is a no-op; selecting any
// other, or "", while a pair exists returns ErrAlgorithmSwitchRequiresReset.
// Selecting "" without a pair clears the selection.
func (ks *KeyStore) SelectAlgorithm(id, algorithm string) (err error) {
	done := metrics.Track(metrics.OpSelect, ks.kind.String(), classify)
	defer func() { done(err) }()

	acct, err := normalizeAccount(id)
	if err != nil {
		return err
	}
	if algorithm != "" && !ks.backend.IsAlgorithmEnabled(algorithm) {
		return fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}

	unlock := ks.locks.Lock(acct)
	defer unlock()

	rec, err := ks.load(acct)
	if err != nil {
		return err
	}
	if rec.exists() {
		if rec.Algorithm == algorithm {
			return nil
		}
		return fmt.Errorf("%w: %s has a %s key pair", ErrAlgorithmSwitchRequiresReset, acct, rec.Algorithm)
	}

	path := storage.SelectionPath(ks.kind.String(), acct)
	if algorithm == "" {
		err = storage.DeleteIfExists(ks.storage, path)
	} else {
		err = ks.storage.Put(path, []byte(algorithm), storage.DefaultOptions())
	}
	if err != nil {
		return fmt.Errorf("keystore: write selection: %w", err)
	}
	ks.logger.Debug("algorithm selected", logger.String("account", acct), logger.Algorithm(algorithm))
	return nil
}

func (ks *KeyStore) selected(acct string) (string, error) {
	sel, err := storage.GetString(ks.storage, storage.SelectionPath(ks.kind.String(), acct))
	if err != nil {
		return "", fmt.Errorf("keystore: read selection: %w", err)
	}
	return sel, nil
}
