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

package keychain

import (
	"errors"

	"github.com/jeremyhahn/go-pqckeys/pkg/contacts"
	"github.com/jeremyhahn/go-pqckeys/pkg/keystore"
	"github.com/jeremyhahn/go-pqckeys/pkg/types"
)

// KeyStatus describes an account's key of one kind.
type KeyStatus struct {
	Kind              types.KeyKind  `json:"kind"`
	State             keystore.State `json:"-"`
	StateName         string         `json:"state"`
	Algorithm         string         `json:"algorithm,omitempty"`
	SelectedAlgorithm string         `json:"selected_algorithm,omitempty"`
	PublicKeySize     int            `json:"public_key_size,omitempty"`
	Fingerprint       string         `json:"fingerprint,omitempty"`

	// Problem is set when the stored pair can no longer be exported.
	Problem string `json:"problem,omitempty"`
}

// Status reports the account's key state for every registered kind.
func (s *Service) Status(account string) ([]KeyStatus, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	kinds := s.registry.Kinds()
	out := make([]KeyStatus, 0, len(kinds))
	for _, kind := range kinds {
		ks, err := s.registry.Get(kind)
		if err != nil {
			return nil, err
		}
		state, err := ks.State(account)
		if err != nil {
			return nil, err
		}
		selected, err := ks.SelectedAlgorithm(account)
		if err != nil {
			return nil, err
		}
		st := KeyStatus{
			Kind:              kind,
			State:             state,
			StateName:         state.String(),
			SelectedAlgorithm: selected,
		}
		if state == keystore.StateKeyPairPresent {
			if st.Algorithm, err = ks.Algorithm(account); err != nil {
				return nil, err
			}
			pub, err := ks.ExportPublicKey(account)
			switch {
			case errors.Is(err, keystore.ErrAlgorithmMismatch):
				st.Problem = err.Error()
			case err != nil:
				return nil, err
			default:
				st.PublicKeySize = len(pub)
				st.Fingerprint = contacts.Fingerprint(pub)
			}
		}
		out = append(out, st)
	}
	return out, nil
}
