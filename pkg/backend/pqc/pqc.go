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

// Package pqc provides pure-Go post-quantum backends built on
// github.com/cloudflare/circl. It needs no cgo and is the default provider
// for the PQC signature and KEM key kinds.
package pqc

import (
	"fmt"
	"sync"

	"github.com/jeremyhahn/go-pqckeys/pkg/backend"
	"github.com/jeremyhahn/go-pqckeys/pkg/types"
)

// BackendName is returned by Name.
const BackendName = "circl"

// Config selects which algorithms are enabled. An empty list enables every
// algorithm the backend knows.
type Config struct {
	Algorithms []string
}

// SignatureAlgorithms lists the signature schemes known to this package.
var SignatureAlgorithms = []string{
	types.AlgorithmDilithium2,
	types.AlgorithmDilithium3,
	types.AlgorithmDilithium5,
	types.AlgorithmMLDSA44,
	types.AlgorithmMLDSA65,
	types.AlgorithmMLDSA87,
}

// KEMAlgorithms lists the KEM schemes known to this package.
var KEMAlgorithms = []string{
	types.AlgorithmKyber512,
	types.AlgorithmKyber768,
	types.AlgorithmKyber1024,
	types.AlgorithmMLKEM512,
	types.AlgorithmMLKEM768,
	types.AlgorithmMLKEM1024,
}

// algorithmSet tracks the enabled subset of a known list.
type algorithmSet struct {
	known   []string
	enabled map[string]bool
	closed  bool
	mu      sync.RWMutex
}

func newAlgorithmSet(known []string, config *Config) (*algorithmSet, error) {
	s := &algorithmSet{
		known:   known,
		enabled: make(map[string]bool, len(known)),
	}
	if config == nil || len(config.Algorithms) == 0 {
		for _, alg := range known {
			s.enabled[alg] = true
		}
		return s, nil
	}
	for _, alg := range config.Algorithms {
		if !contains(known, alg) {
			return nil, fmt.Errorf("%w: %s", backend.ErrUnsupportedAlgorithm, alg)
		}
		s.enabled[alg] = true
	}
	return s, nil
}

func (s *algorithmSet) list() []string {
	out := make([]string, len(s.known))
	copy(out, s.known)
	return out
}

func (s *algorithmSet) isEnabled(alg string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled[alg]
}

// check returns ErrClosed or ErrUnsupportedAlgorithm.
func (s *algorithmSet) check(alg string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return backend.ErrClosed
	}
	if !s.enabled[alg] {
		return fmt.Errorf("%w: %s", backend.ErrUnsupportedAlgorithm, alg)
	}
	return nil
}

func (s *algorithmSet) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
