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

package server

import (
	"fmt"
	"reflect"

	"github.com/jeremyhahn/go-pqckeys/internal/config"
	"github.com/jeremyhahn/go-pqckeys/pkg/adapters/logger"
)

// Reload applies the parts of cfg that can change without a restart.
// Only the log level is reloaded; other differences are logged and wait
// for the next restart.
func (s *Server) Reload(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("Reloading daemon configuration...")

	if cfg.Logging.Level != s.config.Logging.Level {
		if err := s.app.SetLogLevel(cfg.Logging.Level); err != nil {
			return fmt.Errorf("failed to reload logging configuration: %w", err)
		}
		s.logger.Info("Log level updated",
			logger.String("old_level", s.config.Logging.Level),
			logger.String("new_level", cfg.Logging.Level))
		s.config.Logging.Level = cfg.Logging.Level
	}

	if pending := restartRequired(s.config, cfg); len(pending) > 0 {
		s.logger.Warn("Configuration changes require a restart",
			logger.Strings("sections", pending))
	}

	s.logger.Info("Daemon configuration reloaded")
	return nil
}

// restartRequired names the sections of next that differ from cur in ways
// Reload cannot apply.
func restartRequired(cur, next *config.Config) []string {
	var sections []string
	if cur.Logging.Format != next.Logging.Format {
		sections = append(sections, "logging.format")
	}
	if cur.Storage != next.Storage {
		sections = append(sections, "storage")
	}
	if cur.Security != next.Security {
		sections = append(sections, "security")
	}
	if cur.Contacts != next.Contacts {
		sections = append(sections, "contacts")
	}
	if cur.Distribution != next.Distribution {
		sections = append(sections, "distribution")
	}
	if cur.Audit != next.Audit {
		sections = append(sections, "audit")
	}
	if !reflect.DeepEqual(cur.Server, next.Server) {
		sections = append(sections, "server")
	}
	if !sameAlgorithms(cur.Algorithms, next.Algorithms) {
		sections = append(sections, "algorithms")
	}
	return sections
}

func sameAlgorithms(a, b config.AlgorithmsConfig) bool {
	same := func(x, y config.KindAlgorithms) bool {
		if x.Default != y.Default || len(x.Enabled) != len(y.Enabled) {
			return false
		}
		for i := range x.Enabled {
			if x.Enabled[i] != y.Enabled[i] {
				return false
			}
		}
		return true
	}
	return same(a.Classical, b.Classical) &&
		same(a.PqcSignature, b.PqcSignature) &&
		same(a.PqcKem, b.PqcKem)
}
