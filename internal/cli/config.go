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

package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/jeremyhahn/go-pqckeys/internal/bootstrap"
	"github.com/jeremyhahn/go-pqckeys/internal/config"
	"github.com/jeremyhahn/go-pqckeys/internal/password"
	"github.com/jeremyhahn/go-pqckeys/pkg/types"
)

// Config holds global CLI configuration
type Config struct {
	// ConfigFile is the path to the YAML configuration file
	ConfigFile string

	// DataDir overrides storage.path
	DataDir string

	// Storage overrides storage.backend (memory, file)
	Storage string

	// OutputFormat controls output formatting (json, text, table)
	OutputFormat string

	// Verbose enables verbose logging
	Verbose bool
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		OutputFormat: "text",
	}
}

// Load reads the configuration file and applies the command-line overrides.
func (c *Config) Load() (*config.Config, error) {
	cfg, err := config.Load(c.ConfigFile)
	if err != nil {
		return nil, err
	}
	if c.Storage != "" {
		cfg.Storage.Backend = c.Storage
	}
	if c.DataDir != "" {
		cfg.Storage.Path = c.DataDir
	}
	if c.Verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// OpenService builds the keychain service described by the configuration.
func (c *Config) OpenService(ctx context.Context) (*bootstrap.App, error) {
	cfg, err := c.Load()
	if err != nil {
		return nil, err
	}
	return bootstrap.Open(ctx, cfg)
}

// bundlePassword reads a .pqk password from the named environment variable.
// An unset variable yields nil so that public-only exports stay possible.
func bundlePassword(env string) (types.Password, error) {
	if env == "" {
		return nil, nil
	}
	if _, ok := os.LookupEnv(env); !ok {
		return nil, nil
	}
	return password.FromEnv(env)
}
