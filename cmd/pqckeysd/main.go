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

package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/jeremyhahn/go-pqckeys/internal/config"
	"github.com/jeremyhahn/go-pqckeys/internal/server"
	"github.com/jeremyhahn/go-pqckeys/pkg/keychain"
)

var (
	// Build information (set during build)
	commit = "none"
	date   = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (defaults when empty)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("pqckeysd\n")
		fmt.Printf("  Version:    %s\n", keychain.Version())
		fmt.Printf("  Git Commit: %s\n", commit)
		fmt.Printf("  Built:      %s\n", date)
		os.Exit(0)
	}

	if envConfig := os.Getenv(config.EnvPrefix + "CONFIG"); envConfig != "" {
		*configPath = envConfig
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	shutdownCtx, hupCh := server.SetupSignalHandler()

	srv, err := server.New(shutdownCtx, cfg)
	if err != nil {
		slog.Error("Failed to create server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		slog.Error("Failed to start server", slog.Any("error", err))
		os.Exit(1)
	}

	go func() {
		for range hupCh {
			next, err := config.Load(*configPath)
			if err != nil {
				slog.Error("Failed to reload configuration", slog.Any("error", err))
				continue
			}
			if err := srv.Reload(next); err != nil {
				slog.Error("Failed to apply configuration", slog.Any("error", err))
			}
		}
	}()

	exitCode := 0
	if err := srv.Wait(shutdownCtx); err != nil {
		slog.Error("Server error", slog.Any("error", err))
		exitCode = 1
	}

	if err := srv.Shutdown(); err != nil {
		slog.Error("Error during shutdown", slog.Any("error", err))
		exitCode = 1
	}
	os.Exit(exitCode)
}
