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

// Package bootstrap assembles a keychain.Service from the YAML
// configuration. The CLI and the pqckeysd daemon both open their service
// through Open.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	wrapping "github.com/hashicorp/go-kms-wrapping/v2"

	"github.com/jeremyhahn/go-pqckeys/internal/config"
	"github.com/jeremyhahn/go-pqckeys/internal/password"
	"github.com/jeremyhahn/go-pqckeys/pkg/adapters/audit"
	"github.com/jeremyhahn/go-pqckeys/pkg/adapters/logger"
	"github.com/jeremyhahn/go-pqckeys/pkg/backend"
	"github.com/jeremyhahn/go-pqckeys/pkg/backend/pgp"
	"github.com/jeremyhahn/go-pqckeys/pkg/keychain"
	"github.com/jeremyhahn/go-pqckeys/pkg/keycodec"
	"github.com/jeremyhahn/go-pqckeys/pkg/ratelimit"
	"github.com/jeremyhahn/go-pqckeys/pkg/sealing"
	"github.com/jeremyhahn/go-pqckeys/pkg/storage"
	"github.com/jeremyhahn/go-pqckeys/pkg/storage/file"
	"github.com/jeremyhahn/go-pqckeys/pkg/storage/memory"
	"github.com/jeremyhahn/go-pqckeys/pkg/types"
)

// App is an opened Service together with the configuration it was built
// from. Close releases everything Open created.
type App struct {
	*keychain.Service
	Config *config.Config
	Logger logger.Logger

	storage  storage.Backend
	limiter  *ratelimit.Limiter
	logLevel *slog.LevelVar
	history  *audit.Memory
}

// Open builds the keychain service described by cfg. cfg must already be
// validated.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	levelVar := new(slog.LevelVar)
	log, err := newLogger(cfg.Logging, levelVar)
	if err != nil {
		return nil, err
	}

	store, err := newStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage backend: %w", err)
	}

	sealer, err := newSealer(ctx, cfg.Security)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	set, err := NewBackendSet(cfg.Algorithms)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create backends: %w", err)
	}

	var limiter *ratelimit.Limiter
	if cfg.Distribution.IngestPerMinute > 0 {
		limiter = ratelimit.New(&ratelimit.Config{
			Enabled:           true,
			RequestsPerMinute: cfg.Distribution.IngestPerMinute,
			Burst:             cfg.Distribution.IngestBurst,
		})
	}

	auditor, history := newAuditor(cfg.Audit, log)

	svc, err := keychain.New(&keychain.Config{
		Backends:            set,
		Storage:             store,
		Sealer:              sealer,
		ContactScope:        cfg.Contacts.Scope,
		AutoPersistContacts: cfg.Contacts.AutoPersist,
		Subject:             cfg.Distribution.Subject,
		Body:                cfg.Distribution.Body,
		IngestLimiter:       limiter,
		Codec: keycodec.New(&keycodec.Config{
			MinPasswordLength: cfg.Security.MinPasswordLength,
			Iterations:        cfg.Security.Iterations,
		}),
		Auditor: auditor,
		Logger:  log,
	})
	if err != nil {
		_ = set.Close()
		_ = store.Close()
		if limiter != nil {
			limiter.Stop()
		}
		return nil, err
	}
	return &App{
		Service:  svc,
		Config:   cfg,
		Logger:   log,
		storage:  store,
		limiter:  limiter,
		logLevel: levelVar,
		history:  history,
	}, nil
}

// Close closes the service and stops background workers.
func (a *App) Close() error {
	err := a.Service.Close()
	if a.limiter != nil {
		a.limiter.Stop()
	}
	return errors.Join(err, a.storage.Close())
}

// AuditHistory returns the in-memory audit history, or nil when disabled.
func (a *App) AuditHistory() *audit.Memory { return a.history }

// Storage returns the storage backend the service runs on.
func (a *App) Storage() storage.Backend { return a.storage }

// Algorithm returns the algorithm to generate for kind: the account's
// selection when one exists, otherwise the configured default.
func (a *App) Algorithm(account string, kind types.KeyKind) (string, error) {
	ks, err := a.Store(kind)
	if err != nil {
		return "", err
	}
	sel, err := ks.SelectedAlgorithm(account)
	if err != nil || sel != "" {
		return sel, err
	}
	return a.Config.Algorithms.For(kind).Default, nil
}

// SetLogLevel changes the level of the App's logger.
func (a *App) SetLogLevel(level string) error {
	lvl, err := logger.ParseLevel(level)
	if err != nil {
		return err
	}
	a.logLevel.Set(logger.SlogLevel(lvl))
	return nil
}

// NewBackendSet creates the classical backend and the build's PQC backends.
func NewBackendSet(algs config.AlgorithmsConfig) (backend.Set, error) {
	classical, err := pgp.New(&pgp.Config{
		Algorithms: algs.Classical.Enabled,
		Comment:    "pqckeys",
	})
	if err != nil {
		return nil, fmt.Errorf("classical backend: %w", err)
	}
	sig, kem, err := pqcBackends(algs)
	if err != nil {
		_ = classical.Close()
		return nil, err
	}
	return backend.NewSet(classical, sig, kem)
}

func newLogger(cfg config.LoggingConfig, levelVar *slog.LevelVar) (logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	return logger.NewSlogAdapter(&logger.SlogConfig{
		Level:    level,
		LevelVar: levelVar,
		Format:   cfg.Format,
		Output:   os.Stderr,
	}), nil
}

// newAuditor combines the log and history auditors cfg enables.
func newAuditor(cfg config.AuditConfig, log logger.Logger) (audit.Auditor, *audit.Memory) {
	var auditors audit.Multi
	if cfg.Log {
		auditors = append(auditors, audit.NewLog(log))
	}
	var history *audit.Memory
	if cfg.History > 0 {
		history = audit.NewMemory(cfg.History)
		auditors = append(auditors, history)
	}
	if len(auditors) == 0 {
		return audit.Nop{}, nil
	}
	return auditors, history
}

func newStorage(cfg config.StorageConfig) (storage.Backend, error) {
	switch strings.ToLower(cfg.Backend) {
	case config.StorageMemory:
		return memory.New(), nil
	case config.StorageFile:
		return file.New(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// newSealer returns nil when secret keys are stored unsealed.
func newSealer(ctx context.Context, cfg config.SecurityConfig) (wrapping.Wrapper, error) {
	if !cfg.SealSecretKeys {
		return nil, nil
	}
	pass, err := readPassphrase(cfg)
	if err != nil {
		return nil, err
	}
	defer pass.Clear()

	w := sealing.NewWrapper()
	if _, err := w.SetConfig(ctx, sealing.WithPassphrase(pass.Bytes())); err != nil {
		return nil, fmt.Errorf("failed to configure sealing: %w", err)
	}
	return w, nil
}

// readPassphrase reads the sealing passphrase from the environment
// variable, falling back to the file.
func readPassphrase(cfg config.SecurityConfig) (types.Password, error) {
	if cfg.PassphraseEnv != "" {
		pass, err := password.FromEnv(cfg.PassphraseEnv)
		if err == nil {
			return pass, nil
		}
		if cfg.PassphraseFile == "" {
			return nil, fmt.Errorf("sealing passphrase: %w", err)
		}
	}
	// #nosec G304 - passphrase file path is provided by admin/user
	data, err := os.ReadFile(cfg.PassphraseFile)
	if err != nil {
		return nil, fmt.Errorf("sealing passphrase: %w", err)
	}
	defer zero(data)
	pass, err := password.NewClearPassword([]byte(strings.TrimRight(string(data), "\r\n")))
	if errors.Is(err, password.ErrEmptyPassword) {
		return nil, fmt.Errorf("sealing passphrase: %s is empty", cfg.PassphraseFile)
	}
	return pass, err
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
