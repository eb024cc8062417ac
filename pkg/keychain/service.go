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
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	wrapping "github.com/hashicorp/go-kms-wrapping/v2"

	"github.com/jeremyhahn/go-pqckeys/pkg/adapters/audit"
	"github.com/jeremyhahn/go-pqckeys/pkg/adapters/logger"
	"github.com/jeremyhahn/go-pqckeys/pkg/backend"
	"github.com/jeremyhahn/go-pqckeys/pkg/bundle"
	"github.com/jeremyhahn/go-pqckeys/pkg/contacts"
	"github.com/jeremyhahn/go-pqckeys/pkg/distribution"
	"github.com/jeremyhahn/go-pqckeys/pkg/keycodec"
	"github.com/jeremyhahn/go-pqckeys/pkg/keystore"
	"github.com/jeremyhahn/go-pqckeys/pkg/ratelimit"
	"github.com/jeremyhahn/go-pqckeys/pkg/storage"
	"github.com/jeremyhahn/go-pqckeys/pkg/types"
)

// Config configures a Service.
type Config struct {
	// Backends supplies one algorithm backend per key kind. Required.
	Backends backend.Set

	// Storage holds key pairs, selections, the contact cache and the
	// outbox. Required.
	Storage storage.Backend

	// Sealer encrypts secret keys and the contact cache at rest. Optional.
	Sealer wrapping.Wrapper

	// ContactScope names the persisted contact cache file.
	ContactScope string

	// AutoPersistContacts writes the contact cache after every change.
	AutoPersistContacts bool

	// Transport delivers announcements. Defaults to a spool in Storage.
	Transport distribution.Transport

	// Subject and Body override the announcement text.
	Subject string
	Body    string

	// IngestLimiter throttles announcements per sender. Optional.
	IngestLimiter *ratelimit.Limiter

	// Codec sets the export password policy. Defaults to keycodec.Default().
	Codec *keycodec.Codec

	// Auditor records key lifecycle events. Optional.
	Auditor audit.Auditor

	Logger logger.Logger
}

// Service is the entry point applications use for key management.
type Service struct {
	backends     backend.Set
	storage      storage.Backend
	registry     *keystore.Registry
	contacts     *contacts.Cache
	distribution *distribution.Protocol
	bundles      *bundle.Exporter
	outbox       *distribution.SpoolTransport
	auditor      audit.Auditor
	logger       logger.Logger

	// mu orders background starts against Close.
	mu        sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
	wg        sync.WaitGroup
}

// New builds the registry, loads the contact cache and wires the protocol
// and exporter.
func New(cfg *Config) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", ErrInvalidConfig)
	}
	if len(cfg.Backends) == 0 {
		return nil, fmt.Errorf("%w: at least one backend is required", ErrInvalidConfig)
	}
	if _, err := cfg.Backends.For(types.KeyKindClassical); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("%w: storage is required", ErrInvalidConfig)
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	codec := cfg.Codec
	if codec == nil {
		codec = keycodec.Default()
	}
	auditor := cfg.Auditor
	if auditor == nil {
		auditor = audit.Nop{}
	}

	cache, err := contacts.New(&contacts.Config{
		Backends:    cfg.Backends,
		Storage:     cfg.Storage,
		Scope:       cfg.ContactScope,
		AutoPersist: cfg.AutoPersistContacts,
		Sealer:      cfg.Sealer,
		Logger:      log,
	})
	if err != nil {
		return nil, err
	}
	if err := cache.Load(); err != nil {
		return nil, fmt.Errorf("keychain: load contacts: %w", err)
	}

	registry, err := keystore.NewRegistryFromSet(cfg.Backends, &keystore.RegistryConfig{
		Storage:  cfg.Storage,
		Contacts: cache,
		Sealer:   cfg.Sealer,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}

	transport := cfg.Transport
	var spool *distribution.SpoolTransport
	if transport == nil {
		if spool, err = distribution.NewSpoolTransport(cfg.Storage); err != nil {
			return nil, err
		}
		transport = spool
	}
	proto, err := distribution.New(&distribution.Config{
		Registry:  registry,
		Contacts:  cache,
		Transport: transport,
		Subject:   cfg.Subject,
		Body:      cfg.Body,
		Limiter:   cfg.IngestLimiter,
		Codec:     codec,
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}
	exporter, err := bundle.New(&bundle.Config{Registry: registry, Codec: codec, Logger: log})
	if err != nil {
		return nil, err
	}

	log.Info("keychain service ready",
		logger.Int("backends", len(cfg.Backends)),
		logger.Int("contacts", cache.Len()))

	return &Service{
		backends:     cfg.Backends,
		storage:      cfg.Storage,
		registry:     registry,
		contacts:     cache,
		distribution: proto,
		bundles:      exporter,
		outbox:       spool,
		auditor:      auditor,
		logger:       log,
		closed:       make(chan struct{}),
	}, nil
}

// Outbox returns the storage spool announcements are delivered to, or nil
// when a custom Transport was configured.
func (s *Service) Outbox() *distribution.SpoolTransport { return s.outbox }

// Registry returns the key store registry.
func (s *Service) Registry() *keystore.Registry { return s.registry }

// Contacts returns the contact cache.
func (s *Service) Contacts() *contacts.Cache { return s.contacts }

// Distribution returns the distribution protocol.
func (s *Service) Distribution() *distribution.Protocol { return s.distribution }

// Bundles returns the .pqk exporter.
func (s *Service) Bundles() *bundle.Exporter { return s.bundles }

// Store returns the key store for kind.
func (s *Service) Store(kind types.KeyKind) (*keystore.KeyStore, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.registry.Get(kind)
}

// EnsureClassicalKey generates the account's classical key pair when it has
// none. It reports whether a pair was generated.
func (s *Service) EnsureClassicalKey(ctx context.Context, account string) (bool, error) {
	ks, err := s.Store(types.KeyKindClassical)
	if err != nil {
		return false, err
	}
	has, err := ks.HasOwnKeyPair(account)
	if err != nil || has {
		return false, err
	}
	err = ks.GenerateKeyPair(ctx, account, "")
	ev := audit.NewEvent(audit.EventKeyGenerate, account, err)
	ev.Kind = types.KeyKindClassical.String()
	ev.Detail = map[string]string{"trigger": "bootstrap"}
	s.record(ctx, ev)
	if err != nil {
		return false, fmt.Errorf("keychain: bootstrap classical key: %w", err)
	}
	return true, nil
}

// GenerateKeyPair creates the account's key pair of kind, replacing any
// existing one. PQC generation first ensures a classical key exists. An
// empty algorithm selects the store's selected or default algorithm.
func (s *Service) GenerateKeyPair(ctx context.Context, account string, kind types.KeyKind, algorithm string) error {
	ks, err := s.Store(kind)
	if err != nil {
		return err
	}
	if kind != types.KeyKindClassical {
		if _, err := s.EnsureClassicalKey(ctx, account); err != nil {
			return err
		}
	}
	err = ks.GenerateKeyPair(ctx, account, algorithm)
	ev := audit.NewEvent(audit.EventKeyGenerate, account, err)
	ev.Kind = kind.String()
	ev.Algorithm = algorithm
	if err == nil {
		stored, algErr := ks.Algorithm(account)
		switch {
		case algErr != nil:
			s.logger.Warn("failed to read generated key algorithm",
				logger.String("account", account), logger.Kind(kind), logger.Error(algErr))
		case stored != "":
			ev.Algorithm = stored
		}
	}
	s.record(ctx, ev)
	return err
}

// ExportPublicKey returns the account's public key of kind, or nil.
func (s *Service) ExportPublicKey(account string, kind types.KeyKind) ([]byte, error) {
	ks, err := s.Store(kind)
	if err != nil {
		return nil, err
	}
	return ks.ExportPublicKey(account)
}

// ClearKeys removes the account's key pair of kind.
func (s *Service) ClearKeys(account string, kind types.KeyKind, deleteRemoteToo bool) error {
	ks, err := s.Store(kind)
	if err != nil {
		return err
	}
	err = ks.ClearAllKeys(account, deleteRemoteToo)
	ev := audit.NewEvent(audit.EventKeyClear, account, err)
	ev.Kind = kind.String()
	ev.Detail = map[string]string{"delete_remote": strconv.FormatBool(deleteRemoteToo)}
	s.record(context.Background(), ev)
	return err
}

// ResetAccount clears the account's key pairs of every kind.
func (s *Service) ResetAccount(account string, deleteRemoteToo bool) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	var errs []error
	for _, kind := range s.registry.Kinds() {
		if err := s.ClearKeys(account, kind, deleteRemoteToo); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
		}
	}
	err := errors.Join(errs...)
	s.record(context.Background(), audit.NewEvent(audit.EventAccountReset, account, err))
	return err
}

// Announce composes the account's announcement and delivers it.
func (s *Service) Announce(ctx context.Context, account string, recipients []string) (*distribution.OutboundMessage, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	msg, err := s.distribution.Send(ctx, account, recipients)
	ev := audit.NewEvent(audit.EventAnnounceSend, account, err)
	ev.Detail = map[string]string{"recipients": strconv.Itoa(len(recipients))}
	s.record(ctx, ev)
	return msg, err
}

// Ingest stores the keys of a received announcement.
func (s *Service) Ingest(ctx context.Context, msg *distribution.OutboundMessage) (*distribution.IngestReport, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	report, err := s.distribution.IngestMessage(ctx, msg)
	sender := ""
	if msg != nil {
		sender = msg.From
	}
	ev := audit.NewEvent(audit.EventAnnounceIngest, sender, err)
	if report != nil {
		ev.Detail = map[string]string{
			"imported": strconv.Itoa(len(report.Imported)),
			"failed":   strconv.Itoa(len(report.Failures)),
		}
	}
	s.record(ctx, ev)
	return report, err
}

// ExportBundle writes the account's key of kind as a .pqk bundle.
func (s *Service) ExportBundle(ctx context.Context, account string, kind types.KeyKind, includeSecret bool, password []byte) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	data, err := s.bundles.Export(ctx, account, kind, includeSecret, password)
	ev := audit.NewEvent(audit.EventBundleExport, account, err)
	ev.Kind = kind.String()
	ev.Detail = map[string]string{"secret": strconv.FormatBool(includeSecret)}
	s.record(ctx, ev)
	return data, err
}

// ImportBundle decodes a .pqk bundle and applies it to account. The caller
// owns the returned bundle and should Zero it.
func (s *Service) ImportBundle(ctx context.Context, account string, data, password []byte) (*bundle.Bundle, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	b, err := s.bundles.Import(data, password)
	if err == nil {
		if err = s.bundles.Apply(ctx, account, b); err != nil {
			b.Zero()
		}
	}
	ev := audit.NewEvent(audit.EventBundleImport, account, err)
	if err != nil {
		s.record(ctx, ev)
		return nil, err
	}
	ev.Kind = b.Kind.String()
	ev.Algorithm = b.Algorithm
	ev.Detail = map[string]string{"secret": strconv.FormatBool(b.HasPrivateKey())}
	s.record(ctx, ev)
	return b, nil
}

func (s *Service) record(ctx context.Context, ev *audit.Event) {
	ev.Account = types.NormalizeIdentifier(ev.Account)
	if err := s.auditor.Record(ctx, ev); err != nil {
		s.logger.Warn("failed to record audit event",
			logger.String("event", string(ev.Type)), logger.Error(err))
	}
}

// Close persists the contact cache and releases the backends. It is safe
// to call more than once; background calls are awaited first.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		close(s.closed)
		s.mu.Unlock()
		s.wg.Wait()

		var errs []error
		if err := s.contacts.Persist(); err != nil {
			errs = append(errs, fmt.Errorf("persist contacts: %w", err))
		}
		if err := s.registry.Close(); err != nil {
			errs = append(errs, err)
		}
		s.closeErr = errors.Join(errs...)
		s.logger.Info("keychain service closed")
	})
	return s.closeErr
}

func (s *Service) checkOpen() error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
		return nil
	}
}
