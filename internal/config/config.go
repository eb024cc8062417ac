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

// Package config loads the pqckeys daemon and CLI configuration from YAML
// with PQCKEYS_* environment overrides.
package config

import (
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-pqckeys/pkg/adapters/kdf"
	"github.com/jeremyhahn/go-pqckeys/pkg/backend/pgp"
	"github.com/jeremyhahn/go-pqckeys/pkg/backend/pqc"
	"github.com/jeremyhahn/go-pqckeys/pkg/contacts"
	"github.com/jeremyhahn/go-pqckeys/pkg/types"
	"github.com/jeremyhahn/go-pqckeys/pkg/validation"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PQCKEYS_"

// Storage backend names.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
)

// Config represents the complete pqckeys configuration
type Config struct {
	Storage      StorageConfig      `yaml:"storage"`
	Logging      LoggingConfig      `yaml:"logging"`
	Algorithms   AlgorithmsConfig   `yaml:"algorithms"`
	Security     SecurityConfig     `yaml:"security"`
	Contacts     ContactsConfig     `yaml:"contacts"`
	Distribution DistributionConfig `yaml:"distribution"`
	Server       ServerConfig       `yaml:"server"`
	Audit        AuditConfig        `yaml:"audit"`
}

// AuditConfig controls the key lifecycle audit trail.
type AuditConfig struct {
	// Log writes every event to the application log.
	Log bool `yaml:"log"`
	// History is the number of recent events kept in memory for the key
	// directory. Zero disables the history.
	History int `yaml:"history"`
}

// StorageConfig selects where key pairs, selections and contacts live
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// KindAlgorithms configures one key kind: the algorithm used when an
// account has made no selection, and the enabled set. An empty Enabled
// list enables everything the backend supports.
type KindAlgorithms struct {
	Default string   `yaml:"default"`
	Enabled []string `yaml:"enabled,omitempty"`
}

// AlgorithmsConfig holds per-kind algorithm settings
type AlgorithmsConfig struct {
	Classical    KindAlgorithms `yaml:"classical"`
	PqcSignature KindAlgorithms `yaml:"pqc_signature"`
	PqcKem       KindAlgorithms `yaml:"pqc_kem"`
}

// SecurityConfig controls password policy and at-rest protection
type SecurityConfig struct {
	MinPasswordLength int `yaml:"min_password_length"`
	Iterations        int `yaml:"pbkdf2_iterations"`

	// SealSecretKeys encrypts stored secret keys with a passphrase-derived
	// key. The passphrase is read from PassphraseEnv, or PassphraseFile.
	SealSecretKeys bool   `yaml:"seal_secret_keys"`
	PassphraseEnv  string `yaml:"passphrase_env"`
	PassphraseFile string `yaml:"passphrase_file"`
}

// ContactsConfig controls the contact key cache
type ContactsConfig struct {
	Scope       string `yaml:"scope"`
	AutoPersist bool   `yaml:"auto_persist"`
}

// DistributionConfig controls outgoing and incoming key announcements
type DistributionConfig struct {
	Subject         string `yaml:"subject"`
	Body            string `yaml:"body"`
	IngestPerMinute int    `yaml:"ingest_per_minute"`
	IngestBurst     int    `yaml:"ingest_burst"`
}

// ServerConfig controls the key directory HTTP server
type ServerConfig struct {
	Host            string          `yaml:"host"`
	Port            int             `yaml:"port"`
	ReadTimeout     time.Duration   `yaml:"read_timeout"`
	WriteTimeout    time.Duration   `yaml:"write_timeout"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	RateLimit       RateLimitConfig `yaml:"ratelimit"`
	Metrics         MetricsConfig   `yaml:"metrics"`
	Health          HealthConfig    `yaml:"health"`
	TLS             TLSConfig       `yaml:"tls"`
	QUIC            QUICConfig      `yaml:"quic"`
	Auth            AuthConfig      `yaml:"auth"`
}

// AuthConfig lists the API keys accepted by the announcement and audit
// routes. With no keys those routes reject every request.
type AuthConfig struct {
	APIKeys []APIKeyConfig `yaml:"api_keys"`
}

// APIKeyConfig is one client key. The key is given inline or read from
// the KeyEnv environment variable. Senders limits the announcement senders
// the client may submit for; empty allows any.
type APIKeyConfig struct {
	Name    string   `yaml:"name"`
	Key     string   `yaml:"key"`
	KeyEnv  string   `yaml:"key_env"`
	Senders []string `yaml:"senders"`
}

// Redacted returns a copy of c with inline API keys masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	out.Server.Auth.APIKeys = make([]APIKeyConfig, len(c.Server.Auth.APIKeys))
	for i, k := range c.Server.Auth.APIKeys {
		if k.Key != "" {
			k.Key = "REDACTED"
		}
		out.Server.Auth.APIKeys[i] = k
	}
	return &out
}

// Resolve returns the configured key.
func (k APIKeyConfig) Resolve() string {
	if k.Key != "" {
		return k.Key
	}
	if k.KeyEnv != "" {
		return os.Getenv(k.KeyEnv)
	}
	return ""
}

// TLSConfig names the server certificate. When set the REST listener
// serves HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Enabled reports whether a certificate is configured.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

// QUICConfig enables an HTTP/3 listener next to the REST listener. It
// requires TLS.
type QUICConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// RateLimitConfig controls rate limiting
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min"`
	Burst          int  `yaml:"burst"`
}

// MetricsConfig controls metrics endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// HealthConfig controls health check endpoint
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns a configuration that passes Validate. Keys are stored
// under ~/.pqckeys when a home directory is known.
func Default() *Config {
	path := ".pqckeys"
	if home, err := os.UserHomeDir(); err == nil {
		path = filepath.Join(home, ".pqckeys")
	}
	return &Config{
		Storage: StorageConfig{Backend: StorageFile, Path: path},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Algorithms: AlgorithmsConfig{
			Classical:    KindAlgorithms{Default: types.DefaultAlgorithm(types.KeyKindClassical)},
			PqcSignature: KindAlgorithms{Default: types.DefaultAlgorithm(types.KeyKindPqcSignature)},
			PqcKem:       KindAlgorithms{Default: types.DefaultAlgorithm(types.KeyKindPqcKem)},
		},
		Security: SecurityConfig{
			MinPasswordLength: 8,
			Iterations:        kdf.MinPBKDF2Iterations,
			PassphraseEnv:     EnvPrefix + "PASSPHRASE",
		},
		Contacts: ContactsConfig{Scope: contacts.DefaultScope, AutoPersist: true},
		Distribution: DistributionConfig{
			IngestPerMinute: 60,
			IngestBurst:     10,
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8480,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       RateLimitConfig{Enabled: true, RequestsPerMin: 120, Burst: 20},
			Metrics:         MetricsConfig{Enabled: true, Path: "/metrics"},
			Health:          HealthConfig{Enabled: true, Path: "/health"},
			QUIC:            QUICConfig{Port: 8443},
		},
		Audit: AuditConfig{Log: true, History: 1024},
	}
}

// Load reads configuration from a YAML file on top of Default and applies
// environment variable overrides. An empty path loads the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 - Config file path is provided by admin/user
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration as YAML with owner-only permissions.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	// Storage
	if backend := os.Getenv(EnvPrefix + "STORAGE"); backend != "" {
		cfg.Storage.Backend = backend
	}
	if dataDir := os.Getenv(EnvPrefix + "DATA_DIR"); dataDir != "" {
		cfg.Storage.Path = dataDir
	}

	// Logging
	if level := os.Getenv(EnvPrefix + "LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv(EnvPrefix + "LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	// Algorithms
	if alg := os.Getenv(EnvPrefix + "CLASSICAL_ALGORITHM"); alg != "" {
		cfg.Algorithms.Classical.Default = alg
	}
	if alg := os.Getenv(EnvPrefix + "SIGNATURE_ALGORITHM"); alg != "" {
		cfg.Algorithms.PqcSignature.Default = alg
	}
	if alg := os.Getenv(EnvPrefix + "KEM_ALGORITHM"); alg != "" {
		cfg.Algorithms.PqcKem.Default = alg
	}

	// Security
	if v := os.Getenv(EnvPrefix + "SEAL_SECRET_KEYS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			log.Printf("Warning: invalid %sSEAL_SECRET_KEYS value %q, using %t: %v",
				EnvPrefix, v, cfg.Security.SealSecretKeys, err)
		} else {
			cfg.Security.SealSecretKeys = b
		}
	}
	if file := os.Getenv(EnvPrefix + "PASSPHRASE_FILE"); file != "" {
		cfg.Security.PassphraseFile = file
	}

	if key := os.Getenv(EnvPrefix + "API_KEY"); key != "" {
		cfg.Server.Auth.APIKeys = append(cfg.Server.Auth.APIKeys, APIKeyConfig{Name: "env", Key: key})
	}

	// Contacts
	if scope := os.Getenv(EnvPrefix + "CONTACT_SCOPE"); scope != "" {
		cfg.Contacts.Scope = scope
	}

	// Server
	if host := os.Getenv(EnvPrefix + "HOST"); host != "" {
		cfg.Server.Host = host
	}
	if restPort := os.Getenv(EnvPrefix + "PORT"); restPort != "" {
		port, err := strconv.Atoi(restPort)
		if err != nil {
			log.Printf("Warning: invalid %sPORT value %q, using default %d: %v",
				EnvPrefix, restPort, cfg.Server.Port, err)
		} else if port < 1 || port > 65535 {
			log.Printf("Warning: invalid %sPORT value %q (out of range 1-65535), using default %d",
				EnvPrefix, restPort, cfg.Server.Port)
		} else {
			cfg.Server.Port = port
		}
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate storage
	switch strings.ToLower(c.Storage.Backend) {
	case StorageMemory:
	case StorageFile:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path must be specified for the file backend")
		}
	case "":
		return fmt.Errorf("storage backend must be specified")
	default:
		return fmt.Errorf("invalid storage backend: %s (must be memory or file)", c.Storage.Backend)
	}

	// Validate logging level
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, error, or fatal)", c.Logging.Level)
	}

	// Validate logging format
	validFormats := map[string]bool{
		"json": true, "text": true,
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	// Validate algorithms
	for _, kind := range types.AllKeyKinds {
		ka := c.Algorithms.For(kind)
		known := KnownAlgorithms(kind)
		if err := checkAlgorithms(kind, ka, known); err != nil {
			return err
		}
	}

	// Validate security
	if c.Security.MinPasswordLength < 1 {
		return fmt.Errorf("security.min_password_length must be at least 1")
	}
	if c.Security.Iterations < kdf.MinPBKDF2Iterations {
		return fmt.Errorf("security.pbkdf2_iterations must be at least %d", kdf.MinPBKDF2Iterations)
	}
	if c.Security.SealSecretKeys && c.Security.PassphraseEnv == "" && c.Security.PassphraseFile == "" {
		return fmt.Errorf("seal_secret_keys requires passphrase_env or passphrase_file")
	}

	// Validate contacts
	if err := validation.ValidateScope(c.Contacts.Scope); err != nil {
		return fmt.Errorf("invalid contacts scope: %w", err)
	}

	// Validate distribution
	if c.Distribution.IngestPerMinute < 0 || c.Distribution.IngestBurst < 0 {
		return fmt.Errorf("distribution ingest limits must not be negative")
	}

	if c.Audit.History < 0 {
		return fmt.Errorf("audit.history must not be negative")
	}

	// Validate server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerMin < 1 {
		return fmt.Errorf("server.ratelimit.requests_per_min must be positive when enabled")
	}
	if c.Server.Metrics.Enabled && !strings.HasPrefix(c.Server.Metrics.Path, "/") {
		return fmt.Errorf("invalid metrics path: %q", c.Server.Metrics.Path)
	}
	if c.Server.Health.Enabled && !strings.HasPrefix(c.Server.Health.Path, "/") {
		return fmt.Errorf("invalid health path: %q", c.Server.Health.Path)
	}
	if (c.Server.TLS.CertFile == "") != (c.Server.TLS.KeyFile == "") {
		return fmt.Errorf("server.tls needs both cert_file and key_file")
	}
	names := make(map[string]bool, len(c.Server.Auth.APIKeys))
	for i, k := range c.Server.Auth.APIKeys {
		if k.Name == "" {
			return fmt.Errorf("server.auth.api_keys[%d]: name is required", i)
		}
		if names[k.Name] {
			return fmt.Errorf("server.auth.api_keys: duplicate name %q", k.Name)
		}
		names[k.Name] = true
		if (k.Key == "") == (k.KeyEnv == "") {
			return fmt.Errorf("server.auth.api_keys[%s]: set exactly one of key or key_env", k.Name)
		}
		for _, sender := range k.Senders {
			if strings.TrimSpace(sender) == "" {
				return fmt.Errorf("server.auth.api_keys[%s]: empty sender", k.Name)
			}
		}
	}
	if c.Server.QUIC.Enabled {
		if !c.Server.TLS.Enabled() {
			return fmt.Errorf("server.quic requires server.tls")
		}
		if c.Server.QUIC.Port < 1 || c.Server.QUIC.Port > 65535 {
			return fmt.Errorf("invalid quic port: %d", c.Server.QUIC.Port)
		}
	}

	return nil
}

func checkAlgorithms(kind types.KeyKind, ka KindAlgorithms, known []string) error {
	isKnown := func(alg string) bool {
		for _, k := range known {
			if k == alg {
				return true
			}
		}
		return false
	}
	for _, alg := range ka.Enabled {
		if !isKnown(alg) {
			return fmt.Errorf("unknown %s algorithm: %s", kind, alg)
		}
	}
	if ka.Default == "" {
		return fmt.Errorf("%s default algorithm must be specified", kind)
	}
	if !isKnown(ka.Default) {
		return fmt.Errorf("unknown %s algorithm: %s", kind, ka.Default)
	}
	if len(ka.Enabled) > 0 {
		for _, alg := range ka.Enabled {
			if alg == ka.Default {
				return nil
			}
		}
		return fmt.Errorf("%s default algorithm %s is not enabled", kind, ka.Default)
	}
	return nil
}

// For returns the settings of one key kind.
func (a AlgorithmsConfig) For(kind types.KeyKind) KindAlgorithms {
	switch kind {
	case types.KeyKindClassical:
		return a.Classical
	case types.KeyKindPqcSignature:
		return a.PqcSignature
	case types.KeyKindPqcKem:
		return a.PqcKem
	default:
		return KindAlgorithms{}
	}
}

// KnownAlgorithms lists the algorithms the built-in backends provide for a kind.
func KnownAlgorithms(kind types.KeyKind) []string {
	switch kind {
	case types.KeyKindClassical:
		return pgp.Algorithms
	case types.KeyKindPqcSignature:
		return pqc.SignatureAlgorithms
	case types.KeyKindPqcKem:
		return pqc.KEMAlgorithms
	default:
		return nil
	}
}

// ListenAddr returns host:port for the key directory server.
func (s ServerConfig) ListenAddr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// QUICAddr returns host:port for the HTTP/3 listener.
func (s ServerConfig) QUICAddr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.QUIC.Port))
}
