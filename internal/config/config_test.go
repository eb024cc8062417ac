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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jeremyhahn/go-pqckeys/pkg/types"
)

// TestLoad_Success tests successful loading of a valid config file
func TestLoad_Success(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
storage:
  backend: "file"
  path: "/data/pqckeys"

logging:
  level: "debug"
  format: "json"

algorithms:
  classical:
    default: "PGP-RSA-4096"
  pqc_signature:
    default: "Dilithium3"
    enabled: ["Dilithium3", "Dilithium5"]
  pqc_kem:
    default: "Kyber768"

security:
  min_password_length: 12
  pbkdf2_iterations: 200000

contacts:
  scope: "work"
  auto_persist: false

server:
  host: "0.0.0.0"
  port: 9443
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Storage.Path != "/data/pqckeys" {
		t.Errorf("Storage.Path = %q, want /data/pqckeys", cfg.Storage.Path)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.Algorithms.Classical.Default != types.AlgorithmPGPRSA4096 {
		t.Errorf("Classical.Default = %q", cfg.Algorithms.Classical.Default)
	}
	if got := cfg.Algorithms.For(types.KeyKindPqcSignature).Enabled; len(got) != 2 {
		t.Errorf("PqcSignature.Enabled = %v", got)
	}
	if cfg.Security.MinPasswordLength != 12 || cfg.Security.Iterations != 200000 {
		t.Errorf("Security = %+v", cfg.Security)
	}
	if cfg.Contacts.Scope != "work" || cfg.Contacts.AutoPersist {
		t.Errorf("Contacts = %+v", cfg.Contacts)
	}
	if cfg.Server.ListenAddr() != "0.0.0.0:9443" {
		t.Errorf("ListenAddr() = %q", cfg.Server.ListenAddr())
	}
	// Unset fields keep their defaults.
	if cfg.Server.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want default", cfg.Server.Metrics.Path)
	}
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
	if cfg.Algorithms.PqcKem.Default != types.AlgorithmKyber512 {
		t.Errorf("PqcKem.Default = %q", cfg.Algorithms.PqcKem.Default)
	}
}

// TestLoad_FileNotFound tests loading a non-existent config file
func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("Load() should fail for non-existent file")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("unexpected error: %v", err)
	}
}

// TestLoad_InvalidYAML tests loading a file with invalid YAML
func TestLoad_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("storage: [unclosed"), 0644); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}
	_, err := Load(configPath)
	if err == nil || !strings.Contains(err.Error(), "failed to parse config file") {
		t.Errorf("Load() error = %v, want parse failure", err)
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	content := "logging:\n  level: \"loud\"\n"
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}
	_, err := Load(configPath)
	if err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("Load() error = %v, want validation failure", err)
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Storage.Backend = StorageMemory
	cfg.Algorithms.PqcKem.Default = types.AlgorithmMLKEM768

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() failed: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if loaded.Storage.Backend != StorageMemory || loaded.Algorithms.PqcKem.Default != types.AlgorithmMLKEM768 {
		t.Errorf("loaded = %+v", loaded)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("PQCKEYS_STORAGE", "memory")
	t.Setenv("PQCKEYS_DATA_DIR", "/env/data")
	t.Setenv("PQCKEYS_LOG_LEVEL", "warn")
	t.Setenv("PQCKEYS_LOG_FORMAT", "json")
	t.Setenv("PQCKEYS_SIGNATURE_ALGORITHM", "ML-DSA-65")
	t.Setenv("PQCKEYS_KEM_ALGORITHM", "ML-KEM-1024")
	t.Setenv("PQCKEYS_CLASSICAL_ALGORITHM", "PGP-RSA-4096")
	t.Setenv("PQCKEYS_SEAL_SECRET_KEYS", "true")
	t.Setenv("PQCKEYS_PASSPHRASE_FILE", "/run/secrets/pass")
	t.Setenv("PQCKEYS_CONTACT_SCOPE", "team")
	t.Setenv("PQCKEYS_HOST", "10.0.0.1")
	t.Setenv("PQCKEYS_PORT", "9000")

	cfg := Default()
	applyEnvOverrides(cfg)

	if cfg.Storage.Backend != "memory" || cfg.Storage.Path != "/env/data" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Logging.Level != "warn" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.Algorithms.PqcSignature.Default != "ML-DSA-65" ||
		cfg.Algorithms.PqcKem.Default != "ML-KEM-1024" ||
		cfg.Algorithms.Classical.Default != "PGP-RSA-4096" {
		t.Errorf("Algorithms = %+v", cfg.Algorithms)
	}
	if !cfg.Security.SealSecretKeys || cfg.Security.PassphraseFile != "/run/secrets/pass" {
		t.Errorf("Security = %+v", cfg.Security)
	}
	if cfg.Contacts.Scope != "team" {
		t.Errorf("Contacts.Scope = %q", cfg.Contacts.Scope)
	}
	if cfg.Server.Host != "10.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() after overrides: %v", err)
	}
}

func TestApplyEnvOverrides_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"non-numeric port", "PQCKEYS_PORT", "abc"},
		{"port zero", "PQCKEYS_PORT", "0"},
		{"port too large", "PQCKEYS_PORT", "70000"},
		{"bad bool", "PQCKEYS_SEAL_SECRET_KEYS", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			cfg := Default()
			applyEnvOverrides(cfg)
			if cfg.Server.Port != 8480 {
				t.Errorf("Port = %d, want default 8480", cfg.Server.Port)
			}
			if cfg.Security.SealSecretKeys {
				t.Error("SealSecretKeys should keep its default")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"memory storage without path", func(c *Config) {
			c.Storage.Backend = StorageMemory
			c.Storage.Path = ""
		}, ""},
		{"missing storage backend", func(c *Config) { c.Storage.Backend = "" }, "storage backend must be specified"},
		{"unknown storage backend", func(c *Config) { c.Storage.Backend = "s3" }, "invalid storage backend"},
		{"file storage without path", func(c *Config) { c.Storage.Path = "" }, "storage path"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "invalid log level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "invalid log format"},
		{"unknown default algorithm", func(c *Config) {
			c.Algorithms.PqcKem.Default = "Kyber9000"
		}, "unknown pqc-kem algorithm"},
		{"missing default algorithm", func(c *Config) {
			c.Algorithms.Classical.Default = ""
		}, "classical default algorithm must be specified"},
		{"unknown enabled algorithm", func(c *Config) {
			c.Algorithms.PqcSignature.Enabled = []string{"Falcon512"}
		}, "unknown pqc-sig algorithm"},
		{"default not enabled", func(c *Config) {
			c.Algorithms.PqcSignature.Enabled = []string{types.AlgorithmDilithium5}
		}, "is not enabled"},
		{"min password length", func(c *Config) { c.Security.MinPasswordLength = 0 }, "min_password_length"},
		{"iterations too low", func(c *Config) { c.Security.Iterations = 1000 }, "pbkdf2_iterations"},
		{"sealing without passphrase source", func(c *Config) {
			c.Security.SealSecretKeys = true
			c.Security.PassphraseEnv = ""
		}, "seal_secret_keys"},
		{"bad scope", func(c *Config) { c.Contacts.Scope = "../x" }, "invalid contacts scope"},
		{"negative ingest limit", func(c *Config) { c.Distribution.IngestPerMinute = -1 }, "must not be negative"},
		{"port out of range", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"rate limit without rate", func(c *Config) { c.Server.RateLimit.RequestsPerMin = 0 }, "requests_per_min"},
		{"metrics path", func(c *Config) { c.Server.Metrics.Path = "metrics" }, "invalid metrics path"},
		{"health path", func(c *Config) { c.Server.Health.Path = "" }, "invalid health path"},
		{"tls cert without key", func(c *Config) { c.Server.TLS.CertFile = "server.crt" }, "both cert_file and key_file"},
		{"quic without tls", func(c *Config) { c.Server.QUIC.Enabled = true }, "requires server.tls"},
		{"quic port", func(c *Config) {
			c.Server.TLS = TLSConfig{CertFile: "server.crt", KeyFile: "server.key"}
			c.Server.QUIC = QUICConfig{Enabled: true, Port: 70000}
		}, "invalid quic port"},
		{"quic with tls", func(c *Config) {
			c.Server.TLS = TLSConfig{CertFile: "server.crt", KeyFile: "server.key"}
			c.Server.QUIC.Enabled = true
		}, ""},
		{"negative audit history", func(c *Config) { c.Audit.History = -1 }, "audit.history"},
		{"api key without name", func(c *Config) {
			c.Server.Auth.APIKeys = []APIKeyConfig{{Key: "k"}}
		}, "name is required"},
		{"api key duplicate name", func(c *Config) {
			c.Server.Auth.APIKeys = []APIKeyConfig{{Name: "relay", Key: "a"}, {Name: "relay", Key: "b"}}
		}, "duplicate name"},
		{"api key and key_env", func(c *Config) {
			c.Server.Auth.APIKeys = []APIKeyConfig{{Name: "relay", Key: "a", KeyEnv: "RELAY_KEY"}}
		}, "exactly one of key or key_env"},
		{"api key empty sender", func(c *Config) {
			c.Server.Auth.APIKeys = []APIKeyConfig{{Name: "relay", KeyEnv: "RELAY_KEY", Senders: []string{" "}}}
		}, "empty sender"},
		{"api key valid", func(c *Config) {
			c.Server.Auth.APIKeys = []APIKeyConfig{{Name: "relay", KeyEnv: "RELAY_KEY", Senders: []string{"alice@example.com"}}}
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestAPIKeyConfig_Resolve(t *testing.T) {
	t.Setenv("RELAY_KEY", "from-env-0123456789")
	if got := (APIKeyConfig{Key: "inline"}).Resolve(); got != "inline" {
		t.Errorf("Resolve() = %q, want inline", got)
	}
	if got := (APIKeyConfig{KeyEnv: "RELAY_KEY"}).Resolve(); got != "from-env-0123456789" {
		t.Errorf("Resolve() = %q", got)
	}

	t.Setenv(EnvPrefix+"API_KEY", "env-key-0123456789")
	cfg := Default()
	applyEnvOverrides(cfg)
	if len(cfg.Server.Auth.APIKeys) != 1 || cfg.Server.Auth.APIKeys[0].Key != "env-key-0123456789" {
		t.Errorf("APIKeys = %+v", cfg.Server.Auth.APIKeys)
	}
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.Server.Auth.APIKeys = []APIKeyConfig{
		{Name: "relay", Key: "secret-0123456789"},
		{Name: "gateway", KeyEnv: "GATEWAY_KEY"},
	}
	out := cfg.Redacted()
	if out.Server.Auth.APIKeys[0].Key != "REDACTED" || out.Server.Auth.APIKeys[1].KeyEnv != "GATEWAY_KEY" {
		t.Errorf("Redacted() keys = %+v", out.Server.Auth.APIKeys)
	}
	if cfg.Server.Auth.APIKeys[0].Key != "secret-0123456789" {
		t.Error("Redacted() modified the original")
	}
}

func TestServerAddrs(t *testing.T) {
	s := ServerConfig{Host: "::1", Port: 8480, QUIC: QUICConfig{Port: 8443}}
	if got := s.ListenAddr(); got != "[::1]:8480" {
		t.Errorf("ListenAddr() = %q", got)
	}
	if got := s.QUICAddr(); got != "[::1]:8443" {
		t.Errorf("QUICAddr() = %q", got)
	}
}

func TestKnownAlgorithms(t *testing.T) {
	for _, kind := range types.AllKeyKinds {
		known := KnownAlgorithms(kind)
		if len(known) == 0 {
			t.Errorf("no algorithms for %s", kind)
		}
		found := false
		for _, alg := range known {
			if alg == types.DefaultAlgorithm(kind) {
				found = true
			}
		}
		if !found {
			t.Errorf("default algorithm for %s is not known", kind)
		}
	}
	if KnownAlgorithms(types.KeyKind(99)) != nil {
		t.Error("unknown kind should have no algorithms")
	}
}
