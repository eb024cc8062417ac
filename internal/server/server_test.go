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
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/quic-go/quic-go/http3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-pqckeys/internal/config"
	"github.com/jeremyhahn/go-pqckeys/internal/testutil"
	"github.com/jeremyhahn/go-pqckeys/pkg/health"
)

const testAPIKey = "relay-key-0123456789"

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Storage.Backend = config.StorageMemory
	cfg.Logging.Level = "error"
	cfg.Server.Port = 18480
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Server.Auth.APIKeys = []config.APIKeyConfig{{Name: "relay", Key: testAPIKey}}
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	srv, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown() })
	return srv
}

func TestNew(t *testing.T) {
	srv := newTestServer(t, testConfig())

	assert.NotNil(t, srv.RESTServer())
	assert.NotNil(t, srv.HealthChecker())
	assert.NotNil(t, srv.limiter)
	assert.Equal(t, "127.0.0.1:18480", srv.Addr())
	assert.False(t, srv.HealthChecker().IsStarted())
}

func TestNew_RateLimitDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Server.RateLimit.Enabled = false
	srv := newTestServer(t, cfg)
	assert.Nil(t, srv.limiter)
}

func TestNew_InvalidStorage(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Backend = "tape"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNew_APIKeys(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Auth.APIKeys = []config.APIKeyConfig{{Name: "relay", KeyEnv: "PQCKEYS_TEST_UNSET_KEY"}}
	_, err := New(context.Background(), cfg)
	assert.ErrorContains(t, err, "PQCKEYS_TEST_UNSET_KEY is not set")

	cfg = testConfig()
	cfg.Server.Auth.APIKeys = []config.APIKeyConfig{{Name: "relay", Key: "short"}}
	_, err = New(context.Background(), cfg)
	assert.ErrorContains(t, err, "at least")

	cfg = testConfig()
	cfg.Server.Auth.APIKeys = nil
	assert.NotNil(t, newTestServer(t, cfg).RESTServer())
}

func TestReadinessChecks(t *testing.T) {
	srv := newTestServer(t, testConfig())

	results := srv.HealthChecker().Ready(context.Background())
	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.Name)
		assert.Equal(t, health.StatusHealthy, r.Status, r.Name)
	}
	assert.Equal(t, []string{"keystores", "outbox", "storage"}, names)
}

func TestStartServeShutdown(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Port = 0
	srv := newTestServer(t, cfg)

	require.NoError(t, srv.Start())
	require.Eventually(t, func() bool {
		return !strings.HasSuffix(srv.Addr(), ":0")
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, srv.HealthChecker().IsStarted())

	resp, err := http.Get("http://" + srv.Addr() + "/health/ready")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "storage")

	resp, err = http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + srv.Addr() + "/api/v1/audit")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, "http://"+srv.Addr()+"/api/v1/audit", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, srv.Wait(ctx))

	require.NoError(t, srv.Shutdown())
	assert.False(t, srv.HealthChecker().IsStarted())
	// second call is a no-op
	assert.NoError(t, srv.Shutdown())
}

func TestTLSAndQUIC(t *testing.T) {
	ca, err := testutil.GenerateTestCA()
	require.NoError(t, err)
	cert, err := ca.ServerCert()
	require.NoError(t, err)
	certFile, keyFile, err := cert.WriteFiles(t.TempDir())
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Server.Port = 0
	cfg.Server.TLS = config.TLSConfig{CertFile: certFile, KeyFile: keyFile}
	cfg.Server.QUIC = config.QUICConfig{Enabled: true, Port: 0}
	srv := newTestServer(t, cfg)
	require.NotNil(t, srv.QUICServer())

	require.NoError(t, srv.Start())
	require.Eventually(t, func() bool {
		return !strings.HasSuffix(srv.Addr(), ":0") && !strings.HasSuffix(srv.QUICServer().Addr(), ":0")
	}, 5*time.Second, 10*time.Millisecond)

	clientTLS := &tls.Config{RootCAs: ca.Pool()}
	httpsClient := &http.Client{Transport: &http.Transport{TLSClientConfig: clientTLS}, Timeout: 10 * time.Second}
	resp, err := httpsClient.Get("https://" + srv.Addr() + "/health/live")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	tr := &http3.Transport{TLSClientConfig: clientTLS}
	defer tr.Close()
	h3Client := &http.Client{Transport: tr, Timeout: 10 * time.Second}
	resp, err = h3Client.Get("https://" + srv.QUICServer().Addr() + "/api/v1/version")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, resp.ProtoMajor)

	require.NoError(t, srv.Shutdown())
}

func TestNew_BadTLSFiles(t *testing.T) {
	cfg := testConfig()
	cfg.Server.TLS = config.TLSConfig{CertFile: "missing.crt", KeyFile: "missing.key"}
	_, err := New(context.Background(), cfg)
	assert.ErrorContains(t, err, "TLS key pair")
}

func TestWait_ServeError(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Host = "256.0.0.1"
	srv := newTestServer(t, cfg)

	require.NoError(t, srv.Start())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.Error(t, srv.Wait(ctx))
}

func TestReload(t *testing.T) {
	cfg := testConfig()
	srv := newTestServer(t, cfg)

	next := testConfig()
	next.Logging.Level = "debug"
	next.Server.Port = 18481
	require.NoError(t, srv.Reload(next))
	assert.Equal(t, "debug", srv.config.Logging.Level)
	// restart-only changes are not applied
	assert.Equal(t, 18480, srv.config.Server.Port)

	bad := testConfig()
	bad.Logging.Level = "loud"
	assert.Error(t, srv.Reload(bad))
}

func TestRestartRequired(t *testing.T) {
	cur := testConfig()
	next := testConfig()
	assert.Empty(t, restartRequired(cur, next))

	next.Logging.Format = "json"
	next.Algorithms.PqcKem.Default = "Kyber1024"
	next.Server.Metrics.Enabled = false
	assert.Equal(t, []string{"logging.format", "server", "algorithms"}, restartRequired(cur, next))
}
