package server

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lensfield/photoshell/internal/infrastructure/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Port = "0"
	cfg.Backend.Command = "/bin/sh"
	cfg.Backend.Args = []string{"-c", "sleep 30"}
	cfg.Backend.ReadyTimeout = 200 * time.Millisecond
	cfg.Backend.ProbeTimeout = 100 * time.Millisecond
	cfg.Paths.SettingsFile = filepath.Join(t.TempDir(), "settings.json")
	cfg.Paths.ExtraRoots = []string{t.TempDir()}
	return cfg
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := NewServer(testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv
}

func TestNewServerSpawnsDegradedBackend(t *testing.T) {
	srv := newTestServer(t)

	// The sleep child never answers probes but must be alive.
	assert.True(t, srv.sup.Running())
	assert.NotZero(t, srv.sup.Port())
}

func TestNewServerSpawnFailureIsFatal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backend.Command = "/nonexistent/backend-binary"

	_, err := NewServer(cfg)
	assert.Error(t, err)
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/health", "/metrics", "/backend/health", "/roots"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "127.0.0.1:55001"
		w := httptest.NewRecorder()
		srv.Router().ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestRouterRejectsRemoteClients(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "10.0.0.8:55001"
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
