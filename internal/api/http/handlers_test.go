package http

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lensfield/photoshell/internal/assets"
	"github.com/lensfield/photoshell/internal/gateway"
	"github.com/lensfield/photoshell/internal/infrastructure/logging"
	"github.com/lensfield/photoshell/internal/library"
	"github.com/lensfield/photoshell/internal/protocol"
	"github.com/lensfield/photoshell/internal/settings"
	"github.com/lensfield/photoshell/internal/supervisor"
)

type fixture struct {
	router  *gin.Engine
	sup     *supervisor.Supervisor
	monitor *supervisor.Monitor
	stager  *assets.Stager
	roots   *gateway.RootSet
	store   *settings.Store
	picsDir string
}

// newFixture wires real components around throwaway directories. The
// backend command is a shell script that starts but never serves, so
// lifecycle endpoints can run without a real backend binary.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := logging.NewNop()

	pics := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(pics, "sunset.jpg"), []byte{0xff, 0xd8, 0xff, 0xe0}, 0o644))

	roots := gateway.NewRootSet()
	_, err := roots.Add(pics)
	require.NoError(t, err)

	store, err := settings.Open(filepath.Join(t.TempDir(), "settings.json"), logger)
	require.NoError(t, err)

	verifier := assets.NewVerifier(logger)
	stager := assets.NewStager(verifier, logger, nil)
	staging := stagingOpts(t)

	prober := supervisor.NewProber(200*time.Millisecond, logger, nil)
	sup := supervisor.New(supervisor.Options{
		Command:      "/bin/sh",
		Args:         []string{"-c", "sleep 30"},
		ReadyTimeout: 200 * time.Millisecond,
	}, prober, nil, logger, nil)
	t.Cleanup(sup.Stop)
	monitor := supervisor.NewMonitor(sup, prober, time.Hour, logger)

	scanner := library.NewScanner(roots, logger, false)
	resolver := protocol.NewResolver(roots, pics, logger, nil)

	h := NewHandlers(sup, monitor, stager, staging, roots, store, scanner, resolver, logger)

	r := gin.New()
	r.GET("/health", h.Health)
	r.GET("/backend/health", h.BackendHealth)
	r.POST("/backend/health/check", h.BackendHealthCheck)
	r.POST("/backend/restart", h.BackendRestart)
	r.GET("/backend/logs", h.BackendLogs)
	r.POST("/models/refresh", h.ModelsRefresh)
	r.GET("/models/status", h.ModelsStatus)
	r.GET("/roots", h.ListRoots)
	r.POST("/roots", h.AddRoot)
	r.GET("/library/list", h.LibraryList)
	r.GET("/protocol/*filepath", h.ServeProtocol)

	return &fixture{
		router:  r,
		sup:     sup,
		monitor: monitor,
		stager:  stager,
		roots:   roots,
		store:   store,
		picsDir: pics,
	}
}

// stagingOpts builds a one-entry manifest with a matching source tree.
func stagingOpts(t *testing.T) assets.EnsureOptions {
	t.Helper()
	source := t.TempDir()
	modelDir := filepath.Join(source, "clip-vit")
	require.NoError(t, os.MkdirAll(modelDir, 0o755))
	content := []byte("weights")
	require.NoError(t, os.WriteFile(filepath.Join(modelDir, "model.bin"), content, 0o644))

	sum := sha256.New()
	sum.Write([]byte("model.bin"))
	sum.Write(content)
	digest := hex.EncodeToString(sum.Sum(nil))

	manifest := filepath.Join(source, "manifest.json")
	body := fmt.Sprintf(`[{"local_name":"clip-vit","sha256":"%s"}]`, digest)
	require.NoError(t, os.WriteFile(manifest, []byte(body), 0o644))

	return assets.EnsureOptions{
		ManifestPath: manifest,
		SourceRoot:   source,
		DestRoot:     t.TempDir(),
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestBackendHealthBeforeStart(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/backend/health", "")

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["backend_running"])
	assert.Equal(t, false, body["healthy"])
}

func TestBackendHealthCheckSkippedWhenStopped(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/backend/health/check", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["skipped"])
}

func TestBackendRestartSpawnFailure(t *testing.T) {
	f := newFixture(t)
	logger := logging.NewNop()
	broken := supervisor.New(supervisor.Options{
		Command:      "/nonexistent/backend-binary",
		ReadyTimeout: 100 * time.Millisecond,
	}, supervisor.NewProber(100*time.Millisecond, logger, nil), nil, logger, nil)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandlers(broken, f.monitor, f.stager, assets.EnsureOptions{}, f.roots, f.store, nil, nil, logger)
	r.POST("/backend/restart", h.BackendRestart)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/backend/restart", nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestBackendRestartDegraded(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/backend/restart", "")

	// The sleep child starts but never answers probes: success with
	// ready=false, and a PID is reported.
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, false, body["ready"])
	assert.NotZero(t, body["pid"])
}

func TestBackendLogsEmpty(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/backend/logs", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode(t, w)["count"])
}

func TestBackendLogsBadLinesParam(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/backend/logs?lines=many", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestModelsStatusBeforeFirstRun(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/models/status", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestModelsRefreshThenStatus(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/models/refresh", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["ensured"])
	assert.Equal(t, true, body["copied"])

	w = f.do(t, http.MethodGet, "/models/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["ensured"])
}

func TestModelsRefreshForceRejectsGarbage(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/models/refresh?force=sure", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestModelsRefreshForceFromBody(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/models/refresh", `{"force":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["copied"])

	// Forced again: copies even though the destination already verifies.
	w = f.do(t, http.MethodPost, "/models/refresh", `{"force":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["copied"])
}

func TestListRoots(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/roots", "")

	require.Equal(t, http.StatusOK, w.Code)
	roots := decode(t, w)["roots"].([]any)
	require.Len(t, roots, 1)
	assert.Equal(t, f.picsDir, roots[0])
}

func TestAddRootPersists(t *testing.T) {
	f := newFixture(t)
	extra := t.TempDir()

	w := f.do(t, http.MethodPost, "/roots", fmt.Sprintf(`{"path":%q}`, extra))
	require.Equal(t, http.StatusOK, w.Code)

	assert.True(t, f.roots.Contains(filepath.Join(extra, "x.jpg")))
	assert.Contains(t, f.store.AllowedDirectories(), extra)
	assert.Equal(t, extra, f.store.Snapshot().LastSelectedDirectory)
}

func TestAddRootRejectsMissingDirectory(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/roots", `{"path":"/no/such/dir"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAddRootRejectsRelativePath(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/roots", `{"path":"pictures"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAddRootRequiresBody(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/roots", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLibraryList(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/library/list?root="+f.picsDir, "")

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["count"])
}

func TestLibraryListDenied(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/library/list?root="+t.TempDir(), "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestLibraryListRequiresRoot(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/library/list", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServeProtocolFile(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/protocol"+filepath.ToSlash(filepath.Join(f.picsDir, "sunset.jpg")), "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "image/jpeg")
}

func TestServeProtocolDenied(t *testing.T) {
	f := newFixture(t)
	outside := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("s"), 0o600))

	w := f.do(t, http.MethodGet, "/protocol"+filepath.ToSlash(outside), "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestServeProtocolNotFound(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/protocol"+filepath.ToSlash(filepath.Join(f.picsDir, "gone.jpg")), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
