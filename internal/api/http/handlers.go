package http

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lensfield/photoshell/internal/assets"
	"github.com/lensfield/photoshell/internal/gateway"
	"github.com/lensfield/photoshell/internal/infrastructure/logging"
	"github.com/lensfield/photoshell/internal/library"
	"github.com/lensfield/photoshell/internal/protocol"
	"github.com/lensfield/photoshell/internal/settings"
	"github.com/lensfield/photoshell/internal/supervisor"
)

// Handlers bundles the IPC surface dependencies.
type Handlers struct {
	sup      *supervisor.Supervisor
	monitor  *supervisor.Monitor
	stager   *assets.Stager
	staging  assets.EnsureOptions
	roots    *gateway.RootSet
	store    *settings.Store
	scanner  *library.Scanner
	resolver *protocol.Resolver
	logger   *logging.Logger
	started  time.Time
}

// NewHandlers creates the IPC handler set.
func NewHandlers(
	sup *supervisor.Supervisor,
	monitor *supervisor.Monitor,
	stager *assets.Stager,
	staging assets.EnsureOptions,
	roots *gateway.RootSet,
	store *settings.Store,
	scanner *library.Scanner,
	resolver *protocol.Resolver,
	logger *logging.Logger,
) *Handlers {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handlers{
		sup:      sup,
		monitor:  monitor,
		stager:   stager,
		staging:  staging,
		roots:    roots,
		store:    store,
		scanner:  scanner,
		resolver: resolver,
		logger:   logger,
		started:  time.Now(),
	}
}

// Health reports the shell's own liveness. This endpoint answers even
// while the backend is down or still starting.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"service":        "photoshell",
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}

// BackendHealth returns the last observed backend health snapshot
// without probing.
func (h *Handlers) BackendHealth(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitor.Snapshot())
}

// BackendHealthCheck forces an immediate probe and returns the fresh
// snapshot.
func (h *Handlers) BackendHealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitor.Check(c.Request.Context()))
}

// BackendRestart stops and respawns the backend. A spawn failure is a
// gateway error (502): the shell is fine, the upstream is not. A spawn
// that starts but misses its readiness window still reports success
// with ready=false so the renderer can show a degraded state.
func (h *Handlers) BackendRestart(c *gin.Context) {
	ready, err := h.sup.Restart(c.Request.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, supervisor.ErrSpawn) {
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	handle := h.sup.Handle()
	resp := gin.H{
		"success": true,
		"ready":   ready,
		"port":    h.sup.Port(),
	}
	if handle != nil {
		resp["pid"] = handle.PID
	}
	c.JSON(http.StatusOK, resp)
}

// BackendLogs returns the tail of the captured backend output, oldest
// first. ?lines=n trims to the last n lines.
func (h *Handlers) BackendLogs(c *gin.Context) {
	lines := h.sup.Sink().Lines()
	if raw := c.Query("lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "lines must be a non-negative integer",
			})
			return
		}
		if n < len(lines) {
			lines = lines[len(lines)-n:]
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"count":   len(lines),
		"lines":   lines,
	})
}

type refreshRequest struct {
	Force bool `json:"force"`
}

// ModelsRefresh re-runs asset staging. force (JSON body or query)
// recopies even verified entries. Per-entry failures are reported in
// the result, not as an HTTP error.
func (h *Handlers) ModelsRefresh(c *gin.Context) {
	opts := h.staging
	if c.Request.ContentLength > 0 {
		var req refreshRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "malformed request body",
			})
			return
		}
		opts.Force = req.Force
	}
	if raw := c.Query("force"); raw != "" {
		force, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "force must be a boolean",
			})
			return
		}
		opts.Force = force
	}
	result := h.stager.Ensure(c.Request.Context(), opts)
	c.JSON(http.StatusOK, result)
}

// ModelsStatus returns the most recent staging result, or 404 before
// the first staging run.
func (h *Handlers) ModelsStatus(c *gin.Context) {
	last := h.stager.Last()
	if last == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "no staging run recorded",
		})
		return
	}
	c.JSON(http.StatusOK, last)
}

// ListRoots returns the allowlisted directories.
func (h *Handlers) ListRoots(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"roots":   h.roots.Roots(),
	})
}

type addRootRequest struct {
	Path string `json:"path" binding:"required"`
}

// AddRoot grants access to a directory. The path must be absolute and
// name an existing directory; the grant is persisted before the
// response is sent.
func (h *Handlers) AddRoot(c *gin.Context) {
	var req addRootRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "path is required",
		})
		return
	}

	info, err := os.Stat(req.Path)
	if err != nil || !info.IsDir() {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "path must name an existing directory",
		})
		return
	}

	normalized, err := h.roots.Add(req.Path)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	if h.store != nil {
		if err := h.store.AddAllowedDirectory(normalized); err != nil {
			h.logger.Error("persist allowlist grant", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error":   "failed to persist grant",
			})
			return
		}
		if err := h.store.TouchDirectory(normalized); err != nil {
			h.logger.Warn("record recent directory", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"root":    normalized,
	})
}

// LibraryList enumerates images under ?root=, which must sit inside an
// allowlisted directory. Optional repeated ?pattern= overrides the
// default image globs.
func (h *Handlers) LibraryList(c *gin.Context) {
	root := c.Query("root")
	if root == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "root is required",
		})
		return
	}

	entries, err := h.scanner.List(c.Request.Context(), root, c.QueryArray("pattern"))
	if err != nil {
		if errors.Is(err, gateway.ErrPathDenied) {
			c.JSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "directory not allowed",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"count":   len(entries),
		"entries": entries,
	})
}

// ServeProtocol serves a file addressed by the wildcard path the way
// the renderer's privileged scheme does: denied paths are 403, missing
// files inside the allowlist are 404.
func (h *Handlers) ServeProtocol(c *gin.Context) {
	uri := protocol.Scheme + "://" + c.Param("filepath")
	resolved, err := h.resolver.Resolve(uri)
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrPathDenied):
			c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		case errors.Is(err, protocol.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.Header("Content-Type", h.resolver.ContentType(resolved))
	c.File(resolved)
}
