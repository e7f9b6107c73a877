package protocol

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/lensfield/photoshell/internal/gateway"
	"github.com/lensfield/photoshell/internal/infrastructure/logging"
	"github.com/lensfield/photoshell/internal/infrastructure/monitoring"
)

// Scheme is the privileged fetch-capable URI scheme served to the renderer.
const Scheme = "photoapp"

// ErrNotFound marks a contained path whose file does not exist. Denials
// are reported as gateway.ErrPathDenied, never downgraded to not-found.
var ErrNotFound = errors.New("file not found")

// Resolver maps photoapp:// URIs onto allowlisted files.
type Resolver struct {
	allowed *gateway.RootSet
	logger  *logging.Logger
	metrics *monitoring.Metrics

	mu     sync.RWMutex
	uiRoot string
}

// NewResolver creates a resolver validating against allowed. uiRoot is
// the bundle directory used as the relative fallback; may be empty.
// metrics may be nil.
func NewResolver(allowed *gateway.RootSet, uiRoot string, logger *logging.Logger, metrics *monitoring.Metrics) *Resolver {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Resolver{
		allowed: allowed,
		logger:  logger,
		metrics: metrics,
		uiRoot:  uiRoot,
	}
}

// SetUIRoot updates the current UI target root, e.g. after the renderer
// navigates to a different bundle.
func (r *Resolver) SetUIRoot(root string) {
	r.mu.Lock()
	r.uiRoot = root
	r.mu.Unlock()
}

// Resolve maps a request URI to a concrete file path. The path component
// is percent-decoded and drive-letter forms are normalized; when the
// direct path does not exist the trimmed relative path is retried
// against the UI root. The final candidate must pass the gateway; an
// out-of-root candidate is denied, never silently redirected.
func (r *Resolver) Resolve(requestURI string) (string, error) {
	u, err := url.Parse(requestURI)
	if err != nil {
		return "", fmt.Errorf("%w: unparseable uri", gateway.ErrPathDenied)
	}
	if u.Scheme != "" && u.Scheme != Scheme && u.Scheme != "app" {
		return "", fmt.Errorf("%w: scheme %q not served", gateway.ErrPathDenied, u.Scheme)
	}

	// photoapp://foo/bar parses foo as a host; fold it back into the path.
	raw := u.Path
	if u.Host != "" {
		raw = "/" + u.Host + u.Path
	}
	raw = normalizeDrivePath(raw)
	candidate := filepath.FromSlash(raw)

	if _, err := os.Stat(candidate); err != nil {
		if fallback, ok := r.uiFallback(raw); ok {
			candidate = fallback
		}
	}

	resolved, err := r.allowed.NormalizeAndValidate(candidate)
	if err != nil {
		if r.metrics != nil {
			r.metrics.GatewayDenials.Inc()
		}
		// Denials are logged, not surfaced: they indicate probing or a
		// renderer bug, not user-actionable state.
		r.logger.Warn("protocol request denied",
			zap.String("uri", requestURI),
			zap.String("candidate", candidate))
		return "", err
	}

	if _, err := os.Stat(resolved); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, resolved)
		}
		return "", fmt.Errorf("stat %s: %w", resolved, err)
	}
	return resolved, nil
}

// ContentType sniffs the MIME type of a resolved file.
func (r *Resolver) ContentType(path string) string {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}
	return mtype.String()
}

// uiFallback joins the trimmed relative form of raw against the current
// UI root, serving bundle assets addressed relative to the bundle.
func (r *Resolver) uiFallback(raw string) (string, bool) {
	r.mu.RLock()
	root := r.uiRoot
	r.mu.RUnlock()
	if root == "" {
		return "", false
	}

	rel := strings.TrimLeft(raw, "/")
	if rel == "" {
		return "", false
	}
	candidate := filepath.Join(root, filepath.FromSlash(rel))
	if _, err := os.Stat(candidate); err != nil {
		return "", false
	}
	return candidate, true
}

// normalizeDrivePath rewrites "/C:/..." into "C:/..." so Windows drive
// letters survive the URI path form.
func normalizeDrivePath(p string) string {
	if len(p) >= 3 && p[0] == '/' && p[2] == ':' && isDriveLetter(p[1]) {
		return p[1:]
	}
	return p
}

func isDriveLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
