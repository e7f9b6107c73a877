package library

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/lensfield/photoshell/internal/gateway"
	"github.com/lensfield/photoshell/internal/infrastructure/logging"
)

// DefaultPatterns matches the image formats the renderer can display.
var DefaultPatterns = []string{
	"**/*.jpg", "**/*.jpeg", "**/*.png", "**/*.gif",
	"**/*.webp", "**/*.bmp", "**/*.tif", "**/*.tiff", "**/*.heic",
}

// Entry describes one image found under a listed root.
type Entry struct {
	Path     string    `json:"path"`
	RelPath  string    `json:"rel_path"`
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"mod_time"`
	MimeType string    `json:"mime_type,omitempty"`
}

// Scanner lists images under allowlisted roots.
type Scanner struct {
	allowed  *gateway.RootSet
	logger   *logging.Logger
	patterns []string
	sniff    bool
}

// NewScanner creates a scanner restricted to allowed. When sniff is set
// each match's MIME type is detected from content, not extension.
func NewScanner(allowed *gateway.RootSet, logger *logging.Logger, sniff bool) *Scanner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scanner{
		allowed:  allowed,
		logger:   logger,
		patterns: DefaultPatterns,
		sniff:    sniff,
	}
}

// List walks root concurrently and returns matching entries sorted by
// path. root must be contained in an allowlisted directory. Unreadable
// subtrees are skipped, not fatal: one bad NFS mount must not empty the
// whole listing.
func (s *Scanner) List(ctx context.Context, root string, patterns []string) ([]Entry, error) {
	resolved, err := s.allowed.NormalizeAndValidate(root)
	if err != nil {
		return nil, err
	}
	if len(patterns) == 0 {
		patterns = s.patterns
	}

	var (
		mu      sync.Mutex
		entries []Entry
	)
	conf := fastwalk.Config{Follow: false}
	walkErr := fastwalk.Walk(&conf, resolved, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Debug("walk error, skipping", zap.String("path", path), zap.Error(err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(resolved, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !matchAny(patterns, rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		entry := Entry{
			Path:    path,
			RelPath: rel,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}
		if s.sniff {
			if mtype, err := mimetype.DetectFile(path); err == nil {
				entry.MimeType = mtype.String()
			}
		}

		mu.Lock()
		entries = append(entries, entry)
		mu.Unlock()
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	// fastwalk visits in parallel, so ordering is up to us.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	s.logger.Info("library listed",
		zap.String("root", resolved),
		zap.Int("entries", len(entries)))
	return entries, nil
}

func matchAny(patterns []string, rel string) bool {
	lower := strings.ToLower(rel)
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, lower); err == nil && ok {
			return true
		}
	}
	return false
}
