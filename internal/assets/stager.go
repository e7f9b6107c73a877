package assets

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lensfield/photoshell/internal/gateway"
	"github.com/lensfield/photoshell/internal/infrastructure/logging"
	"github.com/lensfield/photoshell/internal/infrastructure/monitoring"
	"github.com/lensfield/photoshell/internal/shared/id"
)

// ModelsDirEnv is exported after successful staging so downstream model
// consumers (the spawned backend) find the staged weights.
const ModelsDirEnv = "PHOTOSHELL_MODELS_DIR"

// StagingResult reports one staging attempt. Recomputed on every attempt,
// initial boot and user-triggered refresh alike.
type StagingResult struct {
	RunID         id.StagingRunID `json:"run_id"`
	Ensured       bool            `json:"ensured"`
	Copied        bool            `json:"copied"`
	Errors        []string        `json:"errors"`
	SourceRoot    string          `json:"source_root"`
	DestRoot      string          `json:"dest_root"`
	LastCheckedAt time.Time       `json:"last_checked_at"`
}

// EnsureOptions parameterizes one staging attempt.
type EnsureOptions struct {
	ManifestPath string
	SourceRoot   string
	DestRoot     string
	Force        bool
}

// Stager copies versioned model assets from the read-only bundle into a
// writable location, driven by the manifest and verified by content digest.
//
// Verification runs twice per entry: before copying (skipping is the
// common case, copying is expensive) and after (a staged-but-corrupt copy
// is reported, never silently accepted). One bad entry records its error
// and staging continues with the rest.
type Stager struct {
	verifier *Verifier
	logger   *logging.Logger
	metrics  *monitoring.Metrics

	mu   sync.Mutex
	last *StagingResult
}

// NewStager creates a stager. metrics may be nil.
func NewStager(verifier *Verifier, logger *logging.Logger, metrics *monitoring.Metrics) *Stager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Stager{verifier: verifier, logger: logger, metrics: metrics}
}

// Last returns the most recent staging result, or nil before the first run.
func (s *Stager) Last() *StagingResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	cp := *s.last
	return &cp
}

// Ensure stages every manifest entry into DestRoot and returns the
// aggregated result. Manifest problems and per-entry failures are
// recorded in Errors rather than returned; the caller inspects Ensured.
func (s *Stager) Ensure(ctx context.Context, opts EnsureOptions) StagingResult {
	result := StagingResult{
		RunID:         id.NewStagingRunID(),
		SourceRoot:    opts.SourceRoot,
		DestRoot:      opts.DestRoot,
		LastCheckedAt: time.Now(),
	}

	entries, err := LoadManifest(opts.ManifestPath)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		s.finish(&result)
		return result
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("staging cancelled: %v", ctx.Err()))
			break
		}
		if err := s.ensureEntry(entry, opts, &result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", entry.LocalName, err))
			if s.metrics != nil {
				s.metrics.StagingErrors.Inc()
			}
		}
	}

	s.finish(&result)
	return result
}

func (s *Stager) ensureEntry(entry ManifestEntry, opts EnsureOptions, result *StagingResult) error {
	sourceDir := filepath.Join(opts.SourceRoot, entry.LocalName)
	destDir := filepath.Join(opts.DestRoot, entry.LocalName)

	// A hostile local_name ("../..") must not escape either root.
	if !gateway.IsContained(opts.SourceRoot, sourceDir) {
		return fmt.Errorf("source path escapes bundle root: %w", gateway.ErrPathDenied)
	}
	if !gateway.IsContained(opts.DestRoot, destDir) {
		return fmt.Errorf("dest path escapes staging root: %w", gateway.ErrPathDenied)
	}

	if !opts.Force && s.verifier.Verify(destDir, entry.SHA256) {
		s.logger.Debug("staged copy already verified",
			zap.String("model", entry.LocalName))
		if s.metrics != nil {
			s.metrics.StagingSkips.Inc()
		}
		return nil
	}

	archive := findArchive(sourceDir)
	if archive == "" {
		if _, err := os.Stat(sourceDir); err != nil {
			return fmt.Errorf("bundle source missing: %w", err)
		}
	}

	// Replace, as close to atomically as plain directories allow: drop
	// the stale copy, then materialize the new one in full.
	if err := os.RemoveAll(destDir); err != nil {
		return fmt.Errorf("remove stale copy: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(destDir), 0o755); err != nil {
		return fmt.Errorf("create staging root: %w", err)
	}

	start := time.Now()
	if archive != "" {
		if err := extractArchive(archive, destDir); err != nil {
			return err
		}
	} else {
		if err := copyTree(sourceDir, destDir); err != nil {
			return err
		}
	}
	result.Copied = true
	if s.metrics != nil {
		s.metrics.StagingCopies.Inc()
	}

	if !s.verifier.Verify(destDir, entry.SHA256) {
		return fmt.Errorf("digest mismatch after copy (expected %s)", entry.SHA256)
	}

	s.logger.Info("staged model asset",
		zap.String("model", entry.LocalName),
		zap.Duration("took", time.Since(start)),
		zap.Bool("from_archive", archive != ""))
	return nil
}

func (s *Stager) finish(result *StagingResult) {
	result.Ensured = len(result.Errors) == 0

	if result.Ensured {
		if err := os.Setenv(ModelsDirEnv, result.DestRoot); err != nil {
			s.logger.Warn("failed to export models dir", zap.Error(err))
		}
	} else {
		s.logger.Warn("staging finished with errors",
			zap.Strings("errors", result.Errors))
	}

	s.mu.Lock()
	cp := *result
	s.last = &cp
	s.mu.Unlock()
}

// copyTree recursively copies the directory tree at src to dst,
// preserving file modes.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode().Perm())
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, target, d)
	})
}

func copyFile(src, dst string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
