package assets

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/lensfield/photoshell/internal/infrastructure/logging"
)

// Verifier computes content digests of staged asset trees.
type Verifier struct {
	logger *logging.Logger
}

// NewVerifier creates a verifier.
func NewVerifier(logger *logging.Logger) *Verifier {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Verifier{logger: logger}
}

// DigestTree computes a deterministic sha256 digest of the directory tree
// at root, returning the hex digest and cumulative file bytes.
//
// Entries are visited in lexicographic order at each level, and each file
// contributes its slash-form relative path followed by its streamed
// content, so byte-identical trees hash identically on every platform
// regardless of native enumeration order. Files are streamed rather than
// buffered; model weight directories run to hundreds of megabytes.
func (v *Verifier) DigestTree(root string) (string, int64, error) {
	h := sha256.New()
	var total int64

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Entry disappeared mid-walk or is unreadable. No retry;
			// the caller treats the tree as not yet verified.
			return fmt.Errorf("walk %s: %w", path, err)
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("rel %s: %w", path, err)
		}
		if _, err := io.WriteString(h, filepath.ToSlash(rel)); err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		n, err := io.Copy(h, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		total += n
		return nil
	})
	if err != nil {
		return "", 0, err
	}

	return hex.EncodeToString(h.Sum(nil)), total, nil
}

// Verify reports whether the tree at path matches the expected digest.
//
// Absence (ENOENT) and digest mismatch return false, not an error. Any
// other I/O failure is logged and treated as non-verified: fail closed,
// never fail open. An empty expected digest degrades to an existence
// check, since there is nothing to compare against.
func (v *Verifier) Verify(path, expectedHex string) bool {
	info, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			v.logger.Warn("stat failed during verification",
				zap.String("path", path), zap.Error(err))
		}
		return false
	}
	if !info.IsDir() {
		return false
	}
	if expectedHex == "" {
		return true
	}

	digest, _, err := v.DigestTree(path)
	if err != nil {
		v.logger.Warn("digest failed during verification",
			zap.String("path", path), zap.Error(err))
		return false
	}
	return digest == expectedHex
}
