package assets

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// archiveSuffixes lists the bundle archive forms a manifest entry may
// ship as, in probe order.
var archiveSuffixes = []string{".tar.zst", ".tar.gz", ".tgz"}

// findArchive returns the archive file standing in for a model directory,
// or "" when the entry ships as a plain directory.
func findArchive(sourceDir string) string {
	for _, suffix := range archiveSuffixes {
		candidate := sourceDir + suffix
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

// extractArchive unpacks a tar archive into destDir, auto-detecting
// gzip/zstd compression from the file name. Entries whose names would
// land outside destDir are skipped.
func extractArchive(archive, destDir string) error {
	file, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()

	var reader io.Reader = file
	switch {
	case strings.HasSuffix(archive, ".gz") || strings.HasSuffix(archive, ".tgz"):
		gz, err := gzip.NewReader(file)
		if err != nil {
			return fmt.Errorf("gzip reader: %w", err)
		}
		defer gz.Close()
		reader = gz
	case strings.HasSuffix(archive, ".zst"):
		zr, err := zstd.NewReader(file)
		if err != nil {
			return fmt.Errorf("zstd reader: %w", err)
		}
		defer zr.Close()
		reader = zr
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create dest: %w", err)
	}
	cleanDest := filepath.Clean(destDir)

	tr := tar.NewReader(reader)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}

		destPath := filepath.Join(cleanDest, filepath.FromSlash(header.Name))
		if destPath != cleanDest &&
			!strings.HasPrefix(destPath, cleanDest+string(os.PathSeparator)) {
			continue
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return fmt.Errorf("extract dir %s: %w", header.Name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
				return fmt.Errorf("extract %s: %w", header.Name, err)
			}
			out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode)&0o777)
			if err != nil {
				return fmt.Errorf("extract %s: %w", header.Name, err)
			}
			_, err = io.Copy(out, tr)
			out.Close()
			if err != nil {
				return fmt.Errorf("extract %s: %w", header.Name, err)
			}
		}
	}
	return nil
}
