package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/lensfield/photoshell/internal/infrastructure/logging"
)

const maxRecentDirectories = 10

// Settings is the persisted shell state shared with the renderer.
type Settings struct {
	AllowedDirectories    []string `json:"allowed_directories"`
	RecentDirectories     []string `json:"recent_directories"`
	LastSelectedDirectory string   `json:"last_selected_directory,omitempty"`
}

// Store is a JSON-file backed settings store. All mutators persist
// synchronously so a crash never loses an allowlist grant.
type Store struct {
	path   string
	logger *logging.Logger

	mu   sync.Mutex
	data Settings
}

// Open loads the store at path, creating an empty one when the file is
// missing. A corrupt file is an error: silently resetting it would drop
// the user's directory grants.
func Open(path string, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Store{path: path, logger: logger}

	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}
	if len(raw) == 0 {
		return s, nil
	}
	if err := sonic.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	logger.Info("settings loaded",
		zap.String("path", path),
		zap.Int("allowed_dirs", len(s.data.AllowedDirectories)))
	return s, nil
}

// Snapshot returns a copy of the current settings.
func (s *Store) Snapshot() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Settings{
		AllowedDirectories:    append([]string(nil), s.data.AllowedDirectories...),
		RecentDirectories:     append([]string(nil), s.data.RecentDirectories...),
		LastSelectedDirectory: s.data.LastSelectedDirectory,
	}
}

// AllowedDirectories returns the persisted allowlist.
func (s *Store) AllowedDirectories() []string {
	return s.Snapshot().AllowedDirectories
}

// AddAllowedDirectory appends dir to the allowlist if absent and
// persists. The caller is expected to have gateway-normalized dir.
func (s *Store) AddAllowedDirectory(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.data.AllowedDirectories {
		if d == dir {
			return nil
		}
	}
	s.data.AllowedDirectories = append(s.data.AllowedDirectories, dir)
	return s.persistLocked()
}

// TouchDirectory records dir as most recently used and persists.
func (s *Store) TouchDirectory(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recent := make([]string, 0, len(s.data.RecentDirectories)+1)
	recent = append(recent, dir)
	for _, d := range s.data.RecentDirectories {
		if d != dir {
			recent = append(recent, d)
		}
	}
	if len(recent) > maxRecentDirectories {
		recent = recent[:maxRecentDirectories]
	}
	s.data.RecentDirectories = recent
	s.data.LastSelectedDirectory = dir
	return s.persistLocked()
}

// persistLocked writes atomically via a sibling temp file.
func (s *Store) persistLocked() error {
	raw, err := sonic.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("commit settings: %w", err)
	}
	return nil
}
