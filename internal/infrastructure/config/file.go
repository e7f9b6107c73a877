package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// FileEnv names the environment variable pointing at the YAML config file.
const FileEnv = "PHOTOSHELL_CONFIG"

// applyFile overlays values from the YAML config file onto cfg.
// A missing file is not an error; desktop installs may run env-only.
func applyFile(cfg *Config) error {
	path := os.Getenv(FileEnv)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}
