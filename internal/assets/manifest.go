package assets

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/bytedance/sonic"
)

// ErrManifest marks a missing, empty, or unparseable model manifest.
// Staging reports it as ensured=false; it never propagates past the
// staging boundary.
var ErrManifest = errors.New("invalid model manifest")

// ManifestEntry describes one named model-asset directory and its
// expected content digest. Immutable after load.
type ManifestEntry struct {
	LocalName string
	SHA256    string
}

// rawEntry tolerates the manifest field spellings seen in shipped
// bundles. The fallback order is local_name, localName, name; validated
// once at load time rather than per access.
type rawEntry struct {
	LocalName      string `json:"local_name"`
	LocalNameCamel string `json:"localName"`
	Name           string `json:"name"`
	SHA256         string `json:"sha256"`
}

func (r rawEntry) resolve() (ManifestEntry, error) {
	name := r.LocalName
	if name == "" {
		name = r.LocalNameCamel
	}
	if name == "" {
		name = r.Name
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ManifestEntry{}, fmt.Errorf("%w: entry missing local_name", ErrManifest)
	}
	return ManifestEntry{LocalName: name, SHA256: strings.ToLower(strings.TrimSpace(r.SHA256))}, nil
}

// LoadManifest parses the JSON manifest at path. Both a bare array and a
// {"models": [...]} object are accepted. Absence or emptiness is a hard
// staging failure.
func LoadManifest(path string) ([]ManifestEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrManifest, path, err)
	}

	var raw []rawEntry
	if err := sonic.Unmarshal(data, &raw); err != nil {
		var wrapper struct {
			Models []rawEntry `json:"models"`
		}
		if err2 := sonic.Unmarshal(data, &wrapper); err2 != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", ErrManifest, path, err)
		}
		raw = wrapper.Models
	}

	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: %s lists no models", ErrManifest, path)
	}

	entries := make([]ManifestEntry, 0, len(raw))
	for _, r := range raw {
		entry, err := r.resolve()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
