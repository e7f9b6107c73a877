package gateway

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrPathDenied is returned when a candidate path falls outside every
// allowed root. Callers must fail closed on it, never auto-correct.
var ErrPathDenied = errors.New("path denied: outside allowed roots")

// IsValidPath reports whether a raw path is usable as a containment
// candidate. Relative inputs are rejected outright.
func IsValidPath(path string) bool {
	return path != "" && filepath.IsAbs(path)
}

// Normalize returns the canonical form of an absolute path: cleaned
// (".." and "." collapsed through OS normalization, not string matching)
// and with no trailing separator.
func Normalize(path string) string {
	cleaned := filepath.Clean(path)
	// Clean never leaves a trailing separator except on the root itself.
	return cleaned
}

// IsContained reports whether candidate equals root or is nested under it.
// Both inputs must be absolute; containment is checked on normalized forms
// so adversarial ".." segments cannot escape.
func IsContained(root, candidate string) bool {
	if !IsValidPath(root) || !IsValidPath(candidate) {
		return false
	}

	root = Normalize(root)
	candidate = Normalize(candidate)

	if candidate == root {
		return true
	}

	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(candidate, prefix)
}

// RootSet is the allowlist of absolute directory roots. All filesystem
// and protocol access funnels through a RootSet so one audited predicate
// guarantees no traversal escape regardless of how callers built paths.
type RootSet struct {
	mu    sync.RWMutex
	roots map[string]struct{}
}

// NewRootSet creates a RootSet seeded with the given roots. Invalid
// (relative or empty) seeds are skipped.
func NewRootSet(roots ...string) *RootSet {
	s := &RootSet{roots: make(map[string]struct{})}
	for _, r := range roots {
		s.Add(r) //nolint:errcheck // invalid seeds are skipped
	}
	return s
}

// Add normalizes and inserts a root, returning its canonical form.
func (s *RootSet) Add(path string) (string, error) {
	if !IsValidPath(path) {
		return "", fmt.Errorf("allowed root must be an absolute path, got %q", path)
	}
	root := Normalize(path)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.roots[root] = struct{}{}
	return root, nil
}

// Roots returns the configured roots in sorted order.
func (s *RootSet) Roots() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.roots))
	for r := range s.roots {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Contains reports whether at least one root contains the candidate.
func (s *RootSet) Contains(candidate string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for root := range s.roots {
		if IsContained(root, candidate) {
			return true
		}
	}
	return false
}

// NormalizeAndValidate normalizes the raw input and requires at least one
// configured root to contain it; otherwise fails with ErrPathDenied.
func (s *RootSet) NormalizeAndValidate(input string) (string, error) {
	if !IsValidPath(input) {
		return "", fmt.Errorf("%w: %q is not absolute", ErrPathDenied, input)
	}

	candidate := Normalize(input)
	if !s.Contains(candidate) {
		return "", fmt.Errorf("%w: %s", ErrPathDenied, candidate)
	}
	return candidate, nil
}
