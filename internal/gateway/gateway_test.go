package gateway

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsContained(t *testing.T) {
	root := filepath.FromSlash("/home/user/pictures")

	tests := []struct {
		name      string
		candidate string
		want      bool
	}{
		{"root itself", "/home/user/pictures", true},
		{"direct child", "/home/user/pictures/2024", true},
		{"nested child", "/home/user/pictures/2024/trip/img.jpg", true},
		{"sibling with shared prefix", "/home/user/pictures-backup", false},
		{"parent", "/home/user", false},
		{"unrelated", "/etc/passwd", false},
		{"traversal escape", "/home/user/pictures/../.ssh/id_rsa", false},
		{"traversal within root", "/home/user/pictures/a/../b", true},
		{"relative input", "pictures/2024", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsContained(root, filepath.FromSlash(tt.candidate))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsContainedRejectsRelativeRoot(t *testing.T) {
	assert.False(t, IsContained("pictures", filepath.FromSlash("/home/user/pictures/a")))
}

func TestNormalizeStripsTrailingSeparator(t *testing.T) {
	got := Normalize(filepath.FromSlash("/home/user/pictures/"))
	assert.Equal(t, filepath.FromSlash("/home/user/pictures"), got)
}

func TestRootSetAdd(t *testing.T) {
	s := NewRootSet()

	root, err := s.Add(filepath.FromSlash("/data/photos/"))
	require.NoError(t, err)
	assert.Equal(t, filepath.FromSlash("/data/photos"), root)

	_, err = s.Add("relative/path")
	assert.Error(t, err)

	assert.Equal(t, []string{filepath.FromSlash("/data/photos")}, s.Roots())
}

func TestRootSetNormalizeAndValidate(t *testing.T) {
	s := NewRootSet(filepath.FromSlash("/home/user/pictures"))

	got, err := s.NormalizeAndValidate(filepath.FromSlash("/home/user/pictures/2024/./img.jpg"))
	require.NoError(t, err)
	assert.Equal(t, filepath.FromSlash("/home/user/pictures/2024/img.jpg"), got)

	_, err = s.NormalizeAndValidate(filepath.FromSlash("/home/user/pictures/../../etc/passwd"))
	assert.ErrorIs(t, err, ErrPathDenied)

	_, err = s.NormalizeAndValidate("not-absolute")
	assert.ErrorIs(t, err, ErrPathDenied)
}

func TestRootSetMultipleRoots(t *testing.T) {
	s := NewRootSet(
		filepath.FromSlash("/home/user/pictures"),
		filepath.FromSlash("/tmp/photoshell"),
	)

	assert.True(t, s.Contains(filepath.FromSlash("/tmp/photoshell/cache.db")))
	assert.True(t, s.Contains(filepath.FromSlash("/home/user/pictures")))
	assert.False(t, s.Contains(filepath.FromSlash("/home/user/documents")))
}

func TestRootSetSkipsInvalidSeeds(t *testing.T) {
	s := NewRootSet("", "relative", filepath.FromSlash("/ok"))
	assert.Equal(t, []string{filepath.FromSlash("/ok")}, s.Roots())
}
