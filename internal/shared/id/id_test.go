package id

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrefixes(t *testing.T) {
	req := NewRequestID()
	assert.True(t, strings.HasPrefix(string(req), "req_"))

	run := NewStagingRunID()
	assert.True(t, strings.HasPrefix(string(run), "run_"))
}

func TestUniqueness(t *testing.T) {
	seen := make(map[StagingRunID]bool)
	for i := 0; i < 1000; i++ {
		id := NewStagingRunID()
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestULIDShape(t *testing.T) {
	g := NewGenerator()
	assert.Len(t, g.GenerateString(), 26)
}
