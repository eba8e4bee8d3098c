package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanPath(t *testing.T) {
	tests := map[string]string{
		"":                 "/",
		"a.txt":            "/a.txt",
		"/docs//x/../y.md": "/docs/y.md",
		" /trailing/ ":     "/trailing",
	}

	for in, want := range tests {
		assert.Equal(t, want, CleanPath(in), "input %q", in)
	}
}

func TestParents(t *testing.T) {
	assert.Nil(t, Parents("/a.txt"))
	assert.Equal(t, []string{"/a", "/a/b"}, Parents("a/b/c.txt"))
}
