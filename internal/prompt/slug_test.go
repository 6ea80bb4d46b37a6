package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Greet":                "greet",
		"Customer Support v2!": "customer-support-v2",
		"  --weird__name--  ":  "weird-name",
		"greet-copy":           "greet-copy",
		"???":                  "prompt",
	}
	for in, want := range tests {
		assert.Equal(t, want, Slugify(in), in)
	}

	long := Slugify(strings.Repeat("a", 400))
	assert.LessOrEqual(t, len(long), maxNameLength-8)
}

func TestNextFreeName(t *testing.T) {
	assert.Equal(t, "greet-copy", nextFreeName("greet-copy", map[string]bool{}))
	assert.Equal(t, "greet-copy-1", nextFreeName("greet-copy", map[string]bool{"greet-copy": true}))
	assert.Equal(t, "greet-copy-3", nextFreeName("greet-copy", map[string]bool{
		"greet-copy": true, "greet-copy-1": true, "greet-copy-2": true,
	}))
}

func TestCloneBase(t *testing.T) {
	assert.Equal(t, "greet-copy", cloneBase("greet", ""))
	assert.Equal(t, "my-greeting", cloneBase("greet", "My Greeting"))
}
