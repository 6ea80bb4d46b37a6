package prompt

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

const maxNameLength = 255

// Slugify lowercases s and collapses every run of other characters into a
// single hyphen.
func Slugify(s string) string {
	slug := strings.Trim(nonSlugChars.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if slug == "" {
		slug = "prompt"
	}
	// leave room for a numeric suffix
	if len(slug) > maxNameLength-8 {
		slug = strings.TrimRight(slug[:maxNameLength-8], "-")
	}
	return slug
}

// nextFreeName returns base, or base-N with the smallest N >= 1 not in taken.
func nextFreeName(base string, taken map[string]bool) string {
	if !taken[base] {
		return base
	}
	for i := 1; ; i++ {
		candidate := base + "-" + strconv.Itoa(i)
		if !taken[candidate] {
			return candidate
		}
	}
}

func cloneBase(source, newName string) string {
	if strings.TrimSpace(newName) != "" {
		return Slugify(newName)
	}
	return Slugify(fmt.Sprintf("%s-copy", source))
}
