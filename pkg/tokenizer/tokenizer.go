// Package tokenizer estimates token counts without a model vocabulary.
package tokenizer

import (
	"strings"
	"unicode/utf8"
)

// Estimate returns the larger of a word-based and a character-based guess
// (about 4/3 tokens per word, 4 characters per token). Blank text is 0.
func Estimate(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	byWords := len(strings.Fields(text)) * 4 / 3
	byChars := utf8.RuneCountInString(text) / 4
	return max(byWords, byChars, 1)
}
