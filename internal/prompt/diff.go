package prompt

import (
	"fmt"

	"github.com/pmezard/go-difflib/difflib"
)

// UnifiedDiff renders a unified diff between two versions of a template,
// labelled name@from and name@to. Identical inputs give "".
func UnifiedDiff(name string, from, to int, a, b string) (string, error) {
	if a == b {
		return "", nil
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: fmt.Sprintf("%s@%d", name, from),
		ToFile:   fmt.Sprintf("%s@%d", name, to),
		Context:  3,
	}
	return difflib.GetUnifiedDiffString(diff)
}
