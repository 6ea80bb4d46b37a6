package database

import (
	"fmt"
	"strings"
)

// Where accumulates AND-ed conditions with positional arguments. Each
// condition uses "?" for its single argument, which is rewritten to the
// next $N placeholder.
type Where struct {
	conds []string
	args  []any
}

func NewWhere(args ...any) *Where {
	return &Where{args: args}
}

// Raw adds a condition that refers to already-bound arguments only.
func (w *Where) Raw(cond string) *Where {
	w.conds = append(w.conds, cond)
	return w
}

func (w *Where) Add(cond string, arg any) *Where {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, strings.Replace(cond, "?", fmt.Sprintf("$%d", len(w.args)), 1))
	return w
}

// Arg binds an extra argument (LIMIT, OFFSET...) and returns its placeholder.
func (w *Where) Arg(arg any) string {
	w.args = append(w.args, arg)
	return fmt.Sprintf("$%d", len(w.args))
}

func (w *Where) Args() []any { return w.args }

func (w *Where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}
