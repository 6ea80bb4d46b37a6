package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWhere(t *testing.T) {
	w := NewWhere("greet")
	w.Raw("name = $1").Add("active = ?", true).Add("owner_id = ?", "u1")
	limit := w.Arg(20)

	assert.Equal(t, " WHERE name = $1 AND active = $2 AND owner_id = $3", w.String())
	assert.Equal(t, "$4", limit)
	assert.Equal(t, []any{"greet", true, "u1", 20}, w.Args())
}

func TestWhereEmpty(t *testing.T) {
	assert.Equal(t, "", NewWhere().String())
}
