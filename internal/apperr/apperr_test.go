package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindMatching(t *testing.T) {
	err := fmt.Errorf("update prompt: %w", NotFound("prompt %q not found", "greet"))

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrForbidden))
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, `update prompt: prompt "greet" not found`, err.Error())
}

func TestExternalUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := External("text generation failed", cause)

	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, ErrExternalService))
	assert.Equal(t, "text generation failed: connection reset", err.Error())
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, "internal", KindOf(nil).String())
}
