package access

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/lioarce01/prompt-version-hub/internal/apperr"
)

func TestGate(t *testing.T) {
	owner := uuid.New()
	other := uuid.New()

	tests := []struct {
		name     string
		p        Principal
		isPublic bool
		read     apperr.Kind
		own      apperr.Kind
		manage   apperr.Kind
	}{
		{"owner private", Principal{ID: owner, Role: RoleEditor}, false, 0, 0, 0},
		{"owner public", Principal{ID: owner, Role: RoleViewer}, true, 0, 0, 0},
		{"stranger private", Principal{ID: other, Role: RoleEditor}, false, apperr.KindNotFound, apperr.KindNotFound, apperr.KindNotFound},
		{"stranger public", Principal{ID: other, Role: RoleEditor}, true, 0, apperr.KindForbidden, apperr.KindForbidden},
		{"admin private", Principal{ID: other, Role: RoleAdmin}, false, apperr.KindNotFound, apperr.KindNotFound, 0},
		{"admin public", Principal{ID: other, Role: RoleAdmin}, true, 0, apperr.KindForbidden, 0},
	}

	kind := func(err error) apperr.Kind {
		if err == nil {
			return 0
		}
		return apperr.KindOf(err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.read, kind(Read(tt.p, owner, tt.isPublic, "prompt")))
			assert.Equal(t, tt.own, kind(Own(tt.p, owner, tt.isPublic, "prompt")))
			assert.Equal(t, tt.manage, kind(Manage(tt.p, owner, tt.isPublic, "prompt")))
		})
	}
}

func TestRoles(t *testing.T) {
	assert.True(t, RoleAdmin.CanMutate())
	assert.True(t, RoleEditor.CanMutate())
	assert.False(t, RoleViewer.CanMutate())
	assert.False(t, Role("root").Valid())
}

func TestPrincipalContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	p := Principal{ID: uuid.New(), Role: RoleViewer}
	got, ok := FromContext(WithPrincipal(context.Background(), p))
	assert.True(t, ok)
	assert.Equal(t, p, got)
}
