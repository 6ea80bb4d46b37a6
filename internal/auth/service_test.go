package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lioarce01/prompt-version-hub/internal/access"
	"github.com/lioarce01/prompt-version-hub/internal/apperr"
	"github.com/lioarce01/prompt-version-hub/internal/database/dbtest"
	"github.com/lioarce01/prompt-version-hub/internal/user"
)

func newService(t *testing.T) (*Service, *APIKeys, *Issuer) {
	t.Helper()
	db := dbtest.New(t)
	issuer := NewIssuer("test-secret", 15*time.Minute)
	return NewService(db, user.NewService(db), issuer, time.Hour), NewAPIKeys(db), issuer
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _, issuer := newService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, " Ada@Example.com ", "correct horse", "")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.Equal(t, string(access.RoleViewer), u.Role)
	assert.NotEqual(t, "correct horse", u.PasswordHash)

	_, err = svc.Register(ctx, "ada@example.com", "another pass", access.RoleEditor)
	assert.ErrorIs(t, err, apperr.ErrAlreadyExists)
	_, err = svc.Register(ctx, "bob@example.com", "short", access.RoleEditor)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = svc.Register(ctx, "bob@example.com", "long enough", access.RoleAdmin)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = svc.Register(ctx, "not-an-email", "long enough", access.RoleEditor)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = svc.Login(ctx, "ada@example.com", "wrong password")
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
	_, err = svc.Login(ctx, "nobody@example.com", "correct horse")
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)

	pair, err := svc.Login(ctx, "ADA@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "bearer", pair.TokenType)
	assert.Equal(t, 900, pair.ExpiresIn)

	id, _, err := issuer.Parse(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, id)
}

func TestRefreshRotation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "ada@example.com", "correct horse", access.RoleEditor)
	require.NoError(t, err)
	first, err := svc.Login(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)

	second, err := svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = svc.Refresh(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)

	require.NoError(t, svc.Logout(ctx, second.RefreshToken))
	_, err = svc.Refresh(ctx, second.RefreshToken)
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)

	assert.NoError(t, svc.Logout(ctx, "never-issued"))
}

func TestEnsureAdmin(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "root@example.com", "old password", access.RoleViewer)
	require.NoError(t, err)

	admin, err := svc.EnsureAdmin(ctx, "root@example.com", "new password")
	require.NoError(t, err)
	assert.Equal(t, string(access.RoleAdmin), admin.Role)

	_, err = svc.Login(ctx, "root@example.com", "old password")
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
	_, err = svc.Login(ctx, "root@example.com", "new password")
	assert.NoError(t, err)

	again, err := svc.EnsureAdmin(ctx, "root@example.com", "new password")
	require.NoError(t, err)
	assert.Equal(t, admin.ID, again.ID)

	fresh, err := svc.EnsureAdmin(ctx, "ops@example.com", "ops password")
	require.NoError(t, err)
	assert.Equal(t, string(access.RoleAdmin), fresh.Role)
}

func TestAPIKeys(t *testing.T) {
	svc, keys, _ := newService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, "ada@example.com", "correct horse", access.RoleEditor)
	require.NoError(t, err)

	plain, key, err := keys.Create(ctx, u.ID, "ci", nil)
	require.NoError(t, err)
	assert.True(t, len(plain) > len(APIKeyPrefix))
	assert.Equal(t, APIKeyPrefix, plain[:len(APIKeyPrefix)])
	assert.Equal(t, HashToken(plain), key.KeyHash)

	resolved, err := keys.Resolve(ctx, plain)
	require.NoError(t, err)
	assert.Equal(t, u.ID, resolved.ID)

	_, err = keys.Resolve(ctx, APIKeyPrefix+"unknown")
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
	_, err = keys.Resolve(ctx, "no-prefix")
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)

	past := time.Now().Add(-time.Minute)
	_, _, err = keys.Create(ctx, u.ID, "stale", &past)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	list, err := keys.List(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].LastUsedAt)

	ok, err := keys.Revoke(ctx, key.ID, u.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = keys.Resolve(ctx, plain)
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
}
