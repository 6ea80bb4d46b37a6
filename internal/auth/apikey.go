package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lioarce01/prompt-version-hub/internal/apperr"
	"github.com/lioarce01/prompt-version-hub/internal/database"
	"github.com/lioarce01/prompt-version-hub/internal/models"
)

const (
	APIKeyPrefix = "phk_"

	apiKeyBytes      = 32
	apiKeyColumns    = `id, user_id, key_hash, name, last_used_at, expires_at, created_at`
	maxKeyNameLength = 100
)

type APIKeys struct {
	db database.DB
}

func NewAPIKeys(db database.DB) *APIKeys {
	return &APIKeys{db: db}
}

func scanKey(row interface{ Scan(...any) error }) (*models.APIKey, error) {
	var k models.APIKey
	if err := row.Scan(&k.ID, &k.UserID, &k.KeyHash, &k.Name, &k.LastUsedAt, &k.ExpiresAt, &k.CreatedAt); err != nil {
		return nil, err
	}
	return &k, nil
}

// Create returns the plaintext key once; only its hash is stored.
func (k *APIKeys) Create(ctx context.Context, userID uuid.UUID, name string, expiresAt *time.Time) (string, *models.APIKey, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxKeyNameLength {
		return "", nil, apperr.InvalidArgument("key name must be 1 to %d characters", maxKeyNameLength)
	}
	if expiresAt != nil && !expiresAt.After(time.Now()) {
		return "", nil, apperr.InvalidArgument("expires_at must be in the future")
	}

	secret, err := randomToken(apiKeyBytes)
	if err != nil {
		return "", nil, fmt.Errorf("generate api key: %w", err)
	}
	plain := APIKeyPrefix + secret

	key, err := scanKey(k.db.QueryRow(ctx,
		`INSERT INTO api_keys (user_id, name, key_hash, expires_at) VALUES ($1, $2, $3, $4) RETURNING `+apiKeyColumns,
		userID, name, HashToken(plain), expiresAt,
	))
	if err != nil {
		return "", nil, fmt.Errorf("insert api key: %w", err)
	}
	return plain, key, nil
}

func (k *APIKeys) List(ctx context.Context, userID uuid.UUID) ([]models.APIKey, error) {
	rows, err := k.db.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	keys := []models.APIKey{}
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, *key)
	}
	return keys, rows.Err()
}

func (k *APIKeys) Revoke(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	tag, err := k.db.Exec(ctx, `DELETE FROM api_keys WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, fmt.Errorf("revoke api key: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Resolve returns the owner of a live key and stamps its last use.
func (k *APIKeys) Resolve(ctx context.Context, plain string) (*models.User, error) {
	if !strings.HasPrefix(plain, APIKeyPrefix) {
		return nil, apperr.Unauthenticated("invalid API key")
	}

	var keyID uuid.UUID
	var expiresAt *time.Time
	var u models.User
	err := k.db.QueryRow(ctx,
		`SELECT k.id, k.expires_at, u.id, u.email, u.password_hash, u.role, u.created_at
		 FROM api_keys k JOIN users u ON u.id = k.user_id
		 WHERE k.key_hash = $1`,
		HashToken(plain),
	).Scan(&keyID, &expiresAt, &u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Unauthenticated("invalid API key")
	}
	if err != nil {
		return nil, fmt.Errorf("lookup api key: %w", err)
	}
	if expiresAt != nil && expiresAt.Before(time.Now()) {
		return nil, apperr.Unauthenticated("API key expired")
	}

	if _, err := k.db.Exec(ctx, `UPDATE api_keys SET last_used_at = now() WHERE id = $1`, keyID); err != nil {
		slog.Warn("failed to stamp api key use", "key_id", keyID, "error", err)
	}
	return &u, nil
}
