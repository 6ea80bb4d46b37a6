// Package user stores accounts. Credentials are checked by package auth.
package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lioarce01/prompt-version-hub/internal/access"
	"github.com/lioarce01/prompt-version-hub/internal/apperr"
	"github.com/lioarce01/prompt-version-hub/internal/database"
	"github.com/lioarce01/prompt-version-hub/internal/models"
)

const userColumns = `id, email, password_hash, role, created_at`

type Service struct {
	db database.DB
}

func NewService(db database.DB) *Service {
	return &Service{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// NormalizeEmail lowercases and trims an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) Create(ctx context.Context, email, passwordHash string, role access.Role) (*models.User, error) {
	if !role.Valid() {
		return nil, apperr.InvalidArgument("unknown role %q", role)
	}
	u, err := scanUser(s.db.QueryRow(ctx,
		`INSERT INTO users (email, password_hash, role) VALUES ($1, $2, $3) RETURNING `+userColumns,
		NormalizeEmail(email), passwordHash, string(role),
	))
	if database.IsUniqueViolation(err) {
		return nil, apperr.AlreadyExists("email %s is already registered", NormalizeEmail(email))
	}
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("user %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *Service) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, NormalizeEmail(email)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("user %s not found", NormalizeEmail(email))
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *Service) List(ctx context.Context, limit, offset int) (models.Page[models.User], error) {
	var page models.Page[models.User]
	if limit < 1 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&total); err != nil {
		return page, fmt.Errorf("count users: %w", err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at, email LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return page, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return page, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return page, err
	}
	return models.NewPage(users, limit, offset, total), nil
}

func (s *Service) SetRole(ctx context.Context, id uuid.UUID, role access.Role) (*models.User, error) {
	if !role.Valid() {
		return nil, apperr.InvalidArgument("unknown role %q", role)
	}
	u, err := scanUser(s.db.QueryRow(ctx,
		`UPDATE users SET role = $2 WHERE id = $1 RETURNING `+userColumns, id, string(role)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("user %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("update role: %w", err)
	}
	return u, nil
}

// SetPasswordHash replaces the stored hash; used when re-seeding the admin.
func (s *Service) SetPasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, hash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("user %s not found", id)
	}
	return nil
}
