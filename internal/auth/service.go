// Package auth handles credentials: password login, access and refresh
// tokens, API keys and the HTTP middleware that turns them into a principal.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/lioarce01/prompt-version-hub/internal/access"
	"github.com/lioarce01/prompt-version-hub/internal/apperr"
	"github.com/lioarce01/prompt-version-hub/internal/database"
	"github.com/lioarce01/prompt-version-hub/internal/models"
	"github.com/lioarce01/prompt-version-hub/internal/user"
)

const (
	minPasswordLength = 8
	// bcrypt ignores bytes past 72
	maxPasswordLength = 72
	refreshTokenBytes = 32
)

type Service struct {
	db         database.DB
	users      *user.Service
	issuer     *Issuer
	refreshTTL time.Duration
}

func NewService(db database.DB, users *user.Service, issuer *Issuer, refreshTTL time.Duration) *Service {
	return &Service{db: db, users: users, issuer: issuer, refreshTTL: refreshTTL}
}

func validateCredentials(email, password string) error {
	if _, err := mail.ParseAddress(email); err != nil {
		return apperr.InvalidArgument("invalid email address")
	}
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return apperr.InvalidArgument("password must be %d to %d characters", minPasswordLength, maxPasswordLength)
	}
	return nil
}

// Register creates an editor or viewer account. Admins are only seeded.
func (s *Service) Register(ctx context.Context, email, password string, role access.Role) (*models.User, error) {
	email = user.NormalizeEmail(email)
	if err := validateCredentials(email, password); err != nil {
		return nil, err
	}
	if role == "" {
		role = access.RoleViewer
	}
	if role != access.RoleEditor && role != access.RoleViewer {
		return nil, apperr.InvalidArgument("role must be editor or viewer")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return s.users.Create(ctx, email, string(hash), role)
}

func (s *Service) Login(ctx context.Context, email, password string) (*models.TokenPair, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.Unauthenticated("invalid email or password")
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, apperr.Unauthenticated("invalid email or password")
	}
	return s.issuePair(ctx, s.db, u)
}

func (s *Service) issuePair(ctx context.Context, q database.DB, u *models.User) (*models.TokenPair, error) {
	accessToken, err := s.issuer.Issue(u)
	if err != nil {
		return nil, err
	}
	refresh, err := randomToken(refreshTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	_, err = q.Exec(ctx,
		`INSERT INTO refresh_tokens (user_id, token_hash, expires_at) VALUES ($1, $2, $3)`,
		u.ID, HashToken(refresh), time.Now().Add(s.refreshTTL),
	)
	if err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}
	return &models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(s.issuer.TTL().Seconds()),
	}, nil
}

// Refresh revokes refreshToken and issues a new pair. A token can be
// exchanged once.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID uuid.UUID
	err = tx.QueryRow(ctx,
		`UPDATE refresh_tokens SET revoked = true
		 WHERE token_hash = $1 AND NOT revoked AND expires_at > now()
		 RETURNING user_id`,
		HashToken(refreshToken),
	).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Unauthenticated("invalid or expired refresh token")
	}
	if err != nil {
		return nil, fmt.Errorf("revoke refresh token: %w", err)
	}

	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	pair, err := s.issuePair(ctx, tx, u)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return pair, nil
}

// Logout revokes refreshToken. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	_, err := s.db.Exec(ctx, `UPDATE refresh_tokens SET revoked = true WHERE token_hash = $1`, HashToken(refreshToken))
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// EnsureAdmin creates the admin account, or promotes and resets an existing
// account with that email.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (*models.User, error) {
	email = user.NormalizeEmail(email)
	if err := validateCredentials(email, password); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, apperr.ErrNotFound) {
		u, err = s.users.Create(ctx, email, string(hash), access.RoleAdmin)
		if err != nil {
			return nil, err
		}
		slog.Info("admin user created", "email", email)
		return u, nil
	}
	if err != nil {
		return nil, err
	}

	if err := s.users.SetPasswordHash(ctx, u.ID, string(hash)); err != nil {
		return nil, err
	}
	if u.Role != string(access.RoleAdmin) {
		return s.users.SetRole(ctx, u.ID, access.RoleAdmin)
	}
	return u, nil
}

// Principal converts a stored user into the identity the stores check.
func Principal(u *models.User) access.Principal {
	return access.Principal{ID: u.ID, Email: u.Email, Role: access.Role(u.Role)}
}
