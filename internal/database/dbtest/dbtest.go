// Package dbtest provisions isolated, migrated PostgreSQL schemas for store tests.
// Tests are skipped unless TEST_DATABASE_URL points at a server with the
// pgvector extension available.
package dbtest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/lioarce01/prompt-version-hub/internal/database"
)

const envURL = "TEST_DATABASE_URL"

// New returns a pool whose search_path points at a fresh schema with all
// migrations applied. The schema is dropped when the test finishes.
func New(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv(envURL)
	if url == "" {
		t.Skipf("%s not set", envURL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	admin, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	defer admin.Close()

	// The extension is database-wide; keep it in public so every schema sees the type.
	if _, err := admin.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector WITH SCHEMA public"); err != nil && !database.IsUniqueViolation(err) {
		require.NoError(t, err)
	}

	schema := "t_" + randomSuffix()
	_, err = admin.Exec(ctx, fmt.Sprintf("CREATE SCHEMA %s", schema))
	require.NoError(t, err)

	cfg, err := pgxpool.ParseConfig(url)
	require.NoError(t, err)
	cfg.ConnConfig.RuntimeParams["search_path"] = schema + ", public"
	cfg.ConnConfig.RuntimeParams["timezone"] = "UTC"
	cfg.MaxConns = 8

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		pool.Close()
		cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer ccancel()
		cleanup, err := pgxpool.New(cctx, url)
		if err != nil {
			return
		}
		defer cleanup.Close()
		_, _ = cleanup.Exec(cctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema))
	})

	require.NoError(t, database.RunMigrations(ctx, pool))
	return pool
}

// CreateUser inserts a user with the given role and returns its id.
func CreateUser(t *testing.T, db database.DB, role string) uuid.UUID {
	t.Helper()

	var id uuid.UUID
	email := fmt.Sprintf("%s-%s@example.test", role, randomSuffix())
	err := db.QueryRow(context.Background(),
		`INSERT INTO users (email, password_hash, role) VALUES ($1, 'x', $2) RETURNING id`,
		email, role,
	).Scan(&id)
	require.NoError(t, err)
	return id
}

func randomSuffix() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
