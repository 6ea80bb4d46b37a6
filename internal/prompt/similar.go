package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/lioarce01/prompt-version-hub/internal/access"
	"github.com/lioarce01/prompt-version-hub/internal/apperr"
	"github.com/lioarce01/prompt-version-hub/internal/database"
	"github.com/lioarce01/prompt-version-hub/internal/llm"
	"github.com/lioarce01/prompt-version-hub/internal/models"
)

// SimilarityIndex stores template embeddings and answers nearest-neighbour
// queries over active versions.
type SimilarityIndex struct {
	db       database.DB
	embedder llm.Embedder
}

func NewSimilarityIndex(db database.DB, embedder llm.Embedder) *SimilarityIndex {
	return &SimilarityIndex{db: db, embedder: embedder}
}

func (x *SimilarityIndex) embed(ctx context.Context, text string) (pgvector.Vector, string, error) {
	resp, err := x.embedder.Embed(ctx, llm.EmbeddingRequest{Input: []string{text}})
	if err != nil {
		return pgvector.Vector{}, "", apperr.External("embedding failed", err)
	}
	if len(resp.Embeddings) == 0 {
		return pgvector.Vector{}, "", apperr.External("embedding failed", llm.Malformed(resp.Provider, errors.New("no embedding returned")))
	}
	vec := resp.Embeddings[0]
	if len(vec) != llm.EmbeddingDimensions {
		return pgvector.Vector{}, "", apperr.External("embedding failed",
			llm.Malformed(resp.Provider, fmt.Errorf("got %d dimensions, want %d", len(vec), llm.EmbeddingDimensions)))
	}
	return pgvector.NewVector(vec), resp.Model, nil
}

// IndexVersion computes and upserts the embedding of one version.
func (x *SimilarityIndex) IndexVersion(ctx context.Context, versionID uuid.UUID) error {
	var template string
	err := x.db.QueryRow(ctx, `SELECT template FROM prompt_versions WHERE id = $1`, versionID).Scan(&template)
	if errors.Is(err, pgx.ErrNoRows) {
		// deleted before the job ran
		return nil
	}
	if err != nil {
		return fmt.Errorf("get version: %w", err)
	}

	vec, model, err := x.embed(ctx, template)
	if err != nil {
		return err
	}

	_, err = x.db.Exec(ctx,
		`INSERT INTO prompt_embeddings (prompt_version_id, embedding, model)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (prompt_version_id) DO UPDATE SET embedding = $2, model = $3, created_at = now()`,
		versionID, vec, model,
	)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return nil
		}
		return fmt.Errorf("upsert embedding: %w", err)
	}
	return nil
}

func (x *SimilarityIndex) Search(ctx context.Context, viewer access.Principal, text string, limit int) ([]models.SimilarPrompt, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.InvalidArgument("query text is required")
	}
	if limit <= 0 || limit > 50 {
		limit = 10
	}

	vec, _, err := x.embed(ctx, text)
	if err != nil {
		return nil, err
	}

	rows, err := x.db.Query(ctx,
		`SELECT pv.id, pv.name, pv.version, pv.template, pv.variables, pv.owner_id, pv.active, pv.is_public, pv.created_at,
		        pe.embedding <=> $1 AS distance
		 FROM prompt_embeddings pe
		 JOIN prompt_versions pv ON pv.id = pe.prompt_version_id
		 WHERE pv.active AND (pv.owner_id = $2 OR pv.is_public)
		 ORDER BY distance
		 LIMIT $3`,
		vec, viewer.ID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	results := []models.SimilarPrompt{}
	for rows.Next() {
		var r models.SimilarPrompt
		v := &r.PromptVersion
		if err := rows.Scan(&v.ID, &v.Name, &v.Version, &v.Template, &v.Variables, &v.OwnerID, &v.Active, &v.IsPublic, &v.CreatedAt, &r.Distance); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
