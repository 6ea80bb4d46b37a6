package models

import (
	"time"

	"github.com/google/uuid"
)

// PromptVersion is one immutable entry of a prompt's version chain. Only
// Active and IsPublic ever change after insert.
type PromptVersion struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Version   int       `json:"version" db:"version"`
	Template  string    `json:"template" db:"template"`
	Variables []string  `json:"variables" db:"variables"`
	OwnerID   uuid.UUID `json:"created_by" db:"owner_id"`
	Active    bool      `json:"active" db:"active"`
	IsPublic  bool      `json:"is_public" db:"is_public"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type PromptDiff struct {
	Name string `json:"name"`
	From int    `json:"from_version"`
	To   int    `json:"to_version"`
	Diff string `json:"diff"`
}

type SimilarPrompt struct {
	PromptVersion
	Distance float64 `json:"distance"`
}

// Page is the envelope every paginated listing returns.
type Page[T any] struct {
	Items   []T  `json:"items"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	Count   int  `json:"count"`
	Total   int  `json:"total"`
	HasNext bool `json:"has_next"`
}

func NewPage[T any](items []T, limit, offset, total int) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{
		Items:   items,
		Limit:   limit,
		Offset:  offset,
		Count:   len(items),
		Total:   total,
		HasNext: offset+len(items) < total,
	}
}
