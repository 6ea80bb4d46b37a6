package prompt

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lioarce01/prompt-version-hub/internal/access"
)

type statement struct {
	sql  string
	args []any
}

// recorder is a database.DB that records every statement and answers with
// empty results. The head row of any prompt belongs to owner.
type recorder struct {
	mu    sync.Mutex
	stmts []statement
	owner uuid.UUID
}

func (r *recorder) record(sql string, args []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stmts = append(r.stmts, statement{sql: sql, args: args})
}

func (r *recorder) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.record(sql, args)
	return pgconn.NewCommandTag("DELETE 1"), nil
}

func (r *recorder) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	r.record(sql, args)
	return emptyRows{}, nil
}

func (r *recorder) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	r.record(sql, args)
	return recordedRow{sql: sql, owner: r.owner}
}

func (r *recorder) Begin(context.Context) (pgx.Tx, error) {
	return &recordedTx{r: r}, nil
}

func (r *recorder) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	for _, q := range b.QueuedQueries {
		r.record(q.SQL, q.Arguments)
	}
	return closedBatch{}
}

func (r *recorder) statements() []statement {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]statement(nil), r.stmts...)
}

type recordedTx struct {
	pgx.Tx
	r *recorder
}

func (tx *recordedTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return tx.r.Exec(ctx, sql, args...)
}

func (tx *recordedTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return tx.r.Query(ctx, sql, args...)
}

func (tx *recordedTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return tx.r.QueryRow(ctx, sql, args...)
}

func (tx *recordedTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return tx.r.SendBatch(ctx, b)
}

func (tx *recordedTx) Commit(context.Context) error { return nil }
func (tx *recordedTx) Rollback(context.Context) error { return nil }

type recordedRow struct {
	sql   string
	owner uuid.UUID
}

func (row recordedRow) Scan(dest ...any) error {
	switch {
	case strings.Contains(row.sql, "count(*)"):
		*dest[0].(*int) = 0
	case strings.Contains(row.sql, "EXISTS"):
		*dest[0].(*bool) = false
	case strings.HasPrefix(row.sql, "SELECT "+versionColumns):
		*dest[0].(*uuid.UUID) = uuid.New()
		*dest[1].(*string) = "greet"
		*dest[2].(*int) = 1
		*dest[3].(*string) = "Hello {{name}}!"
		*dest[4].(*[]string) = []string{"name"}
		*dest[5].(*uuid.UUID) = row.owner
		*dest[6].(*bool) = true
		*dest[7].(*bool) = false
		*dest[8].(*time.Time) = time.Now()
	default:
		return pgx.ErrNoRows
	}
	return nil
}

type emptyRows struct{ pgx.Rows }

func (emptyRows) Next() bool { return false }
func (emptyRows) Err() error { return nil }
func (emptyRows) Close() {}

type closedBatch struct{ pgx.BatchResults }

func (closedBatch) Close() error { return nil }

var placeholder = regexp.MustCompile(`\$(\d+)`)

// highestPlaceholder returns the largest $N referenced by sql.
func highestPlaceholder(sql string) int {
	n := 0
	for _, m := range placeholder.FindAllStringSubmatch(sql, -1) {
		i, _ := strconv.Atoi(m[1])
		n = max(n, i)
	}
	return n
}

func TestListBindsOnlyReferencedArguments(t *testing.T) {
	viewer := access.Principal{ID: uuid.New(), Role: access.RoleViewer}
	active := true
	createdBy := viewer.ID.String()

	filters := map[string]ListFilter{
		"all":            {Scope: "all"},
		"default scope":  {},
		"public":         {Scope: "public"},
		"private":        {Scope: "private"},
		"owned":          {Scope: "owned"},
		"public query":   {Scope: "public", Query: "greet"},
		"public filters": {Scope: "public", Active: &active, CreatedBy: &createdBy, LatestOnly: true},
		"owned filters":  {Scope: "owned", Query: "greet", Active: &active, LatestOnly: true},
	}

	for name, f := range filters {
		t.Run(name, func(t *testing.T) {
			db := &recorder{}
			_, err := NewService(db).List(context.Background(), viewer, f)
			require.NoError(t, err)

			stmts := db.statements()
			require.Len(t, stmts, 2)
			for _, st := range stmts {
				assert.Equal(t, highestPlaceholder(st.sql), len(st.args), st.sql)
			}
		})
	}
}

func TestListPublicScopeIgnoresViewer(t *testing.T) {
	viewer := access.Principal{ID: uuid.New(), Role: access.RoleViewer}
	db := &recorder{}

	_, err := NewService(db).List(context.Background(), viewer, ListFilter{Scope: "public"})
	require.NoError(t, err)

	count := db.statements()[0]
	assert.Equal(t, "SELECT count(*) FROM prompt_versions WHERE is_public", count.sql)
	assert.Empty(t, count.args)
}

func TestListVersionsBindsArguments(t *testing.T) {
	viewer := access.Principal{ID: uuid.New(), Role: access.RoleViewer}
	db := &recorder{}

	_, err := NewService(db).ListVersions(context.Background(), "greet", viewer, VersionFilter{})
	// the visibility check answers false, so nothing past it runs
	require.Error(t, err)

	for _, st := range db.statements() {
		assert.Equal(t, highestPlaceholder(st.sql), len(st.args), st.sql)
	}
}

func TestDeleteAllVersionsClearsAssignments(t *testing.T) {
	owner := access.Principal{ID: uuid.New(), Role: access.RoleEditor}
	db := &recorder{owner: owner.ID}

	_, err := NewService(db).DeleteAllVersions(context.Background(), "greet", owner)
	require.NoError(t, err)

	var deleted []string
	for _, st := range db.statements() {
		if strings.HasPrefix(st.sql, "DELETE FROM ") {
			deleted = append(deleted, strings.Fields(st.sql)[2])
			assert.Equal(t, []any{"greet"}, st.args)
		}
	}
	assert.ElementsMatch(t, []string{
		"test_runs", "test_cases", "experiment_policies", "experiment_assignments", "prompt_versions",
	}, deleted)
}
