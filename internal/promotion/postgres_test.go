package promotion

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type stubRow struct {
	exists bool
	err    error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*bool)) = r.exists
	return nil
}

type stubDB struct {
	affected int64
	exists   bool
	lastSQL  string
}

func (s *stubDB) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	s.lastSQL = sql
	return stubRow{exists: s.exists}
}

func (s *stubDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	s.lastSQL = sql
	if s.affected == 1 {
		return pgconn.NewCommandTag("UPDATE 1"), nil
	}
	return pgconn.NewCommandTag("UPDATE 0"), nil
}

func TestPostgresIncrementSucceeds(t *testing.T) {
	db := &stubDB{affected: 1}
	require.NoError(t, PostgresStore{DB: db}.Increment(context.Background(), "p"))
	require.Contains(t, db.lastSQL, "usage_count < usage_limit")
}

func TestPostgresIncrementAtLimit(t *testing.T) {
	db := &stubDB{affected: 0, exists: true}
	err := PostgresStore{DB: db}.Increment(context.Background(), "p")
	require.ErrorIs(t, err, ErrUsageLimitReached)
}

func TestPostgresIncrementMissing(t *testing.T) {
	db := &stubDB{affected: 0, exists: false}
	err := PostgresStore{DB: db}.Increment(context.Background(), "p")
	require.ErrorIs(t, err, ErrNotFound)
}
