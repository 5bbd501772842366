// internal/history/store_test.go
package history

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"humanizer-api/internal/common/logger"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db, logger.NewTestLogger(t)), mock
}

func TestRecord(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec(`INSERT INTO history`).
		WithArgs(sqlmock.AnyArg(), "user-1", "original text", "rewritten text", "Formal", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	entry, err := store.Record(context.Background(), "user-1", "original text", "rewritten text", "Formal")
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, "user-1", entry.UserID)
	assert.Equal(t, "rewritten text", entry.Rewritten)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListByUser(t *testing.T) {
	store, mock := newTestStore(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "text", "rewritten", "tone", "created_at"}).
		AddRow("h2", "user-1", "later text", "later rewrite", "Casual", now).
		AddRow("h1", "user-1", "earlier text", "earlier rewrite", "Formal", now.Add(-time.Hour))
	mock.ExpectQuery(`SELECT id, user_id, text, rewritten, tone, created_at FROM history WHERE user_id`).
		WithArgs("user-1").
		WillReturnRows(rows)

	entries, err := store.ListByUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "h2", entries[0].ID, "newest entry comes first")
	assert.Equal(t, "Formal", entries[1].Tone)
}

func TestListByUserEmpty(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(`SELECT id, user_id, text, rewritten, tone, created_at FROM history WHERE user_id`).
		WithArgs("user-2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "text", "rewritten", "tone", "created_at"}))

	entries, err := store.ListByUser(context.Background(), "user-2")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
