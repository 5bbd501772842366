// internal/history/store.go
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	commonerrors "humanizer-api/internal/common/errors"
	"humanizer-api/internal/common/logger"
)

// Entry is one recorded rewrite for an authenticated user.
type Entry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Text      string    `json:"text"`
	Rewritten string    `json:"rewritten"`
	Tone      string    `json:"tone"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists rewrite history in Postgres. Anonymous rewrites are never
// recorded; callers only reach Record with a verified user id.
type Store struct {
	db     *sql.DB
	logger logger.Logger
}

func NewStore(db *sql.DB, log logger.Logger) *Store {
	return &Store{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "history"}),
	}
}

func (s *Store) Record(ctx context.Context, userID, text, rewritten, tone string) (*Entry, error) {
	entry := &Entry{
		ID:        uuid.New().String(),
		UserID:    userID,
		Text:      text,
		Rewritten: rewritten,
		Tone:      tone,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history (id, user_id, text, rewritten, tone, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.UserID, entry.Text, entry.Rewritten, entry.Tone, entry.CreatedAt,
	)
	if err != nil {
		return nil, commonerrors.NewDatabaseQueryFailedError(fmt.Errorf("insert history entry: %w", err))
	}
	return entry, nil
}

// ListByUser returns a user's entries, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, text, rewritten, tone, created_at FROM history WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, commonerrors.NewDatabaseQueryFailedError(fmt.Errorf("list history: %w", err))
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Text, &entry.Rewritten, &entry.Tone, &entry.CreatedAt); err != nil {
			return nil, commonerrors.NewDatabaseQueryFailedError(fmt.Errorf("scan history entry: %w", err))
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, commonerrors.NewDatabaseQueryFailedError(fmt.Errorf("iterate history: %w", err))
	}
	return out, nil
}
