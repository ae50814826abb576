package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/mohammad-safakhou/bookrag/internal/session"
	"github.com/mohammad-safakhou/bookrag/models"
)

// Store keeps sessions in a chat_sessions table with the turn sequence as
// a JSONB array. Appends are a single INSERT ... ON CONFLICT statement so
// concurrent appends for one session cannot lose writes.
type Store struct {
	DB *sql.DB
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", session.ErrUnavailable, err)
	}
	return &Store{DB: db}, nil
}

// Load returns the session and whether it exists.
func (s *Store) Load(ctx context.Context, sessionID string) (models.Session, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT session_id, user_id, created_at, updated_at, conversation_history
FROM chat_sessions
WHERE session_id = $1
`, sessionID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return models.Session{}, false, nil
	}
	if err != nil {
		return models.Session{}, false, fmt.Errorf("%w: %v", session.ErrUnavailable, err)
	}
	return sess, true, nil
}

// Create inserts an empty session if absent. Safe under concurrency: the
// conflict clause makes the insert a no-op and the following select
// returns whichever row won.
func (s *Store) Create(ctx context.Context, sessionID, userID string) (models.Session, error) {
	var uid interface{}
	if userID != "" {
		uid = userID
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO chat_sessions (session_id, user_id, conversation_history, created_at, updated_at)
VALUES ($1, $2, '[]'::jsonb, NOW(), NOW())
ON CONFLICT (session_id) DO NOTHING
`, sessionID, uid)
	if err != nil {
		return models.Session{}, fmt.Errorf("%w: %v", session.ErrUnavailable, err)
	}
	sess, ok, err := s.Load(ctx, sessionID)
	if err != nil {
		return models.Session{}, err
	}
	if !ok {
		return models.Session{}, models.ErrSessionNotFound
	}
	return sess, nil
}

// Append adds one turn atomically, creating the session if absent. The
// JSONB concatenation happens inside a single conditional upsert, so two
// racing appends both survive.
func (s *Store) Append(ctx context.Context, sessionID string, turn models.ConversationTurn) (models.Session, error) {
	turnBytes, err := json.Marshal(turn)
	if err != nil {
		return models.Session{}, fmt.Errorf("marshal turn: %w", err)
	}
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO chat_sessions (session_id, conversation_history, created_at, updated_at)
VALUES ($1, jsonb_build_array($2::jsonb), NOW(), NOW())
ON CONFLICT (session_id) DO UPDATE SET
  conversation_history = chat_sessions.conversation_history || EXCLUDED.conversation_history,
  updated_at = NOW()
RETURNING session_id, user_id, created_at, updated_at, conversation_history;
`, sessionID, turnBytes)
	sess, err := scanSession(row)
	if err != nil {
		return models.Session{}, fmt.Errorf("%w: %v", session.ErrUnavailable, err)
	}
	return sess, nil
}

// ListRecent returns sessions ordered by most recent activity, optionally
// filtered by user.
func (s *Store) ListRecent(ctx context.Context, userID string, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT session_id, user_id, created_at, updated_at, conversation_history
FROM chat_sessions
WHERE ($1 = '' OR user_id = $1)
ORDER BY updated_at DESC
LIMIT $2
`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", session.ErrUnavailable, err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (models.Session, error) {
	var (
		sess       models.Session
		userID     sql.NullString
		createdAt  time.Time
		updatedAt  time.Time
		turnsBytes []byte
	)
	if err := row.Scan(&sess.SessionID, &userID, &createdAt, &updatedAt, &turnsBytes); err != nil {
		return models.Session{}, err
	}
	sess.UserID = userID.String
	sess.CreatedAt = createdAt
	sess.UpdatedAt = updatedAt
	if len(turnsBytes) > 0 {
		if err := json.Unmarshal(turnsBytes, &sess.Turns); err != nil {
			return models.Session{}, fmt.Errorf("decode conversation history: %w", err)
		}
	}
	return sess, nil
}
