package redis_session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/bookrag/internal/session"
	"github.com/mohammad-safakhou/bookrag/models"
)

const keyPrefix = "chat:session:"

// Store keeps each session as a Redis list of turn JSON plus a meta hash.
// RPUSH is atomic, so concurrent appends for one session both land.
type Store struct {
	client *redis.Client
}

// Conn opens and pings a Redis connection.
func Conn(ctx context.Context, host, port, pass string, db int, timeout time.Duration) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%s", host, port),
		DialTimeout: timeout,
		Password:    pass,
		DB:          db,
	})
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", session.ErrUnavailable, err)
	}
	if pong != "PONG" {
		return nil, fmt.Errorf("expected PONG, got %s", pong)
	}
	return client, nil
}

func New(client *redis.Client) *Store {
	return &Store{client: client}
}

func turnsKey(id string) string { return keyPrefix + id + ":turns" }
func metaKey(id string) string  { return keyPrefix + id + ":meta" }

// Load returns the session and whether it exists.
func (s *Store) Load(ctx context.Context, sessionID string) (models.Session, bool, error) {
	meta, err := s.client.HGetAll(ctx, metaKey(sessionID)).Result()
	if err != nil {
		return models.Session{}, false, fmt.Errorf("%w: %v", session.ErrUnavailable, err)
	}
	if len(meta) == 0 {
		return models.Session{}, false, nil
	}
	raw, err := s.client.LRange(ctx, turnsKey(sessionID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return models.Session{}, false, fmt.Errorf("%w: %v", session.ErrUnavailable, err)
	}
	sess := models.Session{
		SessionID: sessionID,
		UserID:    meta["user_id"],
	}
	sess.CreatedAt, _ = time.Parse(time.RFC3339, meta["created_at"])
	sess.UpdatedAt, _ = time.Parse(time.RFC3339, meta["updated_at"])
	for _, item := range raw {
		var turn models.ConversationTurn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			return models.Session{}, false, fmt.Errorf("decode turn: %w", err)
		}
		sess.Turns = append(sess.Turns, turn)
	}
	return sess, true, nil
}

// Create initialises session metadata if absent. HSETNX keeps creation
// idempotent under concurrent calls.
func (s *Store) Create(ctx context.Context, sessionID, userID string) (models.Session, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	pipe := s.client.TxPipeline()
	pipe.HSetNX(ctx, metaKey(sessionID), "created_at", now)
	pipe.HSet(ctx, metaKey(sessionID), "updated_at", now)
	if userID != "" {
		pipe.HSetNX(ctx, metaKey(sessionID), "user_id", userID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return models.Session{}, fmt.Errorf("%w: %v", session.ErrUnavailable, err)
	}
	sess, _, err := s.Load(ctx, sessionID)
	return sess, err
}

// Append pushes one turn onto the session list, creating the session if
// absent.
func (s *Store) Append(ctx context.Context, sessionID string, turn models.ConversationTurn) (models.Session, error) {
	data, err := json.Marshal(turn)
	if err != nil {
		return models.Session{}, fmt.Errorf("marshal turn: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	pipe := s.client.TxPipeline()
	pipe.HSetNX(ctx, metaKey(sessionID), "created_at", now)
	pipe.HSet(ctx, metaKey(sessionID), "updated_at", now)
	pipe.RPush(ctx, turnsKey(sessionID), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return models.Session{}, fmt.Errorf("%w: %v", session.ErrUnavailable, err)
	}
	sess, _, err := s.Load(ctx, sessionID)
	return sess, err
}
