package session

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/mohammad-safakhou/bookrag/models"
)

type stubStore struct {
	sessions map[string]models.Session
	loadErr  error
	saveErr  error
}

func newStubStore() *stubStore {
	return &stubStore{sessions: make(map[string]models.Session)}
}

func (s *stubStore) Load(_ context.Context, id string) (models.Session, bool, error) {
	if s.loadErr != nil {
		return models.Session{}, false, s.loadErr
	}
	sess, ok := s.sessions[id]
	return sess, ok, nil
}

func (s *stubStore) Create(_ context.Context, id, userID string) (models.Session, error) {
	if s.saveErr != nil {
		return models.Session{}, s.saveErr
	}
	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}
	sess := models.Session{SessionID: id, UserID: userID, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	s.sessions[id] = sess
	return sess, nil
}

func (s *stubStore) Append(_ context.Context, id string, turn models.ConversationTurn) (models.Session, error) {
	if s.saveErr != nil {
		return models.Session{}, s.saveErr
	}
	sess := s.sessions[id]
	sess.SessionID = id
	sess.Turns = append(sess.Turns, turn)
	sess.UpdatedAt = time.Now()
	s.sessions[id] = sess
	return sess, nil
}

func quietManager(store Store) *Manager {
	return NewManager(store, log.New(io.Discard, "", 0))
}

func TestGetOrCreateIdempotent(t *testing.T) {
	store := newStubStore()
	m := quietManager(store)

	first, err := m.GetOrCreate(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	second, err := m.GetOrCreate(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if first.SessionID != "s1" || second.SessionID != "s1" {
		t.Fatalf("unexpected session ids: %s, %s", first.SessionID, second.SessionID)
	}
	if len(store.sessions) != 1 {
		t.Fatalf("expected a single stored session, got %d", len(store.sessions))
	}
}

func TestAppendTurnIsAppendOnly(t *testing.T) {
	store := newStubStore()
	m := quietManager(store)

	if _, err := m.AppendTurn(context.Background(), "s1", models.RoleUser, "hello"); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	before := store.sessions["s1"].Turns[0]

	sess, err := m.AppendTurn(context.Background(), "s1", models.RoleAssistant, "hi there")
	if err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	if len(sess.Turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(sess.Turns))
	}
	if sess.Turns[0] != before {
		t.Error("prior turn must be unchanged after append")
	}
	if sess.Turns[1].Role != models.RoleAssistant || sess.Turns[1].Content != "hi there" {
		t.Errorf("unexpected appended turn: %+v", sess.Turns[1])
	}
	if _, err := time.Parse(time.RFC3339, sess.Turns[1].Timestamp); err != nil {
		t.Errorf("timestamp not RFC3339: %q", sess.Turns[1].Timestamp)
	}
}

func TestLoadHistoryPersistedWins(t *testing.T) {
	store := newStubStore()
	m := quietManager(store)
	if _, err := m.AppendTurn(context.Background(), "s1", models.RoleUser, "persisted"); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	client := []models.ConversationTurn{{Role: models.RoleUser, Content: "client-side"}}
	turns := m.LoadHistoryOrFallback(context.Background(), "s1", client)
	if len(turns) != 1 || turns[0].Content != "persisted" {
		t.Fatalf("persisted history must supersede client history, got %+v", turns)
	}
}

func TestLoadHistoryFallsBack(t *testing.T) {
	client := []models.ConversationTurn{{Role: models.RoleUser, Content: "client-side"}}

	t.Run("no session id", func(t *testing.T) {
		m := quietManager(newStubStore())
		turns := m.LoadHistoryOrFallback(context.Background(), "", client)
		if len(turns) != 1 || turns[0].Content != "client-side" {
			t.Fatalf("expected client history, got %+v", turns)
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		m := quietManager(newStubStore())
		turns := m.LoadHistoryOrFallback(context.Background(), "missing", client)
		if len(turns) != 1 || turns[0].Content != "client-side" {
			t.Fatalf("expected client history, got %+v", turns)
		}
	})

	t.Run("store failure degrades", func(t *testing.T) {
		store := newStubStore()
		store.loadErr = errors.New("connection refused")
		m := quietManager(store)
		turns := m.LoadHistoryOrFallback(context.Background(), "s1", client)
		if len(turns) != 1 || turns[0].Content != "client-side" {
			t.Fatalf("expected degraded client history, got %+v", turns)
		}
	})
}

func TestPersistExchangeSwallowsErrors(t *testing.T) {
	store := newStubStore()
	store.saveErr = errors.New("disk full")
	m := quietManager(store)

	// Must not panic or surface the error.
	m.PersistExchange(context.Background(), "s1", "q", "a")

	store.saveErr = nil
	m.PersistExchange(context.Background(), "s1", "q", "a")
	if got := len(store.sessions["s1"].Turns); got != 2 {
		t.Fatalf("expected 2 turns after successful persist, got %d", got)
	}
	if store.sessions["s1"].Turns[0].Role != models.RoleUser {
		t.Error("user turn must precede assistant turn")
	}
}
