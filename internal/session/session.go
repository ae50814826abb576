package session

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/mohammad-safakhou/bookrag/models"
)

// ErrUnavailable indicates the session store could not be reached.
var ErrUnavailable = errors.New("session store unavailable")

// Store persists ordered conversation turns keyed by an opaque session
// identifier. Append must be atomic at the storage layer: two racing
// appends for the same session must both be retained.
type Store interface {
	// Load returns the session and whether it exists.
	Load(ctx context.Context, sessionID string) (models.Session, bool, error)

	// Create inserts an empty session if absent and returns the stored
	// session. Idempotent under concurrent calls for the same ID.
	Create(ctx context.Context, sessionID, userID string) (models.Session, error)

	// Append adds one turn, creating the session if absent, and returns
	// the updated session.
	Append(ctx context.Context, sessionID string, turn models.ConversationTurn) (models.Session, error)
}

// Manager wraps a Store with the conversation-history policy: persisted
// state is authoritative, load failures degrade to client-supplied
// history, and persist failures never fail an already-computed answer.
type Manager struct {
	store  Store
	logger *log.Logger
	now    func() time.Time
}

func NewManager(store Store, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(log.Writer(), "[SESSION] ", log.LstdFlags)
	}
	return &Manager{store: store, logger: logger, now: time.Now}
}

// GetOrCreate loads the session, creating an empty one on first reference.
func (m *Manager) GetOrCreate(ctx context.Context, sessionID string) (models.Session, error) {
	sess, ok, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return models.Session{}, err
	}
	if ok {
		return sess, nil
	}
	return m.store.Create(ctx, sessionID, "")
}

// AppendTurn appends a turn with a fresh timestamp. This is the only
// mutation path; turns are never edited or removed.
func (m *Manager) AppendTurn(ctx context.Context, sessionID, role, content string) (models.Session, error) {
	turn := models.ConversationTurn{
		Role:      role,
		Content:   content,
		Timestamp: m.now().UTC().Format(time.RFC3339),
	}
	return m.store.Append(ctx, sessionID, turn)
}

// LoadHistoryOrFallback returns the persisted history for the session when
// one exists; otherwise the client-supplied history. A store failure is
// logged and degrades to the provided history rather than failing the
// request.
func (m *Manager) LoadHistoryOrFallback(ctx context.Context, sessionID string, provided []models.ConversationTurn) []models.ConversationTurn {
	if sessionID == "" {
		return provided
	}
	sess, ok, err := m.store.Load(ctx, sessionID)
	if err != nil {
		m.logger.Printf("history load failed for session %s, falling back to client history: %v", sessionID, err)
		return provided
	}
	if !ok {
		return provided
	}
	return sess.Turns
}

// PersistExchange appends the user query and the assistant answer. Errors
// are logged and swallowed: history loss is acceptable degradation,
// answer delivery is not.
func (m *Manager) PersistExchange(ctx context.Context, sessionID, query, answer string) {
	if sessionID == "" {
		return
	}
	if _, err := m.AppendTurn(ctx, sessionID, models.RoleUser, query); err != nil {
		m.logger.Printf("persist user turn failed for session %s: %v", sessionID, err)
		return
	}
	if _, err := m.AppendTurn(ctx, sessionID, models.RoleAssistant, answer); err != nil {
		m.logger.Printf("persist assistant turn failed for session %s: %v", sessionID, err)
	}
}
