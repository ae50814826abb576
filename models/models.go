package models

import (
	"errors"
	"time"
)

// ErrSessionNotFound is returned when a chat session is not found
var ErrSessionNotFound = errors.New("session not found")

// SourceKind identifies where a document was extracted from.
type SourceKind string

const (
	SourceWeb          SourceKind = "web"
	SourceBook         SourceKind = "book"
	SourceDeployedBook SourceKind = "deployed-book"
)

// DocumentChunk is one embeddable window of a parent document. Chunks are
// immutable once created; the vector store assigns identity on insert.
type DocumentChunk struct {
	Content  string                 `json:"content"`
	URL      string                 `json:"url"`
	Title    string                 `json:"title"`
	Source   SourceKind             `json:"source"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// RetrievedResult is a ranked hit from a vector search. Score is the raw
// provider similarity (cosine-like) and is never mutated after creation.
type RetrievedResult struct {
	ID       string                 `json:"id"`
	Content  string                 `json:"content"`
	URL      string                 `json:"url"`
	Title    string                 `json:"title"`
	Source   SourceKind             `json:"source"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Score    float64                `json:"score"`
}

// ConversationTurn is a single message in a session. Turns are appended,
// never edited or removed.
type ConversationTurn struct {
	Role      string `json:"role"` // user or assistant
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"` // RFC3339
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session holds the persisted conversation history for an opaque
// caller-supplied session identifier. Lifecycle/retention is an external
// policy; the core never expires sessions.
type Session struct {
	SessionID string             `json:"session_id"`
	UserID    string             `json:"user_id,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
	Turns     []ConversationTurn `json:"conversation_history"`
}

// Source is the citation view of a retrieved result returned to clients.
type Source struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	URL   string  `json:"url"`
	Score float64 `json:"score"`
}

// ChatResponse is the response shape for chat/query operations.
type ChatResponse struct {
	Response     string            `json:"response"`
	ContextDocs  []RetrievedResult `json:"context_docs"`
	Query        string            `json:"query"`
	Confidence   float64           `json:"confidence"`
	Sources      []Source          `json:"sources"`
	SelectedText string            `json:"selected_text,omitempty"`
	SessionID    string            `json:"session_id,omitempty"`
}

// SourcesOf projects retrieved results into their citation view.
func SourcesOf(results []RetrievedResult) []Source {
	out := make([]Source, 0, len(results))
	for _, r := range results {
		out = append(out, Source{ID: r.ID, Title: r.Title, URL: r.URL, Score: r.Score})
	}
	return out
}
