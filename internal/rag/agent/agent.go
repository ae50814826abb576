package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/bookrag/internal/rag/composer"
	"github.com/mohammad-safakhou/bookrag/internal/rag/retriever"
	"github.com/mohammad-safakhou/bookrag/internal/session"
	"github.com/mohammad-safakhou/bookrag/models"
	"github.com/mohammad-safakhou/bookrag/provider"
)

// SystemPersona is the system message sent with every completion.
const SystemPersona = "You are a helpful assistant."

// DefaultTopK bounds retrieval when the caller does not ask for a count.
const DefaultTopK = 5

// Agent runs the retrieval-augmented chat pipeline. All collaborators are
// injected once at construction and shared across requests; the pipeline
// itself keeps no per-request state.
type Agent struct {
	retriever *retriever.Retriever
	composer  *composer.Composer
	completer provider.Completer
	sessions  *session.Manager
	logger    *log.Logger

	// Persona overrides SystemPersona when set.
	Persona string
}

func New(r *retriever.Retriever, c *composer.Composer, completer provider.Completer, sessions *session.Manager, logger *log.Logger) *Agent {
	if logger == nil {
		logger = log.New(log.Writer(), "[RAG] ", log.LstdFlags)
	}
	return &Agent{
		retriever: r,
		composer:  c,
		completer: completer,
		sessions:  sessions,
		logger:    logger,
	}
}

// Request is one chat or query invocation.
type Request struct {
	Query        string
	TopK         int
	SelectedText string
	SessionID    string
	History      []models.ConversationTurn
}

// Query answers a single question without touching session state.
func (a *Agent) Query(ctx context.Context, req Request) (models.ChatResponse, error) {
	return a.respond(ctx, req, nil)
}

// Chat answers within a conversation. Persisted history supersedes any
// history the client sent; the exchange is appended after the answer is
// computed, and persistence failures never fail the response.
func (a *Agent) Chat(ctx context.Context, req Request) (models.ChatResponse, error) {
	history := req.History
	if a.sessions != nil {
		history = a.sessions.LoadHistoryOrFallback(ctx, req.SessionID, req.History)
	}

	resp, err := a.respond(ctx, req, history)
	if err != nil {
		return models.ChatResponse{}, err
	}

	if a.sessions != nil && req.SessionID != "" {
		a.sessions.PersistExchange(ctx, req.SessionID, req.Query, resp.Response)
	}
	resp.SessionID = req.SessionID
	return resp, nil
}

func (a *Agent) respond(ctx context.Context, req Request, history []models.ConversationTurn) (models.ChatResponse, error) {
	topK := req.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	results, err := a.retriever.Retrieve(ctx, req.Query, topK, req.SelectedText)
	if err != nil {
		// Rate-limited embedding means no context, not no answer.
		if !provider.IsRateLimited(err) {
			return models.ChatResponse{}, fmt.Errorf("retrieve context: %w", err)
		}
		a.logger.Printf("retrieval rate limited, answering without context: %v", err)
		results = nil
	}
	confidence := retriever.Confidence(results)

	prompt := a.composer.Compose(req.Query, results, history, req.SelectedText)

	persona := a.Persona
	if persona == "" {
		persona = SystemPersona
	}
	answer, err := a.completer.Complete(ctx, persona, prompt)
	if err != nil {
		var perr *provider.Error
		if !errors.As(err, &perr) {
			return models.ChatResponse{}, fmt.Errorf("generate response: %w", err)
		}
		// Upstream provider failures degrade, they never fail the request.
		if perr.RateLimited {
			a.logger.Printf("completion rate limited, serving excerpt answer: %v", err)
			answer = excerptAnswer(results)
		} else {
			a.logger.Printf("completion failed, serving fallback answer: %v", err)
			answer = fallbackAnswer
		}
	}

	return models.ChatResponse{
		Response:     answer,
		ContextDocs:  results,
		Query:        req.Query,
		Confidence:   confidence,
		Sources:      models.SourcesOf(results),
		SelectedText: req.SelectedText,
	}, nil
}

// fallbackAnswer is served when the generative provider fails outright.
const fallbackAnswer = "I'm sorry, I couldn't generate a response."

// excerptAnswer assembles a best-effort reply straight from the retrieved
// passages when generation is unavailable.
func excerptAnswer(results []models.RetrievedResult) string {
	if len(results) == 0 {
		return fallbackAnswer
	}
	var b strings.Builder
	b.WriteString("I couldn't reach the language model, but here is what the most relevant passages say:\n\n")
	for i, r := range results {
		if i >= 3 {
			break
		}
		title := r.Title
		if title == "" {
			title = r.URL
		}
		excerpt := r.Content
		if runes := []rune(excerpt); len(runes) > 300 {
			excerpt = string(runes[:300]) + "..."
		}
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, title, excerpt)
	}
	return strings.TrimRight(b.String(), "\n")
}
