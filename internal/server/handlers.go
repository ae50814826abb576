package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/bookrag/internal/keyword"
	"github.com/mohammad-safakhou/bookrag/internal/rag/agent"
	"github.com/mohammad-safakhou/bookrag/internal/rag/ingest"
	"github.com/mohammad-safakhou/bookrag/internal/rag/retriever"
	"github.com/mohammad-safakhou/bookrag/internal/session"
	"github.com/mohammad-safakhou/bookrag/internal/vectorstore"
	"github.com/mohammad-safakhou/bookrag/models"
)

const maxTopK = 20

// upstreamError maps unreachable-store failures to 503 so callers can
// distinguish a degraded service from a bug.
func upstreamError(err error) *echo.HTTPError {
	if errors.Is(err, vectorstore.ErrUnavailable) || errors.Is(err, session.ErrUnavailable) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// ChatHandler serves the retrieval and generation endpoints.
type ChatHandler struct {
	Agent     *agent.Agent
	Retriever *retriever.Retriever
	Keyword   *keyword.Index
	TopK      int
	Logger    *log.Logger
}

func (h *ChatHandler) Register(g *echo.Group) {
	g.POST("/chat", h.chat)
	g.POST("/query", h.query)
	g.GET("/search", h.search)
	if h.Keyword != nil {
		g.GET("/keyword", h.keywordSearch)
	}
}

type chatRequest struct {
	Query        string                    `json:"query"`
	TopK         int                       `json:"top_k"`
	SelectedText string                    `json:"selected_text"`
	SessionID    string                    `json:"session_id"`
	History      []models.ConversationTurn `json:"conversation_history"`
}

func (h *ChatHandler) chat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	resp, err := h.Agent.Chat(c.Request().Context(), agent.Request{
		Query:        req.Query,
		TopK:         h.clampTopK(req.TopK),
		SelectedText: req.SelectedText,
		SessionID:    req.SessionID,
		History:      req.History,
	})
	if err != nil {
		return upstreamError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *ChatHandler) query(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	resp, err := h.Agent.Query(c.Request().Context(), agent.Request{
		Query:        req.Query,
		TopK:         h.clampTopK(req.TopK),
		SelectedText: req.SelectedText,
	})
	if err != nil {
		return upstreamError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *ChatHandler) search(c echo.Context) error {
	query := c.QueryParam("query")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	topK := h.clampTopK(intParam(c, "top_k"))
	results, err := h.Retriever.Retrieve(c.Request().Context(), query, topK, "")
	if err != nil {
		return upstreamError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"query":   query,
		"results": results,
	})
}

func (h *ChatHandler) keywordSearch(c echo.Context) error {
	query := c.QueryParam("query")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	topK := h.clampTopK(intParam(c, "top_k"))
	hits, err := h.Keyword.Search(query, topK)
	if err != nil {
		return upstreamError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"query": query,
		"hits":  hits,
	})
}

func (h *ChatHandler) clampTopK(k int) int {
	if k <= 0 {
		k = h.TopK
	}
	if k <= 0 {
		k = agent.DefaultTopK
	}
	if k > maxTopK {
		k = maxTopK
	}
	return k
}

// IngestHandler accepts URL batches for ingestion.
type IngestHandler struct {
	Ingestor *ingest.Ingestor
	Fetcher  ingest.Fetcher
	Logger   *log.Logger
}

func (h *IngestHandler) Register(g *echo.Group) {
	g.POST("/ingest", h.ingest)
}

type ingestRequest struct {
	URLs   []string `json:"urls"`
	Source string   `json:"source"`
}

func (h *IngestHandler) ingest(c echo.Context) error {
	var req ingestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.URLs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "urls are required")
	}
	source := models.SourceKind(req.Source)
	switch source {
	case "":
		source = models.SourceWeb
	case models.SourceWeb, models.SourceBook, models.SourceDeployedBook:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown source kind")
	}

	report, err := h.Ingestor.IngestURLs(c.Request().Context(), h.Fetcher, req.URLs, source)
	if err != nil {
		return upstreamError(err)
	}
	return c.JSON(http.StatusOK, report)
}

// sessionLister is implemented by session backends that can enumerate
// stored sessions. Listing is optional; the redis backend does not
// support it.
type sessionLister interface {
	ListRecent(ctx context.Context, userID string, limit int) ([]models.Session, error)
}

// SessionsHandler exposes read access to persisted conversations.
type SessionsHandler struct {
	Store  session.Store
	Logger *log.Logger
}

func (h *SessionsHandler) Register(g *echo.Group) {
	g.GET("/sessions/:id", h.get)
	g.GET("/sessions", h.list)
}

func (h *SessionsHandler) get(c echo.Context) error {
	id := c.Param("id")
	sess, ok, err := h.Store.Load(c.Request().Context(), id)
	if err != nil {
		return upstreamError(err)
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *SessionsHandler) list(c echo.Context) error {
	lister, ok := h.Store.(sessionLister)
	if !ok {
		return echo.NewHTTPError(http.StatusNotImplemented, "session listing not supported by this backend")
	}
	limit := intParam(c, "limit")
	sessions, err := lister.ListRecent(c.Request().Context(), c.QueryParam("user_id"), limit)
	if err != nil {
		return upstreamError(err)
	}
	if sessions == nil {
		sessions = []models.Session{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func intParam(c echo.Context, name string) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
