package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/bookrag/config"
	"github.com/mohammad-safakhou/bookrag/internal/keyword"
	"github.com/mohammad-safakhou/bookrag/internal/rag/agent"
	"github.com/mohammad-safakhou/bookrag/internal/rag/composer"
	"github.com/mohammad-safakhou/bookrag/internal/rag/embedding"
	"github.com/mohammad-safakhou/bookrag/internal/rag/ingest"
	"github.com/mohammad-safakhou/bookrag/internal/rag/retriever"
	"github.com/mohammad-safakhou/bookrag/internal/session"
	sessionpg "github.com/mohammad-safakhou/bookrag/internal/session/postgres"
	sessionredis "github.com/mohammad-safakhou/bookrag/internal/session/redis"
	"github.com/mohammad-safakhou/bookrag/internal/vectorstore"
	"github.com/mohammad-safakhou/bookrag/internal/vectorstore/pgvector"
	"github.com/mohammad-safakhou/bookrag/internal/vectorstore/qdrant"
	"github.com/mohammad-safakhou/bookrag/provider"
)

// Run wires every collaborator once and serves the HTTP API until the
// listener fails. All dependency construction happens here; handlers
// receive their collaborators and never build clients themselves.
func Run(cfg *config.Config, addr string) error {
	e := newEcho()

	ctx := context.Background()

	if cfg.Storage.Vector.Driver == "pgvector" || cfg.Storage.Sessions.Driver == "postgres" {
		if err := Migrate("file://migrations", cfg.Storage.Postgres.DSN(), "up", 0); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	llm, err := provider.NewProvider(provider.OpenAI, cfg.Providers.OpenAI)
	if err != nil {
		return err
	}

	store, err := NewVectorStore(ctx, cfg)
	if err != nil {
		return err
	}

	sessStore, err := newSessionStore(ctx, cfg)
	if err != nil {
		return err
	}

	var kwIndex *keyword.Index
	if cfg.RAG.KeywordEnabled {
		kwIndex, err = keyword.NewIndex()
		if err != nil {
			return err
		}
	}

	ragLogger := log.New(log.Writer(), "[RAG] ", log.LstdFlags)
	gateway := embedding.NewGateway(llm, ragLogger)
	ret := retriever.New(gateway, store)
	comp := composer.New(cfg.RAG.ContentCap)
	sessions := session.NewManager(sessStore, log.New(log.Writer(), "[SESSION] ", log.LstdFlags))
	ag := agent.New(ret, comp, llm, sessions, ragLogger)
	ag.Persona = cfg.RAG.SystemPersona

	ingestLogger := log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	ingestor := ingest.New(gateway, store, kwIndex, cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap, cfg.RAG.IngestWorkers, ingestLogger)
	var fetcher ingest.Fetcher = &ingest.HTTPFetcher{Client: &http.Client{Timeout: 30 * time.Second}}
	if cfg.RAG.RenderedFetch {
		fetcher = &ingest.RenderedFetcher{}
	}

	api := e.Group("/api")
	ch := &ChatHandler{Agent: ag, Retriever: ret, Keyword: kwIndex, TopK: cfg.RAG.TopK, Logger: ragLogger}
	ch.Register(api)
	ih := &IngestHandler{Ingestor: ingestor, Fetcher: fetcher, Logger: ingestLogger}
	ih.Register(api)
	sh := &SessionsHandler{Store: sessStore, Logger: ragLogger}
	sh.Register(api)

	if addr == "" {
		addr = cfg.General.Listen
		if addr != "" && addr[0] != ':' {
			addr = ":" + addr
		}
		if addr == "" {
			addr = ":8000"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

// newEcho builds the echo instance with recovery, CORS, the unified JSON
// error handler, and the health and metrics endpoints.
func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return e
}

// NewVectorStore selects the vector backend from configuration. Shared
// with the CLI ingest path.
func NewVectorStore(ctx context.Context, cfg *config.Config) (vectorstore.Store, error) {
	switch cfg.Storage.Vector.Driver {
	case "pgvector", "":
		return pgvector.NewWithDSN(ctx, cfg.Storage.Postgres.DSN(), cfg.RAG.UpsertBatch)
	case "qdrant":
		return qdrant.New(qdrant.Config{
			URL:        cfg.Storage.Vector.QdrantURL,
			APIKey:     cfg.Storage.Vector.QdrantKey,
			Collection: cfg.Storage.Vector.Collection,
			Dimension:  cfg.Providers.OpenAI.EmbeddingDimensions,
		})
	default:
		return nil, fmt.Errorf("unknown vector driver %q", cfg.Storage.Vector.Driver)
	}
}

func newSessionStore(ctx context.Context, cfg *config.Config) (session.Store, error) {
	switch cfg.Storage.Sessions.Driver {
	case "postgres", "":
		return sessionpg.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
	case "redis":
		client, err := sessionredis.Conn(ctx,
			cfg.Storage.Redis.Host, cfg.Storage.Redis.Port,
			cfg.Storage.Redis.Password, cfg.Storage.Redis.DB,
			cfg.Storage.Redis.Timeout)
		if err != nil {
			return nil, err
		}
		return sessionredis.New(client), nil
	default:
		return nil, fmt.Errorf("unknown sessions driver %q", cfg.Storage.Sessions.Driver)
	}
}
