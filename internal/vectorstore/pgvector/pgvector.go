package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/mohammad-safakhou/bookrag/models"
	"github.com/mohammad-safakhou/bookrag/internal/vectorstore"
	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce    sync.Once
	upsertCounter  otelmetric.Int64Counter
	searchCounter  otelmetric.Int64Counter
	metricsInitErr error
)

func initStoreMetrics() {
	meter := otel.Meter("vectorstore/pgvector")
	var err error
	upsertCounter, err = meter.Int64Counter("chunks_upserted_total")
	if err != nil {
		metricsInitErr = err
		return
	}
	searchCounter, err = meter.Int64Counter("vector_searches_total")
	if err != nil {
		metricsInitErr = err
	}
}

// Store persists document chunks and their embeddings in a Postgres table
// with a pgvector column, using cosine distance for search.
type Store struct {
	DB        *sql.DB
	batchSize int
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string, batchSize int) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", vectorstore.ErrUnavailable, err)
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Store{DB: db, batchSize: batchSize}, nil
}

// Upsert stores chunks with their vectors in batches, assigning a fresh
// UUID to each point. Returned IDs follow input order.
func (s *Store) Upsert(ctx context.Context, chunks []models.DocumentChunk, vectors [][]float32) ([]string, error) {
	metricsOnce.Do(initStoreMetrics)
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("chunks and vectors length mismatch: %d vs %d", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(chunks))
	for start := 0; start < len(chunks); start += s.batchSize {
		end := start + s.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batchIDs, err := s.upsertBatch(ctx, chunks[start:end], vectors[start:end])
		if err != nil {
			return nil, err
		}
		ids = append(ids, batchIDs...)
	}
	if metricsInitErr == nil && upsertCounter != nil {
		upsertCounter.Add(ctx, int64(len(ids)))
	}
	return ids, nil
}

func (s *Store) upsertBatch(ctx context.Context, chunks []models.DocumentChunk, vectors [][]float32) ([]string, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vectorstore.ErrUnavailable, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO document_chunks (id, content, url, title, source, metadata, embedding, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7::vector,NOW())
`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	ids := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		if len(vectors[i]) == 0 {
			return nil, fmt.Errorf("embedding vector required for chunk %d", i)
		}
		vectorLiteral, err := encodeVectorLiteral(vectors[i])
		if err != nil {
			return nil, err
		}
		meta := chunk.Metadata
		if meta == nil {
			meta = map[string]interface{}{}
		}
		metaBytes, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
		id := uuid.NewString()
		if _, err := stmt.ExecContext(ctx, id, chunk.Content, chunk.URL, chunk.Title, string(chunk.Source), metaBytes, vectorLiteral); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Search returns the closest chunks for the supplied vector. Score is
// cosine similarity derived from pgvector's distance operator.
func (s *Store) Search(ctx context.Context, vector []float32, k int) ([]models.RetrievedResult, error) {
	metricsOnce.Do(initStoreMetrics)
	if len(vector) == 0 {
		return nil, fmt.Errorf("vector must not be empty")
	}
	if k <= 0 {
		k = 5
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, content, url, title, source, metadata, 1 - (embedding <=> $1::vector) AS score
FROM document_chunks
ORDER BY embedding <=> $1::vector
LIMIT $2
`, vecLiteral, k)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vectorstore.ErrUnavailable, err)
	}
	defer rows.Close()

	var results []models.RetrievedResult
	for rows.Next() {
		var (
			res       models.RetrievedResult
			source    string
			metaBytes []byte
		)
		if err := rows.Scan(&res.ID, &res.Content, &res.URL, &res.Title, &source, &metaBytes, &res.Score); err != nil {
			return nil, err
		}
		res.Source = models.SourceKind(source)
		if len(metaBytes) > 0 {
			_ = json.Unmarshal(metaBytes, &res.Metadata)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if metricsInitErr == nil && searchCounter != nil {
		searchCounter.Add(ctx, 1)
	}
	return results, nil
}

// Reset drops all stored chunks.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, `TRUNCATE document_chunks`); err != nil {
		return fmt.Errorf("%w: %v", vectorstore.ErrUnavailable, err)
	}
	return nil
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
