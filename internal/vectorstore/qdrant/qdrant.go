package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/bookrag/models"
	"github.com/mohammad-safakhou/bookrag/internal/vectorstore"
)

// Store is a minimal REST client to Qdrant. It assumes cosine distance
// and creates the collection if missing.
type Store struct {
	url        string
	apiKey     string
	collection string
	dimension  int
	client     *http.Client
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Dimension  int
	Timeout    time.Duration
}

func New(cfg Config) (*Store, error) {
	if cfg.Dimension <= 0 {
		return nil, errors.New("qdrant: invalid dimension")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	s := &Store{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		client:     &http.Client{Timeout: timeout},
	}
	if err := s.ensureCollection(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     s.dimension,
			"distance": "Cosine",
		},
	}
	// Qdrant returns 200 if the collection already exists with the same schema.
	return s.putJSON(ctx, fmt.Sprintf("%s/collections/%s", s.url, s.collection), body)
}

// Upsert stores chunks and their vectors, assigning a fresh UUID per point.
func (s *Store) Upsert(ctx context.Context, chunks []models.DocumentChunk, vectors [][]float32) ([]string, error) {
	if len(chunks) != len(vectors) {
		return nil, errors.New("chunks and vectors length mismatch")
	}
	if len(chunks) == 0 {
		return nil, nil
	}
	ids := make([]string, len(chunks))
	points := make([]map[string]any, len(chunks))
	for i := range chunks {
		ids[i] = uuid.NewString()
		points[i] = map[string]any{
			"id":     ids[i],
			"vector": vectors[i],
			"payload": map[string]any{
				"content":  chunks[i].Content,
				"url":      chunks[i].URL,
				"title":    chunks[i].Title,
				"source":   string(chunks[i].Source),
				"metadata": chunks[i].Metadata,
			},
		}
	}
	body := map[string]any{"points": points}
	if err := s.putJSON(ctx, fmt.Sprintf("%s/collections/%s/points?wait=true", s.url, s.collection), body); err != nil {
		return nil, err
	}
	return ids, nil
}

// Search returns the top-k closest points with their payloads.
func (s *Store) Search(ctx context.Context, vector []float32, k int) ([]models.RetrievedResult, error) {
	if k <= 0 {
		k = 5
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := s.postJSON(ctx, fmt.Sprintf("%s/collections/%s/points/search", s.url, s.collection), req, &resp); err != nil {
		return nil, err
	}
	results := make([]models.RetrievedResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		res := models.RetrievedResult{Score: r.Score}
		res.ID = fmt.Sprint(r.ID)
		if v, ok := r.Payload["content"].(string); ok {
			res.Content = v
		}
		if v, ok := r.Payload["url"].(string); ok {
			res.URL = v
		}
		if v, ok := r.Payload["title"].(string); ok {
			res.Title = v
		}
		if v, ok := r.Payload["source"].(string); ok {
			res.Source = models.SourceKind(v)
		}
		if v, ok := r.Payload["metadata"].(map[string]any); ok {
			res.Metadata = v
		}
		results = append(results, res)
	}
	return results, nil
}

// Reset drops and recreates the collection.
func (s *Store) Reset(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, fmt.Sprintf("%s/collections/%s", s.url, s.collection), nil)
	if err != nil {
		return err
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", vectorstore.ErrUnavailable, err)
	}
	resp.Body.Close()
	return s.ensureCollection(ctx)
}

func (s *Store) putJSON(ctx context.Context, url string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", vectorstore.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant PUT %s failed: %s", url, resp.Status)
	}
	return nil
}

func (s *Store) postJSON(ctx context.Context, url string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", vectorstore.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant POST %s failed: %s", url, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
