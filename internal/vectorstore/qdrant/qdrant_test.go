package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mohammad-safakhou/bookrag/models"
)

func newTestServer(t *testing.T, searchResult []map[string]interface{}) (*httptest.Server, *[]string) {
	t.Helper()
	var requests []string
	mux := http.NewServeMux()
	mux.HandleFunc("/collections/chunks", func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/collections/chunks/points", func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/collections/chunks/points/search", func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.Method+" "+r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"result": searchResult})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &requests
}

func TestUpsertAssignsUUIDs(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	store, err := New(Config{URL: srv.URL, Collection: "chunks", Dimension: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	chunks := []models.DocumentChunk{
		{Content: "first", Title: "A"},
		{Content: "second", Title: "B"},
	}
	vectors := [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}}
	ids, err := store.Upsert(context.Background(), chunks, vectors)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %d", len(ids))
	}
	if ids[0] == ids[1] {
		t.Error("ids must be distinct")
	}
}

func TestSearchDecodesPayload(t *testing.T) {
	srv, _ := newTestServer(t, []map[string]interface{}{
		{
			"id":    "p1",
			"score": 0.91,
			"payload": map[string]interface{}{
				"content": "passage text",
				"url":     "https://example.com/1",
				"title":   "Passage",
				"source":  "book",
				"metadata": map[string]interface{}{
					"chunk_id": float64(0),
				},
			},
		},
	})
	store, err := New(Config{URL: srv.URL, Collection: "chunks", Dimension: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	results, err := store.Search(context.Background(), []float32{1, 0, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	got := results[0]
	if got.ID != "p1" || got.Score != 0.91 || got.Title != "Passage" {
		t.Errorf("unexpected result: %+v", got)
	}
	if got.Source != models.SourceBook {
		t.Errorf("source = %q", got.Source)
	}
	if got.Metadata["chunk_id"] != float64(0) {
		t.Errorf("metadata chunk_id = %v", got.Metadata["chunk_id"])
	}
}

func TestUpsertLengthMismatch(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	store, err := New(Config{URL: srv.URL, Collection: "chunks", Dimension: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := store.Upsert(context.Background(), []models.DocumentChunk{{Content: "x"}}, nil); err == nil {
		t.Fatal("expected length mismatch error")
	}
}
