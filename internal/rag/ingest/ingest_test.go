package ingest

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/bookrag/internal/keyword"
	"github.com/mohammad-safakhou/bookrag/internal/rag/embedding"
	"github.com/mohammad-safakhou/bookrag/models"
)

type stubEmbedder struct {
	dims int
}

func (s *stubEmbedder) EmbedOne(_ context.Context, text string) ([]float32, error) {
	vecs, err := s.EmbedMany(context.Background(), []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (s *stubEmbedder) EmbedMany(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, s.dims)
		out[i][0] = float32(len(texts[i]))
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int { return s.dims }

type recordingStore struct {
	chunks  []models.DocumentChunk
	vectors [][]float32
	fail    bool
}

func (s *recordingStore) Upsert(_ context.Context, chunks []models.DocumentChunk, vectors [][]float32) ([]string, error) {
	if s.fail {
		return nil, errors.New("store down")
	}
	s.chunks = append(s.chunks, chunks...)
	s.vectors = append(s.vectors, vectors...)
	ids := make([]string, len(chunks))
	for i := range ids {
		ids[i] = chunks[i].URL
	}
	return ids, nil
}

func (s *recordingStore) Search(_ context.Context, _ []float32, _ int) ([]models.RetrievedResult, error) {
	return nil, nil
}

func (s *recordingStore) Reset(_ context.Context) error {
	s.chunks = nil
	s.vectors = nil
	return nil
}

type stubFetcher struct {
	pages map[string]Page
}

func (f *stubFetcher) Fetch(_ context.Context, url string) (Page, error) {
	page, ok := f.pages[url]
	if !ok {
		return Page{}, errors.New("unreachable")
	}
	return page, nil
}

func newTestIngestor(store *recordingStore, index *keyword.Index) *Ingestor {
	gw := embedding.NewGateway(&stubEmbedder{dims: 8}, log.New(io.Discard, "", 0))
	return New(gw, store, index, 1000, 100, 2, log.New(io.Discard, "", 0))
}

func TestProcessAnnotatesChunks(t *testing.T) {
	ing := newTestIngestor(&recordingStore{}, nil)

	doc := Document{
		Content: strings.Repeat("a", 2500),
		URL:     "https://example.com/book/ch1",
		Title:   "Chapter 1",
		Source:  models.SourceBook,
	}
	chunks, err := ing.Process(doc)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks for 2500 chars, got %d", len(chunks))
	}
	for i, c := range chunks {
		if got := c.Metadata["chunk_id"]; got != i {
			t.Errorf("chunk %d: chunk_id = %v", i, got)
		}
		if got := c.Metadata["total_chunks"]; got != 3 {
			t.Errorf("chunk %d: total_chunks = %v", i, got)
		}
		if got := c.Metadata["domain"]; got != "example.com" {
			t.Errorf("chunk %d: domain = %v", i, got)
		}
	}
	if chunks[0].URL != "https://example.com/book/ch1#chunk-0" {
		t.Errorf("chunk url: %s", chunks[0].URL)
	}
	if chunks[2].Title != "Chapter 1 - Chunk 3" {
		t.Errorf("chunk title: %s", chunks[2].Title)
	}
}

func TestIngestDocumentsStoresEverything(t *testing.T) {
	store := &recordingStore{}
	index, err := keyword.NewIndex()
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	ing := newTestIngestor(store, index)

	report, err := ing.IngestDocuments(context.Background(), []Document{
		{Content: strings.Repeat("x", 2500), URL: "https://example.com/a", Title: "A", Source: models.SourceBook},
		{Content: "short document", URL: "https://example.com/b", Title: "B", Source: models.SourceWeb},
	})
	if err != nil {
		t.Fatalf("IngestDocuments: %v", err)
	}
	if report.Documents != 2 {
		t.Errorf("documents = %d", report.Documents)
	}
	if report.Chunks != 4 {
		t.Errorf("chunks = %d, want 4", report.Chunks)
	}
	if len(store.chunks) != 4 || len(store.vectors) != 4 {
		t.Fatalf("store received %d chunks, %d vectors", len(store.chunks), len(store.vectors))
	}
	if index.Size() != 4 {
		t.Errorf("keyword index holds %d chunks, want 4", index.Size())
	}
}

func TestIngestURLsSkipsFailures(t *testing.T) {
	store := &recordingStore{}
	ing := newTestIngestor(store, nil)

	fetcher := &stubFetcher{pages: map[string]Page{
		"https://example.com/ok": {URL: "https://example.com/ok", Title: "OK", Text: "some readable content"},
	}}
	report, err := ing.IngestURLs(context.Background(), fetcher, []string{
		"https://example.com/ok",
		"https://example.com/broken",
	}, models.SourceWeb)
	if err != nil {
		t.Fatalf("IngestURLs: %v", err)
	}
	if report.Documents != 1 || report.Chunks != 1 {
		t.Errorf("report = %+v", report)
	}
	if len(report.Failed) != 1 || report.Failed[0] != "https://example.com/broken" {
		t.Errorf("failed = %v", report.Failed)
	}
}

func TestIngestDocumentsStoreFailure(t *testing.T) {
	store := &recordingStore{fail: true}
	ing := newTestIngestor(store, nil)

	_, err := ing.IngestDocuments(context.Background(), []Document{
		{Content: "content", URL: "https://example.com/a", Title: "A", Source: models.SourceBook},
	})
	if err == nil {
		t.Fatal("expected error when store is down")
	}
}
