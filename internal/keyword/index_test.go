package keyword

import (
	"testing"

	"github.com/mohammad-safakhou/bookrag/models"
)

func seedIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := NewIndex()
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	chunks := []models.DocumentChunk{
		{Content: "Postgres stores rows in heap files and indexes them with btrees.", Title: "Storage", URL: "https://example.com/storage", Source: models.SourceBook},
		{Content: "Vector similarity search ranks documents by cosine distance.", Title: "Search", URL: "https://example.com/search", Source: models.SourceBook},
		{Content: "A completely unrelated passage about gardening tomatoes.", Title: "Garden", URL: "https://example.com/garden", Source: models.SourceWeb},
	}
	for i, c := range chunks {
		if err := idx.Add(string(rune('a'+i)), c); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	return idx
}

func TestSearchRanksMatches(t *testing.T) {
	idx := seedIndex(t)

	hits, err := idx.Search("cosine distance", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected at least one hit")
	}
	if hits[0].Title != "Search" {
		t.Errorf("top hit: got %q, want Search", hits[0].Title)
	}
	if hits[0].Score <= 0 {
		t.Errorf("score must be positive, got %f", hits[0].Score)
	}
	if hits[0].URL != "https://example.com/search" {
		t.Errorf("hit must carry chunk metadata, got url %q", hits[0].URL)
	}
}

func TestSearchHonoursLimit(t *testing.T) {
	idx := seedIndex(t)

	hits, err := idx.Search("the", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) > 1 {
		t.Errorf("expected at most 1 hit, got %d", len(hits))
	}
}

func TestResetEmptiesIndex(t *testing.T) {
	idx := seedIndex(t)
	if idx.Size() != 3 {
		t.Fatalf("expected 3 indexed chunks, got %d", idx.Size())
	}

	if err := idx.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if idx.Size() != 0 {
		t.Errorf("expected empty index after reset, got %d", idx.Size())
	}
	hits, err := idx.Search("cosine", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits after reset, got %d", len(hits))
	}
}
