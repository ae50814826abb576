package keyword

import (
	"strings"
	"sync"

	"github.com/blevesearch/bleve"

	"github.com/mohammad-safakhou/bookrag/models"
)

// Hit is one keyword match with its BM25 relevance score.
type Hit struct {
	ID      string  `json:"id"`
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Source  string  `json:"source"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// Index is a memory-only BM25 index over ingested chunks. It complements
// the vector store for exact-term lookups the embedding space misses.
type Index struct {
	bleve bleve.Index
	meta  map[string]models.DocumentChunk
	mu    sync.RWMutex
}

type indexedChunk struct {
	Content string `json:"content"`
	Title   string `json:"title"`
	URL     string `json:"url"`
}

func NewIndex() (*Index, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &Index{bleve: index, meta: make(map[string]models.DocumentChunk)}, nil
}

// Add indexes one chunk under its assigned ID.
func (idx *Index) Add(id string, chunk models.DocumentChunk) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.meta[id] = chunk
	return idx.bleve.Index(id, indexedChunk{
		Content: chunk.Content,
		Title:   chunk.Title,
		URL:     chunk.URL,
	})
}

// Search runs a query-string search and returns up to k scored hits.
func (idx *Index) Search(q string, k int) ([]Hit, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	query := bleve.NewQueryStringQuery(q)
	searchReq := bleve.NewSearchRequestOptions(query, k, 0, false)
	searchReq.Highlight = bleve.NewHighlightWithStyle("html")
	res, err := idx.bleve.Search(searchReq)
	if err != nil {
		return nil, err
	}
	var out []Hit
	for _, hit := range res.Hits {
		doc := idx.meta[hit.ID]
		out = append(out, Hit{
			ID:      hit.ID,
			URL:     doc.URL,
			Title:   doc.Title,
			Source:  string(doc.Source),
			Snippet: snippetFor(hit.Fragments, doc.Content),
			Score:   hit.Score,
		})
	}
	return out, nil
}

// Size returns the number of indexed chunks.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.meta)
}

// Reset drops all indexed chunks and starts over with a fresh index.
func (idx *Index) Reset() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return err
	}
	if idx.bleve != nil {
		_ = idx.bleve.Close()
	}
	idx.bleve = index
	idx.meta = make(map[string]models.DocumentChunk)
	return nil
}

func snippetFor(fragments map[string][]string, content string) string {
	if frags, ok := fragments["content"]; ok && len(frags) > 0 {
		return strings.Join(frags, " ... ")
	}
	if runes := []rune(content); len(runes) > 200 {
		return string(runes[:200])
	}
	return content
}
