package retriever

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/bookrag/internal/rag/embedding"
	"github.com/mohammad-safakhou/bookrag/internal/vectorstore"
	"github.com/mohammad-safakhou/bookrag/models"
)

// RetrievalError indicates embedding or search failed upstream. "No
// results" is never an error; only infrastructure failures are.
type RetrievalError struct {
	Stage string // embed or search
	Err   error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed during %s: %v", e.Stage, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// Retriever issues nearest-neighbor searches against the vector store and
// merges result lists with selected-text priority.
type Retriever struct {
	embedder *embedding.Gateway
	store    vectorstore.Store
}

func New(embedder *embedding.Gateway, store vectorstore.Store) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve returns up to topK results for the query. When selectedText is
// non-empty a second search runs for it, and its results take precedence
// in the merged list: a user's explicit selection is a stronger relevance
// signal than the free-text query.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, selectedText string) ([]models.RetrievedResult, error) {
	queryResults, err := r.searchText(ctx, query, topK)
	if err != nil {
		return nil, err
	}

	if selectedText == "" {
		return truncate(queryResults, topK), nil
	}

	selectedResults, err := r.searchText(ctx, selectedText, topK)
	if err != nil {
		return nil, err
	}

	return truncate(Merge(selectedResults, queryResults), topK), nil
}

func (r *Retriever) searchText(ctx context.Context, text string, topK int) ([]models.RetrievedResult, error) {
	vec, err := r.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, &RetrievalError{Stage: "embed", Err: err}
	}
	results, err := r.store.Search(ctx, vec, topK)
	if err != nil {
		return nil, &RetrievalError{Stage: "search", Err: err}
	}
	return results, nil
}

// Merge concatenates result lists in priority order with first-seen-wins
// deduplication. Identity is the stable result ID, falling back to title
// when a backend returns none.
func Merge(lists ...[]models.RetrievedResult) []models.RetrievedResult {
	seen := make(map[string]struct{})
	var merged []models.RetrievedResult
	for _, list := range lists {
		for _, res := range list {
			key := res.ID
			if key == "" {
				key = res.Title
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, res)
		}
	}
	return merged
}

func truncate(results []models.RetrievedResult, topK int) []models.RetrievedResult {
	if topK > 0 && len(results) > topK {
		return results[:topK]
	}
	return results
}
