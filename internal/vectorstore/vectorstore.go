package vectorstore

import (
	"context"
	"errors"

	"github.com/mohammad-safakhou/bookrag/models"
)

// ErrUnavailable indicates the vector store could not be reached. Callers
// surface this as a service-unavailable condition.
var ErrUnavailable = errors.New("vector store unavailable")

// Store is the capability consumed by the retrieval pipeline. Identity of
// stored chunks is assigned by the store on insert, not by the caller.
type Store interface {
	// Upsert stores chunks with their embedding vectors and returns the
	// assigned point IDs in input order.
	Upsert(ctx context.Context, chunks []models.DocumentChunk, vectors [][]float32) ([]string, error)

	// Search returns up to k results ranked by similarity to the vector.
	// An empty store yields an empty slice, not an error.
	Search(ctx context.Context, vector []float32, k int) ([]models.RetrievedResult, error)

	// Reset drops all stored chunks.
	Reset(ctx context.Context) error
}
