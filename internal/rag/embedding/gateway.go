package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"log"
	"math"

	"github.com/mohammad-safakhou/bookrag/provider"
)

// Gateway wraps an embedding provider with deterministic degradation. A
// per-text failure never aborts a batch: the failed text gets a stable
// hash-derived pseudo-embedding so repeated failures for the same text
// stay retrieval-consistent instead of collapsing to one degenerate point.
type Gateway struct {
	provider provider.Embedder
	logger   *log.Logger
}

// NewGateway builds an embedding gateway around the given provider.
func NewGateway(p provider.Embedder, logger *log.Logger) *Gateway {
	if logger == nil {
		logger = log.New(log.Writer(), "[EMBED] ", log.LstdFlags)
	}
	return &Gateway{provider: p, logger: logger}
}

// Dimensions returns the fixed vector dimensionality of the provider.
func (g *Gateway) Dimensions() int { return g.provider.Dimensions() }

// EmbedQuery embeds a single query text. Rate-limit errors propagate so
// callers can choose a degraded strategy; other failures fall back to the
// pseudo-embedding.
func (g *Gateway) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, err := g.provider.EmbedOne(ctx, text)
	if err != nil {
		if provider.IsRateLimited(err) {
			return nil, err
		}
		g.logger.Printf("embed query failed, using fallback vector: %v", err)
		return PseudoEmbedding(text, g.provider.Dimensions()), nil
	}
	return vec, nil
}

// EmbedBatch embeds texts one batch call first, then retries failed texts
// individually with fallback substitution. The returned slice always has
// one vector per input text, in input order.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := g.provider.EmbedMany(ctx, texts)
	if err == nil && len(vecs) == len(texts) {
		return vecs, nil
	}
	if err != nil && provider.IsRateLimited(err) {
		return nil, err
	}
	if err != nil {
		g.logger.Printf("batch embed failed, retrying per text: %v", err)
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := g.provider.EmbedOne(ctx, text)
		if err != nil {
			if provider.IsRateLimited(err) {
				return nil, err
			}
			g.logger.Printf("embed text %d failed, using fallback vector: %v", i, err)
			vec = PseudoEmbedding(text, g.provider.Dimensions())
		}
		out[i] = vec
	}
	return out, nil
}

// PseudoEmbedding derives a deterministic unit vector from the text. The
// sha256 digest seeds a counter-mode expansion so any dimensionality can
// be filled, and the result is L2-normalised to sit on the same sphere as
// real cosine embeddings.
func PseudoEmbedding(text string, dims int) []float32 {
	if dims <= 0 {
		return nil
	}
	seed := sha256.Sum256([]byte(text))
	vec := make([]float32, dims)
	var norm float64
	var block [40]byte
	copy(block[:32], seed[:])
	for i := 0; i < dims; i += 8 {
		binary.BigEndian.PutUint64(block[32:], uint64(i))
		digest := sha256.Sum256(block[:])
		for j := 0; j < 8 && i+j < dims; j++ {
			u := binary.BigEndian.Uint32(digest[j*4 : j*4+4])
			// map to [-1, 1)
			f := float64(u)/float64(math.MaxUint32)*2 - 1
			vec[i+j] = float32(f)
			norm += f * f
		}
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}
