package ingest

import (
	"context"
	"fmt"
	"log"
	nurl "net/url"
	"sync"
	"time"

	"github.com/mohammad-safakhou/bookrag/internal/keyword"
	"github.com/mohammad-safakhou/bookrag/internal/rag/chunker"
	"github.com/mohammad-safakhou/bookrag/internal/rag/embedding"
	"github.com/mohammad-safakhou/bookrag/internal/vectorstore"
	"github.com/mohammad-safakhou/bookrag/models"
)

// Document is one source text to be chunked, embedded, and stored.
type Document struct {
	Content  string
	URL      string
	Title    string
	Source   models.SourceKind
	Metadata map[string]interface{}
}

// Report summarizes one ingestion run.
type Report struct {
	Documents int      `json:"documents"`
	Chunks    int      `json:"chunks"`
	Failed    []string `json:"failed,omitempty"`
}

// Ingestor runs the chunk, embed, and upsert pipeline. URL fetching is
// parallel; the embed and upsert stages run once over the combined batch
// so the vector store sees ordered writes.
type Ingestor struct {
	ChunkSize int
	Overlap   int
	Workers   int

	embedder *embedding.Gateway
	store    vectorstore.Store
	index    *keyword.Index
	logger   *log.Logger
	now      func() time.Time
}

func New(embedder *embedding.Gateway, store vectorstore.Store, index *keyword.Index, chunkSize, overlap, workers int, logger *log.Logger) *Ingestor {
	if logger == nil {
		logger = log.New(log.Writer(), "[ingest] ", log.LstdFlags)
	}
	if workers <= 0 {
		workers = 4
	}
	return &Ingestor{
		ChunkSize: chunkSize,
		Overlap:   overlap,
		Workers:   workers,
		embedder:  embedder,
		store:     store,
		index:     index,
		logger:    logger,
		now:       time.Now,
	}
}

// Process splits one document into chunk records. Every chunk carries its
// position and the document's chunk count, and addresses its parent with
// a fragment suffix so citations stay navigable.
func (ing *Ingestor) Process(doc Document) ([]models.DocumentChunk, error) {
	pieces, err := chunker.Chunk(doc.Content, ing.ChunkSize, ing.Overlap)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", doc.URL, err)
	}
	chunks := make([]models.DocumentChunk, 0, len(pieces))
	for i, piece := range pieces {
		meta := map[string]interface{}{
			"domain":       domainOf(doc.URL),
			"timestamp":    ing.now().UTC().Format(time.RFC3339),
			"chunk_id":     i,
			"total_chunks": len(pieces),
		}
		for k, v := range doc.Metadata {
			meta[k] = v
		}
		chunks = append(chunks, models.DocumentChunk{
			Content:  piece,
			URL:      fmt.Sprintf("%s#chunk-%d", doc.URL, i),
			Title:    fmt.Sprintf("%s - Chunk %d", doc.Title, i+1),
			Source:   doc.Source,
			Metadata: meta,
		})
	}
	return chunks, nil
}

// IngestDocuments processes the documents, embeds every chunk, and writes
// them to the vector store and keyword index.
func (ing *Ingestor) IngestDocuments(ctx context.Context, docs []Document) (Report, error) {
	var report Report
	var chunks []models.DocumentChunk
	for _, doc := range docs {
		pieces, err := ing.Process(doc)
		if err != nil {
			ing.logger.Printf("skipping document %s: %v", doc.URL, err)
			report.Failed = append(report.Failed, doc.URL)
			continue
		}
		report.Documents++
		chunks = append(chunks, pieces...)
	}
	if len(chunks) == 0 {
		return report, nil
	}

	contents := make([]string, len(chunks))
	for i, c := range chunks {
		contents[i] = c.Content
	}
	vectors, err := ing.embedder.EmbedBatch(ctx, contents)
	if err != nil {
		return report, fmt.Errorf("embed chunks: %w", err)
	}

	ids, err := ing.store.Upsert(ctx, chunks, vectors)
	if err != nil {
		return report, fmt.Errorf("store chunks: %w", err)
	}
	report.Chunks = len(ids)

	if ing.index != nil {
		for i, id := range ids {
			if err := ing.index.Add(id, chunks[i]); err != nil {
				ing.logger.Printf("keyword index add %s: %v", id, err)
			}
		}
	}
	ing.logger.Printf("ingested %d documents into %d chunks", report.Documents, report.Chunks)
	return report, nil
}

// IngestURLs fetches each URL with the given fetcher and ingests whatever
// extracted cleanly. Fetches run on a bounded worker pool; a URL that
// fails to fetch is reported, not fatal.
func (ing *Ingestor) IngestURLs(ctx context.Context, fetcher Fetcher, urls []string, source models.SourceKind) (Report, error) {
	type fetched struct {
		idx  int
		doc  Document
		err  error
		url  string
		skip bool
	}

	results := make([]fetched, len(urls))
	sem := make(chan struct{}, ing.Workers)
	var wg sync.WaitGroup
	for i, url := range urls {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			page, err := fetcher.Fetch(ctx, url)
			if err != nil {
				results[i] = fetched{idx: i, url: url, err: err, skip: true}
				return
			}
			results[i] = fetched{idx: i, url: url, doc: Document{
				Content: page.Text,
				URL:     page.URL,
				Title:   page.Title,
				Source:  source,
			}}
		}(i, url)
	}
	wg.Wait()

	var docs []Document
	var failed []string
	for _, r := range results {
		if r.skip {
			ing.logger.Printf("fetch %s: %v", r.url, r.err)
			failed = append(failed, r.url)
			continue
		}
		docs = append(docs, r.doc)
	}

	report, err := ing.IngestDocuments(ctx, docs)
	report.Failed = append(failed, report.Failed...)
	return report, err
}

func domainOf(raw string) string {
	u, err := nurl.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}
