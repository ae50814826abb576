package pgvector

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/mohammad-safakhou/bookrag/models"
)

func TestUpsertAssignsIDs(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db, batchSize: 50}
	chunks := []models.DocumentChunk{
		{Content: "first", URL: "https://example.com#chunk-0", Title: "Doc - Chunk 1", Source: models.SourceWeb},
		{Content: "second", URL: "https://example.com#chunk-1", Title: "Doc - Chunk 2", Source: models.SourceWeb},
	}
	vectors := [][]float32{{0.1, 0.2}, {0.3, 0.4}}

	insert := regexp.QuoteMeta(`
INSERT INTO document_chunks (id, content, url, title, source, metadata, embedding, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7::vector,NOW())
`)
	mock.ExpectBegin()
	mock.ExpectPrepare(insert)
	mock.ExpectExec(insert).
		WithArgs(sqlmock.AnyArg(), "first", "https://example.com#chunk-0", "Doc - Chunk 1", "web", sqlmock.AnyArg(), "[0.1,0.2]").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insert).
		WithArgs(sqlmock.AnyArg(), "second", "https://example.com#chunk-1", "Doc - Chunk 2", "web", sqlmock.AnyArg(), "[0.3,0.4]").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ids, err := st.Upsert(context.Background(), chunks, vectors)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %d", len(ids))
	}
	if ids[0] == "" || ids[0] == ids[1] {
		t.Fatalf("expected distinct non-empty ids, got %v", ids)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchScoresFromDistance(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db, batchSize: 50}

	query := regexp.QuoteMeta(`
SELECT id, content, url, title, source, metadata, 1 - (embedding <=> $1::vector) AS score
FROM document_chunks
ORDER BY embedding <=> $1::vector
LIMIT $2
`)
	rows := sqlmock.NewRows([]string{"id", "content", "url", "title", "source", "metadata", "score"}).
		AddRow("id-1", "alpha", "https://a", "Alpha", "book", []byte(`{"chunk_id":0}`), 0.92).
		AddRow("id-2", "beta", "https://b", "Beta", "web", []byte(`{}`), 0.61)
	mock.ExpectQuery(query).WithArgs("[1,0]", 5).WillReturnRows(rows)

	results, err := st.Search(context.Background(), []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "id-1" || results[0].Score != 0.92 {
		t.Errorf("unexpected first result: %+v", results[0])
	}
	if results[0].Source != models.SourceBook {
		t.Errorf("expected book source, got %s", results[0].Source)
	}
	if v, ok := results[0].Metadata["chunk_id"]; !ok || v.(float64) != 0 {
		t.Errorf("metadata not decoded: %+v", results[0].Metadata)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchEmptyStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db, batchSize: 50}
	mock.ExpectQuery("SELECT id, content").
		WillReturnRows(sqlmock.NewRows([]string{"id", "content", "url", "title", "source", "metadata", "score"}))

	results, err := st.Search(context.Background(), []float32{1}, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}

func TestEncodeVectorLiteral(t *testing.T) {
	lit, err := encodeVectorLiteral([]float32{0.5, -1, 0})
	if err != nil {
		t.Fatalf("encodeVectorLiteral: %v", err)
	}
	if lit != "[0.5,-1,0]" {
		t.Fatalf("unexpected literal: %s", lit)
	}
	if _, err := encodeVectorLiteral(nil); err == nil {
		t.Fatal("expected error for empty vector")
	}
}
