package indexer

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"
)

// PgvectorStore persists chunks in the document_chunks table.
type PgvectorStore struct {
	db *sql.DB
}

// NewPgvectorStore wraps a database handle.
func NewPgvectorStore(db *sql.DB) *PgvectorStore {
	return &PgvectorStore{db: db}
}

var _ ChunkStore = (*PgvectorStore)(nil)

// ReplaceChunks swaps the stored chunk set for a record in one
// transaction.
func (s *PgvectorStore) ReplaceChunks(ctx context.Context, recordID, contractID string, chunks []Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("chunk/embedding count mismatch: %d vs %d", len(chunks), len(embeddings))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM document_chunks WHERE record_id = $1`, recordID); err != nil {
		return fmt.Errorf("failed to clear existing chunks: %w", err)
	}

	const insertQuery = `
		INSERT INTO document_chunks (record_id, contract_id, chunk_index, content, embedding)
		VALUES ($1, $2, $3, $4, $5)`
	for i, chunk := range chunks {
		if _, err := tx.ExecContext(ctx, insertQuery,
			recordID, contractID, chunk.Index, chunk.Content,
			pgvector.NewVector(embeddings[i])); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", chunk.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunks: %w", err)
	}
	return nil
}

// SimilarChunks returns the content of the closest chunks to the query
// vector, nearest first.
func (s *PgvectorStore) SimilarChunks(ctx context.Context, queryVector []float32, limit int) ([]Chunk, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_index, content
		 FROM document_chunks
		 ORDER BY embedding <=> $1
		 LIMIT $2`,
		pgvector.NewVector(queryVector), limit)
	if err != nil {
		return nil, fmt.Errorf("similarity query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chunks []Chunk
	for rows.Next() {
		var chunk Chunk
		if err := rows.Scan(&chunk.Index, &chunk.Content); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}
