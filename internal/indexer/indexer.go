// Package indexer turns completed extraction results into searchable
// vector embeddings. A scanner watches the notifications directory the
// queue writes into, chunks each result's text, embeds the chunks with
// Gemini and stores them in Postgres via pgvector.
package indexer

import (
	"context"
	"strings"
)

// chunkSize is the target chunk length in characters. Chunks end on
// paragraph boundaries so a clause is never split mid-sentence unless a
// single paragraph exceeds the target on its own.
const chunkSize = 1500

// Embedder turns text into embedding vectors.
type Embedder interface {
	// Embed returns one vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Chunk is one embeddable slice of a document.
type Chunk struct {
	Index   int
	Content string
}

// ChunkStore persists embedded chunks.
type ChunkStore interface {
	// ReplaceChunks deletes any chunks stored for the record and inserts
	// the new set, making re-indexing idempotent.
	ReplaceChunks(ctx context.Context, recordID, contractID string, chunks []Chunk, embeddings [][]float32) error
}

// chunkText splits document text into chunkSize pieces on paragraph
// boundaries.
func chunkText(text string) []Chunk {
	paragraphs := strings.Split(text, "\n\n")

	var chunks []Chunk
	var current strings.Builder
	flush := func() {
		content := strings.TrimSpace(current.String())
		if content == "" {
			current.Reset()
			return
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Content: content})
		current.Reset()
	}

	for _, para := range paragraphs {
		if current.Len() > 0 && current.Len()+len(para) > chunkSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return chunks
}
