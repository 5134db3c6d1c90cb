// Package retrieval performs vector similarity search over chunk
// embeddings for a single document.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// RetrievedChunk is one similarity hit with its page context. Score is
// cosine distance, lower is closer.
type RetrievedChunk struct {
	ChunkID    uuid.UUID
	DocumentID uuid.UUID
	PageNumber int
	Score      float64
	ChunkText  string
	PageText   string
	TokenCount int
}

// Snippet is the chunk text with whitespace collapsed, capped at 300
// characters. The cap counts runes, not bytes.
func (c RetrievedChunk) Snippet() string {
	collapsed := strings.Join(strings.Fields(c.ChunkText), " ")
	if runes := []rune(collapsed); len(runes) > 300 {
		return string(runes[:300])
	}
	return collapsed
}

// Retriever runs top-k cosine searches against pgvector.
type Retriever struct {
	pool *pgxpool.Pool
	dim  int
}

func NewRetriever(pool *pgxpool.Pool, embeddingDim int) *Retriever {
	return &Retriever{pool: pool, dim: embeddingDim}
}

// TopK returns the closest chunks of the document to the query embedding,
// ordered by distance. Page text falls back to the chunk text when the
// page row is missing.
func (r *Retriever) TopK(ctx context.Context, workspaceID, documentID uuid.UUID, queryEmbedding []float32, topK int) ([]RetrievedChunk, error) {
	if len(queryEmbedding) != r.dim {
		return nil, fmt.Errorf("retrieval.TopK: embedding dimension %d, want %d", len(queryEmbedding), r.dim)
	}
	vec := pgvector.NewVector(queryEmbedding)
	rows, err := r.pool.Query(ctx, `
		SELECT
			c.id,
			c.document_id,
			c.page_start,
			c.content,
			COALESCE(dp.content, c.content),
			c.token_count,
			(ce.embedding <=> $3) AS score
		FROM chunk_embeddings ce
		JOIN chunks c ON c.id = ce.chunk_id
		LEFT JOIN document_pages dp
			ON dp.workspace_id = $1
			AND dp.document_id = c.document_id
			AND dp.page_number = c.page_start
		WHERE ce.workspace_id = $1
			AND ce.document_id = $2
			AND c.workspace_id = $1
			AND c.document_id = $2
		ORDER BY ce.embedding <=> $3, c.chunk_index
		LIMIT $4`,
		workspaceID, documentID, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("retrieval.TopK: %w", err)
	}
	defer rows.Close()

	var out []RetrievedChunk
	for rows.Next() {
		var c RetrievedChunk
		if err := rows.Scan(&c.ChunkID, &c.DocumentID, &c.PageNumber, &c.ChunkText, &c.PageText, &c.TokenCount, &c.Score); err != nil {
			return nil, fmt.Errorf("retrieval.TopK: scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("retrieval.TopK: %w", err)
	}
	return out, nil
}
