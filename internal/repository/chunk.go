package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/connexus-ai/inkwell-backend/internal/apperr"
	"github.com/connexus-ai/inkwell-backend/internal/model"
	"github.com/connexus-ai/inkwell-backend/internal/service"
)

// ChunkRepo implements service.ChunkStore.
type ChunkRepo struct {
	pool *pgxpool.Pool
}

// NewChunkRepo creates a ChunkRepo.
func NewChunkRepo(pool *pgxpool.Pool) *ChunkRepo {
	return &ChunkRepo{pool: pool}
}

var _ service.ChunkStore = (*ChunkRepo)(nil)

// WipeDocument removes the document's embeddings and chunks, in that
// order, so reindex runs start clean.
func (r *ChunkRepo) WipeDocument(ctx context.Context, workspaceID, documentID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository.Chunk.WipeDocument: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		DELETE FROM chunk_embeddings
		WHERE workspace_id = $1 AND document_id = $2`,
		workspaceID, documentID)
	if err != nil {
		return fmt.Errorf("repository.Chunk.WipeDocument: embeddings: %w", err)
	}
	_, err = tx.Exec(ctx, `
		DELETE FROM chunks
		WHERE workspace_id = $1 AND document_id = $2`,
		workspaceID, documentID)
	if err != nil {
		return fmt.Errorf("repository.Chunk.WipeDocument: chunks: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("repository.Chunk.WipeDocument: %w", err)
	}
	return nil
}

// InsertChunks stores chunk rows using pgx batching.
func (r *ChunkRepo) InsertChunks(ctx context.Context, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(`
			INSERT INTO chunks (id, workspace_id, document_id, page_start, page_end,
				chunk_index, content, content_hash, token_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			c.ID, c.WorkspaceID, c.DocumentID, c.PageStart, c.PageEnd,
			c.ChunkIndex, c.Content, c.ContentHash, c.TokenCount)
	}
	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < len(chunks); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("repository.Chunk.InsertChunks: chunk %d: %w", i, err)
		}
	}
	return nil
}

// InsertEmbedding stores one chunk's vector.
func (r *ChunkRepo) InsertEmbedding(ctx context.Context, emb model.ChunkEmbedding) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO chunk_embeddings (chunk_id, workspace_id, document_id, embedding, embedding_model)
		VALUES ($1, $2, $3, $4, $5)`,
		emb.ChunkID, emb.WorkspaceID, emb.DocumentID, pgvector.NewVector(emb.Embedding), emb.EmbeddingModel)
	if err != nil {
		return fmt.Errorf("repository.Chunk.InsertEmbedding: %w", err)
	}
	return nil
}

// Get fetches one chunk scoped to its workspace.
func (r *ChunkRepo) Get(ctx context.Context, workspaceID, chunkID uuid.UUID) (model.Chunk, error) {
	var c model.Chunk
	err := r.pool.QueryRow(ctx, `
		SELECT id, workspace_id, document_id, page_start, page_end, chunk_index,
			content, content_hash, token_count
		FROM chunks
		WHERE id = $1 AND workspace_id = $2
		LIMIT 1`,
		chunkID, workspaceID).Scan(
		&c.ID, &c.WorkspaceID, &c.DocumentID, &c.PageStart, &c.PageEnd, &c.ChunkIndex,
		&c.Content, &c.ContentHash, &c.TokenCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Chunk{}, apperr.NotFound("Citation source not found")
	}
	if err != nil {
		return model.Chunk{}, fmt.Errorf("repository.Chunk.Get: %w", err)
	}
	return c, nil
}

// PagesByChunkIDs maps chunk ids to their starting page.
func (r *ChunkRepo) PagesByChunkIDs(ctx context.Context, workspaceID uuid.UUID, chunkIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	if len(chunkIDs) == 0 {
		return map[uuid.UUID]int{}, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, page_start
		FROM chunks
		WHERE workspace_id = $1 AND id = ANY($2)`,
		workspaceID, chunkIDs)
	if err != nil {
		return nil, fmt.Errorf("repository.Chunk.PagesByChunkIDs: %w", err)
	}
	defer rows.Close()

	pages := make(map[uuid.UUID]int, len(chunkIDs))
	for rows.Next() {
		var id uuid.UUID
		var page int
		if err := rows.Scan(&id, &page); err != nil {
			return nil, fmt.Errorf("repository.Chunk.PagesByChunkIDs: scan: %w", err)
		}
		pages[id] = page
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository.Chunk.PagesByChunkIDs: %w", err)
	}
	return pages, nil
}
