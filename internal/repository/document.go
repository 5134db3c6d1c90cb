package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/inkwell-backend/internal/apperr"
	"github.com/connexus-ai/inkwell-backend/internal/model"
	"github.com/connexus-ai/inkwell-backend/internal/service"
)

const documentColumns = `id, workspace_id, filename, content_type, file_size_bytes, page_count,
	storage_bucket, storage_path, status, error_message, idempotency_key, created_at, updated_at`

// DocumentRepo implements service.DocumentStore.
type DocumentRepo struct {
	pool *pgxpool.Pool
}

// NewDocumentRepo creates a DocumentRepo.
func NewDocumentRepo(pool *pgxpool.Pool) *DocumentRepo {
	return &DocumentRepo{pool: pool}
}

var _ service.DocumentStore = (*DocumentRepo)(nil)

func scanDocument(row pgx.Row) (model.Document, error) {
	var d model.Document
	err := row.Scan(
		&d.ID, &d.WorkspaceID, &d.Filename, &d.ContentType, &d.FileSizeBytes, &d.PageCount,
		&d.StorageBucket, &d.StoragePath, &d.Status, &d.ErrorMessage, &d.IdempotencyKey,
		&d.CreatedAt, &d.UpdatedAt,
	)
	return d, err
}

// Insert stores a new document row. A duplicate idempotency key within
// the workspace comes back as a conflict.
func (r *DocumentRepo) Insert(ctx context.Context, doc model.Document) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO documents (
			id, workspace_id, filename, content_type, file_size_bytes,
			storage_bucket, storage_path, status, idempotency_key
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		doc.ID, doc.WorkspaceID, doc.Filename, doc.ContentType, doc.FileSizeBytes,
		doc.StorageBucket, doc.StoragePath, doc.Status, doc.IdempotencyKey)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperr.Conflict("Document already exists for this idempotency key")
		}
		return fmt.Errorf("repository.Document.Insert: %w", err)
	}
	return nil
}

// Get fetches a document scoped to its workspace.
func (r *DocumentRepo) Get(ctx context.Context, workspaceID, documentID uuid.UUID) (model.Document, error) {
	doc, err := scanDocument(r.pool.QueryRow(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE id = $1 AND workspace_id = $2
		LIMIT 1`,
		documentID, workspaceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Document{}, apperr.NotFound("Document not found")
	}
	if err != nil {
		return model.Document{}, fmt.Errorf("repository.Document.Get: %w", err)
	}
	return doc, nil
}

// FindByIdempotencyKey looks up a prior prepare for the same key.
func (r *DocumentRepo) FindByIdempotencyKey(ctx context.Context, workspaceID uuid.UUID, key string) (model.Document, bool, error) {
	doc, err := scanDocument(r.pool.QueryRow(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE workspace_id = $1 AND idempotency_key = $2
		LIMIT 1`,
		workspaceID, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Document{}, false, nil
	}
	if err != nil {
		return model.Document{}, false, fmt.Errorf("repository.Document.FindByIdempotencyKey: %w", err)
	}
	return doc, true, nil
}

// List pages through the workspace's documents, newest first, optionally
// filtered by status.
func (r *DocumentRepo) List(ctx context.Context, workspaceID uuid.UUID, status string, limit, offset int) ([]model.Document, int, error) {
	where := `workspace_id = $1`
	args := []any{workspaceID}
	if status != "" {
		where += ` AND status = $2`
		args = append(args, status)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM documents WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("repository.Document.List: count: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT `+documentColumns+`
		FROM documents
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("repository.Document.List: %w", err)
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("repository.Document.List: scan: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("repository.Document.List: %w", err)
	}
	return docs, total, nil
}

// Count returns the number of documents in the workspace.
func (r *DocumentRepo) Count(ctx context.Context, workspaceID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM documents WHERE workspace_id = $1`, workspaceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("repository.Document.Count: %w", err)
	}
	return n, nil
}

// TransitionStatus applies a compare-and-set status change, clearing any
// error message. From-statuses with no legal edge to the target are
// dropped, so an illegal move never matches. Concurrent movers lose and
// see false.
func (r *DocumentRepo) TransitionStatus(ctx context.Context, workspaceID, documentID uuid.UUID, from []string, to string) (bool, error) {
	legal := make([]string, 0, len(from))
	for _, status := range from {
		if model.CanTransition(status, to) {
			legal = append(legal, status)
		}
	}
	if len(legal) == 0 {
		return false, nil
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE documents
		SET status = $3, error_message = NULL, updated_at = now()
		WHERE id = $1 AND workspace_id = $2 AND status = ANY($4)`,
		documentID, workspaceID, to, legal)
	if err != nil {
		return false, fmt.Errorf("repository.Document.TransitionStatus: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetFailed marks the document failed with a truncated error message.
func (r *DocumentRepo) SetFailed(ctx context.Context, workspaceID, documentID uuid.UUID, errorMessage string) error {
	if len(errorMessage) > 2000 {
		errorMessage = errorMessage[:2000]
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE documents
		SET status = 'failed', error_message = $3, updated_at = now()
		WHERE id = $1 AND workspace_id = $2`,
		documentID, workspaceID, errorMessage)
	if err != nil {
		return fmt.Errorf("repository.Document.SetFailed: %w", err)
	}
	return nil
}

// SetExtracted records the page count and advances to indexing.
func (r *DocumentRepo) SetExtracted(ctx context.Context, workspaceID, documentID uuid.UUID, pageCount int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE documents
		SET page_count = $3, status = 'indexing', error_message = NULL, updated_at = now()
		WHERE id = $1 AND workspace_id = $2`,
		documentID, workspaceID, pageCount)
	if err != nil {
		return fmt.Errorf("repository.Document.SetExtracted: %w", err)
	}
	return nil
}

// Delete removes the document row; pages, chunks, and embeddings cascade.
// It returns the storage path so the caller can clean up the blob.
func (r *DocumentRepo) Delete(ctx context.Context, workspaceID, documentID uuid.UUID) (string, bool, error) {
	var storagePath string
	err := r.pool.QueryRow(ctx, `
		DELETE FROM documents
		WHERE id = $1 AND workspace_id = $2
		RETURNING storage_path`,
		documentID, workspaceID).Scan(&storagePath)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("repository.Document.Delete: %w", err)
	}
	return storagePath, true, nil
}

// Progress counts extraction and indexing artifacts for the document.
func (r *DocumentRepo) Progress(ctx context.Context, workspaceID, documentID uuid.UUID) (model.DocumentProgress, error) {
	var p model.DocumentProgress
	err := r.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM document_pages WHERE workspace_id = $1 AND document_id = $2),
			(SELECT COUNT(*) FROM document_pages WHERE workspace_id = $1 AND document_id = $2
				AND NULLIF(BTRIM(content), '') IS NOT NULL),
			(SELECT COUNT(*) FROM chunks WHERE workspace_id = $1 AND document_id = $2),
			(SELECT COUNT(*) FROM chunk_embeddings WHERE workspace_id = $1 AND document_id = $2)`,
		workspaceID, documentID).Scan(&p.PagesTotal, &p.PagesExtracted, &p.Chunks, &p.Embeddings)
	if err != nil {
		return model.DocumentProgress{}, fmt.Errorf("repository.Document.Progress: %w", err)
	}
	return p, nil
}
