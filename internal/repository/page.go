package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/inkwell-backend/internal/model"
	"github.com/connexus-ai/inkwell-backend/internal/service"
)

// PageRepo implements service.PageStore.
type PageRepo struct {
	pool *pgxpool.Pool
}

// NewPageRepo creates a PageRepo.
func NewPageRepo(pool *pgxpool.Pool) *PageRepo {
	return &PageRepo{pool: pool}
}

var _ service.PageStore = (*PageRepo)(nil)

// ReplacePages swaps out the document's extracted pages in one
// transaction. Extract reruns overwrite prior pages.
func (r *PageRepo) ReplacePages(ctx context.Context, workspaceID, documentID uuid.UUID, pages []model.DocumentPage) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository.Page.ReplacePages: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		DELETE FROM document_pages
		WHERE workspace_id = $1 AND document_id = $2`,
		workspaceID, documentID)
	if err != nil {
		return fmt.Errorf("repository.Page.ReplacePages: delete: %w", err)
	}

	batch := &pgx.Batch{}
	for _, p := range pages {
		batch.Queue(`
			INSERT INTO document_pages (workspace_id, document_id, page_number, content)
			VALUES ($1, $2, $3, $4)`,
			workspaceID, documentID, p.PageNumber, p.Content)
	}
	br := tx.SendBatch(ctx, batch)
	for i := 0; i < len(pages); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("repository.Page.ReplacePages: page %d: %w", i+1, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("repository.Page.ReplacePages: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("repository.Page.ReplacePages: %w", err)
	}
	return nil
}

// GetPage fetches one page's text.
func (r *PageRepo) GetPage(ctx context.Context, workspaceID, documentID uuid.UUID, pageNumber int) (string, bool, error) {
	var content string
	err := r.pool.QueryRow(ctx, `
		SELECT content
		FROM document_pages
		WHERE workspace_id = $1 AND document_id = $2 AND page_number = $3
		LIMIT 1`,
		workspaceID, documentID, pageNumber).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("repository.Page.GetPage: %w", err)
	}
	return content, true, nil
}

// ListPages returns the document's pages in order.
func (r *PageRepo) ListPages(ctx context.Context, workspaceID, documentID uuid.UUID) ([]model.DocumentPage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT page_number, content
		FROM document_pages
		WHERE workspace_id = $1 AND document_id = $2
		ORDER BY page_number ASC`,
		workspaceID, documentID)
	if err != nil {
		return nil, fmt.Errorf("repository.Page.ListPages: %w", err)
	}
	defer rows.Close()

	var pages []model.DocumentPage
	for rows.Next() {
		p := model.DocumentPage{WorkspaceID: workspaceID, DocumentID: documentID}
		if err := rows.Scan(&p.PageNumber, &p.Content); err != nil {
			return nil, fmt.Errorf("repository.Page.ListPages: scan: %w", err)
		}
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository.Page.ListPages: %w", err)
	}
	return pages, nil
}

// CountPages returns how many pages the document has.
func (r *PageRepo) CountPages(ctx context.Context, workspaceID, documentID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM document_pages
		WHERE workspace_id = $1 AND document_id = $2`,
		workspaceID, documentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("repository.Page.CountPages: %w", err)
	}
	return n, nil
}
