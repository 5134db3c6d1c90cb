// Package repository implements the service stores on Postgres via pgx.
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
	"github.com/connexus-ai/inkwell-backend/internal/config"
	"github.com/connexus-ai/inkwell-backend/internal/model"
	"github.com/connexus-ai/inkwell-backend/internal/service"
)

// WorkspaceRepo implements service.WorkspaceStore.
type WorkspaceRepo struct {
	pool *pgxpool.Pool
}

// NewWorkspaceRepo creates a WorkspaceRepo.
func NewWorkspaceRepo(pool *pgxpool.Pool) *WorkspaceRepo {
	return &WorkspaceRepo{pool: pool}
}

var _ service.WorkspaceStore = (*WorkspaceRepo)(nil)

// Create inserts a workspace and seeds today's usage row. Each owner gets
// one workspace; a second create conflicts with the existing id attached.
func (r *WorkspaceRepo) Create(ctx context.Context, name string, ownerID string) (model.Workspace, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Workspace{}, fmt.Errorf("repository.Workspace.Create: %w", err)
	}
	defer tx.Rollback(ctx)

	var existingID uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT id FROM workspaces WHERE owner_id = $1 LIMIT 1`, ownerID).Scan(&existingID)
	if err == nil {
		conflict := apperr.Conflict("User already has a workspace")
		conflict.Details = map[string]any{"workspace_id": existingID.String()}
		return model.Workspace{}, conflict
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Workspace{}, fmt.Errorf("repository.Workspace.Create: %w", err)
	}

	ws := model.Workspace{ID: uuid.New(), Name: name, OwnerID: ownerID}
	err = tx.QueryRow(ctx, `
		INSERT INTO workspaces (id, name, owner_id)
		VALUES ($1, $2, $3)
		RETURNING created_at`,
		ws.ID, ws.Name, ws.OwnerID).Scan(&ws.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.Workspace{}, apperr.Conflict("User already has a workspace")
		}
		return model.Workspace{}, fmt.Errorf("repository.Workspace.Create: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO workspace_daily_usage (workspace_id, usage_date, tokens_used, tokens_reserved)
		VALUES ($1, $2, 0, 0)
		ON CONFLICT (workspace_id, usage_date) DO NOTHING`,
		ws.ID, config.UTCToday())
	if err != nil {
		return model.Workspace{}, fmt.Errorf("repository.Workspace.Create: seed usage: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Workspace{}, fmt.Errorf("repository.Workspace.Create: %w", err)
	}
	return ws, nil
}

// GetByOwner fetches the owner's workspace.
func (r *WorkspaceRepo) GetByOwner(ctx context.Context, ownerID string) (model.Workspace, error) {
	var ws model.Workspace
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, owner_id, created_at
		FROM workspaces
		WHERE owner_id = $1
		LIMIT 1`,
		ownerID).Scan(&ws.ID, &ws.Name, &ws.OwnerID, &ws.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Workspace{}, apperr.NotFound("Workspace not found")
	}
	if err != nil {
		return model.Workspace{}, fmt.Errorf("repository.Workspace.GetByOwner: %w", err)
	}
	return ws, nil
}

// DocumentStatusCounts groups the workspace's documents by status.
func (r *WorkspaceRepo) DocumentStatusCounts(ctx context.Context, workspaceID uuid.UUID) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, COUNT(*)
		FROM documents
		WHERE workspace_id = $1
		GROUP BY status`,
		workspaceID)
	if err != nil {
		return nil, fmt.Errorf("repository.Workspace.DocumentStatusCounts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("repository.Workspace.DocumentStatusCounts: scan: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository.Workspace.DocumentStatusCounts: %w", err)
	}
	return counts, nil
}
