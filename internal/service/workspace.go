package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/connexus-ai/inkwell-backend/internal/apperr"
	"github.com/connexus-ai/inkwell-backend/internal/model"
)

// WorkspaceOverview is the owner's workspace with document counts and
// today's budget position.
type WorkspaceOverview struct {
	Workspace      model.Workspace `json:"workspace"`
	DocumentCounts map[string]int  `json:"document_counts"`
	Usage          Usage           `json:"usage"`
}

// WorkspaceService manages workspace creation and the owner overview.
type WorkspaceService struct {
	workspaces WorkspaceStore
	ledger     TokenLedger
	logger     *slog.Logger
}

// NewWorkspaceService wires workspace management.
func NewWorkspaceService(workspaces WorkspaceStore, ledger TokenLedger, logger *slog.Logger) *WorkspaceService {
	return &WorkspaceService{workspaces: workspaces, ledger: ledger, logger: logger}
}

// Create makes the caller's workspace. One per user; a repeat create
// conflicts with the existing workspace id attached.
func (s *WorkspaceService) Create(ctx context.Context, user model.AuthenticatedUser, name string) (model.Workspace, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "My Workspace"
	}
	if len(name) > 200 {
		name = name[:200]
	}
	return s.workspaces.Create(ctx, name, user.UserID)
}

// Me resolves the caller's workspace and aggregates its document counts
// and budget snapshot concurrently.
func (s *WorkspaceService) Me(ctx context.Context, user model.AuthenticatedUser) (WorkspaceOverview, error) {
	ws, err := s.workspaces.GetByOwner(ctx, user.UserID)
	if err != nil {
		return WorkspaceOverview{}, err
	}

	overview := WorkspaceOverview{Workspace: ws}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		counts, err := s.workspaces.DocumentStatusCounts(gctx, ws.ID)
		if err != nil {
			return fmt.Errorf("document counts: %w", err)
		}
		overview.DocumentCounts = counts
		return nil
	})
	g.Go(func() error {
		snap, err := s.ledger.Status(gctx, ws.ID)
		if err != nil {
			return fmt.Errorf("usage: %w", err)
		}
		overview.Usage = usageFromSnapshot(snap)
		return nil
	})
	if err := g.Wait(); err != nil {
		return WorkspaceOverview{}, apperr.Internal("Failed to load workspace", fmt.Errorf("WorkspaceService.Me: %w", err))
	}
	return overview, nil
}

// Resolve returns the caller's workspace for request scoping.
func (s *WorkspaceService) Resolve(ctx context.Context, user model.AuthenticatedUser) (model.Workspace, error) {
	return s.workspaces.GetByOwner(ctx, user.UserID)
}

// UsageToday returns the workspace's current budget position.
func (s *WorkspaceService) UsageToday(ctx context.Context, workspaceID uuid.UUID) (Usage, error) {
	snap, err := s.ledger.Status(ctx, workspaceID)
	if err != nil {
		return Usage{}, apperr.Internal("Failed to load usage", fmt.Errorf("WorkspaceService.UsageToday: %w", err))
	}
	return usageFromSnapshot(snap), nil
}
