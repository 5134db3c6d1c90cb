package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/connexus-ai/inkwell-backend/internal/apperr"
	"github.com/connexus-ai/inkwell-backend/internal/middleware"
	"github.com/connexus-ai/inkwell-backend/internal/model"
	"github.com/connexus-ai/inkwell-backend/internal/service"
)

// RateLimiter is the per-workspace operation limiter.
type RateLimiter interface {
	Allow(ctx context.Context, workspaceID uuid.UUID, operation string, limit int) error
}

// API bundles the services behind the HTTP surface.
type API struct {
	Workspaces *service.WorkspaceService
	Documents  *service.DocumentService
	Query      *service.QueryService
	History    *service.HistoryService
	Chats      *service.ChatService
	Limiter    RateLimiter
	Logger     *slog.Logger
}

// currentUser pulls the authenticated user from the request context.
func currentUser(r *http.Request) (model.AuthenticatedUser, error) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		return model.AuthenticatedUser{}, apperr.Unauthorized("Missing bearer token")
	}
	return user, nil
}

// scope resolves the caller and their workspace for tenant-scoped routes.
func (a *API) scope(r *http.Request) (model.AuthenticatedUser, model.Workspace, error) {
	user, err := currentUser(r)
	if err != nil {
		return model.AuthenticatedUser{}, model.Workspace{}, err
	}
	ws, err := a.Workspaces.Resolve(r.Context(), user)
	if err != nil {
		return model.AuthenticatedUser{}, model.Workspace{}, err
	}
	return user, ws, nil
}

// AuthMe returns the authenticated identity.
// GET /api/auth/me
func (a *API) AuthMe(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	respondData(w, http.StatusOK, map[string]any{
		"user_id": user.UserID,
		"email":   user.Email,
	})
}

type createWorkspaceRequest struct {
	Name string `json:"name"`
}

// WorkspaceCreate makes the caller's workspace.
// POST /api/workspaces
func (a *API) WorkspaceCreate(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	var req createWorkspaceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, a.Logger, err)
		return
	}
	ws, err := a.Workspaces.Create(r.Context(), user, req.Name)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	respondData(w, http.StatusCreated, ws)
}

// WorkspaceMe returns the caller's workspace overview.
// GET /api/workspaces/me
func (a *API) WorkspaceMe(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	overview, err := a.Workspaces.Me(r.Context(), user)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	respondData(w, http.StatusOK, overview)
}

// UsageToday returns the workspace's budget position for the current
// UTC day.
// GET /api/usage/today
func (a *API) UsageToday(w http.ResponseWriter, r *http.Request) {
	_, ws, err := a.scope(r)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	usage, err := a.Workspaces.UsageToday(r.Context(), ws.ID)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	respondData(w, http.StatusOK, usage)
}
