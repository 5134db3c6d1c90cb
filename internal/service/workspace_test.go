package service

import (
	"context"
	"testing"

	"github.com/connexus-ai/inkwell-backend/internal/apperr"
	"github.com/connexus-ai/inkwell-backend/internal/model"
)

func TestWorkspaceCreateDefaultsName(t *testing.T) {
	workspaces := newFakeWorkspaces()
	svc := NewWorkspaceService(workspaces, &fakeLedger{limit: 100000}, testLogger())
	user := model.AuthenticatedUser{UserID: "uid-1"}

	ws, err := svc.Create(context.Background(), user, "   ")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if ws.Name != "My Workspace" {
		t.Errorf("name = %q, want default", ws.Name)
	}
	if ws.OwnerID != "uid-1" {
		t.Errorf("owner = %q", ws.OwnerID)
	}

	_, err = svc.Create(context.Background(), user, "Second")
	if got := apperr.StatusOf(err); got != 409 {
		t.Errorf("second create: status = %d, want 409", got)
	}
}

func TestWorkspaceMeAggregates(t *testing.T) {
	workspaces := newFakeWorkspaces()
	ledger := &fakeLedger{limit: 100000, used: 1200, reserved: 300}
	svc := NewWorkspaceService(workspaces, ledger, testLogger())
	user := model.AuthenticatedUser{UserID: "uid-2"}

	if _, err := svc.Create(context.Background(), user, "Legal"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	workspaces.counts = map[string]int{model.StatusReady: 4, model.StatusFailed: 1}

	overview, err := svc.Me(context.Background(), user)
	if err != nil {
		t.Fatalf("Me() error = %v", err)
	}
	if overview.Workspace.Name != "Legal" {
		t.Errorf("workspace name = %q", overview.Workspace.Name)
	}
	if overview.DocumentCounts[model.StatusReady] != 4 {
		t.Errorf("counts = %v", overview.DocumentCounts)
	}
	if overview.Usage.Used != 1200 || overview.Usage.Reserved != 300 {
		t.Errorf("usage = %+v", overview.Usage)
	}
	if overview.Usage.Remaining != 100000-1500 {
		t.Errorf("remaining = %d", overview.Usage.Remaining)
	}

	_, err = svc.Me(context.Background(), model.AuthenticatedUser{UserID: "nobody"})
	if got := apperr.StatusOf(err); got != 404 {
		t.Errorf("unknown owner: status = %d, want 404", got)
	}
}
