package budget

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/connexus-ai/inkwell-backend/internal/apperr"
)

// Amount checks run before any database work, so a nil pool is safe here.
func TestReserveAmountBounds(t *testing.T) {
	l := NewLedger(nil, 100, slog.New(slog.DiscardHandler))

	if err := l.Reserve(context.Background(), uuid.New(), 0); err != nil {
		t.Fatalf("Reserve(0) error = %v, want nil no-op", err)
	}
	err := l.Reserve(context.Background(), uuid.New(), -5)
	if !errors.Is(err, apperr.ErrInvalidReservation) {
		t.Fatalf("Reserve(-5) error = %v, want ErrInvalidReservation", err)
	}
}

func TestCommitAndReleaseAmountBounds(t *testing.T) {
	l := NewLedger(nil, 100, slog.New(slog.DiscardHandler))

	if err := l.Commit(context.Background(), uuid.New(), 0); err != nil {
		t.Fatalf("Commit(0) error = %v, want nil no-op", err)
	}
	if err := l.Release(context.Background(), uuid.New(), 0); err != nil {
		t.Fatalf("Release(0) error = %v, want nil no-op", err)
	}
	if err := l.Commit(context.Background(), uuid.New(), -1); !errors.Is(err, apperr.ErrInvalidReservation) {
		t.Fatalf("Commit(-1) error = %v, want ErrInvalidReservation", err)
	}
	if err := l.Release(context.Background(), uuid.New(), -1); !errors.Is(err, apperr.ErrInvalidReservation) {
		t.Fatalf("Release(-1) error = %v, want ErrInvalidReservation", err)
	}
}
