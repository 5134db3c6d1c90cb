package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/inkwell-backend/internal/apperr"
	"github.com/connexus-ai/inkwell-backend/internal/config"
)

// Snapshot is a point-in-time view of a workspace's daily ledger row.
type Snapshot struct {
	WorkspaceID uuid.UUID
	UsageDate   time.Time
	Used        int64
	Reserved    int64
	Limit       int64
	ResetsAt    time.Time
}

// Remaining is the budget still reservable today, never negative.
func (s Snapshot) Remaining() int64 {
	r := s.Limit - (s.Used + s.Reserved)
	if r < 0 {
		return 0
	}
	return r
}

// Ledger enforces the per-workspace daily token cap on Postgres. Every
// mutation runs in its own transaction and serializes on the (workspace,
// day) row with SELECT FOR UPDATE.
type Ledger struct {
	pool   *pgxpool.Pool
	limit  int64
	logger *slog.Logger
}

// NewLedger builds a ledger with the given daily cap.
func NewLedger(pool *pgxpool.Pool, dailyLimit int64, logger *slog.Logger) *Ledger {
	return &Ledger{pool: pool, limit: dailyLimit, logger: logger}
}

// lockRow ensures today's row exists and locks it, returning used and
// reserved. Callers own the transaction.
func (l *Ledger) lockRow(ctx context.Context, tx pgx.Tx, workspaceID uuid.UUID, day time.Time) (used, reserved int64, err error) {
	_, err = tx.Exec(ctx, `
		INSERT INTO workspace_daily_usage (workspace_id, usage_date, tokens_used, tokens_reserved)
		VALUES ($1, $2, 0, 0)
		ON CONFLICT (workspace_id, usage_date) DO NOTHING`,
		workspaceID, day)
	if err != nil {
		return 0, 0, fmt.Errorf("insert usage row: %w", err)
	}
	err = tx.QueryRow(ctx, `
		SELECT tokens_used, tokens_reserved
		FROM workspace_daily_usage
		WHERE workspace_id = $1 AND usage_date = $2
		FOR UPDATE`,
		workspaceID, day).Scan(&used, &reserved)
	if err != nil {
		return 0, 0, fmt.Errorf("lock usage row: %w", err)
	}
	return used, reserved, nil
}

// Reserve holds tokens against today's budget. It fails with
// *apperr.BudgetExceededError when used + reserved + tokens would pass
// the daily limit.
func (l *Ledger) Reserve(ctx context.Context, workspaceID uuid.UUID, tokens int64) error {
	if tokens < 0 {
		return apperr.InvalidReservation("reserve amount %d", tokens)
	}
	if tokens == 0 {
		return nil
	}
	day := config.UTCToday()
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("budget.Reserve: %w", err)
	}
	defer tx.Rollback(ctx)

	used, reserved, err := l.lockRow(ctx, tx, workspaceID, day)
	if err != nil {
		return fmt.Errorf("budget.Reserve: %w", err)
	}
	if used+reserved+tokens > l.limit {
		return &apperr.BudgetExceededError{
			Used:     used,
			Reserved: reserved,
			Limit:    l.limit,
			ResetsAt: config.NextResetAt(day),
		}
	}
	_, err = tx.Exec(ctx, `
		UPDATE workspace_daily_usage
		SET tokens_reserved = tokens_reserved + $3, updated_at = now()
		WHERE workspace_id = $1 AND usage_date = $2`,
		workspaceID, day, tokens)
	if err != nil {
		return fmt.Errorf("budget.Reserve: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("budget.Reserve: %w", err)
	}
	return nil
}

// Commit converts reserved tokens into used tokens. The amount must not
// exceed the outstanding reservation.
func (l *Ledger) Commit(ctx context.Context, workspaceID uuid.UUID, tokens int64) error {
	if tokens < 0 {
		return apperr.InvalidReservation("commit amount %d", tokens)
	}
	if tokens == 0 {
		return nil
	}
	day := config.UTCToday()
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("budget.Commit: %w", err)
	}
	defer tx.Rollback(ctx)

	_, reserved, err := l.lockRow(ctx, tx, workspaceID, day)
	if err != nil {
		return fmt.Errorf("budget.Commit: %w", err)
	}
	if tokens > reserved {
		return apperr.InvalidReservation("commit %d exceeds reserved %d", tokens, reserved)
	}
	_, err = tx.Exec(ctx, `
		UPDATE workspace_daily_usage
		SET tokens_used = tokens_used + $3,
		    tokens_reserved = tokens_reserved - $3,
		    updated_at = now()
		WHERE workspace_id = $1 AND usage_date = $2`,
		workspaceID, day, tokens)
	if err != nil {
		return fmt.Errorf("budget.Commit: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("budget.Commit: %w", err)
	}
	return nil
}

// Release returns reserved tokens to the pool without charging them.
func (l *Ledger) Release(ctx context.Context, workspaceID uuid.UUID, tokens int64) error {
	if tokens < 0 {
		return apperr.InvalidReservation("release amount %d", tokens)
	}
	if tokens == 0 {
		return nil
	}
	day := config.UTCToday()
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("budget.Release: %w", err)
	}
	defer tx.Rollback(ctx)

	_, reserved, err := l.lockRow(ctx, tx, workspaceID, day)
	if err != nil {
		return fmt.Errorf("budget.Release: %w", err)
	}
	if tokens > reserved {
		return apperr.InvalidReservation("release %d exceeds reserved %d", tokens, reserved)
	}
	_, err = tx.Exec(ctx, `
		UPDATE workspace_daily_usage
		SET tokens_reserved = tokens_reserved - $3, updated_at = now()
		WHERE workspace_id = $1 AND usage_date = $2`,
		workspaceID, day, tokens)
	if err != nil {
		return fmt.Errorf("budget.Release: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("budget.Release: %w", err)
	}
	return nil
}

// Status reads today's usage without taking the row lock. A missing row
// reads as zero usage.
func (l *Ledger) Status(ctx context.Context, workspaceID uuid.UUID) (Snapshot, error) {
	day := config.UTCToday()
	snap := Snapshot{
		WorkspaceID: workspaceID,
		UsageDate:   day,
		Limit:       l.limit,
		ResetsAt:    config.NextResetAt(day),
	}
	err := l.pool.QueryRow(ctx, `
		SELECT tokens_used, tokens_reserved
		FROM workspace_daily_usage
		WHERE workspace_id = $1 AND usage_date = $2`,
		workspaceID, day).Scan(&snap.Used, &snap.Reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return snap, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("budget.Status: %w", err)
	}
	return snap, nil
}

// ReleaseStale zeroes reservations that have not been touched within ttl.
// Crashed processes leak reservations; this is the recovery path.
func (l *Ledger) ReleaseStale(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	tag, err := l.pool.Exec(ctx, `
		UPDATE workspace_daily_usage
		SET tokens_reserved = 0, updated_at = now()
		WHERE tokens_reserved > 0 AND updated_at < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("budget.ReleaseStale: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		l.logger.Warn("released stale token reservations", "rows", n, "cutoff", cutoff)
		return n, nil
	}
	return 0, nil
}
