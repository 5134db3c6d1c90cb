package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/inkwell-backend/internal/apperr"
	"github.com/connexus-ai/inkwell-backend/internal/model"
	"github.com/connexus-ai/inkwell-backend/internal/service"
)

// chatMarker tags legacy chat rows stored in query_logs before the
// chat_sessions table existed. History reads exclude them.
const chatMarker = "__CHAT_SESSION__"

// QueryLogRepo implements service.QueryLogStore.
type QueryLogRepo struct {
	pool *pgxpool.Pool
}

// NewQueryLogRepo creates a QueryLogRepo.
func NewQueryLogRepo(pool *pgxpool.Pool) *QueryLogRepo {
	return &QueryLogRepo{pool: pool}
}

var _ service.QueryLogStore = (*QueryLogRepo)(nil)

// Insert appends one audit row.
func (r *QueryLogRepo) Insert(ctx context.Context, entry model.QueryLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO query_logs (
			id, workspace_id, user_id, query_text, documents_searched,
			retrieved_chunk_ids, chunk_scores, answer_text, error_message,
			retrieval_latency_ms, llm_latency_ms, total_latency_ms,
			embedding_tokens_used, llm_input_tokens, llm_output_tokens,
			total_tokens_used, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, now())`,
		entry.ID, entry.WorkspaceID, entry.UserID, entry.QueryText, entry.DocumentsSearched,
		entry.RetrievedChunkIDs, entry.ChunkScores, entry.AnswerText, entry.ErrorMessage,
		entry.RetrievalLatencyMS, entry.LLMLatencyMS, entry.TotalLatencyMS,
		entry.EmbeddingTokensUsed, entry.LLMInputTokens, entry.LLMOutputTokens,
		entry.TotalTokensUsed)
	if err != nil {
		return fmt.Errorf("repository.QueryLog.Insert: %w", err)
	}
	return nil
}

func scanQueryLog(row pgx.Row) (model.QueryLog, error) {
	var q model.QueryLog
	err := row.Scan(
		&q.ID, &q.WorkspaceID, &q.UserID, &q.QueryText, &q.DocumentsSearched,
		&q.RetrievedChunkIDs, &q.ChunkScores, &q.AnswerText, &q.ErrorMessage,
		&q.RetrievalLatencyMS, &q.LLMLatencyMS, &q.TotalLatencyMS,
		&q.EmbeddingTokensUsed, &q.LLMInputTokens, &q.LLMOutputTokens,
		&q.TotalTokensUsed, &q.CreatedAt,
	)
	return q, err
}

const queryLogColumns = `id, workspace_id, user_id, query_text, documents_searched,
	retrieved_chunk_ids, chunk_scores, answer_text, error_message,
	retrieval_latency_ms, llm_latency_ms, total_latency_ms,
	embedding_tokens_used, llm_input_tokens, llm_output_tokens,
	total_tokens_used, created_at`

// List pages through the workspace's query history, newest first,
// optionally narrowed to one document.
func (r *QueryLogRepo) List(ctx context.Context, workspaceID uuid.UUID, documentID *uuid.UUID, limit, offset int) ([]model.QueryLog, int, error) {
	where := `workspace_id = $1 AND COALESCE(error_message, '') <> $2`
	args := []any{workspaceID, chatMarker}
	if documentID != nil {
		where += ` AND $3 = ANY(documents_searched)`
		args = append(args, *documentID)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM query_logs WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("repository.QueryLog.List: count: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT `+queryLogColumns+`
		FROM query_logs
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("repository.QueryLog.List: %w", err)
	}
	defer rows.Close()

	var logs []model.QueryLog
	for rows.Next() {
		q, err := scanQueryLog(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("repository.QueryLog.List: scan: %w", err)
		}
		logs = append(logs, q)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("repository.QueryLog.List: %w", err)
	}
	return logs, total, nil
}

// Get fetches one history row.
func (r *QueryLogRepo) Get(ctx context.Context, workspaceID, queryID uuid.UUID) (model.QueryLog, error) {
	q, err := scanQueryLog(r.pool.QueryRow(ctx, `
		SELECT `+queryLogColumns+`
		FROM query_logs
		WHERE id = $1 AND workspace_id = $2 AND COALESCE(error_message, '') <> $3
		LIMIT 1`,
		queryID, workspaceID, chatMarker))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.QueryLog{}, apperr.NotFound("Query log not found")
	}
	if err != nil {
		return model.QueryLog{}, fmt.Errorf("repository.QueryLog.Get: %w", err)
	}
	return q, nil
}

// Stats aggregates query volume, latency, and failures since a cutoff.
func (r *QueryLogRepo) Stats(ctx context.Context, workspaceID uuid.UUID, since time.Time) (model.QueryStats, error) {
	var s model.QueryStats
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE error_message IS NOT NULL),
			COALESCE(AVG(total_latency_ms), 0),
			COALESCE(PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY total_latency_ms), 0),
			COALESCE(SUM(total_tokens_used), 0)
		FROM query_logs
		WHERE workspace_id = $1 AND created_at >= $2
			AND COALESCE(error_message, '') <> $3`,
		workspaceID, since, chatMarker).
		Scan(&s.TotalQueries, &s.FailedQueries, &s.AvgLatencyMS, &s.P95LatencyMS, &s.TotalTokens)
	if err != nil {
		return model.QueryStats{}, fmt.Errorf("repository.QueryLog.Stats: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT doc, COUNT(*) AS queries
		FROM query_logs, LATERAL unnest(documents_searched) AS doc
		WHERE workspace_id = $1 AND created_at >= $2
			AND COALESCE(error_message, '') <> $3
		GROUP BY doc
		ORDER BY queries DESC, doc
		LIMIT 5`,
		workspaceID, since, chatMarker)
	if err != nil {
		return model.QueryStats{}, fmt.Errorf("repository.QueryLog.Stats: top documents: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c model.DocumentQueryCount
		if err := rows.Scan(&c.DocumentID, &c.Queries); err != nil {
			return model.QueryStats{}, fmt.Errorf("repository.QueryLog.Stats: scan: %w", err)
		}
		s.TopDocuments = append(s.TopDocuments, c)
	}
	if err := rows.Err(); err != nil {
		return model.QueryStats{}, fmt.Errorf("repository.QueryLog.Stats: %w", err)
	}

	errRows, err := r.pool.Query(ctx, `
		SELECT id, error_message, created_at
		FROM query_logs
		WHERE workspace_id = $1 AND created_at >= $2
			AND error_message IS NOT NULL AND error_message <> $3
		ORDER BY created_at DESC
		LIMIT 5`,
		workspaceID, since, chatMarker)
	if err != nil {
		return model.QueryStats{}, fmt.Errorf("repository.QueryLog.Stats: recent errors: %w", err)
	}
	defer errRows.Close()
	for errRows.Next() {
		var e model.QueryError
		if err := errRows.Scan(&e.QueryID, &e.Message, &e.CreatedAt); err != nil {
			return model.QueryStats{}, fmt.Errorf("repository.QueryLog.Stats: scan: %w", err)
		}
		s.RecentErrors = append(s.RecentErrors, e)
	}
	if err := errRows.Err(); err != nil {
		return model.QueryStats{}, fmt.Errorf("repository.QueryLog.Stats: %w", err)
	}
	return s, nil
}
