package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/inkwell-backend/internal/apperr"
	"github.com/connexus-ai/inkwell-backend/internal/model"
	"github.com/connexus-ai/inkwell-backend/internal/service"
)

// ChatRepo implements service.ChatStore on the chat_sessions table.
// Messages are stored as a JSONB transcript.
type ChatRepo struct {
	pool *pgxpool.Pool
}

// NewChatRepo creates a ChatRepo.
func NewChatRepo(pool *pgxpool.Pool) *ChatRepo {
	return &ChatRepo{pool: pool}
}

var _ service.ChatStore = (*ChatRepo)(nil)

func marshalMessages(messages []model.ChatMessage) ([]byte, error) {
	if messages == nil {
		messages = []model.ChatMessage{}
	}
	return json.Marshal(messages)
}

// Create inserts a session and returns it with server timestamps.
func (r *ChatRepo) Create(ctx context.Context, session model.ChatSession) (model.ChatSession, error) {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	payload, err := marshalMessages(session.Messages)
	if err != nil {
		return model.ChatSession{}, fmt.Errorf("repository.Chat.Create: %w", err)
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO chat_sessions (id, workspace_id, document_id, title, messages, started_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING started_at, created_at, updated_at`,
		session.ID, session.WorkspaceID, session.DocumentID, session.Title, payload).
		Scan(&session.StartedAt, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return model.ChatSession{}, fmt.Errorf("repository.Chat.Create: %w", err)
	}
	return session, nil
}

func scanChatSession(row pgx.Row) (model.ChatSession, error) {
	var s model.ChatSession
	var payload []byte
	err := row.Scan(&s.ID, &s.WorkspaceID, &s.DocumentID, &s.Title, &payload,
		&s.StartedAt, &s.EndedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return model.ChatSession{}, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &s.Messages); err != nil {
			return model.ChatSession{}, fmt.Errorf("decode messages: %w", err)
		}
	}
	return s, nil
}

// Get fetches one session scoped to its workspace.
func (r *ChatRepo) Get(ctx context.Context, workspaceID, sessionID uuid.UUID) (model.ChatSession, error) {
	s, err := scanChatSession(r.pool.QueryRow(ctx, `
		SELECT id, workspace_id, document_id, title, messages,
			started_at, ended_at, created_at, updated_at
		FROM chat_sessions
		WHERE id = $1 AND workspace_id = $2
		LIMIT 1`,
		sessionID, workspaceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ChatSession{}, apperr.NotFound("Chat session not found")
	}
	if err != nil {
		return model.ChatSession{}, fmt.Errorf("repository.Chat.Get: %w", err)
	}
	return s, nil
}

// Update rewrites the session's title, transcript, and end marker.
func (r *ChatRepo) Update(ctx context.Context, session model.ChatSession) (model.ChatSession, error) {
	payload, err := marshalMessages(session.Messages)
	if err != nil {
		return model.ChatSession{}, fmt.Errorf("repository.Chat.Update: %w", err)
	}
	err = r.pool.QueryRow(ctx, `
		UPDATE chat_sessions
		SET title = $3,
			messages = $4,
			ended_at = $5,
			updated_at = now()
		WHERE id = $1 AND workspace_id = $2
		RETURNING started_at, ended_at, created_at, updated_at`,
		session.ID, session.WorkspaceID, session.Title, payload, session.EndedAt).
		Scan(&session.StartedAt, &session.EndedAt, &session.CreatedAt, &session.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ChatSession{}, apperr.NotFound("Chat session not found")
	}
	if err != nil {
		return model.ChatSession{}, fmt.Errorf("repository.Chat.Update: %w", err)
	}
	return session, nil
}

// List pages through the workspace's sessions by recency, optionally
// narrowed to one document.
func (r *ChatRepo) List(ctx context.Context, workspaceID uuid.UUID, documentID *uuid.UUID, limit, offset int) ([]model.ChatSession, int, error) {
	where := `workspace_id = $1`
	args := []any{workspaceID}
	if documentID != nil {
		where += ` AND document_id = $2`
		args = append(args, *documentID)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chat_sessions WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("repository.Chat.List: count: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, workspace_id, document_id, title, messages,
			started_at, ended_at, created_at, updated_at
		FROM chat_sessions
		WHERE %s
		ORDER BY updated_at DESC
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("repository.Chat.List: %w", err)
	}
	defer rows.Close()

	var sessions []model.ChatSession
	for rows.Next() {
		s, err := scanChatSession(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("repository.Chat.List: scan: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("repository.Chat.List: %w", err)
	}
	return sessions, total, nil
}
