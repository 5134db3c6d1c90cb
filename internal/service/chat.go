package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/connexus-ai/inkwell-backend/internal/model"
)

const (
	chatTitleMaxChars    = 200
	chatTitleFromMessage = 120
	defaultChatTitle     = "Untitled chat"
)

// ChatCreateRequest opens a session, optionally bound to a document.
type ChatCreateRequest struct {
	DocumentID *uuid.UUID          `json:"document_id,omitempty"`
	Title      string              `json:"title"`
	Messages   []model.ChatMessage `json:"messages"`
}

// ChatUpdateRequest patches a session. Nil fields are left untouched.
type ChatUpdateRequest struct {
	Title    *string             `json:"title,omitempty"`
	Messages []model.ChatMessage `json:"messages,omitempty"`
	Ended    *bool               `json:"ended,omitempty"`
}

// ChatService manages chat session transcripts.
type ChatService struct {
	chats  ChatStore
	docs   DocumentStore
	logger *slog.Logger
}

// NewChatService wires chat session management.
func NewChatService(chats ChatStore, docs DocumentStore, logger *slog.Logger) *ChatService {
	return &ChatService{chats: chats, docs: docs, logger: logger}
}

// chatTitle derives a display title: an explicit title wins, then the
// first user message, then a fixed fallback.
func chatTitle(title string, messages []model.ChatMessage) string {
	if t := strings.TrimSpace(title); t != "" {
		return trimText(t, chatTitleMaxChars)
	}
	for _, m := range messages {
		if m.Role == "user" {
			if c := strings.TrimSpace(m.Content); c != "" {
				return trimText(c, chatTitleFromMessage)
			}
		}
	}
	return defaultChatTitle
}

// CreateSession opens a new chat session.
func (s *ChatService) CreateSession(ctx context.Context, workspaceID uuid.UUID, req ChatCreateRequest) (model.ChatSession, error) {
	if req.DocumentID != nil {
		if _, err := s.docs.Get(ctx, workspaceID, *req.DocumentID); err != nil {
			return model.ChatSession{}, err
		}
	}
	session := model.ChatSession{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		DocumentID:  req.DocumentID,
		Title:       chatTitle(req.Title, req.Messages),
		Messages:    req.Messages,
	}
	return s.chats.Create(ctx, session)
}

// GetSession fetches one session.
func (s *ChatService) GetSession(ctx context.Context, workspaceID, sessionID uuid.UUID) (model.ChatSession, error) {
	return s.chats.Get(ctx, workspaceID, sessionID)
}

// UpdateSession patches the session's title, transcript, or end marker.
func (s *ChatService) UpdateSession(ctx context.Context, workspaceID, sessionID uuid.UUID, req ChatUpdateRequest) (model.ChatSession, error) {
	session, err := s.chats.Get(ctx, workspaceID, sessionID)
	if err != nil {
		return model.ChatSession{}, err
	}
	if req.Messages != nil {
		session.Messages = req.Messages
	}
	if req.Title != nil {
		session.Title = chatTitle(*req.Title, session.Messages)
	} else if session.Title == "" || session.Title == defaultChatTitle {
		session.Title = chatTitle("", session.Messages)
	}
	if req.Ended != nil {
		if *req.Ended {
			now := time.Now().UTC()
			session.EndedAt = &now
		} else {
			session.EndedAt = nil
		}
	}
	return s.chats.Update(ctx, session)
}

// ListSessions pages through the workspace's sessions.
func (s *ChatService) ListSessions(ctx context.Context, workspaceID uuid.UUID, documentID *uuid.UUID, limit, offset int) ([]model.ChatSession, int, error) {
	return s.chats.List(ctx, workspaceID, documentID, limit, offset)
}
