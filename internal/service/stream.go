package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/connexus-ai/inkwell-backend/internal/apperr"
	"github.com/connexus-ai/inkwell-backend/internal/budget"
	"github.com/connexus-ai/inkwell-backend/internal/llm"
	"github.com/connexus-ai/inkwell-backend/internal/model"
)

// Stream event names, emitted in this order on success:
// meta, delta (repeated), citations, usage, done.
const (
	EventMeta      = "meta"
	EventDelta     = "delta"
	EventCitations = "citations"
	EventUsage     = "usage"
	EventDone      = "done"
	EventError     = "error"
)

// EmitFunc delivers one stream event to the client. A non-nil return
// means the client is gone and the stream must stop.
type EmitFunc func(event string, payload any) error

type streamErrorPayload struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// emitError sends a terminal error event. Emit failures are swallowed;
// the client already disconnected.
func emitError(emit EmitFunc, code, message string, details map[string]any) {
	_ = emit(EventError, streamErrorPayload{Code: code, Message: message, Details: details})
}

func streamCode(err error) string {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case apperr.CodeValidation:
			return "INVALID_QUESTION"
		case apperr.CodeNotFound:
			return "DOCUMENT_NOT_FOUND"
		case apperr.CodeConflict:
			return "DOCUMENT_NOT_READY"
		}
		return fmt.Sprintf("HTTP_%d", apperr.StatusOf(err))
	}
	return "QUERY_FAILED"
}

// StreamQuery runs the same pipeline as Query but delivers the answer
// incrementally over emit. All failures after the stream opens become a
// terminal error event rather than a returned error; the returned error
// is non-nil only when the client disconnects.
func (s *QueryService) StreamQuery(ctx context.Context, workspaceID uuid.UUID, user model.AuthenticatedUser, documentID uuid.UUID, question string, emit EmitFunc) error {
	if err := s.validateQuestion(question); err != nil {
		emitError(emit, "INVALID_QUESTION", err.Error(), nil)
		return nil
	}
	if err := s.readyDocument(ctx, workspaceID, documentID); err != nil {
		emitError(emit, streamCode(err), apperr.MessageOf(err), nil)
		return nil
	}

	requestID := uuid.New()
	if err := emit(EventMeta, map[string]any{
		"request_id":  requestID,
		"document_id": documentID,
		"top_k":       s.cfg.TopK,
	}); err != nil {
		return err
	}

	requestStarted := time.Now()
	var reserved int64
	defer func() {
		// Any exit with an outstanding reservation releases it.
		s.releaseQuietly(workspaceID, reserved)
	}()

	retrievalStarted := time.Now()
	vec, embedTokens, err := s.embedQuestion(ctx, workspaceID, question)
	if err != nil {
		s.logger.Error("stream embed failed", "request_id", requestID, "error", err)
		emitError(emit, "QUERY_FAILED", "Query failed", nil)
		return nil
	}
	chunks, err := s.searcher.TopK(ctx, workspaceID, documentID, vec, s.cfg.TopK)
	if err != nil {
		s.logger.Error("stream retrieval failed", "request_id", requestID, "error", err)
		emitError(emit, "QUERY_FAILED", "Query failed", nil)
		return nil
	}
	retrievalLatency := int(time.Since(retrievalStarted).Milliseconds())

	chunkTokens := make([]int, 0, len(chunks))
	for _, c := range chunks {
		chunkTokens = append(chunkTokens, c.TokenCount)
	}
	estimated := budget.EstimateQueryTotal(question, chunkTokens, s.cfg.LLMMaxOutputTokens)
	if err := s.ledger.Reserve(ctx, workspaceID, estimated); err != nil {
		var be *apperr.BudgetExceededError
		if errors.As(err, &be) {
			httpErr := be.HTTP()
			emitError(emit, httpErr.Code, httpErr.Message, httpErr.Details)
			return nil
		}
		s.logger.Error("stream reserve failed", "request_id", requestID, "error", err)
		emitError(emit, "QUERY_FAILED", "Query failed", nil)
		return nil
	}
	reserved = estimated

	if len(chunks) == 0 {
		answer := llm.InsufficientContextMessage
		if err := emit(EventDelta, map[string]any{"text": answer}); err != nil {
			return err
		}
		committed, err := s.settle(ctx, workspaceID, reserved, int64(embedTokens))
		if err != nil {
			s.logger.Error("stream settle failed", "request_id", requestID, "error", err)
			emitError(emit, "QUERY_FAILED", "Query failed", nil)
			return nil
		}
		reserved = 0
		if err := emit(EventCitations, map[string]any{"citations": []Citation{}}); err != nil {
			return err
		}
		if err := s.emitUsage(ctx, workspaceID, emit); err != nil {
			return err
		}
		s.logQuery(ctx, queryAudit{
			workspaceID:         workspaceID,
			userID:              user.UserID,
			documentID:          documentID,
			question:            question,
			answerText:          &answer,
			retrievalLatencyMS:  retrievalLatency,
			totalLatencyMS:      int(time.Since(requestStarted).Milliseconds()),
			embeddingTokensUsed: embedTokens,
			totalTokensUsed:     committed,
		})
		return emit(EventDone, map[string]any{"ok": true})
	}

	var clientGone error
	llmStarted := time.Now()
	llmCtx, cancel := llmCallContext(ctx, s.cfg)
	result, err := s.answerer.StreamAnswer(llmCtx, question, chunks, func(text string) error {
		if err := emit(EventDelta, map[string]any{"text": text}); err != nil {
			clientGone = err
			return err
		}
		return nil
	})
	cancel()
	if clientGone != nil {
		return clientGone
	}
	if err != nil {
		s.logger.Error("stream llm failed", "request_id", requestID, "error", err)
		msg := err.Error()
		s.logQuery(ctx, queryAudit{
			workspaceID:    workspaceID,
			userID:         user.UserID,
			documentID:     documentID,
			question:       question,
			errorMessage:   &msg,
			totalLatencyMS: int(time.Since(requestStarted).Milliseconds()),
		})
		emitError(emit, "QUERY_FAILED", "Query failed", nil)
		return nil
	}
	llmLatency := int(time.Since(llmStarted).Milliseconds())

	answer := result.Answer
	if answer == "" {
		answer = llm.InsufficientContextMessage
		if err := emit(EventDelta, map[string]any{"text": answer}); err != nil {
			return err
		}
	}

	actual := int64(embedTokens) + int64(result.TotalTokens)
	committed, err := s.settle(ctx, workspaceID, reserved, actual)
	if err != nil {
		s.logger.Error("stream settle failed", "request_id", requestID, "error", err)
		emitError(emit, "QUERY_FAILED", "Query failed", nil)
		return nil
	}
	reserved = 0

	if err := emit(EventCitations, map[string]any{"citations": citationsFor(chunks)}); err != nil {
		return err
	}
	if err := s.emitUsage(ctx, workspaceID, emit); err != nil {
		return err
	}

	s.logQuery(ctx, queryAudit{
		workspaceID:         workspaceID,
		userID:              user.UserID,
		documentID:          documentID,
		question:            question,
		chunks:              chunks,
		answerText:          &answer,
		retrievalLatencyMS:  retrievalLatency,
		llmLatencyMS:        &llmLatency,
		totalLatencyMS:      int(time.Since(requestStarted).Milliseconds()),
		embeddingTokensUsed: embedTokens,
		llmInputTokens:      &result.InputTokens,
		llmOutputTokens:     &result.OutputTokens,
		totalTokensUsed:     committed,
	})

	return emit(EventDone, map[string]any{"ok": true})
}

func (s *QueryService) emitUsage(ctx context.Context, workspaceID uuid.UUID, emit EmitFunc) error {
	snap, err := s.ledger.Status(ctx, workspaceID)
	if err != nil {
		s.logger.Error("stream usage lookup failed", "workspace_id", workspaceID, "error", err)
		emitError(emit, "QUERY_FAILED", "Query failed", nil)
		return nil
	}
	return emit(EventUsage, map[string]any{"usage": usageFromSnapshot(snap)})
}
