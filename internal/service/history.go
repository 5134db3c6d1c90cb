package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/connexus-ai/inkwell-backend/internal/apperr"
	"github.com/connexus-ai/inkwell-backend/internal/model"
)

// trimText caps s at max characters, appending an ellipsis when content
// was dropped. Characters are runes, so the cut never lands inside a
// multi-byte sequence.
func trimText(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return strings.TrimRightFunc(string(runes[:max-3]), unicode.IsSpace) + "..."
}

// QuerySummary is one history list entry.
type QuerySummary struct {
	ID              uuid.UUID `json:"id"`
	QueryText       string    `json:"query_text"`
	AnswerPreview   string    `json:"answer_preview"`
	Failed          bool      `json:"failed"`
	TotalLatencyMS  int       `json:"total_latency_ms"`
	TotalTokensUsed int64     `json:"total_tokens_used"`
	CreatedAt       time.Time `json:"created_at"`
}

// QueryCitation is a citation reconstructed from an audit row.
type QueryCitation struct {
	ChunkID    uuid.UUID `json:"chunk_id"`
	PageNumber int       `json:"page_number"`
	Score      float64   `json:"score"`
}

// QueryDetail is one history entry in full.
type QueryDetail struct {
	model.QueryLog
	Citations []QueryCitation `json:"citations"`
}

// CitationSource is the chunk behind a citation with its page context.
type CitationSource struct {
	ChunkID    uuid.UUID `json:"chunk_id"`
	DocumentID uuid.UUID `json:"document_id"`
	PageNumber int       `json:"page_number"`
	ChunkText  string    `json:"chunk_text"`
	PageText   string    `json:"page_text"`
	Truncated  bool      `json:"truncated"`
}

const (
	answerPreviewChars      = 200
	defaultCitationMaxChars = 5000
	maxCitationMaxChars     = 20000
	observabilityWindowDays = 7
)

// HistoryService reads the query audit trail and resolves citations
// back to their sources.
type HistoryService struct {
	logs   QueryLogStore
	chunks ChunkStore
	pages  PageStore
	logger *slog.Logger
}

// NewHistoryService wires history reads.
func NewHistoryService(logs QueryLogStore, chunks ChunkStore, pages PageStore, logger *slog.Logger) *HistoryService {
	return &HistoryService{logs: logs, chunks: chunks, pages: pages, logger: logger}
}

func summarize(q model.QueryLog) QuerySummary {
	preview := ""
	failed := false
	switch {
	case q.AnswerText != nil:
		preview = trimText(*q.AnswerText, answerPreviewChars)
	case q.ErrorMessage != nil:
		preview = trimText(*q.ErrorMessage, answerPreviewChars)
		failed = true
	}
	return QuerySummary{
		ID:              q.ID,
		QueryText:       q.QueryText,
		AnswerPreview:   preview,
		Failed:          failed,
		TotalLatencyMS:  q.TotalLatencyMS,
		TotalTokensUsed: q.TotalTokensUsed,
		CreatedAt:       q.CreatedAt,
	}
}

// ListQueries pages through the workspace's query history.
func (s *HistoryService) ListQueries(ctx context.Context, workspaceID uuid.UUID, documentID *uuid.UUID, limit, offset int) ([]QuerySummary, int, error) {
	logs, total, err := s.logs.List(ctx, workspaceID, documentID, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal("Failed to load query history", fmt.Errorf("HistoryService.ListQueries: %w", err))
	}
	summaries := make([]QuerySummary, 0, len(logs))
	for _, q := range logs {
		summaries = append(summaries, summarize(q))
	}
	return summaries, total, nil
}

// GetQuery returns one history entry with its citations rebuilt in
// retrieval order.
func (s *HistoryService) GetQuery(ctx context.Context, workspaceID, queryID uuid.UUID) (QueryDetail, error) {
	q, err := s.logs.Get(ctx, workspaceID, queryID)
	if err != nil {
		return QueryDetail{}, err
	}

	detail := QueryDetail{QueryLog: q, Citations: []QueryCitation{}}
	if len(q.RetrievedChunkIDs) == 0 {
		return detail, nil
	}

	pages, err := s.chunks.PagesByChunkIDs(ctx, workspaceID, q.RetrievedChunkIDs)
	if err != nil {
		return QueryDetail{}, apperr.Internal("Failed to load citations", fmt.Errorf("HistoryService.GetQuery: %w", err))
	}
	for i, chunkID := range q.RetrievedChunkIDs {
		page, ok := pages[chunkID]
		if !ok {
			// The chunk was wiped by a later reindex; the citation is gone.
			continue
		}
		score := 0.0
		if i < len(q.ChunkScores) {
			score = q.ChunkScores[i]
		}
		detail.Citations = append(detail.Citations, QueryCitation{
			ChunkID:    chunkID,
			PageNumber: page,
			Score:      score,
		})
	}
	return detail, nil
}

// Observability aggregates the workspace's query activity over the last
// seven days: volume, failure count, latency, and top documents.
func (s *HistoryService) Observability(ctx context.Context, workspaceID uuid.UUID) (model.QueryStats, error) {
	since := time.Now().UTC().AddDate(0, 0, -observabilityWindowDays)
	stats, err := s.logs.Stats(ctx, workspaceID, since)
	if err != nil {
		return model.QueryStats{}, apperr.Internal("Failed to load query statistics", fmt.Errorf("HistoryService.Observability: %w", err))
	}
	stats.WindowDays = observabilityWindowDays
	if stats.TopDocuments == nil {
		stats.TopDocuments = []model.DocumentQueryCount{}
	}
	if stats.RecentErrors == nil {
		stats.RecentErrors = []model.QueryError{}
	}
	return stats, nil
}

// GetCitationSource resolves a cited chunk and its surrounding page
// text, capped at maxChars characters of page text.
func (s *HistoryService) GetCitationSource(ctx context.Context, workspaceID, chunkID uuid.UUID, maxChars int) (CitationSource, error) {
	if maxChars == 0 {
		maxChars = defaultCitationMaxChars
	}
	if maxChars < 1 || maxChars > maxCitationMaxChars {
		return CitationSource{}, apperr.Validation("max_chars must be between 1 and %d", maxCitationMaxChars)
	}

	chunk, err := s.chunks.Get(ctx, workspaceID, chunkID)
	if err != nil {
		return CitationSource{}, err
	}

	pageText, found, err := s.pages.GetPage(ctx, workspaceID, chunk.DocumentID, chunk.PageStart)
	if err != nil {
		return CitationSource{}, apperr.Internal("Failed to load citation source", fmt.Errorf("HistoryService.GetCitationSource: %w", err))
	}
	if !found {
		pageText = chunk.Content
	}

	truncated := utf8.RuneCountInString(pageText) > maxChars
	return CitationSource{
		ChunkID:    chunk.ID,
		DocumentID: chunk.DocumentID,
		PageNumber: chunk.PageStart,
		ChunkText:  chunk.Content,
		PageText:   trimText(pageText, maxChars),
		Truncated:  truncated,
	}, nil
}
