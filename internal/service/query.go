package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/connexus-ai/inkwell-backend/internal/apperr"
	"github.com/connexus-ai/inkwell-backend/internal/budget"
	"github.com/connexus-ai/inkwell-backend/internal/config"
	"github.com/connexus-ai/inkwell-backend/internal/llm"
	"github.com/connexus-ai/inkwell-backend/internal/model"
	"github.com/connexus-ai/inkwell-backend/internal/retrieval"
)

// Citation points an answer claim at its source chunk.
type Citation struct {
	DocumentID uuid.UUID `json:"document_id"`
	PageNumber int       `json:"page_number"`
	ChunkID    uuid.UUID `json:"chunk_id"`
	Score      float64   `json:"score"`
	Snippet    string    `json:"snippet"`
}

// Usage is the budget view returned with every query.
type Usage struct {
	Limit     int64     `json:"limit"`
	Used      int64     `json:"used"`
	Reserved  int64     `json:"reserved"`
	Remaining int64     `json:"remaining"`
	ResetsAt  time.Time `json:"resets_at"`
}

func usageFromSnapshot(s budget.Snapshot) Usage {
	return Usage{
		Limit:     s.Limit,
		Used:      s.Used,
		Reserved:  s.Reserved,
		Remaining: s.Remaining(),
		ResetsAt:  s.ResetsAt,
	}
}

// QueryResult is a completed grounded answer.
type QueryResult struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
	Usage     Usage      `json:"usage"`
}

// QueryService runs the retrieval-augmented answer pipeline with token
// budget accounting.
type QueryService struct {
	docs     DocumentStore
	chunks   ChunkStore
	logs     QueryLogStore
	ledger   TokenLedger
	embedder Embedder
	cache    EmbeddingCache
	searcher Searcher
	answerer Answerer
	cfg      config.Config
	logger   *slog.Logger
}

// NewQueryService wires the query pipeline.
func NewQueryService(
	docs DocumentStore,
	chunks ChunkStore,
	logs QueryLogStore,
	ledger TokenLedger,
	embedder Embedder,
	cache EmbeddingCache,
	searcher Searcher,
	answerer Answerer,
	cfg config.Config,
	logger *slog.Logger,
) *QueryService {
	return &QueryService{
		docs:     docs,
		chunks:   chunks,
		logs:     logs,
		ledger:   ledger,
		embedder: embedder,
		cache:    cache,
		searcher: searcher,
		answerer: answerer,
		cfg:      cfg,
		logger:   logger,
	}
}

// llmCallContext bounds one LLM or embedding call to the configured
// per-call deadline.
func llmCallContext(ctx context.Context, cfg config.Config) (context.Context, context.CancelFunc) {
	if t := cfg.LLMTimeout(); t > 0 {
		return context.WithTimeout(ctx, t)
	}
	return ctx, func() {}
}

func (s *QueryService) validateQuestion(question string) error {
	if question == "" || utf8.RuneCountInString(question) > s.cfg.MaxQuestionChars {
		return apperr.Validation("question must be between 1 and %d characters", s.cfg.MaxQuestionChars)
	}
	return nil
}

// readyDocument resolves the target document and requires it to be ready.
func (s *QueryService) readyDocument(ctx context.Context, workspaceID, documentID uuid.UUID) error {
	doc, err := s.docs.Get(ctx, workspaceID, documentID)
	if err != nil {
		return err
	}
	if doc.Status != model.StatusReady {
		return apperr.Conflict("Document is not ready for querying")
	}
	return nil
}

// embedQuestion returns the question embedding, consulting the
// per-workspace cache first. Cache hits cost no tokens.
func (s *QueryService) embedQuestion(ctx context.Context, workspaceID uuid.UUID, question string) ([]float32, int, error) {
	if vec, ok := s.cache.Get(workspaceID.String(), s.embedder.Model(), question); ok {
		return vec, 0, nil
	}
	callCtx, cancel := llmCallContext(ctx, s.cfg)
	defer cancel()
	res, err := s.embedder.Embed(callCtx, question)
	if err != nil {
		return nil, 0, err
	}
	s.cache.Set(workspaceID.String(), s.embedder.Model(), question, res.Vector)
	return res.Vector, res.Tokens, nil
}

// settle converts a reservation into committed usage plus a release of
// the unused remainder.
func (s *QueryService) settle(ctx context.Context, workspaceID uuid.UUID, reserved, actual int64) (int64, error) {
	committed, release := budget.Settle(reserved, actual)
	if err := s.ledger.Commit(ctx, workspaceID, committed); err != nil {
		return 0, fmt.Errorf("settle commit: %w", err)
	}
	if release > 0 {
		if err := s.ledger.Release(ctx, workspaceID, release); err != nil {
			return 0, fmt.Errorf("settle release: %w", err)
		}
	}
	return committed, nil
}

func (s *QueryService) releaseQuietly(workspaceID uuid.UUID, reserved int64) {
	if reserved <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.ledger.Release(ctx, workspaceID, reserved); err != nil {
		s.logger.Error("failed to release reserved tokens", "workspace_id", workspaceID, "tokens", reserved, "error", err)
	}
}

type queryAudit struct {
	workspaceID         uuid.UUID
	userID              string
	documentID          uuid.UUID
	question            string
	chunks              []retrieval.RetrievedChunk
	answerText          *string
	errorMessage        *string
	retrievalLatencyMS  int
	llmLatencyMS        *int
	totalLatencyMS      int
	embeddingTokensUsed int
	llmInputTokens      *int
	llmOutputTokens     *int
	totalTokensUsed     int64
}

func (s *QueryService) logQuery(ctx context.Context, a queryAudit) {
	if !s.cfg.LogEachQuery {
		return
	}
	chunkIDs := make([]uuid.UUID, 0, len(a.chunks))
	scores := make([]float64, 0, len(a.chunks))
	for _, c := range a.chunks {
		chunkIDs = append(chunkIDs, c.ChunkID)
		scores = append(scores, c.Score)
	}
	entry := model.QueryLog{
		WorkspaceID:         a.workspaceID,
		UserID:              a.userID,
		QueryText:           a.question,
		DocumentsSearched:   []uuid.UUID{a.documentID},
		RetrievedChunkIDs:   chunkIDs,
		ChunkScores:         scores,
		AnswerText:          a.answerText,
		ErrorMessage:        a.errorMessage,
		RetrievalLatencyMS:  a.retrievalLatencyMS,
		LLMLatencyMS:        a.llmLatencyMS,
		TotalLatencyMS:      a.totalLatencyMS,
		EmbeddingTokensUsed: a.embeddingTokensUsed,
		LLMInputTokens:      a.llmInputTokens,
		LLMOutputTokens:     a.llmOutputTokens,
		TotalTokensUsed:     a.totalTokensUsed,
	}
	if err := s.logs.Insert(ctx, entry); err != nil {
		s.logger.Error("query audit insert failed", "workspace_id", a.workspaceID, "error", err)
	}
}

func citationsFor(chunks []retrieval.RetrievedChunk) []Citation {
	citations := make([]Citation, 0, len(chunks))
	for _, c := range chunks {
		citations = append(citations, Citation{
			DocumentID: c.DocumentID,
			PageNumber: c.PageNumber,
			ChunkID:    c.ChunkID,
			Score:      c.Score,
			Snippet:    c.Snippet(),
		})
	}
	return citations
}

// Query answers one question against a ready document. Token flow:
// reserve the estimate up front, commit min(actual, reserved) at the
// end, release the remainder. No path leaves a reservation behind.
func (s *QueryService) Query(ctx context.Context, workspaceID uuid.UUID, user model.AuthenticatedUser, documentID uuid.UUID, question string) (QueryResult, error) {
	if err := s.validateQuestion(question); err != nil {
		return QueryResult{}, err
	}
	if err := s.readyDocument(ctx, workspaceID, documentID); err != nil {
		return QueryResult{}, err
	}

	requestStarted := time.Now()
	var reserved int64

	retrievalStarted := time.Now()
	vec, embedTokens, err := s.embedQuestion(ctx, workspaceID, question)
	if err != nil {
		return QueryResult{}, apperr.Upstream("Query failed", fmt.Errorf("QueryService.Query: embed: %w", err))
	}
	chunks, err := s.searcher.TopK(ctx, workspaceID, documentID, vec, s.cfg.TopK)
	if err != nil {
		return QueryResult{}, apperr.Internal("Query failed", fmt.Errorf("QueryService.Query: retrieve: %w", err))
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
			return QueryResult{}, be.HTTP()
		}
		return QueryResult{}, apperr.Internal("Query failed", fmt.Errorf("QueryService.Query: reserve: %w", err))
	}
	reserved = estimated

	if len(chunks) == 0 {
		committed, err := s.settle(ctx, workspaceID, reserved, int64(embedTokens))
		if err != nil {
			s.releaseQuietly(workspaceID, reserved)
			return QueryResult{}, apperr.Internal("Query failed", fmt.Errorf("QueryService.Query: %w", err))
		}
		reserved = 0
		snap, err := s.ledger.Status(ctx, workspaceID)
		if err != nil {
			return QueryResult{}, apperr.Internal("Query failed", fmt.Errorf("QueryService.Query: usage: %w", err))
		}
		answer := llm.InsufficientContextMessage
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
		return QueryResult{Answer: answer, Citations: []Citation{}, Usage: usageFromSnapshot(snap)}, nil
	}

	llmStarted := time.Now()
	llmCtx, cancel := llmCallContext(ctx, s.cfg)
	result, err := s.answerer.Answer(llmCtx, question, chunks)
	cancel()
	if err != nil {
		s.releaseQuietly(workspaceID, reserved)
		msg := err.Error()
		s.logQuery(ctx, queryAudit{
			workspaceID:    workspaceID,
			userID:         user.UserID,
			documentID:     documentID,
			question:       question,
			errorMessage:   &msg,
			totalLatencyMS: int(time.Since(requestStarted).Milliseconds()),
		})
		return QueryResult{}, apperr.Upstream("Query failed", fmt.Errorf("QueryService.Query: llm: %w", err))
	}
	llmLatency := int(time.Since(llmStarted).Milliseconds())

	answer := result.Answer
	if answer == "" {
		answer = llm.InsufficientContextMessage
	}

	actual := int64(embedTokens) + int64(result.TotalTokens)
	committed, err := s.settle(ctx, workspaceID, reserved, actual)
	if err != nil {
		s.releaseQuietly(workspaceID, reserved)
		return QueryResult{}, apperr.Internal("Query failed", fmt.Errorf("QueryService.Query: %w", err))
	}
	reserved = 0

	snap, err := s.ledger.Status(ctx, workspaceID)
	if err != nil {
		return QueryResult{}, apperr.Internal("Query failed", fmt.Errorf("QueryService.Query: usage: %w", err))
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

	return QueryResult{
		Answer:    answer,
		Citations: citationsFor(chunks),
		Usage:     usageFromSnapshot(snap),
	}, nil
}
