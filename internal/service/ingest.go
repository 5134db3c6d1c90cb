package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/connexus-ai/inkwell-backend/internal/apperr"
	"github.com/connexus-ai/inkwell-backend/internal/budget"
	"github.com/connexus-ai/inkwell-backend/internal/chunker"
	"github.com/connexus-ai/inkwell-backend/internal/config"
	"github.com/connexus-ai/inkwell-backend/internal/model"
	"github.com/connexus-ai/inkwell-backend/internal/queue"
)

// IngestService runs the two ingestion stages: extract pulls page text
// out of the stored PDF, index chunks and embeds it. Each stage is an
// async job delivered by the worker.
type IngestService struct {
	docs      DocumentStore
	pages     PageStore
	chunks    ChunkStore
	ledger    TokenLedger
	embedder  Embedder
	blobs     BlobStore
	extractor PageExtractor
	jobs      JobQueue
	cache     EmbeddingCache
	cfg       config.Config
	logger    *slog.Logger
}

// NewIngestService wires the ingestion pipeline.
func NewIngestService(
	docs DocumentStore,
	pages PageStore,
	chunks ChunkStore,
	ledger TokenLedger,
	embedder Embedder,
	blobs BlobStore,
	extractor PageExtractor,
	jobs JobQueue,
	cache EmbeddingCache,
	cfg config.Config,
	logger *slog.Logger,
) *IngestService {
	return &IngestService{
		docs:      docs,
		pages:     pages,
		chunks:    chunks,
		ledger:    ledger,
		embedder:  embedder,
		blobs:     blobs,
		extractor: extractor,
		jobs:      jobs,
		cache:     cache,
		cfg:       cfg,
		logger:    logger,
	}
}

// fail marks the document failed and records why. The job is then done;
// recovery goes through retry or reindex, not redelivery.
func (s *IngestService) fail(ctx context.Context, workspaceID, documentID uuid.UUID, reason string) {
	if err := s.docs.SetFailed(ctx, workspaceID, documentID, reason); err != nil {
		s.logger.Error("failed to mark document failed", "document_id", documentID, "reason", reason, "error", err)
	}
}

// Extract downloads the uploaded PDF, runs OCR, and stores per-page
// text, then hands off to the index stage. A returned error means the
// job should be redelivered; terminal failures mark the document failed
// and return nil.
func (s *IngestService) Extract(ctx context.Context, job queue.Job) error {
	log := s.logger.With("stage", "extract", "workspace_id", job.WorkspaceID, "document_id", job.DocumentID)

	doc, err := s.docs.Get(ctx, job.WorkspaceID, job.DocumentID)
	if err != nil {
		if apperr.StatusOf(err) == 404 {
			log.Warn("document gone, dropping extract job")
			return nil
		}
		return fmt.Errorf("IngestService.Extract: load document: %w", err)
	}

	moved, err := s.docs.TransitionStatus(ctx, job.WorkspaceID, job.DocumentID,
		[]string{model.StatusUploaded}, model.StatusExtracting)
	if err != nil {
		return fmt.Errorf("IngestService.Extract: transition: %w", err)
	}
	if !moved {
		log.Warn("document not in uploaded state, dropping extract job", "status", doc.Status)
		return nil
	}

	started := time.Now()
	data, err := s.blobs.Download(ctx, doc.StoragePath)
	if err != nil {
		log.Error("download failed", "storage_path", doc.StoragePath, "error", err)
		s.fail(ctx, job.WorkspaceID, job.DocumentID, "Failed to download document from storage")
		return nil
	}

	pages, err := s.extractor.ExtractPages(ctx, data)
	if err != nil {
		log.Error("text extraction failed", "error", err)
		s.fail(ctx, job.WorkspaceID, job.DocumentID, "Text extraction failed")
		return nil
	}
	if len(pages) == 0 {
		s.fail(ctx, job.WorkspaceID, job.DocumentID, "No extractable text in document")
		return nil
	}

	rows := make([]model.DocumentPage, 0, len(pages))
	for _, p := range pages {
		rows = append(rows, model.DocumentPage{
			WorkspaceID: job.WorkspaceID,
			DocumentID:  job.DocumentID,
			PageNumber:  p.Number,
			Content:     p.Text,
		})
	}
	if err := s.pages.ReplacePages(ctx, job.WorkspaceID, job.DocumentID, rows); err != nil {
		return fmt.Errorf("IngestService.Extract: store pages: %w", err)
	}
	if err := s.docs.SetExtracted(ctx, job.WorkspaceID, job.DocumentID, len(pages)); err != nil {
		return fmt.Errorf("IngestService.Extract: mark extracted: %w", err)
	}

	if err := s.jobs.PublishIndex(ctx, job); err != nil {
		log.Error("failed to enqueue index job", "error", err)
		s.fail(ctx, job.WorkspaceID, job.DocumentID, "Failed to enqueue indexing")
		return nil
	}

	log.Info("extract stage complete", "pages", len(pages), "elapsed_ms", time.Since(started).Milliseconds())
	return nil
}

// chunkPages splits page text into chunks with a document-wide index.
func chunkPages(workspaceID, documentID uuid.UUID, pages []model.DocumentPage) []model.Chunk {
	var chunks []model.Chunk
	idx := 0
	for _, p := range pages {
		for _, piece := range chunker.SplitDefault(p.Content) {
			chunks = append(chunks, model.Chunk{
				ID:          uuid.New(),
				WorkspaceID: workspaceID,
				DocumentID:  documentID,
				PageStart:   p.PageNumber,
				PageEnd:     p.PageNumber,
				ChunkIndex:  idx,
				Content:     piece,
				ContentHash: chunker.ContentHash(piece),
				TokenCount:  int(budget.EstimateEmbeddingTokens(piece)),
			})
			idx++
		}
	}
	return chunks
}

// Index rebuilds the document's chunks and embeddings from its stored
// pages. Embedding cost is budgeted per chunk: reserve, embed, store,
// commit. A budget refusal fails the document rather than retrying.
func (s *IngestService) Index(ctx context.Context, job queue.Job) error {
	log := s.logger.With("stage", "index", "workspace_id", job.WorkspaceID, "document_id", job.DocumentID)

	doc, err := s.docs.Get(ctx, job.WorkspaceID, job.DocumentID)
	if err != nil {
		if apperr.StatusOf(err) == 404 {
			log.Warn("document gone, dropping index job")
			return nil
		}
		return fmt.Errorf("IngestService.Index: load document: %w", err)
	}
	if doc.Status != model.StatusIndexing {
		moved, err := s.docs.TransitionStatus(ctx, job.WorkspaceID, job.DocumentID,
			[]string{model.StatusUploaded, model.StatusExtracting}, model.StatusIndexing)
		if err != nil {
			return fmt.Errorf("IngestService.Index: transition: %w", err)
		}
		if !moved {
			log.Warn("document not indexable, dropping index job", "status", doc.Status)
			return nil
		}
	}

	started := time.Now()
	if err := s.chunks.WipeDocument(ctx, job.WorkspaceID, job.DocumentID); err != nil {
		return fmt.Errorf("IngestService.Index: wipe: %w", err)
	}

	pages, err := s.pages.ListPages(ctx, job.WorkspaceID, job.DocumentID)
	if err != nil {
		return fmt.Errorf("IngestService.Index: load pages: %w", err)
	}
	if len(pages) == 0 {
		s.fail(ctx, job.WorkspaceID, job.DocumentID, "No extracted pages to index")
		return nil
	}

	chunks := chunkPages(job.WorkspaceID, job.DocumentID, pages)
	if len(chunks) == 0 {
		s.fail(ctx, job.WorkspaceID, job.DocumentID, "No indexable content in document")
		return nil
	}
	if err := s.chunks.InsertChunks(ctx, chunks); err != nil {
		return fmt.Errorf("IngestService.Index: store chunks: %w", err)
	}

	embedded, err := s.embedChunks(ctx, job, chunks, log)
	if err != nil {
		return err
	}
	if !embedded {
		return nil
	}

	moved, err := s.docs.TransitionStatus(ctx, job.WorkspaceID, job.DocumentID,
		[]string{model.StatusIndexing}, model.StatusReady)
	if err != nil {
		return fmt.Errorf("IngestService.Index: finalize: %w", err)
	}
	if !moved {
		log.Warn("document left indexing state before finalize")
		return nil
	}

	s.cache.InvalidateWorkspace(job.WorkspaceID.String())
	log.Info("index stage complete", "chunks", len(chunks), "elapsed_ms", time.Since(started).Milliseconds())
	return nil
}

// embedChunks embeds every chunk under per-chunk reservations. Returns
// false when the document was marked failed; a non-nil error requests
// job redelivery with no reservation left behind.
func (s *IngestService) embedChunks(ctx context.Context, job queue.Job, chunks []model.Chunk, log *slog.Logger) (bool, error) {
	for i, c := range chunks {
		reserve := int64(c.TokenCount)
		if err := s.ledger.Reserve(ctx, job.WorkspaceID, reserve); err != nil {
			var be *apperr.BudgetExceededError
			if errors.As(err, &be) {
				log.Warn("token budget exhausted during indexing", "chunk_index", i, "remaining", be.Remaining())
				s.fail(ctx, job.WorkspaceID, job.DocumentID, "Insufficient token budget for embeddings")
				return false, nil
			}
			return false, fmt.Errorf("IngestService.Index: reserve chunk %d: %w", i, err)
		}

		callCtx, cancel := llmCallContext(ctx, s.cfg)
		res, err := s.embedder.Embed(callCtx, c.Content)
		cancel()
		if err != nil {
			s.releaseQuietly(job.WorkspaceID, reserve)
			log.Error("chunk embedding failed", "chunk_index", i, "error", err)
			s.fail(ctx, job.WorkspaceID, job.DocumentID, "Embedding generation failed")
			return false, nil
		}

		err = s.chunks.InsertEmbedding(ctx, model.ChunkEmbedding{
			ChunkID:        c.ID,
			WorkspaceID:    job.WorkspaceID,
			DocumentID:     job.DocumentID,
			Embedding:      res.Vector,
			EmbeddingModel: s.embedder.Model(),
		})
		if err != nil {
			s.releaseQuietly(job.WorkspaceID, reserve)
			return false, fmt.Errorf("IngestService.Index: store embedding %d: %w", i, err)
		}

		actual := int64(res.Tokens)
		if actual <= 0 {
			actual = reserve
		}
		committed, release := budget.Settle(reserve, actual)
		if err := s.ledger.Commit(ctx, job.WorkspaceID, committed); err != nil {
			return false, fmt.Errorf("IngestService.Index: commit chunk %d: %w", i, err)
		}
		if release > 0 {
			if err := s.ledger.Release(ctx, job.WorkspaceID, release); err != nil {
				return false, fmt.Errorf("IngestService.Index: release chunk %d: %w", i, err)
			}
		}
	}
	return true, nil
}

func (s *IngestService) releaseQuietly(workspaceID uuid.UUID, reserved int64) {
	if reserved <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.ledger.Release(ctx, workspaceID, reserved); err != nil {
		s.logger.Error("failed to release reserved tokens", "workspace_id", workspaceID, "tokens", reserved, "error", err)
	}
}
