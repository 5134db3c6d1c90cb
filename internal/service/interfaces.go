// Package service implements the query pipeline, the ingestion stages,
// and the document lifecycle on top of storage and model backends.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/connexus-ai/inkwell-backend/internal/budget"
	"github.com/connexus-ai/inkwell-backend/internal/embedding"
	"github.com/connexus-ai/inkwell-backend/internal/llm"
	"github.com/connexus-ai/inkwell-backend/internal/model"
	"github.com/connexus-ai/inkwell-backend/internal/pdf"
	"github.com/connexus-ai/inkwell-backend/internal/queue"
	"github.com/connexus-ai/inkwell-backend/internal/retrieval"
)

// WorkspaceStore persists workspaces, one per owner.
type WorkspaceStore interface {
	Create(ctx context.Context, name string, ownerID string) (model.Workspace, error)
	GetByOwner(ctx context.Context, ownerID string) (model.Workspace, error)
	DocumentStatusCounts(ctx context.Context, workspaceID uuid.UUID) (map[string]int, error)
}

// DocumentStore persists document rows and their status transitions.
type DocumentStore interface {
	Insert(ctx context.Context, doc model.Document) error
	Get(ctx context.Context, workspaceID, documentID uuid.UUID) (model.Document, error)
	FindByIdempotencyKey(ctx context.Context, workspaceID uuid.UUID, key string) (model.Document, bool, error)
	List(ctx context.Context, workspaceID uuid.UUID, status string, limit, offset int) ([]model.Document, int, error)
	Count(ctx context.Context, workspaceID uuid.UUID) (int, error)
	// TransitionStatus moves the document to a new status only when its
	// current status is in from; reports whether a row changed.
	TransitionStatus(ctx context.Context, workspaceID, documentID uuid.UUID, from []string, to string) (bool, error)
	SetFailed(ctx context.Context, workspaceID, documentID uuid.UUID, errorMessage string) error
	SetExtracted(ctx context.Context, workspaceID, documentID uuid.UUID, pageCount int) error
	Delete(ctx context.Context, workspaceID, documentID uuid.UUID) (storagePath string, found bool, err error)
	Progress(ctx context.Context, workspaceID, documentID uuid.UUID) (model.DocumentProgress, error)
}

// PageStore persists extracted page text.
type PageStore interface {
	ReplacePages(ctx context.Context, workspaceID, documentID uuid.UUID, pages []model.DocumentPage) error
	GetPage(ctx context.Context, workspaceID, documentID uuid.UUID, pageNumber int) (string, bool, error)
	ListPages(ctx context.Context, workspaceID, documentID uuid.UUID) ([]model.DocumentPage, error)
	CountPages(ctx context.Context, workspaceID, documentID uuid.UUID) (int, error)
}

// ChunkStore persists chunks and their embeddings.
type ChunkStore interface {
	WipeDocument(ctx context.Context, workspaceID, documentID uuid.UUID) error
	InsertChunks(ctx context.Context, chunks []model.Chunk) error
	InsertEmbedding(ctx context.Context, emb model.ChunkEmbedding) error
	Get(ctx context.Context, workspaceID, chunkID uuid.UUID) (model.Chunk, error)
	PagesByChunkIDs(ctx context.Context, workspaceID uuid.UUID, chunkIDs []uuid.UUID) (map[uuid.UUID]int, error)
}

// QueryLogStore persists the append-only query audit trail.
type QueryLogStore interface {
	Insert(ctx context.Context, entry model.QueryLog) error
	List(ctx context.Context, workspaceID uuid.UUID, documentID *uuid.UUID, limit, offset int) ([]model.QueryLog, int, error)
	Get(ctx context.Context, workspaceID, queryID uuid.UUID) (model.QueryLog, error)
	Stats(ctx context.Context, workspaceID uuid.UUID, since time.Time) (model.QueryStats, error)
}

// ChatStore persists chat session transcripts.
type ChatStore interface {
	Create(ctx context.Context, session model.ChatSession) (model.ChatSession, error)
	Get(ctx context.Context, workspaceID, sessionID uuid.UUID) (model.ChatSession, error)
	Update(ctx context.Context, session model.ChatSession) (model.ChatSession, error)
	List(ctx context.Context, workspaceID uuid.UUID, documentID *uuid.UUID, limit, offset int) ([]model.ChatSession, int, error)
}

// TokenLedger enforces the per-workspace daily token budget.
type TokenLedger interface {
	Reserve(ctx context.Context, workspaceID uuid.UUID, tokens int64) error
	Commit(ctx context.Context, workspaceID uuid.UUID, tokens int64) error
	Release(ctx context.Context, workspaceID uuid.UUID, tokens int64) error
	Status(ctx context.Context, workspaceID uuid.UUID) (budget.Snapshot, error)
}

// Embedder produces query and chunk embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) (embedding.Result, error)
	Model() string
}

// Searcher runs vector similarity over a document's chunks.
type Searcher interface {
	TopK(ctx context.Context, workspaceID, documentID uuid.UUID, queryEmbedding []float32, topK int) ([]retrieval.RetrievedChunk, error)
}

// Answerer generates grounded answers.
type Answerer interface {
	Answer(ctx context.Context, question string, chunks []retrieval.RetrievedChunk) (llm.Result, error)
	StreamAnswer(ctx context.Context, question string, chunks []retrieval.RetrievedChunk, onDelta func(text string) error) (llm.Result, error)
}

// EmbeddingCache memoizes query embeddings per workspace and model.
type EmbeddingCache interface {
	Get(workspaceID, model, text string) ([]float32, bool)
	Set(workspaceID, model, text string, vector []float32)
	InvalidateWorkspace(workspaceID string)
}

// BlobStore holds uploaded document files.
type BlobStore interface {
	Bucket() string
	SignedUploadURL(objectPath, contentType string, expires time.Duration) (string, error)
	ObjectExists(ctx context.Context, objectPath string) (bool, error)
	Download(ctx context.Context, objectPath string) ([]byte, error)
	Delete(ctx context.Context, objectPath string) (bool, error)
}

// JobQueue hands ingestion work to the worker.
type JobQueue interface {
	PublishExtract(ctx context.Context, job queue.Job) error
	PublishIndex(ctx context.Context, job queue.Job) error
}

// PageExtractor turns PDF bytes into per-page text.
type PageExtractor interface {
	ExtractPages(ctx context.Context, data []byte) ([]pdf.Page, error)
}
