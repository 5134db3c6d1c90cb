// Package model defines the persistent entities and the document status
// state machine shared by the API and the ingestion workers.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Document statuses. A document moves through the ingestion state machine
// from pending_upload to ready; failed is recoverable via retry/reindex.
const (
	StatusPendingUpload = "pending_upload"
	StatusUploading     = "uploading"
	StatusUploaded      = "uploaded"
	StatusExtracting    = "extracting"
	StatusIndexing      = "indexing"
	StatusReady         = "ready"
	StatusFailed        = "failed"
)

// AllStatuses is the accepted set for list filters.
var AllStatuses = map[string]bool{
	StatusPendingUpload: true,
	StatusUploading:     true,
	StatusUploaded:      true,
	StatusExtracting:    true,
	StatusIndexing:      true,
	StatusReady:         true,
	StatusFailed:        true,
}

// statusTransitions encodes the legal state machine edges. Delete is legal
// from any state and is not represented here.
var statusTransitions = map[string]map[string]bool{
	StatusPendingUpload: {StatusPendingUpload: true, StatusUploading: true, StatusUploaded: true},
	StatusUploading:     {StatusUploaded: true, StatusFailed: true},
	StatusUploaded:      {StatusExtracting: true, StatusIndexing: true, StatusFailed: true},
	StatusExtracting:    {StatusIndexing: true, StatusFailed: true},
	StatusIndexing:      {StatusReady: true, StatusFailed: true},
	StatusReady:         {StatusIndexing: true, StatusUploaded: true, StatusFailed: true},
	StatusFailed:        {StatusUploaded: true, StatusIndexing: true},
}

// CanTransition reports whether a document may move from one status to
// another. Self-transitions other than pending_upload are rejected.
func CanTransition(from, to string) bool {
	allowed, ok := statusTransitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// AuthenticatedUser is the identity resolved from a Bearer token.
type AuthenticatedUser struct {
	UserID string
	Email  string
}

// Workspace is the tenant isolation boundary; one per owning user.
// OwnerID is the Firebase UID of the owning user.
type Workspace struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Document is an uploaded PDF and its ingestion state.
type Document struct {
	ID             uuid.UUID `json:"id"`
	WorkspaceID    uuid.UUID `json:"workspace_id"`
	Filename       string    `json:"filename"`
	ContentType    string    `json:"content_type"`
	FileSizeBytes  int64     `json:"file_size_bytes"`
	PageCount      *int      `json:"page_count,omitempty"`
	StorageBucket  string    `json:"storage_bucket"`
	StoragePath    string    `json:"storage_path"`
	Status         string    `json:"status"`
	ErrorMessage   *string   `json:"error_message,omitempty"`
	IdempotencyKey *string   `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DocumentProgress summarizes how far ingestion has carried a document.
type DocumentProgress struct {
	PagesTotal     int `json:"pages_total"`
	PagesExtracted int `json:"pages_extracted"`
	Chunks         int `json:"chunks"`
	Embeddings     int `json:"embeddings"`
}

// DocumentPage is one page of extracted text; replaced on extract reruns.
type DocumentPage struct {
	WorkspaceID uuid.UUID
	DocumentID  uuid.UUID
	PageNumber  int
	Content     string
}

// Chunk is a token-bounded slice of page text, the unit of embedding
// and citation.
type Chunk struct {
	ID          uuid.UUID
	WorkspaceID uuid.UUID
	DocumentID  uuid.UUID
	PageStart   int
	PageEnd     int
	ChunkIndex  int
	Content     string
	ContentHash string
	TokenCount  int
}

// ChunkEmbedding is the stored vector for a chunk, at most one per chunk.
type ChunkEmbedding struct {
	ChunkID        uuid.UUID
	WorkspaceID    uuid.UUID
	DocumentID     uuid.UUID
	Embedding      []float32
	EmbeddingModel string
}

// WorkspaceDailyUsage is the per-(workspace, UTC day) budget ledger row.
type WorkspaceDailyUsage struct {
	WorkspaceID    uuid.UUID
	UsageDate      time.Time
	TokensUsed     int64
	TokensReserved int64
	UpdatedAt      time.Time
}

// QueryLog is the append-only audit row written per query.
type QueryLog struct {
	ID                  uuid.UUID   `json:"id"`
	WorkspaceID         uuid.UUID   `json:"workspace_id"`
	UserID              string      `json:"user_id"`
	QueryText           string      `json:"query_text"`
	DocumentsSearched   []uuid.UUID `json:"documents_searched"`
	RetrievedChunkIDs   []uuid.UUID `json:"retrieved_chunk_ids"`
	ChunkScores         []float64   `json:"chunk_scores"`
	AnswerText          *string     `json:"answer_text,omitempty"`
	ErrorMessage        *string     `json:"error_message,omitempty"`
	RetrievalLatencyMS  int         `json:"retrieval_latency_ms"`
	LLMLatencyMS        *int        `json:"llm_latency_ms,omitempty"`
	TotalLatencyMS      int         `json:"total_latency_ms"`
	EmbeddingTokensUsed int         `json:"embedding_tokens_used"`
	LLMInputTokens      *int        `json:"llm_input_tokens,omitempty"`
	LLMOutputTokens     *int        `json:"llm_output_tokens,omitempty"`
	TotalTokensUsed     int64       `json:"total_tokens_used"`
	CreatedAt           time.Time   `json:"created_at"`
}

// DocumentQueryCount ranks a document by how often it was queried.
type DocumentQueryCount struct {
	DocumentID uuid.UUID `json:"document_id"`
	Queries    int       `json:"queries"`
}

// QueryError is one recent failed query for the observability view.
type QueryError struct {
	QueryID   uuid.UUID `json:"query_id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// QueryStats aggregates the workspace's query activity over a window.
type QueryStats struct {
	WindowDays    int                  `json:"window_days"`
	TotalQueries  int                  `json:"total_queries"`
	FailedQueries int                  `json:"failed_queries"`
	AvgLatencyMS  float64              `json:"avg_latency_ms"`
	P95LatencyMS  float64              `json:"p95_latency_ms"`
	TotalTokens   int64                `json:"total_tokens"`
	TopDocuments  []DocumentQueryCount `json:"top_documents"`
	RecentErrors  []QueryError         `json:"recent_errors"`
}

// ChatMessage is one entry in a chat session transcript.
type ChatMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
	Citations []ChatCitation `json:"citations,omitempty"`
}

// ChatCitation is a citation attached to a chat message.
type ChatCitation struct {
	DocumentID uuid.UUID `json:"document_id"`
	PageNumber int       `json:"page_number"`
	ChunkID    uuid.UUID `json:"chunk_id"`
}

// ChatSession groups a message transcript, optionally bound to a document.
type ChatSession struct {
	ID          uuid.UUID     `json:"id"`
	WorkspaceID uuid.UUID     `json:"workspace_id"`
	DocumentID  *uuid.UUID    `json:"document_id,omitempty"`
	Title       string        `json:"title"`
	Messages    []ChatMessage `json:"messages"`
	StartedAt   time.Time     `json:"started_at"`
	EndedAt     *time.Time    `json:"ended_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}
