package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/connexus-ai/inkwell-backend/internal/apperr"
	"github.com/connexus-ai/inkwell-backend/internal/config"
	"github.com/connexus-ai/inkwell-backend/internal/model"
	"github.com/connexus-ai/inkwell-backend/internal/queue"
	"github.com/connexus-ai/inkwell-backend/internal/storage"
)

// UploadRequest is the client's ask for a signed upload slot.
type UploadRequest struct {
	Filename       string  `json:"filename"`
	ContentType    string  `json:"content_type"`
	FileSizeBytes  int64   `json:"file_size_bytes"`
	IdempotencyKey *string `json:"idempotency_key,omitempty"`
}

// UploadTicket is the prepared upload: the document row plus a signed
// PUT URL the client uploads the file to directly.
type UploadTicket struct {
	Document  model.Document    `json:"document"`
	UploadURL string            `json:"upload_url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// CompleteRequest confirms the client finished its direct upload.
type CompleteRequest struct {
	DocumentID uuid.UUID `json:"document_id"`
	Bucket     string    `json:"bucket"`
	ObjectPath string    `json:"object_path"`
}

// DocumentService owns the document lifecycle: prepared uploads,
// completion handoff into ingestion, retry, reindex, and deletion.
type DocumentService struct {
	docs   DocumentStore
	pages  PageStore
	blobs  BlobStore
	jobs   JobQueue
	cache  EmbeddingCache
	cfg    config.Config
	logger *slog.Logger
}

// NewDocumentService wires the document lifecycle.
func NewDocumentService(
	docs DocumentStore,
	pages PageStore,
	blobs BlobStore,
	jobs JobQueue,
	cache EmbeddingCache,
	cfg config.Config,
	logger *slog.Logger,
) *DocumentService {
	return &DocumentService{
		docs:   docs,
		pages:  pages,
		blobs:  blobs,
		jobs:   jobs,
		cache:  cache,
		cfg:    cfg,
		logger: logger,
	}
}

func (s *DocumentService) contentTypeAllowed(contentType string) bool {
	for _, ct := range s.cfg.AllowedContentTypes {
		if ct == contentType {
			return true
		}
	}
	return false
}

func (s *DocumentService) signTicket(doc model.Document) (UploadTicket, error) {
	expires := time.Duration(s.cfg.UploadURLExpiresSeconds) * time.Second
	url, err := s.blobs.SignedUploadURL(doc.StoragePath, doc.ContentType, expires)
	if err != nil {
		return UploadTicket{}, apperr.Internal("Failed to prepare upload", fmt.Errorf("DocumentService: sign url: %w", err))
	}
	return UploadTicket{
		Document:  doc,
		UploadURL: url,
		Method:    "PUT",
		Headers:   map[string]string{"Content-Type": doc.ContentType},
		ExpiresAt: time.Now().UTC().Add(expires),
	}, nil
}

// UploadPrepare validates the ask, creates the document row, and signs
// an upload URL. Repeating an idempotency key while the upload is still
// open re-signs the same slot instead of creating a second document.
func (s *DocumentService) UploadPrepare(ctx context.Context, workspaceID uuid.UUID, req UploadRequest) (UploadTicket, error) {
	filename, err := storage.SanitizeFilename(req.Filename)
	if err != nil {
		return UploadTicket{}, err
	}
	if !s.contentTypeAllowed(req.ContentType) {
		return UploadTicket{}, apperr.Validation("Unsupported content type: %s", req.ContentType)
	}
	if req.FileSizeBytes <= 0 {
		return UploadTicket{}, apperr.Validation("File size must be positive")
	}
	if req.FileSizeBytes > s.cfg.MaxFileSizeBytes {
		return UploadTicket{}, apperr.Validation("File size exceeds the %d byte limit", s.cfg.MaxFileSizeBytes)
	}

	if req.IdempotencyKey != nil && *req.IdempotencyKey != "" {
		existing, found, err := s.docs.FindByIdempotencyKey(ctx, workspaceID, *req.IdempotencyKey)
		if err != nil {
			return UploadTicket{}, apperr.Internal("Failed to prepare upload", fmt.Errorf("DocumentService.UploadPrepare: %w", err))
		}
		if found {
			if existing.Status == model.StatusPendingUpload || existing.Status == model.StatusUploading {
				return s.signTicket(existing)
			}
			return UploadTicket{}, apperr.Conflict("Upload already completed for this idempotency key")
		}
	}

	count, err := s.docs.Count(ctx, workspaceID)
	if err != nil {
		return UploadTicket{}, apperr.Internal("Failed to prepare upload", fmt.Errorf("DocumentService.UploadPrepare: %w", err))
	}
	if count >= s.cfg.MaxDocumentsPerWorkspace {
		return UploadTicket{}, apperr.Conflict("Workspace document limit reached")
	}

	doc := model.Document{
		ID:             uuid.New(),
		WorkspaceID:    workspaceID,
		Filename:       filename,
		ContentType:    req.ContentType,
		FileSizeBytes:  req.FileSizeBytes,
		StorageBucket:  s.blobs.Bucket(),
		Status:         model.StatusPendingUpload,
		IdempotencyKey: req.IdempotencyKey,
	}
	doc.StoragePath = storage.ObjectPath(workspaceID.String(), doc.ID.String(), filename)

	if err := s.docs.Insert(ctx, doc); err != nil {
		// A concurrent prepare with the same key wins the unique index;
		// hand back its slot instead of failing.
		if req.IdempotencyKey != nil && apperr.CodeOf(err) == apperr.CodeConflict {
			existing, found, lookupErr := s.docs.FindByIdempotencyKey(ctx, workspaceID, *req.IdempotencyKey)
			if lookupErr == nil && found &&
				(existing.Status == model.StatusPendingUpload || existing.Status == model.StatusUploading) {
				return s.signTicket(existing)
			}
			return UploadTicket{}, apperr.Conflict("Upload already completed for this idempotency key")
		}
		return UploadTicket{}, apperr.Internal("Failed to prepare upload", fmt.Errorf("DocumentService.UploadPrepare: insert: %w", err))
	}

	return s.signTicket(doc)
}

// UploadComplete verifies the object landed where the ticket said and
// moves the document into the extract stage.
func (s *DocumentService) UploadComplete(ctx context.Context, workspaceID, documentID uuid.UUID, req CompleteRequest) (model.Document, error) {
	doc, err := s.docs.Get(ctx, workspaceID, documentID)
	if err != nil {
		return model.Document{}, err
	}
	if req.Bucket != "" && req.Bucket != doc.StorageBucket {
		return model.Document{}, apperr.Validation("Bucket does not match the prepared upload")
	}
	if req.ObjectPath != "" && req.ObjectPath != doc.StoragePath {
		return model.Document{}, apperr.Validation("Object path does not match the prepared upload")
	}
	if doc.Status == model.StatusUploaded {
		return model.Document{}, apperr.Conflict("Upload already completed")
	}

	exists, err := s.blobs.ObjectExists(ctx, doc.StoragePath)
	if err != nil {
		return model.Document{}, apperr.Internal("Failed to verify upload", fmt.Errorf("DocumentService.UploadComplete: %w", err))
	}
	if !exists {
		return model.Document{}, apperr.Validation("Uploaded object not found in storage")
	}

	moved, err := s.docs.TransitionStatus(ctx, workspaceID, documentID,
		[]string{model.StatusPendingUpload, model.StatusUploading}, model.StatusUploaded)
	if err != nil {
		return model.Document{}, apperr.Internal("Failed to complete upload", fmt.Errorf("DocumentService.UploadComplete: %w", err))
	}
	if !moved {
		return model.Document{}, apperr.Conflict("Upload completion conflict")
	}

	if err := s.jobs.PublishExtract(ctx, queue.Job{WorkspaceID: workspaceID, DocumentID: documentID}); err != nil {
		s.logger.Error("failed to enqueue extract job", "document_id", documentID, "error", err)
		if failErr := s.docs.SetFailed(ctx, workspaceID, documentID, "Failed to enqueue extraction"); failErr != nil {
			s.logger.Error("failed to mark document failed", "document_id", documentID, "error", failErr)
		}
		return model.Document{}, apperr.Internal("Failed to start ingestion", err)
	}

	return s.docs.Get(ctx, workspaceID, documentID)
}

// List pages through the workspace's documents, optionally filtered to
// one status.
func (s *DocumentService) List(ctx context.Context, workspaceID uuid.UUID, status string, limit, offset int) ([]model.Document, int, error) {
	if status != "" && !model.AllStatuses[status] {
		return nil, 0, apperr.Validation("Unknown status filter: %s", status)
	}
	return s.docs.List(ctx, workspaceID, status, limit, offset)
}

// Get returns one document.
func (s *DocumentService) Get(ctx context.Context, workspaceID, documentID uuid.UUID) (model.Document, error) {
	return s.docs.Get(ctx, workspaceID, documentID)
}

// Progress reports how far ingestion has carried the document.
func (s *DocumentService) Progress(ctx context.Context, workspaceID, documentID uuid.UUID) (model.DocumentProgress, error) {
	if _, err := s.docs.Get(ctx, workspaceID, documentID); err != nil {
		return model.DocumentProgress{}, err
	}
	return s.docs.Progress(ctx, workspaceID, documentID)
}

const (
	defaultPageMaxChars = 5000
	maxPageMaxChars     = 20000
)

// PageText returns one extracted page's text, capped at maxChars
// characters. It reports whether the text was truncated.
func (s *DocumentService) PageText(ctx context.Context, workspaceID, documentID uuid.UUID, pageNumber, maxChars int) (string, bool, error) {
	if pageNumber < 1 {
		return "", false, apperr.Validation("Page number must be positive")
	}
	if maxChars == 0 {
		maxChars = defaultPageMaxChars
	}
	if maxChars < 1 || maxChars > maxPageMaxChars {
		return "", false, apperr.Validation("max_chars must be between 1 and %d", maxPageMaxChars)
	}
	if _, err := s.docs.Get(ctx, workspaceID, documentID); err != nil {
		return "", false, err
	}
	content, found, err := s.pages.GetPage(ctx, workspaceID, documentID, pageNumber)
	if err != nil {
		return "", false, apperr.Internal("Failed to load page", fmt.Errorf("DocumentService.PageText: %w", err))
	}
	if !found {
		return "", false, apperr.NotFound("Page not found")
	}
	truncated := utf8.RuneCountInString(content) > maxChars
	return trimText(content, maxChars), truncated, nil
}

// Delete removes the document row with all derived rows, then cleans up
// the stored object best-effort.
func (s *DocumentService) Delete(ctx context.Context, workspaceID, documentID uuid.UUID) error {
	storagePath, found, err := s.docs.Delete(ctx, workspaceID, documentID)
	if err != nil {
		return apperr.Internal("Failed to delete document", fmt.Errorf("DocumentService.Delete: %w", err))
	}
	if !found {
		return apperr.NotFound("Document not found")
	}
	if storagePath != "" {
		if _, err := s.blobs.Delete(ctx, storagePath); err != nil {
			s.logger.Warn("failed to delete stored object", "storage_path", storagePath, "error", err)
		}
	}
	s.cache.InvalidateWorkspace(workspaceID.String())
	return nil
}

// Retry re-runs ingestion for a failed document from the extract stage.
func (s *DocumentService) Retry(ctx context.Context, workspaceID, documentID uuid.UUID) (model.Document, error) {
	doc, err := s.docs.Get(ctx, workspaceID, documentID)
	if err != nil {
		return model.Document{}, err
	}
	if doc.Status != model.StatusFailed {
		return model.Document{}, apperr.Conflict("Only failed documents can be retried")
	}

	moved, err := s.docs.TransitionStatus(ctx, workspaceID, documentID,
		[]string{model.StatusFailed}, model.StatusUploaded)
	if err != nil {
		return model.Document{}, apperr.Internal("Failed to retry document", fmt.Errorf("DocumentService.Retry: %w", err))
	}
	if !moved {
		return model.Document{}, apperr.Conflict("Document state changed, retry aborted")
	}

	if err := s.jobs.PublishExtract(ctx, queue.Job{WorkspaceID: workspaceID, DocumentID: documentID}); err != nil {
		s.logger.Error("failed to enqueue extract job", "document_id", documentID, "error", err)
		if failErr := s.docs.SetFailed(ctx, workspaceID, documentID, "Failed to enqueue extraction"); failErr != nil {
			s.logger.Error("failed to mark document failed", "document_id", documentID, "error", failErr)
		}
		return model.Document{}, apperr.Internal("Failed to start ingestion", err)
	}

	return s.docs.Get(ctx, workspaceID, documentID)
}

// Reindex rebuilds a document's index. Documents with extracted pages
// go straight to the index stage; the rest start over at extract.
func (s *DocumentService) Reindex(ctx context.Context, workspaceID, documentID uuid.UUID) (model.Document, error) {
	doc, err := s.docs.Get(ctx, workspaceID, documentID)
	if err != nil {
		return model.Document{}, err
	}
	if doc.Status != model.StatusReady && doc.Status != model.StatusFailed {
		return model.Document{}, apperr.Conflict("Document cannot be reindexed in its current state")
	}

	job := queue.Job{WorkspaceID: workspaceID, DocumentID: documentID}
	pageCount, err := s.pages.CountPages(ctx, workspaceID, documentID)
	if err != nil {
		return model.Document{}, apperr.Internal("Failed to reindex document", fmt.Errorf("DocumentService.Reindex: count pages: %w", err))
	}

	if pageCount > 0 {
		moved, err := s.docs.TransitionStatus(ctx, workspaceID, documentID,
			[]string{model.StatusReady, model.StatusFailed}, model.StatusIndexing)
		if err != nil {
			return model.Document{}, apperr.Internal("Failed to reindex document", fmt.Errorf("DocumentService.Reindex: %w", err))
		}
		if !moved {
			return model.Document{}, apperr.Conflict("Document state changed, reindex aborted")
		}
		err = s.jobs.PublishIndex(ctx, job)
		if err != nil {
			s.logger.Error("failed to enqueue index job", "document_id", documentID, "error", err)
			if failErr := s.docs.SetFailed(ctx, workspaceID, documentID, "Failed to enqueue indexing"); failErr != nil {
				s.logger.Error("failed to mark document failed", "document_id", documentID, "error", failErr)
			}
			return model.Document{}, apperr.Internal("Failed to start reindexing", err)
		}
	} else {
		moved, err := s.docs.TransitionStatus(ctx, workspaceID, documentID,
			[]string{model.StatusReady, model.StatusFailed}, model.StatusUploaded)
		if err != nil {
			return model.Document{}, apperr.Internal("Failed to reindex document", fmt.Errorf("DocumentService.Reindex: %w", err))
		}
		if !moved {
			return model.Document{}, apperr.Conflict("Document state changed, reindex aborted")
		}
		err = s.jobs.PublishExtract(ctx, job)
		if err != nil {
			s.logger.Error("failed to enqueue extract job", "document_id", documentID, "error", err)
			if failErr := s.docs.SetFailed(ctx, workspaceID, documentID, "Failed to enqueue extraction"); failErr != nil {
				s.logger.Error("failed to mark document failed", "document_id", documentID, "error", failErr)
			}
			return model.Document{}, apperr.Internal("Failed to start reindexing", err)
		}
	}

	s.cache.InvalidateWorkspace(workspaceID.String())
	return s.docs.Get(ctx, workspaceID, documentID)
}
