package handler

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/connexus-ai/inkwell-backend/internal/apperr"
	"github.com/connexus-ai/inkwell-backend/internal/ratelimit"
	"github.com/connexus-ai/inkwell-backend/internal/service"
)

type listMeta struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// DocumentList returns the workspace's documents.
// GET /api/documents?status=&limit=&offset=
func (a *API) DocumentList(w http.ResponseWriter, r *http.Request) {
	_, ws, err := a.scope(r)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	limit, offset, err := pagination(r)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	docs, total, err := a.Documents.List(r.Context(), ws.ID, r.URL.Query().Get("status"), limit, offset)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	respondData(w, http.StatusOK, map[string]any{
		"documents": docs,
		"meta":      listMeta{Total: total, Limit: limit, Offset: offset},
	})
}

// DocumentGet returns one document with its ingestion progress.
// GET /api/documents/{document_id}
func (a *API) DocumentGet(w http.ResponseWriter, r *http.Request) {
	_, ws, err := a.scope(r)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	documentID, err := pathUUID(r, "document_id")
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	doc, err := a.Documents.Get(r.Context(), ws.ID, documentID)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	progress, err := a.Documents.Progress(r.Context(), ws.ID, documentID)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	respondData(w, http.StatusOK, map[string]any{
		"document": doc,
		"progress": progress,
	})
}

// DocumentPage returns one extracted page's text. Reads count against
// the query rate limit.
// GET /api/documents/{document_id}/pages/{page_number}
func (a *API) DocumentPage(w http.ResponseWriter, r *http.Request) {
	_, ws, err := a.scope(r)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	if err := a.Limiter.Allow(r.Context(), ws.ID, ratelimit.OpQuery, ratelimit.QueryLimit); err != nil {
		respondError(w, a.Logger, err)
		return
	}
	documentID, err := pathUUID(r, "document_id")
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	pageNumber, err := pathInt(r, "page_number")
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	maxChars, err := intQuery(r, "max_chars")
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	text, truncated, err := a.Documents.PageText(r.Context(), ws.ID, documentID, pageNumber, maxChars)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	respondData(w, http.StatusOK, map[string]any{
		"document_id": documentID,
		"page_number": pageNumber,
		"text":        text,
		"truncated":   truncated,
	})
}

// UploadPrepare signs an upload slot for a new document.
// POST /api/documents/upload-prepare
func (a *API) UploadPrepare(w http.ResponseWriter, r *http.Request) {
	_, ws, err := a.scope(r)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	if err := a.Limiter.Allow(r.Context(), ws.ID, ratelimit.OpUploadPrepare, ratelimit.UploadPrepareLimit); err != nil {
		respondError(w, a.Logger, err)
		return
	}
	var req service.UploadRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, a.Logger, err)
		return
	}
	ticket, err := a.Documents.UploadPrepare(r.Context(), ws.ID, req)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	respondData(w, http.StatusCreated, ticket)
}

// UploadComplete confirms a direct upload and starts ingestion.
// POST /api/documents/upload-complete
func (a *API) UploadComplete(w http.ResponseWriter, r *http.Request) {
	_, ws, err := a.scope(r)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	if err := a.Limiter.Allow(r.Context(), ws.ID, ratelimit.OpUploadComplete, ratelimit.UploadCompleteLimit); err != nil {
		respondError(w, a.Logger, err)
		return
	}
	var req service.CompleteRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, a.Logger, err)
		return
	}
	if req.DocumentID == uuid.Nil {
		respondError(w, a.Logger, apperr.Validation("document_id is required"))
		return
	}
	doc, err := a.Documents.UploadComplete(r.Context(), ws.ID, req.DocumentID, req)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	respondData(w, http.StatusOK, doc)
}

// DocumentDelete removes a document and everything derived from it.
// DELETE /api/documents/{document_id}
func (a *API) DocumentDelete(w http.ResponseWriter, r *http.Request) {
	_, ws, err := a.scope(r)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	documentID, err := pathUUID(r, "document_id")
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	if err := a.Documents.Delete(r.Context(), ws.ID, documentID); err != nil {
		respondError(w, a.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DocumentRetry re-runs ingestion for a failed document. Retries share
// the upload-complete rate limit.
// POST /api/documents/{document_id}/retry
func (a *API) DocumentRetry(w http.ResponseWriter, r *http.Request) {
	_, ws, err := a.scope(r)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	if err := a.Limiter.Allow(r.Context(), ws.ID, ratelimit.OpUploadComplete, ratelimit.UploadCompleteLimit); err != nil {
		respondError(w, a.Logger, err)
		return
	}
	documentID, err := pathUUID(r, "document_id")
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	doc, err := a.Documents.Retry(r.Context(), ws.ID, documentID)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	respondData(w, http.StatusAccepted, doc)
}

// DocumentReindex rebuilds a document's chunks and embeddings. Reindex
// shares the upload-complete rate limit.
// POST /api/documents/{document_id}/reindex
func (a *API) DocumentReindex(w http.ResponseWriter, r *http.Request) {
	_, ws, err := a.scope(r)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	if err := a.Limiter.Allow(r.Context(), ws.ID, ratelimit.OpUploadComplete, ratelimit.UploadCompleteLimit); err != nil {
		respondError(w, a.Logger, err)
		return
	}
	documentID, err := pathUUID(r, "document_id")
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	doc, err := a.Documents.Reindex(r.Context(), ws.ID, documentID)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	respondData(w, http.StatusAccepted, doc)
}
