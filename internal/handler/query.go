package handler

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/connexus-ai/inkwell-backend/internal/apperr"
	"github.com/connexus-ai/inkwell-backend/internal/ratelimit"
)

type queryRequest struct {
	DocumentID uuid.UUID `json:"document_id"`
	Question   string    `json:"question"`
}

func (a *API) parseQuery(r *http.Request) (queryRequest, error) {
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		return queryRequest{}, err
	}
	if req.DocumentID == uuid.Nil {
		return queryRequest{}, apperr.Validation("document_id is required")
	}
	req.Question = strings.TrimSpace(req.Question)
	return req, nil
}

// QueryRun answers one question against a ready document.
// POST /api/query
func (a *API) QueryRun(w http.ResponseWriter, r *http.Request) {
	user, ws, err := a.scope(r)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	if err := a.Limiter.Allow(r.Context(), ws.ID, ratelimit.OpQuery, ratelimit.QueryLimit); err != nil {
		respondError(w, a.Logger, err)
		return
	}
	req, err := a.parseQuery(r)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	result, err := a.Query.Query(r.Context(), ws.ID, user, req.DocumentID, req.Question)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	respondData(w, http.StatusOK, result)
}

// QueryStream answers one question as an SSE stream. Pre-stream
// failures are plain JSON errors; once the stream opens, failures are
// terminal error events.
// POST /api/query/stream
func (a *API) QueryStream(w http.ResponseWriter, r *http.Request) {
	user, ws, err := a.scope(r)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	if err := a.Limiter.Allow(r.Context(), ws.ID, ratelimit.OpQuery, ratelimit.QueryLimit); err != nil {
		respondError(w, a.Logger, err)
		return
	}
	req, err := a.parseQuery(r)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	if err := a.Query.StreamQuery(r.Context(), ws.ID, user, req.DocumentID, req.Question, sse.Emit); err != nil {
		// The client disconnected mid-stream; nothing left to send.
		a.Logger.Info("query stream closed by client", "workspace_id", ws.ID, "error", err)
	}
}
