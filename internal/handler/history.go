package handler

import (
	"net/http"

	"github.com/connexus-ai/inkwell-backend/internal/ratelimit"
)

// QueryHistory lists past queries, newest first.
// GET /api/queries?document_id=&limit=&offset=
func (a *API) QueryHistory(w http.ResponseWriter, r *http.Request) {
	_, ws, err := a.scope(r)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	documentID, err := optionalUUIDQuery(r, "document_id")
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	limit, offset, err := pagination(r)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	queries, total, err := a.History.ListQueries(r.Context(), ws.ID, documentID, limit, offset)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	respondData(w, http.StatusOK, map[string]any{
		"queries": queries,
		"meta":    listMeta{Total: total, Limit: limit, Offset: offset},
	})
}

// QueryHistoryDetail returns one past query with its citations.
// GET /api/queries/{query_id}
func (a *API) QueryHistoryDetail(w http.ResponseWriter, r *http.Request) {
	_, ws, err := a.scope(r)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	queryID, err := pathUUID(r, "query_id")
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	detail, err := a.History.GetQuery(r.Context(), ws.ID, queryID)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	respondData(w, http.StatusOK, detail)
}

// UsageObservability returns seven days of query activity.
// GET /api/usage/observability
func (a *API) UsageObservability(w http.ResponseWriter, r *http.Request) {
	_, ws, err := a.scope(r)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	stats, err := a.History.Observability(r.Context(), ws.ID)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	respondData(w, http.StatusOK, stats)
}

// CitationSource resolves a cited chunk back to its page context.
// Reads count against the query rate limit.
// GET /api/citations/{chunk_id}?max_chars=
func (a *API) CitationSource(w http.ResponseWriter, r *http.Request) {
	_, ws, err := a.scope(r)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	if err := a.Limiter.Allow(r.Context(), ws.ID, ratelimit.OpQuery, ratelimit.QueryLimit); err != nil {
		respondError(w, a.Logger, err)
		return
	}
	chunkID, err := pathUUID(r, "chunk_id")
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	maxChars, err := intQuery(r, "max_chars")
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	source, err := a.History.GetCitationSource(r.Context(), ws.ID, chunkID, maxChars)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	respondData(w, http.StatusOK, source)
}
