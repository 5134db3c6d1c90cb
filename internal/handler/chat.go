package handler

import (
	"net/http"

	"github.com/connexus-ai/inkwell-backend/internal/service"
)

// ChatCreate opens a chat session.
// POST /api/chats/sessions
func (a *API) ChatCreate(w http.ResponseWriter, r *http.Request) {
	_, ws, err := a.scope(r)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	var req service.ChatCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, a.Logger, err)
		return
	}
	session, err := a.Chats.CreateSession(r.Context(), ws.ID, req)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	respondData(w, http.StatusCreated, session)
}

// ChatList pages through chat sessions, optionally per document.
// GET /api/chats/sessions?document_id=&limit=&offset=
func (a *API) ChatList(w http.ResponseWriter, r *http.Request) {
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
	sessions, total, err := a.Chats.ListSessions(r.Context(), ws.ID, documentID, limit, offset)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	respondData(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"meta":     listMeta{Total: total, Limit: limit, Offset: offset},
	})
}

// ChatGet returns one chat session.
// GET /api/chats/sessions/{session_id}
func (a *API) ChatGet(w http.ResponseWriter, r *http.Request) {
	_, ws, err := a.scope(r)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	sessionID, err := pathUUID(r, "session_id")
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	session, err := a.Chats.GetSession(r.Context(), ws.ID, sessionID)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	respondData(w, http.StatusOK, session)
}

// ChatUpdate patches a chat session's title, transcript, or end marker.
// PATCH /api/chats/sessions/{session_id}
func (a *API) ChatUpdate(w http.ResponseWriter, r *http.Request) {
	_, ws, err := a.scope(r)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	sessionID, err := pathUUID(r, "session_id")
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	var req service.ChatUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, a.Logger, err)
		return
	}
	session, err := a.Chats.UpdateSession(r.Context(), ws.ID, sessionID, req)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	respondData(w, http.StatusOK, session)
}
