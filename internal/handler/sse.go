package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/connexus-ai/inkwell-backend/internal/apperr"
)

// sseWriter frames stream events in SSE format, flushing after each.
type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

// newSSEWriter sets stream headers and returns the writer. A transport
// that cannot flush gets a 500 before any event is written.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, apperr.Internal("Streaming not supported", nil)
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	return &sseWriter{w: w, f: f}, nil
}

// Emit writes one event with a JSON payload. A write error means the
// client is gone.
func (s *sseWriter) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sse marshal %s: %w", event, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}
