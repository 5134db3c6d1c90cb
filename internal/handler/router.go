package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/connexus-ai/inkwell-backend/internal/middleware"
)

// NewRouter wires the full HTTP surface. Everything under /api sits
// behind bearer auth; /health and /metrics stay open.
func NewRouter(api *API, verifier middleware.TokenVerifier, registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(api.Logger))
	r.Use(middleware.NewMetrics(registry).Instrument)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondData(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(verifier))

		r.Get("/auth/me", api.AuthMe)

		r.Post("/workspaces", api.WorkspaceCreate)
		r.Get("/workspaces/me", api.WorkspaceMe)
		r.Get("/usage/today", api.UsageToday)
		r.Get("/usage/observability", api.UsageObservability)

		r.Route("/documents", func(r chi.Router) {
			r.Get("/", api.DocumentList)
			r.Post("/upload-prepare", api.UploadPrepare)
			r.Post("/upload-complete", api.UploadComplete)
			r.Route("/{document_id}", func(r chi.Router) {
				r.Get("/", api.DocumentGet)
				r.Delete("/", api.DocumentDelete)
				r.Post("/retry", api.DocumentRetry)
				r.Post("/reindex", api.DocumentReindex)
				r.Get("/pages/{page_number}", api.DocumentPage)
			})
		})

		r.Post("/query", api.QueryRun)
		r.Post("/query/stream", api.QueryStream)

		r.Get("/queries", api.QueryHistory)
		r.Get("/queries/{query_id}", api.QueryHistoryDetail)
		r.Get("/citations/{chunk_id}", api.CitationSource)

		r.Route("/chats/sessions", func(r chi.Router) {
			r.Post("/", api.ChatCreate)
			r.Get("/", api.ChatList)
			r.Get("/{session_id}", api.ChatGet)
			r.Patch("/{session_id}", api.ChatUpdate)
		})
	})

	return r
}
