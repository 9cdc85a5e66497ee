package api

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/tasooshi/pukpuk/internal/storage"
)

// NewRouter creates a new http.ServeMux and registers the read-only API handlers.
func NewRouter(store storage.Storer, log zerolog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	h := NewHandlers(store, log)

	mux.HandleFunc("GET /v1/runs", h.ListRuns)
	mux.HandleFunc("GET /v1/runs/{run_id}", h.GetRun)
	mux.HandleFunc("GET /v1/runs/{run_id}/endpoints", h.ListEndpoints)
	mux.HandleFunc("GET /healthz", h.Healthz)

	return mux
}
