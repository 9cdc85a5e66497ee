package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tasooshi/pukpuk/internal/models"
	"github.com/tasooshi/pukpuk/internal/storage"
	"github.com/tasooshi/pukpuk/internal/urlutil"
)

// Handlers holds dependencies for the API handlers.
type Handlers struct {
	store storage.Storer
	log   zerolog.Logger
}

// NewHandlers creates a new Handlers struct.
func NewHandlers(store storage.Storer, log zerolog.Logger) *Handlers {
	return &Handlers{store: store, log: log}
}

type endpointItem struct {
	Host     string          `json:"host"`
	Port     uint16          `json:"port"`
	Protocol models.Protocol `json:"protocol"`
	URL      string          `json:"url"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ListRuns handles listing runs, newest first, with cursor pagination.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if l := q.Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}

	var beforeTime time.Time
	var beforeID string
	if token := q.Get("page_token"); token != "" {
		// token is base64 of "<rfc3339nano>|<id>"
		decoded, err := base64.URLEncoding.DecodeString(token)
		if err != nil {
			http.Error(w, "invalid page_token", http.StatusBadRequest)
			return
		}
		ts, id, ok := strings.Cut(string(decoded), "|")
		t, err := time.Parse(time.RFC3339Nano, ts)
		if !ok || err != nil || id == "" {
			http.Error(w, "invalid page_token", http.StatusBadRequest)
			return
		}
		beforeTime, beforeID = t, id
	}

	items, err := h.store.ListRuns(r.Context(), storage.ListRunsParams{
		BeforeTime: beforeTime,
		BeforeID:   beforeID,
		Limit:      limit,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("list runs")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []models.Run{}
	}

	resp := struct {
		Items         []models.Run `json:"items"`
		NextPageToken string       `json:"next_page_token"`
	}{
		Items: items,
	}
	if len(items) == limit {
		last := items[len(items)-1]
		cursor := last.StartedAt.UTC().Format(time.RFC3339Nano) + "|" + last.ID
		resp.NextPageToken = base64.URLEncoding.EncodeToString([]byte(cursor))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetRun returns a single run.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookupRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ListEndpoints handles listing the endpoints discovered by a run.
func (h *Handlers) ListEndpoints(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookupRun(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	proto, err := models.ParseProtocol(q.Get("protocol"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit := 0
	if l := q.Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			limit = v
		}
	}

	endpoints, err := h.store.ListEndpoints(r.Context(), storage.ListEndpointsParams{
		RunID:    run.ID,
		Host:     strings.ToLower(strings.TrimSpace(q.Get("host"))),
		Protocol: proto,
		Limit:    limit,
	})
	if err != nil {
		h.log.Error().Err(err).Str("run_id", run.ID).Msg("list endpoints")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	items := make([]endpointItem, 0, len(endpoints))
	for _, ep := range endpoints {
		items = append(items, endpointItem{
			Host:     ep.Host,
			Port:     ep.Port,
			Protocol: ep.Protocol,
			URL:      urlutil.FromEndpoint(ep),
		})
	}
	writeJSON(w, http.StatusOK, struct {
		Items []endpointItem `json:"items"`
	}{Items: items})
}

func (h *Handlers) lookupRun(w http.ResponseWriter, r *http.Request) (*models.Run, bool) {
	run, err := h.store.GetRunByID(r.Context(), r.PathValue("run_id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "run not found", http.StatusNotFound)
			return nil, false
		}
		h.log.Error().Err(err).Msg("get run")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return nil, false
	}
	return run, true
}

// Healthz is a simple health check endpoint.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
