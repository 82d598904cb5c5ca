package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/obsidianstack/rntiview/server/internal/broadcast"
	"github.com/obsidianstack/rntiview/server/internal/receiver"
	"github.com/obsidianstack/rntiview/server/internal/store"
)

// Deps are the components the query API reads from. Fanout, Inbox and
// Metrics are optional.
type Deps struct {
	Table   *store.Table
	Fanout  *broadcast.Fanout
	Inbox   *receiver.Inbox
	Metrics http.Handler
}

// Handler serves the read-only query routes.
type Handler struct {
	deps Deps
	mux  *chi.Mux
}

// New creates a Handler and registers all routes.
func New(d Deps) http.Handler {
	h := &Handler{deps: d, mux: chi.NewRouter()}

	h.mux.Use(middleware.RequestID)
	h.mux.Use(middleware.Recoverer)
	h.mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})
	h.mux.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	h.mux.Get("/healthz", h.health)
	h.mux.Get("/snapshot", h.snapshot)
	h.mux.Route("/api/v1", func(r chi.Router) {
		r.Get("/snapshot", h.snapshot)
		r.Get("/entities/{id}", h.entity)
		r.Get("/stats", h.stats)
	})
	if d.Metrics != nil {
		h.mux.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// health returns GET /healthz.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, HealthResponse{OK: true, TTL: h.deps.Table.TTL().Seconds()})
}

// snapshot returns GET /snapshot and GET /api/v1/snapshot.
func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, h.deps.Table.Snapshot())
}

// entity returns GET /api/v1/entities/{id}; 404 unless the RNTI is active.
func (h *Handler) entity(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, "id must be an integer")
		return
	}
	s, ok := h.deps.Table.Lookup(id)
	if !ok {
		jsonErr(w, http.StatusNotFound, "rnti not active")
		return
	}
	jsonResp(w, http.StatusOK, s)
}

// stats returns GET /api/v1/stats.
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Table: h.deps.Table.Stats()}
	if h.deps.Fanout != nil {
		st := h.deps.Fanout.Stats()
		resp.Broadcast = &st
	}
	if h.deps.Inbox != nil {
		st := h.deps.Inbox.Stats()
		resp.Inbox = &st
	}
	jsonResp(w, http.StatusOK, resp)
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
