package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"

	"github.com/rzpsarthak13/kvbridge/internal/backend"
	"github.com/rzpsarthak13/kvbridge/internal/client"
	"github.com/rzpsarthak13/kvbridge/internal/core"
	"github.com/rzpsarthak13/kvbridge/internal/database"
	"github.com/rzpsarthak13/kvbridge/internal/registry"
	"github.com/rzpsarthak13/kvbridge/internal/schema"
	"github.com/rzpsarthak13/kvbridge/pkg/kvbridge"
)

// engine is the part of kvbridge.Engine the admin server reads.
type engine interface {
	Health() kvbridge.Health
	Shares() []registry.ShareInfo
	TableSchema(ctx context.Context, name string) (*core.TableSchema, error)
	TableStats(ctx context.Context, name string) (*kvbridge.TableStats, error)
	ImportTable(ctx context.Context, table string) (*core.TableSchema, error)
}

type server struct {
	engine engine
}

func newServer(e engine) *server {
	return &server{engine: e}
}

// RegisterRoutes registers the admin routes.
func (s *server) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", s.health)
	r.Get("/shares", s.shares)
	r.Route("/tables", func(r chi.Router) {
		r.Post("/import", s.importTable)
		r.Get("/{name}", s.tableSchema)
		r.Get("/{name}/stats", s.tableStats)
	})
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	h := s.engine.Health()
	status := http.StatusOK
	if h.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (s *server) shares(w http.ResponseWriter, r *http.Request) {
	shares := s.engine.Shares()
	if shares == nil {
		shares = []registry.ShareInfo{}
	}
	writeJSON(w, http.StatusOK, shares)
}

func (s *server) tableSchema(w http.ResponseWriter, r *http.Request) {
	ts, err := s.engine.TableSchema(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	if wantsYAML(r) {
		data, err := yaml.Marshal(ts)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

func (s *server) tableStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.TableStats(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type importRequest struct {
	Table string `json:"table"`
}

func (s *server) importTable(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Table == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "table is required"})
		return
	}

	ts, err := s.engine.ImportTable(r.Context(), req.Table)
	if err != nil {
		writeError(w, err)
		return
	}
	log.Printf("[ADMIN] Imported table %s", ts.Name)
	writeJSON(w, http.StatusCreated, ts)
}

func wantsYAML(r *http.Request) bool {
	if f := r.URL.Query().Get("format"); f != "" {
		return f == "yaml" || f == "yml"
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "yaml")
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, backend.ErrTableNotFound), errors.Is(err, database.ErrTableNotFound):
		return http.StatusNotFound
	case errors.Is(err, client.ErrMirrorDisabled):
		return http.StatusConflict
	case schema.IsValidationError(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.Printf("[ADMIN] ERROR: %v", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[ADMIN] ERROR: failed to encode response: %v", err)
	}
}
