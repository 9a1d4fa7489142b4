package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// maxPathLen bounds dotted property paths in URLs and bodies.
const maxPathLen = 256

// setPropertyRequest is the body for PUT property requests.
//
// Value carries the caller-facing representation: numbers, strings
// ("1 kHz", "on"), booleans, or register field maps.
type setPropertyRequest struct {
	Value any `json:"value"`
}

// clearCacheRequest is the body for cache clear requests. An empty or
// "*" path clears the whole subtree cache.
type clearCacheRequest struct {
	Path string `json:"path"`
}

// handleGetProperty reads a property through the full pipeline.
func (s *Server) handleGetProperty(w http.ResponseWriter, r *http.Request) {
	d, ok := s.instrumentFromRequest(w, r)
	if !ok {
		return
	}

	path := chi.URLParam(r, "path")
	if path == "" || len(path) > maxPathLen {
		writeBadRequest(w, "invalid property path")
		return
	}

	value, err := d.GetPath(r.Context(), path)
	if err != nil {
		writePipelineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"instrument": d.Name(),
		"path":       path,
		"value":      value,
	})
}

// handleSetProperty writes a property through the full pipeline.
func (s *Server) handleSetProperty(w http.ResponseWriter, r *http.Request) {
	d, ok := s.instrumentFromRequest(w, r)
	if !ok {
		return
	}

	path := chi.URLParam(r, "path")
	if path == "" || len(path) > maxPathLen {
		writeBadRequest(w, "invalid property path")
		return
	}

	var req setPropertyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := d.SetPath(r.Context(), path, req.Value); err != nil {
		writePipelineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"instrument": d.Name(),
		"path":       path,
		"value":      req.Value,
	})
}

// handleInspectCache returns the cached entries under a path. The path
// query parameter scopes the inspection; empty means the whole tree.
func (s *Server) handleInspectCache(w http.ResponseWriter, r *http.Request) {
	d, ok := s.instrumentFromRequest(w, r)
	if !ok {
		return
	}

	path := r.URL.Query().Get("path")
	if len(path) > maxPathLen {
		writeBadRequest(w, "invalid cache path")
		return
	}

	entries, err := d.CheckCache(path)
	if err != nil {
		writePipelineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"instrument": d.Name(),
		"path":       path,
		"entries":    entries,
		"count":      len(entries),
	})
}

// handleClearCache drops cached entries under a path.
func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	d, ok := s.instrumentFromRequest(w, r)
	if !ok {
		return
	}

	var req clearCacheRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(req.Path) > maxPathLen {
		writeBadRequest(w, "invalid cache path")
		return
	}

	if err := d.ClearCache(req.Path); err != nil {
		writePipelineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"instrument": d.Name(),
		"cleared":    req.Path,
	})
}
