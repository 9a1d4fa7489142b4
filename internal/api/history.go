package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/instrumentkit/instrument-core/internal/history"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// handleListHistory returns recorded property changes, newest first.
//
// Query parameters: driver, path, since, until (RFC3339) and limit.
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "property history unavailable")
		return
	}

	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	since, err := parseTimeParam(r.URL.Query().Get("since"))
	if err != nil {
		writeBadRequest(w, "invalid since timestamp")
		return
	}
	until, err := parseTimeParam(r.URL.Query().Get("until"))
	if err != nil {
		writeBadRequest(w, "invalid until timestamp")
		return
	}

	entries, err := s.history.List(r.Context(), history.Query{
		Driver: r.URL.Query().Get("driver"),
		Path:   r.URL.Query().Get("path"),
		Since:  since,
		Until:  until,
		Limit:  limit,
	})
	if err != nil {
		writeInternalError(w, "failed to load property history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"history": entries,
		"count":   len(entries),
	})
}

// parseHistoryLimit parses the limit query parameter with bounds enforcement.
func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	if limit > maxHistoryLimit {
		return 0, fmt.Errorf("limit exceeds maximum")
	}

	return limit, nil
}

// parseTimeParam parses an RFC3339 timestamp, empty meaning unset.
func parseTimeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}

	parsed, err := time.Parse(time.RFC3339, raw)
	if err == nil {
		return parsed.UTC(), nil
	}

	parsed, err = time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}
