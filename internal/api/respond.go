package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ventro/backend/internal/core"
)

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			slog.Error("encoding response", "error", err)
		}
	}
}

// respondError maps domain error kinds to HTTP statuses. Internal
// details are logged, never leaked to the client.
func respondError(w http.ResponseWriter, err error) {
	status := core.HTTPStatus(err)
	msg := err.Error()
	if status >= 500 {
		slog.Error("request failed", "error", err)
		msg = "internal error"
	}
	respondJSON(w, status, map[string]string{"error": msg})
}

func respondBadRequest(w http.ResponseWriter, msg string) {
	respondJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

// pagination parses limit/offset query params with sane caps.
func pagination(r *http.Request) (limit, offset int) {
	limit = 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondBadRequest(w, "invalid request body")
		return false
	}
	return true
}
