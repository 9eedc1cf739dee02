package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"queryverse/internal/logging"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// errorResponse is the uniform failure body across endpoints.
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func logRequest(r *http.Request, status, bytes int, elapsed time.Duration) {
	logging.FromContext(r.Context()).Info("http request",
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"bytes", bytes,
		"elapsed", elapsed.Round(time.Microsecond),
	)
}
