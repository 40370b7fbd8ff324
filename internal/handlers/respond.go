package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"quantnex-cache/internal/records"
)

type errorBody struct {
	Error string `json:"error"`
}

// writeJSON is a small helper to send JSON responses consistently.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errorBody{Error: code})
}

// writeSourceError maps a records source failure to a response. Nothing is
// written only when the request itself was cancelled.
func writeSourceError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, records.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn("records source timed out", zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, "upstream_timeout")
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		// client went away; nothing useful to send
		logger.Debug("request cancelled", zap.Error(err))
	case errors.Is(err, context.Canceled):
		logger.Warn("records source cancelled", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "upstream_unavailable")
	default:
		logger.Error("records source failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream_error")
	}
}

func cacheHeader(w http.ResponseWriter, hit bool) {
	if hit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
}
