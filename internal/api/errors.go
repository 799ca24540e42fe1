// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/metnitcs/stream-webui/internal/service"
	"github.com/metnitcs/stream-webui/internal/stream/engine"
)

// Problem is the JSON error body.
type Problem struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, code int, errCode, detail string) {
	writeJSON(w, code, Problem{Error: errCode, Detail: detail})
}

// writeError maps service and engine errors onto HTTP problems.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var rerr *engine.ResolutionError
	var serr *engine.SpawnError
	switch {
	case errors.As(err, &rerr):
		writeProblem(w, http.StatusNotFound, "input_not_found", "file not found: "+baseName(rerr.Path))
	case errors.Is(err, service.ErrInvalidInput):
		writeProblem(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, service.ErrNoChannels):
		writeProblem(w, http.StatusBadRequest, "no_channels", "no valid channels")
	case errors.Is(err, service.ErrChannelLimit):
		writeProblem(w, http.StatusBadRequest, "channel_limit", err.Error())
	case errors.Is(err, service.ErrScheduleRunning):
		writeProblem(w, http.StatusConflict, "schedule_running", err.Error())
	case errors.Is(err, engine.ErrAlreadyExists):
		writeProblem(w, http.StatusConflict, "already_exists", err.Error())
	case errors.Is(err, service.ErrForbidden):
		writeProblem(w, http.StatusForbidden, "forbidden", "forbidden")
	case errors.Is(err, service.ErrNotFound), errors.Is(err, engine.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "not_found", "not found")
	case errors.As(err, &serr):
		writeProblem(w, http.StatusInternalServerError, "spawn_failed", "failed to start encoder")
	default:
		logger := logFor(r)
		logger.Error().Err(err).Msg("request failed")
		writeProblem(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}
