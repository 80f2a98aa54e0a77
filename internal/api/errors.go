package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"patternpilot/internal/model"
	"patternpilot/internal/provider"
	"patternpilot/internal/store/bundle"
	"patternpilot/internal/workbench"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// statusFor maps typed errors onto HTTP status codes.
func statusFor(err error) (int, string) {
	var (
		ve *model.ValidationError
		ie *model.InsufficientDataError
	)
	switch {
	case errors.Is(err, provider.ErrInvalidSymbol):
		return http.StatusBadRequest, "invalid_symbol"
	case errors.As(err, &ve):
		return http.StatusBadRequest, "validation"
	case errors.As(err, &ie):
		return http.StatusUnprocessableEntity, "insufficient_data"
	case errors.Is(err, workbench.ErrNoModels):
		return http.StatusServiceUnavailable, "no_models"
	case errors.Is(err, model.ErrNotFound), errors.Is(err, provider.ErrNoData):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, bundle.ErrPreset):
		return http.StatusConflict, "read_only"
	case errors.Is(err, provider.ErrNetwork):
		return http.StatusBadGateway, "upstream"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}
	return http.StatusInternalServerError, "internal"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, kind := statusFor(err)
	if code >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, code, errorBody{Error: err.Error(), Kind: kind})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func badRequest(field, reason string) error {
	return model.InvalidParam(field, reason)
}
