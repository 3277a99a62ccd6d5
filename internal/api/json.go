package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/assetgraph/internal/apperr"
	"github.com/starford/assetgraph/internal/graph"
	"github.com/starford/assetgraph/internal/query"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// graphErrors are structural failures caused by the request.
var graphErrors = []error{
	graph.ErrInlineOwned,
	graph.ErrAlreadyInline,
	graph.ErrNotInline,
	graph.ErrNotLoaded,
	graph.ErrNoCodec,
	graph.ErrNoURL,
	graph.ErrDuplicateURL,
	graph.ErrAssetReferenced,
}

// writeError maps service errors to a status code. Unexpected errors are
// logged and reported as internal.
func writeError(w http.ResponseWriter, op string, err error, attrs ...any) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	case errors.Is(err, apperr.ErrConflict), errors.Is(err, apperr.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
		return
	case errors.Is(err, apperr.ErrPreconditionFailed):
		writeJSON(w, http.StatusPreconditionFailed, errorBody(err.Error()))
		return
	case errors.Is(err, query.ErrMalformed):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	for _, ge := range graphErrors {
		if errors.Is(err, ge) {
			writeJSON(w, http.StatusUnprocessableEntity, errorBody(err.Error()))
			return
		}
	}
	slog.Error(op+" failed", append(attrs, slog.String("error", err.Error()))...)
	writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
}
