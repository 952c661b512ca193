package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mohammed-shakir/fogmap-area/internal/area"
	"github.com/mohammed-shakir/fogmap-area/internal/importer"
	"github.com/mohammed-shakir/fogmap-area/internal/journey"
	"github.com/mohammed-shakir/fogmap-area/internal/logger"
	"github.com/mohammed-shakir/fogmap-area/internal/store"
	"github.com/mohammed-shakir/fogmap-area/internal/tiling"
)

// badRequestError marks request-shape problems found by the handlers.
type badRequestError struct{ msg string }

func (e *badRequestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &badRequestError{msg: fmt.Sprintf(format, args...)}
}

func statusFor(err error) int {
	var (
		br  *badRequestError
		ve  *journey.ValidationError
		uk  *journey.UnsupportedKindError
		ae  *importer.ArchiveError
		ge  *tiling.GeometryError
		mbe *http.MaxBytesError
	)
	switch {
	case errors.As(err, &mbe):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &ge):
		return http.StatusUnprocessableEntity
	case errors.As(err, &br), errors.As(err, &ve), errors.As(err, &uk),
		errors.As(err, &ae), errors.Is(err, area.ErrUnknownStrategy):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(l *slog.Logger, w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		l.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
		msg = "internal error"
	}
	writeJSON(w, code, errorBody{Error: msg, RequestID: logger.RequestID(r.Context())})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
