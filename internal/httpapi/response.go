package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/glyphgate/voicegate/pkg/gwerr"
)

// errorBody is the JSON error envelope from spec.md §6: "error" is user-safe,
// "code" is a stable taxonomy identifier. Operator-kind detail never appears
// here; it is logged separately by writeError.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusByCode maps each taxonomy code to its HTTP status per the table in
// spec.md §6/§7. A code absent from this table (should not happen for a
// *gwerr.Error produced by this codebase) falls back to 500.
var statusByCode = map[string]int{
	gwerr.CodeInvalidAudio:           http.StatusBadRequest,
	gwerr.CodeAudioTooLarge:          http.StatusRequestEntityTooLarge,
	gwerr.CodeInvalidContentType:     http.StatusBadRequest,
	gwerr.CodeSTTTimeout:             http.StatusBadRequest,
	gwerr.CodeSTTTranscriptionFailed: http.StatusBadRequest,
	gwerr.CodeOpenclawTimeout:        http.StatusBadRequest,
	gwerr.CodeRateLimited:            http.StatusTooManyRequests,
	gwerr.CodeCORSRejected:           http.StatusForbidden,
	gwerr.CodeNotReady:               http.StatusServiceUnavailable,

	gwerr.CodeSTTUnavailable:       http.StatusInternalServerError,
	gwerr.CodeOpenclawUnavailable:  http.StatusInternalServerError,
	gwerr.CodeOpenclawSessionError: http.StatusInternalServerError,
	gwerr.CodeMissingConfig:        http.StatusInternalServerError,
	gwerr.CodeInvalidConfig:        http.StatusBadRequest,
	gwerr.CodeInternalError:        http.StatusInternalServerError,
}

// writeJSON encodes v as status-coded JSON.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("httpapi: failed to encode response", "err", err)
	}
}

// writeError serializes err's (code, user-safe message) into the HTTP
// response per spec.md §7's propagation rule, and logs the full structured
// form — including any operator-only detail and cause — separately. A
// context-cancellation error (not a *gwerr.Error) degrades to
// INTERNAL_ERROR, since the client disconnecting mid-request is not
// something the caller needs a taxonomy code for; it is logged at info
// level rather than error level.
func writeError(w http.ResponseWriter, err error) {
	gerr, ok := err.(*gwerr.Error)
	if !ok {
		if errors.Is(err, context.Canceled) {
			slog.Info("httpapi: request cancelled by client", "err", err)
		} else {
			slog.Error("httpapi: unclassified error", "err", err)
		}
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: gwerr.CodeInternalError})
		return
	}

	status, ok := statusByCode[gerr.Code]
	if !ok {
		status = http.StatusInternalServerError
	}

	logFields := []any{"code", gerr.Code, "kind", gerr.Kind.String()}
	if gerr.Detail != "" {
		logFields = append(logFields, "detail", gerr.Detail)
	}
	if gerr.Kind == gwerr.Operator {
		slog.Error("httpapi: operator error", append(logFields, "message", gerr.Message)...)
	} else {
		slog.Info("httpapi: request rejected", append(logFields, "message", gerr.Message)...)
	}

	writeJSON(w, status, errorBody{Error: gerr.Message, Code: gerr.Code})
}
