// Package response writes the API's JSON envelopes and maps errors to status codes.
//
// Successful responses are a flat object with "success": true next to the payload
// fields. Failures are always {"success": false, "message": "..."}.
package response

import (
	"encoding/json"
	"log/slog"
	"net/http"

	domainerrors "github.com/grimoireapp/grimoire-server/internal/errors"
	"github.com/grimoireapp/grimoire-server/internal/store"
)

// Fields holds the payload of a success envelope.
type Fields map[string]any

// Failure is the error envelope.
type Failure struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// genericInternalMessage replaces 500 details when verbose output is off.
const genericInternalMessage = "internal server error"

// JSON writes body as JSON with the given status code.
func JSON(w http.ResponseWriter, status int, body any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil && logger != nil {
		logger.Error("Failed to encode JSON response", "error", err)
	}
}

// Envelope builds a success envelope from fields.
func Envelope(fields Fields) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["success"] = true
	return out
}

// Success writes a 200 OK success envelope.
func Success(w http.ResponseWriter, fields Fields, logger *slog.Logger) {
	JSON(w, http.StatusOK, Envelope(fields), logger)
}

// Created writes a 201 Created success envelope.
func Created(w http.ResponseWriter, fields Fields, logger *slog.Logger) {
	JSON(w, http.StatusCreated, Envelope(fields), logger)
}

// Error writes a failure envelope with the given status code.
func Error(w http.ResponseWriter, status int, message string, logger *slog.Logger) {
	JSON(w, status, Failure{Success: false, Message: message}, logger)
}

// StatusAndMessage resolves the HTTP status and client message for err.
// Messages of 5xx errors are replaced by a generic one unless verbose is set.
func StatusAndMessage(err error, verbose bool) (int, string) {
	status := http.StatusInternalServerError
	message := err.Error()

	var domainErr *domainerrors.Error
	var storeErr *store.Error
	switch {
	case domainerrors.As(err, &domainErr):
		status = domainErr.HTTPStatus()
		message = domainErr.Message
		if verbose && status >= http.StatusInternalServerError {
			message = domainErr.Error()
		}
	case domainerrors.As(err, &storeErr):
		status = storeErr.HTTPCode()
		message = storeErr.Message
	default:
		if ctxErr := domainerrors.FromContext(err); ctxErr != nil {
			status = ctxErr.HTTPStatus()
			message = ctxErr.Message
		}
	}

	if status >= http.StatusInternalServerError && status != http.StatusGatewayTimeout && !verbose {
		message = genericInternalMessage
	}
	return status, message
}

// HandleError writes the failure envelope for err. Unclassified errors become 500
// and are logged with full detail.
func HandleError(w http.ResponseWriter, err error, logger *slog.Logger, verbose bool) {
	status, message := StatusAndMessage(err, verbose)
	if status >= http.StatusInternalServerError && logger != nil {
		logger.Error("Request failed", "status", status, "error", err)
	}
	Error(w, status, message, logger)
}
