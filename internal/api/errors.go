package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	domainerrors "github.com/grimoireapp/grimoire-server/internal/errors"
	"github.com/grimoireapp/grimoire-server/internal/http/response"
	"github.com/grimoireapp/grimoire-server/internal/logger"
)

// APIError implements huma.StatusError with the failure envelope,
// {"success": false, "message": "..."}.
type APIError struct { //nolint:revive // API prefix is intentional for clarity
	status  int
	Success bool   `json:"success" doc:"Always false"`
	Message string `json:"message" doc:"Human-readable error message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// GetStatus implements huma.StatusError.
func (e *APIError) GetStatus() int {
	return e.status
}

// ContentType returns the content type for the error response.
func (e *APIError) ContentType(_ string) string {
	return "application/json"
}

// RegisterErrorHandler makes huma report errors in the failure envelope.
// Domain and store errors keep their own status; huma's request validation
// failures become 400. When verbose is false, 500 messages are generic.
func RegisterErrorHandler(verbose bool) {
	huma.NewError = func(status int, message string, errs ...error) huma.StatusError {
		for _, err := range errs {
			if isClassified(err) {
				code, msg := response.StatusAndMessage(err, verbose)
				return &APIError{status: code, Message: msg}
			}
		}

		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
			message = validationMessage(message, errs)
		}

		if status >= http.StatusInternalServerError && len(errs) > 0 {
			code, msg := response.StatusAndMessage(errors.Join(errs...), verbose)
			return &APIError{status: code, Message: msg}
		}

		return &APIError{status: status, Message: message}
	}
}

func isClassified(err error) bool {
	var domainErr *domainerrors.Error
	if errors.As(err, &domainErr) {
		return true
	}
	return domainerrors.FromContext(err) != nil
}

// validationMessage builds a readable message from huma's error details,
// e.g. "body.email: expected required property email to be present".
func validationMessage(fallback string, errs []error) string {
	parts := make([]string, 0, len(errs))
	for _, err := range errs {
		var detail *huma.ErrorDetail
		if errors.As(err, &detail) {
			if detail.Location != "" {
				parts = append(parts, detail.Location+": "+detail.Message)
			} else {
				parts = append(parts, detail.Message)
			}
			continue
		}
		parts = append(parts, err.Error())
	}
	if len(parts) == 0 {
		return fallback
	}
	return strings.Join(parts, "; ")
}

// apiError converts a service error into the envelope huma writes, so the
// status survives huma's handling of non-StatusError values.
func (s *Server) apiError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	status, message := response.StatusAndMessage(err, s.opts.Verbose)
	if status >= http.StatusInternalServerError {
		logger.FromContext(ctx, s.logger).Error("Request failed", "status", status, "error", err)
	}
	return &APIError{status: status, Message: message}
}

func notFound(msg string) error {
	return domainerrors.NotFound(msg)
}

// writeError writes the failure envelope for err from a plain chi handler.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	response.HandleError(w, err, s.logger, s.opts.Verbose)
}

func (s *Server) writeStatus(w http.ResponseWriter, status int, message string) {
	response.Error(w, status, message, s.logger)
}
