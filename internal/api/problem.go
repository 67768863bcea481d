package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hyperengineering/tasksync/internal/store"
	"github.com/hyperengineering/tasksync/internal/validation"
)

// Error codes carried in ErrorResponse.Code.
const (
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeBadRequest    = "BAD_REQUEST"
	CodeValidation    = "VALIDATION_ERROR"
	CodeNotFound      = "NOT_FOUND"
	CodeInternalError = "INTERNAL_ERROR"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code      string                       `json:"code"`
	Message   string                       `json:"message"`
	RequestID string                       `json:"requestId,omitempty"`
	Errors    []validation.ValidationError `json:"errors,omitempty"`
}

// codeForStatus maps an HTTP status to its error code.
func codeForStatus(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusBadRequest, http.StatusMethodNotAllowed, http.StatusRequestEntityTooLarge:
		return CodeBadRequest
	default:
		if status >= 500 {
			return CodeInternalError
		}
		return CodeBadRequest
	}
}

// WriteProblem writes an error response whose code derives from status.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeError(w, r, status, ErrorResponse{Code: codeForStatus(status), Message: message})
}

// WriteValidationErrors writes a 400 VALIDATION_ERROR response listing the
// offending fields.
func WriteValidationErrors(w http.ResponseWriter, r *http.Request, message string, errs []validation.ValidationError) {
	writeError(w, r, http.StatusBadRequest, ErrorResponse{
		Code:    CodeValidation,
		Message: message,
		Errors:  errs,
	})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, body ErrorResponse) {
	body.RequestID = middleware.GetReqID(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// MapStoreError converts store errors to error responses.
func MapStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		WriteProblem(w, r, http.StatusNotFound, "Resource not found")
	default:
		// Never expose internal error details to client
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}
