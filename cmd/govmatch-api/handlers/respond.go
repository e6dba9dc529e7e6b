// Package handlers implements the HTTP handlers for the GovMatch API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/govmatch-ai/govmatch/internal/objectstore"
	"github.com/govmatch-ai/govmatch/internal/profile"
	"github.com/govmatch-ai/govmatch/internal/storage"
	"github.com/govmatch-ai/govmatch/internal/weights"
)

// Error codes returned in the response envelope.
const (
	CodeInvalidJSON      = "INVALID_JSON"
	CodeMissingField     = "MISSING_FIELD"
	CodeMissingFilename  = "MISSING_FILENAME"
	CodeFileTooLarge     = "FILE_TOO_LARGE"
	CodeInvalidFileType  = "INVALID_FILE_TYPE"
	CodeAccessDenied     = "ACCESS_DENIED"
	CodeDocumentNotFound = "DOCUMENT_NOT_FOUND"
	CodeDocumentNotReady = "DOCUMENT_NOT_READY"
	CodeCompanyNotFound  = "COMPANY_NOT_FOUND"
	CodeProcessingFailed = "PROCESSING_FAILED"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeInternalError    = "INTERNAL_ERROR"

	// Schedule management codes, outside the document contract.
	CodeScheduleExists   = "SCHEDULE_EXISTS"
	CodeScheduleNotFound = "SCHEDULE_NOT_FOUND"
)

// Envelope is the uniform response shape for every API endpoint.
type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// validate checks request DTOs against their struct tags.
var validate = validator.New(validator.WithRequiredStructEnabled())

func writeJSON(w http.ResponseWriter, status int, body Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteData writes a success envelope.
func WriteData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Envelope{Success: true, Data: data})
}

// WriteError writes a failure envelope with the given code.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Envelope{Success: false, Error: &ErrorBody{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}})
}

// WriteServiceError maps a service-layer error onto the API's error codes.
func WriteServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, profile.ErrInvalidFileType):
		WriteError(w, http.StatusBadRequest, CodeInvalidFileType, err.Error())
	case errors.Is(err, profile.ErrFileTooLarge):
		WriteError(w, http.StatusBadRequest, CodeFileTooLarge, err.Error())
	case errors.Is(err, profile.ErrAccessDenied):
		WriteError(w, http.StatusForbidden, CodeAccessDenied, err.Error())
	case errors.Is(err, profile.ErrDocumentNotFound):
		WriteError(w, http.StatusNotFound, CodeDocumentNotFound, err.Error())
	case errors.Is(err, profile.ErrDocumentNotReady):
		WriteError(w, http.StatusConflict, CodeDocumentNotReady, err.Error())
	case errors.Is(err, weights.ErrInvalidConfig):
		WriteError(w, http.StatusBadRequest, CodeMissingField, err.Error())
	case errors.Is(err, objectstore.ErrTokenExpired), errors.Is(err, objectstore.ErrTokenInvalid):
		WriteError(w, http.StatusForbidden, CodeAccessDenied, err.Error())
	case errors.Is(err, objectstore.ErrNotFound):
		WriteError(w, http.StatusNotFound, CodeDocumentNotFound, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		WriteError(w, http.StatusNotFound, CodeCompanyNotFound, err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
	}
}

// decodeBody decodes and validates a JSON request body into dst. On failure
// it writes the error envelope and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		WriteError(w, http.StatusBadRequest, CodeInvalidJSON, "request body is not valid JSON")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			field := verrs[0].Field()
			code := CodeMissingField
			if field == "Filename" {
				code = CodeMissingFilename
			}
			WriteError(w, http.StatusBadRequest, code, "missing or invalid field: "+field)
			return false
		}
		WriteError(w, http.StatusBadRequest, CodeMissingField, err.Error())
		return false
	}
	return true
}

// MethodNotAllowed is the router's fallback for unsupported verbs.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	WriteError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, r.Method+" is not supported on this resource")
}
