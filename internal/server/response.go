package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"assetbank/internal/constants"
	"assetbank/internal/services"
)

// ErrorBody is the envelope every error response shares.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine code, human message, and optional
// field-level details of an error.
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// WriteError writes a standard error envelope
func WriteError(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) {
	WriteJSON(w, status, ErrorBody{Error: ErrorDetail{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

// WriteSuccess writes a simple success response
func WriteSuccess(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusOK, data)
}

// handleServiceError maps service errors to HTTP responses.
// It extracts the error code from ServiceError and maps it to the appropriate HTTP status.
func (s *Server) handleServiceError(w http.ResponseWriter, err error) {
	code, isServiceErr := services.IsServiceError(err)
	if !isServiceErr {
		s.logger.Error("unhandled error: %v", err)
		WriteError(w, http.StatusInternalServerError, constants.ErrCodeInternal, "internal server error", nil)
		return
	}

	status := http.StatusInternalServerError
	switch code {
	case constants.ErrCodeInvalidHash, constants.ErrCodeInvalidQuery,
		constants.ErrCodeInvalidBody, constants.ErrCodeInvalidJSON,
		constants.ErrCodeMissingFile, constants.ErrCodeEmptyUpload,
		constants.ErrCodeHashMismatch:
		status = http.StatusBadRequest
	case constants.ErrCodeUnsupportedMediaType:
		status = http.StatusUnsupportedMediaType
	case constants.ErrCodeAssetNotFound, constants.ErrCodeFileNotFound:
		status = http.StatusNotFound
	case constants.ErrCodeBackendUnsupported:
		status = http.StatusNotImplemented
	case constants.ErrCodeUploadIOError, constants.ErrCodeInternal:
		status = http.StatusInternalServerError
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed: %v", err)
	}

	message := err.Error()
	var svcErr *services.ServiceError
	if errors.As(err, &svcErr) {
		message = svcErr.Message
	}
	WriteError(w, status, code, message, nil)
}
