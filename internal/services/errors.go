package services

import (
	"errors"
	"fmt"

	"assetbank/internal/constants"
)

// ServiceError represents a service-level error with an error code
type ServiceError struct {
	Code    string
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError creates a new service error
func NewServiceError(code, message string) *ServiceError {
	return &ServiceError{Code: code, Message: message}
}

// WrapServiceError wraps an existing error with a service error
func WrapServiceError(code, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, Err: err}
}

// IsServiceError checks if an error is a ServiceError and returns its code
func IsServiceError(err error) (string, bool) {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Code, true
	}
	return "", false
}

// Pre-defined service errors for common cases
var (
	ErrInvalidHash  = NewServiceError(constants.ErrCodeInvalidHash, "invalid hash format")
	ErrMissingFile  = NewServiceError(constants.ErrCodeMissingFile, "multipart field 'file' is required")
	ErrEmptyUpload  = NewServiceError(constants.ErrCodeEmptyUpload, "uploaded file is empty")
	ErrHashMismatch = NewServiceError(constants.ErrCodeHashMismatch, "uploaded content does not match the declared hash")

	ErrAssetNotFound = NewServiceError(constants.ErrCodeAssetNotFound, "asset not found")
	ErrFileNotFound  = NewServiceError(constants.ErrCodeFileNotFound, "no file for this asset exists on disk")

	ErrInternal = NewServiceError(constants.ErrCodeInternal, "internal server error")
)

// Asset errors with context
func ErrAssetNotFoundWithHash(hash string) *ServiceError {
	return &ServiceError{
		Code:    constants.ErrCodeAssetNotFound,
		Message: fmt.Sprintf("asset not found: %s", hash),
	}
}

func ErrInvalidHashWithDetail(detail string) *ServiceError {
	return &ServiceError{
		Code:    constants.ErrCodeInvalidHash,
		Message: fmt.Sprintf("invalid hash format: %s", detail),
	}
}

// Wrap internal errors
func WrapInternalError(err error) *ServiceError {
	return WrapServiceError(constants.ErrCodeInternal, "internal error", err)
}

func WrapUploadIOError(err error) *ServiceError {
	return WrapServiceError(constants.ErrCodeUploadIOError, "upload failed", err)
}
