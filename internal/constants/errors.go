package constants

// Error codes shared between the services layer and the HTTP adapter.
// The HTTP adapter maps each code to a status; see server.handleServiceError.
const (
	// Validation (400)
	ErrCodeInvalidHash  = "INVALID_HASH"
	ErrCodeInvalidQuery = "INVALID_QUERY"
	ErrCodeInvalidBody  = "INVALID_BODY"
	ErrCodeInvalidJSON  = "INVALID_JSON"

	// Upload (400 / 415 / 500)
	ErrCodeMissingFile          = "MISSING_FILE"
	ErrCodeEmptyUpload          = "EMPTY_UPLOAD"
	ErrCodeHashMismatch         = "HASH_MISMATCH"
	ErrCodeUnsupportedMediaType = "UNSUPPORTED_MEDIA_TYPE"
	ErrCodeUploadIOError        = "UPLOAD_IO_ERROR"

	// Lookup (404)
	ErrCodeAssetNotFound = "ASSET_NOT_FOUND"
	ErrCodeFileNotFound  = "FILE_NOT_FOUND"

	// Other
	ErrCodeBackendUnsupported = "BACKEND_UNSUPPORTED" // 501
	ErrCodeInternal           = "INTERNAL"            // 500
)

// Audit actions
const (
	AuditActionAssetUploaded   = "asset_uploaded"
	AuditActionAssetRegistered = "asset_registered"
	AuditActionAssetUpdated    = "asset_updated"
	AuditActionAssetDeleted    = "asset_deleted"
	AuditActionPreviewSet      = "preview_set"
	AuditActionTagsAdded       = "tags_added"
	AuditActionTagsRemoved     = "tags_removed"
	AuditActionScanCompleted   = "scan_completed"
	AuditActionVerifyCompleted = "verify_completed"
)
