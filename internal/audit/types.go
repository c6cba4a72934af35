package audit

import (
	"assetbank/internal/constants"
)

// Entry represents a single audit log entry
type Entry struct {
	ID        int64       `json:"id"`
	Timestamp int64       `json:"timestamp"` // unix nanoseconds
	Action    string      `json:"action"`
	OwnerID   string      `json:"owner_id"`
	Details   interface{} `json:"details,omitempty"`
}

// UploadDetails holds details for asset_uploaded and asset_registered actions
type UploadDetails struct {
	Hash       string   `json:"hash"`
	Name       string   `json:"name"`
	Size       int64    `json:"size"`
	Tags       []string `json:"tags,omitempty"`
	CreatedNew bool     `json:"created_new"`
}

// UpdateDetails holds details for asset_updated and preview_set actions
type UpdateDetails struct {
	AssetInfoID   string   `json:"asset_info_id"`
	FieldsChanged []string `json:"fields_changed,omitempty"`
}

// DeleteDetails holds details for asset_deleted action
type DeleteDetails struct {
	AssetInfoID  string `json:"asset_info_id"`
	AssetDeleted bool   `json:"asset_deleted"`
	FilesRemoved int    `json:"files_removed"`
}

// TagDetails holds details for tags_added and tags_removed actions
type TagDetails struct {
	AssetInfoID string   `json:"asset_info_id"`
	Tags        []string `json:"tags"`
}

// ScanDetails holds details for scan_completed action
type ScanDetails struct {
	Roots           []string `json:"roots"`
	FilesDiscovered int      `json:"files_discovered"`
	StatesVerified  int      `json:"states_verified"`
	StatesFlagged   int      `json:"states_flagged"`
	StatesDeleted   int64    `json:"states_deleted"`
	AssetsDeleted   int64    `json:"assets_deleted"`
	DurationMs      int64    `json:"duration_ms"`
}

// VerifyDetails holds details for verify_completed action
type VerifyDetails struct {
	StatesChecked int   `json:"states_checked"`
	StatesCleared int   `json:"states_cleared"`
	SeedsPromoted int   `json:"seeds_promoted"`
	SeedsMerged   int   `json:"seeds_merged"`
	DurationMs    int64 `json:"duration_ms"`
}

// ValidActions returns all valid audit action types
func ValidActions() []string {
	return []string{
		constants.AuditActionAssetUploaded,
		constants.AuditActionAssetRegistered,
		constants.AuditActionAssetUpdated,
		constants.AuditActionAssetDeleted,
		constants.AuditActionPreviewSet,
		constants.AuditActionTagsAdded,
		constants.AuditActionTagsRemoved,
		constants.AuditActionScanCompleted,
		constants.AuditActionVerifyCompleted,
	}
}

// IsValidAction checks if an action type is valid
func IsValidAction(action string) bool {
	for _, valid := range ValidActions() {
		if action == valid {
			return true
		}
	}
	return false
}
