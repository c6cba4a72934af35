package database

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Asset is a content blob. Hash is NULL for seed assets created by the
// scanner before hashing; SizeBytes 0 means unknown.
type Asset struct {
	ID        string
	Hash      sql.NullString
	SizeBytes int64
	MimeType  sql.NullString
	CreatedAt int64 // unix nanoseconds, UTC
}

// AssetCacheState is an on-disk locator for an Asset.
type AssetCacheState struct {
	ID          int64
	AssetID     string
	FilePath    string
	MtimeNS     int64
	NeedsVerify bool
}

// AssetInfo is a named, tagged handle onto an Asset within an owner scope.
type AssetInfo struct {
	ID             string
	AssetID        string
	OwnerID        string
	Name           string
	PreviewID      sql.NullString
	UserMetadata   sql.NullString // JSON object text
	CreatedAt      int64
	UpdatedAt      int64
	LastAccessTime int64
}

// Metadata decodes the stored user_metadata JSON. A NULL or empty column
// yields an empty map.
func (i *AssetInfo) Metadata() map[string]interface{} {
	if !i.UserMetadata.Valid || i.UserMetadata.String == "" {
		return map[string]interface{}{}
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal([]byte(i.UserMetadata.String), &out); err != nil {
		return map[string]interface{}{}
	}
	return out
}

// Tag is a vocabulary entry.
type Tag struct {
	Name    string
	TagType string // 'user' | 'system'
}

// AssetInfoMeta is one typed EAV projection row of user_metadata.
// At most one value column is set; all nil encodes an explicit JSON null.
type AssetInfoMeta struct {
	AssetInfoID string
	Key         string
	Ordinal     int
	ValStr      *string
	ValNum      *float64
	ValBool     *bool
	ValJSON     *string // canonical JSON text
}

// InfoWithAsset pairs a handle with its content row for listings.
type InfoWithAsset struct {
	Info  AssetInfo
	Asset Asset
}

// CacheStateWithAsset joins a locator with the owning asset's identity,
// as loaded by the scanner's reconcile phase.
type CacheStateWithAsset struct {
	StateID     int64
	AssetID     string
	FilePath    string
	MtimeNS     int64
	NeedsVerify bool
	AssetHash   sql.NullString
	SizeBytes   int64
}

// TagUsage is one row of the tag listing: vocabulary entry plus how many
// visible asset infos carry it.
type TagUsage struct {
	Name    string
	TagType string
	Count   int64
}

// NowNS returns the current UTC time in unix nanoseconds, the storage
// representation for all catalog timestamps.
func NowNS() int64 {
	return time.Now().UTC().UnixNano()
}

// FormatTimestamp renders a stored nanosecond timestamp as RFC 3339 UTC.
func FormatTimestamp(ns int64) string {
	return time.Unix(0, ns).UTC().Format(time.RFC3339Nano)
}
