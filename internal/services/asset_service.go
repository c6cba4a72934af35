package services

import (
	"mime"
	"os"
	"path/filepath"

	"assetbank/internal/audit"
	"assetbank/internal/constants"
	"assetbank/internal/database"
	"assetbank/internal/logger"
)

// AssetService implements the management operations over catalog handles:
// detail, listing, update, delete, preview, and content resolution.
type AssetService struct {
	services *Services
	logger   *logger.Logger
}

// NewAssetService creates a new asset service
func NewAssetService(services *Services) *AssetService {
	return &AssetService{
		services: services,
		logger:   services.Logger(),
	}
}

// AssetDetail is one handle with its content row and ordered tags.
type AssetDetail struct {
	Info  database.AssetInfo
	Asset database.Asset
	Tags  []string
}

// GetAssetDetail loads one visible handle with its asset and tags.
func (as *AssetService) GetAssetDetail(infoID, ownerID string) (*AssetDetail, error) {
	row, err := database.FetchInfoAndAsset(as.services.DB(), infoID, ownerID)
	if err != nil {
		return nil, WrapInternalError(err)
	}
	if row == nil {
		return nil, ErrAssetNotFound
	}
	tags, err := database.GetAssetTags(as.services.DB(), row.Info.ID)
	if err != nil {
		return nil, WrapInternalError(err)
	}
	return &AssetDetail{Info: row.Info, Asset: row.Asset, Tags: tags}, nil
}

// AssetPage is one page of the filtered listing.
type AssetPage struct {
	Rows    []AssetDetail
	Total   int64
	HasMore bool
}

// ListAssets runs the filtered, paginated listing.
func (as *AssetService) ListAssets(opts database.ListAssetsOptions) (*AssetPage, error) {
	rows, tagMap, total, err := database.ListAssetInfos(as.services.DB(), opts)
	if err != nil {
		return nil, WrapInternalError(err)
	}

	page := &AssetPage{Total: total}
	for _, r := range rows {
		tags := tagMap[r.Info.ID]
		if tags == nil {
			tags = []string{}
		}
		page.Rows = append(page.Rows, AssetDetail{Info: r.Info, Asset: r.Asset, Tags: tags})
	}
	page.HasMore = int64(opts.Offset+len(rows)) < total
	return page, nil
}

// UpdateAssetParams carries the optional fields of an update. Nil pointers
// leave the field untouched.
type UpdateAssetParams struct {
	Name     *string
	Tags     []string
	Metadata map[string]interface{}
	HasMeta  bool
}

// UpdateAsset applies the provided fields to a visible handle. The derived
// filename key is always recomputed into the final metadata.
func (as *AssetService) UpdateAsset(infoID, ownerID string, params UpdateAssetParams) (*AssetDetail, error) {
	tx, err := as.services.DB().Begin()
	if err != nil {
		return nil, WrapInternalError(err)
	}
	defer tx.Rollback()

	info, err := database.GetAssetInfoByID(tx, infoID, ownerID)
	if err != nil {
		return nil, WrapInternalError(err)
	}
	if info == nil {
		return nil, ErrAssetNotFound
	}

	var changed []string
	if params.Name != nil {
		if _, err := database.RenameAssetInfo(tx, info.ID, ownerID, *params.Name); err != nil {
			return nil, WrapInternalError(err)
		}
		changed = append(changed, "name")
	}
	if params.Tags != nil {
		normalized := database.NormalizeTags(params.Tags)
		if err := database.EnsureTagsExist(tx, normalized, constants.TagTypeUser); err != nil {
			return nil, WrapInternalError(err)
		}
		if err := database.SetAssetInfoTags(tx, info.ID, normalized, constants.TagOriginManual); err != nil {
			return nil, WrapInternalError(err)
		}
		changed = append(changed, "tags")
	}

	metadata := info.Metadata()
	if params.HasMeta {
		metadata = params.Metadata
		if metadata == nil {
			metadata = map[string]interface{}{}
		}
		changed = append(changed, "user_metadata")
	}
	as.services.Ingest.mergeDerivedFilename(tx, metadata, info.AssetID)
	if err := database.ReplaceAssetInfoMetadataProjection(tx, info.ID, metadata, as.services.maxBindParams()); err != nil {
		return nil, WrapInternalError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, WrapInternalError(err)
	}

	as.services.auditLog(constants.AuditActionAssetUpdated, ownerID, audit.UpdateDetails{
		AssetInfoID:   infoID,
		FieldsChanged: changed,
	})
	return as.GetAssetDetail(infoID, ownerID)
}

// DeleteAssetReference removes a visible handle. When deleteIfOrphan is set
// and no other handle references the asset, the asset and its cache states
// go too; files are removed from disk best-effort after the commit.
func (as *AssetService) DeleteAssetReference(infoID, ownerID string, deleteIfOrphan bool) error {
	tx, err := as.services.DB().Begin()
	if err != nil {
		return WrapInternalError(err)
	}
	defer tx.Rollback()

	info, err := database.GetAssetInfoByID(tx, infoID, ownerID)
	if err != nil {
		return WrapInternalError(err)
	}
	if info == nil {
		return ErrAssetNotFound
	}

	deleted, err := database.DeleteAssetInfoByID(tx, info.ID, ownerID)
	if err != nil {
		return WrapInternalError(err)
	}
	if !deleted {
		return ErrAssetNotFound
	}

	var orphanPaths []string
	assetDeleted := false
	if deleteIfOrphan {
		inUse, err := database.AssetInfoExistsForAssetID(tx, info.AssetID)
		if err != nil {
			return WrapInternalError(err)
		}
		if !inUse {
			states, err := database.ListCacheStatesByAssetID(tx, info.AssetID)
			if err != nil {
				return WrapInternalError(err)
			}
			for _, s := range states {
				orphanPaths = append(orphanPaths, s.FilePath)
			}
			if _, err := database.DeleteAssetsByIDs(tx, []string{info.AssetID}, as.services.maxBindParams()); err != nil {
				return WrapInternalError(err)
			}
			assetDeleted = true
		}
	}

	if err := tx.Commit(); err != nil {
		return WrapInternalError(err)
	}

	// Disk cleanup happens outside the transaction; a failure here leaves
	// an orphan file the next scanner pass can re-seed or the operator can
	// remove, never a dangling row.
	removed := 0
	for _, p := range orphanPaths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			as.logger.Warn("delete: failed to remove orphan file %s: %v", p, err)
			continue
		}
		removed++
	}

	as.services.auditLog(constants.AuditActionAssetDeleted, ownerID, audit.DeleteDetails{
		AssetInfoID:  infoID,
		AssetDeleted: assetDeleted,
		FilesRemoved: removed,
	})
	return nil
}

// SetAssetPreview sets or clears the handle's preview asset. A non-empty
// preview id must resolve to an existing asset.
func (as *AssetService) SetAssetPreview(infoID, ownerID, previewAssetID string) error {
	tx, err := as.services.DB().Begin()
	if err != nil {
		return WrapInternalError(err)
	}
	defer tx.Rollback()

	info, err := database.GetAssetInfoByID(tx, infoID, ownerID)
	if err != nil {
		return WrapInternalError(err)
	}
	if info == nil {
		return ErrAssetNotFound
	}

	if previewAssetID != "" {
		target, err := database.GetAssetByID(tx, previewAssetID)
		if err != nil {
			return WrapInternalError(err)
		}
		if target == nil {
			return NewServiceError(constants.ErrCodeAssetNotFound, "preview asset not found")
		}
		if _, err := database.SetAssetInfoPreview(tx, info.ID, ownerID, previewAssetID); err != nil {
			return WrapInternalError(err)
		}
	} else {
		if _, err := tx.Exec(`UPDATE asset_infos SET preview_id = NULL, updated_at = ? WHERE id = ?`,
			database.NowNS(), info.ID); err != nil {
			return WrapInternalError(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return WrapInternalError(err)
	}

	as.services.auditLog(constants.AuditActionPreviewSet, ownerID, audit.UpdateDetails{
		AssetInfoID:   infoID,
		FieldsChanged: []string{"preview_id"},
	})
	return nil
}

// ResolvedContent locates a streamable file for a handle.
type ResolvedContent struct {
	AbsPath      string
	ContentType  string
	DownloadName string
	Size         int64
}

// ResolveContent finds the best live path for a visible handle and touches
// its access time. The HTTP layer streams the file.
func (as *AssetService) ResolveContent(infoID, ownerID string) (*ResolvedContent, error) {
	row, err := database.FetchInfoAndAsset(as.services.DB(), infoID, ownerID)
	if err != nil {
		return nil, WrapInternalError(err)
	}
	if row == nil {
		return nil, ErrAssetNotFound
	}

	states, err := database.ListCacheStatesByAssetID(as.services.DB(), row.Asset.ID)
	if err != nil {
		return nil, WrapInternalError(err)
	}
	path, ok := bestLivePath(states)
	if !ok {
		return nil, ErrFileNotFound
	}

	if err := database.TouchAssetInfo(as.services.DB(), row.Info.ID, database.NowNS()); err != nil {
		as.logger.Warn("download: failed to touch access time for %s: %v", row.Info.ID, err)
	}

	name := row.Info.Name
	if name == "" {
		name = filepath.Base(path)
	}

	contentType := ""
	if row.Asset.MimeType.Valid {
		contentType = row.Asset.MimeType.String
	}
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(name))
	}
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(path))
	}
	if contentType == "" {
		contentType = constants.DefaultMimeType
	}

	st, err := os.Stat(path)
	if err != nil {
		return nil, ErrFileNotFound
	}

	return &ResolvedContent{
		AbsPath:      path,
		ContentType:  contentType,
		DownloadName: name,
		Size:         st.Size(),
	}, nil
}

// AssetExists reports whether content with the given hash is cataloged.
func (as *AssetService) AssetExists(hash string) (bool, error) {
	canonical, err := NormalizeHash(hash)
	if err != nil {
		return false, err
	}
	exists, err := database.AssetExistsByHash(as.services.DB(), canonical)
	if err != nil {
		return false, WrapInternalError(err)
	}
	return exists, nil
}
