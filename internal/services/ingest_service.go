package services

import (
	"database/sql"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"assetbank/internal/audit"
	"assetbank/internal/constants"
	"assetbank/internal/database"
	"assetbank/internal/logger"
	"assetbank/internal/paths"
	"assetbank/internal/sanitize"
)

// IngestService reconciles on-disk files into catalog rows. It is the only
// writer of Asset and AssetCacheState rows outside the scanner's bulk path.
type IngestService struct {
	services *Services
	logger   *logger.Logger
}

// NewIngestService creates a new ingest service
func NewIngestService(services *Services) *IngestService {
	return &IngestService{
		services: services,
		logger:   services.Logger(),
	}
}

// IngestParams describes one file to reconcile into the catalog.
type IngestParams struct {
	AbsPath string
	Hash    string // canonical form
	Size    int64
	MtimeNS int64
	Mime    string

	// Name selects or creates an AssetInfo when non-empty.
	Name     string
	OwnerID  string
	Tags     []string
	Metadata map[string]interface{}

	// RequireExistingTags skips vocabulary creation and rejects the ingest
	// when any tag is absent from the vocabulary.
	RequireExistingTags bool
	TagOrigin           string
}

// IngestResult reports what an ingest changed.
type IngestResult struct {
	AssetID      string
	AssetCreated bool
	StateCreated bool
	AssetInfoID  string
	InfoCreated  bool
}

// IngestFromPath records that verified content lives at params.AbsPath,
// upserting the Asset by hash and the cache state by path, then attaching
// the named AssetInfo with tags and metadata. One transaction.
func (ig *IngestService) IngestFromPath(params IngestParams) (*IngestResult, error) {
	hash, err := NormalizeHash(params.Hash)
	if err != nil {
		return nil, err
	}
	if params.TagOrigin == "" {
		params.TagOrigin = constants.TagOriginManual
	}

	tx, err := ig.services.DB().Begin()
	if err != nil {
		return nil, WrapInternalError(err)
	}
	defer tx.Rollback()

	asset, created, _, err := database.UpsertAsset(tx, uuid.NewString(), hash, params.Size, params.Mime)
	if err != nil {
		return nil, WrapInternalError(err)
	}

	stateCreated, err := database.UpsertCacheState(tx, asset.ID, params.AbsPath, params.MtimeNS)
	if err != nil {
		return nil, WrapInternalError(err)
	}

	result := &IngestResult{
		AssetID:      asset.ID,
		AssetCreated: created,
		StateCreated: stateCreated,
	}

	if params.Name != "" {
		infoID, infoCreated, err := ig.attachInfo(tx, asset, params.Name, params.OwnerID,
			params.Tags, params.Metadata, params.TagOrigin, params.RequireExistingTags)
		if err != nil {
			return nil, err
		}
		result.AssetInfoID = infoID
		result.InfoCreated = infoCreated
	}

	// A confirmed path means the content is no longer missing.
	if err := database.RemoveMissingTagFromAssetInfos(tx, asset.ID); err != nil {
		ig.logger.Warn("ingest: failed to clear missing tag for asset %s: %v", asset.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, WrapInternalError(err)
	}
	return result, nil
}

// RegisterExistingAsset attaches a new named AssetInfo to content already
// known by hash, without touching the filesystem.
func (ig *IngestService) RegisterExistingAsset(hash, name, ownerID string, tags []string, metadata map[string]interface{}) (*IngestResult, error) {
	canonical, err := NormalizeHash(hash)
	if err != nil {
		return nil, err
	}

	tx, err := ig.services.DB().Begin()
	if err != nil {
		return nil, WrapInternalError(err)
	}
	defer tx.Rollback()

	asset, err := database.GetAssetByHash(tx, canonical)
	if err != nil {
		return nil, WrapInternalError(err)
	}
	if asset == nil {
		return nil, ErrAssetNotFoundWithHash(canonical)
	}

	infoID, infoCreated, err := ig.attachInfo(tx, asset, name, ownerID, tags, metadata,
		constants.TagOriginManual, false)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, WrapInternalError(err)
	}
	return &IngestResult{AssetID: asset.ID, AssetInfoID: infoID, InfoCreated: infoCreated}, nil
}

// attachInfo is the shared tail of both ingest entry points: get-or-create
// the handle, link tags, and rewrite metadata with the derived filename key.
func (ig *IngestService) attachInfo(tx *sql.Tx, asset *database.Asset, name, ownerID string,
	tags []string, metadata map[string]interface{}, origin string, requireExistingTags bool) (string, bool, error) {

	info, infoCreated, err := database.GetOrCreateAssetInfo(tx, uuid.NewString(), asset.ID, ownerID, name, database.NowNS())
	if err != nil {
		return "", false, WrapInternalError(err)
	}

	normalized := database.NormalizeTags(tags)
	if requireExistingTags {
		existing, err := database.GetExistingTagNames(tx, normalized)
		if err != nil {
			return "", false, WrapInternalError(err)
		}
		var unknown []string
		for _, t := range normalized {
			if !existing[t] {
				unknown = append(unknown, t)
			}
		}
		if len(unknown) > 0 {
			return "", false, NewServiceError(constants.ErrCodeInvalidBody,
				fmt.Sprintf("unknown tags: %s", strings.Join(unknown, ", ")))
		}
	} else if err := database.EnsureTagsExist(tx, normalized, constants.TagTypeUser); err != nil {
		return "", false, WrapInternalError(err)
	}
	if _, _, err := database.AddTagsToAssetInfo(tx, info.ID, normalized, origin); err != nil {
		return "", false, WrapInternalError(err)
	}

	merged := info.Metadata()
	for k, v := range metadata {
		merged[k] = v
	}
	ig.mergeDerivedFilename(tx, merged, asset.ID)
	if err := database.ReplaceAssetInfoMetadataProjection(tx, info.ID, merged, ig.services.maxBindParams()); err != nil {
		return "", false, WrapInternalError(err)
	}

	return info.ID, infoCreated, nil
}

// mergeDerivedFilename sets the reserved filename key from the asset's best
// live path. Absence of any live path leaves an existing value untouched.
func (ig *IngestService) mergeDerivedFilename(q database.Querier, metadata map[string]interface{}, assetID string) {
	states, err := database.ListCacheStatesByAssetID(q, assetID)
	if err != nil {
		ig.logger.Warn("ingest: failed to load cache states for asset %s: %v", assetID, err)
		return
	}
	path, ok := bestLivePath(states)
	if !ok {
		return
	}
	rel, err := ig.services.Classifier().RelativeFilename(path)
	if err != nil {
		ig.logger.Debug("ingest: path %s is outside configured roots, keeping basename", path)
		rel = filepath.Base(path)
	}
	metadata[constants.ReservedMetadataKeyFilename] = rel
}

// bestLivePath picks the path to hand out for an asset: an existing path
// with needs_verify clear wins, else the first existing path.
func bestLivePath(states []database.AssetCacheState) (string, bool) {
	var fallback string
	for _, s := range states {
		if _, err := os.Stat(s.FilePath); err != nil {
			continue
		}
		if !s.NeedsVerify {
			return s.FilePath, true
		}
		if fallback == "" {
			fallback = s.FilePath
		}
	}
	if fallback != "" {
		return fallback, true
	}
	return "", false
}

// UploadResult is the outcome of an upload orchestration.
type UploadResult struct {
	AssetInfoID string
	AssetHash   string
	Size        int64
	Name        string
	Tags        []string
	CreatedNew  bool
}

// UploadFromTemp finishes a multipart upload whose body was streamed to
// tempPath. The caller has already validated the tag contract. The temp
// file is consumed: renamed into place on success, deleted otherwise.
func (ig *IngestService) UploadFromTemp(tempPath, declaredHash, clientFilename, name, ownerID string,
	tags []string, metadata map[string]interface{}) (*UploadResult, error) {

	cleanup := true
	defer func() {
		if cleanup {
			if err := os.Remove(tempPath); err != nil && !os.IsNotExist(err) {
				ig.logger.Warn("upload: failed to remove temp file %s: %v", tempPath, err)
			}
		}
		// The uuid directory is empty whether the part was renamed or removed.
		os.Remove(filepath.Dir(tempPath))
	}()

	hash, size, err := HashFile(tempPath)
	if err != nil {
		return nil, WrapUploadIOError(err)
	}
	if size == 0 {
		return nil, ErrEmptyUpload
	}
	if declaredHash != "" {
		declared, err := NormalizeHash(declaredHash)
		if err != nil {
			return nil, err
		}
		if declared != hash {
			return nil, ErrHashMismatch
		}
	}

	if name == "" {
		name = sanitize.Filename(clientFilename)
	}

	exists, err := database.AssetExistsByHash(ig.services.DB(), hash)
	if err != nil {
		return nil, WrapInternalError(err)
	}
	if exists {
		res, err := ig.RegisterExistingAsset(hash, name, ownerID, tags, metadata)
		if err != nil {
			return nil, err
		}
		asset, err := database.GetAssetByHash(ig.services.DB(), hash)
		if err != nil {
			return nil, WrapInternalError(err)
		}
		out := &UploadResult{
			AssetInfoID: res.AssetInfoID,
			AssetHash:   hash,
			Size:        asset.SizeBytes,
			Name:        name,
			Tags:        database.NormalizeTags(tags),
			CreatedNew:  false,
		}
		ig.services.auditLog(constants.AuditActionAssetRegistered, ownerID, uploadDetails(out))
		return out, nil
	}

	destBase, err := ig.services.Classifier().DestinationForTags(database.NormalizeTags(tags))
	if err != nil {
		return nil, NewServiceError(constants.ErrCodeInvalidBody, err.Error())
	}
	if err := os.MkdirAll(destBase, constants.DirPermissions); err != nil {
		return nil, WrapUploadIOError(err)
	}

	ext := sanitize.Extension(filepath.Ext(clientFilename))
	if ext != "" {
		ext = "." + ext
	}
	destPath := filepath.Join(destBase, HashDigest(hash)+ext)
	if err := paths.EnsureWithinBase(destPath, destBase); err != nil {
		return nil, WrapUploadIOError(err)
	}

	if err := os.Rename(tempPath, destPath); err != nil {
		return nil, WrapUploadIOError(err)
	}
	cleanup = false

	st, err := os.Stat(destPath)
	if err != nil {
		return nil, WrapUploadIOError(err)
	}

	if name == "" {
		name = filepath.Base(destPath)
	}

	res, err := ig.IngestFromPath(IngestParams{
		AbsPath:   destPath,
		Hash:      hash,
		Size:      st.Size(),
		MtimeNS:   st.ModTime().UnixNano(),
		Mime:      mimeFromFilename(clientFilename, destPath),
		Name:      name,
		OwnerID:   ownerID,
		Tags:      tags,
		Metadata:  metadata,
		TagOrigin: constants.TagOriginManual,
	})
	if err != nil {
		return nil, err
	}

	out := &UploadResult{
		AssetInfoID: res.AssetInfoID,
		AssetHash:   hash,
		Size:        st.Size(),
		Name:        name,
		Tags:        database.NormalizeTags(tags),
		CreatedNew:  true,
	}
	ig.services.auditLog(constants.AuditActionAssetUploaded, ownerID, uploadDetails(out))
	return out, nil
}

func uploadDetails(r *UploadResult) audit.UploadDetails {
	return audit.UploadDetails{
		Hash:       r.AssetHash,
		Name:       r.Name,
		Size:       r.Size,
		Tags:       r.Tags,
		CreatedNew: r.CreatedNew,
	}
}

// mimeFromFilename guesses a content type from the client filename first,
// then the destination path.
func mimeFromFilename(clientFilename, destPath string) string {
	if t := mime.TypeByExtension(filepath.Ext(clientFilename)); t != "" {
		return t
	}
	if t := mime.TypeByExtension(filepath.Ext(destPath)); t != "" {
		return t
	}
	return ""
}

// NewUploadTempFile creates a fresh uuid-named directory under the upload
// temp dir and returns the path of the part file to stream into.
func (ig *IngestService) NewUploadTempFile() (string, error) {
	dir := filepath.Join(ig.services.Config().Upload.TempDir, uuid.NewString())
	if err := os.MkdirAll(dir, constants.DirPermissions); err != nil {
		return "", WrapUploadIOError(err)
	}
	return filepath.Join(dir, constants.UploadPartFilename), nil
}

// DiscardUploadTemp removes a temp part file and its uuid directory.
func (ig *IngestService) DiscardUploadTemp(tempPath string) {
	if err := os.Remove(tempPath); err != nil && !os.IsNotExist(err) {
		ig.logger.Warn("upload: failed to remove temp file %s: %v", tempPath, err)
	}
	if err := os.Remove(filepath.Dir(tempPath)); err != nil && !os.IsNotExist(err) {
		ig.logger.Debug("upload: failed to remove temp dir for %s: %v", tempPath, err)
	}
}
