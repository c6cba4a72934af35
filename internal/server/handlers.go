package server

import (
	"net/http"
	"strconv"
	"strings"

	"assetbank/internal/audit"
	"assetbank/internal/constants"
	"assetbank/internal/database"
	"assetbank/internal/services"
)

// assetJSON renders one handle for API responses.
func assetJSON(d *services.AssetDetail) map[string]interface{} {
	var hash interface{}
	if d.Asset.Hash.Valid {
		hash = d.Asset.Hash.String
	}
	var mimeType interface{}
	if d.Asset.MimeType.Valid {
		mimeType = d.Asset.MimeType.String
	}
	var previewID interface{}
	if d.Info.PreviewID.Valid {
		previewID = d.Info.PreviewID.String
	}
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	return map[string]interface{}{
		"id":               d.Info.ID,
		"asset_id":         d.Info.AssetID,
		"name":             d.Info.Name,
		"asset_hash":       hash,
		"size":             d.Asset.SizeBytes,
		"mime_type":        mimeType,
		"tags":             tags,
		"preview_id":       previewID,
		"user_metadata":    d.Info.Metadata(),
		"created_at":       database.FormatTimestamp(d.Info.CreatedAt),
		"updated_at":       database.FormatTimestamp(d.Info.UpdatedAt),
		"last_access_time": database.FormatTimestamp(d.Info.LastAccessTime),
	}
}

// handleAssets serves the /api/assets collection: listing and upload.
func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListAssets(w, r)
	case http.MethodPost:
		s.handleUpload(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		WriteError(w, http.StatusMethodNotAllowed, constants.ErrCodeInvalidBody, "method not allowed", nil)
	}
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	opts, qerr := parseListAssetsQuery(r, ownerID(r))
	if qerr != nil {
		writeQueryError(w, qerr)
		return
	}

	page, err := s.app.Services.Asset.ListAssets(opts)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}

	assets := make([]map[string]interface{}, 0, len(page.Rows))
	for i := range page.Rows {
		assets = append(assets, assetJSON(&page.Rows[i]))
	}
	WriteSuccess(w, map[string]interface{}{
		"assets":   assets,
		"total":    page.Total,
		"has_more": page.HasMore,
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	parsed, err := s.parseMultipartUpload(r)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}

	if err := validateUploadTags(parsed.Tags); err != nil {
		s.discardPartial(parsed)
		WriteError(w, http.StatusBadRequest, constants.ErrCodeInvalidBody, err.Error(), nil)
		return
	}
	if err := validateName(parsed.Name); err != nil {
		s.discardPartial(parsed)
		WriteError(w, http.StatusBadRequest, constants.ErrCodeInvalidBody, err.Error(), nil)
		return
	}

	// No stored file: only acceptable when the declared hash already
	// resolves to cataloged content. An absent or unknown hash means the
	// request is missing its file part.
	if parsed.TempPath == "" {
		if parsed.DeclaredHash == "" {
			WriteError(w, http.StatusBadRequest, constants.ErrCodeMissingFile,
				"multipart field 'file' is required", nil)
			return
		}
		canonical, err := services.NormalizeHash(parsed.DeclaredHash)
		if err != nil {
			s.handleServiceError(w, err)
			return
		}
		known, err := database.AssetExistsByHash(s.app.DB, canonical)
		if err != nil {
			s.handleServiceError(w, services.WrapInternalError(err))
			return
		}
		if !known {
			WriteError(w, http.StatusBadRequest, constants.ErrCodeMissingFile,
				"multipart field 'file' is required when the declared hash is not cataloged", nil)
			return
		}
		name := parsed.Name
		if name == "" {
			name = parsed.ClientFilename
		}
		res, err := s.app.Services.Ingest.RegisterExistingAsset(
			parsed.DeclaredHash, name, ownerID(r), parsed.Tags, parsed.Metadata)
		if err != nil {
			s.handleServiceError(w, err)
			return
		}
		s.writeUploadResponse(w, r, res.AssetInfoID, http.StatusOK, false)
		return
	}

	result, err := s.app.Services.Ingest.UploadFromTemp(
		parsed.TempPath, parsed.DeclaredHash, parsed.ClientFilename, parsed.Name,
		ownerID(r), parsed.Tags, parsed.Metadata)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}

	status := http.StatusOK
	if result.CreatedNew {
		status = http.StatusCreated
	}
	s.writeUploadResponse(w, r, result.AssetInfoID, status, result.CreatedNew)
}

func (s *Server) writeUploadResponse(w http.ResponseWriter, r *http.Request, infoID string, status int, createdNew bool) {
	detail, err := s.app.Services.Asset.GetAssetDetail(infoID, ownerID(r))
	if err != nil {
		s.handleServiceError(w, err)
		return
	}
	body := assetJSON(detail)
	body["created_new"] = createdNew
	WriteJSON(w, status, body)
}

// handleFromHash creates a new handle for content already known by hash.
func (s *Server) handleFromHash(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		WriteError(w, http.StatusMethodNotAllowed, constants.ErrCodeInvalidBody, "method not allowed", nil)
		return
	}

	var body fromHashBody
	if err := decodeJSONBody(r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, constants.ErrCodeInvalidJSON, "request body is not valid JSON", nil)
		return
	}
	if body.Hash == "" || body.Name == "" {
		WriteError(w, http.StatusBadRequest, constants.ErrCodeInvalidBody, "hash and name are required", nil)
		return
	}
	if err := validateName(body.Name); err != nil {
		WriteError(w, http.StatusBadRequest, constants.ErrCodeInvalidBody, err.Error(), nil)
		return
	}
	metadata, err := parseMetadataValue(body.UserMetadata)
	if err != nil {
		WriteError(w, http.StatusBadRequest, constants.ErrCodeInvalidBody, err.Error(), nil)
		return
	}

	res, err := s.app.Services.Ingest.RegisterExistingAsset(
		body.Hash, body.Name, ownerID(r), database.NormalizeTags(body.Tags), metadata)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}
	s.writeUploadResponse(w, r, res.AssetInfoID, http.StatusCreated, false)
}

// handleHashCheck answers HEAD /api/assets/hash/{hash}.
func (s *Server) handleHashCheck(w http.ResponseWriter, r *http.Request, hash string) {
	if r.Method != http.MethodHead {
		w.Header().Set("Allow", "HEAD")
		WriteError(w, http.StatusMethodNotAllowed, constants.ErrCodeInvalidBody, "method not allowed", nil)
		return
	}
	exists, err := s.app.Services.Asset.AssetExists(hash)
	if err != nil {
		// HEAD responses carry no body; the status alone reports the error.
		if code, ok := services.IsServiceError(err); ok && code == constants.ErrCodeInvalidHash {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if exists {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusNotFound)
	}
}

// handleSeed triggers a scanner pass.
func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		WriteError(w, http.StatusMethodNotAllowed, constants.ErrCodeInvalidBody, "method not allowed", nil)
		return
	}

	var body seedBody
	if r.ContentLength != 0 {
		if err := decodeJSONBody(r, &body); err != nil {
			WriteError(w, http.StatusBadRequest, constants.ErrCodeInvalidJSON, "request body is not valid JSON", nil)
			return
		}
	}

	summary, err := s.app.Services.Scanner.Scan(body.Roots)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}
	WriteSuccess(w, map[string]interface{}{
		"seeded":           summary.Roots,
		"files_discovered": summary.FilesDiscovered,
		"states_verified":  summary.StatesVerified,
		"states_flagged":   summary.StatesFlagged,
		"states_deleted":   summary.StatesDeleted,
		"assets_deleted":   summary.AssetsDeleted,
		"duration_ms":      summary.Duration.Milliseconds(),
	})
}

// handleVerify triggers a verify pass over flagged and seed states.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		WriteError(w, http.StatusMethodNotAllowed, constants.ErrCodeInvalidBody, "method not allowed", nil)
		return
	}

	summary, err := s.app.Services.Verify.Run()
	if err != nil {
		s.handleServiceError(w, err)
		return
	}
	WriteSuccess(w, map[string]interface{}{
		"states_checked": summary.StatesChecked,
		"states_cleared": summary.StatesCleared,
		"seeds_promoted": summary.SeedsPromoted,
		"seeds_merged":   summary.SeedsMerged,
		"duration_ms":    summary.Duration.Milliseconds(),
	})
}

// handleAssetRoutes dispatches /api/assets/{id}[/...] and the named
// sub-collections.
func (s *Server) handleAssetRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/assets/")
	segments := strings.Split(rest, "/")

	switch segments[0] {
	case "from-hash":
		s.handleFromHash(w, r)
		return
	case "seed":
		s.handleSeed(w, r)
		return
	case "verify":
		s.handleVerify(w, r)
		return
	case "hash":
		if len(segments) != 2 {
			WriteError(w, http.StatusNotFound, constants.ErrCodeAssetNotFound, "not found", nil)
			return
		}
		s.handleHashCheck(w, r, segments[1])
		return
	}

	id, ok := parseUUIDParam(segments[0])
	if !ok {
		WriteError(w, http.StatusBadRequest, constants.ErrCodeInvalidQuery, "asset id must be a uuid", nil)
		return
	}

	switch {
	case len(segments) == 1:
		s.handleAssetByID(w, r, id)
	case len(segments) == 2 && segments[1] == "content":
		s.handleDownload(w, r, id)
	case len(segments) == 2 && segments[1] == "tags":
		s.handleAssetTags(w, r, id)
	case len(segments) == 2 && segments[1] == "preview":
		s.handleAssetPreview(w, r, id)
	default:
		WriteError(w, http.StatusNotFound, constants.ErrCodeAssetNotFound, "not found", nil)
	}
}

func (s *Server) handleAssetByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		detail, err := s.app.Services.Asset.GetAssetDetail(id, ownerID(r))
		if err != nil {
			s.handleServiceError(w, err)
			return
		}
		WriteSuccess(w, assetJSON(detail))

	case http.MethodPut:
		s.handleUpdateAsset(w, r, id)

	case http.MethodDelete:
		deleteContent := parseBoolDefaultTrue(r.URL.Query().Get("delete_content"))
		if err := s.app.Services.Asset.DeleteAssetReference(id, ownerID(r), deleteContent); err != nil {
			s.handleServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		WriteError(w, http.StatusMethodNotAllowed, constants.ErrCodeInvalidBody, "method not allowed", nil)
	}
}

func (s *Server) handleUpdateAsset(w http.ResponseWriter, r *http.Request, id string) {
	var body updateAssetBody
	if err := decodeJSONBody(r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, constants.ErrCodeInvalidJSON, "request body is not valid JSON", nil)
		return
	}
	if body.Name == nil && body.Tags == nil && body.UserMetadata == nil {
		WriteError(w, http.StatusBadRequest, constants.ErrCodeInvalidBody,
			"at least one of name, tags, user_metadata is required", nil)
		return
	}
	if body.Name != nil {
		if err := validateName(*body.Name); err != nil {
			WriteError(w, http.StatusBadRequest, constants.ErrCodeInvalidBody, err.Error(), nil)
			return
		}
	}

	params := services.UpdateAssetParams{Name: body.Name, Tags: body.Tags}
	if body.UserMetadata != nil {
		metadata, err := parseMetadataValue(body.UserMetadata)
		if err != nil {
			WriteError(w, http.StatusBadRequest, constants.ErrCodeInvalidBody, err.Error(), nil)
			return
		}
		params.Metadata = metadata
		params.HasMeta = true
	}

	detail, err := s.app.Services.Asset.UpdateAsset(id, ownerID(r), params)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}
	WriteSuccess(w, assetJSON(detail))
}

func (s *Server) handleAssetTags(w http.ResponseWriter, r *http.Request, id string) {
	var body tagsBody
	if err := decodeJSONBody(r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, constants.ErrCodeInvalidJSON, "request body is not valid JSON", nil)
		return
	}
	if len(database.NormalizeTags(body.Tags)) == 0 {
		WriteError(w, http.StatusBadRequest, constants.ErrCodeInvalidBody, "tags must be a non-empty list", nil)
		return
	}

	switch r.Method {
	case http.MethodPost:
		res, err := s.app.Services.Tag.AddTags(id, ownerID(r), body.Tags)
		if err != nil {
			s.handleServiceError(w, err)
			return
		}
		WriteSuccess(w, map[string]interface{}{
			"added":           res.Added,
			"already_present": res.AlreadyPresent,
			"total_tags":      res.TotalTags,
		})

	case http.MethodDelete:
		res, err := s.app.Services.Tag.RemoveTags(id, ownerID(r), body.Tags)
		if err != nil {
			s.handleServiceError(w, err)
			return
		}
		WriteSuccess(w, map[string]interface{}{
			"removed":     res.Removed,
			"not_present": res.NotPresent,
			"total_tags":  res.TotalTags,
		})

	default:
		w.Header().Set("Allow", "POST, DELETE")
		WriteError(w, http.StatusMethodNotAllowed, constants.ErrCodeInvalidBody, "method not allowed", nil)
	}
}

func (s *Server) handleAssetPreview(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPut {
		w.Header().Set("Allow", "PUT")
		WriteError(w, http.StatusMethodNotAllowed, constants.ErrCodeInvalidBody, "method not allowed", nil)
		return
	}

	var body previewBody
	if err := decodeJSONBody(r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, constants.ErrCodeInvalidJSON, "request body is not valid JSON", nil)
		return
	}

	previewID := ""
	if body.PreviewID != nil && *body.PreviewID != "" {
		parsed, ok := parseUUIDParam(*body.PreviewID)
		if !ok {
			WriteError(w, http.StatusBadRequest, constants.ErrCodeInvalidBody, "preview_id must be a uuid or null", nil)
			return
		}
		previewID = parsed
	}

	if err := s.app.Services.Asset.SetAssetPreview(id, ownerID(r), previewID); err != nil {
		s.handleServiceError(w, err)
		return
	}
	detail, err := s.app.Services.Asset.GetAssetDetail(id, ownerID(r))
	if err != nil {
		s.handleServiceError(w, err)
		return
	}
	WriteSuccess(w, assetJSON(detail))
}

// handleTags serves GET /api/tags.
func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		WriteError(w, http.StatusMethodNotAllowed, constants.ErrCodeInvalidBody, "method not allowed", nil)
		return
	}

	opts, qerr := parseListTagsQuery(r, ownerID(r))
	if qerr != nil {
		writeQueryError(w, qerr)
		return
	}

	page, err := s.app.Services.Tag.ListTags(opts)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}

	tags := make([]map[string]interface{}, 0, len(page.Tags))
	for _, t := range page.Tags {
		tags = append(tags, map[string]interface{}{
			"name":  t.Name,
			"type":  t.TagType,
			"count": t.Count,
		})
	}
	WriteSuccess(w, map[string]interface{}{
		"tags":     tags,
		"total":    page.Total,
		"has_more": page.HasMore,
	})
}

// handleAuditQuery serves GET /api/audit.
func (s *Server) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		WriteError(w, http.StatusMethodNotAllowed, constants.ErrCodeInvalidBody, "method not allowed", nil)
		return
	}

	q := r.URL.Query()
	opts := audit.QueryOptions{
		Action:  q.Get("action"),
		OwnerID: q.Get("owner_id"),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeQueryError(w, &queryError{"limit", "must be a positive integer"})
			return
		}
		opts.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeQueryError(w, &queryError{"offset", "must be a non-negative integer"})
			return
		}
		opts.Offset = n
	}

	entries, err := audit.Query(s.app.DB, opts)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}
	total, err := audit.Count(s.app.DB, opts)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	WriteSuccess(w, map[string]interface{}{
		"entries": entries,
		"total":   total,
	})
}
