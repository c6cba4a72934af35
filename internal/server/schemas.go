package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"assetbank/internal/constants"
	"assetbank/internal/database"
)

// ownerID extracts the caller's opaque owner scope. Absent header means the
// public scope "".
func ownerID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(constants.HeaderOwnerID))
}

// queryError reports a bad query parameter with field-level detail.
type queryError struct {
	field   string
	message string
}

func (e *queryError) Error() string {
	return fmt.Sprintf("%s: %s", e.field, e.message)
}

func writeQueryError(w http.ResponseWriter, err *queryError) {
	WriteError(w, http.StatusBadRequest, constants.ErrCodeInvalidQuery, "invalid query parameter",
		map[string]interface{}{"field": err.field, "message": err.message})
}

// parseUUIDParam validates a canonical hyphenated uuid path segment.
func parseUUIDParam(raw string) (string, bool) {
	if len(raw) != 36 {
		return "", false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", false
	}
	return id.String(), true
}

// parseTagsParam accepts repeated parameters and CSV values.
func parseTagsParam(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return database.NormalizeTags(out)
}

func parseLimit(raw string, def, max int) (int, *queryError) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &queryError{"limit", "must be an integer"}
	}
	if n < 1 || n > max {
		return 0, &queryError{"limit", fmt.Sprintf("must be between 1 and %d", max)}
	}
	return n, nil
}

func parseOffset(raw string) (int, *queryError) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &queryError{"offset", "must be a non-negative integer"}
	}
	return n, nil
}

// parseMetadataValue accepts a JSON object, a JSON-object string, or
// nothing.
func parseMetadataValue(raw json.RawMessage) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var direct map[string]interface{}
	if err := json.Unmarshal(raw, &direct); err == nil {
		return direct, nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		asString = strings.TrimSpace(asString)
		if asString == "" {
			return nil, nil
		}
		var nested map[string]interface{}
		if err := json.Unmarshal([]byte(asString), &nested); err != nil {
			return nil, fmt.Errorf("user_metadata string is not a JSON object")
		}
		return nested, nil
	}
	return nil, fmt.Errorf("user_metadata must be a JSON object")
}

// parseMetadataFormValue handles the multipart form variant (always text).
func parseMetadataFormValue(raw string) (map[string]interface{}, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, fmt.Errorf("user_metadata must be a JSON object")
	}
	return obj, nil
}

// parseListAssetsQuery validates GET /api/assets parameters. Unknown sort
// keys and orders fall back to created_at / desc.
func parseListAssetsQuery(r *http.Request, owner string) (database.ListAssetsOptions, *queryError) {
	q := r.URL.Query()
	opts := database.ListAssetsOptions{
		OwnerID:      owner,
		IncludeTags:  parseTagsParam(q["include_tags"]),
		ExcludeTags:  parseTagsParam(q["exclude_tags"]),
		NameContains: strings.TrimSpace(q.Get("name_contains")),
	}

	limit, qerr := parseLimit(q.Get("limit"), constants.DefaultAssetsPageLimit, constants.MaxAssetsPageLimit)
	if qerr != nil {
		return opts, qerr
	}
	opts.Limit = limit

	offset, qerr := parseOffset(q.Get("offset"))
	if qerr != nil {
		return opts, qerr
	}
	opts.Offset = offset

	sortBy := q.Get("sort")
	if !database.SortColumnAllowed(sortBy) {
		sortBy = "created_at"
	}
	opts.SortBy = sortBy

	order := strings.ToLower(q.Get("order"))
	if order != "asc" {
		order = "desc"
	}
	opts.Order = order

	if raw := q.Get("metadata_filter"); raw != "" {
		var filter map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &filter); err != nil {
			return opts, &queryError{"metadata_filter", "must be a JSON object"}
		}
		opts.MetadataFilter = filter
	}

	return opts, nil
}

// parseListTagsQuery validates GET /api/tags parameters.
func parseListTagsQuery(r *http.Request, owner string) (database.ListTagsOptions, *queryError) {
	q := r.URL.Query()
	opts := database.ListTagsOptions{
		OwnerID: owner,
		Prefix:  strings.TrimSpace(q.Get("prefix")),
	}

	limit, qerr := parseLimit(q.Get("limit"), constants.DefaultTagsPageLimit, constants.MaxTagsPageLimit)
	if qerr != nil {
		return opts, qerr
	}
	opts.Limit = limit

	offset, qerr := parseOffset(q.Get("offset"))
	if qerr != nil {
		return opts, qerr
	}
	opts.Offset = offset

	switch order := q.Get("order"); order {
	case "", "count_desc":
		opts.Order = "count_desc"
	case "name_asc":
		opts.Order = "name_asc"
	default:
		return opts, &queryError{"order", "must be count_desc or name_asc"}
	}

	switch zero := strings.ToLower(q.Get("include_zero")); zero {
	case "", "0", "false", "no":
		opts.IncludeZero = false
	default:
		opts.IncludeZero = true
	}

	return opts, nil
}

// validateUploadTags enforces the upload tag contract: the first tag names
// a root, and models uploads carry a category tag.
func validateUploadTags(tags []string) error {
	if len(tags) == 0 {
		return fmt.Errorf("tags are required; the first tag must be one of %s",
			strings.Join(constants.AllowedRoots, ", "))
	}
	root := tags[0]
	valid := false
	for _, r := range constants.AllowedRoots {
		if root == r {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("first tag must be one of %s", strings.Join(constants.AllowedRoots, ", "))
	}
	if root == constants.RootModels && len(tags) < 2 {
		return fmt.Errorf("models uploads require a category tag")
	}
	return nil
}

// validateName bounds a display name.
func validateName(name string) error {
	if len(name) > constants.MaxAssetNameLength {
		return fmt.Errorf("name exceeds %d characters", constants.MaxAssetNameLength)
	}
	return nil
}

// parseBoolDefaultTrue treats only explicit negatives as false.
func parseBoolDefaultTrue(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "0", "false", "no":
		return false
	}
	return true
}

// updateAssetBody is the PUT /api/assets/{id} payload.
type updateAssetBody struct {
	Name         *string         `json:"name"`
	Tags         []string        `json:"tags"`
	UserMetadata json.RawMessage `json:"user_metadata"`
}

// tagsBody is the body of tag add/remove requests.
type tagsBody struct {
	Tags []string `json:"tags"`
}

// fromHashBody is the POST /api/assets/from-hash payload.
type fromHashBody struct {
	Hash         string          `json:"hash"`
	Name         string          `json:"name"`
	Tags         []string        `json:"tags"`
	UserMetadata json.RawMessage `json:"user_metadata"`
}

// previewBody is the PUT /api/assets/{id}/preview payload.
type previewBody struct {
	PreviewID *string `json:"preview_id"`
}

// seedBody is the POST /api/assets/seed payload.
type seedBody struct {
	Roots []string `json:"roots"`
}

// decodeJSONBody parses a JSON request body into dst.
func decodeJSONBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}
