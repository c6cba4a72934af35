package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const infoColumns = "id, asset_id, owner_id, name, preview_id, user_metadata, created_at, updated_at, last_access_time"

func scanInfo(row interface{ Scan(...interface{}) error }) (*AssetInfo, error) {
	var i AssetInfo
	err := row.Scan(&i.ID, &i.AssetID, &i.OwnerID, &i.Name, &i.PreviewID, &i.UserMetadata,
		&i.CreatedAt, &i.UpdatedAt, &i.LastAccessTime)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

// InsertAssetInfo creates a fresh handle with all timestamps set to now.
func InsertAssetInfo(q Querier, id, assetID, ownerID, name string) (*AssetInfo, error) {
	now := NowNS()
	_, err := q.Exec(
		`INSERT INTO asset_infos (id, asset_id, owner_id, name, created_at, updated_at, last_access_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, assetID, ownerID, name, now, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert asset info: %w", err)
	}
	return &AssetInfo{
		ID: id, AssetID: assetID, OwnerID: ownerID, Name: name,
		CreatedAt: now, UpdatedAt: now, LastAccessTime: now,
	}, nil
}

// GetOrCreateAssetInfo finds the handle keyed by (asset_id, owner_id, name)
// or creates it. On an existing row, updated_at is bumped and
// last_access_time raised only if accessNS is newer.
func GetOrCreateAssetInfo(q Querier, newID, assetID, ownerID, name string, accessNS int64) (info *AssetInfo, created bool, err error) {
	info, err = scanInfo(q.QueryRow(
		`SELECT `+infoColumns+` FROM asset_infos WHERE asset_id = ? AND owner_id = ? AND name = ? LIMIT 1`,
		assetID, ownerID, name,
	))
	if errors.Is(err, sql.ErrNoRows) {
		info, err = InsertAssetInfo(q, newID, assetID, ownerID, name)
		if err != nil {
			return nil, false, err
		}
		return info, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get asset info: %w", err)
	}

	now := NowNS()
	_, err = q.Exec(
		`UPDATE asset_infos SET updated_at = ?, last_access_time = MAX(last_access_time, ?) WHERE id = ?`,
		now, accessNS, info.ID,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to touch asset info: %w", err)
	}
	info.UpdatedAt = now
	if accessNS > info.LastAccessTime {
		info.LastAccessTime = accessNS
	}
	return info, false, nil
}

// GetAssetInfoByID returns a handle visible to ownerID, or nil. Rows owned
// by someone else are indistinguishable from absent rows.
func GetAssetInfoByID(q Querier, id, ownerID string) (*AssetInfo, error) {
	info, err := scanInfo(q.QueryRow(
		`SELECT `+infoColumns+` FROM asset_infos WHERE id = ? AND owner_id IN ('', ?) LIMIT 1`,
		id, ownerID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset info by id: %w", err)
	}
	return info, nil
}

// FetchInfoAndAsset loads a visible handle joined with its content row.
func FetchInfoAndAsset(q Querier, id, ownerID string) (*InfoWithAsset, error) {
	var out InfoWithAsset
	err := q.QueryRow(
		`SELECT i.id, i.asset_id, i.owner_id, i.name, i.preview_id, i.user_metadata,
		        i.created_at, i.updated_at, i.last_access_time,
		        a.id, a.hash, a.size_bytes, a.mime_type, a.created_at
		 FROM asset_infos i
		 JOIN assets a ON a.id = i.asset_id
		 WHERE i.id = ? AND i.owner_id IN ('', ?)
		 LIMIT 1`,
		id, ownerID,
	).Scan(
		&out.Info.ID, &out.Info.AssetID, &out.Info.OwnerID, &out.Info.Name,
		&out.Info.PreviewID, &out.Info.UserMetadata,
		&out.Info.CreatedAt, &out.Info.UpdatedAt, &out.Info.LastAccessTime,
		&out.Asset.ID, &out.Asset.Hash, &out.Asset.SizeBytes, &out.Asset.MimeType, &out.Asset.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch info and asset: %w", err)
	}
	return &out, nil
}

// TouchAssetInfo raises last_access_time if accessNS is newer than the
// stored value.
func TouchAssetInfo(q Querier, id string, accessNS int64) error {
	_, err := q.Exec(
		`UPDATE asset_infos SET last_access_time = ? WHERE id = ? AND last_access_time < ?`,
		accessNS, id, accessNS,
	)
	if err != nil {
		return fmt.Errorf("failed to touch asset info: %w", err)
	}
	return nil
}

// RenameAssetInfo sets a new name and bumps updated_at. Enforces the owner
// write rule: the row must be public or owned by the caller.
func RenameAssetInfo(q Querier, id, ownerID, newName string) (bool, error) {
	res, err := q.Exec(
		`UPDATE asset_infos SET name = ?, updated_at = ? WHERE id = ? AND owner_id IN ('', ?)`,
		newName, NowNS(), id, ownerID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to rename asset info: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SetAssetInfoPreview points the handle's preview at an asset (last writer
// wins) and bumps updated_at.
func SetAssetInfoPreview(q Querier, id, ownerID, previewAssetID string) (bool, error) {
	res, err := q.Exec(
		`UPDATE asset_infos SET preview_id = ?, updated_at = ? WHERE id = ? AND owner_id IN ('', ?)`,
		previewAssetID, NowNS(), id, ownerID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to set asset info preview: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteAssetInfoByID removes a handle subject to the owner write rule.
func DeleteAssetInfoByID(q Querier, id, ownerID string) (bool, error) {
	res, err := q.Exec(
		`DELETE FROM asset_infos WHERE id = ? AND owner_id IN ('', ?)`, id, ownerID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete asset info: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// AssetInfoExistsForAssetID reports whether any handle still references the asset.
func AssetInfoExistsForAssetID(q Querier, assetID string) (bool, error) {
	var one int
	err := q.QueryRow(`SELECT 1 FROM asset_infos WHERE asset_id = ? LIMIT 1`, assetID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check asset infos: %w", err)
	}
	return true, nil
}

// ListInfoIDsByAssetID returns all handle ids for one asset, any owner.
func ListInfoIDsByAssetID(q Querier, assetID string) ([]string, error) {
	rows, err := q.Query(`SELECT id FROM asset_infos WHERE asset_id = ? ORDER BY id`, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list asset info ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListAssetsOptions carries the validated filters of the asset listing.
type ListAssetsOptions struct {
	OwnerID        string
	IncludeTags    []string
	ExcludeTags    []string
	NameContains   string
	MetadataFilter map[string]interface{}
	SortBy         string // validated against sortColumns
	Order          string // "ASC" | "DESC"
	Limit          int
	Offset         int
}

var sortColumns = map[string]string{
	"name":             "i.name",
	"created_at":       "i.created_at",
	"updated_at":       "i.updated_at",
	"last_access_time": "i.last_access_time",
	"size":             "a.size_bytes",
}

// SortColumnAllowed reports whether key is a whitelisted sort key.
func SortColumnAllowed(key string) bool {
	_, ok := sortColumns[key]
	return ok
}

// metadataValuePredicate builds one EXISTS/NOT EXISTS fragment for a single
// key and scalar (or null) value, appending bind args.
func metadataValuePredicate(key string, value interface{}, args *[]interface{}) string {
	switch v := value.(type) {
	case nil:
		// Either the key is absent entirely or projected as explicit null.
		*args = append(*args, key, key)
		return `(NOT EXISTS (SELECT 1 FROM asset_info_meta m WHERE m.asset_info_id = i.id AND m.key = ?)
		 OR EXISTS (SELECT 1 FROM asset_info_meta m WHERE m.asset_info_id = i.id AND m.key = ?
		            AND m.val_str IS NULL AND m.val_num IS NULL AND m.val_bool IS NULL AND m.val_json IS NULL))`
	case bool:
		flag := 0
		if v {
			flag = 1
		}
		*args = append(*args, key, flag)
		return `EXISTS (SELECT 1 FROM asset_info_meta m WHERE m.asset_info_id = i.id AND m.key = ? AND m.val_bool = ?)`
	case float64:
		*args = append(*args, key, v)
		return `EXISTS (SELECT 1 FROM asset_info_meta m WHERE m.asset_info_id = i.id AND m.key = ? AND m.val_num = ?)`
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			f = 0
		}
		*args = append(*args, key, f)
		return `EXISTS (SELECT 1 FROM asset_info_meta m WHERE m.asset_info_id = i.id AND m.key = ? AND m.val_num = ?)`
	case string:
		*args = append(*args, key, v)
		return `EXISTS (SELECT 1 FROM asset_info_meta m WHERE m.asset_info_id = i.id AND m.key = ? AND m.val_str = ?)`
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			raw = []byte("null")
		}
		*args = append(*args, key, string(raw))
		return `EXISTS (SELECT 1 FROM asset_info_meta m WHERE m.asset_info_id = i.id AND m.key = ? AND m.val_json = ?)`
	}
}

// buildListFilters renders the WHERE clause shared by the listing and its
// count query.
func buildListFilters(opts ListAssetsOptions) (string, []interface{}) {
	clauses := []string{`i.owner_id IN ('', ?)`}
	args := []interface{}{opts.OwnerID}

	for _, tag := range opts.IncludeTags {
		clauses = append(clauses,
			`EXISTS (SELECT 1 FROM asset_info_tags t WHERE t.asset_info_id = i.id AND t.tag_name = ?)`)
		args = append(args, tag)
	}
	if len(opts.ExcludeTags) > 0 {
		ph := placeholders(len(opts.ExcludeTags))
		clauses = append(clauses,
			`NOT EXISTS (SELECT 1 FROM asset_info_tags t WHERE t.asset_info_id = i.id AND t.tag_name IN (`+ph+`))`)
		for _, tag := range opts.ExcludeTags {
			args = append(args, tag)
		}
	}
	if opts.NameContains != "" {
		clauses = append(clauses, `i.name LIKE ? ESCAPE '`+likeEscapeChar+`'`)
		args = append(args, "%"+EscapeLike(opts.NameContains)+"%")
	}
	for _, key := range sortedKeys(opts.MetadataFilter) {
		value := opts.MetadataFilter[key]
		if list, ok := value.([]interface{}); ok {
			// Any element matches.
			var parts []string
			for _, el := range list {
				parts = append(parts, metadataValuePredicate(key, el, &args))
			}
			if len(parts) == 0 {
				clauses = append(clauses, `0`)
			} else {
				clauses = append(clauses, "("+strings.Join(parts, " OR ")+")")
			}
			continue
		}
		clauses = append(clauses, metadataValuePredicate(key, value, &args))
	}

	return strings.Join(clauses, " AND "), args
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

// ListAssetInfos runs the filtered, sorted, paginated listing. Returns the
// page rows, a tag map keyed by asset_info_id (tag order stable by added_at)
// and the total matching count before pagination.
func ListAssetInfos(q Querier, opts ListAssetsOptions) ([]InfoWithAsset, map[string][]string, int64, error) {
	where, args := buildListFilters(opts)

	sortCol, ok := sortColumns[opts.SortBy]
	if !ok {
		sortCol = "i.created_at"
	}
	order := "DESC"
	if strings.EqualFold(opts.Order, "asc") {
		order = "ASC"
	}

	var total int64
	countArgs := make([]interface{}, len(args))
	copy(countArgs, args)
	err := q.QueryRow(
		`SELECT COUNT(*) FROM asset_infos i JOIN assets a ON a.id = i.asset_id WHERE `+where,
		countArgs...,
	).Scan(&total)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to count assets: %w", err)
	}

	pageArgs := append(args, opts.Limit, opts.Offset)
	rows, err := q.Query(
		`SELECT i.id, i.asset_id, i.owner_id, i.name, i.preview_id, i.user_metadata,
		        i.created_at, i.updated_at, i.last_access_time,
		        a.id, a.hash, a.size_bytes, a.mime_type, a.created_at
		 FROM asset_infos i
		 JOIN assets a ON a.id = i.asset_id
		 WHERE `+where+`
		 ORDER BY `+sortCol+` `+order+`, i.id `+order+`
		 LIMIT ? OFFSET ?`,
		pageArgs...,
	)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	var page []InfoWithAsset
	var infoIDs []string
	for rows.Next() {
		var r InfoWithAsset
		err := rows.Scan(
			&r.Info.ID, &r.Info.AssetID, &r.Info.OwnerID, &r.Info.Name,
			&r.Info.PreviewID, &r.Info.UserMetadata,
			&r.Info.CreatedAt, &r.Info.UpdatedAt, &r.Info.LastAccessTime,
			&r.Asset.ID, &r.Asset.Hash, &r.Asset.SizeBytes, &r.Asset.MimeType, &r.Asset.CreatedAt,
		)
		if err != nil {
			return nil, nil, 0, err
		}
		page = append(page, r)
		infoIDs = append(infoIDs, r.Info.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, 0, err
	}

	tagMap, err := GetTagMapForInfoIDs(q, infoIDs)
	if err != nil {
		return nil, nil, 0, err
	}
	return page, tagMap, total, nil
}

// GetTagMapForInfoIDs loads tags for a set of handles, ordered by added_at
// within each handle so rendered tag order is stable.
func GetTagMapForInfoIDs(q Querier, infoIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(infoIDs))
	if len(infoIDs) == 0 {
		return out, nil
	}
	args := make([]interface{}, len(infoIDs))
	for i, id := range infoIDs {
		args[i] = id
	}
	rows, err := q.Query(
		`SELECT asset_info_id, tag_name FROM asset_info_tags
		 WHERE asset_info_id IN (`+placeholders(len(infoIDs))+`)
		 ORDER BY added_at, tag_name`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load tag map: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var infoID, tag string
		if err := rows.Scan(&infoID, &tag); err != nil {
			return nil, err
		}
		out[infoID] = append(out[infoID], tag)
	}
	return out, rows.Err()
}

// InfoSeedRow is one scanner-created handle awaiting bulk insert.
type InfoSeedRow struct {
	ID        string
	AssetID   string
	OwnerID   string
	Name      string
	CreatedAt int64
}

// BulkInsertAssetInfosIgnoreConflicts inserts handles in chunks, skipping
// rows whose (asset_id, owner_id, name) key already exists.
func BulkInsertAssetInfosIgnoreConflicts(q Querier, rows []InfoSeedRow, maxBindParams int) error {
	const cols = 7
	per := rowsPerStmt(maxBindParams, cols)
	for start := 0; start < len(rows); start += per {
		end := start + per
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		stmt := `INSERT INTO asset_infos (id, asset_id, owner_id, name, created_at, updated_at, last_access_time) VALUES `
		args := make([]interface{}, 0, len(chunk)*cols)
		for i, r := range chunk {
			if i > 0 {
				stmt += ","
			}
			stmt += "(?, ?, ?, ?, ?, ?, ?)"
			args = append(args, r.ID, r.AssetID, r.OwnerID, r.Name, r.CreatedAt, r.CreatedAt, r.CreatedAt)
		}
		stmt += ` ON CONFLICT (asset_id, owner_id, name) DO NOTHING`
		if _, err := q.Exec(stmt, args...); err != nil {
			return fmt.Errorf("failed to bulk insert asset infos: %w", err)
		}
	}
	return nil
}

// GetExistingAssetInfoIDs filters the given ids down to those present, in
// chunks. Used after a bulk insert to see which seed handles survived.
func GetExistingAssetInfoIDs(q Querier, ids []string, maxBindParams int) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	for _, chunk := range chunkStrings(ids, rowsPerStmt(maxBindParams, 1)) {
		args := make([]interface{}, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		rows, err := q.Query(
			`SELECT id FROM asset_infos WHERE id IN (`+placeholders(len(chunk))+`)`, args...,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to query existing asset infos: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			out[id] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}
