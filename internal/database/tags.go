package database

import (
	"fmt"

	"assetbank/internal/constants"
)

// EnsureTagsExist inserts missing vocabulary entries with the given type.
// Existing entries keep their original type.
func EnsureTagsExist(q Querier, tags []string, tagType string) error {
	for _, tag := range tags {
		_, err := q.Exec(
			`INSERT INTO tags (name, tag_type) VALUES (?, ?) ON CONFLICT (name) DO NOTHING`,
			tag, tagType,
		)
		if err != nil {
			return fmt.Errorf("failed to ensure tag %q: %w", tag, err)
		}
	}
	return nil
}

// GetExistingTagNames filters the given names down to those present in the
// vocabulary.
func GetExistingTagNames(q Querier, tags []string) (map[string]bool, error) {
	out := make(map[string]bool, len(tags))
	if len(tags) == 0 {
		return out, nil
	}
	args := make([]interface{}, len(tags))
	for i, t := range tags {
		args[i] = t
	}
	rows, err := q.Query(`SELECT name FROM tags WHERE name IN (`+placeholders(len(tags))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}

// GetAssetTags returns the handle's tags ordered by when they were added.
func GetAssetTags(q Querier, infoID string) ([]string, error) {
	rows, err := q.Query(
		`SELECT tag_name FROM asset_info_tags WHERE asset_info_id = ? ORDER BY added_at, tag_name`,
		infoID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get asset tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// AddTagsToAssetInfo links normalized tags to a handle, reporting which were
// newly added and which were already present.
func AddTagsToAssetInfo(q Querier, infoID string, tags []string, origin string) (added, alreadyPresent []string, err error) {
	added = []string{}
	alreadyPresent = []string{}
	now := NowNS()
	for _, tag := range tags {
		res, err := q.Exec(
			`INSERT INTO asset_info_tags (asset_info_id, tag_name, origin, added_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT (asset_info_id, tag_name) DO NOTHING`,
			infoID, tag, origin, now,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to add tag %q: %w", tag, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added = append(added, tag)
		} else {
			alreadyPresent = append(alreadyPresent, tag)
		}
	}
	return added, alreadyPresent, nil
}

// RemoveTagsFromAssetInfo unlinks tags from a handle, reporting which were
// removed and which were not present.
func RemoveTagsFromAssetInfo(q Querier, infoID string, tags []string) (removed, notPresent []string, err error) {
	removed = []string{}
	notPresent = []string{}
	for _, tag := range tags {
		res, err := q.Exec(
			`DELETE FROM asset_info_tags WHERE asset_info_id = ? AND tag_name = ?`,
			infoID, tag,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to remove tag %q: %w", tag, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			removed = append(removed, tag)
		} else {
			notPresent = append(notPresent, tag)
		}
	}
	return removed, notPresent, nil
}

// SetAssetInfoTags replaces the handle's tag links with exactly the given
// normalized set, preserving added_at on links that survive.
func SetAssetInfoTags(q Querier, infoID string, tags []string, origin string) error {
	if len(tags) == 0 {
		if _, err := q.Exec(`DELETE FROM asset_info_tags WHERE asset_info_id = ?`, infoID); err != nil {
			return fmt.Errorf("failed to clear tags: %w", err)
		}
		return nil
	}
	args := make([]interface{}, 0, len(tags)+1)
	args = append(args, infoID)
	for _, t := range tags {
		args = append(args, t)
	}
	_, err := q.Exec(
		`DELETE FROM asset_info_tags WHERE asset_info_id = ? AND tag_name NOT IN (`+placeholders(len(tags))+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("failed to trim tags: %w", err)
	}
	_, _, err = AddTagsToAssetInfo(q, infoID, tags, origin)
	return err
}

// AddMissingTagToAssetInfos marks every handle of an asset with the reserved
// system tag after its last on-disk copy disappeared.
func AddMissingTagToAssetInfos(q Querier, assetID string) error {
	if err := EnsureTagsExist(q, []string{constants.MissingTag}, constants.TagTypeSystem); err != nil {
		return err
	}
	_, err := q.Exec(
		`INSERT INTO asset_info_tags (asset_info_id, tag_name, origin, added_at)
		 SELECT id, ?, ?, ? FROM asset_infos WHERE asset_id = ?
		 ON CONFLICT (asset_info_id, tag_name) DO NOTHING`,
		constants.MissingTag, constants.TagOriginAutomatic, NowNS(), assetID,
	)
	if err != nil {
		return fmt.Errorf("failed to add missing tag: %w", err)
	}
	return nil
}

// RemoveMissingTagFromAssetInfos clears the reserved system tag from every
// handle of an asset once a live copy is confirmed.
func RemoveMissingTagFromAssetInfos(q Querier, assetID string) error {
	_, err := q.Exec(
		`DELETE FROM asset_info_tags
		 WHERE tag_name = ?
		   AND asset_info_id IN (SELECT id FROM asset_infos WHERE asset_id = ?)`,
		constants.MissingTag, assetID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove missing tag: %w", err)
	}
	return nil
}

// ListTagsOptions carries the validated filters of the tag listing.
type ListTagsOptions struct {
	OwnerID     string
	Prefix      string
	Order       string // "count_desc" | "name_asc"
	IncludeZero bool
	Limit       int
	Offset      int
}

// ListTagsWithUsage lists vocabulary entries with how many visible handles
// carry each. Usage counts respect the caller's owner visibility.
func ListTagsWithUsage(q Querier, opts ListTagsOptions) ([]TagUsage, int64, error) {
	where := `1=1`
	args := []interface{}{opts.OwnerID}
	if opts.Prefix != "" {
		where += ` AND t.name LIKE ? ESCAPE '` + likeEscapeChar + `'`
		args = append(args, EscapeLike(opts.Prefix)+"%")
	}
	having := ``
	if !opts.IncludeZero {
		having = ` HAVING COUNT(i.id) > 0`
	}
	orderBy := `COUNT(i.id) DESC, t.name ASC`
	if opts.Order == "name_asc" {
		orderBy = `t.name ASC`
	}

	base := `FROM tags t
		 LEFT JOIN asset_info_tags l ON l.tag_name = t.name
		 LEFT JOIN asset_infos i ON i.id = l.asset_info_id AND i.owner_id IN ('', ?)
		 WHERE ` + where + `
		 GROUP BY t.name, t.tag_type` + having

	var total int64
	countArgs := make([]interface{}, len(args))
	copy(countArgs, args)
	err := q.QueryRow(`SELECT COUNT(*) FROM (SELECT t.name `+base+`)`, countArgs...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count tags: %w", err)
	}

	pageArgs := append(args, opts.Limit, opts.Offset)
	rows, err := q.Query(
		`SELECT t.name, t.tag_type, COUNT(i.id) `+base+`
		 ORDER BY `+orderBy+`
		 LIMIT ? OFFSET ?`,
		pageArgs...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tags: %w", err)
	}
	defer rows.Close()

	var out []TagUsage
	for rows.Next() {
		var u TagUsage
		if err := rows.Scan(&u.Name, &u.TagType, &u.Count); err != nil {
			return nil, 0, err
		}
		out = append(out, u)
	}
	return out, total, rows.Err()
}

// TagLinkRow is one scanner-created tag link awaiting bulk insert.
type TagLinkRow struct {
	AssetInfoID string
	TagName     string
	Origin      string
	AddedAt     int64
}

// BulkInsertTagLinksIgnoreConflicts inserts tag links in chunks, skipping
// existing pairs.
func BulkInsertTagLinksIgnoreConflicts(q Querier, rows []TagLinkRow, maxBindParams int) error {
	const cols = 4
	per := rowsPerStmt(maxBindParams, cols)
	for start := 0; start < len(rows); start += per {
		end := start + per
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		stmt := `INSERT INTO asset_info_tags (asset_info_id, tag_name, origin, added_at) VALUES `
		args := make([]interface{}, 0, len(chunk)*cols)
		for i, r := range chunk {
			if i > 0 {
				stmt += ","
			}
			stmt += "(?, ?, ?, ?)"
			args = append(args, r.AssetInfoID, r.TagName, r.Origin, r.AddedAt)
		}
		stmt += ` ON CONFLICT (asset_info_id, tag_name) DO NOTHING`
		if _, err := q.Exec(stmt, args...); err != nil {
			return fmt.Errorf("failed to bulk insert tag links: %w", err)
		}
	}
	return nil
}
