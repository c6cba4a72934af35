package database

import (
	"encoding/json"
	"fmt"
)

func strPtr(s string) *string   { return &s }
func numPtr(f float64) *float64 { return &f }
func boolPtr(b bool) *bool      { return &b }

func isScalar(v interface{}) bool {
	switch v.(type) {
	case nil, bool, float64, json.Number, string:
		return true
	}
	return false
}

func scalarRow(infoID, key string, ordinal int, v interface{}) AssetInfoMeta {
	row := AssetInfoMeta{AssetInfoID: infoID, Key: key, Ordinal: ordinal}
	switch t := v.(type) {
	case bool:
		row.ValBool = boolPtr(t)
	case float64:
		row.ValNum = numPtr(t)
	case json.Number:
		f, err := t.Float64()
		if err == nil {
			row.ValNum = numPtr(f)
		} else {
			row.ValStr = strPtr(t.String())
		}
	case string:
		row.ValStr = strPtr(t)
	}
	return row
}

func jsonRow(infoID, key string, ordinal int, v interface{}) AssetInfoMeta {
	raw, err := json.Marshal(v)
	if err != nil {
		raw = []byte("null")
	}
	return AssetInfoMeta{AssetInfoID: infoID, Key: key, Ordinal: ordinal, ValJSON: strPtr(string(raw))}
}

// ProjectKV turns one metadata key/value into its typed projection rows.
// null projects to a single all-null row; scalars to one typed row; lists
// of scalars to one typed row per element (null elements count as scalars
// and keep their ordinal as an all-null row); lists with any non-scalar
// element to one val_json row per element; anything else to one val_json row.
func ProjectKV(infoID, key string, value interface{}) []AssetInfoMeta {
	switch v := value.(type) {
	case nil:
		return []AssetInfoMeta{{AssetInfoID: infoID, Key: key, Ordinal: 0}}
	case []interface{}:
		allScalar := true
		for _, el := range v {
			if !isScalar(el) {
				allScalar = false
				break
			}
		}
		rows := make([]AssetInfoMeta, 0, len(v))
		for i, el := range v {
			if allScalar {
				rows = append(rows, scalarRow(infoID, key, i, el))
			} else {
				rows = append(rows, jsonRow(infoID, key, i, el))
			}
		}
		return rows
	default:
		if isScalar(v) {
			return []AssetInfoMeta{scalarRow(infoID, key, 0, v)}
		}
		return []AssetInfoMeta{jsonRow(infoID, key, 0, v)}
	}
}

// ProjectMetadata projects a full metadata object, keys in sorted order so
// the written row set is deterministic.
func ProjectMetadata(infoID string, metadata map[string]interface{}) []AssetInfoMeta {
	var rows []AssetInfoMeta
	for _, key := range sortedKeys(metadata) {
		rows = append(rows, ProjectKV(infoID, key, metadata[key])...)
	}
	return rows
}

// InsertMetaRows writes projection rows in chunks respecting the
// bind-parameter cap.
func InsertMetaRows(q Querier, rows []AssetInfoMeta, maxBindParams int) error {
	const cols = 7
	per := rowsPerStmt(maxBindParams, cols)
	for start := 0; start < len(rows); start += per {
		end := start + per
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		stmt := `INSERT INTO asset_info_meta (asset_info_id, key, ordinal, val_str, val_num, val_bool, val_json) VALUES `
		args := make([]interface{}, 0, len(chunk)*cols)
		for i, r := range chunk {
			if i > 0 {
				stmt += ","
			}
			stmt += "(?, ?, ?, ?, ?, ?, ?)"
			var valBool interface{}
			if r.ValBool != nil {
				if *r.ValBool {
					valBool = 1
				} else {
					valBool = 0
				}
			}
			args = append(args, r.AssetInfoID, r.Key, r.Ordinal, nullableStr(r.ValStr), nullableNum(r.ValNum), valBool, nullableStr(r.ValJSON))
		}
		if _, err := q.Exec(stmt, args...); err != nil {
			return fmt.Errorf("failed to insert metadata projection: %w", err)
		}
	}
	return nil
}

func nullableStr(p *string) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func nullableNum(p *float64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

// ReplaceAssetInfoMetadataProjection rewrites the handle's metadata: drops
// all projection rows, re-projects the new object, stores the full object
// in user_metadata, and bumps updated_at. Atomic within the caller's
// transaction.
func ReplaceAssetInfoMetadataProjection(q Querier, infoID string, metadata map[string]interface{}, maxBindParams int) error {
	if _, err := q.Exec(`DELETE FROM asset_info_meta WHERE asset_info_id = ?`, infoID); err != nil {
		return fmt.Errorf("failed to clear metadata projection: %w", err)
	}
	if err := InsertMetaRows(q, ProjectMetadata(infoID, metadata), maxBindParams); err != nil {
		return err
	}

	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	_, err = q.Exec(
		`UPDATE asset_infos SET user_metadata = ?, updated_at = ? WHERE id = ?`,
		string(raw), NowNS(), infoID,
	)
	if err != nil {
		return fmt.Errorf("failed to store metadata: %w", err)
	}
	return nil
}

// GetMetaRows returns the stored projection for one handle, ordered.
func GetMetaRows(q Querier, infoID string) ([]AssetInfoMeta, error) {
	rows, err := q.Query(
		`SELECT asset_info_id, key, ordinal, val_str, val_num, val_bool, val_json
		 FROM asset_info_meta WHERE asset_info_id = ? ORDER BY key, ordinal`,
		infoID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata projection: %w", err)
	}
	defer rows.Close()

	var out []AssetInfoMeta
	for rows.Next() {
		var r AssetInfoMeta
		var valBool *int
		if err := rows.Scan(&r.AssetInfoID, &r.Key, &r.Ordinal, &r.ValStr, &r.ValNum, &valBool, &r.ValJSON); err != nil {
			return nil, err
		}
		if valBool != nil {
			b := *valBool != 0
			r.ValBool = &b
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
