package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const cacheStateColumns = "id, asset_id, file_path, mtime_ns, needs_verify"

// UpsertCacheState records that the given asset lives at filePath with the
// observed mtime. An existing row for the path is repointed to the asset,
// and needs_verify is cleared because the caller has just confirmed content.
func UpsertCacheState(q Querier, assetID, filePath string, mtimeNS int64) (created bool, err error) {
	res, err := q.Exec(
		`INSERT INTO asset_cache_states (asset_id, file_path, mtime_ns, needs_verify)
		 VALUES (?, ?, ?, 0)
		 ON CONFLICT (file_path) DO NOTHING`,
		assetID, filePath, mtimeNS,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert cache state: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	_, err = q.Exec(
		`UPDATE asset_cache_states SET asset_id = ?, mtime_ns = ?, needs_verify = 0 WHERE file_path = ?`,
		assetID, mtimeNS, filePath,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update cache state: %w", err)
	}
	return false, nil
}

// GetCacheStateByPath returns the locator for an absolute path, or nil.
func GetCacheStateByPath(q Querier, filePath string) (*AssetCacheState, error) {
	var s AssetCacheState
	err := q.QueryRow(
		`SELECT `+cacheStateColumns+` FROM asset_cache_states WHERE file_path = ? LIMIT 1`, filePath,
	).Scan(&s.ID, &s.AssetID, &s.FilePath, &s.MtimeNS, &s.NeedsVerify)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache state by path: %w", err)
	}
	return &s, nil
}

// ListCacheStatesByAssetID returns all locators for one asset, stable order.
func ListCacheStatesByAssetID(q Querier, assetID string) ([]AssetCacheState, error) {
	rows, err := q.Query(
		`SELECT `+cacheStateColumns+` FROM asset_cache_states WHERE asset_id = ? ORDER BY id`, assetID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache states: %w", err)
	}
	defer rows.Close()

	var out []AssetCacheState
	for rows.Next() {
		var s AssetCacheState
		if err := rows.Scan(&s.ID, &s.AssetID, &s.FilePath, &s.MtimeNS, &s.NeedsVerify); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// prefixLikeClause builds "(file_path LIKE ? ESCAPE '!' OR ...)" for the
// given directory prefixes, appending the patterns to args.
func prefixLikeClause(prefixes []string, args *[]interface{}) string {
	parts := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		parts = append(parts, "file_path LIKE ? ESCAPE '"+likeEscapeChar+"'")
		*args = append(*args, EscapeLike(p)+"%")
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

// GetCacheStatesForPrefixes loads locators under any of the given directory
// prefixes joined with their asset's hash and size, for reconciliation.
func GetCacheStatesForPrefixes(q Querier, prefixes []string) ([]CacheStateWithAsset, error) {
	if len(prefixes) == 0 {
		return nil, nil
	}
	var args []interface{}
	clause := prefixLikeClause(prefixes, &args)

	rows, err := q.Query(
		`SELECT s.id, s.asset_id, s.file_path, s.mtime_ns, s.needs_verify, a.hash, a.size_bytes
		 FROM asset_cache_states s
		 JOIN assets a ON a.id = s.asset_id
		 WHERE `+clause+`
		 ORDER BY s.id`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query cache states for prefixes: %w", err)
	}
	defer rows.Close()

	var out []CacheStateWithAsset
	for rows.Next() {
		var s CacheStateWithAsset
		if err := rows.Scan(&s.StateID, &s.AssetID, &s.FilePath, &s.MtimeNS, &s.NeedsVerify, &s.AssetHash, &s.SizeBytes); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteCacheStatesOutsidePrefixes removes locators whose path falls under
// none of the configured root prefixes. Returns the number deleted.
func DeleteCacheStatesOutsidePrefixes(q Querier, prefixes []string) (int64, error) {
	if len(prefixes) == 0 {
		return 0, nil
	}
	var args []interface{}
	clause := prefixLikeClause(prefixes, &args)

	res, err := q.Exec(`DELETE FROM asset_cache_states WHERE NOT `+clause, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete out-of-root cache states: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// BulkSetNeedsVerify flips needs_verify for the given state ids in chunks.
func BulkSetNeedsVerify(q Querier, stateIDs []int64, needsVerify bool, maxBindParams int) error {
	flag := 0
	if needsVerify {
		flag = 1
	}
	for _, chunk := range chunkInt64s(stateIDs, rowsPerStmt(maxBindParams, 1)) {
		args := make([]interface{}, 0, len(chunk)+1)
		args = append(args, flag)
		for _, id := range chunk {
			args = append(args, id)
		}
		_, err := q.Exec(
			`UPDATE asset_cache_states SET needs_verify = ? WHERE id IN (`+placeholders(len(chunk))+`)`,
			args...,
		)
		if err != nil {
			return fmt.Errorf("failed to set needs_verify: %w", err)
		}
	}
	return nil
}

// DeleteCacheStatesByIDs removes locators by id in chunks.
func DeleteCacheStatesByIDs(q Querier, stateIDs []int64, maxBindParams int) (int64, error) {
	var total int64
	for _, chunk := range chunkInt64s(stateIDs, rowsPerStmt(maxBindParams, 1)) {
		args := make([]interface{}, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		res, err := q.Exec(
			`DELETE FROM asset_cache_states WHERE id IN (`+placeholders(len(chunk))+`)`, args...,
		)
		if err != nil {
			return total, fmt.Errorf("failed to delete cache states: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// CacheStateSeedRow is one scanner-discovered path awaiting bulk insert.
type CacheStateSeedRow struct {
	AssetID  string
	FilePath string
	MtimeNS  int64
}

// BulkInsertCacheStatesIgnoreConflicts inserts locators in chunks, skipping
// paths that already have a row. Discovery races with uploads, so the first
// writer wins and losers are requeried afterwards.
func BulkInsertCacheStatesIgnoreConflicts(q Querier, rows []CacheStateSeedRow, maxBindParams int) error {
	const cols = 3
	per := rowsPerStmt(maxBindParams, cols)
	for start := 0; start < len(rows); start += per {
		end := start + per
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		stmt := `INSERT INTO asset_cache_states (asset_id, file_path, mtime_ns, needs_verify) VALUES `
		args := make([]interface{}, 0, len(chunk)*cols)
		for i, r := range chunk {
			if i > 0 {
				stmt += ","
			}
			stmt += "(?, ?, ?, 0)"
			args = append(args, r.AssetID, r.FilePath, r.MtimeNS)
		}
		stmt += ` ON CONFLICT (file_path) DO NOTHING`
		if _, err := q.Exec(stmt, args...); err != nil {
			return fmt.Errorf("failed to bulk insert cache states: %w", err)
		}
	}
	return nil
}

// GetWinningAssetIDsForPaths returns, for each given path, the asset id its
// locator actually points at. Used after a bulk insert to find which seed
// rows lost the conflict race.
func GetWinningAssetIDsForPaths(q Querier, paths []string, maxBindParams int) (map[string]string, error) {
	out := make(map[string]string, len(paths))
	for _, chunk := range chunkStrings(paths, rowsPerStmt(maxBindParams, 1)) {
		args := make([]interface{}, len(chunk))
		for i, p := range chunk {
			args[i] = p
		}
		rows, err := q.Query(
			`SELECT file_path, asset_id FROM asset_cache_states WHERE file_path IN (`+placeholders(len(chunk))+`)`,
			args...,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to query winning cache states: %w", err)
		}
		for rows.Next() {
			var path, assetID string
			if err := rows.Scan(&path, &assetID); err != nil {
				rows.Close()
				return nil, err
			}
			out[path] = assetID
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// GetStatesNeedingVerify returns locators flagged needs_verify joined with
// asset identity, for the verify pass.
func GetStatesNeedingVerify(q Querier) ([]CacheStateWithAsset, error) {
	rows, err := q.Query(
		`SELECT s.id, s.asset_id, s.file_path, s.mtime_ns, s.needs_verify, a.hash, a.size_bytes
		 FROM asset_cache_states s
		 JOIN assets a ON a.id = s.asset_id
		 WHERE s.needs_verify = 1
		 ORDER BY s.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query states needing verify: %w", err)
	}
	defer rows.Close()

	var out []CacheStateWithAsset
	for rows.Next() {
		var s CacheStateWithAsset
		if err := rows.Scan(&s.StateID, &s.AssetID, &s.FilePath, &s.MtimeNS, &s.NeedsVerify, &s.AssetHash, &s.SizeBytes); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetSeedStates returns locators whose asset has no hash yet, for the
// verify pass to hash and promote.
func GetSeedStates(q Querier) ([]CacheStateWithAsset, error) {
	rows, err := q.Query(
		`SELECT s.id, s.asset_id, s.file_path, s.mtime_ns, s.needs_verify, a.hash, a.size_bytes
		 FROM asset_cache_states s
		 JOIN assets a ON a.id = s.asset_id
		 WHERE a.hash IS NULL
		 ORDER BY s.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query seed states: %w", err)
	}
	defer rows.Close()

	var out []CacheStateWithAsset
	for rows.Next() {
		var s CacheStateWithAsset
		if err := rows.Scan(&s.StateID, &s.AssetID, &s.FilePath, &s.MtimeNS, &s.NeedsVerify, &s.AssetHash, &s.SizeBytes); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// RepointCacheStates moves all locators from one asset to another, used when
// a hashed seed turns out to duplicate an existing asset. Paths already
// owned by the destination are dropped instead of repointed.
func RepointCacheStates(q Querier, fromAssetID, toAssetID string) error {
	_, err := q.Exec(
		`DELETE FROM asset_cache_states
		 WHERE asset_id = ?
		   AND file_path IN (SELECT file_path FROM asset_cache_states WHERE asset_id = ?)`,
		fromAssetID, toAssetID,
	)
	if err != nil {
		return fmt.Errorf("failed to drop duplicate cache states: %w", err)
	}
	_, err = q.Exec(
		`UPDATE asset_cache_states SET asset_id = ? WHERE asset_id = ?`,
		toAssetID, fromAssetID,
	)
	if err != nil {
		return fmt.Errorf("failed to repoint cache states: %w", err)
	}
	return nil
}
