package database

import (
	"database/sql"
	"errors"
	"fmt"
)

const assetColumns = "id, hash, size_bytes, mime_type, created_at"

func scanAsset(row interface{ Scan(...interface{}) error }) (*Asset, error) {
	var a Asset
	err := row.Scan(&a.ID, &a.Hash, &a.SizeBytes, &a.MimeType, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// AssetExistsByHash checks whether an asset with the given canonical hash exists.
func AssetExistsByHash(q Querier, hash string) (bool, error) {
	var one int
	err := q.QueryRow(`SELECT 1 FROM assets WHERE hash = ? LIMIT 1`, hash).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check asset hash: %w", err)
	}
	return true, nil
}

// GetAssetByHash returns the asset with the given canonical hash, or nil.
func GetAssetByHash(q Querier, hash string) (*Asset, error) {
	a, err := scanAsset(q.QueryRow(`SELECT `+assetColumns+` FROM assets WHERE hash = ? LIMIT 1`, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset by hash: %w", err)
	}
	return a, nil
}

// GetAssetByID returns the asset with the given id, or nil.
func GetAssetByID(q Querier, id string) (*Asset, error) {
	a, err := scanAsset(q.QueryRow(`SELECT `+assetColumns+` FROM assets WHERE id = ? LIMIT 1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset by id: %w", err)
	}
	return a, nil
}

// UpsertAsset inserts an asset keyed by hash with ON CONFLICT DO NOTHING,
// then re-reads the winning row. On an existing row, size_bytes is filled
// in when it was previously unknown (0) and the new size is positive, and
// mime_type is replaced when the new one differs and is non-empty.
func UpsertAsset(q Querier, id, hash string, sizeBytes int64, mimeType string) (asset *Asset, created, updated bool, err error) {
	var mime sql.NullString
	if mimeType != "" {
		mime = sql.NullString{String: mimeType, Valid: true}
	}

	// The conflict target must name the partial index's WHERE clause or
	// SQLite rejects the statement (idx_assets_hash is partial over
	// hash IS NOT NULL so that seed rows can share a NULL hash).
	res, err := q.Exec(
		`INSERT INTO assets (id, hash, size_bytes, mime_type, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (hash) WHERE hash IS NOT NULL DO NOTHING`,
		id, hash, sizeBytes, mime, NowNS(),
	)
	if err != nil {
		return nil, false, false, fmt.Errorf("failed to upsert asset: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		created = true
	}

	asset, err = GetAssetByHash(q, hash)
	if err != nil {
		return nil, false, false, err
	}
	if asset == nil {
		return nil, false, false, errors.New("asset row not found after upsert")
	}
	if created {
		return asset, true, false, nil
	}

	if asset.SizeBytes == 0 && sizeBytes > 0 {
		if _, err := q.Exec(`UPDATE assets SET size_bytes = ? WHERE id = ?`, sizeBytes, asset.ID); err != nil {
			return nil, false, false, fmt.Errorf("failed to update asset size: %w", err)
		}
		asset.SizeBytes = sizeBytes
		updated = true
	}
	if mime.Valid && asset.MimeType.String != mime.String {
		if _, err := q.Exec(`UPDATE assets SET mime_type = ? WHERE id = ?`, mime, asset.ID); err != nil {
			return nil, false, false, fmt.Errorf("failed to update asset mime type: %w", err)
		}
		asset.MimeType = mime
		updated = true
	}
	return asset, false, updated, nil
}

// SetAssetHash fills the hash (and size) of a seed asset after verification.
func SetAssetHash(q Querier, id, hash string, sizeBytes int64) error {
	_, err := q.Exec(`UPDATE assets SET hash = ?, size_bytes = ? WHERE id = ?`, hash, sizeBytes, id)
	if err != nil {
		return fmt.Errorf("failed to set asset hash: %w", err)
	}
	return nil
}

// AssetSeedRow is one scanner-discovered asset awaiting bulk insert.
type AssetSeedRow struct {
	ID        string
	SizeBytes int64
	CreatedAt int64
}

// BulkInsertSeedAssets inserts seed asset rows (hash NULL) in chunks
// respecting the bind-parameter cap.
func BulkInsertSeedAssets(q Querier, rows []AssetSeedRow, maxBindParams int) error {
	const cols = 5
	per := rowsPerStmt(maxBindParams, cols)
	for start := 0; start < len(rows); start += per {
		end := start + per
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		stmt := `INSERT INTO assets (id, hash, size_bytes, mime_type, created_at) VALUES `
		args := make([]interface{}, 0, len(chunk)*cols)
		for i, r := range chunk {
			if i > 0 {
				stmt += ","
			}
			stmt += "(?, NULL, ?, NULL, ?)"
			args = append(args, r.ID, r.SizeBytes, r.CreatedAt)
		}
		if _, err := q.Exec(stmt, args...); err != nil {
			return fmt.Errorf("failed to bulk insert seed assets: %w", err)
		}
	}
	return nil
}

// DeleteAssetsByIDs deletes assets (cascading infos and cache states) in
// chunks. Returns the number of rows deleted.
func DeleteAssetsByIDs(q Querier, ids []string, maxBindParams int) (int64, error) {
	var total int64
	for _, chunk := range chunkStrings(ids, rowsPerStmt(maxBindParams, 1)) {
		args := make([]interface{}, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		res, err := q.Exec(`DELETE FROM assets WHERE id IN (`+placeholders(len(chunk))+`)`, args...)
		if err != nil {
			return total, fmt.Errorf("failed to delete assets: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// GetOrphanedSeedAssetIDs returns ids of seed assets (hash NULL) that have
// no surviving cache state. Such rows carry no information and are pruned.
func GetOrphanedSeedAssetIDs(q Querier) ([]string, error) {
	rows, err := q.Query(
		`SELECT a.id FROM assets a
		 WHERE a.hash IS NULL
		   AND NOT EXISTS (SELECT 1 FROM asset_cache_states s WHERE s.asset_id = a.id)`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query orphaned seed assets: %w", err)
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
