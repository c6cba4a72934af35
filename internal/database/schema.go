package database

import (
	"database/sql"

	"assetbank/internal/constants"
)

// GetCatalogSchema returns the full SQL schema for the catalog database.
func GetCatalogSchema() string {
	return `
-- assets: content blobs, identified by hash once known.
-- hash IS NULL marks a seed asset discovered by the scanner and not yet hashed.
CREATE TABLE IF NOT EXISTS assets (
    id TEXT PRIMARY KEY,              -- uuid
    hash TEXT,                        -- 'blake3:' + 64 lowercase hex, NULL for seeds
    size_bytes INTEGER NOT NULL DEFAULT 0,  -- 0 means unknown
    mime_type TEXT,
    created_at INTEGER NOT NULL       -- unix nanoseconds, UTC
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_assets_hash ON assets(hash) WHERE hash IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_assets_created ON assets(created_at);

-- asset_cache_states: on-disk locators. One row per path; an asset may
-- have several paths (same content, multiple disk copies).
CREATE TABLE IF NOT EXISTS asset_cache_states (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    asset_id TEXT NOT NULL REFERENCES assets(id) ON DELETE CASCADE,
    file_path TEXT NOT NULL UNIQUE,   -- absolute path
    mtime_ns INTEGER NOT NULL DEFAULT 0,
    needs_verify INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_cache_states_asset ON asset_cache_states(asset_id);

-- asset_infos: named, tagged, owner-scoped handles onto content.
-- owner_id '' marks a public row visible to every caller.
CREATE TABLE IF NOT EXISTS asset_infos (
    id TEXT PRIMARY KEY,              -- uuid
    asset_id TEXT NOT NULL REFERENCES assets(id) ON DELETE CASCADE,
    owner_id TEXT NOT NULL DEFAULT '',
    name TEXT NOT NULL,
    preview_id TEXT REFERENCES assets(id),
    user_metadata TEXT,               -- JSON object
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    last_access_time INTEGER NOT NULL,
    UNIQUE (asset_id, owner_id, name)
);

CREATE INDEX IF NOT EXISTS idx_asset_infos_asset ON asset_infos(asset_id);
CREATE INDEX IF NOT EXISTS idx_asset_infos_owner_name ON asset_infos(owner_id, name);
CREATE INDEX IF NOT EXISTS idx_asset_infos_created ON asset_infos(created_at);

-- tags: the vocabulary. Reserved system tags (e.g. 'missing') use tag_type 'system'.
CREATE TABLE IF NOT EXISTS tags (
    name TEXT PRIMARY KEY,            -- normalized: lowercase, trimmed
    tag_type TEXT NOT NULL DEFAULT 'user'
);

-- asset_info_tags: many-to-many link with provenance.
CREATE TABLE IF NOT EXISTS asset_info_tags (
    asset_info_id TEXT NOT NULL REFERENCES asset_infos(id) ON DELETE CASCADE,
    tag_name TEXT NOT NULL REFERENCES tags(name),
    origin TEXT NOT NULL DEFAULT 'manual',  -- 'manual' | 'automatic'
    added_at INTEGER NOT NULL,
    PRIMARY KEY (asset_info_id, tag_name)
);

CREATE INDEX IF NOT EXISTS idx_asset_info_tags_tag ON asset_info_tags(tag_name);

-- asset_info_meta: typed EAV projection of user_metadata.
-- At most one value column is set; all NULL encodes an explicit JSON null.
CREATE TABLE IF NOT EXISTS asset_info_meta (
    asset_info_id TEXT NOT NULL REFERENCES asset_infos(id) ON DELETE CASCADE,
    key TEXT NOT NULL,
    ordinal INTEGER NOT NULL DEFAULT 0,
    val_str TEXT,
    val_num REAL,
    val_bool INTEGER,
    val_json TEXT,
    PRIMARY KEY (asset_info_id, key, ordinal),
    CHECK (
        (val_str IS NOT NULL) + (val_num IS NOT NULL) +
        (val_bool IS NOT NULL) + (val_json IS NOT NULL) <= 1
    )
);

CREATE INDEX IF NOT EXISTS idx_asset_info_meta_key ON asset_info_meta(key);

-- audit_log: append-only record of mutating API actions.
CREATE TABLE IF NOT EXISTS audit_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp INTEGER NOT NULL,
    action TEXT NOT NULL,
    owner_id TEXT NOT NULL DEFAULT '',
    details_json TEXT
);

CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_log(action);
`
}

// ApplyPragmas applies all SQLite pragmas from constants.SQLitePragmas.
// Must be called immediately after opening any database connection.
func ApplyPragmas(db *sql.DB) error {
	for _, pragma := range constants.SQLitePragmas {
		if _, err := db.Exec(pragma); err != nil {
			return err
		}
	}
	return nil
}
