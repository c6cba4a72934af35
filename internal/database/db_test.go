package database

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
)

// openTestDB creates a fresh catalog database in a temp directory.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := InitCatalogDB(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var testIDCounter int

// testUUID returns a deterministic uuid-shaped id for fixtures.
func testUUID() string {
	testIDCounter++
	return fmt.Sprintf("00000000-0000-4000-8000-%012d", testIDCounter)
}

// mustInsertAsset inserts a hashed asset and returns its id.
func mustInsertAsset(t *testing.T, db Querier, hash string, size int64) string {
	t.Helper()
	id := testUUID()
	_, err := db.Exec(
		`INSERT INTO assets (id, hash, size_bytes, created_at) VALUES (?, ?, ?, ?)`,
		id, hash, size, NowNS(),
	)
	if err != nil {
		t.Fatalf("failed to insert asset: %v", err)
	}
	return id
}

// mustInsertSeedAsset inserts an asset with a NULL hash.
func mustInsertSeedAsset(t *testing.T, db Querier, size int64) string {
	t.Helper()
	id := testUUID()
	_, err := db.Exec(
		`INSERT INTO assets (id, hash, size_bytes, created_at) VALUES (?, NULL, ?, ?)`,
		id, size, NowNS(),
	)
	if err != nil {
		t.Fatalf("failed to insert seed asset: %v", err)
	}
	return id
}

// mustInsertInfo inserts a handle and returns its id.
func mustInsertInfo(t *testing.T, db Querier, assetID, ownerID, name string) string {
	t.Helper()
	info, err := InsertAssetInfo(db, testUUID(), assetID, ownerID, name)
	if err != nil {
		t.Fatalf("failed to insert asset info: %v", err)
	}
	return info.ID
}

func countRows(t *testing.T, db Querier, table, where string, args ...interface{}) int {
	t.Helper()
	var n int
	query := `SELECT COUNT(*) FROM ` + table
	if where != "" {
		query += ` WHERE ` + where
	}
	if err := db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("failed to count %s: %v", table, err)
	}
	return n
}

const testHashA = "blake3:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
const testHashB = "blake3:bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
