package database

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// OpenDatabase opens a SQLite database at the given path and applies pragmas.
// _txlock=immediate makes BEGIN acquire the RESERVED lock up front, which
// serializes write transactions and keeps read-then-write sequences (upsert
// by hash, get-or-create info) free of lock-upgrade races.
// _foreign_keys rides in the DSN because the pragma is connection-scoped and
// the pool opens connections lazily; the schema relies on ON DELETE CASCADE.
func OpenDatabase(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_txlock=immediate&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := ApplyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// InitCatalogDB opens or creates the catalog database and initializes the schema.
func InitCatalogDB(path string) (*sql.DB, error) {
	db, err := OpenDatabase(path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(GetCatalogSchema()); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// Querier is the subset of *sql.DB / *sql.Tx the query layer needs.
// Atomic operations accept it so they compose into larger transactions.
type Querier interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}
