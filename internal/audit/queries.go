package audit

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"assetbank/internal/constants"
)

// QueryOptions for filtering audit logs
type QueryOptions struct {
	Limit   int
	Offset  int
	Action  string
	OwnerID string
	Since   int64 // unix nanoseconds, inclusive
	Until   int64 // unix nanoseconds, inclusive
}

func buildFilters(opts QueryOptions) (string, []interface{}) {
	where := ` WHERE 1=1`
	args := []interface{}{}

	if opts.Action != "" {
		where += " AND action = ?"
		args = append(args, opts.Action)
	}
	if opts.OwnerID != "" {
		where += " AND owner_id = ?"
		args = append(args, opts.OwnerID)
	}
	if opts.Since > 0 {
		where += " AND timestamp >= ?"
		args = append(args, opts.Since)
	}
	if opts.Until > 0 {
		where += " AND timestamp <= ?"
		args = append(args, opts.Until)
	}
	return where, args
}

// Query retrieves audit log entries with filters, newest first
func Query(db *sql.DB, opts QueryOptions) ([]Entry, error) {
	if opts.Limit <= 0 {
		opts.Limit = constants.AuditDefaultQueryLimit
	}
	if opts.Limit > constants.AuditMaxQueryLimit {
		opts.Limit = constants.AuditMaxQueryLimit
	}

	where, args := buildFilters(opts)
	query := `SELECT id, timestamp, action, owner_id, details_json FROM audit_log` + where +
		` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var detailsJSON sql.NullString

		err := rows.Scan(&entry.ID, &entry.Timestamp, &entry.Action, &entry.OwnerID, &detailsJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}

		if detailsJSON.Valid {
			var details interface{}
			json.Unmarshal([]byte(detailsJSON.String), &details)
			entry.Details = details
		}

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// GetEntry retrieves a single audit entry by ID
func GetEntry(db *sql.DB, id int64) (*Entry, error) {
	var entry Entry
	var detailsJSON sql.NullString

	err := db.QueryRow(`
		SELECT id, timestamp, action, owner_id, details_json
		FROM audit_log WHERE id = ?
	`, id).Scan(&entry.ID, &entry.Timestamp, &entry.Action, &entry.OwnerID, &detailsJSON)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if detailsJSON.Valid {
		var details interface{}
		json.Unmarshal([]byte(detailsJSON.String), &details)
		entry.Details = details
	}

	return &entry, nil
}

// Count returns total number of audit entries matching filters
func Count(db *sql.DB, opts QueryOptions) (int64, error) {
	where, args := buildFilters(opts)
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM audit_log`+where, args...).Scan(&count)
	return count, err
}
