package audit

import (
	"path/filepath"
	"testing"

	"assetbank/internal/constants"
	"assetbank/internal/database"
)

func openTestLogger(t *testing.T) *Logger {
	t.Helper()
	db, err := database.InitCatalogDB(filepath.Join(t.TempDir(), constants.DatabaseName))
	if err != nil {
		t.Fatalf("failed to open catalog database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	l := NewLogger(db)
	t.Cleanup(l.Stop)
	return l
}

func TestLogAndQuery(t *testing.T) {
	l := openTestLogger(t)

	err := l.Log(constants.AuditActionAssetUploaded, "", UploadDetails{
		Hash: "blake3:abc", Name: "first", Size: 10, CreatedNew: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Log(constants.AuditActionTagsAdded, "alice", TagDetails{
		AssetInfoID: "x", Tags: []string{"favorite"},
	}); err != nil {
		t.Fatal(err)
	}

	entries, err := Query(l.db, QueryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	// Newest first.
	if entries[0].Action != constants.AuditActionTagsAdded {
		t.Errorf("first entry = %s", entries[0].Action)
	}
	if entries[0].OwnerID != "alice" {
		t.Errorf("owner = %q", entries[0].OwnerID)
	}
	if entries[0].Details == nil || entries[1].Details == nil {
		t.Error("details not stored")
	}

	byAction, err := Query(l.db, QueryOptions{Action: constants.AuditActionAssetUploaded})
	if err != nil {
		t.Fatal(err)
	}
	if len(byAction) != 1 || byAction[0].Action != constants.AuditActionAssetUploaded {
		t.Errorf("action filter = %+v", byAction)
	}

	byOwner, err := Query(l.db, QueryOptions{OwnerID: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byOwner) != 1 {
		t.Errorf("owner filter = %d entries", len(byOwner))
	}

	total, err := Count(l.db, QueryOptions{})
	if err != nil || total != 2 {
		t.Errorf("count = %d (%v), want 2", total, err)
	}

	entry, err := GetEntry(l.db, entries[0].ID)
	if err != nil || entry == nil {
		t.Fatalf("get entry: %v", err)
	}
	if entry.Action != entries[0].Action || entry.Timestamp != entries[0].Timestamp {
		t.Errorf("entry = %+v, want %+v", entry, entries[0])
	}
	if missing, err := GetEntry(l.db, 99999); err != nil || missing != nil {
		t.Errorf("unknown id = %+v (%v)", missing, err)
	}
}

func TestLogRejectsUnknownAction(t *testing.T) {
	l := openTestLogger(t)
	if err := l.Log("made_up_action", "", nil); err == nil {
		t.Error("expected an error for an unknown action")
	}
}

func TestQueryTimeWindow(t *testing.T) {
	l := openTestLogger(t)
	if err := l.Log(constants.AuditActionScanCompleted, "", nil); err != nil {
		t.Fatal(err)
	}
	all, err := Query(l.db, QueryOptions{})
	if err != nil || len(all) != 1 {
		t.Fatalf("entries = %d (%v)", len(all), err)
	}
	ts := all[0].Timestamp

	within, err := Query(l.db, QueryOptions{Since: ts, Until: ts})
	if err != nil || len(within) != 1 {
		t.Errorf("inclusive window lost the entry: %d (%v)", len(within), err)
	}
	after, err := Query(l.db, QueryOptions{Since: ts + 1})
	if err != nil || len(after) != 0 {
		t.Errorf("since filter matched %d entries (%v)", len(after), err)
	}
}
