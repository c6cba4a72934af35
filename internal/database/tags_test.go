package database

import (
	"reflect"
	"testing"

	"assetbank/internal/constants"
)

func TestEnsureTagsExistKeepsType(t *testing.T) {
	db := openTestDB(t)

	if err := EnsureTagsExist(db, []string{"missing"}, constants.TagTypeSystem); err != nil {
		t.Fatal(err)
	}
	// Re-ensuring with a different type must not downgrade the entry.
	if err := EnsureTagsExist(db, []string{"missing"}, constants.TagTypeUser); err != nil {
		t.Fatal(err)
	}
	var tagType string
	if err := db.QueryRow(`SELECT tag_type FROM tags WHERE name = 'missing'`).Scan(&tagType); err != nil {
		t.Fatal(err)
	}
	if tagType != constants.TagTypeSystem {
		t.Errorf("tag_type = %q, want system", tagType)
	}
}

func TestAddRemoveTags(t *testing.T) {
	db := openTestDB(t)
	assetID := mustInsertAsset(t, db, testHashA, 10)
	infoID := mustInsertInfo(t, db, assetID, "", "handle")

	if err := EnsureTagsExist(db, []string{"a", "b"}, constants.TagTypeUser); err != nil {
		t.Fatal(err)
	}

	added, present, err := AddTagsToAssetInfo(db, infoID, []string{"a", "b"}, constants.TagOriginManual)
	if err != nil {
		t.Fatal(err)
	}
	if len(added) != 2 || len(present) != 0 {
		t.Errorf("added=%v present=%v", added, present)
	}

	added, present, err = AddTagsToAssetInfo(db, infoID, []string{"a"}, constants.TagOriginManual)
	if err != nil {
		t.Fatal(err)
	}
	if len(added) != 0 || !reflect.DeepEqual(present, []string{"a"}) {
		t.Errorf("added=%v present=%v", added, present)
	}

	removed, notPresent, err := RemoveTagsFromAssetInfo(db, infoID, []string{"a", "ghost"})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(removed, []string{"a"}) || !reflect.DeepEqual(notPresent, []string{"ghost"}) {
		t.Errorf("removed=%v notPresent=%v", removed, notPresent)
	}

	tags, err := GetAssetTags(db, infoID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(tags, []string{"b"}) {
		t.Errorf("tags = %v, want [b]", tags)
	}
}

func TestSetAssetInfoTagsReplaces(t *testing.T) {
	db := openTestDB(t)
	assetID := mustInsertAsset(t, db, testHashA, 10)
	infoID := mustInsertInfo(t, db, assetID, "", "handle")

	if err := EnsureTagsExist(db, []string{"keep", "drop", "new"}, constants.TagTypeUser); err != nil {
		t.Fatal(err)
	}
	if _, _, err := AddTagsToAssetInfo(db, infoID, []string{"keep", "drop"}, constants.TagOriginManual); err != nil {
		t.Fatal(err)
	}

	var keepAddedAt int64
	if err := db.QueryRow(
		`SELECT added_at FROM asset_info_tags WHERE asset_info_id = ? AND tag_name = 'keep'`, infoID,
	).Scan(&keepAddedAt); err != nil {
		t.Fatal(err)
	}

	if err := SetAssetInfoTags(db, infoID, []string{"keep", "new"}, constants.TagOriginManual); err != nil {
		t.Fatal(err)
	}

	tags, err := GetAssetTags(db, infoID)
	if err != nil {
		t.Fatal(err)
	}
	if len(tags) != 2 || tags[0] != "keep" {
		t.Errorf("tags = %v", tags)
	}

	// Survivors keep their original added_at.
	var after int64
	if err := db.QueryRow(
		`SELECT added_at FROM asset_info_tags WHERE asset_info_id = ? AND tag_name = 'keep'`, infoID,
	).Scan(&after); err != nil {
		t.Fatal(err)
	}
	if after != keepAddedAt {
		t.Errorf("added_at changed: %d -> %d", keepAddedAt, after)
	}

	// An empty set clears everything.
	if err := SetAssetInfoTags(db, infoID, nil, constants.TagOriginManual); err != nil {
		t.Fatal(err)
	}
	tags, _ = GetAssetTags(db, infoID)
	if len(tags) != 0 {
		t.Errorf("tags after clear = %v", tags)
	}
}

func TestMissingTagLifecycle(t *testing.T) {
	db := openTestDB(t)
	assetID := mustInsertAsset(t, db, testHashA, 10)
	infoA := mustInsertInfo(t, db, assetID, "", "a")
	infoB := mustInsertInfo(t, db, assetID, "alice", "b")
	otherAsset := mustInsertAsset(t, db, testHashB, 10)
	otherInfo := mustInsertInfo(t, db, otherAsset, "", "c")

	if err := AddMissingTagToAssetInfos(db, assetID); err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{infoA, infoB} {
		tags, _ := GetAssetTags(db, id)
		if !reflect.DeepEqual(tags, []string{constants.MissingTag}) {
			t.Errorf("tags for %s = %v", id, tags)
		}
	}
	if tags, _ := GetAssetTags(db, otherInfo); len(tags) != 0 {
		t.Errorf("unrelated handle tagged: %v", tags)
	}

	// The vocabulary entry is a system tag and its links are automatic.
	var tagType, origin string
	if err := db.QueryRow(`SELECT tag_type FROM tags WHERE name = ?`, constants.MissingTag).Scan(&tagType); err != nil {
		t.Fatal(err)
	}
	if tagType != constants.TagTypeSystem {
		t.Errorf("tag_type = %q", tagType)
	}
	if err := db.QueryRow(
		`SELECT origin FROM asset_info_tags WHERE asset_info_id = ?`, infoA,
	).Scan(&origin); err != nil {
		t.Fatal(err)
	}
	if origin != constants.TagOriginAutomatic {
		t.Errorf("origin = %q", origin)
	}

	// Idempotent.
	if err := AddMissingTagToAssetInfos(db, assetID); err != nil {
		t.Fatal(err)
	}

	if err := RemoveMissingTagFromAssetInfos(db, assetID); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{infoA, infoB} {
		if tags, _ := GetAssetTags(db, id); len(tags) != 0 {
			t.Errorf("missing tag not cleared from %s: %v", id, tags)
		}
	}
}

func TestListTagsWithUsage(t *testing.T) {
	db := openTestDB(t)
	assetID := mustInsertAsset(t, db, testHashA, 10)
	public := mustInsertInfo(t, db, assetID, "", "pub")
	owned := mustInsertInfo(t, db, assetID, "alice", "own")

	if err := EnsureTagsExist(db, []string{"popular", "niche", "unused"}, constants.TagTypeUser); err != nil {
		t.Fatal(err)
	}
	if _, _, err := AddTagsToAssetInfo(db, public, []string{"popular"}, constants.TagOriginManual); err != nil {
		t.Fatal(err)
	}
	if _, _, err := AddTagsToAssetInfo(db, owned, []string{"popular", "niche"}, constants.TagOriginManual); err != nil {
		t.Fatal(err)
	}

	// Public scope sees only counts from public handles.
	tags, total, err := ListTagsWithUsage(db, ListTagsOptions{Limit: 10, Order: "count_desc"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
	if len(tags) != 1 || tags[0].Name != "popular" || tags[0].Count != 1 {
		t.Errorf("tags = %+v", tags)
	}

	// Alice sees her own links counted too.
	tags, total, err = ListTagsWithUsage(db, ListTagsOptions{OwnerID: "alice", Limit: 10, Order: "count_desc"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 {
		t.Errorf("alice total = %d, want 2", total)
	}
	if tags[0].Name != "popular" || tags[0].Count != 2 {
		t.Errorf("first tag = %+v", tags[0])
	}

	// include_zero brings in unused vocabulary entries.
	tags, total, err = ListTagsWithUsage(db, ListTagsOptions{Limit: 10, Order: "name_asc", IncludeZero: true})
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 {
		t.Errorf("include_zero total = %d, want 3", total)
	}
	if tags[0].Name != "niche" || tags[1].Name != "popular" || tags[2].Name != "unused" {
		t.Errorf("name_asc order = %v", tags)
	}

	// Prefix filter.
	tags, _, err = ListTagsWithUsage(db, ListTagsOptions{Prefix: "pop", Limit: 10, Order: "count_desc"})
	if err != nil {
		t.Fatal(err)
	}
	if len(tags) != 1 || tags[0].Name != "popular" {
		t.Errorf("prefix tags = %+v", tags)
	}
}
