package e2e

import (
	"net/http"
	"strings"
	"testing"

	"assetbank/internal/constants"
)

func TestUploadNewAsset(t *testing.T) {
	ts := StartTestServer(t)
	content := []byte("fresh content for upload")

	asset := ts.UploadFileExpectSuccess(t, "", "photo.png", content, map[string]string{
		"tags":          "input",
		"name":          "my photo",
		"user_metadata": `{"camera": "x100"}`,
	})

	if !asset.CreatedNew {
		t.Error("expected created_new for fresh content")
	}
	if asset.Name != "my photo" {
		t.Errorf("name = %q", asset.Name)
	}
	if !strings.HasPrefix(asset.AssetHash, constants.HashPrefix) {
		t.Errorf("asset_hash = %q", asset.AssetHash)
	}
	if asset.Size != int64(len(content)) {
		t.Errorf("size = %d, want %d", asset.Size, len(content))
	}
	if len(asset.Tags) != 1 || asset.Tags[0] != "input" {
		t.Errorf("tags = %v", asset.Tags)
	}
	if asset.UserMetadata["camera"] != "x100" {
		t.Errorf("user_metadata = %v", asset.UserMetadata)
	}
	if asset.UserMetadata[constants.ReservedMetadataKeyFilename] == nil {
		t.Errorf("derived filename missing from %v", asset.UserMetadata)
	}

	if status := ts.HashStatus(t, asset.AssetHash); status != http.StatusOK {
		t.Errorf("hash check = %d after upload", status)
	}
}

func TestUploadDuplicateContent(t *testing.T) {
	ts := StartTestServer(t)
	content := []byte("identical content")

	first := ts.UploadFileExpectSuccess(t, "", "a.bin", content, map[string]string{"tags": "input"})
	second := ts.UploadFileExpectSuccess(t, "", "b.bin", content, map[string]string{"tags": "input"})

	if second.CreatedNew {
		t.Error("duplicate content reported as new")
	}
	if second.AssetHash != first.AssetHash {
		t.Errorf("hashes differ: %s vs %s", first.AssetHash, second.AssetHash)
	}
	if second.ID == first.ID {
		t.Error("duplicate upload reused the first handle")
	}
	if second.AssetID != first.AssetID {
		t.Error("duplicate upload did not share the asset")
	}
}

func TestUploadMissingFile(t *testing.T) {
	ts := StartTestServer(t)
	errResp := ts.UploadFileExpectError(t, "", "", nil,
		map[string]string{"tags": "input"}, http.StatusBadRequest)
	if errResp.Error.Code != constants.ErrCodeMissingFile {
		t.Errorf("code = %q", errResp.Error.Code)
	}
}

func TestUploadRejectsBadTagContract(t *testing.T) {
	ts := StartTestServer(t)

	errResp := ts.UploadFileExpectError(t, "", "f.bin", []byte("x"),
		map[string]string{"tags": "archive"}, http.StatusBadRequest)
	if errResp.Error.Code != constants.ErrCodeInvalidBody {
		t.Errorf("unknown root code = %q", errResp.Error.Code)
	}

	errResp = ts.UploadFileExpectError(t, "", "f.bin", []byte("x"),
		map[string]string{"tags": "models"}, http.StatusBadRequest)
	if errResp.Error.Code != constants.ErrCodeInvalidBody {
		t.Errorf("models without category code = %q", errResp.Error.Code)
	}
}

func TestRegisterByHashWithoutFile(t *testing.T) {
	ts := StartTestServer(t)
	uploaded := ts.UploadFileExpectSuccess(t, "", "orig.bin", []byte("hash-known content"),
		map[string]string{"tags": "input"})

	// Declaring a known hash makes the file part unnecessary.
	again := ts.UploadFileExpectSuccess(t, "alice", "", nil, map[string]string{
		"hash": uploaded.AssetHash,
		"tags": "input",
		"name": "alias",
	})
	if again.CreatedNew {
		t.Error("known hash reported as new")
	}
	if again.Name != "alias" || again.AssetID != uploaded.AssetID {
		t.Errorf("alias = %+v", again)
	}
}
