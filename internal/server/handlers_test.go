package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"assetbank/internal/config"
	"assetbank/internal/constants"
	"assetbank/internal/database"
	"assetbank/internal/logger"
	"assetbank/internal/services"
)

// testServer runs the full HTTP stack against a throwaway catalog and roots.
type testServer struct {
	t   *testing.T
	ts  *httptest.Server
	app *App
	cfg *config.Config
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	base := t.TempDir()
	cfg := &config.Config{
		StateDir:      filepath.Join(base, "state"),
		MaxBindParams: constants.MaxBindParams,
		Roots: config.RootsConfig{
			Input:  filepath.Join(base, "roots", "input"),
			Output: filepath.Join(base, "roots", "output"),
			Models: map[string][]string{
				"checkpoints": {filepath.Join(base, "roots", "models", "checkpoints")},
			},
		},
	}
	cfg.Upload.TempDir = filepath.Join(cfg.StateDir, constants.UploadTempDirName)

	dirs := []string{cfg.Roots.Input, cfg.Roots.Output, cfg.Upload.TempDir}
	for _, bases := range cfg.Roots.Models {
		dirs = append(dirs, bases...)
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("failed to create %s: %v", d, err)
		}
	}

	db, err := database.InitCatalogDB(filepath.Join(cfg.StateDir, constants.DatabaseName))
	if err != nil {
		t.Fatalf("failed to open catalog database: %v", err)
	}

	app := NewApp(cfg, logger.NewLogger("error"), db)
	srv := NewServer(app, "127.0.0.1:0")
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		app.AuditLogger.Stop()
		db.Close()
	})

	return &testServer{t: t, ts: ts, app: app, cfg: cfg}
}

// request sends a JSON request and decodes the JSON response when there is
// one. The owner header is set only when non-empty.
func (s *testServer) request(method, path, owner string, body interface{}) (int, map[string]interface{}) {
	s.t.Helper()

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			s.t.Fatal(err)
		}
		reqBody = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.ts.URL+path, reqBody)
	if err != nil {
		s.t.Fatal(err)
	}
	if body != nil {
		req.Header.Set(constants.HeaderContentType, constants.ContentTypeJSON)
	}
	if owner != "" {
		req.Header.Set(constants.HeaderOwnerID, owner)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		s.t.Fatal(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		s.t.Fatal(err)
	}
	if len(data) == 0 {
		return resp.StatusCode, nil
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		s.t.Fatalf("response is not JSON (%d): %s", resp.StatusCode, data)
	}
	return resp.StatusCode, decoded
}

// upload sends one multipart request. Fields are written in order before the
// file part; a nil content skips the file part entirely.
func (s *testServer) upload(owner string, fields [][2]string, filename string, content []byte) (int, map[string]interface{}) {
	s.t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			s.t.Fatal(err)
		}
	}
	if content != nil {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			s.t.Fatal(err)
		}
		if _, err := part.Write(content); err != nil {
			s.t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		s.t.Fatal(err)
	}

	req, err := http.NewRequest(http.MethodPost, s.ts.URL+"/api/assets", &buf)
	if err != nil {
		s.t.Fatal(err)
	}
	req.Header.Set(constants.HeaderContentType, mw.FormDataContentType())
	if owner != "" {
		req.Header.Set(constants.HeaderOwnerID, owner)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		s.t.Fatal(err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		s.t.Fatalf("upload response is not JSON: %v", err)
	}
	return resp.StatusCode, decoded
}

func errorCode(body map[string]interface{}) string {
	e, _ := body["error"].(map[string]interface{})
	code, _ := e["code"].(string)
	return code
}

func TestUploadCreatesAsset(t *testing.T) {
	s := newTestServer(t)

	status, body := s.upload("", [][2]string{
		{"tags", "input"},
		{"name", "my photo"},
		{"user_metadata", `{"camera": "x100"}`},
	}, "photo.png", []byte("png bytes"))
	if status != http.StatusCreated {
		t.Fatalf("status = %d, body = %v", status, body)
	}
	if body["created_new"] != true {
		t.Error("created_new not true")
	}
	if body["name"] != "my photo" {
		t.Errorf("name = %v", body["name"])
	}
	hash, _ := body["asset_hash"].(string)
	if !strings.HasPrefix(hash, constants.HashPrefix) {
		t.Errorf("asset_hash = %v", body["asset_hash"])
	}
	meta, _ := body["user_metadata"].(map[string]interface{})
	if meta["camera"] != "x100" {
		t.Errorf("user_metadata = %v", body["user_metadata"])
	}
}

func TestUploadDuplicateContent(t *testing.T) {
	s := newTestServer(t)
	content := []byte("same bytes both times")

	status, first := s.upload("", [][2]string{{"tags", "input"}}, "a.bin", content)
	if status != http.StatusCreated {
		t.Fatalf("first status = %d", status)
	}
	status, second := s.upload("", [][2]string{{"tags", "input"}}, "b.bin", content)
	if status != http.StatusOK {
		t.Fatalf("second status = %d, body = %v", status, second)
	}
	if second["created_new"] != false {
		t.Error("created_new not false for duplicate content")
	}
	if second["asset_hash"] != first["asset_hash"] {
		t.Errorf("hashes differ: %v vs %v", first["asset_hash"], second["asset_hash"])
	}
	if second["id"] == first["id"] {
		t.Error("duplicate upload should create its own handle")
	}
}

func TestUploadDrainsKnownHash(t *testing.T) {
	s := newTestServer(t)
	content := []byte("content declared by hash")

	_, first := s.upload("", [][2]string{{"tags", "input"}}, "a.bin", content)
	hash, _ := first["asset_hash"].(string)

	// Declared hash arrives before the file part, so the body is drained
	// rather than stored.
	status, body := s.upload("", [][2]string{
		{"hash", hash},
		{"tags", "input"},
		{"name", "by-hash"},
	}, "a.bin", content)
	if status != http.StatusOK {
		t.Fatalf("status = %d, body = %v", status, body)
	}
	if body["created_new"] != false {
		t.Error("created_new not false for known hash")
	}
	if body["name"] != "by-hash" {
		t.Errorf("name = %v", body["name"])
	}
}

func TestUploadMissingFile(t *testing.T) {
	s := newTestServer(t)
	status, body := s.upload("", [][2]string{{"tags", "input"}}, "", nil)
	if status != http.StatusBadRequest || errorCode(body) != constants.ErrCodeMissingFile {
		t.Errorf("status = %d, body = %v", status, body)
	}

	// A declared hash that is not cataloged does not substitute for the
	// file part.
	unknown := constants.HashPrefix + strings.Repeat("ab", 32)
	status, body = s.upload("", [][2]string{
		{"hash", unknown},
		{"tags", "input"},
	}, "", nil)
	if status != http.StatusBadRequest || errorCode(body) != constants.ErrCodeMissingFile {
		t.Errorf("unknown hash: status = %d, body = %v", status, body)
	}
}

func TestUploadRequiresMultipart(t *testing.T) {
	s := newTestServer(t)
	status, body := s.request(http.MethodPost, "/api/assets", "", map[string]interface{}{"tags": []string{"input"}})
	if status != http.StatusUnsupportedMediaType || errorCode(body) != constants.ErrCodeUnsupportedMediaType {
		t.Errorf("status = %d, body = %v", status, body)
	}
}

func TestUploadTagContract(t *testing.T) {
	s := newTestServer(t)

	status, body := s.upload("", [][2]string{{"tags", "archive"}}, "f.bin", []byte("x"))
	if status != http.StatusBadRequest || errorCode(body) != constants.ErrCodeInvalidBody {
		t.Errorf("unknown root: status = %d, body = %v", status, body)
	}

	status, body = s.upload("", [][2]string{{"tags", "models"}}, "f.bin", []byte("x"))
	if status != http.StatusBadRequest || errorCode(body) != constants.ErrCodeInvalidBody {
		t.Errorf("models without category: status = %d, body = %v", status, body)
	}
}

func TestHashCheck(t *testing.T) {
	s := newTestServer(t)
	_, created := s.upload("", [][2]string{{"tags", "input"}}, "f.bin", []byte("checkable"))
	hash, _ := created["asset_hash"].(string)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"known", "/api/assets/hash/" + hash, http.StatusOK},
		{"unknown", "/api/assets/hash/" + services.CanonicalHashOf([]byte("never")), http.StatusNotFound},
		{"invalid", "/api/assets/hash/garbage", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Head(s.ts.URL + tt.path)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if resp.ContentLength > 0 {
				t.Error("HEAD response advertised a body")
			}
		})
	}
}

func TestAssetLifecycle(t *testing.T) {
	s := newTestServer(t)
	_, created := s.upload("alice", [][2]string{{"tags", "input"}, {"name", "mine"}}, "f.bin", []byte("owned content"))
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatalf("no id in %v", created)
	}

	status, body := s.request(http.MethodGet, "/api/assets/"+id, "alice", nil)
	if status != http.StatusOK || body["name"] != "mine" {
		t.Errorf("get: status = %d, body = %v", status, body)
	}

	// Another owner's handle renders as not found.
	status, body = s.request(http.MethodGet, "/api/assets/"+id, "bob", nil)
	if status != http.StatusNotFound || errorCode(body) != constants.ErrCodeAssetNotFound {
		t.Errorf("cross-owner get: status = %d, body = %v", status, body)
	}

	status, body = s.request(http.MethodPut, "/api/assets/"+id, "alice", map[string]interface{}{
		"name": "renamed",
		"tags": []string{"input", "curated"},
	})
	if status != http.StatusOK || body["name"] != "renamed" {
		t.Errorf("update: status = %d, body = %v", status, body)
	}

	status, body = s.request(http.MethodPut, "/api/assets/"+id, "alice", map[string]interface{}{})
	if status != http.StatusBadRequest || errorCode(body) != constants.ErrCodeInvalidBody {
		t.Errorf("empty update: status = %d, body = %v", status, body)
	}

	status, _ = s.request(http.MethodDelete, "/api/assets/"+id, "alice", nil)
	if status != http.StatusNoContent {
		t.Errorf("delete: status = %d", status)
	}
	status, _ = s.request(http.MethodGet, "/api/assets/"+id, "alice", nil)
	if status != http.StatusNotFound {
		t.Errorf("get after delete: status = %d", status)
	}
}

func TestAssetTagRoutes(t *testing.T) {
	s := newTestServer(t)
	_, created := s.upload("", [][2]string{{"tags", "input"}}, "f.bin", []byte("taggable"))
	id, _ := created["id"].(string)

	status, body := s.request(http.MethodPost, "/api/assets/"+id+"/tags", "",
		map[string]interface{}{"tags": []string{"Favorite"}})
	if status != http.StatusOK {
		t.Fatalf("add: status = %d, body = %v", status, body)
	}
	added, _ := body["added"].([]interface{})
	if len(added) != 1 || added[0] != "favorite" {
		t.Errorf("added = %v", body["added"])
	}

	status, body = s.request(http.MethodDelete, "/api/assets/"+id+"/tags", "",
		map[string]interface{}{"tags": []string{"favorite", "ghost"}})
	if status != http.StatusOK {
		t.Fatalf("remove: status = %d, body = %v", status, body)
	}
	removed, _ := body["removed"].([]interface{})
	notPresent, _ := body["not_present"].([]interface{})
	if len(removed) != 1 || removed[0] != "favorite" {
		t.Errorf("removed = %v", body["removed"])
	}
	if len(notPresent) != 1 || notPresent[0] != "ghost" {
		t.Errorf("not_present = %v", body["not_present"])
	}

	status, body = s.request(http.MethodPost, "/api/assets/"+id+"/tags", "",
		map[string]interface{}{"tags": []string{}})
	if status != http.StatusBadRequest || errorCode(body) != constants.ErrCodeInvalidBody {
		t.Errorf("empty tags: status = %d, body = %v", status, body)
	}
}

func TestPreviewRoute(t *testing.T) {
	s := newTestServer(t)
	_, main := s.upload("", [][2]string{{"tags", "input"}}, "main.bin", []byte("main content"))
	_, thumb := s.upload("", [][2]string{{"tags", "input"}}, "thumb.png", []byte("thumb content"))
	id, _ := main["id"].(string)
	thumbAsset, _ := thumb["asset_id"].(string)

	status, body := s.request(http.MethodPut, "/api/assets/"+id+"/preview", "",
		map[string]interface{}{"preview_id": thumbAsset})
	if status != http.StatusOK || body["preview_id"] != thumbAsset {
		t.Errorf("set: status = %d, body = %v", status, body)
	}

	status, body = s.request(http.MethodPut, "/api/assets/"+id+"/preview", "",
		map[string]interface{}{"preview_id": nil})
	if status != http.StatusOK || body["preview_id"] != nil {
		t.Errorf("clear: status = %d, preview = %v", status, body["preview_id"])
	}
}

func TestListAssetsRoute(t *testing.T) {
	s := newTestServer(t)
	s.upload("", [][2]string{{"tags", "input,photo"}, {"name", "alpha"}}, "a.bin", []byte("a"))
	s.upload("", [][2]string{{"tags", "input"}, {"name", "beta"}}, "b.bin", []byte("b"))

	status, body := s.request(http.MethodGet, "/api/assets?include_tags=photo", "", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	assets, _ := body["assets"].([]interface{})
	if body["total"] != 1.0 || len(assets) != 1 {
		t.Errorf("filtered list = %v", body)
	}

	status, body = s.request(http.MethodGet, "/api/assets?name_contains=alph", "", nil)
	if status != http.StatusOK || body["total"] != 1.0 {
		t.Errorf("name filter = %d, %v", status, body)
	}

	status, body = s.request(http.MethodGet, "/api/assets?limit=0", "", nil)
	if status != http.StatusBadRequest || errorCode(body) != constants.ErrCodeInvalidQuery {
		t.Errorf("bad limit: status = %d, body = %v", status, body)
	}
}

func TestListTagsRoute(t *testing.T) {
	s := newTestServer(t)
	s.upload("", [][2]string{{"tags", "input,shared"}}, "a.bin", []byte("a"))
	s.upload("", [][2]string{{"tags", "input"}}, "b.bin", []byte("b"))

	status, body := s.request(http.MethodGet, "/api/tags", "", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	tags, _ := body["tags"].([]interface{})
	if body["total"] != 2.0 || len(tags) != 2 {
		t.Fatalf("tags = %v", body)
	}
	first, _ := tags[0].(map[string]interface{})
	if first["name"] != "input" || first["count"] != 2.0 {
		t.Errorf("first tag = %v", first)
	}

	status, body = s.request(http.MethodGet, "/api/tags?order=sideways", "", nil)
	if status != http.StatusBadRequest || errorCode(body) != constants.ErrCodeInvalidQuery {
		t.Errorf("bad order: status = %d, body = %v", status, body)
	}
}

func TestFromHashRoute(t *testing.T) {
	s := newTestServer(t)
	_, created := s.upload("", [][2]string{{"tags", "input"}}, "f.bin", []byte("registered"))
	hash, _ := created["asset_hash"].(string)

	status, body := s.request(http.MethodPost, "/api/assets/from-hash", "alice",
		map[string]interface{}{"hash": hash, "name": "alias", "tags": []string{"favorite"}})
	if status != http.StatusCreated {
		t.Fatalf("status = %d, body = %v", status, body)
	}
	if body["name"] != "alias" || body["created_new"] != false {
		t.Errorf("body = %v", body)
	}

	status, body = s.request(http.MethodPost, "/api/assets/from-hash", "",
		map[string]interface{}{"hash": services.CanonicalHashOf([]byte("unknown")), "name": "x"})
	if status != http.StatusNotFound || errorCode(body) != constants.ErrCodeAssetNotFound {
		t.Errorf("unknown hash: status = %d, body = %v", status, body)
	}

	status, body = s.request(http.MethodPost, "/api/assets/from-hash", "",
		map[string]interface{}{"hash": hash})
	if status != http.StatusBadRequest || errorCode(body) != constants.ErrCodeInvalidBody {
		t.Errorf("missing name: status = %d, body = %v", status, body)
	}
}

func TestDownloadRoute(t *testing.T) {
	s := newTestServer(t)
	content := []byte("downloadable bytes")
	_, created := s.upload("", [][2]string{{"tags", "input"}, {"name", "dl"}}, "dl.png", content)
	id, _ := created["id"].(string)

	resp, err := http.Get(s.ts.URL + "/api/assets/" + id + "/content")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, content) {
		t.Errorf("body = %q", data)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment") {
		t.Errorf("disposition = %q", cd)
	}
}

func TestSeedVerifyAndAuditRoutes(t *testing.T) {
	s := newTestServer(t)
	path := filepath.Join(s.cfg.Roots.Input, "dropped.bin")
	if err := os.WriteFile(path, []byte("dropped in by hand"), 0o644); err != nil {
		t.Fatal(err)
	}

	status, body := s.request(http.MethodPost, "/api/assets/seed", "", map[string]interface{}{})
	if status != http.StatusOK || body["files_discovered"] != 1.0 {
		t.Fatalf("seed: status = %d, body = %v", status, body)
	}

	status, body = s.request(http.MethodPost, "/api/assets/verify", "", nil)
	if status != http.StatusOK || body["seeds_promoted"] != 1.0 {
		t.Fatalf("verify: status = %d, body = %v", status, body)
	}

	status, body = s.request(http.MethodGet, "/api/audit?action="+constants.AuditActionScanCompleted, "", nil)
	if status != http.StatusOK {
		t.Fatalf("audit: status = %d", status)
	}
	entries, _ := body["entries"].([]interface{})
	if body["total"] != 1.0 || len(entries) != 1 {
		t.Errorf("audit body = %v", body)
	}
	entry, _ := entries[0].(map[string]interface{})
	if entry["action"] != constants.AuditActionScanCompleted {
		t.Errorf("entry = %v", entry)
	}
}
