package e2e

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"assetbank/internal/config"
	"assetbank/internal/constants"
	"assetbank/internal/database"
	"assetbank/internal/logger"
	"assetbank/internal/server"
)

// TestServer wraps a running assetbank server for testing
type TestServer struct {
	Server *httptest.Server
	App    *server.App
	Config *config.Config
	URL    string
}

// AssetResponse is a handle as the API renders it
type AssetResponse struct {
	ID           string                 `json:"id"`
	AssetID      string                 `json:"asset_id"`
	Name         string                 `json:"name"`
	AssetHash    string                 `json:"asset_hash"`
	Size         int64                  `json:"size"`
	Tags         []string               `json:"tags"`
	UserMetadata map[string]interface{} `json:"user_metadata"`
	CreatedNew   bool                   `json:"created_new"`
}

// ListResponse is the asset listing envelope
type ListResponse struct {
	Assets  []AssetResponse `json:"assets"`
	Total   int64           `json:"total"`
	HasMore bool            `json:"has_more"`
}

// ErrorResponse is the standard error envelope
type ErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// StartTestServer creates a new test server with isolated roots and state
func StartTestServer(t *testing.T) *TestServer {
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
				"loras":       {filepath.Join(base, "roots", "models", "loras")},
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

	log := logger.NewLogger("error") // Suppress logs in tests
	app := server.NewApp(cfg, log, db)
	srv := server.NewServer(app, ":0")
	httpServer := httptest.NewServer(srv.Handler())

	ts := &TestServer{
		Server: httpServer,
		App:    app,
		Config: cfg,
		URL:    httpServer.URL,
	}

	t.Cleanup(func() {
		httpServer.Close()
		app.AuditLogger.Stop()
		db.Close()
	})

	return ts
}

// Helper methods for API calls. Owner "" means the public scope.

func (ts *TestServer) do(method, path, owner string, body interface{}) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		reqBody = bytes.NewReader(jsonBody)
	}
	req, err := http.NewRequest(method, ts.URL+path, reqBody)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set(constants.HeaderContentType, constants.ContentTypeJSON)
	}
	if owner != "" {
		req.Header.Set(constants.HeaderOwnerID, owner)
	}
	return http.DefaultClient.Do(req)
}

func (ts *TestServer) GET(path, owner string) (*http.Response, error) {
	return ts.do(http.MethodGet, path, owner, nil)
}

func (ts *TestServer) POST(path, owner string, body interface{}) (*http.Response, error) {
	return ts.do(http.MethodPost, path, owner, body)
}

func (ts *TestServer) PUT(path, owner string, body interface{}) (*http.Response, error) {
	return ts.do(http.MethodPut, path, owner, body)
}

func (ts *TestServer) DELETE(path, owner string) (*http.Response, error) {
	return ts.do(http.MethodDelete, path, owner, nil)
}

// GetJSON fetches a path and decodes the response into target
func (ts *TestServer) GetJSON(t *testing.T, path, owner string, target interface{}) {
	t.Helper()
	resp, err := ts.GET(path, owner)
	if err != nil {
		t.Fatalf("get %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("get %s returned %d: %s", path, resp.StatusCode, bodyBytes)
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		t.Fatalf("failed to parse %s response: %v", path, err)
	}
}

// UploadFile sends a multipart upload. Fields are written before the file
// part; nil content skips the file part.
func (ts *TestServer) UploadFile(owner, filename string, content []byte, fields map[string]string) (*http.Response, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for name, value := range fields {
		writer.WriteField(name, value)
	}
	if content != nil {
		part, err := writer.CreateFormFile("file", filename)
		if err != nil {
			return nil, err
		}
		part.Write(content)
	}
	writer.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/assets", &buf)
	req.Header.Set(constants.HeaderContentType, writer.FormDataContentType())
	if owner != "" {
		req.Header.Set(constants.HeaderOwnerID, owner)
	}
	return http.DefaultClient.Do(req)
}

// UploadFileExpectSuccess uploads and returns the parsed response, fails
// test on error
func (ts *TestServer) UploadFileExpectSuccess(t *testing.T, owner, filename string, content []byte, fields map[string]string) AssetResponse {
	t.Helper()
	resp, err := ts.UploadFile(owner, filename, content, fields)
	if err != nil {
		t.Fatalf("upload request failed: %v", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read upload response: %v", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload failed with status %d: %s", resp.StatusCode, bodyBytes)
	}

	var uploadResp AssetResponse
	if err := json.Unmarshal(bodyBytes, &uploadResp); err != nil {
		t.Fatalf("failed to parse upload response: %v", err)
	}
	return uploadResp
}

// UploadFileExpectError uploads and expects a specific status code
func (ts *TestServer) UploadFileExpectError(t *testing.T, owner, filename string, content []byte, fields map[string]string, expectedStatus int) ErrorResponse {
	t.Helper()
	resp, err := ts.UploadFile(owner, filename, content, fields)
	if err != nil {
		t.Fatalf("upload request failed: %v", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read upload response: %v", err)
	}
	if resp.StatusCode != expectedStatus {
		t.Fatalf("expected status %d, got %d: %s", expectedStatus, resp.StatusCode, bodyBytes)
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
		t.Fatalf("failed to parse error response: %v", err)
	}
	return errResp
}

// HashStatus returns the status of a HEAD hash existence check
func (ts *TestServer) HashStatus(t *testing.T, hash string) int {
	t.Helper()
	resp, err := http.Head(ts.URL + "/api/assets/hash/" + hash)
	if err != nil {
		t.Fatalf("hash check failed: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

// Seed triggers a scanner pass over the given roots (nil means all)
func (ts *TestServer) Seed(t *testing.T, roots []string) map[string]interface{} {
	t.Helper()
	body := map[string]interface{}{}
	if roots != nil {
		body["roots"] = roots
	}
	resp, err := ts.POST("/api/assets/seed", "", body)
	if err != nil {
		t.Fatalf("seed request failed: %v", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read seed response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("seed failed with status %d: %s", resp.StatusCode, bodyBytes)
	}

	var summary map[string]interface{}
	if err := json.Unmarshal(bodyBytes, &summary); err != nil {
		t.Fatalf("failed to parse seed response: %v", err)
	}
	return summary
}

// VerifyPass triggers a verify pass and returns the summary
func (ts *TestServer) VerifyPass(t *testing.T) map[string]interface{} {
	t.Helper()
	resp, err := ts.POST("/api/assets/verify", "", nil)
	if err != nil {
		t.Fatalf("verify request failed: %v", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read verify response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify failed with status %d: %s", resp.StatusCode, bodyBytes)
	}

	var summary map[string]interface{}
	if err := json.Unmarshal(bodyBytes, &summary); err != nil {
		t.Fatalf("failed to parse verify response: %v", err)
	}
	return summary
}

// ListAssets fetches /api/assets with a raw query string
func (ts *TestServer) ListAssets(t *testing.T, query, owner string) ListResponse {
	t.Helper()
	var list ListResponse
	ts.GetJSON(t, "/api/assets"+query, owner, &list)
	return list
}

// WriteRootFile drops content under one of the configured roots
func (ts *TestServer) WriteRootFile(t *testing.T, base, rel string, content []byte) string {
	t.Helper()
	path := filepath.Join(base, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
