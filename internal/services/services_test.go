package services

import (
	"os"
	"path/filepath"
	"testing"

	"assetbank/internal/config"
	"assetbank/internal/constants"
	"assetbank/internal/database"
	"assetbank/internal/logger"
)

// newTestServices builds a service container against a throwaway catalog
// database and freshly created root directories. The audit logger is nil;
// auditLog is a no-op without one.
func newTestServices(t *testing.T) *Services {
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
	t.Cleanup(func() { db.Close() })

	return NewServices(db, cfg, logger.NewLogger("error"), nil)
}

// writeRootFile drops content at a path under one of the configured roots
// and returns the absolute path.
func writeRootFile(t *testing.T, svc *Services, relToBase, base string, content []byte) string {
	t.Helper()
	path := filepath.Join(base, relToBase)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// ingestFile hashes and ingests an on-disk file the way the upload path does.
func ingestFile(t *testing.T, svc *Services, path, name, ownerID string, tags []string) *IngestResult {
	t.Helper()
	hash, size, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	st, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	res, err := svc.Ingest.IngestFromPath(IngestParams{
		AbsPath: path,
		Hash:    hash,
		Size:    size,
		MtimeNS: st.ModTime().UnixNano(),
		Name:    name,
		OwnerID: ownerID,
		Tags:    tags,
	})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	return res
}
