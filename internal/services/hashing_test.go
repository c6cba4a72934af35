package services

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"assetbank/internal/constants"
)

func TestNormalizeHash(t *testing.T) {
	digest := strings.Repeat("ab", 32)
	canonical := "blake3:" + digest

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"canonical", canonical, canonical, false},
		{"uppercase digest", "blake3:" + strings.ToUpper(digest), canonical, false},
		{"uppercase prefix", "BLAKE3:" + digest, canonical, false},
		{"surrounding whitespace", "  " + canonical + "\n", canonical, false},
		{"missing prefix", digest, "", true},
		{"wrong algorithm", "sha256:" + digest, "", true},
		{"short digest", "blake3:" + digest[:62], "", true},
		{"long digest", "blake3:" + digest + "ab", "", true},
		{"non-hex digest", "blake3:" + strings.Repeat("zz", 32), "", true},
		{"empty", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeHash(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				if code, ok := IsServiceError(err); !ok || code != constants.ErrCodeInvalidHash {
					t.Errorf("code = %q, want INVALID_HASH", code)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHashDigest(t *testing.T) {
	digest := strings.Repeat("00", 32)
	if got := HashDigest("blake3:" + digest); got != digest {
		t.Errorf("got %q", got)
	}
}

func TestHashFileMatchesCanonicalHashOf(t *testing.T) {
	content := []byte("the quick brown fox")
	path := filepath.Join(t.TempDir(), "f.bin")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	fileHash, size, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if size != int64(len(content)) {
		t.Errorf("size = %d, want %d", size, len(content))
	}
	if want := CanonicalHashOf(content); fileHash != want {
		t.Errorf("HashFile = %s, CanonicalHashOf = %s", fileHash, want)
	}
	if _, err := NormalizeHash(fileHash); err != nil {
		t.Errorf("produced hash is not canonical: %v", err)
	}
}
