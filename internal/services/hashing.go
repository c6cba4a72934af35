package services

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/zeebo/blake3"

	"assetbank/internal/constants"
)

// NormalizeHash validates a caller-supplied hash reference and returns the
// canonical form: "blake3:" followed by 64 lowercase hex digits. Mixed case
// and surrounding whitespace are accepted.
func NormalizeHash(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if !strings.HasPrefix(s, constants.HashPrefix) {
		return "", ErrInvalidHashWithDetail(fmt.Sprintf("expected %q prefix", constants.HashPrefix))
	}
	digest := s[len(constants.HashPrefix):]
	if len(digest) != constants.HashHexLength {
		return "", ErrInvalidHashWithDetail(fmt.Sprintf("digest must be %d hex chars", constants.HashHexLength))
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", ErrInvalidHashWithDetail("digest is not hex")
	}
	return s, nil
}

// HashDigest strips the algorithm prefix from a canonical hash.
func HashDigest(canonical string) string {
	return strings.TrimPrefix(canonical, constants.HashPrefix)
}

// CanonicalHashOf returns the canonical hash string of raw bytes.
func CanonicalHashOf(data []byte) string {
	sum := blake3.Sum256(data)
	return constants.HashPrefix + hex.EncodeToString(sum[:])
}

// HashFile streams a file through blake3 and returns the canonical hash and
// the byte count.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := blake3.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return constants.HashPrefix + hex.EncodeToString(h.Sum(nil)), n, nil
}
