package sanitize

import (
	"path/filepath"
	"strings"
	"unicode"
)

// illegalFilenameChars contains characters forbidden in filenames across
// common filesystems (NTFS, FAT32, ext4 compatibility).
const illegalFilenameChars = `<>:"|?*`

const (
	replacementChar = "_"
	maxFilenameLen  = 255
	maxExtensionLen = 16 // matches the upload extension cap, dot excluded
)

// Filename sanitizes a raw filename by removing path components, control
// characters, and filesystem-illegal characters. Returns an empty string if
// nothing survives (caller decides fallback behavior).
func Filename(raw string) string {
	if raw == "" {
		return ""
	}

	s := strings.ReplaceAll(raw, "\x00", "")
	if s == "" {
		return ""
	}

	// Normalize backslashes so filepath.Base handles Windows-style paths
	// on all platforms (Linux treats \ as a valid filename char).
	s = strings.ReplaceAll(s, "\\", "/")
	s = filepath.Base(s)
	if s == "." || s == ".." {
		return ""
	}

	// Leading dots would produce hidden files and dot-based traversal.
	s = strings.TrimLeft(s, ".")

	s = replaceControlChars(s)
	s = replaceIllegalChars(s)

	if len(s) > maxFilenameLen {
		s = s[:maxFilenameLen]
	}
	return s
}

// Extension sanitizes a file extension: lowercase, alphanumeric only,
// leading dots stripped, capped at the upload extension limit.
func Extension(raw string) string {
	if raw == "" {
		return ""
	}

	raw = strings.ToLower(raw)
	raw = strings.TrimLeft(raw, ".")

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}

	result := b.String()
	if len(result) > maxExtensionLen {
		return ""
	}
	return result
}

// ContentDispositionFilename sanitizes a filename for safe use in HTTP
// Content-Disposition headers: full filename sanitization plus removal of
// characters that could enable header injection.
func ContentDispositionFilename(raw string) string {
	s := Filename(raw)
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '"', '\\', '\r', '\n':
			// Dropped entirely
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func replaceControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) {
			b.WriteString(replacementChar)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func replaceIllegalChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(illegalFilenameChars, r) {
			b.WriteString(replacementChar)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
