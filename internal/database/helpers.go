package database

import (
	"strings"

	"assetbank/internal/constants"
)

// rowsPerStmt computes how many rows fit into one bulk statement given the
// configured bind-parameter cap and the number of columns per row.
func rowsPerStmt(maxBindParams, cols int) int {
	if maxBindParams <= 0 {
		maxBindParams = constants.MaxBindParams
	}
	if cols < 1 {
		cols = 1
	}
	n := maxBindParams / cols
	if n < 1 {
		return 1
	}
	return n
}

// chunkStrings yields seq in slices of at most n elements.
func chunkStrings(seq []string, n int) [][]string {
	if n < 1 {
		n = 1
	}
	var out [][]string
	for i := 0; i < len(seq); i += n {
		end := i + n
		if end > len(seq) {
			end = len(seq)
		}
		out = append(out, seq[i:end])
	}
	return out
}

// chunkInt64s yields seq in slices of at most n elements.
func chunkInt64s(seq []int64, n int) [][]int64 {
	if n < 1 {
		n = 1
	}
	var out [][]int64
	for i := 0; i < len(seq); i += n {
		end := i + n
		if end > len(seq) {
			end = len(seq)
		}
		out = append(out, seq[i:end])
	}
	return out
}

// placeholders returns "?,?,...,?" with n entries.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// NormalizeTags lowercases, trims, and deduplicates a tag list while
// preserving first-seen order. Empty entries are dropped.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// likeEscapeChar escapes LIKE patterns built from user input.
const likeEscapeChar = "!"

// EscapeLike escapes %, _ and the escape char itself in a LIKE fragment.
// Callers append/prepend wildcards and pass ESCAPE likeEscapeChar.
func EscapeLike(s string) string {
	s = strings.ReplaceAll(s, likeEscapeChar, likeEscapeChar+likeEscapeChar)
	s = strings.ReplaceAll(s, "%", likeEscapeChar+"%")
	s = strings.ReplaceAll(s, "_", likeEscapeChar+"_")
	return s
}
