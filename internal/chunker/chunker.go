// Package chunker splits extracted page text into overlapping windows
// sized for embedding.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Window sizes in tokens; text is windowed at 4 characters per token.
const (
	ChunkSizeTokens = 500
	OverlapTokens   = 100
)

// Split cuts text into chunks of at most sizeTokens with overlapTokens of
// overlap between consecutive chunks. Windows are measured in runes so a
// multi-byte character never straddles a cut. Whitespace-only input
// yields nil.
func Split(text string, sizeTokens, overlapTokens int) []string {
	normalized := []rune(strings.TrimSpace(text))
	if len(normalized) == 0 {
		return nil
	}

	sizeChars := sizeTokens * 4
	if sizeChars < 1 {
		sizeChars = 1
	}
	overlapChars := overlapTokens * 4
	if overlapChars < 0 {
		overlapChars = 0
	}

	var chunks []string
	start := 0
	total := len(normalized)
	for start < total {
		end := start + sizeChars
		if end > total {
			end = total
		}
		if piece := strings.TrimSpace(string(normalized[start:end])); piece != "" {
			chunks = append(chunks, piece)
		}
		if end >= total {
			break
		}
		start = end - overlapChars
		if start < 0 {
			start = 0
		}
	}
	return chunks
}

// SplitDefault applies the standard window sizes.
func SplitDefault(text string) []string {
	return Split(text, ChunkSizeTokens, OverlapTokens)
}

// ContentHash is the SHA-256 hex digest of a chunk's exact content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
