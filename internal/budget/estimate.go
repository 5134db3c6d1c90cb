// Package budget implements the per-workspace daily token ledger and the
// estimation arithmetic the query and ingestion paths reserve against.
package budget

import "math"

// promptOverheadTokens covers the fixed system prompt and context framing
// around the retrieved chunks.
const promptOverheadTokens = 200

// EstimateQueryTokens approximates the embedding cost of a query string
// at 4 characters per token with 30% headroom.
func EstimateQueryTokens(query string) int64 {
	return int64(math.Ceil(float64(len(query)) / 4.0 * 1.3))
}

// EstimateLLMInputTokens approximates the prompt size from the retrieved
// chunk token counts, the prompt overhead, and the question itself.
func EstimateLLMInputTokens(chunkTokens []int, query string) int64 {
	sum := 0
	for _, t := range chunkTokens {
		sum += t
	}
	return int64(math.Ceil(float64(sum) + promptOverheadTokens + float64(len(query))/4.0))
}

// EstimateQueryTotal is the full reservation for one query: embedding the
// question, the prompt input, and the configured output ceiling.
func EstimateQueryTotal(query string, chunkTokens []int, maxOutputTokens int) int64 {
	return EstimateQueryTokens(query) + EstimateLLMInputTokens(chunkTokens, query) + int64(maxOutputTokens)
}

// EstimateEmbeddingTokens approximates the embedding cost of one chunk of
// text, never less than one token.
func EstimateEmbeddingTokens(text string) int64 {
	est := int64(math.Ceil(float64(len(text)) / 4.0 * 1.1))
	if est < 1 {
		return 1
	}
	return est
}

// Settle splits a reservation into the portion to commit and the portion
// to release once actual usage is known. Actual usage above the
// reservation is clamped so a settlement never exceeds what was reserved.
func Settle(reserved, actual int64) (commit, release int64) {
	if actual < 0 {
		actual = 0
	}
	commit = actual
	if commit > reserved {
		commit = reserved
	}
	return commit, reserved - commit
}
