package llm

import (
	"fmt"
	"strings"

	"github.com/connexus-ai/inkwell-backend/internal/retrieval"
)

// InsufficientContextMessage is the exact sentinel the model is instructed
// to output when the context cannot support an answer. Handlers compare
// against it verbatim.
const InsufficientContextMessage = "Insufficient context in the provided documents."

// GroundedSystemPrompt returns the fixed grounding rules.
func GroundedSystemPrompt() string {
	return "You are a strict grounded assistant.\n" +
		"Rules:\n" +
		"1) Use only the provided context blocks.\n" +
		"2) Do not use outside knowledge.\n" +
		"3) Every factual claim must include citations in format [p<page>|chunk:<chunk_id>].\n" +
		"4) If the context does not support the answer, output exactly: " + InsufficientContextMessage + "\n" +
		"5) Never fabricate citations."
}

// GroundedUserPrompt assembles the question and numbered context blocks.
// The block layout is part of the citation contract and must not change.
func GroundedUserPrompt(question string, chunks []retrieval.RetrievedChunk) string {
	blocks := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		blocks = append(blocks, strings.Join([]string{
			fmt.Sprintf("Context %d", i+1),
			fmt.Sprintf("page: %d", chunk.PageNumber),
			fmt.Sprintf("chunk_id: %s", chunk.ChunkID),
			fmt.Sprintf("chunk_excerpt: %s", chunk.ChunkText),
			fmt.Sprintf("full_page_text: %s", chunk.PageText),
		}, "\n"))
	}
	return strings.Join([]string{
		fmt.Sprintf("Question:\n%s", question),
		"Context:",
		strings.Join(blocks, "\n\n"),
		"Answer using only the context above. Attach citations for all claims with [p<page>|chunk:<chunk_id>].",
	}, "\n\n")
}
