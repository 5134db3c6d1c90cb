package retrieval

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSnippetCollapsesWhitespace(t *testing.T) {
	c := RetrievedChunk{ChunkText: "  The  term\n\nof this\tagreement  is five years.  "}
	want := "The term of this agreement is five years."
	if got := c.Snippet(); got != want {
		t.Fatalf("Snippet = %q, want %q", got, want)
	}
}

func TestSnippetCaps(t *testing.T) {
	c := RetrievedChunk{ChunkText: strings.Repeat("word ", 200)}
	got := c.Snippet()
	if len(got) != 300 {
		t.Fatalf("Snippet length = %d, want 300", len(got))
	}
	if strings.Contains(got, "  ") {
		t.Fatal("Snippet contains consecutive spaces")
	}
}

func TestSnippetCapsMultibyteText(t *testing.T) {
	c := RetrievedChunk{ChunkText: "a" + strings.Repeat("é", 400)}
	got := c.Snippet()
	if !utf8.ValidString(got) {
		t.Fatal("Snippet is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(got); n != 300 {
		t.Fatalf("Snippet rune count = %d, want 300", n)
	}
}

func TestSnippetEmpty(t *testing.T) {
	c := RetrievedChunk{ChunkText: "   \n\t "}
	if got := c.Snippet(); got != "" {
		t.Fatalf("Snippet = %q, want empty", got)
	}
}
