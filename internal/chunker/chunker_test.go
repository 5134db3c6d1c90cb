package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitEmpty(t *testing.T) {
	if got := SplitDefault(""); got != nil {
		t.Fatalf("empty text produced %d chunks", len(got))
	}
	if got := SplitDefault("   \n\t  "); got != nil {
		t.Fatalf("whitespace text produced %d chunks", len(got))
	}
}

func TestSplitShortTextSingleChunk(t *testing.T) {
	text := "  The indemnification clause survives termination.  "
	got := SplitDefault(text)
	if len(got) != 1 {
		t.Fatalf("got %d chunks, want 1", len(got))
	}
	if got[0] != strings.TrimSpace(text) {
		t.Fatalf("chunk = %q", got[0])
	}
}

func TestSplitWindowsAndOverlap(t *testing.T) {
	// 5000 chars with 2000-char windows and 400-char overlap: windows start
	// at 0, 1600, 3200, 4800.
	text := strings.Repeat("a", 5000)
	got := SplitDefault(text)
	if len(got) != 4 {
		t.Fatalf("got %d chunks, want 4", len(got))
	}
	for i, c := range got[:3] {
		if len(c) != 2000 {
			t.Errorf("chunk %d length = %d, want 2000", i, len(c))
		}
	}
	if len(got[3]) != 200 {
		t.Errorf("final chunk length = %d, want 200", len(got[3]))
	}
}

func TestSplitConsecutiveChunksShareOverlap(t *testing.T) {
	var b strings.Builder
	for b.Len() < 4400 {
		b.WriteString("lorem ipsum dolor sit amet ")
	}
	text := b.String()[:4400]
	got := Split(text, ChunkSizeTokens, OverlapTokens)
	if len(got) < 2 {
		t.Fatalf("got %d chunks, want at least 2", len(got))
	}
	tail := text[1600:2000]
	if !strings.HasPrefix(got[1], strings.TrimSpace(tail)[:50]) {
		t.Errorf("second chunk does not start inside the first chunk's tail")
	}
}

func TestSplitMultibyteRunesStayIntact(t *testing.T) {
	// An odd leading byte forces every 2000-rune window edge onto the
	// middle of a 2-byte rune if windows were cut by byte offset.
	text := "a" + strings.Repeat("é", 2500)
	got := SplitDefault(text)
	if len(got) < 2 {
		t.Fatalf("got %d chunks, want at least 2", len(got))
	}
	for i, c := range got {
		if !utf8.ValidString(c) {
			t.Fatalf("chunk %d is not valid UTF-8", i)
		}
	}
	if n := utf8.RuneCountInString(got[0]); n != 2000 {
		t.Errorf("first chunk rune count = %d, want 2000", n)
	}
}

func TestSplitDeterministic(t *testing.T) {
	text := strings.Repeat("deterministic input ", 300)
	first := SplitDefault(text)
	second := SplitDefault(text)
	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("chunk %d differs between runs", i)
		}
		if ContentHash(first[i]) != ContentHash(second[i]) {
			t.Fatalf("hash of chunk %d differs between runs", i)
		}
	}
}

func TestContentHash(t *testing.T) {
	// sha256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := ContentHash("abc"); got != want {
		t.Fatalf("ContentHash = %s, want %s", got, want)
	}
}
