package channels

import (
	"strings"
	"testing"
)

func TestChunkerShortText(t *testing.T) {
	chunker := Chunker{Limit: 100}
	text := "Hello, world!"

	chunks := chunker.Split(text)

	if len(chunks) != 1 {
		t.Errorf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0] != text {
		t.Errorf("expected %q, got %q", text, chunks[0])
	}
}

func TestChunkerEmptyText(t *testing.T) {
	chunker := Chunker{Limit: 100}

	chunks := chunker.Split("")

	if chunks != nil {
		t.Errorf("expected nil for empty text, got %v", chunks)
	}
}

func TestChunkerDefaultLimit(t *testing.T) {
	chunker := Chunker{}

	if got := chunker.Split(strings.Repeat("a", 4000)); len(got) != 1 {
		t.Errorf("4000 bytes should fit one default chunk, got %d", len(got))
	}
	got := chunker.Split(strings.Repeat("a", 4001))
	if len(got) != 2 {
		t.Fatalf("4001 bytes should split in two, got %d", len(got))
	}
	if len(got[0]) != 4000 {
		t.Errorf("first chunk length = %d, expected 4000", len(got[0]))
	}
}

func TestChunkerParagraphBreak(t *testing.T) {
	chunker := Chunker{Limit: 30}
	text := "First paragraph here.\n\nSecond paragraph here."

	chunks := chunker.Split(text)

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %v", len(chunks), chunks)
	}
	if chunks[0] != "First paragraph here." {
		t.Errorf("first chunk = %q", chunks[0])
	}
	if chunks[1] != "Second paragraph here." {
		t.Errorf("second chunk = %q", chunks[1])
	}
}

func TestChunkerNewlineBreak(t *testing.T) {
	chunker := Chunker{Limit: 30}
	text := "Line one here\nLine two here\nLine three"

	chunks := chunker.Split(text)

	if len(chunks) < 2 {
		t.Errorf("expected at least 2 chunks, got %d: %v", len(chunks), chunks)
	}
}

func TestChunkerSentenceBreak(t *testing.T) {
	chunker := Chunker{Limit: 40}
	text := "First sentence here. Second sentence here."

	chunks := chunker.Split(text)

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %v", len(chunks), chunks)
	}
	if chunks[0] != "First sentence here." {
		t.Errorf("first chunk = %q", chunks[0])
	}
}

func TestChunkerWordBreak(t *testing.T) {
	chunker := Chunker{Limit: 15}
	text := "Hello world test"

	chunks := chunker.Split(text)

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %v", len(chunks), chunks)
	}
	if chunks[0] != "Hello world" {
		t.Errorf("first chunk = %q", chunks[0])
	}
}

func TestChunkerHardBreak(t *testing.T) {
	chunker := Chunker{Limit: 10}
	text := "abcdefghijklmnop"

	chunks := chunker.Split(text)

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %v", len(chunks), chunks)
	}
	if len(chunks[0]) != 10 {
		t.Errorf("first chunk length = %d, expected 10", len(chunks[0]))
	}
}

func TestChunkerKeepsClosedFenceTogether(t *testing.T) {
	chunker := Chunker{Limit: 100}
	text := "Here is code:\n```go\nfunc main() {}\n```\nEnd."

	chunks := chunker.Split(text)

	if len(chunks) != 1 {
		t.Errorf("expected 1 chunk, got %d", len(chunks))
	}
}

func TestChunkerBreaksBeforeOpenFence(t *testing.T) {
	chunker := Chunker{Limit: 30}
	text := "intro text here\n```\ncode line one\ncode line two\n```"

	chunks := chunker.Split(text)

	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d: %v", len(chunks), chunks)
	}
	// The line break inside the fence is skipped in favor of the one
	// before it opens.
	if chunks[0] != "intro text here" {
		t.Errorf("first chunk = %q", chunks[0])
	}
}

func TestChunkerRespectsLimit(t *testing.T) {
	chunker := Chunker{Limit: 48}
	text := "alpha starts the text. Then a few more words arrive. " +
		"A list follows:\nitem one\nitem two\n\n```\ncode body\n```\n\nomega ends it."

	chunks := chunker.Split(text)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk) > 48 {
			t.Errorf("chunk %d exceeds limit: %d bytes", i, len(chunk))
		}
	}
	combined := strings.Join(chunks, " ")
	if !strings.Contains(combined, "alpha") || !strings.Contains(combined, "omega") {
		t.Errorf("lost content when splitting: %s", combined)
	}
}
