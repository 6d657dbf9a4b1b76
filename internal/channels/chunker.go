package channels

import (
	"strings"
	"unicode"
)

// Chunker splits long replies into messenger-sized pieces. Breaks
// prefer paragraph, line, then sentence boundaries, falling back to
// words and finally a hard cut; a break never lands inside a fenced
// code block while an earlier boundary exists.
type Chunker struct {
	// Limit is the maximum chunk size in bytes. Zero means 4000.
	Limit int
}

// Split cuts text into pieces of at most Limit bytes.
func (c Chunker) Split(text string) []string {
	limit := c.Limit
	if limit <= 0 {
		limit = 4000
	}
	if text == "" {
		return nil
	}
	if len(text) <= limit {
		return []string{text}
	}

	var parts []string
	rest := text
	for len(rest) > limit {
		cut := breakPoint(rest, limit)
		if part := strings.TrimRightFunc(rest[:cut], unicode.IsSpace); part != "" {
			parts = append(parts, part)
		}
		rest = strings.TrimLeftFunc(rest[cut:], unicode.IsSpace)
	}
	if rest = strings.TrimSpace(rest); rest != "" {
		parts = append(parts, rest)
	}
	return parts
}

// breakPoint picks where to cut the first limit bytes of text.
func breakPoint(text string, limit int) int {
	window := text[:limit]
	fenced, fenceStart := openFence(window)

	if idx := fencedLastIndex(window, "\n\n", fenced, fenceStart); idx > 0 {
		return idx + 1
	}
	if idx := fencedLastIndex(window, "\n", fenced, fenceStart); idx > 0 {
		return idx + 1
	}
	for _, end := range []string{". ", "! ", "? "} {
		if idx := fencedLastIndex(window, end, fenced, fenceStart); idx > 0 {
			return idx + 1
		}
	}
	if idx := strings.LastIndexFunc(window, unicode.IsSpace); idx > 0 {
		return idx
	}
	return limit
}

// fencedLastIndex is strings.LastIndex constrained to land before an
// unclosed code fence.
func fencedLastIndex(window, sep string, fenced bool, fenceStart int) int {
	idx := strings.LastIndex(window, sep)
	if idx <= 0 {
		return -1
	}
	if fenced && idx >= fenceStart {
		if fenceStart > 0 {
			return strings.LastIndex(window[:fenceStart], sep)
		}
		return -1
	}
	return idx
}

// openFence reports whether the window ends inside a ``` block and the
// offset where that block opened. Fences count at line starts only.
func openFence(window string) (bool, int) {
	open := false
	start := 0
	offset := 0
	for _, line := range strings.SplitAfter(window, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if open {
				open = false
			} else {
				open = true
				start = offset
			}
		}
		offset += len(line)
	}
	return open, start
}
