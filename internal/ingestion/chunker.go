package ingestion

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"unicode/utf8"
)

type ChunkConfig struct {
	MinChars     int
	MaxChars     int
	Overlap      int
	PreviewChars int
}

func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		MinChars:     1500,
		MaxChars:     2500,
		Overlap:      200,
		PreviewChars: 400,
	}
}

type Chunk struct {
	Index     int
	PageStart int
	PageEnd   int
	Text      string
	Preview   string
	TextHash  string
}

type pageSpan struct {
	page  int
	start int
	end   int
}

// ChunkPages splits page-tagged text into overlapping chunks with page
// attribution. All offsets are in runes so a cut never lands inside a UTF-8
// sequence. The cursor strictly advances every iteration, so the walk
// terminates for any overlap < maxChars.
func ChunkPages(pages []PageText, cfg ChunkConfig) []Chunk {
	var stream []rune
	var spans []pageSpan
	for _, p := range pages {
		t := strings.TrimSpace(p.Text)
		if t == "" {
			continue
		}
		if len(stream) > 0 {
			stream = append(stream, '\n')
		}
		start := len(stream)
		stream = append(stream, []rune(t)...)
		spans = append(spans, pageSpan{page: p.Page, start: start, end: len(stream)})
	}
	if len(spans) == 0 {
		return []Chunk{}
	}

	n := len(stream)
	var chunks []Chunk
	pos := 0
	for pos < n {
		end := pos + cfg.MaxChars
		if end > n {
			end = n
		}
		if end < n {
			lo := pos + cfg.MinChars
			if cut := lastParagraphBreak(stream, lo, end); cut > lo {
				end = cut
			} else if cut := lastSentenceEnd(stream, lo, end); cut > lo {
				end = cut
			}
		}

		text := strings.TrimSpace(string(stream[pos:end]))
		final := end >= n
		if utf8.RuneCountInString(text) >= cfg.MinChars/2 ||
			(final && len(chunks) == 0 && text != "") {
			pageStart, pageEnd := pageRange(spans, pos, end)
			chunks = append(chunks, Chunk{
				Index:     len(chunks),
				PageStart: pageStart,
				PageEnd:   pageEnd,
				Text:      text,
				Preview:   buildPreview(text, cfg.PreviewChars),
				TextHash:  HashText(text),
			})
		}

		next := end - cfg.Overlap
		if next <= pos {
			next = end
		}
		pos = next
	}
	return chunks
}

// lastParagraphBreak returns the offset of the last "\n\n" in [lo, end), or -1.
func lastParagraphBreak(stream []rune, lo, end int) int {
	if lo < 0 {
		lo = 0
	}
	for i := end - 2; i >= lo; i-- {
		if stream[i] == '\n' && stream[i+1] == '\n' {
			return i
		}
	}
	return -1
}

// lastSentenceEnd returns the offset just past the last sentence terminator
// (". ", "! ", "? " or punctuation followed by newline) in [lo, end), or -1.
func lastSentenceEnd(stream []rune, lo, end int) int {
	if lo < 0 {
		lo = 0
	}
	for i := end - 2; i >= lo; i-- {
		r := stream[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		next := stream[i+1]
		if next == ' ' || next == '\n' {
			return i + 2
		}
	}
	return -1
}

// pageRange maps a [pos, end) window in the concatenated stream back to the
// inclusive range of source pages it overlaps.
func pageRange(spans []pageSpan, pos, end int) (int, int) {
	pageStart, pageEnd := 0, 0
	for _, sp := range spans {
		if sp.end <= pos || sp.start >= end {
			continue
		}
		if pageStart == 0 {
			pageStart = sp.page
		}
		pageEnd = sp.page
	}
	if pageStart == 0 && len(spans) > 0 {
		pageStart = spans[0].page
		pageEnd = spans[0].page
	}
	return pageStart, pageEnd
}

// buildPreview shortens chunk text for list UIs, preferring a sentence end in
// the last 30% of the budget and falling back to a word boundary.
func buildPreview(text string, previewChars int) string {
	r := []rune(text)
	if len(r) <= previewChars {
		return text
	}

	threshold := previewChars * 7 / 10
	for i := previewChars - 1; i > threshold; i-- {
		c := r[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		if i+1 < len(r) && r[i+1] != ' ' && r[i+1] != '\n' {
			continue
		}
		return strings.TrimSpace(string(r[:i+1]))
	}

	truncated := r[:previewChars]
	lastSpace := -1
	for i := len(truncated) - 1; i >= 0; i-- {
		if truncated[i] == ' ' {
			lastSpace = i
			break
		}
	}
	if lastSpace > threshold {
		return strings.TrimSpace(string(truncated[:lastSpace])) + "…"
	}
	return strings.TrimSpace(string(truncated)) + "…"
}

// HashText is the chunk dedup key: a pure function of the chunk text only.
func HashText(text string) string {
	sum := sha1.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// DeduplicateChunks drops chunks whose hash is already known, used when
// re-ingesting a document to avoid storing the same text twice.
func DeduplicateChunks(chunks []Chunk, existingHashes map[string]struct{}) []Chunk {
	out := make([]Chunk, 0, len(chunks))
	for _, ch := range chunks {
		if _, ok := existingHashes[ch.TextHash]; ok {
			continue
		}
		out = append(out, ch)
	}
	return out
}
