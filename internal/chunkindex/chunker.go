package chunkindex

import "strings"

// Chunk splits text into overlapping windows of at most maxChars characters.
// Successive windows start at end-overlap, so every character of the source
// is covered and boundary context loss is bounded by the overlap. Windows
// that trim to nothing are skipped; their span is still covered by the
// neighbors. overlap is clamped to [0, maxChars).
func Chunk(text string, maxChars, overlap int) []string {
	if maxChars < 1 {
		maxChars = 1
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= maxChars {
		overlap = maxChars - 1
	}

	runes := []rune(text)
	var chunks []string

	for start := 0; start < len(runes); {
		end := start + maxChars
		if end > len(runes) {
			end = len(runes)
		}

		if window := strings.TrimSpace(string(runes[start:end])); window != "" {
			chunks = append(chunks, window)
		}

		if end == len(runes) {
			break
		}
		start = end - overlap
	}

	return chunks
}
