package indexer

import "strings"

// DefaultChunkSize and DefaultChunkOverlap match spec.md §4.3 step 2.
const (
	DefaultChunkSize    = 1024
	DefaultChunkOverlap = 256
)

// Chunk splits cleaned content into overlapping windows of size chars
// with the given overlap. A non-positive size or overlap >= size falls
// back to the defaults, since an indexer misconfigured this way would
// never terminate.
func Chunk(content string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
		if overlap >= size {
			size = DefaultChunkSize
		}
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	runes := []rune(content)
	if len(runes) <= size {
		return []string{string(runes)}
	}

	step := size - overlap
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
