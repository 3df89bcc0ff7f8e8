package indexer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkShortTextIsSingleChunk(t *testing.T) {
	chunks := Chunk("hello world", 1024, 256)
	assert.Equal(t, []string{"hello world"}, chunks)
}

func TestChunkOverlapsWindows(t *testing.T) {
	text := strings.Repeat("a", 2500)
	chunks := Chunk(text, 1024, 256)
	assert.Greater(t, len(chunks), 1)
	for i := 0; i < len(chunks)-1; i++ {
		tail := chunks[i][len(chunks[i])-256:]
		head := chunks[i+1][:256]
		assert.Equal(t, tail, head)
	}
}

func TestChunkEmptyContentYieldsNoChunks(t *testing.T) {
	assert.Nil(t, Chunk("   ", 1024, 256))
}

func TestChunkInvalidParamsFallBackToDefaults(t *testing.T) {
	text := strings.Repeat("b", 2000)
	withDefaults := Chunk(text, DefaultChunkSize, DefaultChunkOverlap)
	withInvalid := Chunk(text, 0, -5)
	assert.Equal(t, withDefaults, withInvalid)
}
