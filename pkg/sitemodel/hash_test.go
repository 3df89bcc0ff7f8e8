package sitemodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentHashIsPureAndStable(t *testing.T) {
	a := ContentHash([]byte("hello"))
	b := ContentHash([]byte("hello"))
	c := ContentHash([]byte("hello world"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64) // hex-encoded SHA-256
}

func TestDocIDCombinesSiteAndHash(t *testing.T) {
	id := DocID("s1", "abc123")
	assert.Equal(t, "s1:abc123", id)
}
