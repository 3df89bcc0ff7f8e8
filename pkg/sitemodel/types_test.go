package sitemodel

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSiteID(t *testing.T) {
	assert.NoError(t, ValidateSiteID("s1"))
	assert.NoError(t, ValidateSiteID("a_b_2"))
	assert.Error(t, ValidateSiteID("s 1"))
	assert.Error(t, ValidateSiteID("s/1"))
	assert.Error(t, ValidateSiteID(""))
}

func TestTruncateTitleShortPassesThrough(t *testing.T) {
	assert.Equal(t, "short title", TruncateTitle("short title"))
}

func TestTruncateTitleOverflowGetsEllipsis(t *testing.T) {
	long := strings.Repeat("a", MaxTitleLength+10)
	out := TruncateTitle(long)
	assert.Equal(t, MaxTitleLength, len([]rune(out)))
	assert.True(t, strings.HasSuffix(out, "…"))
}

func TestTruncateTitleExactBoundary(t *testing.T) {
	exact := strings.Repeat("b", MaxTitleLength)
	assert.Equal(t, exact, TruncateTitle(exact))
}
