package crawler

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURLStripsFragmentAndAddsTrailingSlash(t *testing.T) {
	out, err := NormalizeURL("https://a.example/path#frag", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://a.example/path/", out)
}

func TestNormalizeURLLeavesFileSegmentAlone(t *testing.T) {
	out, err := NormalizeURL("https://a.example/doc.pdf", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://a.example/doc.pdf", out)
}

func TestNormalizeURLResolvesAgainstBase(t *testing.T) {
	base, _ := url.Parse("https://a.example/x/")
	out, err := NormalizeURL("../y", base)
	require.NoError(t, err)
	assert.Equal(t, "https://a.example/y/", out)
}

func TestNormalizeURLIsIdempotent(t *testing.T) {
	first, err := NormalizeURL("https://a.example/p%61th#x", nil)
	require.NoError(t, err)
	second, err := NormalizeURL(first, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestNormalizeURLDecodesPercentEncoding(t *testing.T) {
	out, err := NormalizeURL("https://a.example/p%2561th", nil) // double-encoded "path"
	require.NoError(t, err)
	assert.Equal(t, "https://a.example/path/", out)
}
