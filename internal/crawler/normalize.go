package crawler

import (
	"net/url"
	"strings"
)

const maxPercentDecodeIterations = 5

// NormalizeURL implements spec.md §4.5 step 1: resolve against base,
// iteratively percent-decode to a fixed point (bounded at 5 rounds),
// strip the fragment, and append a trailing slash when the last path
// segment has no dot. It is idempotent: NormalizeURL(NormalizeURL(u))
// == NormalizeURL(u).
func NormalizeURL(raw string, base *url.URL) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	u.Fragment = ""

	decoded := u.Path
	for i := 0; i < maxPercentDecodeIterations; i++ {
		next, err := url.PathUnescape(decoded)
		if err != nil || next == decoded {
			break
		}
		decoded = next
	}
	u.Path = decoded

	if !hasTrailingSlashEligibleSegment(u.Path) {
		u.Path += "/"
	}

	return u.String(), nil
}

// hasTrailingSlashEligibleSegment reports whether u's path already ends
// in "/" or whose last segment contains a dot (treated as a file, e.g.
// "/a/b.html", and left alone).
func hasTrailingSlashEligibleSegment(path string) bool {
	if path == "" || strings.HasSuffix(path, "/") {
		return true
	}
	last := path
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		last = path[idx+1:]
	}
	return strings.Contains(last, ".")
}
