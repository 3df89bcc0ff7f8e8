package crawler

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/temoto/robotstxt"
)

type sitemapURLSet struct {
	URLs []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

type sitemapIndex struct {
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

// DiscoverSitemapURLs implements the optional sitemap discovery of
// spec.md §4.5: fetch robots.txt, follow its Sitemap: entries, and fall
// back to the conventional sitemap locations when robots.txt names
// none.
func DiscoverSitemapURLs(ctx context.Context, client *http.Client, siteRoot *url.URL) ([]string, error) {
	var sitemapLocations []string

	robotsURL := siteRoot.ResolveReference(&url.URL{Path: "/robots.txt"})
	if body, err := fetchBody(ctx, client, robotsURL.String()); err == nil {
		if robots, err := robotstxt.FromBytes(body); err == nil {
			for _, group := range robots.Groups() {
				_ = group // group-level directives aren't sitemap carriers
			}
		}
		sitemapLocations = append(sitemapLocations, extractSitemapDirectives(body)...)
	}

	if len(sitemapLocations) == 0 {
		for _, candidate := range []string{"/sitemap.xml", "/sitemap_index.xml", "/sitemap/"} {
			sitemapLocations = append(sitemapLocations, siteRoot.ResolveReference(&url.URL{Path: candidate}).String())
		}
	}

	var discovered []string
	for _, loc := range sitemapLocations {
		urls, err := fetchSitemap(ctx, client, loc)
		if err != nil {
			continue
		}
		discovered = append(discovered, urls...)
	}
	return discovered, nil
}

// extractSitemapDirectives pulls "Sitemap: <url>" lines out of a
// robots.txt body. robotstxt.RobotsData does not expose these directly,
// so we scan the raw text ourselves.
func extractSitemapDirectives(robotsTxt []byte) []string {
	var sitemaps []string
	for _, line := range strings.Split(string(robotsTxt), "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "sitemap:") {
			loc := strings.TrimSpace(line[len("sitemap:"):])
			if loc != "" {
				sitemaps = append(sitemaps, loc)
			}
		}
	}
	return sitemaps
}

func fetchSitemap(ctx context.Context, client *http.Client, location string) ([]string, error) {
	body, err := fetchBody(ctx, client, location)
	if err != nil {
		return nil, err
	}

	var urlset sitemapURLSet
	if err := xml.Unmarshal(body, &urlset); err == nil && len(urlset.URLs) > 0 {
		urls := make([]string, 0, len(urlset.URLs))
		for _, u := range urlset.URLs {
			urls = append(urls, u.Loc)
		}
		return urls, nil
	}

	var index sitemapIndex
	if err := xml.Unmarshal(body, &index); err == nil && len(index.Sitemaps) > 0 {
		var all []string
		for _, sm := range index.Sitemaps {
			nested, err := fetchSitemap(ctx, client, sm.Loc)
			if err != nil {
				continue
			}
			all = append(all, nested...)
		}
		return all, nil
	}

	return nil, fmt.Errorf("crawler: no <url> or <sitemap> entries in %s", location)
}

func fetchBody(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("crawler: %s returned %d", url, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 16*1024*1024))
}
