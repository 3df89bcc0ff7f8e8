package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sitesearch/core/pkg/sitemodel"
)

func TestDecideTable(t *testing.T) {
	cases := []struct {
		name                                        string
		urlMatch, hashMatch, inSite, hashEqual       bool
		want                                         sitemodel.IndexOperation
	}{
		{"no match at all", false, false, false, false, sitemodel.OpNew},
		{"hash match, new site", false, true, false, false, sitemodel.OpNewSite},
		{"url match, new site", true, false, false, false, sitemodel.OpNewSite},
		{"url match, in site, changed", true, false, true, false, sitemodel.OpEdit},
		{"url match, in site, unchanged", true, false, true, true, sitemodel.OpSkip},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := decide(c.urlMatch, c.hashMatch, c.inSite, c.hashEqual)
			assert.Equal(t, c.want, got)
		})
	}
}
