package storage

import "github.com/sitesearch/core/pkg/sitemodel"

// decide implements the pure decision table of spec.md §4.4 step 3.
// It takes no database handle so it can be tested directly.
func decide(urlMatch, hashMatch, inRequestedSite, hashEqualToStored bool) sitemodel.IndexOperation {
	switch {
	case !urlMatch && !hashMatch:
		return sitemodel.OpNew
	case !inRequestedSite:
		return sitemodel.OpNewSite
	case !hashEqualToStored:
		return sitemodel.OpEdit
	default:
		return sitemodel.OpSkip
	}
}
