package sitemodel

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash computes the SHA-256 hex digest of raw content. It is a
// pure function: the same bytes always hash to the same digest across
// processes (spec.md §8 property 1).
func ContentHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// DocID derives the indexer's chunk-owning document id for a site and
// content hash (spec.md §4.3 step 1).
func DocID(siteID, contentHash string) string {
	return siteID + ":" + contentHash
}
