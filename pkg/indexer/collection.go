package indexer

import (
	"context"
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

// HNSW parameters and dense dimension default from spec.md §4.3.
const (
	HNSWM              = 32
	HNSWEfConstruction = 200
	HNSWSearchEf       = 512
	DefaultDenseDim    = 1536

	denseVectorName  = "dense"
	sparseVectorName = "sparse"
)

// CollectionName returns the per-site vector collection name, spec.md
// §4.3: "sitesearch_{site_id}_vectors".
func CollectionName(siteID string) string {
	return fmt.Sprintf("sitesearch_%s_vectors", siteID)
}

// EnsureCollection creates the per-site collection if it does not
// already exist, with cosine distance, HNSW(M=32, efConstruct=200) and
// a parallel sparse field, exactly as spec.md §4.3 describes.
func EnsureCollection(ctx context.Context, client *qdrant.Client, siteID string, denseDim uint64) error {
	if denseDim == 0 {
		denseDim = DefaultDenseDim
	}
	name := CollectionName(siteID)

	exists, err := client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("indexer: check collection %s: %w", name, err)
	}
	if exists {
		return nil
	}

	m := uint64(HNSWM)
	ef := uint64(HNSWEfConstruction)
	err = client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			denseVectorName: {
				Size:     denseDim,
				Distance: qdrant.Distance_Cosine,
				HnswConfig: &qdrant.HnswConfigDiff{
					M:           &m,
					EfConstruct: &ef,
				},
			},
		}),
		SparseVectorsConfig: qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
			sparseVectorName: {},
		}),
	})
	if err != nil {
		return fmt.Errorf("indexer: create collection %s: %w", name, err)
	}
	return nil
}

// searchParams returns the HNSW search-time ef param (spec.md §4.3: search
// ef=512), wrapped for qdrant's per-query SearchParams.
func searchParams() *qdrant.SearchParams {
	ef := uint64(HNSWSearchEf)
	return &qdrant.SearchParams{HnswEf: &ef}
}

// pointIDFor derives a deterministic point id for one chunk of one
// document: "{doc_id}#{chunk_index}" is not a valid Qdrant point id
// (Qdrant requires a UUID or unsigned integer), so Ingest hashes it
// into a UUID with uuid.NewSHA1 under chunkIDNamespace.
func pointIDFor(docID string, chunkIndex int) string {
	return fmt.Sprintf("%s#%d", docID, chunkIndex)
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "not found")
}
