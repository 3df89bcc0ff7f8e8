// Package indexer implements the per-site hybrid vector index of
// spec.md §4.3: Qdrant-backed dense+sparse chunk storage, the broker's
// chunk document-store namespace, and retrieval with optional
// reranking.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog/log"

	"github.com/sitesearch/core/pkg/broker"
	"github.com/sitesearch/core/pkg/sitemodel"
)

func marshalChunk(c chunkPayload) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("indexer: marshal chunk payload: %w", err)
	}
	return string(b), nil
}

func unmarshalChunk(s string, c *chunkPayload) error {
	return json.Unmarshal([]byte(s), c)
}

func strPtr(s string) *string { return &s }

// chunkIDNamespace seeds the deterministic point-id UUIDs so the same
// (doc_id, chunk_index) always maps to the same Qdrant point,
// matching "Indexer upserts by doc_id" (spec.md §5, at-least-once
// delivery).
var chunkIDNamespace = uuid.MustParse("8f14e45f-ceea-467e-9646-e08c5afd6e3f")

// Document is one cleaned page handed to the indexer by the Indexer
// Worker (C8).
type Document struct {
	SiteID      string
	URL         string
	Title       string
	MimeType    string
	ContentHash string
	CleanText   string
}

// Config controls chunk sizing and the dense vector dimension; zero
// values fall back to spec.md §4.3 defaults.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	DenseDim     uint64
}

// Indexer ties the Qdrant collection, the broker's chunk document
// store and the external embedding/reranker HTTP clients together.
type Indexer struct {
	qdrant *qdrant.Client
	broker *broker.Client
	embed  *EmbedClient
	rerank *RerankClient
	cfg    Config
}

func New(qdrantClient *qdrant.Client, brokerClient *broker.Client, embed *EmbedClient, rerank *RerankClient, cfg Config) *Indexer {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkOverlap == 0 {
		cfg.ChunkOverlap = DefaultChunkOverlap
	}
	if cfg.DenseDim == 0 {
		cfg.DenseDim = DefaultDenseDim
	}
	return &Indexer{qdrant: qdrantClient, broker: brokerClient, embed: embed, rerank: rerank, cfg: cfg}
}

// chunkPayload is the chunk-level record spec.md §4.3 step 4
// describes, stored both in the vector point's payload and the
// broker's document-store hash.
type chunkPayload struct {
	SiteID      string `json:"site_id"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	MimeType    string `json:"mimetype"`
	ContentHash string `json:"content_hash"`
	RefDocID    string `json:"ref_doc_id"`
	ChunkIndex  int    `json:"chunk_index"`
	ChunkText   string `json:"chunk_text"`
}

// Ingest chunks, embeds and upserts one document's content into its
// site's collection, per spec.md §4.3 steps 1-4.
func (ix *Indexer) Ingest(ctx context.Context, doc Document) error {
	if err := EnsureCollection(ctx, ix.qdrant, doc.SiteID, ix.cfg.DenseDim); err != nil {
		return err
	}

	docID := sitemodel.DocID(doc.SiteID, doc.ContentHash)
	chunks := Chunk(doc.CleanText, ix.cfg.ChunkSize, ix.cfg.ChunkOverlap)
	if len(chunks) == 0 {
		log.Warn().Str("doc_id", docID).Msg("indexer: no chunks produced from empty content")
		return nil
	}

	embeddings, err := ix.embed.Embed(ctx, chunks, true, true)
	if err != nil {
		return fmt.Errorf("indexer: embed chunks for %s: %w", docID, err)
	}
	if len(embeddings) != len(chunks) {
		return fmt.Errorf("indexer: embedding service returned %d vectors for %d chunks", len(embeddings), len(chunks))
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	collection := CollectionName(doc.SiteID)
	for i, chunkText := range chunks {
		payload := chunkPayload{
			SiteID:      doc.SiteID,
			URL:         doc.URL,
			Title:       doc.Title,
			MimeType:    doc.MimeType,
			ContentHash: doc.ContentHash,
			RefDocID:    docID,
			ChunkIndex:  i,
			ChunkText:   chunkText,
		}
		pointID := uuid.NewSHA1(chunkIDNamespace, []byte(pointIDFor(docID, i))).String()

		vectors := map[string]*qdrant.Vector{
			denseVectorName: qdrant.NewVectorDense(embeddings[i].Embedding),
		}
		if len(embeddings[i].SparseEmbedding) > 0 {
			indices, values := sparseToVectors(embeddings[i].SparseEmbedding)
			vectors[sparseVectorName] = qdrant.NewVectorSparse(indices, values)
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(pointID),
			Vectors: qdrant.NewVectorsMap(vectors),
			Payload: qdrant.NewValueMap(map[string]any{
				"site_id":      payload.SiteID,
				"url":          payload.URL,
				"title":        payload.Title,
				"mimetype":     payload.MimeType,
				"content_hash": payload.ContentHash,
				"ref_doc_id":   payload.RefDocID,
				"chunk_index":  payload.ChunkIndex,
				"chunk_text":   payload.ChunkText,
			}),
		})

		chunkJSON, err := marshalChunk(payload)
		if err != nil {
			return err
		}
		if err := ix.broker.DocStorePut(ctx, doc.SiteID, pointID, chunkJSON); err != nil {
			return fmt.Errorf("indexer: doc store put for %s chunk %d: %w", docID, i, err)
		}
	}

	if err := ix.qdrant.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: collection, Points: points}); err != nil {
		return fmt.Errorf("indexer: upsert %s: %w", docID, err)
	}
	return nil
}

// DeleteByContentHash removes every chunk with ref_doc_id =
// "{site_id}:{hash}" from both the vector collection and the document
// store (spec.md §4.3 "Deletion").
func (ix *Indexer) DeleteByContentHash(ctx context.Context, siteID, contentHash string) error {
	docID := sitemodel.DocID(siteID, contentHash)
	collection := CollectionName(siteID)

	ids, err := ix.scrollPointIDs(ctx, siteID, docID)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("indexer: scroll %s for deletion: %w", docID, err)
	}
	if len(ids) == 0 {
		return nil
	}

	filter := refDocIDFilter(docID)
	if err := ix.qdrant.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelectorFilter(filter),
	}); err != nil {
		return fmt.Errorf("indexer: delete %s: %w", docID, err)
	}

	if err := ix.broker.DocStoreDelete(ctx, siteID, ids...); err != nil {
		return fmt.Errorf("indexer: doc store delete for %s: %w", docID, err)
	}
	return nil
}

// Result is one retrieval hit, per spec.md §4.3 "Retrieval".
type Result struct {
	RefDocID  string
	ChunkText string
	Score     float32
	Metadata  map[string]string
}

// Retrieve runs a hybrid dense+sparse query against siteID's
// collection, optionally reranks, applies the similarity cutoff, and
// self-heals any orphaned vector point lacking a document-store entry.
func (ix *Indexer) Retrieve(ctx context.Context, siteID, query string, topK, rerankTopK int) ([]Result, error) {
	if topK <= 0 {
		topK = 10
	}
	collection := CollectionName(siteID)

	embeddings, err := ix.embed.Embed(ctx, []string{query}, true, true)
	if err != nil || len(embeddings) == 0 {
		return nil, fmt.Errorf("indexer: embed query: %w", err)
	}
	queryEmbedding := embeddings[0]

	limit := uint64(topK)
	prefetchLimit := uint64(topK * 4)
	prefetch := []*qdrant.PrefetchQuery{
		{
			Query: qdrant.NewQueryDense(queryEmbedding.Embedding),
			Using: strPtr(denseVectorName),
			Limit: &prefetchLimit,
		},
	}
	if len(queryEmbedding.SparseEmbedding) > 0 {
		indices, values := sparseToVectors(queryEmbedding.SparseEmbedding)
		prefetch = append(prefetch, &qdrant.PrefetchQuery{
			Query: qdrant.NewQuerySparse(indices, values),
			Using: strPtr(sparseVectorName),
			Limit: &prefetchLimit,
		})
	}

	points, err := ix.qdrant.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Prefetch:       prefetch,
		Query:          qdrant.NewQueryFusion(qdrant.Fusion_RRF),
		Limit:          &limit,
		Params:         searchParams(),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("indexer: query %s: %w", collection, err)
	}

	results := make([]Result, 0, len(points))
	var orphanIDs []string
	for _, p := range points {
		payload := p.GetPayload()
		chunkText := payload["chunk_text"].GetStringValue()
		refDocID := payload["ref_doc_id"].GetStringValue()
		pointID := p.GetId().GetUuid()

		stored, found, err := ix.broker.DocStoreGet(ctx, siteID, pointID)
		if err != nil {
			return nil, fmt.Errorf("indexer: doc store get %s: %w", pointID, err)
		}
		if !found {
			orphanIDs = append(orphanIDs, pointID)
			continue
		}
		if chunkText == "" {
			var chunk chunkPayload
			if err := unmarshalChunk(stored, &chunk); err != nil {
				orphanIDs = append(orphanIDs, pointID)
				continue
			}
			chunkText = chunk.ChunkText
			refDocID = chunk.RefDocID
		}

		results = append(results, Result{
			RefDocID:  refDocID,
			ChunkText: chunkText,
			Score:     p.GetScore(),
			Metadata: map[string]string{
				"url":      payload["url"].GetStringValue(),
				"title":    payload["title"].GetStringValue(),
				"mimetype": payload["mimetype"].GetStringValue(),
			},
		})
	}

	if len(orphanIDs) > 0 {
		ix.healOrphans(ctx, siteID, orphanIDs)
	}

	if ix.rerank != nil && len(results) > 0 {
		results, err = ix.applyRerank(ctx, query, results, rerankTopK)
		if err != nil {
			log.Warn().Err(err).Str("site_id", siteID).Msg("indexer: rerank failed, returning unranked hybrid results")
		}
	}
	return results, nil
}

// applyRerank calls the external reranker over the candidate chunk
// texts, keeps the top rerankTopK, and drops anything below
// DefaultRerankCutoff (spec.md §4.3 "Retrieval").
func (ix *Indexer) applyRerank(ctx context.Context, query string, candidates []Result, rerankTopK int) ([]Result, error) {
	if rerankTopK <= 0 {
		rerankTopK = len(candidates)
	}
	texts := make([]string, len(candidates))
	for i, r := range candidates {
		texts[i] = r.ChunkText
	}

	ranked, err := ix.rerank.Rerank(ctx, query, texts, rerankTopK)
	if err != nil {
		return candidates, err
	}

	out := make([]Result, 0, len(ranked))
	for _, r := range ranked {
		if r.RelevanceScore < DefaultRerankCutoff {
			continue
		}
		if r.Index < 0 || r.Index >= len(candidates) {
			continue
		}
		hit := candidates[r.Index]
		hit.Score = float32(r.RelevanceScore)
		out = append(out, hit)
	}
	return out, nil
}

// healOrphans removes vector points whose document-store entry is
// missing from both stores (spec.md §4.3: "If a ref_doc_id returned by
// the vector store has no corresponding document store entry, remove
// it from both stores").
func (ix *Indexer) healOrphans(ctx context.Context, siteID string, pointIDs []string) {
	ids := make([]*qdrant.PointId, len(pointIDs))
	for i, id := range pointIDs {
		ids[i] = qdrant.NewID(id)
	}
	err := ix.qdrant.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: CollectionName(siteID),
		Points:         qdrant.NewPointsSelectorIDs(ids),
	})
	if err != nil {
		log.Warn().Err(err).Str("site_id", siteID).Int("count", len(pointIDs)).Msg("indexer: failed to heal orphan vector points")
		return
	}
	log.Info().Str("site_id", siteID).Int("count", len(pointIDs)).Msg("indexer: healed orphan vector points")
}

func (ix *Indexer) scrollPointIDs(ctx context.Context, siteID, docID string) ([]string, error) {
	resp, err := ix.qdrant.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: CollectionName(siteID),
		Filter:         refDocIDFilter(docID),
		WithPayload:    qdrant.NewWithPayload(false),
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(resp))
	for _, p := range resp {
		ids = append(ids, p.GetId().GetUuid())
	}
	return ids, nil
}

func refDocIDFilter(docID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("ref_doc_id", docID),
		},
	}
}

// sparseToVectors converts a {token_id: weight} map from the
// embedding service into Qdrant's parallel indices/values arrays.
func sparseToVectors(sparse map[string]float32) ([]uint32, []float32) {
	indices := make([]uint32, 0, len(sparse))
	values := make([]float32, 0, len(sparse))
	for tokenID, weight := range sparse {
		id, err := strconv.ParseUint(tokenID, 10, 32)
		if err != nil {
			continue
		}
		indices = append(indices, uint32(id))
		values = append(values, weight)
	}
	return indices, values
}
