package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sitesearch/core/pkg/sitemodel"
)

// maxListBatch caps a single ListDocumentsForSite page, matching
// spec.md §4.9's "iterate the site's Documents in batches of <=200".
const maxListBatch = 200

// ListDocumentsForSite returns up to limit (capped at 200) Documents
// bound to siteID, ordered by id, starting after afterID (empty for
// the first page), for the Refresh Worker (C9).
func (s *Store) ListDocumentsForSite(ctx context.Context, siteID, afterID string, limit int) ([]sitemodel.Document, error) {
	if limit <= 0 || limit > maxListBatch {
		limit = maxListBatch
	}
	rows, err := s.pool.Query(ctx, `
		SELECT d.id, d.url, d.title, d.cleaned_content, d.mime_type, d.content_hash, d.status_code,
			d.headers, d.outbound_links, d.metadata, d.crawler_id, d.version, d.index_operation,
			d.is_indexed, d.created_at, d.updated_at
		FROM documents d
		JOIN site_documents sd ON sd.document_id = d.id
		WHERE sd.site_id = $1 AND d.id > $2
		ORDER BY d.id
		LIMIT $3`, siteID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list documents for site %s: %w", siteID, err)
	}
	defer rows.Close()

	var docs []sitemodel.Document
	for rows.Next() {
		var d sitemodel.Document
		var headers, links, metadata []byte
		if err := rows.Scan(
			&d.ID, &d.URL, &d.Title, &d.CleanedContent, &d.MimeType, &d.ContentHash, &d.StatusCode,
			&headers, &links, &metadata, &d.CrawlerID, &d.Version, &d.IndexOperation, &d.IsIndexed,
			&d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan document row: %w", err)
		}
		_ = json.Unmarshal(headers, &d.Headers)
		_ = json.Unmarshal(links, &d.OutboundLinks)
		_ = json.Unmarshal(metadata, &d.Metadata)
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list documents for site %s: %w", siteID, err)
	}
	return docs, nil
}
