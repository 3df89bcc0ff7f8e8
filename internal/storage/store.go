// Package storage implements the relational store of spec.md §4.4:
// Document CRUD, the content-hash-based version/skip/edit/new/new_site
// decision, the Site↔Document join, and append-only CrawlHistory.
// Grounded on the teacher's postgres-backed blueprints (go-mizu-mizu's
// store/postgres packages) rather than the teacher's own git/govc blob
// store, which has no notion of per-site versioning or decision tables.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sitesearch/core/pkg/sitemodel"
)

// Store is the C4 Storage component, backed by a pgx connection pool.
type Store struct {
	pool    *pgxpool.Pool
	metrics MetricsCollector // optional, may be nil
}

// New builds a Store over an already-connected pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithMetrics attaches a MetricsCollector; StoreDocument, CheckExists,
// DeleteDocument and MarkIndexed record their outcome through it when
// set. The other Store methods record nothing.
func (s *Store) WithMetrics(m MetricsCollector) *Store {
	s.metrics = m
	return s
}

func (s *Store) record(op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordMetric(StorageMetrics{
		OperationType: op,
		Duration:      time.Since(start).Nanoseconds(),
		Success:       err == nil,
		Backend:       "postgres",
		Error:         err,
	})
}

// StoreRequest is the payload passed to StoreDocument.
type StoreRequest struct {
	URL            string
	RequestedSites []string
	RawContent     []byte
	CleanedContent string
	MimeType       string
	Title          string
	StatusCode     int
	Headers        map[string]string
	OutboundLinks  []string
	Metadata       map[string]string
	CrawlerID      string
	ContentHash    string // computed from RawContent if empty
}

// StoreDocument executes spec.md §4.4's decision table in a single
// transaction and returns the resulting Document and IndexOperation.
// previousContentHash is only set on OpEdit, carrying the content hash
// the document had before this call so the caller can retire the old
// vector chunks keyed by it (spec.md line 281, scenario S3).
func (s *Store) StoreDocument(ctx context.Context, req StoreRequest) (doc sitemodel.Document, op sitemodel.IndexOperation, previousContentHash string, err error) {
	start := time.Now()
	defer func() { s.record("store_document", start, err) }()

	if req.ContentHash == "" {
		req.ContentHash = sitemodel.ContentHash(req.RawContent)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return doc, op, "", fmt.Errorf("storage: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	existing, found, err := lookupByURL(ctx, tx, req.URL)
	if err != nil {
		return doc, op, "", err
	}
	if !found {
		existing, found, err = lookupByHash(ctx, tx, req.ContentHash)
		if err != nil {
			return doc, op, "", err
		}
	}

	if !found {
		doc, err = insertNewDocument(ctx, tx, req)
		if err != nil {
			return doc, op, "", err
		}
		if err = insertSiteDocuments(ctx, tx, doc.ID, req.RequestedSites); err != nil {
			return doc, op, "", err
		}
		if err = appendCrawlHistory(ctx, tx, doc, sitemodel.ChangeNew); err != nil {
			return doc, op, "", err
		}
		op = sitemodel.OpNew
		return doc, op, "", tx.Commit(ctx)
	}

	inSite, err := anySiteBound(ctx, tx, existing.ID, req.RequestedSites)
	if err != nil {
		return doc, op, "", err
	}
	hashEqual := existing.ContentHash == req.ContentHash

	op = decide(true, true, inSite, hashEqual)

	switch op {
	case sitemodel.OpNewSite:
		if err = insertSiteDocuments(ctx, tx, existing.ID, req.RequestedSites); err != nil {
			return doc, op, "", err
		}
		doc = existing
	case sitemodel.OpEdit:
		previousContentHash = existing.ContentHash
		doc, err = updateDocument(ctx, tx, existing, req)
		if err != nil {
			return doc, op, "", err
		}
		if err = insertSiteDocuments(ctx, tx, doc.ID, req.RequestedSites); err != nil {
			return doc, op, "", err
		}
		if err = appendCrawlHistory(ctx, tx, doc, sitemodel.ChangeEdit); err != nil {
			return doc, op, "", err
		}
	case sitemodel.OpSkip:
		if err = insertSiteDocuments(ctx, tx, existing.ID, req.RequestedSites); err != nil {
			return doc, op, "", err
		}
		doc = existing
	}

	return doc, op, previousContentHash, tx.Commit(ctx)
}

// CheckExists mirrors StoreDocument's decision table without mutating
// anything, letting the crawler short-circuit before fetching content
// it already has (spec.md §4.4).
func (s *Store) CheckExists(ctx context.Context, url, siteID, contentHash string) (exists bool, doc *sitemodel.Document, op sitemodel.IndexOperation, err error) {
	start := time.Now()
	defer func() { s.record("check_exists", start, err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, nil, "", fmt.Errorf("storage: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	existing, found, err := lookupByURL(ctx, tx, url)
	if err != nil {
		return false, nil, "", err
	}
	if !found && contentHash != "" {
		existing, found, err = lookupByHash(ctx, tx, contentHash)
		if err != nil {
			return false, nil, "", err
		}
	}
	if !found {
		return false, nil, sitemodel.OpNew, nil
	}

	var inSite bool
	if siteID != "" {
		inSite, err = anySiteBound(ctx, tx, existing.ID, []string{siteID})
		if err != nil {
			return false, nil, "", err
		}
	} else {
		inSite = true
	}
	hashEqual := contentHash == "" || existing.ContentHash == contentHash
	op = decide(true, true, inSite, hashEqual)
	return true, &existing, op, nil
}

// DeleteDocument implements spec.md §4.4's delete_document: unbind a
// site, and delete the Document outright once no SiteDocument remains.
// It returns the Document as it stood before deletion so the caller
// can tag the downstream envelope with its content hash.
func (s *Store) DeleteDocument(ctx context.Context, url, siteID string) (doc sitemodel.Document, err error) {
	start := time.Now()
	defer func() { s.record("delete_document", start, err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return doc, fmt.Errorf("storage: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var found bool
	doc, found, err = lookupByURL(ctx, tx, url)
	if err != nil {
		return doc, err
	}
	if !found {
		return doc, fmt.Errorf("storage: no document for url %q", url)
	}

	if siteID != "" {
		if _, err = tx.Exec(ctx, `DELETE FROM site_documents WHERE site_id = $1 AND document_id = $2`, siteID, doc.ID); err != nil {
			return doc, fmt.Errorf("storage: unbind site: %w", err)
		}
	}

	var remaining int
	if err = tx.QueryRow(ctx, `SELECT count(*) FROM site_documents WHERE document_id = $1`, doc.ID).Scan(&remaining); err != nil {
		return doc, fmt.Errorf("storage: count site bindings: %w", err)
	}

	if siteID == "" || remaining == 0 {
		if _, err = tx.Exec(ctx, `DELETE FROM documents WHERE id = $1`, doc.ID); err != nil {
			return doc, fmt.Errorf("storage: delete document: %w", err)
		}
	}

	if err = appendCrawlHistory(ctx, tx, doc, sitemodel.ChangeDelete); err != nil {
		return doc, err
	}
	return doc, tx.Commit(ctx)
}

// MarkIndexed sets is_indexed=true once the Indexer Worker has
// finished writing a document's chunks.
func (s *Store) MarkIndexed(ctx context.Context, documentID string) (err error) {
	start := time.Now()
	defer func() { s.record("mark_indexed", start, err) }()
	_, err = s.pool.Exec(ctx, `UPDATE documents SET is_indexed = true, updated_at = now() WHERE id = $1`, documentID)
	return err
}

func lookupByURL(ctx context.Context, tx pgx.Tx, url string) (sitemodel.Document, bool, error) {
	return scanOneDocument(ctx, tx, `SELECT id, url, title, cleaned_content, mime_type, content_hash, status_code,
		headers, outbound_links, metadata, crawler_id, version, index_operation, is_indexed, created_at, updated_at
		FROM documents WHERE url = $1`, url)
}

func lookupByHash(ctx context.Context, tx pgx.Tx, hash string) (sitemodel.Document, bool, error) {
	return scanOneDocument(ctx, tx, `SELECT id, url, title, cleaned_content, mime_type, content_hash, status_code,
		headers, outbound_links, metadata, crawler_id, version, index_operation, is_indexed, created_at, updated_at
		FROM documents WHERE content_hash = $1 LIMIT 1`, hash)
}

func scanOneDocument(ctx context.Context, tx pgx.Tx, query string, arg string) (sitemodel.Document, bool, error) {
	var d sitemodel.Document
	var headers, links, metadata []byte
	err := tx.QueryRow(ctx, query, arg).Scan(
		&d.ID, &d.URL, &d.Title, &d.CleanedContent, &d.MimeType, &d.ContentHash, &d.StatusCode,
		&headers, &links, &metadata, &d.CrawlerID, &d.Version, &d.IndexOperation, &d.IsIndexed,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return sitemodel.Document{}, false, nil
	}
	if err != nil {
		return sitemodel.Document{}, false, fmt.Errorf("storage: lookup document: %w", err)
	}
	_ = json.Unmarshal(headers, &d.Headers)
	_ = json.Unmarshal(links, &d.OutboundLinks)
	_ = json.Unmarshal(metadata, &d.Metadata)
	return d, true, nil
}

func insertNewDocument(ctx context.Context, tx pgx.Tx, req StoreRequest) (sitemodel.Document, error) {
	headers, _ := json.Marshal(req.Headers)
	links, _ := json.Marshal(req.OutboundLinks)
	metadata, _ := json.Marshal(req.Metadata)

	d := sitemodel.Document{
		ID:             uuid.NewString(),
		URL:            req.URL,
		Title:          sitemodel.TruncateTitle(req.Title),
		CleanedContent: req.CleanedContent,
		MimeType:       req.MimeType,
		ContentHash:    req.ContentHash,
		StatusCode:     req.StatusCode,
		Headers:        req.Headers,
		OutboundLinks:  req.OutboundLinks,
		Metadata:       req.Metadata,
		CrawlerID:      req.CrawlerID,
		Version:        1,
		IndexOperation: sitemodel.OpNew,
	}

	_, err := tx.Exec(ctx, `INSERT INTO documents
		(id, url, title, cleaned_content, mime_type, content_hash, status_code, headers, outbound_links, metadata,
		 crawler_id, version, index_operation, is_indexed)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,false)`,
		d.ID, d.URL, d.Title, d.CleanedContent, d.MimeType, d.ContentHash, d.StatusCode, headers, links, metadata,
		d.CrawlerID, d.Version, d.IndexOperation)
	if err != nil {
		return sitemodel.Document{}, fmt.Errorf("storage: insert document: %w", err)
	}
	return d, nil
}

func updateDocument(ctx context.Context, tx pgx.Tx, existing sitemodel.Document, req StoreRequest) (sitemodel.Document, error) {
	headers, _ := json.Marshal(req.Headers)
	links, _ := json.Marshal(req.OutboundLinks)
	metadata, _ := json.Marshal(req.Metadata)

	d := existing
	d.Title = sitemodel.TruncateTitle(req.Title)
	d.CleanedContent = req.CleanedContent
	d.MimeType = req.MimeType
	d.ContentHash = req.ContentHash
	d.StatusCode = req.StatusCode
	d.Headers = req.Headers
	d.OutboundLinks = req.OutboundLinks
	d.Metadata = req.Metadata
	d.CrawlerID = req.CrawlerID
	d.Version = existing.Version + 1
	d.IndexOperation = sitemodel.OpEdit
	d.IsIndexed = false

	_, err := tx.Exec(ctx, `UPDATE documents SET
		title=$2, cleaned_content=$3, mime_type=$4, content_hash=$5, status_code=$6, headers=$7, outbound_links=$8,
		metadata=$9, crawler_id=$10, version=$11, index_operation=$12, is_indexed=false, updated_at=now()
		WHERE id=$1`,
		d.ID, d.Title, d.CleanedContent, d.MimeType, d.ContentHash, d.StatusCode, headers, links, metadata,
		d.CrawlerID, d.Version, d.IndexOperation)
	if err != nil {
		return sitemodel.Document{}, fmt.Errorf("storage: update document: %w", err)
	}
	return d, nil
}

func insertSiteDocuments(ctx context.Context, tx pgx.Tx, documentID string, siteIDs []string) error {
	for _, siteID := range siteIDs {
		if _, err := tx.Exec(ctx, `INSERT INTO site_documents (site_id, document_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, siteID, documentID); err != nil {
			return fmt.Errorf("storage: bind site %q: %w", siteID, err)
		}
	}
	return nil
}

func anySiteBound(ctx context.Context, tx pgx.Tx, documentID string, siteIDs []string) (bool, error) {
	if len(siteIDs) == 0 {
		return false, nil
	}
	var count int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM site_documents WHERE document_id = $1 AND site_id = ANY($2)`,
		documentID, siteIDs).Scan(&count); err != nil {
		return false, fmt.Errorf("storage: check site binding: %w", err)
	}
	return count > 0, nil
}

func appendCrawlHistory(ctx context.Context, tx pgx.Tx, doc sitemodel.Document, change sitemodel.ChangeType) error {
	metadata, _ := json.Marshal(doc.Metadata)
	_, err := tx.Exec(ctx, `INSERT INTO crawl_history
		(id, document_id, url, content_hash, version, change_type, metadata_snapshot)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		uuid.NewString(), doc.ID, doc.URL, doc.ContentHash, doc.Version, change, metadata)
	if err != nil {
		return fmt.Errorf("storage: append crawl history: %w", err)
	}
	return nil
}
