package storage

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/sitesearch/core/pkg/sitemodel"
)

// newTestStore connects to a real Postgres instance when SITESEARCH_TEST_DATABASE_URL
// is set; otherwise the test is skipped. The decision table itself (the bulk of
// §4.4's logic) is exercised DB-free by decide_test.go.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("SITESEARCH_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("SITESEARCH_TEST_DATABASE_URL not set, skipping Postgres-backed storage test")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return New(pool)
}

func TestStoreDocumentNewThenSkipThenEdit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.pool.Exec(ctx, `INSERT INTO sites (id, name, base_url) VALUES ('s1','S1','https://a.example') ON CONFLICT (id) DO NOTHING`)
	require.NoError(t, err)

	req := StoreRequest{
		URL:            "https://a.example/",
		RequestedSites: []string{"s1"},
		RawContent:     []byte("Hello"),
		CleanedContent: "Hello",
		MimeType:       "text/html",
		Title:          "T",
	}

	doc, op, prevHash, err := s.StoreDocument(ctx, req)
	require.NoError(t, err)
	require.Equal(t, sitemodel.OpNew, op)
	require.Equal(t, 1, doc.Version)
	require.Empty(t, prevHash)

	doc2, op2, prevHash2, err := s.StoreDocument(ctx, req)
	require.NoError(t, err)
	require.Equal(t, sitemodel.OpSkip, op2)
	require.Equal(t, doc.ID, doc2.ID)
	require.Empty(t, prevHash2)

	req.RawContent = []byte("Hello again")
	req.CleanedContent = "Hello again"
	doc3, op3, prevHash3, err := s.StoreDocument(ctx, req)
	require.NoError(t, err)
	require.Equal(t, sitemodel.OpEdit, op3)
	require.Equal(t, 2, doc3.Version)
	require.Equal(t, doc.ContentHash, prevHash3)
	require.NotEqual(t, doc3.ContentHash, prevHash3)
}

func TestDeleteDocumentUnbindsSiteAndRemovesOnceOrphaned(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.pool.Exec(ctx, `INSERT INTO sites (id, name, base_url) VALUES ('s2','S2','https://b.example') ON CONFLICT (id) DO NOTHING`)
	require.NoError(t, err)

	req := StoreRequest{
		URL:            "https://b.example/",
		RequestedSites: []string{"s2"},
		RawContent:     []byte("Bye"),
		CleanedContent: "Bye",
		MimeType:       "text/html",
		Title:          "T2",
	}
	doc, op, _, err := s.StoreDocument(ctx, req)
	require.NoError(t, err)
	require.Equal(t, sitemodel.OpNew, op)

	deleted, err := s.DeleteDocument(ctx, req.URL, "s2")
	require.NoError(t, err)
	require.Equal(t, doc.ID, deleted.ID)
	require.Equal(t, doc.ContentHash, deleted.ContentHash)

	exists, _, _, err := s.CheckExists(ctx, req.URL, "", "")
	require.NoError(t, err)
	require.False(t, exists)
}
