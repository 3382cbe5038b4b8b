package contextbuild

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptgate/internal/gateerr"
	"github.com/promptgate/internal/workspace"
	"github.com/promptgate/pkg/models"
)

type stubSearcher struct {
	chunks []models.RetrievalChunk
	err    error
	query  string
}

func (s *stubSearcher) Search(ctx context.Context, scope models.WorkspaceScope, query string, limit int) ([]models.RetrievalChunk, error) {
	s.query = query
	return s.chunks, s.err
}

func collectorFixture(t *testing.T, searcher Searcher) (*Collector, models.WorkspaceScope) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n\nfunc main() {}\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.go"), []byte(strings.Repeat("x := 1\n", 1000)), 0644))

	validator := workspace.NewValidator([]string{".go"})
	collector := NewCollector(validator, searcher, CollectorConfig{
		MaxFileBytes: 200,
		MaxHits:      5,
		FolderLimits: workspace.WalkLimits{MaxDepth: 4, MaxEntries: 32, MaxBytes: 1 << 20},
	})

	scope := models.WorkspaceScope{TenantID: "t1", WorkspaceID: "w1", RootPath: root}
	return collector, scope
}

func TestCollectFileSource(t *testing.T) {
	c, scope := collectorFixture(t, nil)

	items, err := c.Collect(context.Background(), scope, []models.ContextSource{
		{Kind: models.SourceFile, Path: "main.go"},
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Contains(t, items[0].Content, "func main()")
	assert.False(t, items[0].Truncated)
}

func TestCollectTruncatesOversizeItem(t *testing.T) {
	// Exceeding the per-item cap is not request-fatal; the item is cut at a
	// line boundary and flagged.
	c, scope := collectorFixture(t, nil)

	items, err := c.Collect(context.Background(), scope, []models.ContextSource{
		{Kind: models.SourceFile, Path: "big.go"},
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].Truncated)
	assert.LessOrEqual(t, len(items[0].Content), 200)
}

func TestCollectEscapingPathIsFatal(t *testing.T) {
	// Scenario: one traversal path fails the whole request before any
	// content is gathered.
	c, scope := collectorFixture(t, nil)

	items, err := c.Collect(context.Background(), scope, []models.ContextSource{
		{Kind: models.SourceFile, Path: "main.go"},
		{Kind: models.SourceFile, Path: "../../etc/passwd"},
	})
	require.Error(t, err)
	assert.Equal(t, gateerr.CodeSecurity, gateerr.CodeOf(err))
	assert.Nil(t, items)
}

func TestCollectRetrievalPreservesProvenance(t *testing.T) {
	searcher := &stubSearcher{chunks: []models.RetrievalChunk{
		{Path: "pkg/a.go", Content: "chunk a", Score: 0.91},
		{Path: "pkg/b.go", Content: "chunk b", Score: 0.42},
	}}
	c, scope := collectorFixture(t, searcher)

	items, err := c.Collect(context.Background(), scope, []models.ContextSource{
		{Kind: models.SourceRetrieval, Query: "token refresh"},
	})
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "token refresh", searcher.query)
	assert.Equal(t, "pkg/a.go", items[0].Source.Path)
	assert.Equal(t, 0.91, items[0].Score)
	assert.Equal(t, 0.42, items[1].Score)
}

func TestCollectRetrievalErrorIsUpstream(t *testing.T) {
	searcher := &stubSearcher{err: errors.New("connection refused")}
	c, scope := collectorFixture(t, searcher)

	_, err := c.Collect(context.Background(), scope, []models.ContextSource{
		{Kind: models.SourceRetrieval, Query: "anything"},
	})
	require.Error(t, err)
	assert.Equal(t, gateerr.CodeUpstreamUnavailable, gateerr.CodeOf(err))
}

func TestCollectSelectionRange(t *testing.T) {
	c, scope := collectorFixture(t, nil)

	items, err := c.Collect(context.Background(), scope, []models.ContextSource{
		{Kind: models.SourceSelection, Path: "main.go", StartByte: 0, EndByte: 12},
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "package main", items[0].Content)
}

func TestCollectFolderSource(t *testing.T) {
	c, scope := collectorFixture(t, nil)

	items, err := c.Collect(context.Background(), scope, []models.ContextSource{
		{Kind: models.SourceFolder, Path: "."},
	})
	require.NoError(t, err)
	assert.Len(t, items, 2) // main.go and big.go
}
