package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoterag/zoterag/internal/catalog"
	"github.com/zoterag/zoterag/internal/config"
	"github.com/zoterag/zoterag/internal/filter"
	"github.com/zoterag/zoterag/internal/index"
	"github.com/zoterag/zoterag/internal/store"
)

type stubCatalog struct {
	items []catalog.Item
	tags  []catalog.NameCount
}

var _ catalog.Reader = (*stubCatalog)(nil)

func (s *stubCatalog) Items(ctx context.Context) ([]catalog.Item, error) { return s.items, nil }
func (s *stubCatalog) Tags(ctx context.Context) ([]catalog.NameCount, error) {
	return s.tags, nil
}
func (s *stubCatalog) Collections(ctx context.Context) ([]catalog.NameCount, error) {
	return nil, nil
}
func (s *stubCatalog) ItemTypes(ctx context.Context) ([]catalog.NameCount, error) {
	return nil, nil
}
func (s *stubCatalog) Close() error { return nil }

type stubEmbedder struct {
	dims int
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, s.dims)
	v[0] = 1
	return v, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, s.dims)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int                    { return s.dims }
func (s *stubEmbedder) ModelName() string                  { return "stub-embedder" }
func (s *stubEmbedder) Available(ctx context.Context) bool { return true }
func (s *stubEmbedder) Close() error                       { return nil }

func openTestService(t *testing.T, cat *stubCatalog) *Service {
	t.Helper()
	cfg := config.New()
	dir := t.TempDir()
	cfg.Library.DataDir = dir

	svc, err := Open(context.Background(), Options{
		Config:   cfg,
		DataDir:  dir,
		Catalog:  cat,
		Embedder: &stubEmbedder{dims: 8},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestOpenRequiresConfigAndDataDir(t *testing.T) {
	_, err := Open(context.Background(), Options{})
	require.Error(t, err)

	_, err = Open(context.Background(), Options{Config: config.New()})
	require.Error(t, err)
}

func TestOpenIsProcessExclusive(t *testing.T) {
	svc := openTestService(t, &stubCatalog{})

	_, err := Open(context.Background(), Options{
		Config:  config.New(),
		DataDir: t.TempDir(),
	})
	require.Error(t, err)

	require.NoError(t, svc.Close())

	// After Close the slot is free again.
	again := openTestService(t, &stubCatalog{})
	require.NoError(t, again.Close())
}

func TestCloseIsIdempotent(t *testing.T) {
	svc := openTestService(t, &stubCatalog{})
	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())
}

func TestIndexStatsCountsNewItems(t *testing.T) {
	cat := &stubCatalog{items: []catalog.Item{
		{ID: "AAA", Title: "First", PDFPath: "/nonexistent/a.pdf"},
		{ID: "BBB", Title: "Second", PDFPath: "/nonexistent/b.pdf"},
		{ID: "CCC", Title: "No attachment"},
	}}
	svc := openTestService(t, cat)

	stats, err := svc.IndexStats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, stats.IndexedItems)
	assert.Equal(t, 0, stats.TotalChunks)
	assert.Equal(t, 2, stats.ZoteroItems, "only items with a PDF count")
	assert.Equal(t, 2, stats.NewItems)
	assert.True(t, stats.NeedsSync)
	assert.Equal(t, "bge-base", stats.EmbeddingModel)
	assert.Equal(t, store.CollectionName("bge-base"), stats.CollectionName)
}

func TestIndexStatsSyncHook(t *testing.T) {
	svc := openTestService(t, &stubCatalog{})

	stats, err := svc.IndexStats(context.Background())
	require.NoError(t, err)
	assert.False(t, stats.NeedsSync)

	svc.SetSyncCheck(func() bool { return true })
	stats, err = svc.IndexStats(context.Background())
	require.NoError(t, err)
	assert.True(t, stats.NeedsSync, "watcher flag surfaces even with no new items")
}

func TestStartIndexingMarksSync(t *testing.T) {
	svc := openTestService(t, &stubCatalog{})

	marked := false
	svc.SetSyncMark(func() { marked = true })

	require.NoError(t, svc.StartIndexing(context.Background(), index.ModeIncremental))
	require.NoError(t, svc.WaitIndexing())
	assert.True(t, marked, "accepted job resets the watcher flag")
}

func TestIndexingSkipsAndCompletes(t *testing.T) {
	cat := &stubCatalog{items: []catalog.Item{
		{ID: "AAA", Title: "Gone", PDFPath: "/nonexistent/a.pdf"},
	}}
	svc := openTestService(t, cat)

	ctx := context.Background()
	require.NoError(t, svc.StartIndexing(ctx, index.ModeIncremental))
	require.NoError(t, svc.WaitIndexing())

	status := svc.IndexStatus()
	assert.False(t, status.InProgress)
	assert.Equal(t, 1, status.TotalItems)
	assert.Equal(t, 1, status.ProcessedItems)
	assert.Equal(t, 1, status.SkippedItems)
	require.Len(t, status.SkipReasons, 1)
	assert.Contains(t, status.SkipReasons[0], index.SkipMissingFile)
}

func TestSearchEmptyQueryAndEmptyIndex(t *testing.T) {
	svc := openTestService(t, &stubCatalog{})

	_, err := svc.Search(context.Background(), "   ", 5, filter.Filters{})
	require.Error(t, err)

	results, err := svc.Search(context.Background(), "anything", 5, filter.Filters{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMetadataVersionOnEmptyIndex(t *testing.T) {
	svc := openTestService(t, &stubCatalog{})

	ver, err := svc.MetadataVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.MetadataVersionNone, ver)
}

func TestMigrateMetadataOnEmptyIndex(t *testing.T) {
	svc := openTestService(t, &stubCatalog{items: []catalog.Item{
		{ID: "AAA", Title: "First", Year: 2021},
	}})

	summary, err := svc.MigrateMetadata(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Success)
	assert.Zero(t, summary.TotalChunks)
	assert.Zero(t, summary.UpdatedChunks)
}

func TestCountFilteredOnEmptyIndex(t *testing.T) {
	svc := openTestService(t, &stubCatalog{})

	yearMin := 2020
	counts, err := svc.CountFiltered(context.Background(), filter.Filters{YearMin: &yearMin})
	require.NoError(t, err)
	assert.Zero(t, counts.UniqueItems)
	assert.Zero(t, counts.TotalChunks)
}

func TestDBHealthEmptyIndex(t *testing.T) {
	svc := openTestService(t, &stubCatalog{})

	health, err := svc.DBHealth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "empty", health.Status)
	assert.Equal(t, 8, health.ExpectedDimension)
	assert.Equal(t, "stub-embedder", health.Model)
	assert.Zero(t, health.DocumentCount)
}

func TestProviderSelectionRoundTrip(t *testing.T) {
	svc := openTestService(t, &stubCatalog{})

	id, model := svc.ActiveProvider()
	assert.Equal(t, "ollama", id)
	assert.Empty(t, model)

	require.NoError(t, svc.SetActiveProvider(context.Background(), "lmstudio", "local-model"))
	id, model = svc.ActiveProvider()
	assert.Equal(t, "lmstudio", id)
	assert.Equal(t, "local-model", model)

	err := svc.SetActiveProvider(context.Background(), "nope", "")
	require.Error(t, err)
}

func TestListProvidersIsStatic(t *testing.T) {
	svc := openTestService(t, &stubCatalog{})

	infos := svc.ListProviders()
	require.NotEmpty(t, infos)

	ids := make(map[string]bool, len(infos))
	for _, info := range infos {
		ids[info.ID] = true
	}
	assert.True(t, ids["ollama"])
	assert.True(t, ids["anthropic"])
	assert.True(t, ids["openai"])
}

func TestLibraryTagsDelegatesToCatalog(t *testing.T) {
	cat := &stubCatalog{tags: []catalog.NameCount{{Name: "ml", Count: 4}}}
	svc := openTestService(t, cat)

	tags, err := svc.LibraryTags(context.Background())
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "ml", tags[0].Name)
}
