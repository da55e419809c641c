// Package service assembles the library stack behind one facade. A
// Service owns the catalogue reader, the embedder, the vector
// collection with its keyword companion, the background indexer, the
// hybrid retriever, and the conversation controller, and exposes the
// operations every transport (REST, MCP, CLI) shares.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/zoterag/zoterag/internal/catalog"
	"github.com/zoterag/zoterag/internal/chat"
	"github.com/zoterag/zoterag/internal/config"
	"github.com/zoterag/zoterag/internal/embed"
	ragerr "github.com/zoterag/zoterag/internal/errors"
	"github.com/zoterag/zoterag/internal/filter"
	"github.com/zoterag/zoterag/internal/index"
	"github.com/zoterag/zoterag/internal/pdfx"
	"github.com/zoterag/zoterag/internal/provider"
	"github.com/zoterag/zoterag/internal/search"
	"github.com/zoterag/zoterag/internal/store"
)

// inUse guards against two Services in one process. The stores
// underneath hold exclusive file locks, so a second instance would
// fail later anyway, just less clearly.
var inUse atomic.Bool

// Options configures Open. Config and DataDir are required; the
// injectable collaborators default to their production constructors.
// Whatever is injected is owned by the Service afterwards and closed
// during teardown.
type Options struct {
	// Config is the validated application configuration.
	Config *config.Config

	// DataDir is the profile-scoped directory holding the vector
	// collection, the keyword index, and the indexing lock.
	DataDir string

	// Providers routes chat traffic. A fresh manager (Ollama active)
	// is used when nil.
	Providers *provider.Manager

	// Catalog reads the Zotero library. Defaults to the SQLite reader
	// over Config's Zotero directory.
	Catalog catalog.Reader

	// Embedder produces chunk and query vectors. Defaults to the
	// production embedder stack from Config.
	Embedder embed.Embedder
}

// Service is the library facade. One instance per process; Close
// releases it.
type Service struct {
	cfg       *config.Config
	catalog   catalog.Reader
	embedder  embed.Embedder
	collection *store.Collection
	bm25      store.BM25Index
	indexer   *index.Indexer
	retriever *search.Retriever
	providers *provider.Manager

	mu         sync.RWMutex
	controller *chat.Controller
	syncCheck  func() bool
	syncMark   func()

	closeOnce sync.Once
	closeErr  error
}

// Open builds the full stack and returns the facade. A second Open
// without a Close in between fails.
func Open(ctx context.Context, opts Options) (*Service, error) {
	if opts.Config == nil {
		return nil, ragerr.ConfigError("configuration is required", nil)
	}
	if opts.DataDir == "" {
		return nil, ragerr.ConfigError("data directory is required", nil)
	}
	if !inUse.CompareAndSwap(false, true) {
		return nil, ragerr.InternalError("a library service is already open in this process", nil)
	}

	svc, err := open(ctx, opts)
	if err != nil {
		inUse.Store(false)
		return nil, err
	}
	return svc, nil
}

func open(ctx context.Context, opts Options) (*Service, error) {
	cfg := opts.Config

	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, ragerr.New(ragerr.ErrCodeInternal,
			fmt.Sprintf("create data dir: %v", err), err)
	}

	providers := opts.Providers
	if providers == nil {
		providers = provider.NewManager()
	}

	cat := opts.Catalog
	if cat == nil {
		var err error
		cat, err = catalog.NewZoteroReader(cfg.ZoteroDBPath(), cfg.ZoteroStorageDir())
		if err != nil {
			return nil, err
		}
	}

	embedder := opts.Embedder
	if embedder == nil {
		var err error
		embedder, err = embed.New(ctx, embed.Options{
			ModelID:    cfg.Index.EmbeddingModel,
			OllamaHost: cfg.Provider.OllamaHost,
			BatchSize:  cfg.Index.EmbedBatchSize,
		})
		if err != nil {
			_ = cat.Close()
			return nil, err
		}
	}

	modelID := cfg.Index.EmbeddingModel
	collection, err := store.Open(opts.DataDir, store.CollectionName(modelID), embedder.Dimensions())
	if err != nil {
		_ = embedder.Close()
		_ = cat.Close()
		return nil, err
	}

	bm25, err := store.NewBM25Index(opts.DataDir, store.BM25Name(modelID), cfg.Search.BM25Backend)
	if err != nil {
		_ = collection.Close()
		_ = embedder.Close()
		_ = cat.Close()
		return nil, err
	}

	teardown := func() {
		_ = bm25.Close()
		_ = collection.Close()
		_ = embedder.Close()
		_ = cat.Close()
	}

	indexer, err := index.NewIndexer(index.Dependencies{
		Catalog:    cat,
		Extractor:  pdfx.NewFileExtractor(),
		Embedder:   embedder,
		Collection: collection,
		BM25:       bm25,
		LockPath:   filepath.Join(opts.DataDir, "index.lock"),
		Chunker: index.NewChunkerWithOptions(index.ChunkerOptions{
			ChunkSize: cfg.Index.ChunkChars,
			Overlap:   cfg.Index.OverlapChars,
		}),
	})
	if err != nil {
		teardown()
		return nil, err
	}

	retriever, err := search.NewRetriever(collection, bm25, embedder,
		search.WithRRFConstant(cfg.Search.RRFConstant),
		search.WithWidthMultipliers(cfg.Search.UnfilteredMultiplier, cfg.Search.FilteredMultiplier),
	)
	if err != nil {
		teardown()
		return nil, err
	}

	svc := &Service{
		cfg:        cfg,
		catalog:    cat,
		embedder:   embedder,
		collection: collection,
		bm25:       bm25,
		indexer:    indexer,
		retriever:  retriever,
		providers:  providers,
	}

	controller, err := svc.buildController(ctx, chat.NewStore())
	if err != nil {
		teardown()
		return nil, err
	}
	svc.controller = controller
	return svc, nil
}

// buildController wires a conversation controller against the current
// active model, reusing the given session store.
func (s *Service) buildController(ctx context.Context, sessions *chat.Store) (*chat.Controller, error) {
	return chat.NewController(chat.Dependencies{
		Client:        s.providers,
		Retriever:     s.retriever,
		Versions:      s.collection,
		Sessions:      sessions,
		ContextLength: s.providers.ActiveContextLength(ctx),
	})
}

// StartIndexing launches a background indexing job. Returns
// index.ErrIndexingInProgress while one is already running, here or in
// another process.
func (s *Service) StartIndexing(ctx context.Context, mode index.Mode) error {
	if err := s.indexer.Start(ctx, mode); err != nil {
		return err
	}
	// The job reads the catalogue as of now; changes after this point
	// must raise the needs-sync flag again.
	s.mu.RLock()
	mark := s.syncMark
	s.mu.RUnlock()
	if mark != nil {
		mark()
	}
	return nil
}

// CancelIndexing asks the running job to stop after the current item.
func (s *Service) CancelIndexing() {
	s.indexer.Cancel()
}

// WaitIndexing blocks until the current job finishes and returns its
// error.
func (s *Service) WaitIndexing() error {
	return s.indexer.Wait()
}

// IndexStatus snapshots the running or most recent indexing job.
func (s *Service) IndexStatus() index.Status {
	return s.indexer.Status()
}

// Chat answers one conversation turn.
func (s *Service) Chat(ctx context.Context, req chat.Request) (chat.Result, error) {
	s.mu.RLock()
	controller := s.controller
	s.mu.RUnlock()
	return controller.Chat(ctx, req)
}

// Search runs one hybrid retrieval pass without the conversational
// layer on top. The MCP tools and the search command use it. k <= 0
// picks the mode default.
func (s *Service) Search(ctx context.Context, query string, k int, f filter.Filters) ([]search.Result, error) {
	clause := filter.Build(f)
	return s.retriever.Retrieve(ctx, query, k, clause, len(clause) > 0)
}

// ListProviders returns the static metadata of every registered
// provider.
func (s *Service) ListProviders() []provider.Info {
	return provider.Infos()
}

// ListModels lists the models of one provider using its stored
// credentials.
func (s *Service) ListModels(ctx context.Context, providerID string) ([]provider.ModelInfo, error) {
	return s.providers.ListModels(ctx, providerID)
}

// ValidateProvider checks one provider's credentials and reachability.
func (s *Service) ValidateProvider(ctx context.Context, providerID string) error {
	return s.providers.Validate(ctx, providerID)
}

// SetProviderCredentials stores credentials for a provider.
func (s *Service) SetProviderCredentials(providerID string, creds provider.Credentials) error {
	return s.providers.SetCredentials(providerID, creds)
}

// ActiveProvider returns the active provider id and model selection.
func (s *Service) ActiveProvider() (id, model string) {
	return s.providers.Active()
}

// SetActiveProvider switches the chat backend and rebuilds the
// conversation controller so retrieval widening tracks the new model's
// context window. Session histories survive the switch.
func (s *Service) SetActiveProvider(ctx context.Context, id, model string) error {
	if err := s.providers.SetActive(id, model); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	controller, err := s.buildController(ctx, s.controller.Sessions())
	if err != nil {
		return err
	}
	s.controller = controller
	return nil
}

// LibraryTags returns tag usage counts from the catalogue.
func (s *Service) LibraryTags(ctx context.Context) ([]catalog.NameCount, error) {
	return s.catalog.Tags(ctx)
}

// LibraryCollections returns collection sizes from the catalogue.
func (s *Service) LibraryCollections(ctx context.Context) ([]catalog.NameCount, error) {
	return s.catalog.Collections(ctx)
}

// ItemTypes returns item type counts from the catalogue.
func (s *Service) ItemTypes(ctx context.Context) ([]catalog.NameCount, error) {
	return s.catalog.ItemTypes(ctx)
}

// MetadataVersion reports which metadata generation the collection
// holds, so callers know whether filters will work.
func (s *Service) MetadataVersion(ctx context.Context) (store.MetadataVersion, error) {
	return s.collection.MetadataVersion(ctx)
}

// MigrateMetadata rewrites every chunk's metadata to the current
// shape, rebuilding bibliographic fields from the live catalogue.
func (s *Service) MigrateMetadata(ctx context.Context) (store.MigrationSummary, error) {
	items, err := s.catalog.Items(ctx)
	if err != nil {
		return store.MigrationSummary{}, err
	}

	byID := make(map[string]store.ItemMeta, len(items))
	for _, it := range items {
		byID[it.ID] = store.ItemMeta{
			Title:       it.Title,
			Authors:     it.Authors,
			Year:        it.Year,
			ItemType:    it.ItemType,
			Tags:        it.Tags,
			Collections: it.Collections,
		}
	}
	return store.MigrateMetadata(ctx, s.collection, byID, s.cfg.Index.MigrationBatchSize)
}

// CountFiltered previews how much of the indexed library a filter
// would reach, without running a search.
func (s *Service) CountFiltered(ctx context.Context, f filter.Filters) (store.FilterCounts, error) {
	clause := filter.Build(f)
	if err := filter.Validate(clause); err != nil {
		return store.FilterCounts{}, err
	}
	return s.collection.CountsWhere(ctx, clause)
}

// Stats compares the index against the live Zotero library.
type Stats struct {
	// IndexedItems is the number of distinct items in the collection.
	IndexedItems int `json:"indexed_items"`

	// TotalChunks is the number of chunks across all items.
	TotalChunks int `json:"total_chunks"`

	// ZoteroItems counts library items that have a PDF attachment.
	ZoteroItems int `json:"zotero_items"`

	// NewItems counts items with a PDF that are not indexed yet.
	NewItems int `json:"new_items"`

	// NeedsSync is true when new items exist or the watcher saw the
	// library change since the last indexing run.
	NeedsSync bool `json:"needs_sync"`

	// EmbeddingModel is the configured embedding model id.
	EmbeddingModel string `json:"current_embedding_model"`

	// CollectionName is the model-scoped collection the index lives in.
	CollectionName string `json:"collection_name"`
}

// IndexStats diffs the collection against the catalogue: items with a
// PDF attachment that are absent from the collection count as new.
func (s *Service) IndexStats(ctx context.Context) (Stats, error) {
	indexedIDs, err := s.collection.AllItemIDs(ctx)
	if err != nil {
		return Stats{}, err
	}
	totalChunks, err := s.collection.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	items, err := s.catalog.Items(ctx)
	if err != nil {
		return Stats{}, err
	}

	indexed := make(map[string]bool, len(indexedIDs))
	for _, id := range indexedIDs {
		indexed[id] = true
	}
	var withPDF, newItems int
	for _, it := range items {
		if it.PDFPath == "" {
			continue
		}
		withPDF++
		if !indexed[it.ID] {
			newItems++
		}
	}

	s.mu.RLock()
	syncCheck := s.syncCheck
	s.mu.RUnlock()

	stats := Stats{
		IndexedItems:   len(indexedIDs),
		TotalChunks:    totalChunks,
		ZoteroItems:    withPDF,
		NewItems:       newItems,
		NeedsSync:      newItems > 0,
		EmbeddingModel: s.cfg.Index.EmbeddingModel,
		CollectionName: s.collection.Name(),
	}
	if !stats.NeedsSync && syncCheck != nil {
		stats.NeedsSync = syncCheck()
	}
	return stats, nil
}

// Health reports whether the collection and the embedder agree on the
// vector dimension.
type Health struct {
	// Status is "ok", "empty", or "dimension_mismatch".
	Status string `json:"status"`

	// Message explains the status for humans.
	Message string `json:"message"`

	// ExpectedDimension is what the embedder produces.
	ExpectedDimension int `json:"expected_dimension"`

	// ActualDimension is what the collection was opened with. Zero
	// while the collection is empty.
	ActualDimension int `json:"actual_dimension,omitempty"`

	// Model is the embedding model id.
	Model string `json:"model"`

	// DocumentCount is the number of stored chunks.
	DocumentCount int `json:"document_count"`
}

// DBHealth validates that the vector store matches the configured
// embedding model. A dimension mismatch means the collection was built
// with a different model and needs reindexing.
func (s *Service) DBHealth(ctx context.Context) (Health, error) {
	count, err := s.collection.Count(ctx)
	if err != nil {
		return Health{}, err
	}

	health := Health{
		ExpectedDimension: s.embedder.Dimensions(),
		Model:             s.embedder.ModelName(),
		DocumentCount:     count,
	}
	if count == 0 {
		health.Status = "empty"
		health.Message = "index is empty, run indexing first"
		return health, nil
	}

	health.ActualDimension = s.collection.Dimensions()
	if health.ActualDimension != health.ExpectedDimension {
		health.Status = "dimension_mismatch"
		health.Message = fmt.Sprintf(
			"collection holds %d-dimensional vectors but model %s produces %d, full reindex required",
			health.ActualDimension, health.Model, health.ExpectedDimension)
		return health, nil
	}

	health.Status = "ok"
	health.Message = "vector store matches the embedding model"
	return health, nil
}

// SetSyncCheck installs the hook IndexStats consults to report whether
// the library changed since the last indexing run. The watcher wires
// it.
func (s *Service) SetSyncCheck(fn func() bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncCheck = fn
}

// SetSyncMark installs the hook StartIndexing calls once a job is
// accepted, letting the watcher reset its change flag at the point the
// catalogue snapshot is taken.
func (s *Service) SetSyncMark(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncMark = fn
}

// Close tears the stack down in reverse dependency order. A running
// indexing job is cancelled and awaited first. Close is idempotent.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.indexer.Cancel()
		_ = s.indexer.Wait()

		var errs []error
		if err := s.bm25.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close keyword index: %w", err))
		}
		if err := s.collection.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close collection: %w", err))
		}
		if err := s.embedder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close embedder: %w", err))
		}
		if err := s.catalog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close catalogue: %w", err))
		}
		s.closeErr = errors.Join(errs...)
		inUse.Store(false)
	})
	return s.closeErr
}
