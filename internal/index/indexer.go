// Package index builds the searchable library. An indexing job walks
// the catalogue, extracts page text from each item's PDF, chunks and
// embeds it, writes vectors and chunk rows into the collection, and
// finally rebuilds the keyword index so both stay consistent.
//
// Jobs run in a background goroutine, one at a time per machine: a
// lock file guards against concurrent runs from other processes and a
// busy flag against this one. Progress is observable while a job runs
// and cancellation takes effect between items.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"github.com/zoterag/zoterag/internal/catalog"
	"github.com/zoterag/zoterag/internal/embed"
	ragerr "github.com/zoterag/zoterag/internal/errors"
	"github.com/zoterag/zoterag/internal/pdfx"
	"github.com/zoterag/zoterag/internal/store"
)

// Skip reasons recorded when an item cannot be indexed. Skips never
// abort the job.
const (
	SkipNoPDF          = "no_pdf"
	SkipMissingFile    = "missing_file"
	SkipExtractFailed  = "extract_failed"
	SkipNoText         = "no_text"
	SkipEmbedFailed    = "embed_failed"
	SkipStoreFailed    = "store_failed"
	SkipAlreadyIndexed = "already_indexed"
)

// ErrIndexingInProgress is returned by Start while another job holds
// the index, in this process or any other.
var ErrIndexingInProgress = ragerr.New(ragerr.ErrCodeIndexBusy,
	"an indexing job is already running", nil).
	WithSuggestion("wait for the current job to finish or cancel it")

// Dependencies are the injected collaborators for an Indexer.
type Dependencies struct {
	// Catalog enumerates library items (required).
	Catalog catalog.Reader

	// Extractor pulls page text from PDF attachments (required).
	Extractor pdfx.Extractor

	// Embedder produces chunk vectors (required).
	Embedder embed.Embedder

	// Collection receives chunk rows and vectors (required).
	Collection *store.Collection

	// BM25 is the keyword index rebuilt after each run (required).
	BM25 store.BM25Index

	// LockPath is the lock file guarding against concurrent jobs
	// (required).
	LockPath string

	// Chunker splits page text. Defaults to NewChunker().
	Chunker *Chunker
}

// Indexer runs indexing jobs in the background.
type Indexer struct {
	catalog    catalog.Reader
	extractor  pdfx.Extractor
	embedder   embed.Embedder
	collection *store.Collection
	bm25       store.BM25Index
	chunker    *Chunker
	lockPath   string

	progress *Progress

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
	err     error
}

// NewIndexer creates an Indexer with injected dependencies.
func NewIndexer(deps Dependencies) (*Indexer, error) {
	if deps.Catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if deps.Extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if deps.Collection == nil {
		return nil, fmt.Errorf("collection is required")
	}
	if deps.BM25 == nil {
		return nil, fmt.Errorf("bm25 index is required")
	}
	if deps.LockPath == "" {
		return nil, fmt.Errorf("lock path is required")
	}

	chunker := deps.Chunker
	if chunker == nil {
		chunker = NewChunker()
	}

	return &Indexer{
		catalog:    deps.Catalog,
		extractor:  deps.Extractor,
		embedder:   deps.Embedder,
		collection: deps.Collection,
		bm25:       deps.BM25,
		chunker:    chunker,
		lockPath:   deps.LockPath,
		progress:   NewProgress(),
	}, nil
}

// Status returns a snapshot of the running or most recent job.
func (ix *Indexer) Status() Status {
	return ix.progress.Snapshot()
}

// IsRunning reports whether a job is active in this process.
func (ix *Indexer) IsRunning() bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.running
}

// Start launches an indexing job in the background and returns
// immediately. The job outlives ctx's cancellation; use Cancel to stop
// it. Returns ErrIndexingInProgress when a job is already running.
func (ix *Indexer) Start(ctx context.Context, mode Mode) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.running {
		return ErrIndexingInProgress
	}

	if err := os.MkdirAll(filepath.Dir(ix.lockPath), 0o755); err != nil {
		return ragerr.New(ragerr.ErrCodeInternal, fmt.Sprintf("create lock dir: %v", err), err)
	}
	lock := flock.New(ix.lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return ragerr.New(ragerr.ErrCodeInternal, fmt.Sprintf("acquire index lock: %v", err), err)
	}
	if !locked {
		return ErrIndexingInProgress
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	ix.running = true
	ix.cancel = cancel
	ix.doneCh = make(chan struct{})
	ix.err = nil
	ix.progress.begin(mode)

	go ix.run(runCtx, cancel, mode, lock)
	return nil
}

// Cancel signals the running job to stop after the current item. No-op
// when idle.
func (ix *Indexer) Cancel() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.running && ix.cancel != nil {
		ix.cancel()
	}
}

// Wait blocks until the current job finishes and returns its error.
// Returns nil immediately when no job has been started.
func (ix *Indexer) Wait() error {
	ix.mu.Lock()
	done := ix.doneCh
	ix.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done

	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.err
}

func (ix *Indexer) run(ctx context.Context, cancel context.CancelFunc, mode Mode, lock *flock.Flock) {
	err := ix.runJob(ctx, mode)

	ix.progress.finish()
	_ = lock.Unlock()
	cancel()

	ix.mu.Lock()
	ix.running = false
	ix.err = err
	done := ix.doneCh
	ix.mu.Unlock()
	close(done)
}

func (ix *Indexer) runJob(ctx context.Context, mode Mode) error {
	log := slog.With(slog.String("mode", string(mode)))
	log.Info("indexing started")

	if mode == ModeFull {
		if err := ix.collection.Clear(ctx); err != nil {
			return err
		}
		if err := ix.bm25.Reset(ctx); err != nil {
			return err
		}
	}

	items, err := ix.catalog.Items(ctx)
	if err != nil {
		return err
	}
	ix.progress.setTotal(len(items))

	var indexed map[string]bool
	if mode == ModeIncremental {
		ids, err := ix.collection.AllItemIDs(ctx)
		if err != nil {
			return err
		}
		indexed = make(map[string]bool, len(ids))
		for _, id := range ids {
			indexed[strings.TrimSpace(id)] = true
		}
	}

	wrote := false
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		if indexed != nil && indexed[strings.TrimSpace(item.ID)] {
			ix.progress.itemSkipped(item.ID, SkipAlreadyIndexed)
			continue
		}
		if ix.indexItem(ctx, item) {
			wrote = true
		}
	}

	// The tail work runs even after cancellation, so the keyword index
	// and the on-disk graph stay consistent with what was written.
	finishCtx := context.WithoutCancel(ctx)
	if wrote {
		if err := ix.rebuildBM25(finishCtx); err != nil {
			return err
		}
	}
	if wrote || mode == ModeFull {
		if err := ix.collection.Save(); err != nil {
			return err
		}
	}

	snap := ix.progress.Snapshot()
	if ctx.Err() != nil {
		log.Warn("indexing cancelled",
			slog.Int("processed", snap.ProcessedItems),
			slog.Int("total", snap.TotalItems))
	} else {
		log.Info("indexing finished",
			slog.Int("processed", snap.ProcessedItems),
			slog.Int("skipped", snap.SkippedItems))
	}
	return nil
}

// indexItem runs the extract-chunk-embed-write pipeline for one item
// and reports whether anything was written. Failures skip the item
// with a recorded reason.
func (ix *Indexer) indexItem(ctx context.Context, item catalog.Item) bool {
	skip := func(reason string, cause error) bool {
		if ctx.Err() != nil {
			// Cancelled mid-item; the loop handles it.
			return false
		}
		if cause != nil {
			slog.Debug("item skipped",
				slog.String("item", item.ID),
				slog.String("reason", reason),
				slog.String("error", cause.Error()))
		}
		ix.progress.itemSkipped(item.ID, reason)
		return false
	}

	if item.PDFPath == "" {
		return skip(SkipNoPDF, nil)
	}
	if _, err := os.Stat(item.PDFPath); err != nil {
		return skip(SkipMissingFile, err)
	}

	pages, err := ix.extractor.ExtractPages(ctx, item.PDFPath)
	if err != nil {
		return skip(SkipExtractFailed, err)
	}
	if !pdfx.HasText(pages) {
		return skip(SkipNoText, nil)
	}

	frags := ix.chunker.ChunkPages(pages)
	if len(frags) == 0 {
		return skip(SkipNoText, nil)
	}

	texts := make([]string, len(frags))
	for i, f := range frags {
		texts[i] = f.Text
	}
	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return skip(SkipEmbedFailed, err)
	}
	if len(vectors) != len(texts) {
		return skip(SkipEmbedFailed, fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(texts)))
	}
	dims := ix.embedder.Dimensions()
	for _, v := range vectors {
		if len(v) != dims {
			return skip(SkipEmbedFailed, fmt.Errorf("vector has %d dimensions, model declares %d", len(v), dims))
		}
	}

	chunks := make([]store.Chunk, len(frags))
	for i, f := range frags {
		chunks[i] = store.Chunk{
			ID:          store.ChunkID(item.ID, i),
			ItemID:      item.ID,
			ChunkIdx:    i,
			Page:        f.Page,
			PDFPath:     item.PDFPath,
			Text:        f.Text,
			Title:       item.Title,
			Authors:     item.Authors,
			Year:        item.Year,
			ItemType:    item.ItemType,
			Tags:        item.Tags,
			Collections: item.Collections,
		}
	}
	if err := ix.collection.Add(ctx, chunks, vectors); err != nil {
		return skip(SkipStoreFailed, err)
	}

	ix.progress.itemDone()
	return true
}

// rebuildBM25 rebuilds the keyword index from every chunk in the
// collection.
func (ix *Indexer) rebuildBM25(ctx context.Context) error {
	docs, err := ix.collection.Documents(ctx)
	if err != nil {
		return err
	}
	if err := ix.bm25.Reset(ctx); err != nil {
		return err
	}
	return ix.bm25.Index(ctx, docs)
}
