// Package watch raises a needs-sync flag when the Zotero library
// changes on disk. It never starts indexing on its own: the flag is
// surfaced through the index stats and the user decides when to
// re-index.
package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	ragerr "github.com/zoterag/zoterag/internal/errors"
)

// DefaultDebounceWindow is how long the library must stay quiet before
// a burst of file events collapses into a single flag raise. Zotero
// touches the database many times during one sync, so the window is
// generous.
const DefaultDebounceWindow = 2 * time.Second

// storageDirName is Zotero's attachment directory inside the data dir.
const storageDirName = "storage"

// Options configures the watcher.
type Options struct {
	// DebounceWindow overrides DefaultDebounceWindow when positive.
	DebounceWindow time.Duration

	// Logger receives watch lifecycle and error logs. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Watcher observes a Zotero data directory with fsnotify and keeps a
// debounced dirty flag. Watches cover the directory itself (for
// zotero.sqlite and its journal files) and the storage/ directory
// (where attachment folders appear). Edits deep inside existing
// attachment folders are not watched: Zotero always touches the
// database for any library change, so the database files are the
// authoritative signal.
type Watcher struct {
	fsw    *fsnotify.Watcher
	window time.Duration
	log    *slog.Logger

	rootDir    string
	storageDir string

	mu         sync.Mutex
	timer      *time.Timer
	needsSync  bool
	lastChange time.Time
	started    bool
	stopped    bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a watcher. Start must be called before it observes
// anything.
func New(opts Options) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, ragerr.InternalError("create file watcher", err)
	}

	window := opts.DebounceWindow
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		fsw:    fsw,
		window: window,
		log:    logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start begins watching the given Zotero data directory. The watch
// runs in the background until Stop is called or the context is
// cancelled.
func (w *Watcher) Start(ctx context.Context, zoteroDir string) error {
	absDir, err := filepath.Abs(zoteroDir)
	if err != nil {
		return ragerr.ConfigError("resolve zotero directory: "+err.Error(), err)
	}
	if _, err := os.Stat(absDir); err != nil {
		return ragerr.New(ragerr.ErrCodeFileNotFound,
			"zotero directory not found: "+absDir, err).
			WithSuggestion("Set library.zotero_dir to your Zotero data directory")
	}

	w.rootDir = absDir
	w.storageDir = filepath.Join(absDir, storageDirName)

	if err := w.fsw.Add(absDir); err != nil {
		return ragerr.InternalError("watch zotero directory", err)
	}
	// storage/ may not exist yet on a fresh library; it gets picked up
	// by the create event at the root when Zotero makes it.
	if _, err := os.Stat(w.storageDir); err == nil {
		if err := w.fsw.Add(w.storageDir); err != nil {
			w.log.Warn("watch storage directory failed", "error", err)
		}
	}

	w.log.Info("watching zotero library",
		"dir", absDir,
		"debounce", w.window.String())

	w.mu.Lock()
	w.started = true
	w.mu.Unlock()

	go w.run(ctx)
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Has(fsnotify.Create) && event.Name == w.storageDir {
		if err := w.fsw.Add(w.storageDir); err != nil {
			w.log.Warn("watch storage directory failed", "error", err)
		}
	}
	if !w.relevant(event.Name) {
		return
	}
	if event.Op == fsnotify.Chmod {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.lastChange = time.Now()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.window, w.raise)
}

// relevant reports whether a changed path can indicate a library
// change: the database files at the root, or anything under storage/.
func (w *Watcher) relevant(path string) bool {
	if strings.HasPrefix(filepath.Base(path), "zotero.sqlite") {
		return true
	}
	rel, err := filepath.Rel(w.storageDir, path)
	if err != nil {
		return false
	}
	return rel == "." || !strings.HasPrefix(rel, "..")
}

// raise fires after the debounce window of quiet.
func (w *Watcher) raise() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || w.needsSync {
		return
	}
	w.needsSync = true
	w.log.Info("zotero library changed, index out of date",
		"last_change", w.lastChange.Format(time.RFC3339))
}

// NeedsSync reports whether the library changed since the last
// MarkSynced. Wired into the service's index stats.
func (w *Watcher) NeedsSync() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.needsSync
}

// MarkSynced clears the flag. Called when an indexing job is accepted,
// which is when the catalogue snapshot is taken. A pending debounce
// timer is left running: changes seen just before the mark may not be
// in the snapshot, so re-raising errs toward a stale flag over a
// missed change.
func (w *Watcher) MarkSynced() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.needsSync = false
}

// LastChange returns when the library last changed, zero if it hasn't.
func (w *Watcher) LastChange() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastChange
}

// Stop shuts the watcher down. Safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	started := w.started
	if w.timer != nil {
		w.timer.Stop()
	}
	close(w.stopCh)
	w.mu.Unlock()

	err := w.fsw.Close()
	if started {
		<-w.doneCh
	}
	return err
}
