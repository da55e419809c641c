package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RotatingWriter is an io.Writer that appends to a log file and rotates
// it by size. Rotation shifts service.log to service.log.1, .1 to .2,
// and so on; the file numbered maxFiles is dropped.
type RotatingWriter struct {
	path     string
	maxSize  int64
	maxFiles int

	mu   sync.Mutex
	file *os.File
	size int64

	// syncEveryWrite flushes after each line so 'zoterag-logs -f' sees
	// entries as they happen.
	syncEveryWrite bool
}

// NewRotatingWriter opens path for appending, creating the directory if
// needed. maxSizeMB bounds the file size before rotation and maxFiles
// bounds how many rotated files stay around. Per-write sync starts
// enabled.
func NewRotatingWriter(path string, maxSizeMB, maxFiles int) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	w := &RotatingWriter{
		path:           path,
		maxSize:        int64(maxSizeMB) << 20,
		maxFiles:       maxFiles,
		syncEveryWrite: true,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

// SetImmediateSync toggles the per-write flush. Bulk writers such as a
// full index run turn it off.
func (w *RotatingWriter) SetImmediateSync(enabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.syncEveryWrite = enabled
}

// Write appends p, rotating first when it would push the file past the
// size limit. A failed rotation is reported once to stderr and logging
// continues on the old file rather than going dark.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", err)
			if w.file == nil {
				if err := w.open(); err != nil {
					return 0, err
				}
			}
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)

	if w.syncEveryWrite && err == nil {
		_ = w.file.Sync()
	}
	return n, err
}

// Sync flushes buffered data to disk.
func (w *RotatingWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

// Close closes the underlying file.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}

	w.file = f
	w.size = info.Size()
	return nil
}

// rotate shifts the numbered chain up by one and reopens a fresh file.
// Renames run from the highest number down so nothing is overwritten.
func (w *RotatingWriter) rotate() error {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("close log file: %w", err)
		}
		w.file = nil
	}

	numbered := func(n int) string { return fmt.Sprintf("%s.%d", w.path, n) }

	// The oldest slot falls off the end.
	_ = os.Remove(numbered(w.maxFiles))
	for n := w.maxFiles - 1; n >= 1; n-- {
		if _, err := os.Stat(numbered(n)); err == nil {
			_ = os.Rename(numbered(n), numbered(n+1))
		}
	}

	if _, err := os.Stat(w.path); err == nil {
		if err := os.Rename(w.path, numbered(1)); err != nil {
			return fmt.Errorf("rotate log file: %w", err)
		}
	}

	w.size = 0
	return w.open()
}
