package ui

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/zoterag/zoterag/internal/index"
)

// PlainRenderer writes one line per progress change, for CI and pipes.
type PlainRenderer struct {
	mu            sync.Mutex
	out           io.Writer
	lastProcessed int
	announced     bool
	errors        int
	warnings      int
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output, lastProcessed: -1}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(ctx context.Context) error {
	return nil
}

// Update implements Renderer. Repeated snapshots with the same counts
// are suppressed so polling does not flood the output.
func (r *PlainRenderer) Update(status index.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.announced && status.Mode != "" {
		_, _ = fmt.Fprintf(r.out, "Indexing (%s), %d items\n", status.Mode, status.TotalItems)
		r.announced = true
	}
	if status.ProcessedItems == r.lastProcessed || status.TotalItems == 0 {
		return
	}
	r.lastProcessed = status.ProcessedItems

	line := fmt.Sprintf("[%d/%d]", status.ProcessedItems, status.TotalItems)
	if status.SkippedItems > 0 {
		line += fmt.Sprintf(" %d skipped", status.SkippedItems)
	}
	if eta := time.Duration(status.EtaSeconds * float64(time.Second)); eta > 0 {
		line += " eta " + formatDuration(eta)
	}
	_, _ = fmt.Fprintln(r.out, line)
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
		r.warnings++
	} else {
		r.errors++
	}

	if event.Item != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.Item, event.Err)
	} else {
		_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
	}
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(summary Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "Indexed %d of %d items in %s",
		summary.Indexed, summary.Total, formatDuration(summary.Duration))
	if summary.Skipped > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d skipped)", summary.Skipped)
	}
	_, _ = fmt.Fprintln(r.out)

	if len(summary.Reasons) > 0 {
		reasons := make([]string, 0, len(summary.Reasons))
		for reason := range summary.Reasons {
			reasons = append(reasons, reason)
		}
		sort.Strings(reasons)
		_, _ = fmt.Fprintln(r.out, "Skipped:")
		for _, reason := range reasons {
			_, _ = fmt.Fprintf(r.out, "  %-16s %d\n", reason, summary.Reasons[reason])
		}
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}

var _ Renderer = (*PlainRenderer)(nil)
