// Package ui renders indexing progress and status in the terminal.
package ui

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/zoterag/zoterag/internal/index"
)

// ErrorEvent is a problem surfaced while indexing runs.
type ErrorEvent struct {
	Item   string
	Err    error
	IsWarn bool
}

// Summary is the final accounting of one indexing run.
type Summary struct {
	Mode     index.Mode
	Indexed  int
	Skipped  int
	Total    int
	Reasons  map[string]int
	Duration time.Duration
}

// SummaryFromStatus condenses a final status snapshot into a Summary.
// Skip reason entries have the form "ITEMID: reason"; they are
// aggregated into per-reason counts.
func SummaryFromStatus(status index.Status) Summary {
	reasons := make(map[string]int)
	for _, entry := range status.SkipReasons {
		reason := entry
		if i := strings.LastIndex(entry, ": "); i >= 0 {
			reason = entry[i+2:]
		}
		reasons[reason]++
	}
	return Summary{
		Mode:     index.Mode(status.Mode),
		Indexed:  status.ProcessedItems - status.SkippedItems,
		Skipped:  status.SkippedItems,
		Total:    status.TotalItems,
		Reasons:  reasons,
		Duration: time.Duration(status.ElapsedSeconds * float64(time.Second)),
	}
}

// Renderer displays the progress of an indexing run. Update is fed
// status snapshots as the caller polls the indexer.
type Renderer interface {
	// Start initializes the renderer.
	Start(ctx context.Context) error

	// Update redraws from an indexer status snapshot.
	Update(status index.Status)

	// AddError surfaces an error or warning.
	AddError(event ErrorEvent)

	// Complete finishes rendering with the run summary.
	Complete(summary Summary)

	// Stop stops the renderer and cleans up.
	Stop() error
}

// Config configures the renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	Library    string // Library name shown in the header
}

// ConfigOption modifies a Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) {
		c.ForcePlain = force
	}
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// WithLibrary sets the library name shown in the header.
func WithLibrary(name string) ConfigOption {
	return func(c *Config) {
		c.Library = name
	}
}

// NewConfig creates a Config with the given output and options.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer picks a renderer for the environment: the live TUI for
// interactive terminals, plain line output for CI, pipes, and
// --no-tui.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain {
		return NewPlainRenderer(cfg)
	}
	if !IsTTY(cfg.Output) {
		return NewPlainRenderer(cfg)
	}
	if DetectCI() {
		return NewPlainRenderer(cfg)
	}
	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor checks if the NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"}
	for _, v := range ciVars {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
