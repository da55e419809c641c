package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// StatusInfo is what `zoterag status` displays about the index.
type StatusInfo struct {
	Profile string `json:"profile"`

	ZoteroItems  int  `json:"zotero_items"`
	IndexedItems int  `json:"indexed_items"`
	TotalChunks  int  `json:"total_chunks"`
	NewItems     int  `json:"new_items"`
	NeedsSync    bool `json:"needs_sync"`

	EmbeddingModel  string `json:"current_embedding_model"`
	CollectionName  string `json:"collection_name"`
	MetadataVersion string `json:"metadata_version"`

	// Health is "ok", "empty", or "dimension_mismatch".
	Health        string `json:"health"`
	HealthMessage string `json:"health_message,omitempty"`

	DataDir     string    `json:"data_dir"`
	DataSize    int64     `json:"data_size"`
	LastIndexed time.Time `json:"last_indexed,omitzero"`
}

// StatusRenderer displays index status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render writes the status in terminal layout.
func (r *StatusRenderer) Render(info StatusInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Library Status · "+info.Profile))

	_, _ = fmt.Fprintf(r.out, "  Zotero items:  %d\n", info.ZoteroItems)
	_, _ = fmt.Fprintf(r.out, "  Indexed items: %d\n", info.IndexedItems)
	_, _ = fmt.Fprintf(r.out, "  Chunks:        %d\n", info.TotalChunks)
	if info.NewItems > 0 {
		_, _ = fmt.Fprintf(r.out, "  New items:     %d\n", info.NewItems)
	}
	if !info.LastIndexed.IsZero() {
		_, _ = fmt.Fprintf(r.out, "  Last indexed:  %s\n", formatTime(info.LastIndexed))
	}
	_, _ = fmt.Fprintln(r.out)

	syncLine := "up to date"
	if info.NeedsSync {
		syncLine = r.styles.Warning.Render("needs sync, run 'zoterag index'")
	}
	_, _ = fmt.Fprintf(r.out, "  Sync:          %s\n", syncLine)
	_, _ = fmt.Fprintf(r.out, "  Health:        %s\n", r.renderHealth(info.Health))
	if info.HealthMessage != "" && info.Health != "ok" {
		_, _ = fmt.Fprintf(r.out, "                 %s\n", r.styles.Dim.Render(info.HealthMessage))
	}
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Index:")
	_, _ = fmt.Fprintf(r.out, "    Model:      %s\n", info.EmbeddingModel)
	_, _ = fmt.Fprintf(r.out, "    Collection: %s\n", info.CollectionName)
	if info.MetadataVersion != "" {
		_, _ = fmt.Fprintf(r.out, "    Metadata:   %s\n", info.MetadataVersion)
	}
	if info.DataSize > 0 {
		_, _ = fmt.Fprintf(r.out, "    Size:       %s\n", FormatBytes(info.DataSize))
	}
	if info.DataDir != "" {
		_, _ = fmt.Fprintf(r.out, "    Location:   %s\n", r.styles.Dim.Render(info.DataDir))
	}

	return nil
}

// RenderJSON writes the status as indented JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

func (r *StatusRenderer) renderHealth(health string) string {
	switch health {
	case "ok":
		return r.styles.Success.Render(health)
	case "empty":
		return r.styles.Warning.Render(health)
	case "dimension_mismatch":
		return r.styles.Error.Render(health)
	default:
		return health
	}
}

// formatTime renders a timestamp relative to now.
func formatTime(t time.Time) string {
	diff := time.Since(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Format("2006-01-02 15:04")
	}
}

// FormatBytes renders a byte count in human units.
func FormatBytes(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
