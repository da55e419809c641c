// Package chat turns retrieval results into cited answers. It owns the
// conversational layer of the assistant: session histories, the
// follow-up condenser that rewrites anaphoric questions into standalone
// retrieval queries, the filter extractor that pulls explicit metadata
// constraints out of a question, the academic prompt set, and the
// controller that runs one chat turn end to end.
package chat

import (
	"context"

	"github.com/zoterag/zoterag/internal/filter"
	"github.com/zoterag/zoterag/internal/provider"
)

// ChatClient is the slice of the provider layer this package needs: one
// routed chat call. provider.Manager satisfies it.
type ChatClient interface {
	Chat(ctx context.Context, messages []provider.Message, params provider.Params) (provider.ChatResponse, error)
}

// Snippet is one retrieved passage with its citation assignment, shaped
// for the API response and for prompt rendering.
type Snippet struct {
	CitationID int    `json:"citation_id"`
	Snippet    string `json:"snippet"`
	Title      string `json:"title"`
	Year       int    `json:"year,omitempty"`
	Authors    string `json:"authors"`
	PDFPath    string `json:"pdf_path"`
	Page       int    `json:"page,omitempty"`
}

// Citation is one cited source. IDs are 1-based and stable within a
// turn, assigned in order of first appearance.
type Citation struct {
	ID      int    `json:"id"`
	Title   string `json:"title"`
	Year    int    `json:"year,omitempty"`
	Authors string `json:"authors"`
	PDFPath string `json:"pdf_path"`
}

// Request is one chat turn.
type Request struct {
	Query string

	// SessionID continues an existing conversation. Empty starts a new
	// session; the minted id comes back in Result.SessionID.
	SessionID string

	// ItemIDs restricts retrieval to these catalogue items.
	ItemIDs []string

	// UseAutoFilters lets the model extract metadata filters from the
	// query. Applied only when the indexed metadata supports filtering.
	UseAutoFilters bool

	// ManualFilters are caller-provided metadata filters.
	ManualFilters *filter.Filters

	// UseRRF selects fused dense+keyword retrieval. Transports default
	// it to true; false falls back to dense-only retrieval.
	UseRRF bool
}

// Result is the outcome of one chat turn.
type Result struct {
	Summary   string     `json:"summary"`
	Citations []Citation `json:"citations"`
	Snippets  []Snippet  `json:"snippets"`

	// GeneratedTitle is set on the first exchange of a session when
	// title generation succeeded.
	GeneratedTitle string `json:"generated_title,omitempty"`

	SessionID string `json:"session_id"`

	// AppliedFilters describes the metadata filters that constrained
	// retrieval, for display.
	AppliedFilters string `json:"applied_filters,omitempty"`

	// Warning surfaces non-fatal degradations, such as filters dropped
	// because the index predates filterable metadata.
	Warning string `json:"warning,omitempty"`
}
