package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	ragerr "github.com/zoterag/zoterag/internal/errors"
	"github.com/zoterag/zoterag/internal/filter"
	"github.com/zoterag/zoterag/internal/provider"
	"github.com/zoterag/zoterag/internal/search"
	"github.com/zoterag/zoterag/internal/store"
)

// Retriever is the retrieval surface the controller drives. The fused
// path is the default; the dense path serves callers that opt out of
// keyword fusion.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int, where filter.Clause, focused bool) ([]search.Result, error)
	RetrieveDense(ctx context.Context, query string, k int, where filter.Clause, focused bool) ([]search.Result, error)
}

// MetadataVersioner reports the metadata generation of the indexed
// collection. *store.Collection satisfies it.
type MetadataVersioner interface {
	MetadataVersion(ctx context.Context) (store.MetadataVersion, error)
}

const (
	// contextCharBudget bounds history characters per model call. More
	// generous than the store default since answers embed evidence.
	contextCharBudget = 12000

	// snippetMaxChars bounds snippet text in responses and prompts.
	snippetMaxChars = 800

	// maxTitleChars bounds generated session titles.
	maxTitleChars = 80
)

const noResultsSummary = "No relevant passages found in your Zotero library."

// Dependencies are the collaborators one Controller needs.
type Dependencies struct {
	// Client routes chat calls to the active language model. (required)
	Client ChatClient

	// Retriever serves retrieval over the indexed library. (required)
	Retriever Retriever

	// Versions reports the collection's metadata generation, which
	// gates metadata filtering. (required)
	Versions MetadataVersioner

	// Sessions holds conversation histories. A fresh in-memory store
	// is used when nil.
	Sessions *Store

	// ContextLength is the active model's context window in tokens,
	// 0 when unknown. Focused retrieval widens its candidate pool with
	// larger windows.
	ContextLength int
}

// Controller runs one chat turn end to end: condense the follow-up,
// resolve filters, retrieve evidence, assign citations, prompt the
// model, persist the exchange, and name new sessions.
type Controller struct {
	client        ChatClient
	retriever     Retriever
	versions      MetadataVersioner
	sessions      *Store
	condenser     *Condenser
	extractor     *Extractor
	contextLength int
}

// NewController validates the dependencies and builds a controller.
func NewController(deps Dependencies) (*Controller, error) {
	if deps.Client == nil {
		return nil, fmt.Errorf("chat client is required")
	}
	if deps.Retriever == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if deps.Versions == nil {
		return nil, fmt.Errorf("metadata versioner is required")
	}

	sessions := deps.Sessions
	if sessions == nil {
		sessions = NewStore()
	}

	return &Controller{
		client:        deps.Client,
		retriever:     deps.Retriever,
		versions:      deps.Versions,
		sessions:      sessions,
		condenser:     NewCondenser(deps.Client),
		extractor:     NewExtractor(deps.Client),
		contextLength: deps.ContextLength,
	}, nil
}

// Sessions exposes the conversation store for host surfaces that manage
// session lifecycle.
func (c *Controller) Sessions() *Store {
	return c.sessions
}

// Chat answers one turn. The summary degrades to the top snippet when
// the model call fails; retrieval failures, by contrast, fail the turn,
// since there is nothing to answer from.
func (c *Controller) Chat(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Query) == "" {
		return Result{}, ragerr.New(ragerr.ErrCodeQueryEmpty, "chat query is empty", nil)
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = NewSessionID()
	}

	history := c.sessions.Messages(sessionID)
	isNew := !hasUserTurn(history)

	retrievalQuery := req.Query
	if !isNew && ShouldCondense(req.Query, history) {
		retrievalQuery = c.condenser.Condense(ctx, req.Query, history)
	}

	where, applied, warning := c.resolveFilters(ctx, req, retrievalQuery)

	focused := len(where) > 0
	k := search.LimitsFor(focused, c.contextLength).RetrievalK
	retrieve := c.retriever.Retrieve
	if !req.UseRRF {
		retrieve = c.retriever.RetrieveDense
	}
	results, err := retrieve(ctx, retrievalQuery, k, where, focused)
	if err != nil {
		return Result{}, err
	}

	snippets, citations := AssignCitations(results)

	// The first turn embeds the evidence in the user message. Follow-up
	// turns send the bare question: the history already carries prior
	// evidence, and repeating the instruction block provokes
	// acknowledgement replies instead of answers.
	userContent := req.Query
	if isNew {
		userContent = BuildAnswerPrompt(req.Query, snippets)
	}

	msgs := append(Trim(history, DefaultMaxMessages, contextCharBudget),
		provider.Message{Role: provider.RoleUser, Content: userContent})

	var summary string
	resp, err := c.client.Chat(ctx, msgs, StandardParams)
	if err != nil {
		slog.Warn("chat completion failed, falling back to top snippet",
			slog.String("error", err.Error()))
		summary = noResultsSummary
		if len(snippets) > 0 {
			summary = snippets[0].Snippet
		}
	} else {
		if len(resp.Issues) > 0 {
			slog.Warn("chat response flagged by validation",
				slog.Any("issues", resp.Issues))
		}
		summary = resp.Content
	}

	c.sessions.Append(sessionID, provider.RoleUser, userContent)
	c.sessions.Append(sessionID, provider.RoleAssistant, summary)

	result := Result{
		Summary:        summary,
		Citations:      citations,
		Snippets:       snippets,
		SessionID:      sessionID,
		AppliedFilters: applied,
		Warning:        warning,
	}
	if isNew {
		result.GeneratedTitle = c.generateTitle(ctx, req.Query, summary)
	}
	return result, nil
}

// resolveFilters merges the explicit item scope, manual filters and
// model-extracted filters into one predicate. Metadata filters only
// apply on current-generation metadata; on a legacy index they are
// dropped with a warning rather than silently matching nothing.
func (c *Controller) resolveFilters(ctx context.Context, req Request, retrievalQuery string) (where filter.Clause, applied, warning string) {
	if ids := nonBlank(req.ItemIDs); len(ids) > 0 {
		where = filter.Clause{"item_id": filter.Clause{filter.OpIn: ids}}
	}

	wantsMetadata := req.UseAutoFilters ||
		(req.ManualFilters != nil && !req.ManualFilters.Empty())
	if !wantsMetadata {
		return where, "", ""
	}

	version, err := c.versions.MetadataVersion(ctx)
	if err != nil {
		slog.Warn("metadata version check failed, dropping metadata filters",
			slog.String("error", err.Error()))
		return where, "", "Metadata filters were skipped because the index metadata could not be read."
	}
	if version == store.MetadataV1 {
		return where, "", "Metadata filters were skipped: this index predates filterable metadata. Run the metadata migration to enable them."
	}

	var described []string
	if req.ManualFilters != nil {
		if clause := filter.Build(*req.ManualFilters); clause != nil {
			where = filter.Merge(where, clause)
			described = append(described, DescribeFilters(*req.ManualFilters))
		}
	}
	if req.UseAutoFilters {
		auto := c.extractor.Extract(ctx, retrievalQuery)
		if auto.HasFilters {
			if clause := filter.Build(auto); clause != nil {
				where = filter.Merge(where, clause)
				described = append(described, DescribeFilters(auto))
			}
		}
	}
	return where, strings.Join(described, "; "), ""
}

// generateTitle names a session from its first exchange. Failures are
// silent; the turn already succeeded and the title is decoration.
func (c *Controller) generateTitle(ctx context.Context, question, answer string) string {
	resp, err := c.client.Chat(ctx, []provider.Message{
		{Role: provider.RoleUser, Content: BuildTitlePrompt(question, answer)},
	}, TitleParams)
	if err != nil {
		slog.Debug("session title generation failed",
			slog.String("error", err.Error()))
		return ""
	}

	title := strings.TrimSpace(strings.Trim(strings.TrimSpace(resp.Content), `"'`))
	return truncateRunes(title, maxTitleChars)
}

// sourceKey identifies a cited source. Chunks sharing it cite the same
// entry.
type sourceKey struct {
	title   string
	year    int
	pdfPath string
}

// AssignCitations maps retrieval results to response snippets and
// their cited sources. Citation ids are 1-based in order of first
// appearance, so every snippet from the same paper shares one citation
// and the citation list reads in evidence order.
func AssignCitations(results []search.Result) ([]Snippet, []Citation) {
	snippets := make([]Snippet, 0, len(results))
	citations := make([]Citation, 0, len(results))
	ids := make(map[sourceKey]int, len(results))

	for _, res := range results {
		chunk := res.Chunk
		year := max(chunk.Year, 0)
		authors := strings.Join(chunk.Authors, ", ")

		key := sourceKey{title: chunk.Title, year: year, pdfPath: chunk.PDFPath}
		id, ok := ids[key]
		if !ok {
			id = len(ids) + 1
			ids[key] = id
			citations = append(citations, Citation{
				ID:      id,
				Title:   chunk.Title,
				Year:    year,
				Authors: authors,
				PDFPath: chunk.PDFPath,
			})
		}

		snippets = append(snippets, Snippet{
			CitationID: id,
			Snippet:    truncateRunes(chunk.Text, snippetMaxChars),
			Title:      chunk.Title,
			Year:       year,
			Authors:    authors,
			PDFPath:    chunk.PDFPath,
			Page:       chunk.Page,
		})
	}
	return snippets, citations
}

// DescribeFilters renders filters for display next to the answer.
func DescribeFilters(f filter.Filters) string {
	var parts []string
	if f.YearMin != nil && *f.YearMin != -1 {
		parts = append(parts, fmt.Sprintf("year >= %d", *f.YearMin))
	}
	if f.YearMax != nil && *f.YearMax != -1 {
		parts = append(parts, fmt.Sprintf("year <= %d", *f.YearMax))
	}
	if tags := nonBlank(f.Tags); len(tags) > 0 {
		parts = append(parts, "tags: "+strings.Join(tags, ", "))
	}
	if cols := nonBlank(f.Collections); len(cols) > 0 {
		parts = append(parts, "collections: "+strings.Join(cols, ", "))
	}
	if f.Author != nil && *f.Author != "" {
		parts = append(parts, "author: "+*f.Author)
	}
	if f.Title != nil && *f.Title != "" {
		parts = append(parts, "title: "+*f.Title)
	}
	if types := nonBlank(f.ItemTypes); len(types) > 0 {
		parts = append(parts, "types: "+strings.Join(types, ", "))
	}
	return strings.Join(parts, ", ")
}

func hasUserTurn(history []provider.Message) bool {
	for _, m := range history {
		if m.Role == provider.RoleUser {
			return true
		}
	}
	return false
}

func nonBlank(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
