package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/zoterag/zoterag/internal/filter"
	"github.com/zoterag/zoterag/internal/provider"
)

// Extraction is deterministic: temperature zero, small budget.
var extractParams = provider.Params{Temperature: 0, MaxTokens: 200}

// The prompt insists on EXPLICITLY stated constraints. Models love to
// turn the topic of a question into a tag filter, which silently empties
// retrieval; the worked examples in the prompt steer against exactly that.
const extractionPrompt = `Extract structured metadata filters from this academic library search query.
Return JSON with these fields (use null / empty list when the field is absent):

- year_min   : earliest year as integer (e.g. 2018), or null
- year_max   : latest year as integer (e.g. 2023), or null
- tags       : list of topic/keyword tags EXPLICITLY mentioned (e.g. ["NLP", "deep learning"])
- collections: list of Zotero collection names EXPLICITLY mentioned (e.g. ["PhD Research"])
- author     : last name or full name of a specific author EXPLICITLY mentioned, or null
- title      : title fragment of a specific paper/book/thesis EXPLICITLY mentioned, or null
- item_types : list of document types EXPLICITLY mentioned - use only these Zotero names:
               "journalArticle", "book", "bookSection", "conferencePaper", "thesis",
               "preprint", "webpage", "report", "presentation", "manuscript"

Rules:
- Only extract what is EXPLICITLY stated. Do not infer topics from the question subject.
  Example: "What does Berlant argue?" -> no tags, no author (just a rhetorical question)
  Example: "Papers by Berlant about optimism" -> author: "Berlant", tags: ["optimism"]
- "thesis", "dissertation", "master's thesis", "PhD thesis" -> item_types: ["thesis"]
- Author names: extract only if the query asks for a specific person's work, not just mentions a name.
- "recent" / "latest" alone is not a year filter.

Query: "%s"

Return ONLY valid JSON, no explanation:`

var (
	fencedJSONRe = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")
	bareJSONRe   = regexp.MustCompile(`(?s)\{.*\}`)
)

// EmptyFilters is the no-filters sentinel. Lists are empty rather than
// nil so the serialized shape stays stable for clients.
func EmptyFilters() filter.Filters {
	return filter.Filters{
		Tags:        []string{},
		Collections: []string{},
		ItemTypes:   []string{},
	}
}

// Extractor pulls explicitly stated metadata constraints out of a
// query with a model call, feeding the same predicate builder as the
// manual filter panel.
type Extractor struct {
	client ChatClient
}

// NewExtractor returns an extractor backed by the given chat client.
func NewExtractor(client ChatClient) *Extractor {
	return &Extractor{client: client}
}

// Extract returns the filters stated in the query. Any model or parse
// failure degrades to the empty sentinel so retrieval proceeds
// unconstrained rather than failing the turn.
func (e *Extractor) Extract(ctx context.Context, query string) filter.Filters {
	prompt := fmt.Sprintf(extractionPrompt, query)

	resp, err := e.client.Chat(ctx, []provider.Message{
		{Role: provider.RoleUser, Content: prompt},
	}, extractParams)
	if err != nil {
		slog.Warn("metadata extraction failed, using no filters",
			slog.String("error", err.Error()))
		return EmptyFilters()
	}

	filters, err := ParseFilters(resp.Content)
	if err != nil {
		slog.Warn("metadata extraction returned unparseable filters",
			slog.String("error", err.Error()))
		return EmptyFilters()
	}

	slog.Debug("extracted metadata filters", slog.Bool("has_filters", filters.HasFilters))
	return filters
}

// ParseFilters parses a model response into filters. It tolerates the
// usual response dressing: a fenced json code block is unwrapped, and
// failing that the first brace-delimited region is taken. Missing
// fields stay unset; blank authors and titles count as absent.
func ParseFilters(content string) (filter.Filters, error) {
	payload := content
	if m := fencedJSONRe.FindStringSubmatch(content); m != nil {
		payload = m[1]
	} else if m := bareJSONRe.FindString(content); m != "" {
		payload = m
	}

	var raw struct {
		YearMin     *int     `json:"year_min"`
		YearMax     *int     `json:"year_max"`
		Tags        []string `json:"tags"`
		Collections []string `json:"collections"`
		Author      *string  `json:"author"`
		Title       *string  `json:"title"`
		ItemTypes   []string `json:"item_types"`
	}
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return EmptyFilters(), err
	}

	f := EmptyFilters()
	f.YearMin = raw.YearMin
	f.YearMax = raw.YearMax
	if len(raw.Tags) > 0 {
		f.Tags = raw.Tags
	}
	if len(raw.Collections) > 0 {
		f.Collections = raw.Collections
	}
	if raw.Author != nil && strings.TrimSpace(*raw.Author) != "" {
		f.Author = raw.Author
	}
	if raw.Title != nil && strings.TrimSpace(*raw.Title) != "" {
		f.Title = raw.Title
	}
	if len(raw.ItemTypes) > 0 {
		f.ItemTypes = raw.ItemTypes
	}

	f.HasFilters = f.YearMin != nil || f.YearMax != nil ||
		len(f.Tags) > 0 || len(f.Collections) > 0 ||
		f.Author != nil || f.Title != nil || len(f.ItemTypes) > 0

	return f, nil
}
