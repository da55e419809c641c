// Package mcpserv exposes the library over the Model Context Protocol
// so AI clients can search a Zotero library mid-conversation. Stdio
// transport only; stdout carries JSON-RPC exclusively, so logging must
// be set up in file-only mode before Run.
package mcpserv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/zoterag/zoterag/internal/chat"
	ragerr "github.com/zoterag/zoterag/internal/errors"
	"github.com/zoterag/zoterag/internal/filter"
	"github.com/zoterag/zoterag/internal/service"
	"github.com/zoterag/zoterag/internal/store"
	"github.com/zoterag/zoterag/pkg/version"
)

// defaultSearchLimit bounds search_library results when the client
// does not ask for a specific count.
const defaultSearchLimit = 10

// Server bridges MCP clients and the library facade.
type Server struct {
	mcp *mcp.Server
	svc *service.Service
	log *slog.Logger
}

// New builds the MCP server and registers its tools.
func New(svc *service.Service, log *slog.Logger) (*Server, error) {
	if svc == nil {
		return nil, ragerr.ConfigError("mcp server requires a service", nil)
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    "zoterag",
			Version: version.Version,
		}, nil),
		svc: svc,
		log: log,
	}
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "search_library",
		Description: "Search the user's Zotero library for passages relevant to a research " +
			"question. Combines semantic and keyword retrieval over the indexed PDFs and " +
			"returns cited snippets with title, authors, year, and page. Optional filters " +
			"narrow the search by publication year, Zotero tags, or collections.",
	}, s.handleSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "library_status",
		Description: "Report the state of the library index: how many items are indexed, " +
			"whether the library changed since the last indexing run, and whether the " +
			"stored metadata supports filtered search.",
	}, s.handleStatus)
}

// SearchInput is the search_library parameter schema.
type SearchInput struct {
	Query       string   `json:"query" jsonschema:"the research question or keywords to search the library for"`
	Limit       int      `json:"limit,omitempty" jsonschema:"maximum number of passages to return, default 10"`
	YearMin     int      `json:"year_min,omitempty" jsonschema:"only sources published in or after this year"`
	YearMax     int      `json:"year_max,omitempty" jsonschema:"only sources published in or before this year"`
	Tags        []string `json:"tags,omitempty" jsonschema:"only sources carrying one of these Zotero tags"`
	Collections []string `json:"collections,omitempty" jsonschema:"only sources filed in one of these Zotero collections"`
}

// SearchOutput is the search_library result schema. Snippets reference
// sources by citation id; the sources list is deduplicated.
type SearchOutput struct {
	Results []chat.Snippet  `json:"results" jsonschema:"retrieved passages, best first"`
	Sources []chat.Citation `json:"sources" jsonschema:"the distinct works the passages came from"`
}

// filters assembles the metadata predicate from the tool input.
func (in SearchInput) filters() filter.Filters {
	f := filter.Filters{
		Tags:        in.Tags,
		Collections: in.Collections,
	}
	if in.YearMin > 0 {
		f.YearMin = &in.YearMin
	}
	if in.YearMax > 0 {
		f.YearMax = &in.YearMax
	}
	return f
}

func (s *Server) handleSearch(ctx context.Context, req *mcp.CallToolRequest, in SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	if in.Query == "" {
		return nil, SearchOutput{}, ragerr.New(ragerr.ErrCodeQueryEmpty,
			"query parameter is required", nil)
	}

	limit := in.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	results, err := s.svc.Search(ctx, in.Query, limit, in.filters())
	if err != nil {
		return nil, SearchOutput{}, err
	}

	snippets, citations := chat.AssignCitations(results)
	s.log.Debug("search_library served",
		slog.String("query", in.Query),
		slog.Int("results", len(snippets)))
	return nil, SearchOutput{Results: snippets, Sources: citations}, nil
}

// StatusInput is the library_status parameter schema; the tool takes
// no parameters.
type StatusInput struct{}

// StatusOutput is the library_status result schema.
type StatusOutput struct {
	IndexedItems   int    `json:"indexed_items" jsonschema:"distinct items in the index"`
	TotalChunks    int    `json:"total_chunks" jsonschema:"passages across all indexed items"`
	ZoteroItems    int    `json:"zotero_items" jsonschema:"library items that have a PDF attachment"`
	NewItems       int    `json:"new_items" jsonschema:"items with a PDF not indexed yet"`
	NeedsSync      bool   `json:"needs_sync" jsonschema:"true when the library changed since the last indexing run"`
	EmbeddingModel string `json:"embedding_model" jsonschema:"the embedding model the index was built with"`

	MetadataVersion string `json:"metadata_version" jsonschema:"stored metadata generation: none, v1, or v2"`
	CanUseFiltering bool   `json:"can_use_filtering" jsonschema:"true when year, tag, and collection filters work"`
	Message         string `json:"message,omitempty" jsonschema:"what to do when filtering is unavailable"`
}

func (s *Server) handleStatus(ctx context.Context, req *mcp.CallToolRequest, in StatusInput) (
	*mcp.CallToolResult,
	StatusOutput,
	error,
) {
	stats, err := s.svc.IndexStats(ctx)
	if err != nil {
		return nil, StatusOutput{}, err
	}
	ver, err := s.svc.MetadataVersion(ctx)
	if err != nil {
		return nil, StatusOutput{}, err
	}

	out := StatusOutput{
		IndexedItems:    stats.IndexedItems,
		TotalChunks:     stats.TotalChunks,
		ZoteroItems:     stats.ZoteroItems,
		NewItems:        stats.NewItems,
		NeedsSync:       stats.NeedsSync,
		EmbeddingModel:  stats.EmbeddingModel,
		MetadataVersion: ver.String(),
		CanUseFiltering: ver == store.MetadataV2,
	}
	if ver == store.MetadataV1 {
		out.Message = "Stored metadata predates filterable search. Run the metadata migration to enable year, tag, and collection filters."
	}
	return nil, out, nil
}

// Run serves MCP over stdio until ctx is cancelled or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("mcp server starting",
		slog.String("version", version.Version))

	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error("mcp server stopped", slog.String("error", err.Error()))
		return fmt.Errorf("mcp serve: %w", err)
	}
	s.log.Info("mcp server stopped")
	return nil
}
