package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/zoterag/zoterag/internal/catalog"
	"github.com/zoterag/zoterag/internal/chat"
	ragerr "github.com/zoterag/zoterag/internal/errors"
	"github.com/zoterag/zoterag/internal/filter"
	"github.com/zoterag/zoterag/internal/index"
	"github.com/zoterag/zoterag/internal/store"
)

// legacyMetadataMessage matches the wording the chat layer uses when it
// drops filters on a v1 index.
const legacyMetadataMessage = "This index predates filterable metadata. " +
	"Run the metadata migration to enable tag, collection, and year filters."

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) stats(c *gin.Context) {
	stats, err := s.svc.IndexStats(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) dbHealth(c *gin.Context) {
	health, err := s.svc.DBHealth(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, health)
}

// indexStartRequest selects the indexing mode. Incremental defaults to
// true, matching the shell's sync button; the full reindex is the
// explicit choice.
type indexStartRequest struct {
	Incremental *bool `json:"incremental"`
}

func (s *Server) indexStart(c *gin.Context) {
	var req indexStartRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.fail(c, ragerr.ValidationError("invalid request body", err))
			return
		}
	}

	mode := index.ModeIncremental
	if req.Incremental != nil && !*req.Incremental {
		mode = index.ModeFull
	}
	if err := s.svc.StartIndexing(c.Request.Context(), mode); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"msg": fmt.Sprintf("Indexing started (%s mode).", mode)})
}

func (s *Server) indexCancel(c *gin.Context) {
	s.svc.CancelIndexing()
	c.JSON(http.StatusOK, gin.H{"msg": "Cancellation signaled."})
}

func (s *Server) indexStatus(c *gin.Context) {
	status := s.svc.IndexStatus()
	state := "idle"
	if status.InProgress {
		state = "indexing"
	}
	c.JSON(http.StatusOK, gin.H{"status": state, "progress": status})
}

// itemIDList accepts both a JSON array and the comma-separated string
// older shell builds send.
type itemIDList []string

func (l *itemIDList) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err == nil {
		*l = trimNonEmpty(ids)
		return nil
	}
	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return err
	}
	*l = trimNonEmpty(strings.Split(joined, ","))
	return nil
}

func trimNonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

type chatRequest struct {
	Query              string          `json:"query"`
	SessionID          string          `json:"session_id"`
	ItemIDs            itemIDList      `json:"item_ids"`
	UseMetadataFilters bool            `json:"use_metadata_filters"`
	ManualFilters      *filter.Filters `json:"manual_filters"`
	UseRRF             *bool           `json:"use_rrf"`
}

func (s *Server) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, ragerr.ValidationError("invalid request body", err))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.fail(c, ragerr.New(ragerr.ErrCodeQueryEmpty, "missing 'query' in request body", nil))
		return
	}

	result, err := s.svc.Chat(c.Request.Context(), chat.Request{
		Query:          req.Query,
		SessionID:      req.SessionID,
		ItemIDs:        req.ItemIDs,
		UseAutoFilters: req.UseMetadataFilters,
		ManualFilters:  req.ManualFilters,
		UseRRF:         req.UseRRF == nil || *req.UseRRF,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) listProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": s.svc.ListProviders()})
}

func (s *Server) listModels(c *gin.Context) {
	models, err := s.svc.ListModels(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}

// validateProvider checks the stored credentials of one provider. A
// failed check is a successful request with valid=false; only an
// unknown provider id is an HTTP error. Model discovery rides along on
// success so the shell can populate its picker in one round-trip.
func (s *Server) validateProvider(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	if err := s.svc.ValidateProvider(ctx, id); err != nil {
		if ragerr.GetCode(err) == ragerr.ErrCodeProviderUnknown {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"valid": false, "provider": id, "error": errMessage(err)})
		return
	}

	resp := gin.H{"valid": true, "provider": id, "message": "credentials accepted"}
	if models, err := s.svc.ListModels(ctx, id); err == nil {
		resp["models"] = models
		resp["message"] = fmt.Sprintf("credentials accepted, %d models available", len(models))
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) metadataVersion(c *gin.Context) {
	ver, err := s.svc.MetadataVersion(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}

	resp := gin.H{
		"version":           int(ver),
		"migration_needed":  ver == store.MetadataV1,
		"can_use_filtering": ver == store.MetadataV2,
	}
	if ver == store.MetadataV1 {
		resp["message"] = legacyMetadataMessage
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) migrateMetadata(c *gin.Context) {
	ctx := c.Request.Context()

	ver, err := s.svc.MetadataVersion(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	if ver != store.MetadataV1 {
		c.JSON(http.StatusOK, gin.H{
			"status":  "not_needed",
			"message": "Metadata is already in the current format.",
			"version": int(ver),
		})
		return
	}

	summary, err := s.svc.MigrateMetadata(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "completed",
		"message": "Migration completed.",
		"summary": summary,
	})
}

func (s *Server) countFiltered(c *gin.Context) {
	var f filter.Filters
	if err := c.ShouldBindJSON(&f); err != nil {
		s.fail(c, ragerr.ValidationError("invalid request body", err))
		return
	}

	counts, err := s.svc.CountFiltered(c.Request.Context(), f)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

// nameCount is the wire shape of catalogue aggregates.
type nameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func nameCounts(in []catalog.NameCount) []nameCount {
	out := make([]nameCount, len(in))
	for i, nc := range in {
		out[i] = nameCount{Name: nc.Name, Count: nc.Count}
	}
	return out
}

// libraryTags returns tag names alphabetically, without counts. The
// shell's tag picker wants a flat list.
func (s *Server) libraryTags(c *gin.Context) {
	tags, err := s.svc.LibraryTags(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = t.Name
	}
	sort.Strings(names)
	c.JSON(http.StatusOK, gin.H{"tags": names})
}

func (s *Server) libraryCollections(c *gin.Context) {
	collections, err := s.svc.LibraryCollections(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"collections": nameCounts(collections)})
}

func (s *Server) libraryItemTypes(c *gin.Context) {
	types, err := s.svc.ItemTypes(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item_types": nameCounts(types)})
}
