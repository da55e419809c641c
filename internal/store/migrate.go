package store

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// DefaultMigrationBatchSize is how many chunks one transaction
// rewrites.
const DefaultMigrationBatchSize = 1000

// ItemMeta carries the catalogue fields migration rebuilds metadata
// from, keyed by item ID at the call site.
type ItemMeta struct {
	Title       string
	Authors     []string
	Year        int
	ItemType    string
	Tags        []string
	Collections []string
}

// MigrationSummary reports one metadata migration run.
type MigrationSummary struct {
	TotalChunks    int     `json:"total_chunks"`
	UpdatedChunks  int     `json:"updated_chunks"`
	FailedChunks   int     `json:"failed_chunks"`
	UniqueItems    int     `json:"unique_items"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	Success        bool    `json:"success"`
}

// MigrateMetadata rewrites every chunk's metadata to the v2 shape.
// Positional fields (item_id, chunk_idx, page, pdf_path) are preserved
// from the existing row; bibliographic fields are rebuilt from the
// catalogue. Chunks whose item is gone from the library are counted as
// failed and left untouched. Rows already in the target shape are
// skipped.
func MigrateMetadata(ctx context.Context, c *Collection, items map[string]ItemMeta, batchSize int) (MigrationSummary, error) {
	if batchSize <= 0 {
		batchSize = DefaultMigrationBatchSize
	}

	start := time.Now()
	var summary MigrationSummary
	seenItems := make(map[string]bool)

	var after int64
	for {
		if err := ctx.Err(); err != nil {
			summary.ElapsedSeconds = time.Since(start).Seconds()
			return summary, err
		}

		rows, err := c.ScanMetas(ctx, after, batchSize)
		if err != nil {
			summary.ElapsedSeconds = time.Since(start).Seconds()
			return summary, err
		}
		if len(rows) == 0 {
			break
		}

		var (
			ids   []string
			metas []map[string]any
		)
		for _, row := range rows {
			summary.TotalChunks++
			seenItems[row.ItemID] = true

			item, ok := items[row.ItemID]
			if !ok {
				summary.FailedChunks++
				slog.Debug("item missing from library, chunk not migrated",
					slog.String("chunk_id", row.ID),
					slog.String("item_id", row.ItemID))
				continue
			}

			rebuilt := rebuildMeta(row, item)
			if metaEqual(row.Meta, rebuilt) {
				continue
			}
			ids = append(ids, row.ID)
			metas = append(metas, rebuilt)
		}

		if len(ids) > 0 {
			if err := c.UpdateMetas(ctx, ids, metas); err != nil {
				summary.ElapsedSeconds = time.Since(start).Seconds()
				return summary, err
			}
			summary.UpdatedChunks += len(ids)
		}

		after = rows[len(rows)-1].RowID
		slog.Info("migration batch complete",
			slog.Int("processed", summary.TotalChunks),
			slog.Int("updated", summary.UpdatedChunks))
	}

	summary.UniqueItems = len(seenItems)
	summary.ElapsedSeconds = time.Since(start).Seconds()
	summary.Success = true
	return summary, nil
}

// rebuildMeta builds the v2 metadata for one chunk. page and pdf_path
// carry over from the old row; everything bibliographic comes fresh
// from the catalogue.
func rebuildMeta(row MetaRow, item ItemMeta) map[string]any {
	return map[string]any{
		"item_id":     row.ItemID,
		"chunk_idx":   row.ChunkIdx,
		"page":        metaInt(row.Meta, "page", 0),
		"pdf_path":    metaString(row.Meta, "pdf_path"),
		"title":       item.Title,
		"authors":     toAnySlice(item.Authors),
		"year":        item.Year,
		"item_type":   item.ItemType,
		"tags":        toAnySlice(item.Tags),
		"collections": toAnySlice(item.Collections),
	}
}

// metaEqual compares two metadata maps through canonical JSON, which
// irons out int versus float64 differences.
func metaEqual(a, b map[string]any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}
