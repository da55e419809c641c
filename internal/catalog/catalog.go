// Package catalog reads bibliographic metadata from a Zotero library.
//
// The reader opens zotero.sqlite directly in immutable read-only mode,
// so it works while Zotero itself has the database open and can never
// write to it. Items are addressed by their Zotero key, which is stable
// across syncs.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	ragerr "github.com/zoterag/zoterag/internal/errors"
)

// Item is one bibliographic entry with the metadata the index needs.
type Item struct {
	// ID is the Zotero item key.
	ID string

	// Title of the work, possibly empty.
	Title string

	// Authors in creator order, formatted "First Last".
	Authors []string

	// Year of publication, -1 when no year could be parsed.
	Year int

	// ItemType is the Zotero type key (journalArticle, book, ...).
	ItemType string

	// Tags attached to the item.
	Tags []string

	// Collections the item belongs to directly.
	Collections []string

	// PDFPath is the absolute path of the first PDF attachment, empty
	// when the item has none.
	PDFPath string

	// Modified is the Zotero dateModified timestamp.
	Modified time.Time
}

// NameCount pairs a tag, collection, or item type name with the number
// of items carrying it.
type NameCount struct {
	Name  string
	Count int
}

// Reader exposes the library catalogue.
type Reader interface {
	// Items returns all bibliographic items. Attachments, notes,
	// annotations, and trashed items are excluded.
	Items(ctx context.Context) ([]Item, error)

	// Tags returns tag usage counts, most used first.
	Tags(ctx context.Context) ([]NameCount, error)

	// Collections returns collection sizes, largest first.
	Collections(ctx context.Context) ([]NameCount, error)

	// ItemTypes returns item type counts, most common first.
	ItemTypes(ctx context.Context) ([]NameCount, error)

	Close() error
}

var yearRe = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// ExtractYear pulls the first plausible publication year out of a
// Zotero date string ("2021-05-01 2021", "c. 1998", ...). Returns -1
// when none is found.
func ExtractYear(date string) int {
	match := yearRe.FindString(date)
	if match == "" {
		return -1
	}
	var year int
	_, _ = fmt.Sscanf(match, "%d", &year)
	return year
}

// Item types that are not bibliographic entries.
const excludedTypes = "('attachment', 'note', 'annotation')"

const zoteroTimeLayout = "2006-01-02 15:04:05"

// ZoteroReader reads a zotero.sqlite database.
type ZoteroReader struct {
	db         *sql.DB
	storageDir string
}

var _ Reader = (*ZoteroReader)(nil)

// NewZoteroReader opens the Zotero database at dbPath. storageDir is the
// Zotero storage/ directory used to resolve stored attachments.
func NewZoteroReader(dbPath, storageDir string) (*ZoteroReader, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, ragerr.New(ragerr.ErrCodeFileNotFound,
			fmt.Sprintf("zotero database not found: %s", dbPath), err).
			WithSuggestion("point library.zotero_dir at your Zotero data directory")
	}

	// immutable=1 skips locking entirely. Zotero holds its own locks on
	// this file and we must never contend with it.
	dsn := fmt.Sprintf("file:%s?mode=ro&immutable=1", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, ragerr.New(ragerr.ErrCodeCatalogRead,
			fmt.Sprintf("open zotero database: %v", err), err)
	}
	db.SetMaxOpenConns(1)

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&n); err != nil {
		_ = db.Close()
		return nil, ragerr.New(ragerr.ErrCodeCatalogRead,
			fmt.Sprintf("not a zotero database: %v", err), err).
			WithDetail("path", dbPath)
	}

	return &ZoteroReader{db: db, storageDir: storageDir}, nil
}

// Close releases the database handle.
func (r *ZoteroReader) Close() error {
	return r.db.Close()
}

// Items loads the full catalogue in a handful of bulk queries and
// assembles it in memory. Zotero libraries top out at tens of thousands
// of items, so per-item queries are the only thing worth avoiding.
func (r *ZoteroReader) Items(ctx context.Context) ([]Item, error) {
	byID := make(map[int64]*Item)
	var order []int64

	rows, err := r.db.QueryContext(ctx, `
		SELECT i.itemID, i.key, it.typeName, i.dateModified
		FROM items i
		JOIN itemTypes it ON it.itemTypeID = i.itemTypeID
		WHERE it.typeName NOT IN `+excludedTypes+`
		  AND i.itemID NOT IN (SELECT itemID FROM deletedItems)
		ORDER BY i.itemID`)
	if err != nil {
		return nil, catalogErr("list items", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			id       int64
			key      string
			typeName string
			modified sql.NullString
		)
		if err := rows.Scan(&id, &key, &typeName, &modified); err != nil {
			return nil, catalogErr("scan item", err)
		}
		item := &Item{ID: key, ItemType: typeName, Year: -1}
		if modified.Valid {
			if ts, err := time.Parse(zoteroTimeLayout, modified.String); err == nil {
				item.Modified = ts
			}
		}
		byID[id] = item
		order = append(order, id)
	}
	if err := rows.Err(); err != nil {
		return nil, catalogErr("iterate items", err)
	}

	if err := r.loadFields(ctx, byID); err != nil {
		return nil, err
	}
	if err := r.loadCreators(ctx, byID); err != nil {
		return nil, err
	}
	if err := r.loadTags(ctx, byID); err != nil {
		return nil, err
	}
	if err := r.loadCollections(ctx, byID); err != nil {
		return nil, err
	}
	if err := r.loadAttachments(ctx, byID); err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(order))
	for _, id := range order {
		items = append(items, *byID[id])
	}
	return items, nil
}

func (r *ZoteroReader) loadFields(ctx context.Context, byID map[int64]*Item) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id.itemID, f.fieldName, idv.value
		FROM itemData id
		JOIN fields f ON f.fieldID = id.fieldID
		JOIN itemDataValues idv ON idv.valueID = id.valueID
		WHERE f.fieldName IN ('title', 'date')`)
	if err != nil {
		return catalogErr("load fields", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			id    int64
			field string
			value string
		)
		if err := rows.Scan(&id, &field, &value); err != nil {
			return catalogErr("scan field", err)
		}
		item, ok := byID[id]
		if !ok {
			continue
		}
		switch field {
		case "title":
			item.Title = value
		case "date":
			item.Year = ExtractYear(value)
		}
	}
	if err := rows.Err(); err != nil {
		return catalogErr("iterate fields", err)
	}
	return nil
}

func (r *ZoteroReader) loadCreators(ctx context.Context, byID map[int64]*Item) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ic.itemID, c.firstName, c.lastName
		FROM itemCreators ic
		JOIN creators c ON c.creatorID = ic.creatorID
		ORDER BY ic.itemID, ic.orderIndex`)
	if err != nil {
		return catalogErr("load creators", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			id    int64
			first sql.NullString
			last  sql.NullString
		)
		if err := rows.Scan(&id, &first, &last); err != nil {
			return catalogErr("scan creator", err)
		}
		item, ok := byID[id]
		if !ok {
			continue
		}
		name := strings.TrimSpace(first.String + " " + last.String)
		if name != "" {
			item.Authors = append(item.Authors, name)
		}
	}
	if err := rows.Err(); err != nil {
		return catalogErr("iterate creators", err)
	}
	return nil
}

func (r *ZoteroReader) loadTags(ctx context.Context, byID map[int64]*Item) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT it.itemID, t.name
		FROM itemTags it
		JOIN tags t ON t.tagID = it.tagID
		ORDER BY it.itemID, t.name`)
	if err != nil {
		return catalogErr("load tags", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return catalogErr("scan tag", err)
		}
		if item, ok := byID[id]; ok {
			item.Tags = append(item.Tags, name)
		}
	}
	if err := rows.Err(); err != nil {
		return catalogErr("iterate tags", err)
	}
	return nil
}

func (r *ZoteroReader) loadCollections(ctx context.Context, byID map[int64]*Item) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ci.itemID, c.collectionName
		FROM collectionItems ci
		JOIN collections c ON c.collectionID = ci.collectionID
		ORDER BY ci.itemID, c.collectionName`)
	if err != nil {
		return catalogErr("load collections", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return catalogErr("scan collection", err)
		}
		if item, ok := byID[id]; ok {
			item.Collections = append(item.Collections, name)
		}
	}
	if err := rows.Err(); err != nil {
		return catalogErr("iterate collections", err)
	}
	return nil
}

// loadAttachments resolves the first PDF attachment per item. Stored
// attachments ("storage:file.pdf") live under storage/<KEY>/; linked
// attachments carry an absolute path. Other link modes are skipped.
func (r *ZoteroReader) loadAttachments(ctx context.Context, byID map[int64]*Item) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ia.parentItemID, ai.key, ia.path
		FROM itemAttachments ia
		JOIN items ai ON ai.itemID = ia.itemID
		WHERE ia.parentItemID IS NOT NULL
		  AND (ia.contentType = 'application/pdf' OR ia.path LIKE '%.pdf')
		ORDER BY ia.parentItemID, ia.itemID`)
	if err != nil {
		return catalogErr("load attachments", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			parentID int64
			key      string
			path     sql.NullString
		)
		if err := rows.Scan(&parentID, &key, &path); err != nil {
			return catalogErr("scan attachment", err)
		}
		item, ok := byID[parentID]
		if !ok || item.PDFPath != "" || !path.Valid {
			continue
		}
		item.PDFPath = r.resolveAttachmentPath(key, path.String)
	}
	if err := rows.Err(); err != nil {
		return catalogErr("iterate attachments", err)
	}
	return nil
}

func (r *ZoteroReader) resolveAttachmentPath(attachmentKey, raw string) string {
	if name, ok := strings.CutPrefix(raw, "storage:"); ok {
		return filepath.Join(r.storageDir, attachmentKey, name)
	}
	if filepath.IsAbs(raw) {
		return raw
	}
	return ""
}

// Tags returns tag usage over bibliographic items.
func (r *ZoteroReader) Tags(ctx context.Context) ([]NameCount, error) {
	return r.nameCounts(ctx, `
		SELECT t.name, COUNT(DISTINCT it2.itemID) AS n
		FROM tags t
		JOIN itemTags it2 ON it2.tagID = t.tagID
		JOIN items i ON i.itemID = it2.itemID
		JOIN itemTypes ity ON ity.itemTypeID = i.itemTypeID
		WHERE ity.typeName NOT IN `+excludedTypes+`
		  AND i.itemID NOT IN (SELECT itemID FROM deletedItems)
		GROUP BY t.name
		ORDER BY n DESC, t.name`)
}

// Collections returns direct membership counts per collection.
func (r *ZoteroReader) Collections(ctx context.Context) ([]NameCount, error) {
	return r.nameCounts(ctx, `
		SELECT c.collectionName, COUNT(DISTINCT ci.itemID) AS n
		FROM collections c
		JOIN collectionItems ci ON ci.collectionID = c.collectionID
		JOIN items i ON i.itemID = ci.itemID
		JOIN itemTypes ity ON ity.itemTypeID = i.itemTypeID
		WHERE ity.typeName NOT IN `+excludedTypes+`
		  AND i.itemID NOT IN (SELECT itemID FROM deletedItems)
		GROUP BY c.collectionName
		ORDER BY n DESC, c.collectionName`)
}

// ItemTypes returns counts per bibliographic item type.
func (r *ZoteroReader) ItemTypes(ctx context.Context) ([]NameCount, error) {
	return r.nameCounts(ctx, `
		SELECT it.typeName, COUNT(*) AS n
		FROM items i
		JOIN itemTypes it ON it.itemTypeID = i.itemTypeID
		WHERE it.typeName NOT IN `+excludedTypes+`
		  AND i.itemID NOT IN (SELECT itemID FROM deletedItems)
		GROUP BY it.typeName
		ORDER BY n DESC, it.typeName`)
}

func (r *ZoteroReader) nameCounts(ctx context.Context, query string) ([]NameCount, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, catalogErr("count names", err)
	}
	defer func() { _ = rows.Close() }()

	var counts []NameCount
	for rows.Next() {
		var nc NameCount
		if err := rows.Scan(&nc.Name, &nc.Count); err != nil {
			return nil, catalogErr("scan count", err)
		}
		counts = append(counts, nc)
	}
	if err := rows.Err(); err != nil {
		return nil, catalogErr("iterate counts", err)
	}
	return counts, nil
}

func catalogErr(op string, err error) error {
	return ragerr.New(ragerr.ErrCodeCatalogRead, fmt.Sprintf("%s: %v", op, err), err)
}
