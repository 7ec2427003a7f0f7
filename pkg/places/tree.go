package places

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"github.com/prismon/mcp-bookmarks/internal/models"
	"github.com/prismon/mcp-bookmarks/pkg/nodeset"
	"github.com/prismon/mcp-bookmarks/pkg/storeerr"
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type bookmarkRow struct {
	id           int64
	typ          int
	fk           sql.NullInt64
	parent       int64
	position     int64
	title        string
	dateAdded    int64
	lastModified int64
	guid         string
	url          string
}

type tagEntry struct {
	id     int64
	folder int64
	tag    string
}

// tree is one consistent read of moz_bookmarks: the normalized node set plus
// the bookkeeping the writers need
type tree struct {
	set        *nodeset.Set
	rows       map[int64]*bookmarkRow
	rootIDs    map[string]int64 // guid -> id
	tagsRoot   int64
	tagFolders map[string]int64 // tag name -> first folder with that title
	tagEntries map[int64][]tagEntry
	hasSync    bool
	hasDeleted bool
}

const bookmarksQuery = `
SELECT b.id, b.type, b.fk, b.parent, COALESCE(b.position, 0), COALESCE(b.title, ''),
       COALESCE(b.dateAdded, 0), COALESCE(b.lastModified, 0), COALESCE(b.guid, ''), COALESCE(p.url, '')
FROM moz_bookmarks b
LEFT JOIN moz_places p ON p.id = b.fk
ORDER BY b.parent, b.position, b.id`

func loadTree(ctx context.Context, q querier) (*tree, error) {
	tables, err := tableNames(ctx, q)
	if err != nil {
		return nil, err
	}
	if !tables["moz_bookmarks"] || !tables["moz_places"] {
		return nil, storeerr.InvalidStructure("not a places database: moz_bookmarks or moz_places is missing")
	}

	t := &tree{
		rows:       map[int64]*bookmarkRow{},
		rootIDs:    map[string]int64{},
		tagFolders: map[string]int64{},
		tagEntries: map[int64][]tagEntry{},
		hasDeleted: tables["moz_bookmarks_deleted"],
	}
	if t.hasSync, err = hasColumn(ctx, q, "moz_bookmarks", "syncChangeCounter"); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, bookmarksQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	children := map[int64][]*bookmarkRow{}
	for rows.Next() {
		r := &bookmarkRow{}
		if err := rows.Scan(&r.id, &r.typ, &r.fk, &r.parent, &r.position, &r.title,
			&r.dateAdded, &r.lastModified, &r.guid, &r.url); err != nil {
			return nil, err
		}
		t.rows[r.id] = r
		children[r.parent] = append(children[r.parent], r)
		switch r.guid {
		case GUIDRoot, GUIDMenu, GUIDToolbar, GUIDTags, GUIDUnfiled, GUIDMobile:
			t.rootIDs[r.guid] = r.id
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, guid := range requiredRootGUIDs {
		if _, ok := t.rootIDs[guid]; !ok {
			return nil, storeerr.InvalidStructure("places root %s is missing", guid)
		}
	}
	t.tagsRoot = t.rootIDs[GUIDTags]

	for _, folder := range children[t.tagsRoot] {
		if folder.typ != TypeFolder {
			continue
		}
		if _, ok := t.tagFolders[folder.title]; !ok {
			t.tagFolders[folder.title] = folder.id
		}
		for _, entry := range children[folder.id] {
			if entry.typ == TypeBookmark && entry.fk.Valid {
				t.tagEntries[entry.fk.Int64] = append(t.tagEntries[entry.fk.Int64], tagEntry{id: entry.id, folder: folder.id, tag: folder.title})
			}
		}
	}

	var nodes []models.BookmarkNode
	var visit func(r *bookmarkRow, parent *int64)
	visit = func(r *bookmarkRow, parent *int64) {
		switch r.typ {
		case TypeFolder:
			nodes = append(nodes, t.node(r, parent))
			id := r.id
			for _, c := range children[r.id] {
				visit(c, &id)
			}
		case TypeBookmark:
			if r.url != "" {
				nodes = append(nodes, t.node(r, parent))
			}
		}
	}
	for _, r := range children[t.rootIDs[GUIDRoot]] {
		if r.id == t.tagsRoot || r.typ != TypeFolder {
			continue
		}
		visit(r, nil)
	}

	if t.set, err = nodeset.FromNodes(nodes); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *tree) node(r *bookmarkRow, parent *int64) models.BookmarkNode {
	n := models.BookmarkNode{
		ID:         r.id,
		Title:      r.title,
		ParentID:   parent,
		CreatedAt:  r.dateAdded,
		ModifiedAt: r.lastModified,
	}
	if n.ModifiedAt == 0 {
		n.ModifiedAt = n.CreatedAt
	}
	if r.typ == TypeFolder {
		n.Kind = models.NodeKindFolder
		if parent == nil {
			n.Title = rootDisplayName(r.guid, r.title)
		}
		return n
	}
	n.Kind = models.NodeKindBookmark
	n.URL = r.url
	if r.fk.Valid {
		n.Tags = t.tagsOf(r.fk.Int64)
	}
	return n
}

// tagsOf returns the sorted distinct tags attached to a place
func (t *tree) tagsOf(place int64) []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range t.tagEntries[place] {
		if !seen[e.tag] {
			seen[e.tag] = true
			out = append(out, e.tag)
		}
	}
	sort.Strings(out)
	return out
}

func rootDisplayName(guid, title string) string {
	for _, r := range visibleRoots {
		if r.guid == guid {
			return r.display
		}
	}
	return title
}

// startFolder picks the root a folder path is resolved from. A first segment
// naming a root selects it; otherwise paths start at the unfiled root.
func (t *tree) startFolder(path string) (int64, string) {
	segments := nodeset.SplitPath(path)
	if len(segments) > 0 {
		for _, r := range visibleRoots {
			id, ok := t.rootIDs[r.guid]
			if !ok {
				continue
			}
			if strings.EqualFold(segments[0], r.short) || strings.EqualFold(segments[0], r.display) {
				return id, strings.Join(segments[1:], "/")
			}
		}
	}
	return t.rootIDs[GUIDUnfiled], strings.Join(segments, "/")
}

// lookupFolderPath resolves path without creating anything
func (t *tree) lookupFolderPath(path string) (int64, []string) {
	start, rest := t.startFolder(path)
	return t.set.ResolveFolderPath(start, rest)
}

func (t *tree) placeOf(id int64) (int64, bool) {
	r, ok := t.rows[id]
	if !ok || !r.fk.Valid {
		return 0, false
	}
	return r.fk.Int64, true
}

func tableNames(ctx context.Context, q querier) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}

func hasColumn(ctx context.Context, q querier, table, column string) (bool, error) {
	rows, err := q.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
