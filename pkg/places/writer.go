package places

import (
	"context"
	"database/sql"
	"sort"
	"strings"
)

// writer applies mutations inside one transaction. The tree is the state
// read at the start of the transaction and is not refreshed by the writes.
type writer struct {
	ctx  context.Context
	tx   *sql.Tx
	tree *tree
	now  int64
}

func (w *writer) exec(query string, args ...interface{}) (sql.Result, error) {
	return w.tx.ExecContext(w.ctx, query, args...)
}

func (w *writer) nextID() (int64, error) {
	var id int64
	err := w.tx.QueryRowContext(w.ctx, `SELECT COALESCE(MAX(id), 0) + 1 FROM moz_bookmarks`).Scan(&id)
	return id, err
}

func (w *writer) nextPosition(parent int64) (int64, error) {
	var pos int64
	err := w.tx.QueryRowContext(w.ctx, `SELECT COALESCE(MAX(position) + 1, 0) FROM moz_bookmarks WHERE parent = ?`, parent).Scan(&pos)
	return pos, err
}

// insert adds a moz_bookmarks row at the end of parent and returns its id
func (w *writer) insert(typ int, fk sql.NullInt64, parent int64, title string) (int64, error) {
	id, err := w.nextID()
	if err != nil {
		return 0, err
	}
	pos, err := w.nextPosition(parent)
	if err != nil {
		return 0, err
	}

	if w.tree.hasSync {
		_, err = w.exec(`INSERT INTO moz_bookmarks (id, type, fk, parent, position, title, dateAdded, lastModified, guid, syncStatus, syncChangeCounter)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			id, typ, fk, parent, pos, title, w.now, w.now, NewGUID(), syncStatusNew)
	} else {
		_, err = w.exec(`INSERT INTO moz_bookmarks (id, type, fk, parent, position, title, dateAdded, lastModified, guid)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, typ, fk, parent, pos, title, w.now, w.now, NewGUID())
	}
	if err != nil {
		return 0, err
	}
	if fk.Valid {
		if _, err := w.exec(`UPDATE moz_places SET foreign_count = foreign_count + 1 WHERE id = ?`, fk.Int64); err != nil {
			return 0, err
		}
	}
	return id, w.touch(parent)
}

// touch bumps lastModified and the sync change counter of a row
func (w *writer) touch(id int64) error {
	var err error
	if w.tree.hasSync {
		_, err = w.exec(`UPDATE moz_bookmarks SET lastModified = ?, syncChangeCounter = syncChangeCounter + 1 WHERE id = ?`, w.now, id)
	} else {
		_, err = w.exec(`UPDATE moz_bookmarks SET lastModified = ? WHERE id = ?`, w.now, id)
	}
	return err
}

// ensureFolderPath resolves path from its root, creating the missing tail
func (w *writer) ensureFolderPath(path string) (int64, []string, error) {
	parent, missing := w.tree.lookupFolderPath(path)
	for _, seg := range missing {
		id, err := w.insert(TypeFolder, sql.NullInt64{}, parent, seg)
		if err != nil {
			return 0, nil, err
		}
		parent = id
	}
	return parent, missing, nil
}

// ensurePlace returns the moz_places id for url, inserting a row if needed
func (w *writer) ensurePlace(url, title string) (int64, error) {
	hash := URLHash(url)
	var id int64
	err := w.tx.QueryRowContext(w.ctx, `SELECT id FROM moz_places WHERE url_hash = ? AND url = ?`, hash, url).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}

	res, err := w.exec(`INSERT INTO moz_places (url, title, rev_host, hidden, frecency, guid, url_hash) VALUES (?, ?, ?, 0, -1, ?, ?)`,
		url, title, ReverseHost(url), NewGUID(), hash)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// addBookmark inserts a bookmark row for url under parent
func (w *writer) addBookmark(parent int64, title, url string) (int64, int64, error) {
	place, err := w.ensurePlace(url, title)
	if err != nil {
		return 0, 0, err
	}
	id, err := w.insert(TypeBookmark, sql.NullInt64{Int64: place, Valid: true}, parent, title)
	return id, place, err
}

func (w *writer) rename(id int64, title string) error {
	if _, err := w.exec(`UPDATE moz_bookmarks SET title = ? WHERE id = ?`, title, id); err != nil {
		return err
	}
	return w.touch(id)
}

// detach closes the position gap a row leaves in its parent
func (w *writer) detach(parent, position int64) error {
	_, err := w.exec(`UPDATE moz_bookmarks SET position = position - 1 WHERE parent = ? AND position > ?`, parent, position)
	if err != nil {
		return err
	}
	return w.touch(parent)
}

func (w *writer) move(id, dest int64) error {
	var parent, position int64
	err := w.tx.QueryRowContext(w.ctx, `SELECT parent, position FROM moz_bookmarks WHERE id = ?`, id).Scan(&parent, &position)
	if err != nil {
		return err
	}
	if err := w.detach(parent, position); err != nil {
		return err
	}
	pos, err := w.nextPosition(dest)
	if err != nil {
		return err
	}
	if _, err := w.exec(`UPDATE moz_bookmarks SET parent = ?, position = ? WHERE id = ?`, dest, pos, id); err != nil {
		return err
	}
	if err := w.touch(id); err != nil {
		return err
	}
	return w.touch(dest)
}

const subtreeQuery = `
WITH RECURSIVE sub(id) AS (
	SELECT ?
	UNION ALL
	SELECT b.id FROM moz_bookmarks b JOIN sub ON b.parent = sub.id
)
SELECT b.id, b.fk FROM moz_bookmarks b JOIN sub ON b.id = sub.id`

// removeSubtree deletes id and all of its descendants. It returns the number
// of rows removed and the places they referenced.
func (w *writer) removeSubtree(id int64) (int, []int64, error) {
	var parent, position int64
	err := w.tx.QueryRowContext(w.ctx, `SELECT parent, position FROM moz_bookmarks WHERE id = ?`, id).Scan(&parent, &position)
	if err != nil {
		return 0, nil, err
	}

	rows, err := w.tx.QueryContext(w.ctx, subtreeQuery, id)
	if err != nil {
		return 0, nil, err
	}
	var ids []int64
	var places []int64
	for rows.Next() {
		var rid int64
		var fk sql.NullInt64
		if err := rows.Scan(&rid, &fk); err != nil {
			rows.Close()
			return 0, nil, err
		}
		ids = append(ids, rid)
		if fk.Valid {
			places = append(places, fk.Int64)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, nil, err
	}

	for _, rid := range ids {
		if err := w.deleteRow(rid); err != nil {
			return 0, nil, err
		}
	}
	if err := w.detach(parent, position); err != nil {
		return 0, nil, err
	}
	return len(ids), places, nil
}

// deleteRow removes one row, recording a tombstone for rows that were synced
func (w *writer) deleteRow(id int64) error {
	if w.tree.hasSync && w.tree.hasDeleted {
		_, err := w.exec(`INSERT OR IGNORE INTO moz_bookmarks_deleted (guid, dateRemoved)
			SELECT guid, ? FROM moz_bookmarks WHERE id = ? AND syncStatus = ?`, w.now, id, syncStatusNormal)
		if err != nil {
			return err
		}
	}
	if _, err := w.exec(`UPDATE moz_places SET foreign_count = MAX(foreign_count - 1, 0)
		WHERE id = (SELECT fk FROM moz_bookmarks WHERE id = ?)`, id); err != nil {
		return err
	}
	_, err := w.exec(`DELETE FROM moz_bookmarks WHERE id = ?`, id)
	return err
}

// setTags makes the tag entries of place match tags exactly
func (w *writer) setTags(place int64, tags []string) error {
	want := map[string]bool{}
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			want[tag] = true
		}
	}

	have := map[string]bool{}
	var kept []tagEntry
	for _, e := range w.tree.tagEntries[place] {
		if !want[e.tag] || have[e.tag] {
			if err := w.removeRow(e.id); err != nil {
				return err
			}
			continue
		}
		have[e.tag] = true
		kept = append(kept, e)
	}

	for _, tag := range sortedKeys(want) {
		if have[tag] {
			continue
		}
		folder, ok := w.tree.tagFolders[tag]
		if !ok {
			id, err := w.insert(TypeFolder, sql.NullInt64{}, w.tree.tagsRoot, tag)
			if err != nil {
				return err
			}
			folder = id
			w.tree.tagFolders[tag] = id
		}
		id, err := w.insert(TypeBookmark, sql.NullInt64{Int64: place, Valid: true}, folder, "")
		if err != nil {
			return err
		}
		kept = append(kept, tagEntry{id: id, folder: folder, tag: tag})
	}
	w.tree.tagEntries[place] = kept
	return nil
}

// removeRow deletes a single childless row and closes its position gap
func (w *writer) removeRow(id int64) error {
	var parent, position int64
	err := w.tx.QueryRowContext(w.ctx, `SELECT parent, position FROM moz_bookmarks WHERE id = ?`, id).Scan(&parent, &position)
	if err != nil {
		return err
	}
	if err := w.deleteRow(id); err != nil {
		return err
	}
	return w.detach(parent, position)
}

// dropOrphanTags removes tag entries for places that no longer have any
// bookmark outside the tags root
func (w *writer) dropOrphanTags(places []int64) error {
	for _, place := range places {
		var remaining int
		err := w.tx.QueryRowContext(w.ctx, `
			SELECT COUNT(*) FROM moz_bookmarks b
			WHERE b.fk = ? AND b.type = ?
			  AND b.parent NOT IN (SELECT id FROM moz_bookmarks WHERE parent = ?)`,
			place, TypeBookmark, w.tree.tagsRoot).Scan(&remaining)
		if err != nil {
			return err
		}
		if remaining > 0 {
			continue
		}
		if err := w.setTags(place, nil); err != nil {
			return err
		}
	}
	return nil
}

// dropEmptyTagFolders deletes tag folders with no entries left
func (w *writer) dropEmptyTagFolders() error {
	rows, err := w.tx.QueryContext(w.ctx, `
		SELECT f.id FROM moz_bookmarks f
		WHERE f.parent = ? AND f.type = ?
		  AND NOT EXISTS (SELECT 1 FROM moz_bookmarks c WHERE c.parent = f.id)`, w.tree.tagsRoot, TypeFolder)
	if err != nil {
		return err
	}
	var empty []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		empty = append(empty, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range empty {
		if err := w.removeRow(id); err != nil {
			return err
		}
		for tag, folder := range w.tree.tagFolders {
			if folder == id {
				delete(w.tree.tagFolders, tag)
			}
		}
	}
	return nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
