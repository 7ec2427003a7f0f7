package places

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prismon/mcp-bookmarks/internal/models"
	"github.com/prismon/mcp-bookmarks/pkg/lockread"
	"github.com/prismon/mcp-bookmarks/pkg/storeerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	os.Setenv("GO_ENV", "test")
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const seed = `
INSERT INTO moz_places (id, url, title, rev_host, guid, url_hash, foreign_count) VALUES
	(1, 'https://go.dev/', 'Go', 'ved.og.', 'place0000001', 0, 2),
	(2, 'https://example.com/', 'Example', 'moc.elpmaxe.', 'place0000002', 0, 1),
	(3, 'https://history.example/', 'Visited only', 'elpmaxe.yrotsih.', 'place0000003', 0, 0);
INSERT INTO moz_bookmarks (id, type, fk, parent, position, title, dateAdded, lastModified, guid, syncStatus) VALUES
	(10, 2, NULL, 5, 0, 'Work', 100, 100, 'bookmark0010', 2),
	(11, 1, 1, 10, 0, 'Go', 101, 0, 'bookmark0011', 2),
	(12, 3, NULL, 10, 1, '', 102, 102, 'bookmark0012', 2),
	(13, 1, 2, 3, 0, 'Example', 103, 103, 'bookmark0013', 2),
	(20, 2, NULL, 4, 0, 'lang', 104, 104, 'bookmark0020', 2),
	(21, 1, 1, 20, 0, NULL, 105, 105, 'bookmark0021', 2);
`

func newPlacesFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "places.sqlite")
	require.NoError(t, Create(path))

	db := openDB(t, path)
	_, err := db.Exec(seed)
	require.NoError(t, err)
	for _, id := range []int64{1, 2, 3} {
		var url string
		require.NoError(t, db.QueryRow(`SELECT url FROM moz_places WHERE id = ?`, id).Scan(&url))
		_, err = db.Exec(`UPDATE moz_places SET url_hash = ? WHERE id = ?`, URLHash(url), id)
		require.NoError(t, err)
	}
	return path
}

func openDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestStore(t *testing.T, ownerRunning bool) (*Store, string) {
	t.Helper()
	path := newPlacesFile(t)
	s := NewStore("firefox", path, ownerRunning, lockread.NewReader(lockread.Options{TempDir: t.TempDir()}))
	s.now = func() time.Time { return testNow }
	return s, path
}

func ptr[T any](v T) *T { return &v }

func TestStoreSnapshot(t *testing.T) {
	s, _ := newTestStore(t, false)

	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, string(lockread.Direct), snap.AccessMethod)
	assert.False(t, snap.PossiblyStale)

	set := snap.Nodes
	assert.Equal(t, 7, set.Len(), "four roots, one folder, two bookmarks; separators and tags are not nodes")

	var titles []string
	for _, r := range set.Roots() {
		titles = append(titles, r.Title)
	}
	assert.Equal(t, []string{"Bookmarks Menu", "Bookmarks Toolbar", "Other Bookmarks", "Mobile Bookmarks"}, titles)

	goNode, ok := set.Get(11)
	require.True(t, ok)
	assert.Equal(t, "https://go.dev/", goNode.URL)
	assert.Equal(t, []string{"lang"}, goNode.Tags)
	assert.Equal(t, "Other Bookmarks/Work", goNode.Path)
	assert.Equal(t, int64(101), goNode.ModifiedAt, "missing lastModified falls back to dateAdded")

	_, ok = set.Get(20)
	assert.False(t, ok, "tag folders stay hidden")
	assert.Equal(t, []string{"lang"}, set.TagSet())
	assert.True(t, s.Capabilities().Tags)
}

func TestStoreSnapshotOwnerRunning(t *testing.T) {
	s, _ := newTestStore(t, true)

	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, string(lockread.Immutable), snap.AccessMethod)
	assert.True(t, snap.PossiblyStale)
	assert.Equal(t, 7, snap.Nodes.Len())
}

func TestStoreSnapshotInvalidStructure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.sqlite")
	db := openDB(t, path)
	_, err := db.Exec(`CREATE TABLE notes (id INTEGER PRIMARY KEY)`)
	require.NoError(t, err)

	s := NewStore("bad", path, false, lockread.NewReader(lockread.Options{TempDir: t.TempDir()}))
	_, err = s.Snapshot(context.Background())
	assert.ErrorIs(t, err, storeerr.ErrInvalidStructure)

	s, placesPath := newTestStore(t, false)
	_, err = openDB(t, placesPath).Exec(`DELETE FROM moz_bookmarks WHERE guid = ?`, GUIDUnfiled)
	require.NoError(t, err)
	_, err = s.Snapshot(context.Background())
	assert.ErrorIs(t, err, storeerr.ErrInvalidStructure)
}

func TestStoreAdd(t *testing.T) {
	s, path := newTestStore(t, false)

	res, err := s.Add(context.Background(), models.AddRequest{
		Title:      "Docs",
		URL:        "https://docs.example/",
		FolderPath: "Work/Docs",
		Tags:       []string{"ref"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Docs"}, res.CreatedFolders)
	require.NotNil(t, res.Node)
	assert.Equal(t, int64(23), res.Node.ID, "folder 22 is created first")
	assert.Equal(t, "Other Bookmarks/Work/Docs", res.Node.Path)
	assert.Equal(t, []string{"ref"}, res.Node.Tags)
	assert.Equal(t, testNow.UnixMicro(), res.Node.CreatedAt)

	db := openDB(t, path)
	var hash int64
	var revHost, guid string
	var foreign int
	require.NoError(t, db.QueryRow(`SELECT url_hash, rev_host, guid, foreign_count FROM moz_places WHERE url = ?`, "https://docs.example/").
		Scan(&hash, &revHost, &guid, &foreign))
	assert.Equal(t, URLHash("https://docs.example/"), hash)
	assert.Equal(t, "elpmaxe.scod.", revHost)
	assert.Len(t, guid, 12)
	assert.Equal(t, 2, foreign, "bookmark and tag entry")

	var position int
	require.NoError(t, db.QueryRow(`SELECT position FROM moz_bookmarks WHERE id = 22`).Scan(&position))
	assert.Equal(t, 2, position, "appended after the bookmark and the separator")
}

func TestStoreAddReusesPlace(t *testing.T) {
	s, path := newTestStore(t, false)

	res, err := s.Add(context.Background(), models.AddRequest{Title: "Visited", URL: "https://history.example/", FolderPath: "toolbar"})
	require.NoError(t, err)
	assert.Equal(t, "Bookmarks Toolbar", res.Node.Path)
	assert.Empty(t, res.CreatedFolders)

	db := openDB(t, path)
	var places, foreign int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM moz_places`).Scan(&places))
	assert.Equal(t, 3, places)
	require.NoError(t, db.QueryRow(`SELECT foreign_count FROM moz_places WHERE id = 3`).Scan(&foreign))
	assert.Equal(t, 1, foreign)
}

func TestStoreEditMove(t *testing.T) {
	s, path := newTestStore(t, false)

	res, err := s.Edit(context.Background(), models.EditRequest{
		Ref:           models.Ref{URL: "https://go.dev/"},
		NewTitle:      ptr("The Go Programming Language"),
		NewFolderPath: "menu/Archive",
		CreateFolders: ptr(true),
	})
	require.NoError(t, err)
	assert.True(t, res.Renamed)
	assert.True(t, res.Moved)
	assert.Equal(t, "Go", res.OldTitle)
	assert.Equal(t, int64(10), res.FromParentID)
	assert.Equal(t, []string{"Archive"}, res.CreatedFolders)
	assert.Equal(t, int64(11), res.Node.ID)
	assert.Equal(t, "Bookmarks Menu/Archive", res.Node.Path)
	assert.Equal(t, res.ToParentID, *res.Node.ParentID)
	assert.Equal(t, []string{"lang"}, res.Node.Tags, "tags follow the url")

	db := openDB(t, path)
	var position int
	require.NoError(t, db.QueryRow(`SELECT position FROM moz_bookmarks WHERE id = 12`).Scan(&position))
	assert.Equal(t, 0, position, "the separator closes the gap")

	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	occurrences := 0
	for _, n := range snap.Nodes.All() {
		for _, c := range n.Children {
			if c == 11 {
				occurrences++
			}
		}
	}
	assert.Equal(t, 1, occurrences)
}

func TestStoreEditRenameAndMoveUnderNewName(t *testing.T) {
	s, _ := newTestStore(t, false)
	req := models.EditRequest{
		Ref:           models.Ref{ID: ptr(int64(10))},
		NewTitle:      ptr("Shelf"),
		NewFolderPath: "Shelf/Old",
		DryRun:        true,
	}

	planned, err := s.Edit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"Shelf", "Old"}, planned.CreatedFolders)

	req.DryRun = false
	res, err := s.Edit(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Renamed)
	assert.True(t, res.Moved)
	assert.Equal(t, planned.CreatedFolders, res.CreatedFolders)
	assert.Equal(t, "Shelf", res.Node.Title)
	assert.Equal(t, "Other Bookmarks/Shelf/Old", res.Node.Path)
	assert.NotEqual(t, int64(10), res.ToParentID)
}

func TestStoreEditValidation(t *testing.T) {
	s, _ := newTestStore(t, false)
	ctx := context.Background()

	_, err := s.Edit(ctx, models.EditRequest{Ref: models.Ref{ID: ptr(int64(5))}, NewTitle: ptr("x")})
	assert.ErrorIs(t, err, storeerr.ErrValidation, "roots are fixed")

	_, err = s.Edit(ctx, models.EditRequest{Ref: models.Ref{ID: ptr(int64(10))}, NewFolderPath: "Work/Inner", CreateFolders: ptr(true)})
	assert.ErrorIs(t, err, storeerr.ErrValidation, "no moves into the own subtree")

	_, err = s.Edit(ctx, models.EditRequest{Ref: models.Ref{ID: ptr(int64(11))}, NewFolderPath: "Nowhere", CreateFolders: ptr(false)})
	assert.ErrorIs(t, err, storeerr.ErrNotFound)

	_, err = s.Edit(ctx, models.EditRequest{Ref: models.Ref{ID: ptr(int64(11)), URL: "https://example.com/"}, NewTitle: ptr("x")})
	assert.ErrorIs(t, err, storeerr.ErrValidation)
}

func TestStoreEditDryRun(t *testing.T) {
	s, path := newTestStore(t, true)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	res, err := s.Edit(context.Background(), models.EditRequest{
		Ref:      models.Ref{ID: ptr(int64(13))},
		NewTitle: ptr("Renamed"),
		DryRun:   true,
	})
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.True(t, res.Renamed)
	assert.False(t, res.Moved)
	assert.Equal(t, "Renamed", res.Node.Title)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestStoreDelete(t *testing.T) {
	s, path := newTestStore(t, false)

	dry, err := s.Delete(context.Background(), models.Ref{ID: ptr(int64(10))}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, dry.Removed)

	res, err := s.Delete(context.Background(), models.Ref{ID: ptr(int64(10))}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Removed)
	assert.Equal(t, "Work", res.Node.Title)

	db := openDB(t, path)
	var remaining int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM moz_bookmarks WHERE id IN (10, 11, 12, 20, 21)`).Scan(&remaining))
	assert.Equal(t, 0, remaining, "subtree and orphaned tag are gone")

	var foreign, places int
	require.NoError(t, db.QueryRow(`SELECT foreign_count FROM moz_places WHERE id = 1`).Scan(&foreign))
	assert.Equal(t, 0, foreign)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM moz_places`).Scan(&places))
	assert.Equal(t, 3, places, "history rows are kept")

	var tombstones int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM moz_bookmarks_deleted`).Scan(&tombstones))
	assert.Equal(t, 5, tombstones)

	_, err = s.Delete(context.Background(), models.Ref{ID: ptr(int64(2))}, false)
	assert.ErrorIs(t, err, storeerr.ErrValidation)
}

func TestStoreWritesRejectedWhileOwnerRunning(t *testing.T) {
	s, _ := newTestStore(t, true)
	ctx := context.Background()

	_, err := s.Add(ctx, models.AddRequest{Title: "x", URL: "https://x.example/"})
	assert.ErrorIs(t, err, storeerr.ErrLocked)
	assert.Equal(t, storeerr.HintCloseOwner, storeerr.HintOf(err))

	_, err = s.Delete(ctx, models.Ref{ID: ptr(int64(13))}, false)
	assert.ErrorIs(t, err, storeerr.ErrLocked)

	_, err = s.ApplyTagChanges(ctx, []models.TagChange{{NodeID: 13, New: []string{"x"}}})
	assert.ErrorIs(t, err, storeerr.ErrLocked)
}

func TestStoreApplyTagChanges(t *testing.T) {
	s, path := newTestStore(t, false)

	res, err := s.ApplyTagChanges(context.Background(), []models.TagChange{
		{NodeID: 13, New: []string{"tech", "news"}},
		{NodeID: 999, New: []string{"x"}},
		{NodeID: 11, Old: []string{"lang"}, New: nil},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempted)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, int64(999), res.Failures[0].NodeID)
	assert.Equal(t, string(storeerr.CodeNotFound), res.Failures[0].Code)

	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	n, _ := snap.Nodes.Get(13)
	assert.Equal(t, []string{"news", "tech"}, n.Tags)
	n, _ = snap.Nodes.Get(11)
	assert.Empty(t, n.Tags)
	assert.Equal(t, []string{"news", "tech"}, snap.Nodes.TagSet())

	var langFolders int
	require.NoError(t, openDB(t, path).QueryRow(`SELECT COUNT(*) FROM moz_bookmarks WHERE parent = 4 AND title = 'lang'`).Scan(&langFolders))
	assert.Equal(t, 0, langFolders, "empty tag folders are removed")
}

func TestURLHash(t *testing.T) {
	assert.Equal(t, uint32(0), HashString(""))
	assert.Equal(t, URLHash("https://go.dev/"), URLHash("https://go.dev/"))
	assert.NotEqual(t, URLHash("https://go.dev/"), URLHash("https://go.dev/doc/"))

	h := URLHash("https://go.dev/")
	assert.Equal(t, int64(HashString("https")&0xFFFF), h>>32)
	assert.Equal(t, int64(HashString("https://go.dev/")), h&0xFFFFFFFF)

	assert.Less(t, URLHash("no scheme here"), int64(1)<<32)
}

func TestReverseHost(t *testing.T) {
	assert.Equal(t, "moc.elpmaxe.www.", ReverseHost("https://WWW.Example.com:8080/path"))
	assert.Equal(t, ".", ReverseHost("place:sort=8"))
	assert.Equal(t, ".", ReverseHost("file:///tmp/x.html"))
}

func TestNewGUID(t *testing.T) {
	a, b := NewGUID(), NewGUID()
	assert.Len(t, a, 12)
	assert.NotEqual(t, a, b)
}
