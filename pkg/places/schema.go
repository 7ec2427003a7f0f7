// Package places implements the relational bookmark store backend over the
// Firefox places.sqlite schema.
package places

import (
	"database/sql"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Root folder guids
const (
	GUIDRoot    = "root________"
	GUIDMenu    = "menu________"
	GUIDToolbar = "toolbar_____"
	GUIDTags    = "tags________"
	GUIDUnfiled = "unfiled_____"
	GUIDMobile  = "mobile______"
)

// moz_bookmarks.type values
const (
	TypeBookmark  = 1
	TypeFolder    = 2
	TypeSeparator = 3
)

// Sync status values written to moz_bookmarks.syncStatus
const (
	syncStatusNew    = 1
	syncStatusNormal = 2
)

type rootInfo struct {
	guid    string
	short   string
	display string
}

// visibleRoots are the roots exposed as tree roots, in display order
var visibleRoots = []rootInfo{
	{GUIDMenu, "menu", "Bookmarks Menu"},
	{GUIDToolbar, "toolbar", "Bookmarks Toolbar"},
	{GUIDUnfiled, "unfiled", "Other Bookmarks"},
	{GUIDMobile, "mobile", "Mobile Bookmarks"},
}

var requiredRootGUIDs = []string{GUIDRoot, GUIDMenu, GUIDToolbar, GUIDTags, GUIDUnfiled}

// schema is the subset of the browser's places schema this package reads and writes
const schema = `
CREATE TABLE moz_places (
	id INTEGER PRIMARY KEY,
	url LONGVARCHAR,
	title LONGVARCHAR,
	rev_host LONGVARCHAR,
	visit_count INTEGER DEFAULT 0,
	hidden INTEGER DEFAULT 0 NOT NULL,
	typed INTEGER DEFAULT 0 NOT NULL,
	frecency INTEGER DEFAULT -1 NOT NULL,
	last_visit_date INTEGER,
	guid TEXT,
	foreign_count INTEGER DEFAULT 0 NOT NULL,
	url_hash INTEGER DEFAULT 0 NOT NULL,
	description TEXT,
	preview_image_url TEXT,
	origin_id INTEGER
);
CREATE INDEX moz_places_url_hashindex ON moz_places (url_hash);
CREATE UNIQUE INDEX moz_places_guid_uniqueindex ON moz_places (guid);
CREATE TABLE moz_bookmarks (
	id INTEGER PRIMARY KEY,
	type INTEGER,
	fk INTEGER DEFAULT NULL,
	parent INTEGER,
	position INTEGER,
	title LONGVARCHAR,
	keyword_id INTEGER,
	folder_type TEXT,
	dateAdded INTEGER,
	lastModified INTEGER,
	guid TEXT,
	syncStatus INTEGER NOT NULL DEFAULT 0,
	syncChangeCounter INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX moz_bookmarks_itemindex ON moz_bookmarks (fk, type);
CREATE INDEX moz_bookmarks_parentindex ON moz_bookmarks (parent, position);
CREATE UNIQUE INDEX moz_bookmarks_guid_uniqueindex ON moz_bookmarks (guid);
CREATE TABLE moz_bookmarks_deleted (
	guid TEXT PRIMARY KEY,
	dateRemoved INTEGER NOT NULL DEFAULT 0
);
`

// Create writes an empty places database with the standard roots at path.
// The file must not exist yet.
func Create(path string) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	now := time.Now().UnixMicro()
	roots := []struct {
		id       int64
		parent   int64
		position int
		title    string
		guid     string
	}{
		{1, 0, 0, "", GUIDRoot},
		{2, 1, 0, "menu", GUIDMenu},
		{3, 1, 1, "toolbar", GUIDToolbar},
		{4, 1, 2, "tags", GUIDTags},
		{5, 1, 3, "unfiled", GUIDUnfiled},
		{6, 1, 4, "mobile", GUIDMobile},
	}
	for _, r := range roots {
		_, err := db.Exec(`INSERT INTO moz_bookmarks (id, type, parent, position, title, dateAdded, lastModified, guid, syncStatus, syncChangeCounter)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			r.id, TypeFolder, r.parent, r.position, r.title, now, now, r.guid, syncStatusNormal)
		if err != nil {
			return fmt.Errorf("failed to create root %s: %w", r.guid, err)
		}
	}
	return nil
}

const goldenRatioU32 = 0x9E3779B9

func addToHash(h uint32, v uint32) uint32 {
	return goldenRatioU32 * (((h << 5) | (h >> 27)) ^ v)
}

// HashString is the browser's 32-bit string hash over bytes
func HashString(s string) uint32 {
	var h uint32
	for i := 0; i < len(s); i++ {
		h = addToHash(h, uint32(s[i]))
	}
	return h
}

const (
	maxCharsToHash  = 1500
	maxPrefixLength = 50
)

// URLHash computes moz_places.url_hash: a 32-bit hash of the url with the
// low 16 bits of the scheme's hash in bits 32..47
func URLHash(rawURL string) int64 {
	head := rawURL
	if len(head) > maxCharsToHash {
		head = head[:maxCharsToHash]
	}
	hash := uint64(HashString(head))

	prefix := rawURL
	if len(prefix) > maxPrefixLength {
		prefix = prefix[:maxPrefixLength]
	}
	if i := strings.IndexByte(prefix, ':'); i >= 0 {
		hash += uint64(HashString(prefix[:i])&0x0000FFFF) << 32
	}
	return int64(hash)
}

// ReverseHost returns the reversed, lower-cased host with a trailing dot, as
// stored in moz_places.rev_host
func ReverseHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "."
	}
	host := strings.ToLower(u.Hostname())
	b := make([]byte, 0, len(host)+1)
	for i := len(host) - 1; i >= 0; i-- {
		b = append(b, host[i])
	}
	return string(append(b, '.'))
}

// NewGUID returns a 12-character url-safe guid like the browser generates
func NewGUID() string {
	id := uuid.New()
	return base64.RawURLEncoding.EncodeToString(id[:9])
}
