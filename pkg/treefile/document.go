// Package treefile reads and writes the Chromium-family "Bookmarks" JSON
// file used by Chrome, Edge and Brave.
//
// The whole file is parsed into a Document, mutated in memory and written
// back in one atomic replace. Keys this package does not understand are kept
// and written back unchanged.
package treefile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prismon/mcp-bookmarks/internal/models"
	"github.com/prismon/mcp-bookmarks/pkg/nodeset"
	"github.com/prismon/mcp-bookmarks/pkg/storeerr"
)

// Root container keys, in walk order
const (
	RootBookmarkBar = "bookmark_bar"
	RootOther       = "other"
	RootSynced      = "synced"
)

// RootKeys lists the root containers in the order they are walked
var RootKeys = []string{RootBookmarkBar, RootOther, RootSynced}

var requiredRoots = []string{RootBookmarkBar, RootOther}

// Node types as written in the file
const (
	TypeURL    = "url"
	TypeFolder = "folder"
)

// webkitEpochOffset is the number of microseconds between 1601-01-01 and 1970-01-01
const webkitEpochOffset = 11644473600000000

// WebKitTime converts t to microseconds since 1601-01-01
func WebKitTime(t time.Time) int64 {
	return t.UnixMicro() + webkitEpochOffset
}

// Node is a folder or url entry in the file
type Node struct {
	ID           int64
	GUID         string
	Name         string
	Type         string
	URL          string
	DateAdded    string
	DateModified string
	Children     []*Node

	extra map[string]json.RawMessage
}

// IsFolder reports whether the node is a folder
func (n *Node) IsFolder() bool {
	return n.Type == TypeFolder
}

// Document is a parsed Bookmarks file
type Document struct {
	Roots map[string]*Node

	rootsExtra map[string]json.RawMessage
	extra      map[string]json.RawMessage
}

// NewDocument returns an empty store with the standard roots
func NewDocument(now time.Time) *Document {
	ts := strconv.FormatInt(WebKitTime(now), 10)
	mk := func(id int64, guid, name string) *Node {
		return &Node{ID: id, GUID: guid, Name: name, Type: TypeFolder, DateAdded: ts, DateModified: "0", Children: []*Node{}}
	}
	return &Document{
		Roots: map[string]*Node{
			RootBookmarkBar: mk(1, "0bc5d13f-2cba-5d74-951f-3f233fe6c908", "Bookmarks bar"),
			RootOther:       mk(2, "82b081ec-3dd3-529c-8475-ab6c344590dd", "Other bookmarks"),
			RootSynced:      mk(3, "4cf2e351-0e85-532b-bb37-df045d8f8d0f", "Mobile bookmarks"),
		},
		extra: map[string]json.RawMessage{"version": json.RawMessage("1")},
	}
}

// Parse decodes a Bookmarks file. Unparsable content is Corrupt; valid JSON
// without the expected roots, or with malformed nodes, is InvalidStructure.
func Parse(data []byte) (*Document, error) {
	var value interface{}
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, storeerr.Corrupt(err, "bookmarks file is not valid JSON")
	}
	if _, ok := value.(map[string]interface{}); !ok {
		return nil, storeerr.InvalidStructure("bookmarks file is not a JSON object")
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, storeerr.Corrupt(err, "bookmarks file is not valid JSON")
	}

	rawRoots, ok := top["roots"]
	if !ok {
		return nil, storeerr.InvalidStructure("bookmarks file has no roots object")
	}
	var roots map[string]json.RawMessage
	if err := json.Unmarshal(rawRoots, &roots); err != nil {
		return nil, storeerr.InvalidStructure("roots is not an object")
	}

	doc := &Document{
		Roots:      map[string]*Node{},
		rootsExtra: map[string]json.RawMessage{},
		extra:      map[string]json.RawMessage{},
	}
	for k, v := range top {
		if k == "roots" || k == "checksum" {
			continue
		}
		doc.extra[k] = v
	}

	for k, raw := range roots {
		if !isRootKey(k) {
			doc.rootsExtra[k] = raw
			continue
		}
		n, err := parseNode(raw)
		if err != nil {
			return nil, fmt.Errorf("root %s: %w", k, err)
		}
		if !n.IsFolder() {
			return nil, storeerr.InvalidStructure("root %s is not a folder", k)
		}
		doc.Roots[k] = n
	}

	for _, k := range requiredRoots {
		if _, ok := doc.Roots[k]; !ok {
			return nil, storeerr.InvalidStructure("bookmarks file is missing root %q", k)
		}
	}

	return doc, nil
}

func isRootKey(k string) bool {
	for _, r := range RootKeys {
		if r == k {
			return true
		}
	}
	return false
}

func parseNode(raw json.RawMessage) (*Node, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, storeerr.InvalidStructure("node is not an object")
	}

	n := &Node{extra: map[string]json.RawMessage{}}
	var idText string
	for k, v := range fields {
		var err error
		switch k {
		case "id":
			idText, err = stringOrNumber(v)
		case "guid":
			err = json.Unmarshal(v, &n.GUID)
		case "name":
			err = json.Unmarshal(v, &n.Name)
		case "type":
			err = json.Unmarshal(v, &n.Type)
		case "url":
			err = json.Unmarshal(v, &n.URL)
		case "date_added":
			n.DateAdded, err = stringOrNumber(v)
		case "date_modified":
			n.DateModified, err = stringOrNumber(v)
		case "children":
			var children []json.RawMessage
			if err = json.Unmarshal(v, &children); err == nil {
				n.Children = make([]*Node, 0, len(children))
				for _, c := range children {
					child, cerr := parseNode(c)
					if cerr != nil {
						return nil, cerr
					}
					n.Children = append(n.Children, child)
				}
			}
		default:
			n.extra[k] = v
		}
		if err != nil {
			return nil, storeerr.InvalidStructure("node field %q is malformed", k)
		}
	}

	id, err := strconv.ParseInt(idText, 10, 64)
	if err != nil {
		return nil, storeerr.InvalidStructure("node id %q is not an integer", idText)
	}
	n.ID = id

	switch n.Type {
	case TypeFolder:
		if n.Children == nil {
			n.Children = []*Node{}
		}
	case TypeURL:
		if n.URL == "" {
			return nil, storeerr.InvalidStructure("url node %d has no url", n.ID)
		}
		if len(n.Children) > 0 {
			return nil, storeerr.InvalidStructure("url node %d has children", n.ID)
		}
	default:
		return nil, storeerr.InvalidStructure("node %d has unknown type %q", n.ID, n.Type)
	}
	return n, nil
}

func stringOrNumber(v json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s, nil
	}
	var num json.Number
	dec := json.NewDecoder(bytes.NewReader(v))
	dec.UseNumber()
	if err := dec.Decode(&num); err != nil {
		return "", err
	}
	return num.String(), nil
}

// Serialize encodes the document the way the browser writes it: sorted keys,
// three-space indentation and no checksum
func (d *Document) Serialize() ([]byte, error) {
	roots := map[string]interface{}{}
	for k, v := range d.rootsExtra {
		roots[k] = v
	}
	for k, n := range d.Roots {
		roots[k] = n.generic()
	}

	top := map[string]interface{}{}
	for k, v := range d.extra {
		top[k] = v
	}
	top["roots"] = roots
	if _, ok := top["version"]; !ok {
		top["version"] = 1
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "   ")
	if err := enc.Encode(top); err != nil {
		return nil, fmt.Errorf("failed to encode bookmarks: %w", err)
	}
	return buf.Bytes(), nil
}

func (n *Node) generic() map[string]interface{} {
	out := make(map[string]interface{}, len(n.extra)+8)
	for k, v := range n.extra {
		out[k] = v
	}
	out["id"] = strconv.FormatInt(n.ID, 10)
	out["name"] = n.Name
	out["type"] = n.Type
	out["date_added"] = n.DateAdded
	if n.GUID != "" {
		out["guid"] = n.GUID
	}
	if n.IsFolder() {
		children := make([]interface{}, 0, len(n.Children))
		for _, c := range n.Children {
			children = append(children, c.generic())
		}
		out["children"] = children
		if n.DateModified != "" {
			out["date_modified"] = n.DateModified
		}
	} else {
		out["url"] = n.URL
		if n.DateModified != "" {
			out["date_modified"] = n.DateModified
		}
	}
	return out
}

// Load reads and parses the file at path
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, storeerr.FromFS(err, path)
	}
	return Parse(data)
}

// Save writes the document to path by replacing the file atomically
func (d *Document) Save(path string) error {
	data, err := d.Serialize()
	if err != nil {
		return err
	}

	mode := os.FileMode(0600)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return storeerr.FromFS(err, dir)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return storeerr.FromFS(err, tmpPath)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return storeerr.FromFS(err, tmpPath)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return storeerr.FromFS(err, tmpPath)
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		os.Remove(tmpPath)
		return storeerr.FromFS(err, tmpPath)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return storeerr.FromFS(err, path)
	}
	return nil
}

// walk visits every node in root order, pre-order within each root
func (d *Document) walk(fn func(n, parent *Node) bool) {
	var visit func(n, parent *Node) bool
	visit = func(n, parent *Node) bool {
		if !fn(n, parent) {
			return false
		}
		for _, c := range n.Children {
			if !visit(c, n) {
				return false
			}
		}
		return true
	}
	for _, k := range RootKeys {
		if root, ok := d.Roots[k]; ok {
			if !visit(root, nil) {
				return
			}
		}
	}
}

// NextID returns one more than the largest id reachable from any root, or 1
// for an empty store
func (d *Document) NextID() int64 {
	var max int64
	d.walk(func(n, _ *Node) bool {
		if n.ID > max {
			max = n.ID
		}
		return true
	})
	return max + 1
}

// Find returns the node with id and its parent (nil for roots)
func (d *Document) Find(id int64) (node, parent *Node) {
	d.walk(func(n, p *Node) bool {
		if n.ID == id {
			node, parent = n, p
			return false
		}
		return true
	})
	return node, parent
}

// IsRoot reports whether n is one of the root containers
func (d *Document) IsRoot(n *Node) bool {
	for _, r := range d.Roots {
		if r == n {
			return true
		}
	}
	return false
}

// DefaultRoot is where folder paths start: "other", or the bookmark bar when
// the file has no "other" root
func (d *Document) DefaultRoot() *Node {
	if n, ok := d.Roots[RootOther]; ok {
		return n
	}
	return d.Roots[RootBookmarkBar]
}

// startFolder picks the root a folder path starts from. A first segment that
// names a root (by key or display name) selects that root.
func (d *Document) startFolder(segments []string) (*Node, []string) {
	if len(segments) > 0 {
		for _, k := range RootKeys {
			root, ok := d.Roots[k]
			if !ok {
				continue
			}
			if strings.EqualFold(segments[0], k) || strings.EqualFold(segments[0], root.Name) {
				return root, segments[1:]
			}
		}
	}
	return d.DefaultRoot(), segments
}

// LookupFolderPath resolves path without creating anything. It returns the
// deepest existing folder and the segments that are missing below it.
func (d *Document) LookupFolderPath(path string) (*Node, []string) {
	cur, segments := d.startFolder(nodeset.SplitPath(path))
	for i, seg := range segments {
		next := childFolder(cur, seg)
		if next == nil {
			return cur, segments[i:]
		}
		cur = next
	}
	return cur, nil
}

func childFolder(parent *Node, title string) *Node {
	for _, c := range parent.Children {
		if c.IsFolder() && c.Name == title {
			return c
		}
	}
	return nil
}

// EnsureFolderPath resolves path, creating missing folders. The first
// same-named sibling folder is reused at every level. It returns the final
// folder and the titles of the folders it created.
func (d *Document) EnsureFolderPath(path string, now time.Time) (*Node, []string) {
	cur, missing := d.LookupFolderPath(path)
	for _, seg := range missing {
		folder := d.newNode(TypeFolder, seg, "", now)
		folder.DateModified = "0"
		folder.Children = []*Node{}
		d.appendChild(cur, folder, now)
		cur = folder
	}
	return cur, missing
}

func (d *Document) newNode(typ, name, url string, now time.Time) *Node {
	return &Node{
		ID:        d.NextID(),
		GUID:      uuid.NewString(),
		Name:      name,
		Type:      typ,
		URL:       url,
		DateAdded: strconv.FormatInt(WebKitTime(now), 10),
		extra:     map[string]json.RawMessage{},
	}
}

func (d *Document) appendChild(parent, child *Node, now time.Time) {
	parent.Children = append(parent.Children, child)
	parent.DateModified = strconv.FormatInt(WebKitTime(now), 10)
}

// AddBookmark appends a new url node to parent
func (d *Document) AddBookmark(parent *Node, title, url string, now time.Time) *Node {
	n := d.newNode(TypeURL, title, url, now)
	d.appendChild(parent, n, now)
	return n
}

// Rename sets the display name of node id
func (d *Document) Rename(id int64, title string) error {
	n, _ := d.Find(id)
	if n == nil {
		return storeerr.NotFound("node %d not found", id)
	}
	n.Name = title
	return nil
}

// Move detaches node id from its parent and appends it to dest
func (d *Document) Move(id int64, dest *Node, now time.Time) error {
	n, parent := d.Find(id)
	if n == nil {
		return storeerr.NotFound("node %d not found", id)
	}
	if parent == nil {
		return storeerr.Validation("root folders cannot be moved")
	}
	if !dest.IsFolder() {
		return storeerr.Validation("destination %d is not a folder", dest.ID)
	}
	if n == dest || contains(n, dest) {
		return storeerr.Validation("cannot move folder %d into itself", id)
	}
	detach(parent, n, now)
	d.appendChild(dest, n, now)
	return nil
}

// Remove deletes node id and its subtree, returning the number of nodes removed
func (d *Document) Remove(id int64, now time.Time) (int, error) {
	n, parent := d.Find(id)
	if n == nil {
		return 0, storeerr.NotFound("node %d not found", id)
	}
	if parent == nil {
		return 0, storeerr.Validation("root folders cannot be deleted")
	}
	detach(parent, n, now)
	return count(n), nil
}

func detach(parent, n *Node, now time.Time) {
	for i, c := range parent.Children {
		if c == n {
			parent.Children = append(parent.Children[:i:i], parent.Children[i+1:]...)
			break
		}
	}
	parent.DateModified = strconv.FormatInt(WebKitTime(now), 10)
}

func contains(ancestor, n *Node) bool {
	for _, c := range ancestor.Children {
		if c == n || contains(c, n) {
			return true
		}
	}
	return false
}

func count(n *Node) int {
	total := 1
	for _, c := range n.Children {
		total += count(c)
	}
	return total
}

// ToNodes flattens the document into normalized nodes, roots in walk order
// and children in file order
func (d *Document) ToNodes() []models.BookmarkNode {
	var out []models.BookmarkNode
	d.walk(func(n, parent *Node) bool {
		node := models.BookmarkNode{
			ID:        n.ID,
			Title:     n.Name,
			CreatedAt: parseTime(n.DateAdded),
		}
		node.ModifiedAt = parseTime(n.DateModified)
		if node.ModifiedAt == 0 {
			node.ModifiedAt = node.CreatedAt
		}
		if parent != nil {
			pid := parent.ID
			node.ParentID = &pid
		}
		if n.IsFolder() {
			node.Kind = models.NodeKindFolder
		} else {
			node.Kind = models.NodeKindBookmark
			node.URL = n.URL
		}
		out = append(out, node)
		return true
	})
	return out
}

// NodeSet builds a validated node set from the document
func (d *Document) NodeSet() (*nodeset.Set, error) {
	return nodeset.FromNodes(d.ToNodes())
}

func parseTime(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
