// Package nodeset holds the normalized in-memory bookmark tree that both
// store backends produce. A Set is rebuilt from the store on every read and
// is never mutated after construction.
package nodeset

import (
	"sort"
	"strings"

	"github.com/prismon/mcp-bookmarks/internal/models"
	"github.com/prismon/mcp-bookmarks/pkg/storeerr"
)

// Snapshot is a node set together with how it was read
type Snapshot struct {
	Nodes         *Set
	AccessMethod  string
	PossiblyStale bool
}

// Set is an immutable, validated node tree
type Set struct {
	nodes map[int64]*models.BookmarkNode
	roots []int64
}

// FromNodes links nodes into a tree. Children are ordered as the nodes appear
// in the input. Nodes without a parent are roots.
func FromNodes(nodes []models.BookmarkNode) (*Set, error) {
	s := &Set{nodes: make(map[int64]*models.BookmarkNode, len(nodes))}

	for i := range nodes {
		n := nodes[i]
		if _, dup := s.nodes[n.ID]; dup {
			return nil, storeerr.InvalidStructure("duplicate node id %d", n.ID)
		}
		switch n.Kind {
		case models.NodeKindBookmark:
			if n.URL == "" {
				return nil, storeerr.InvalidStructure("bookmark %d has no url", n.ID)
			}
		case models.NodeKindFolder:
			if n.URL != "" {
				return nil, storeerr.InvalidStructure("folder %d carries a url", n.ID)
			}
		default:
			return nil, storeerr.InvalidStructure("node %d has unknown kind %q", n.ID, n.Kind)
		}
		n.Children = nil
		n.Path = ""
		s.nodes[n.ID] = &n
	}

	for i := range nodes {
		n := s.nodes[nodes[i].ID]
		if n.ParentID == nil {
			s.roots = append(s.roots, n.ID)
			continue
		}
		parent, ok := s.nodes[*n.ParentID]
		if !ok {
			return nil, storeerr.InvalidStructure("node %d references missing parent %d", n.ID, *n.ParentID)
		}
		if parent.Kind != models.NodeKindFolder {
			return nil, storeerr.InvalidStructure("node %d is a child of bookmark %d", n.ID, parent.ID)
		}
		parent.Children = append(parent.Children, n.ID)
	}

	// Every node must be reachable from a root; anything else is a cycle
	reached := 0
	for _, root := range s.roots {
		s.walk(root, "", func(n *models.BookmarkNode, path string) {
			n.Path = path
			reached++
		})
	}
	if reached != len(s.nodes) {
		return nil, storeerr.InvalidStructure("%d nodes are not reachable from any root", len(s.nodes)-reached)
	}

	return s, nil
}

func (s *Set) walk(id int64, path string, fn func(n *models.BookmarkNode, path string)) {
	n := s.nodes[id]
	fn(n, path)
	if n.Kind != models.NodeKindFolder {
		return
	}
	childPath := n.Title
	if path != "" {
		childPath = path + "/" + n.Title
	}
	for _, c := range n.Children {
		s.walk(c, childPath, fn)
	}
}

func clone(n *models.BookmarkNode) models.BookmarkNode {
	out := *n
	if n.ParentID != nil {
		p := *n.ParentID
		out.ParentID = &p
	}
	out.Children = append([]int64(nil), n.Children...)
	out.Tags = append([]string(nil), n.Tags...)
	return out
}

// Len returns the number of nodes
func (s *Set) Len() int {
	return len(s.nodes)
}

// Get returns a copy of the node with id
func (s *Set) Get(id int64) (models.BookmarkNode, bool) {
	n, ok := s.nodes[id]
	if !ok {
		return models.BookmarkNode{}, false
	}
	return clone(n), true
}

// Roots returns the synthetic root folders in store order
func (s *Set) Roots() []models.BookmarkNode {
	out := make([]models.BookmarkNode, 0, len(s.roots))
	for _, id := range s.roots {
		out = append(out, clone(s.nodes[id]))
	}
	return out
}

// Children returns the direct children of a folder
func (s *Set) Children(id int64) []models.BookmarkNode {
	n, ok := s.nodes[id]
	if !ok {
		return nil
	}
	out := make([]models.BookmarkNode, 0, len(n.Children))
	for _, c := range n.Children {
		out = append(out, clone(s.nodes[c]))
	}
	return out
}

// All returns every node in pre-order, roots in store order
func (s *Set) All() []models.BookmarkNode {
	out := make([]models.BookmarkNode, 0, len(s.nodes))
	for _, root := range s.roots {
		s.walk(root, s.nodes[root].Path, func(n *models.BookmarkNode, _ string) {
			out = append(out, clone(n))
		})
	}
	return out
}

// Bookmarks returns the bookmarks under root in pre-order, or every bookmark
// in the store when root is nil
func (s *Set) Bookmarks(root *int64) ([]models.BookmarkNode, error) {
	starts := s.roots
	if root != nil {
		if _, ok := s.nodes[*root]; !ok {
			return nil, storeerr.NotFound("folder %d not found", *root)
		}
		starts = []int64{*root}
	}

	var out []models.BookmarkNode
	for _, id := range starts {
		s.walk(id, s.nodes[id].Path, func(n *models.BookmarkNode, _ string) {
			if n.Kind == models.NodeKindBookmark {
				out = append(out, clone(n))
			}
		})
	}
	return out, nil
}

// FindByURL returns bookmarks whose url is exactly url, in pre-order
func (s *Set) FindByURL(url string) []models.BookmarkNode {
	var out []models.BookmarkNode
	all, _ := s.Bookmarks(nil)
	for _, n := range all {
		if n.URL == url {
			out = append(out, n)
		}
	}
	return out
}

// HasURL reports whether any bookmark carries url
func (s *Set) HasURL(url string) bool {
	for _, n := range s.nodes {
		if n.Kind == models.NodeKindBookmark && n.URL == url {
			return true
		}
	}
	return false
}

// MaxID returns the largest node id, or 0 for an empty set
func (s *Set) MaxID() int64 {
	var max int64
	for id := range s.nodes {
		if id > max {
			max = id
		}
	}
	return max
}

// IsAncestor reports whether ancestor is a strict ancestor of id
func (s *Set) IsAncestor(ancestor, id int64) bool {
	n, ok := s.nodes[id]
	for ok && n.ParentID != nil {
		if *n.ParentID == ancestor {
			return true
		}
		n, ok = s.nodes[*n.ParentID]
	}
	return false
}

// Subtree returns id followed by all its descendants in pre-order
func (s *Set) Subtree(id int64) []int64 {
	if _, ok := s.nodes[id]; !ok {
		return nil
	}
	var out []int64
	s.walk(id, "", func(n *models.BookmarkNode, _ string) {
		out = append(out, n.ID)
	})
	return out
}

// Depth returns the number of ancestors of id
func (s *Set) Depth(id int64) int {
	depth := 0
	n, ok := s.nodes[id]
	for ok && n.ParentID != nil {
		depth++
		n, ok = s.nodes[*n.ParentID]
	}
	return depth
}

// Resolve finds the node a Ref points at. A url resolves to the first
// matching bookmark in pre-order. When both id and url are given they must
// name the same node.
func (s *Set) Resolve(ref models.Ref) (models.BookmarkNode, error) {
	if ref.Empty() {
		return models.BookmarkNode{}, storeerr.Validation("either id or url is required")
	}

	if ref.ID != nil {
		n, ok := s.Get(*ref.ID)
		if !ok {
			return models.BookmarkNode{}, storeerr.NotFound("node %d not found", *ref.ID)
		}
		if ref.URL != "" && n.URL != ref.URL {
			return models.BookmarkNode{}, storeerr.Validation("node %d does not have url %s", *ref.ID, ref.URL)
		}
		return n, nil
	}

	matches := s.FindByURL(ref.URL)
	if len(matches) == 0 {
		return models.BookmarkNode{}, storeerr.NotFound("no bookmark with url %s", ref.URL)
	}
	return matches[0], nil
}

// ResolveFolderPath walks path segments down from start, taking the first
// same-titled child folder at each level. It returns the deepest folder
// reached and the segments that do not exist yet.
func (s *Set) ResolveFolderPath(start int64, path string) (int64, []string) {
	segments := SplitPath(path)
	cur := start
	for i, seg := range segments {
		next, ok := s.childFolder(cur, seg)
		if !ok {
			return cur, segments[i:]
		}
		cur = next
	}
	return cur, nil
}

func (s *Set) childFolder(parent int64, title string) (int64, bool) {
	n, ok := s.nodes[parent]
	if !ok {
		return 0, false
	}
	for _, c := range n.Children {
		child := s.nodes[c]
		if child.Kind == models.NodeKindFolder && child.Title == title {
			return c, true
		}
	}
	return 0, false
}

// RootByTitle returns the root whose title matches, ignoring case
func (s *Set) RootByTitle(title string) (int64, bool) {
	for _, id := range s.roots {
		if strings.EqualFold(s.nodes[id].Title, title) {
			return id, true
		}
	}
	return 0, false
}

// SplitPath splits a slash-separated folder path, dropping empty segments
func SplitPath(path string) []string {
	var out []string
	for _, seg := range strings.Split(path, "/") {
		seg = strings.TrimSpace(seg)
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// TagSet returns the sorted distinct tags used by any bookmark
func (s *Set) TagSet() []string {
	seen := map[string]bool{}
	for _, n := range s.nodes {
		for _, t := range n.Tags {
			seen[t] = true
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
