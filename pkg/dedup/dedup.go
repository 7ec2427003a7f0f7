// Package dedup groups duplicate bookmarks and plans tag rewrites. It works
// purely on node slices and never touches a store.
package dedup

import (
	"sort"
	"strings"
	"unicode"

	"github.com/prismon/mcp-bookmarks/internal/models"
)

// Reasons reported on a DuplicateGroup
const (
	ReasonURL   = "url"
	ReasonTitle = "title"
)

// Options controls url normalization and title matching
type Options struct {
	// Threshold enables title matching when strictly between 0 and 1.
	// 0 and 1 both mean exact normalized url only.
	Threshold         float64
	IgnoreQuery       bool
	KeepFragment      bool
	KeepTrailingSlash bool
}

// NormalizeURL returns the comparison key for a url: lower-cased, with the
// fragment and trailing slash stripped unless kept, and the query stripped
// when ignored
func NormalizeURL(raw string, opts Options) string {
	s := strings.ToLower(strings.TrimSpace(raw))

	fragment := ""
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s, fragment = s[:i], s[i:]
	}
	query := ""
	if i := strings.IndexByte(s, '?'); i >= 0 {
		s, query = s[:i], s[i:]
	}

	if !opts.KeepTrailingSlash && strings.HasSuffix(s, "/") && !strings.HasSuffix(s, "://") {
		s = strings.TrimSuffix(s, "/")
	}
	if !opts.IgnoreQuery {
		s += query
	}
	if opts.KeepFragment {
		s += fragment
	}
	return s
}

// titleTokens splits a title into its distinct lower-case words
func titleTokens(title string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]bool, len(words))
	for _, w := range words {
		out[w] = true
	}
	return out
}

// Jaccard is |a ∩ b| / |a ∪ b| over title tokens; 0 when either side is empty
func Jaccard(a, b string) float64 {
	return jaccard(titleTokens(a), titleTokens(b))
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

type unionFind struct {
	parent []int
	score  []float64
	title  []bool
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), score: make([]float64, n), title: make([]bool, n)}
	for i := range uf.parent {
		uf.parent[i] = i
		uf.score[i] = 1
	}
	return uf
}

func (uf *unionFind) find(i int) int {
	for uf.parent[i] != i {
		uf.parent[i] = uf.parent[uf.parent[i]]
		i = uf.parent[i]
	}
	return i
}

func (uf *unionFind) union(a, b int, score float64, byTitle bool) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if rb < ra {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	uf.score[ra] = min(uf.score[ra], uf.score[rb], score)
	uf.title[ra] = uf.title[ra] || uf.title[rb] || byTitle
}

// FindDuplicates groups bookmarks whose normalized urls match, and with a
// fractional threshold also bookmarks whose titles are similar enough.
// Groups are ordered by size, largest first, then by their first node id.
func FindDuplicates(nodes []models.BookmarkNode, opts Options) []models.DuplicateGroup {
	var marks []models.BookmarkNode
	for _, n := range nodes {
		if n.Kind == models.NodeKindBookmark {
			marks = append(marks, n)
		}
	}

	uf := newUnionFind(len(marks))
	keys := make([]string, len(marks))
	firstByKey := map[string]int{}
	for i, n := range marks {
		keys[i] = NormalizeURL(n.URL, opts)
		if first, ok := firstByKey[keys[i]]; ok {
			uf.union(first, i, 1, false)
		} else {
			firstByKey[keys[i]] = i
		}
	}

	if opts.Threshold > 0 && opts.Threshold < 1 {
		tokens := make([]map[string]bool, len(marks))
		for i, n := range marks {
			tokens[i] = titleTokens(n.Title)
		}
		for i := range marks {
			for j := i + 1; j < len(marks); j++ {
				if keys[i] == keys[j] {
					continue
				}
				if s := jaccard(tokens[i], tokens[j]); s >= opts.Threshold {
					uf.union(i, j, s, true)
				}
			}
		}
	}

	members := map[int][]int{}
	var order []int
	for i := range marks {
		r := uf.find(i)
		if _, ok := members[r]; !ok {
			order = append(order, r)
		}
		members[r] = append(members[r], i)
	}

	var groups []models.DuplicateGroup
	for _, r := range order {
		idx := members[r]
		if len(idx) < 2 {
			continue
		}
		g := models.DuplicateGroup{Key: keys[idx[0]], Reason: ReasonURL, Score: uf.score[r]}
		if uf.title[r] {
			g.Reason = ReasonTitle
			g.Key = strings.ToLower(strings.TrimSpace(marks[idx[0]].Title))
		}
		for _, i := range idx {
			g.NodeIDs = append(g.NodeIDs, marks[i].ID)
		}
		groups = append(groups, g)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if len(groups[i].NodeIDs) != len(groups[j].NodeIDs) {
			return len(groups[i].NodeIDs) > len(groups[j].NodeIDs)
		}
		return groups[i].NodeIDs[0] < groups[j].NodeIDs[0]
	})
	return groups
}
