package dedup

import (
	"sort"
	"strings"

	"github.com/prismon/mcp-bookmarks/internal/models"
)

// TagUsage counts how many bookmarks carry each tag, most used first
func TagUsage(nodes []models.BookmarkNode) []models.TagCount {
	counts := map[string]int{}
	for _, n := range nodes {
		if n.Kind != models.NodeKindBookmark {
			continue
		}
		for _, t := range uniqueTags(n.Tags) {
			counts[t]++
		}
	}

	out := make([]models.TagCount, 0, len(counts))
	for t, c := range counts {
		out = append(out, models.TagCount{Tag: t, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	return out
}

// PlanMerge rewrites every bookmark carrying one of sources so that it
// carries target instead. Bookmarks that already match are left out, so a
// plan computed after a successful merge is empty.
func PlanMerge(nodes []models.BookmarkNode, sources []string, target string) []models.TagChange {
	target = strings.TrimSpace(target)
	drop := map[string]bool{}
	for _, s := range sources {
		if s = strings.TrimSpace(s); s != "" && s != target {
			drop[s] = true
		}
	}
	if len(drop) == 0 {
		return nil
	}

	var changes []models.TagChange
	for _, n := range nodes {
		if n.Kind != models.NodeKindBookmark || !hasAny(n.Tags, drop) {
			continue
		}
		next := []string{target}
		for _, t := range n.Tags {
			if !drop[t] {
				next = append(next, t)
			}
		}
		changes = append(changes, models.TagChange{NodeID: n.ID, Old: uniqueTags(n.Tags), New: uniqueTags(next)})
	}
	return changes
}

// PlanCleanup removes every tag used by fewer than minCount bookmarks. The
// removed tags are returned as candidates with their counts.
func PlanCleanup(nodes []models.BookmarkNode, minCount int) ([]models.TagChange, []models.TagCount) {
	drop := map[string]bool{}
	var candidates []models.TagCount
	for _, tc := range TagUsage(nodes) {
		if tc.Count < minCount {
			drop[tc.Tag] = true
			candidates = append(candidates, tc)
		}
	}
	if len(drop) == 0 {
		return nil, nil
	}

	var changes []models.TagChange
	for _, n := range nodes {
		if n.Kind != models.NodeKindBookmark || !hasAny(n.Tags, drop) {
			continue
		}
		var next []string
		for _, t := range n.Tags {
			if !drop[t] {
				next = append(next, t)
			}
		}
		changes = append(changes, models.TagChange{NodeID: n.ID, Old: uniqueTags(n.Tags), New: uniqueTags(next)})
	}
	return changes, candidates
}

func hasAny(tags []string, set map[string]bool) bool {
	for _, t := range tags {
		if set[t] {
			return true
		}
	}
	return false
}

// uniqueTags returns the sorted distinct non-empty tags
func uniqueTags(tags []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, t := range tags {
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}
