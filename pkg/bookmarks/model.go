// Package bookmarks is the store-independent bookmark model. A Model wraps
// one backend and re-reads it on every call; nothing is cached between calls.
package bookmarks

import (
	"context"
	"sort"
	"strings"

	"github.com/prismon/mcp-bookmarks/internal/models"
	"github.com/prismon/mcp-bookmarks/pkg/dedup"
	"github.com/prismon/mcp-bookmarks/pkg/logger"
	"github.com/prismon/mcp-bookmarks/pkg/nodeset"
	"github.com/prismon/mcp-bookmarks/pkg/storeerr"
	"github.com/sirupsen/logrus"
)

// Backend is implemented once per store kind
type Backend interface {
	// ID identifies the underlying file; two backends with the same ID are the same store
	ID() string
	Kind() models.StoreKind
	Capabilities() models.Capabilities
	Snapshot(ctx context.Context) (*nodeset.Snapshot, error)
	Add(ctx context.Context, req models.AddRequest) (*models.AddResult, error)
	Edit(ctx context.Context, req models.EditRequest) (*models.EditResult, error)
	Delete(ctx context.Context, ref models.Ref, dryRun bool) (*models.DeleteResult, error)
	ApplyTagChanges(ctx context.Context, changes []models.TagChange) (*models.BatchResult, error)
}

// Search fields
const (
	FieldTitle = "title"
	FieldURL   = "url"
	FieldTags  = "tags"
)

var fieldScores = map[string]int{FieldTitle: 3, FieldURL: 2, FieldTags: 1}

// Model exposes the bookmark operations of one named store
type Model struct {
	name    string
	backend Backend
	dedup   dedup.Options
	log     *logrus.Entry
}

// NewModel wraps backend. dupOpts are the defaults for FindDuplicates.
func NewModel(name string, backend Backend, dupOpts dedup.Options) *Model {
	return &Model{
		name:    name,
		backend: backend,
		dedup:   dupOpts,
		log:     logger.WithName("bookmarks").WithField("store", name),
	}
}

func (m *Model) Name() string {
	return m.name
}

// ID identifies the store file
func (m *Model) ID() string {
	return m.backend.ID()
}

func (m *Model) Kind() models.StoreKind {
	return m.backend.Kind()
}

func (m *Model) Capabilities() models.Capabilities {
	return m.backend.Capabilities()
}

// Snapshot reads the whole tree of the store
func (m *Model) Snapshot(ctx context.Context) (*nodeset.Snapshot, error) {
	snap, err := m.backend.Snapshot(ctx)
	if err != nil {
		m.log.WithError(err).Debug("Snapshot failed")
		return nil, err
	}
	return snap, nil
}

// List returns every bookmark under folderID, or under all roots when nil,
// in tree order
func (m *Model) List(ctx context.Context, folderID *int64) (*models.ListResult, error) {
	snap, err := m.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	nodes, err := snap.Nodes.Bookmarks(folderID)
	if err != nil {
		return nil, err
	}
	if nodes == nil {
		nodes = []models.BookmarkNode{}
	}
	return &models.ListResult{Nodes: nodes, AccessMethod: snap.AccessMethod, PossiblyStale: snap.PossiblyStale}, nil
}

// Get resolves a single node by id or url
func (m *Model) Get(ctx context.Context, ref models.Ref) (*models.BookmarkNode, error) {
	if ref.Empty() {
		return nil, storeerr.Validation("either id or url is required")
	}
	snap, err := m.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	n, err := snap.Nodes.Resolve(ref)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// Add creates a bookmark. Unless duplicates are allowed, an add for a url
// that is already bookmarked changes nothing and reports Duplicate.
func (m *Model) Add(ctx context.Context, req models.AddRequest) (*models.AddResult, error) {
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		return nil, storeerr.Validation("url is required")
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		req.Title = req.URL
	}
	if len(req.Tags) > 0 && !m.backend.Capabilities().Tags {
		return nil, storeerr.Unsupported("%s stores do not support tags", m.backend.Kind())
	}

	if !req.AllowDuplicates {
		snap, err := m.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		if existing := snap.Nodes.FindByURL(req.URL); len(existing) > 0 {
			m.log.WithField("url", req.URL).Debug("Skipping duplicate bookmark")
			return &models.AddResult{Node: &existing[0], Duplicate: true}, nil
		}
	}

	return m.backend.Add(ctx, req)
}

// Edit renames and/or moves a node
func (m *Model) Edit(ctx context.Context, req models.EditRequest) (*models.EditResult, error) {
	if req.Ref.Empty() {
		return nil, storeerr.Validation("either id or url is required")
	}
	if !req.HasChanges() {
		return nil, storeerr.Validation("nothing to change: give new_title or new_folder_path")
	}
	return m.backend.Edit(ctx, req)
}

// Delete removes a node and, for folders, everything under it
func (m *Model) Delete(ctx context.Context, ref models.Ref, dryRun bool) (*models.DeleteResult, error) {
	if ref.Empty() {
		return nil, storeerr.Validation("either id or url is required")
	}
	return m.backend.Delete(ctx, ref, dryRun)
}

// Search matches query case-insensitively as a substring of the given
// fields. Hits rank title above url above tags; ties keep tree order. An
// empty query matches every bookmark.
func (m *Model) Search(ctx context.Context, query string, fields []string) ([]models.SearchHit, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if len(fields) == 0 {
		fields = []string{FieldTitle, FieldURL}
	}
	for _, f := range fields {
		if _, ok := fieldScores[f]; !ok {
			return nil, storeerr.Validation("unknown search field %q", f)
		}
	}

	snap, err := m.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	nodes, err := snap.Nodes.Bookmarks(nil)
	if err != nil {
		return nil, err
	}

	hits := []models.SearchHit{}
	for _, n := range nodes {
		best, bestField := 0, ""
		for _, f := range fields {
			if fieldScores[f] > best && matches(n, f, query) {
				best, bestField = fieldScores[f], f
			}
		}
		if best > 0 {
			hits = append(hits, models.SearchHit{Node: n, Score: best, Field: bestField})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return hits, nil
}

func matches(n models.BookmarkNode, field, query string) bool {
	switch field {
	case FieldTitle:
		return strings.Contains(strings.ToLower(n.Title), query)
	case FieldURL:
		return strings.Contains(strings.ToLower(n.URL), query)
	case FieldTags:
		for _, t := range n.Tags {
			if strings.Contains(strings.ToLower(t), query) {
				return true
			}
		}
	}
	return false
}

// DuplicateOptions returns the configured duplicate defaults
func (m *Model) DuplicateOptions() dedup.Options {
	return m.dedup
}

// FindDuplicates groups duplicate bookmarks
func (m *Model) FindDuplicates(ctx context.Context, opts dedup.Options) ([]models.DuplicateGroup, error) {
	if opts.Threshold < 0 || opts.Threshold > 1 {
		return nil, storeerr.Validation("threshold must be between 0 and 1, got %v", opts.Threshold)
	}
	snap, err := m.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	groups := dedup.FindDuplicates(snap.Nodes.All(), opts)
	if groups == nil {
		groups = []models.DuplicateGroup{}
	}
	return groups, nil
}

func (m *Model) requireTags() error {
	if !m.backend.Capabilities().Tags {
		return storeerr.Unsupported("%s stores do not support tags", m.backend.Kind())
	}
	return nil
}

// Tags lists tags with their usage counts
func (m *Model) Tags(ctx context.Context) ([]models.TagCount, error) {
	if err := m.requireTags(); err != nil {
		return nil, err
	}
	snap, err := m.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return dedup.TagUsage(snap.Nodes.All()), nil
}

// MergeTags replaces every tag in sources with target
func (m *Model) MergeTags(ctx context.Context, sources []string, target string, dryRun bool) (*models.TagOperationResult, error) {
	if err := m.requireTags(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(target) == "" {
		return nil, storeerr.Validation("target tag is required")
	}
	if len(sources) == 0 {
		return nil, storeerr.Validation("at least one source tag is required")
	}

	snap, err := m.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	changes := dedup.PlanMerge(snap.Nodes.All(), sources, target)
	return m.applyTagPlan(ctx, changes, nil, dryRun)
}

// CleanUpTags removes tags used by fewer than minCount bookmarks
func (m *Model) CleanUpTags(ctx context.Context, minCount int, dryRun bool) (*models.TagOperationResult, error) {
	if err := m.requireTags(); err != nil {
		return nil, err
	}
	if minCount < 1 {
		return nil, storeerr.Validation("min_count must be at least 1")
	}

	snap, err := m.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	changes, candidates := dedup.PlanCleanup(snap.Nodes.All(), minCount)
	return m.applyTagPlan(ctx, changes, candidates, dryRun)
}

func (m *Model) applyTagPlan(ctx context.Context, changes []models.TagChange, candidates []models.TagCount, dryRun bool) (*models.TagOperationResult, error) {
	if changes == nil {
		changes = []models.TagChange{}
	}
	result := &models.TagOperationResult{Changes: changes, Candidates: candidates, DryRun: dryRun}
	if dryRun || len(changes) == 0 {
		return result, nil
	}

	applied, err := m.backend.ApplyTagChanges(ctx, changes)
	if err != nil {
		return nil, err
	}
	result.Applied = applied
	m.log.WithFields(logrus.Fields{"changes": len(changes), "failed": applied.Failed}).Info("Applied tag plan")
	return result, nil
}

// Stats summarizes the store
func (m *Model) Stats(ctx context.Context) (*models.StoreStats, error) {
	snap, err := m.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	stats := &models.StoreStats{
		Tags:          len(snap.Nodes.TagSet()),
		AccessMethod:  snap.AccessMethod,
		PossiblyStale: snap.PossiblyStale,
	}
	urls := map[string]bool{}
	for _, n := range snap.Nodes.All() {
		if n.IsFolder() {
			stats.Folders++
		} else {
			stats.Bookmarks++
			urls[n.URL] = true
		}
		if d := snap.Nodes.Depth(n.ID); d > stats.MaxDepth {
			stats.MaxDepth = d
		}
	}
	stats.UniqueURLs = len(urls)
	return stats, nil
}
