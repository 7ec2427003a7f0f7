package treefile

import (
	"context"
	"time"

	"github.com/prismon/mcp-bookmarks/internal/models"
	"github.com/prismon/mcp-bookmarks/pkg/logger"
	"github.com/prismon/mcp-bookmarks/pkg/nodeset"
	"github.com/prismon/mcp-bookmarks/pkg/storeerr"
	"github.com/sirupsen/logrus"
)

// AccessFile is reported for snapshots read straight from the JSON file
const AccessFile = "direct"

// Store is a bookmark backend over one Bookmarks file. Every call re-reads
// the file; every mutation rewrites it in full.
type Store struct {
	name         string
	path         string
	ownerRunning bool
	now          func() time.Time
	log          *logrus.Entry
}

// NewStore creates a backend for the Bookmarks file at path
func NewStore(name, path string, ownerRunning bool) *Store {
	return &Store{
		name:         name,
		path:         path,
		ownerRunning: ownerRunning,
		now:          time.Now,
		log:          logger.WithName("treefile").WithField("store", name),
	}
}

func (s *Store) ID() string {
	return s.path
}

func (s *Store) Kind() models.StoreKind {
	return models.StoreKindChromium
}

// Capabilities reports no tag support; the file format has no tags
func (s *Store) Capabilities() models.Capabilities {
	return models.Capabilities{Tags: false}
}

// Snapshot parses the file into a node set
func (s *Store) Snapshot(ctx context.Context) (*nodeset.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := Load(s.path)
	if err != nil {
		return nil, err
	}
	set, err := doc.NodeSet()
	if err != nil {
		return nil, err
	}
	return &nodeset.Snapshot{Nodes: set, AccessMethod: AccessFile, PossiblyStale: s.ownerRunning}, nil
}

func (s *Store) checkWritable() error {
	if s.ownerRunning {
		return storeerr.Locked("bookmarks file %s belongs to a running browser; close it before writing", s.path)
	}
	return nil
}

// Add appends a bookmark under folderPath, creating missing folders
func (s *Store) Add(ctx context.Context, req models.AddRequest) (*models.AddResult, error) {
	if err := s.checkWritable(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := Load(s.path)
	if err != nil {
		return nil, err
	}

	now := s.now()
	parent, created := doc.EnsureFolderPath(req.FolderPath, now)
	n := doc.AddBookmark(parent, req.Title, req.URL, now)

	if err := doc.Save(s.path); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"id": n.ID, "url": n.URL, "parent": parent.ID}).Info("Added bookmark")
	return &models.AddResult{Node: nodeFor(doc, n.ID), CreatedFolders: created}, nil
}

// Edit renames and/or moves a node. Dry runs validate and report without writing.
func (s *Store) Edit(ctx context.Context, req models.EditRequest) (*models.EditResult, error) {
	if !req.DryRun {
		if err := s.checkWritable(); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := Load(s.path)
	if err != nil {
		return nil, err
	}
	set, err := doc.NodeSet()
	if err != nil {
		return nil, err
	}

	target, err := set.Resolve(req.Ref)
	if err != nil {
		return nil, err
	}
	if target.IsRoot() {
		return nil, storeerr.Validation("root folder %q cannot be edited", target.Title)
	}

	result := &models.EditResult{DryRun: req.DryRun, OldTitle: target.Title, FromParentID: *target.ParentID}
	now := s.now()

	var dest *Node
	if req.NewFolderPath != "" {
		existing, missing := doc.LookupFolderPath(req.NewFolderPath)
		if len(missing) > 0 && !req.CreatesFolders() {
			return nil, storeerr.NotFound("destination folder %q does not exist", req.NewFolderPath)
		}
		if existing.ID == target.ID || set.IsAncestor(target.ID, existing.ID) {
			return nil, storeerr.Validation("cannot move %q into its own subtree", target.Title)
		}
		result.CreatedFolders = missing
		result.ToParentID = existing.ID
		result.Moved = len(missing) > 0 || existing.ID != *target.ParentID
		dest = existing
	}

	if req.NewTitle != nil && *req.NewTitle != "" && *req.NewTitle != target.Title {
		result.Renamed = true
	}

	if req.DryRun || (!result.Renamed && !result.Moved) {
		result.Node = target
		if result.Renamed {
			result.Node.Title = *req.NewTitle
		}
		if !result.Moved {
			result.ToParentID = 0
			result.CreatedFolders = nil
		}
		return result, nil
	}

	// Move first so the destination resolves against the tree the plan saw
	if result.Moved {
		dest, _ = doc.EnsureFolderPath(req.NewFolderPath, now)
		if err := doc.Move(target.ID, dest, now); err != nil {
			return nil, err
		}
		result.ToParentID = dest.ID
	}
	if result.Renamed {
		if err := doc.Rename(target.ID, *req.NewTitle); err != nil {
			return nil, err
		}
	}

	if err := doc.Save(s.path); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"id": target.ID, "renamed": result.Renamed, "moved": result.Moved}).Info("Edited node")
	result.Node = *nodeFor(doc, target.ID)
	return result, nil
}

// Delete removes a node and its subtree
func (s *Store) Delete(ctx context.Context, ref models.Ref, dryRun bool) (*models.DeleteResult, error) {
	if !dryRun {
		if err := s.checkWritable(); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := Load(s.path)
	if err != nil {
		return nil, err
	}
	set, err := doc.NodeSet()
	if err != nil {
		return nil, err
	}

	target, err := set.Resolve(ref)
	if err != nil {
		return nil, err
	}
	if target.IsRoot() {
		return nil, storeerr.Validation("root folder %q cannot be deleted", target.Title)
	}

	result := &models.DeleteResult{Node: target, Removed: len(set.Subtree(target.ID)), DryRun: dryRun}
	if dryRun {
		return result, nil
	}

	removed, err := doc.Remove(target.ID, s.now())
	if err != nil {
		return nil, err
	}
	if err := doc.Save(s.path); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"id": target.ID, "removed": removed}).Info("Deleted node")
	result.Removed = removed
	return result, nil
}

// ApplyTagChanges is unsupported for this store kind
func (s *Store) ApplyTagChanges(ctx context.Context, changes []models.TagChange) (*models.BatchResult, error) {
	return nil, storeerr.Unsupported("%s stores do not support tags", models.StoreKindChromium)
}

// nodeFor returns the normalized view of node id after a mutation
func nodeFor(doc *Document, id int64) *models.BookmarkNode {
	set, err := doc.NodeSet()
	if err != nil {
		return nil
	}
	n, ok := set.Get(id)
	if !ok {
		return nil
	}
	return &n
}
