package places

import (
	"context"
	"database/sql"
	"time"

	"github.com/prismon/mcp-bookmarks/internal/models"
	"github.com/prismon/mcp-bookmarks/pkg/lockread"
	"github.com/prismon/mcp-bookmarks/pkg/logger"
	"github.com/prismon/mcp-bookmarks/pkg/nodeset"
	"github.com/prismon/mcp-bookmarks/pkg/storeerr"
	"github.com/sirupsen/logrus"
)

// Store is a bookmark backend over one places.sqlite file. Each call opens
// the file, does its work and closes it again.
type Store struct {
	name         string
	path         string
	ownerRunning bool
	reader       *lockread.Reader
	now          func() time.Time
	log          *logrus.Entry
}

// NewStore creates a backend for the places database at path
func NewStore(name, path string, ownerRunning bool, reader *lockread.Reader) *Store {
	return &Store{
		name:         name,
		path:         path,
		ownerRunning: ownerRunning,
		reader:       reader,
		now:          time.Now,
		log:          logger.WithName("places").WithField("store", name),
	}
}

func (s *Store) ID() string {
	return s.path
}

func (s *Store) Kind() models.StoreKind {
	return models.StoreKindPlaces
}

func (s *Store) Capabilities() models.Capabilities {
	return models.Capabilities{Tags: true}
}

// read opens the store through the lock-tolerant reader and loads the tree
func (s *Store) read(ctx context.Context) (*tree, *lockread.Handle, error) {
	h, err := s.reader.OpenForRead(ctx, s.path, s.ownerRunning)
	if err != nil {
		return nil, nil, err
	}
	t, err := loadTree(ctx, h.DB())
	if err != nil {
		h.Close()
		return nil, nil, lockread.Classify(err, s.path)
	}
	return t, h, nil
}

// Snapshot reads the full tree
func (s *Store) Snapshot(ctx context.Context) (*nodeset.Snapshot, error) {
	t, h, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	s.log.WithFields(logrus.Fields{"access": h.AccessMethod, "nodes": t.set.Len()}).Debug("Read places snapshot")
	return &nodeset.Snapshot{Nodes: t.set, AccessMethod: string(h.AccessMethod), PossiblyStale: h.PossiblyStale}, nil
}

// write runs fn in one immediate transaction and returns the tree as it
// stands after commit
func (s *Store) write(ctx context.Context, fn func(w *writer) error) (*tree, error) {
	h, err := s.reader.OpenForWrite(ctx, s.path, s.ownerRunning)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	tx, err := h.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, lockread.Classify(err, s.path)
	}
	t, err := loadTree(ctx, tx)
	if err != nil {
		tx.Rollback()
		return nil, lockread.Classify(err, s.path)
	}

	w := &writer{ctx: ctx, tx: tx, tree: t, now: s.now().UnixMicro()}
	if err := fn(w); err != nil {
		tx.Rollback()
		return nil, lockread.Classify(err, s.path)
	}
	if err := tx.Commit(); err != nil {
		return nil, lockread.Classify(err, s.path)
	}

	after, err := loadTree(ctx, h.DB())
	if err != nil {
		return nil, lockread.Classify(err, s.path)
	}
	return after, nil
}

// Add inserts a bookmark under folderPath, creating missing folders and
// attaching tags to the url
func (s *Store) Add(ctx context.Context, req models.AddRequest) (*models.AddResult, error) {
	var id int64
	var created []string
	after, err := s.write(ctx, func(w *writer) error {
		parent, missing, err := w.ensureFolderPath(req.FolderPath)
		if err != nil {
			return err
		}
		created = missing

		var place int64
		id, place, err = w.addBookmark(parent, req.Title, req.URL)
		if err != nil {
			return err
		}
		if len(req.Tags) > 0 {
			merged := append(w.tree.tagsOf(place), req.Tags...)
			return w.setTags(place, merged)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"id": id, "url": req.URL}).Info("Added bookmark")
	n, _ := after.set.Get(id)
	return &models.AddResult{Node: &n, CreatedFolders: created}, nil
}

// plannedEdit is an edit validated against a tree
type plannedEdit struct {
	target  models.BookmarkNode
	result  *models.EditResult
	missing []string
}

func planEdit(t *tree, req models.EditRequest) (*plannedEdit, error) {
	target, err := t.set.Resolve(req.Ref)
	if err != nil {
		return nil, err
	}
	if target.IsRoot() {
		return nil, storeerr.Validation("root folder %q cannot be edited", target.Title)
	}

	p := &plannedEdit{
		target: target,
		result: &models.EditResult{DryRun: req.DryRun, OldTitle: target.Title, FromParentID: *target.ParentID},
	}
	if req.NewFolderPath != "" {
		existing, missing := t.lookupFolderPath(req.NewFolderPath)
		if len(missing) > 0 && !req.CreatesFolders() {
			return nil, storeerr.NotFound("destination folder %q does not exist", req.NewFolderPath)
		}
		if existing == target.ID || t.set.IsAncestor(target.ID, existing) {
			return nil, storeerr.Validation("cannot move %q into its own subtree", target.Title)
		}
		if len(missing) > 0 || existing != *target.ParentID {
			p.result.Moved = true
			p.result.ToParentID = existing
			p.result.CreatedFolders = missing
			p.missing = missing
		}
	}
	if req.NewTitle != nil && *req.NewTitle != "" && *req.NewTitle != target.Title {
		p.result.Renamed = true
	}
	return p, nil
}

// Edit renames and/or moves a node. Dry runs read through the lock-tolerant
// path and never write.
func (s *Store) Edit(ctx context.Context, req models.EditRequest) (*models.EditResult, error) {
	if req.DryRun {
		t, h, err := s.read(ctx)
		if err != nil {
			return nil, err
		}
		defer h.Close()

		p, err := planEdit(t, req)
		if err != nil {
			return nil, err
		}
		p.result.Node = p.target
		if p.result.Renamed {
			p.result.Node.Title = *req.NewTitle
		}
		return p.result, nil
	}

	var p *plannedEdit
	after, err := s.write(ctx, func(w *writer) error {
		var err error
		if p, err = planEdit(w.tree, req); err != nil {
			return err
		}
		if p.result.Moved {
			dest, _, err := w.ensureFolderPath(req.NewFolderPath)
			if err != nil {
				return err
			}
			if err := w.move(p.target.ID, dest); err != nil {
				return err
			}
			p.result.ToParentID = dest
		}
		if p.result.Renamed {
			if err := w.rename(p.target.ID, *req.NewTitle); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if p.result.Renamed || p.result.Moved {
		s.log.WithFields(logrus.Fields{"id": p.target.ID, "renamed": p.result.Renamed, "moved": p.result.Moved}).Info("Edited node")
	}
	p.result.Node, _ = after.set.Get(p.target.ID)
	return p.result, nil
}

// Delete removes a node and its subtree. Tags left on urls that are no
// longer bookmarked are dropped too.
func (s *Store) Delete(ctx context.Context, ref models.Ref, dryRun bool) (*models.DeleteResult, error) {
	if dryRun {
		t, h, err := s.read(ctx)
		if err != nil {
			return nil, err
		}
		defer h.Close()

		target, err := t.set.Resolve(ref)
		if err != nil {
			return nil, err
		}
		if target.IsRoot() {
			return nil, storeerr.Validation("root folder %q cannot be deleted", target.Title)
		}
		return &models.DeleteResult{Node: target, Removed: len(t.set.Subtree(target.ID)), DryRun: true}, nil
	}

	result := &models.DeleteResult{}
	_, err := s.write(ctx, func(w *writer) error {
		target, err := w.tree.set.Resolve(ref)
		if err != nil {
			return err
		}
		if target.IsRoot() {
			return storeerr.Validation("root folder %q cannot be deleted", target.Title)
		}
		result.Node = target
		result.Removed = len(w.tree.set.Subtree(target.ID))

		_, places, err := w.removeSubtree(target.ID)
		if err != nil {
			return err
		}
		if err := w.dropOrphanTags(places); err != nil {
			return err
		}
		return w.dropEmptyTagFolders()
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"id": result.Node.ID, "removed": result.Removed}).Info("Deleted node")
	return result, nil
}

// ApplyTagChanges replaces tag sets one bookmark at a time. Each change runs
// in its own transaction; a failed change is recorded and the batch goes on.
func (s *Store) ApplyTagChanges(ctx context.Context, changes []models.TagChange) (*models.BatchResult, error) {
	h, err := s.reader.OpenForWrite(ctx, s.path, s.ownerRunning)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	result := &models.BatchResult{}
	for _, change := range changes {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Attempted++
		if err := s.applyTagChange(ctx, h.DB(), change); err != nil {
			err = lockread.Classify(err, s.path)
			result.Failed++
			result.Failures = append(result.Failures, models.ItemFailure{
				NodeID: change.NodeID,
				Code:   string(storeerr.CodeOf(err)),
				Reason: err.Error(),
			})
			s.log.WithError(err).WithField("id", change.NodeID).Warn("Tag change failed")
			continue
		}
		result.Succeeded++
	}

	s.log.WithFields(logrus.Fields{"attempted": result.Attempted, "failed": result.Failed}).Info("Applied tag changes")
	return result, nil
}

func (s *Store) applyTagChange(ctx context.Context, db *sql.DB, change models.TagChange) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	t, err := loadTree(ctx, tx)
	if err != nil {
		tx.Rollback()
		return err
	}

	n, ok := t.set.Get(change.NodeID)
	if !ok || n.IsFolder() {
		tx.Rollback()
		return storeerr.NotFound("bookmark %d not found", change.NodeID)
	}
	place, ok := t.placeOf(change.NodeID)
	if !ok {
		tx.Rollback()
		return storeerr.InvalidStructure("bookmark %d has no place", change.NodeID)
	}

	w := &writer{ctx: ctx, tx: tx, tree: t, now: s.now().UnixMicro()}
	if err := w.setTags(place, change.New); err != nil {
		tx.Rollback()
		return err
	}
	if err := w.dropEmptyTagFolders(); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
