// Package plans copies bookmarks between stores with a plan/apply protocol:
// the full list of entries to create is computed from both stores before
// the first write happens.
package plans

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prismon/mcp-bookmarks/internal/models"
	"github.com/prismon/mcp-bookmarks/pkg/storeerr"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Defaults used when a request or the engine config leaves them unset
const (
	DefaultLimit             = 1000
	DefaultMaxFailureDetails = 10
)

// ReasonCancelled marks entries never attempted because the context ended
const ReasonCancelled = "cancelled"

// Store is the part of a bookmark model the engine needs
type Store interface {
	Name() string
	ID() string
	List(ctx context.Context, folderID *int64) (*models.ListResult, error)
	Add(ctx context.Context, req models.AddRequest) (*models.AddResult, error)
}

// Options configures engine defaults
type Options struct {
	Limit             int
	MaxFailureDetails int
}

// Engine plans and applies syncs
type Engine struct {
	opts   Options
	logger *logrus.Entry
}

// NewEngine creates a sync engine
func NewEngine(opts Options, logger *logrus.Entry) *Engine {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.MaxFailureDetails <= 0 {
		opts.MaxFailureDetails = DefaultMaxFailureDetails
	}
	return &Engine{
		opts:   opts,
		logger: logger.WithField("component", "sync_engine"),
	}
}

// Sync copies bookmarks from source into target. The returned result always
// carries a terminal status; failures are reported in it rather than as an
// error.
func (e *Engine) Sync(ctx context.Context, req models.SyncRequest, source, target Store) *models.SyncResult {
	start := time.Now()
	result := &models.SyncResult{Status: models.SyncStatusPlanning, Source: source.Name(), Target: target.Name()}
	defer func() {
		result.DurationMs = time.Since(start).Milliseconds()
		e.logger.WithFields(logrus.Fields{
			"source":    result.Source,
			"target":    result.Target,
			"status":    result.Status,
			"attempted": result.Attempted,
			"failed":    result.Failed,
			"duration":  result.DurationMs,
		}).Info("Sync finished")
	}()

	if source.Name() == target.Name() || source.ID() == target.ID() {
		result.Status = models.SyncStatusNoop
		result.Message = "source and target are the same store"
		return result
	}

	plan, err := e.plan(ctx, req, source, target)
	if err != nil {
		result.Status = models.SyncStatusAborted
		result.Code = string(storeerr.CodeOf(err))
		result.Message = fmt.Sprintf("planning failed: %v", err)
		return result
	}
	result.Plan = plan
	result.Status = models.SyncStatusPlanned
	e.logger.WithFields(logrus.Fields{"entries": len(plan.Entries), "source_count": plan.SourceCount}).Debug("Sync planned")

	if req.DryRun {
		result.Message = fmt.Sprintf("dry run: %d bookmarks would be added", len(plan.Entries))
		return result
	}

	result.Status = models.SyncStatusApplying
	e.apply(ctx, req, plan, target, result)
	return result
}

// plan reads both stores concurrently and computes the entries to create
func (e *Engine) plan(ctx context.Context, req models.SyncRequest, source, target Store) (*models.SyncPlan, error) {
	var sourceList, targetList *models.ListResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if sourceList, err = source.List(gctx, nil); err != nil {
			return fmt.Errorf("reading source %s: %w", source.Name(), err)
		}
		return nil
	})
	if !req.AllowDuplicates {
		g.Go(func() error {
			var err error
			if targetList, err = target.List(gctx, nil); err != nil {
				return fmt.Errorf("reading target %s: %w", target.Name(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	existing := map[string]bool{}
	if targetList != nil {
		for _, n := range targetList.Nodes {
			existing[n.URL] = true
		}
	}

	limit := req.Limit
	if limit <= 0 {
		limit = e.opts.Limit
	}

	plan := &models.SyncPlan{Entries: []models.PlanEntry{}, SourceCount: len(sourceList.Nodes)}
	planned := map[string]bool{}
	for _, n := range sourceList.Nodes {
		entry := normalize(n)
		switch {
		case entry.URL == "":
			plan.SkippedNoURL++
			continue
		case existing[entry.URL]:
			plan.SkippedExisting++
			continue
		case !req.AllowDuplicates && planned[entry.URL]:
			plan.SkippedDuplicate++
			continue
		}
		if len(plan.Entries) >= limit {
			plan.Truncated = true
			break
		}
		planned[entry.URL] = true
		plan.Entries = append(plan.Entries, entry)
	}
	return plan, nil
}

func normalize(n models.BookmarkNode) models.PlanEntry {
	url := strings.TrimSpace(n.URL)
	title := strings.TrimSpace(n.Title)
	if title == "" {
		title = url
	}
	return models.PlanEntry{Title: title, URL: url}
}

// apply adds every entry to target, recording each outcome. It only stops
// early when ctx ends; the entries left are counted as failed.
func (e *Engine) apply(ctx context.Context, req models.SyncRequest, plan *models.SyncPlan, target Store, result *models.SyncResult) {
	maxDetails := req.MaxFailureDetails
	if maxDetails <= 0 {
		maxDetails = e.opts.MaxFailureDetails
	}
	record := func(o models.SyncOutcome) {
		if o.Succeeded {
			result.Succeeded++
			return
		}
		result.Failed++
		if len(result.Failures) < maxDetails {
			result.Failures = append(result.Failures, o)
		}
	}

	for i, entry := range plan.Entries {
		if err := ctx.Err(); err != nil {
			for _, rest := range plan.Entries[i:] {
				result.Attempted++
				record(models.SyncOutcome{Entry: rest, Reason: ReasonCancelled})
			}
			result.Status = models.SyncStatusAborted
			result.Message = fmt.Sprintf("cancelled after %d of %d entries", i, len(plan.Entries))
			return
		}

		result.Attempted++
		res, err := target.Add(ctx, models.AddRequest{
			Title:           entry.Title,
			URL:             entry.URL,
			FolderPath:      req.FolderPath,
			AllowDuplicates: req.AllowDuplicates,
		})
		if err != nil {
			o := models.SyncOutcome{Entry: entry, Code: string(storeerr.CodeOf(err)), Reason: err.Error()}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				o.Reason = ReasonCancelled
			}
			e.logger.WithError(err).WithField("url", entry.URL).Warn("Sync entry failed")
			record(o)
			continue
		}
		record(models.SyncOutcome{Entry: entry, Succeeded: true, Duplicate: res.Duplicate})
	}

	result.Status = models.SyncStatusDone
	result.Message = fmt.Sprintf("added %d of %d bookmarks", result.Succeeded, result.Attempted)
}
