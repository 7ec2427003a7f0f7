package bookmarks

import (
	"context"
	"os"

	"github.com/prismon/mcp-bookmarks/internal/models"
	"github.com/prismon/mcp-bookmarks/pkg/dedup"
	"github.com/prismon/mcp-bookmarks/pkg/home"
	"github.com/prismon/mcp-bookmarks/pkg/liveness"
	"github.com/prismon/mcp-bookmarks/pkg/lockread"
	"github.com/prismon/mcp-bookmarks/pkg/logger"
	"github.com/prismon/mcp-bookmarks/pkg/places"
	"github.com/prismon/mcp-bookmarks/pkg/storeerr"
	"github.com/prismon/mcp-bookmarks/pkg/treefile"
)

// Catalog resolves configured store names to models
type Catalog struct {
	stores  []home.StoreConfig
	checker liveness.Checker
	reader  *lockread.Reader
	dedup   dedup.Options
}

// NewCatalog creates a catalog over stores. checker decides whether each
// store's owner is running at the time it is opened.
func NewCatalog(stores []home.StoreConfig, checker liveness.Checker, reader *lockread.Reader, dupOpts dedup.Options) *Catalog {
	return &Catalog{stores: stores, checker: checker, reader: reader, dedup: dupOpts}
}

// Stores returns the configured stores in configuration order
func (c *Catalog) Stores() []home.StoreConfig {
	return append([]home.StoreConfig(nil), c.stores...)
}

// Lookup returns the configuration of the named store
func (c *Catalog) Lookup(name string) (home.StoreConfig, error) {
	for _, s := range c.stores {
		if s.Name == name {
			return s, nil
		}
	}
	return home.StoreConfig{}, storeerr.NotFound("store %q is not configured", name)
}

// ownerRunning asks the checker about the store's owner. If the process
// table cannot be read the owner is assumed to be running, which keeps
// reads working and refuses writes.
func (c *Catalog) ownerRunning(ctx context.Context, cfg home.StoreConfig) bool {
	if cfg.AssumeOwnerRunning {
		return true
	}
	names := cfg.OwnerProcesses
	if len(names) == 0 {
		names = liveness.DefaultOwners(cfg.Kind)
	}
	running, err := c.checker.OwnerRunning(ctx, names)
	if err != nil {
		logger.WithName("catalog").WithError(err).WithField("store", cfg.Name).Warn("Owner check failed; assuming owner is running")
		return true
	}
	return running
}

// Open returns a model for the named store
func (c *Catalog) Open(ctx context.Context, name string) (*Model, error) {
	cfg, err := c.Lookup(name)
	if err != nil {
		return nil, err
	}
	return c.open(ctx, cfg)
}

func (c *Catalog) open(ctx context.Context, cfg home.StoreConfig) (*Model, error) {
	running := c.ownerRunning(ctx, cfg)

	var backend Backend
	switch cfg.Kind {
	case models.StoreKindPlaces:
		backend = places.NewStore(cfg.Name, cfg.Path, running, c.reader)
	case models.StoreKindChromium:
		backend = treefile.NewStore(cfg.Name, cfg.Path, running)
	default:
		return nil, storeerr.Validation("store %q has unknown kind %q", cfg.Name, cfg.Kind)
	}
	return NewModel(cfg.Name, backend, c.dedup), nil
}

// Describe reports every configured store with its current owner state
func (c *Catalog) Describe(ctx context.Context) []models.StoreInfo {
	out := make([]models.StoreInfo, 0, len(c.stores))
	for _, cfg := range c.stores {
		info := models.StoreInfo{Name: cfg.Name, Kind: cfg.Kind, Path: cfg.Path}
		if _, err := os.Stat(cfg.Path); err == nil {
			info.Exists = true
		}
		info.OwnerRunning = c.ownerRunning(ctx, cfg)
		info.Capabilities = models.Capabilities{Tags: cfg.Kind == models.StoreKindPlaces}
		out = append(out, info)
	}
	return out
}
